// Package export defines the types exchanged with the bulk data-export
// engine.  The wire protocol (gRPC framing, legacy field encodings) is the
// transport layer's concern; these are the canonical in-process
// representations the engine produces and consumes.
package export

import (
	"context"
	"time"
)

// DataClass identifies the payload kind of a tag.  A tag holds exactly one
// data class for its entire lifetime.
type DataClass int32

const (
	DataClassUnknown DataClass = iota
	DataClassScalar
	DataClassTensor
	DataClassBlobSequence
)

func (dc DataClass) String() string {
	switch dc {
	case DataClassScalar:
		return "SCALAR"
	case DataClassTensor:
		return "TENSOR"
	case DataClassBlobSequence:
		return "BLOB_SEQUENCE"
	default:
		return "UNKNOWN"
	}
}

// Experiment is the metadata record for one experiment.  ID is always
// populated; the optional fields are populated according to the caller's
// ExperimentMask.  Experiments are created by the ingestion path and are
// read-only to the export engine.
type Experiment struct {
	// ID is the opaque, permanent, server-assigned experiment identifier.
	ID string

	Name        string
	Description string
	CreateTime  time.Time

	NumRuns          int64
	NumTags          int64
	NumScalars       int64
	NumTensors       int64
	NumBlobSequences int64
}

// ExperimentMask selects which optional Experiment fields must be populated.
// The mask is a lower bound: the server may populate additional fields
// opportunistically, and callers must not rely on unmasked fields being
// absent.  The mask governs projection only; it never filters experiments.
type ExperimentMask struct {
	Name        bool
	Description bool
	CreateTime  bool

	NumRuns          bool
	NumTags          bool
	NumScalars       bool
	NumTensors       bool
	NumBlobSequences bool
}

// IsZero reports whether no field is selected.  A zero mask is the legacy
// "identifier list only" mode.
func (m *ExperimentMask) IsZero() bool {
	return m == nil || *m == ExperimentMask{}
}

// TagMetadata is the fixed descriptor carried by every batch of a tag's
// points.
type TagMetadata struct {
	DataClass   DataClass
	DisplayName string
	Description string
}

// ScalarPoints is a columnar batch of scalar points.  Element i of each
// column describes one point.
type ScalarPoints struct {
	Steps     []int64
	WallTimes []time.Time
	Values    []float64
}

// TensorPoints is a columnar batch of tensor points.  Values holds one
// serialized tensor per point.
type TensorPoints struct {
	Steps     []int64
	WallTimes []time.Time
	Values    [][]byte
}

// BlobSequencePoints is a columnar batch of blob-sequence points.  Values
// holds, per point, the ordered blob IDs referenced at that step; a point may
// reference zero blobs.  Blob bytes are never embedded; fetch them with
// StreamBlobData.
type BlobSequencePoints struct {
	Steps     []int64
	WallTimes []time.Time
	Values    [][]string
}

// PointData holds exactly one of the three columnar batch kinds.  Construct
// it with one of the NewXXXPointData functions, which enforce that exactly
// one variant is set and that the columns have equal length.
type PointData struct {
	scalar       *ScalarPoints
	tensor       *TensorPoints
	blobSequence *BlobSequencePoints
}

func checkColumns(kind string, steps, wallTimes, values int) {
	if steps != wallTimes || steps != values {
		panic("export: ragged " + kind + " point columns")
	}
}

// NewScalarPointData returns a PointData holding a scalar batch.
func NewScalarPointData(p *ScalarPoints) PointData {
	checkColumns("scalar", len(p.Steps), len(p.WallTimes), len(p.Values))
	return PointData{scalar: p}
}

// NewTensorPointData returns a PointData holding a tensor batch.
func NewTensorPointData(p *TensorPoints) PointData {
	checkColumns("tensor", len(p.Steps), len(p.WallTimes), len(p.Values))
	return PointData{tensor: p}
}

// NewBlobSequencePointData returns a PointData holding a blob-sequence batch.
func NewBlobSequencePointData(p *BlobSequencePoints) PointData {
	checkColumns("blob sequence", len(p.Steps), len(p.WallTimes), len(p.Values))
	return PointData{blobSequence: p}
}

// Scalar returns the scalar batch, or nil if this PointData holds another
// kind.
func (d PointData) Scalar() *ScalarPoints { return d.scalar }

// Tensor returns the tensor batch, or nil if this PointData holds another
// kind.
func (d PointData) Tensor() *TensorPoints { return d.tensor }

// BlobSequence returns the blob-sequence batch, or nil if this PointData
// holds another kind.
func (d PointData) BlobSequence() *BlobSequencePoints { return d.blobSequence }

// DataClass returns the kind of batch held.
func (d PointData) DataClass() DataClass {
	switch {
	case d.scalar != nil:
		return DataClassScalar
	case d.tensor != nil:
		return DataClassTensor
	case d.blobSequence != nil:
		return DataClassBlobSequence
	default:
		return DataClassUnknown
	}
}

// Len returns the number of points in the batch.
func (d PointData) Len() int {
	switch {
	case d.scalar != nil:
		return len(d.scalar.Steps)
	case d.tensor != nil:
		return len(d.tensor.Steps)
	case d.blobSequence != nil:
		return len(d.blobSequence.Steps)
	default:
		return 0
	}
}

// StreamExperimentsRequest asks for the experiments owned by a user as of a
// snapshot.
type StreamExperimentsRequest struct {
	// ReadTimestamp fixes the read snapshot.  Zero means "now"; the resolved
	// value is echoed back so the caller can reuse it on related calls.
	// Consistency across calls is the caller's contract: the engine holds no
	// session state.
	ReadTimestamp time.Time
	// UserID overrides the caller's identity.  Reserved for trusted internal
	// callers; authorization of the override is the authorizer's concern.
	UserID string
	// Limit, when > 0, bounds the total number of experiments returned
	// across the whole stream.
	Limit int64
	// ExperimentsMask selects the optional fields to populate.  A nil or
	// zero mask selects none (legacy identifier-only mode).
	ExperimentsMask *ExperimentMask
}

// StreamExperimentsResponse is one batch of the experiment stream.  A
// non-final batch always contains at least one experiment.  Ordering across
// the stream is unspecified.
type StreamExperimentsResponse struct {
	Experiments []*Experiment
}

// ExperimentIDs renders the batch in the legacy bare-identifier form.  The
// transport layer uses this when the caller supplied no mask.
func (r *StreamExperimentsResponse) ExperimentIDs() []string {
	ids := make([]string, len(r.Experiments))
	for i, e := range r.Experiments {
		ids[i] = e.ID
	}
	return ids
}

// GetExperimentRequest asks for a single experiment's projected record.
type GetExperimentRequest struct {
	ExperimentID    string
	ExperimentsMask *ExperimentMask
}

// StreamExperimentDataRequest asks for every (run, tag) pair's points in an
// experiment as of a snapshot.
type StreamExperimentDataRequest struct {
	ExperimentID  string
	ReadTimestamp time.Time
}

// StreamExperimentDataResponse is one batch of one (run, tag) pair's points.
// A tag's full point set may span several batches; concatenating its batches
// in emission order reconstructs the step-ascending point set.  Batches for
// different tags may interleave.
type StreamExperimentDataResponse struct {
	RunName     string
	TagName     string
	TagMetadata *TagMetadata
	Points      PointData
}

// StreamBlobDataRequest asks for the raw bytes of one blob.
type StreamBlobDataRequest struct {
	BlobID string
}

// BlobChunk is one contiguous slice of a blob's bytes.  Chunks tile the blob
// in emission order with no gaps or overlaps; Offset equals the sum of the
// lengths of all prior chunks and is a redundant integrity aid.  Exactly one
// chunk in a successful stream has FinalChunk set; it may carry zero bytes of
// data.  FinalCRC32C, when non-nil on the final chunk, is the Castagnoli
// CRC-32 of the entire blob; its absence is not an error.
type BlobChunk struct {
	Data        []byte
	Offset      int64
	FinalChunk  bool
	FinalCRC32C *uint32
}

// ExperimentsServer is the sending side of a StreamExperiments call.  The
// transport layer implements it over the wire stream.
type ExperimentsServer interface {
	Send(*StreamExperimentsResponse) error
	Context() context.Context
}

// ExperimentDataServer is the sending side of a StreamExperimentData call.
type ExperimentDataServer interface {
	Send(*StreamExperimentDataResponse) error
	Context() context.Context
}

// BlobDataServer is the sending side of a StreamBlobData call.
type BlobDataServer interface {
	Send(*BlobChunk) error
	Context() context.Context
}
