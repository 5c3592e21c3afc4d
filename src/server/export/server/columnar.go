package server

import (
	"time"

	units "github.com/docker/go-units"

	"github.com/izio7/tensorboard/src/export"
)

const (
	// pointsPerBatch bounds the number of points in one columnar batch.
	pointsPerBatch = 1000
	// tensorBytesPerBatch bounds the serialized tensor payload of one batch,
	// since individual tensors can be large.  It is well under
	// grpcutil.MaxMsgPayloadSize so the transport never has to split a
	// batch.
	tensorBytesPerBatch = 4 * units.MiB
)

// pointBuffer accumulates points of a single tag into parallel columns and
// produces bounded columnar batches of the tag's one data class.
type pointBuffer struct {
	dataClass export.DataClass

	steps     []int64
	wallTimes []time.Time
	scalars   []float64
	tensors   [][]byte
	blobSeqs  [][]string

	tensorBytes int
}

func newPointBuffer(dataClass export.DataClass) *pointBuffer {
	return &pointBuffer{dataClass: dataClass}
}

func (b *pointBuffer) add(p Point) {
	b.steps = append(b.steps, p.Step)
	b.wallTimes = append(b.wallTimes, p.WallTime)
	switch b.dataClass {
	case export.DataClassScalar:
		b.scalars = append(b.scalars, p.Scalar)
	case export.DataClassTensor:
		b.tensors = append(b.tensors, p.Tensor)
		b.tensorBytes += len(p.Tensor)
	case export.DataClassBlobSequence:
		b.blobSeqs = append(b.blobSeqs, p.BlobIDs)
	default:
		panic("point buffer has no data class")
	}
}

func (b *pointBuffer) empty() bool {
	return len(b.steps) == 0
}

func (b *pointBuffer) full() bool {
	if len(b.steps) >= pointsPerBatch {
		return true
	}
	return b.dataClass == export.DataClassTensor && b.tensorBytes >= tensorBytesPerBatch
}

// take returns the buffered points as a batch of the tag's data class and
// resets the buffer.
func (b *pointBuffer) take() export.PointData {
	var data export.PointData
	switch b.dataClass {
	case export.DataClassScalar:
		data = export.NewScalarPointData(&export.ScalarPoints{
			Steps:     b.steps,
			WallTimes: b.wallTimes,
			Values:    b.scalars,
		})
	case export.DataClassTensor:
		data = export.NewTensorPointData(&export.TensorPoints{
			Steps:     b.steps,
			WallTimes: b.wallTimes,
			Values:    b.tensors,
		})
	case export.DataClassBlobSequence:
		data = export.NewBlobSequencePointData(&export.BlobSequencePoints{
			Steps:     b.steps,
			WallTimes: b.wallTimes,
			Values:    b.blobSeqs,
		})
	}
	*b = pointBuffer{dataClass: b.dataClass}
	return data
}
