// Package server implements the bulk data-export engine.  It streams the
// experiments a user owns, each experiment's time-series points in columnar
// batches, and raw blob bytes in offset-tagged chunks, all against a fixed
// read snapshot.  Transport framing, authentication and the storage engine
// itself are collaborators reached through the interfaces in source.go.
package server

import (
	"context"
	"time"

	units "github.com/docker/go-units"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/izio7/tensorboard/src/export"
	"github.com/izio7/tensorboard/src/internal/blobstore"
	"github.com/izio7/tensorboard/src/internal/errors"
	"github.com/izio7/tensorboard/src/internal/grpcutil"
	"github.com/izio7/tensorboard/src/internal/log"
	"github.com/izio7/tensorboard/src/internal/stream"
)

const (
	// experimentsPerBatch bounds the number of experiment records in one
	// StreamExperiments response.
	experimentsPerBatch = 64
	// blobChunkSize is the payload size of a blob chunk.  It is well under
	// grpcutil.MaxMsgPayloadSize so a chunk always fits in one message.
	blobChunkSize = 8 * units.MiB
)

// APIServer implements the export engine.  It is safe for concurrent use:
// each call is a single sequential flow over its own storage cursor, and
// consistency comes from the snapshot value threaded through every read, not
// from locking.
type APIServer struct {
	Store Store
	Blobs blobstore.Client
	Auth  Authorizer
}

// StreamExperiments streams the experiments owned by the effective user as
// of the request's snapshot, populated per the request's mask.  Ordering
// across the stream is unspecified; every non-final batch is non-empty.  A
// user with no experiments yields an empty stream, not an error.
func (a *APIServer) StreamExperiments(request *export.StreamExperimentsRequest, srv export.ExperimentsServer) (retErr error) {
	ctx, done := log.SpanContext(srv.Context(), "streamExperiments")
	defer done(log.Errorp(&retErr))
	asOf, user, err := a.resolveSession(ctx, request.ReadTimestamp, request.UserID)
	if err != nil {
		return err
	}
	ids, err := a.Auth.OwnedExperimentIDs(ctx, asOf, user)
	if err != nil {
		return asTransient(err, "list owned experiments")
	}
	if limit := request.Limit; limit > 0 && int64(len(ids)) > limit {
		ids = ids[:limit]
	}
	log.Debug(ctx, "streaming experiments", zap.String("user", user), zap.Int("count", len(ids)))
	for start := 0; start < len(ids); start += experimentsPerBatch {
		if err := ctx.Err(); err != nil {
			return errors.EnsureStack(err)
		}
		end := min(start+experimentsPerBatch, len(ids))
		exps, err := a.Store.GetExperiments(ctx, asOf, ids[start:end])
		if err != nil {
			return asTransient(err, "get experiments")
		}
		// Owned ids absent from the store at this snapshot are skipped; a
		// batch is never sent empty.
		if len(exps) == 0 {
			continue
		}
		resp := &export.StreamExperimentsResponse{Experiments: make([]*export.Experiment, len(exps))}
		for i, e := range exps {
			resp.Experiments[i] = projectExperiment(e, request.ExperimentsMask)
		}
		if err := srv.Send(resp); err != nil {
			return errors.Wrap(err, "send experiments batch")
		}
		experimentsStreamedMetric.Add(float64(len(exps)))
	}
	return nil
}

// GetExperiment returns one experiment's record, projected per the request's
// mask, on top of a one-off snapshot resolution.
func (a *APIServer) GetExperiment(ctx context.Context, request *export.GetExperimentRequest) (*export.Experiment, error) {
	if request.ExperimentID == "" {
		return nil, status.Error(codes.InvalidArgument, "no experiment id provided")
	}
	asOf := resolveSnapshot(time.Time{})
	e, err := a.Store.GetExperiment(ctx, asOf, request.ExperimentID)
	if err != nil {
		return nil, asTransient(err, "get experiment")
	}
	return projectExperiment(e, request.ExperimentsMask), nil
}

// StreamExperimentData streams every (run, tag) pair's points of one
// experiment as of the request's snapshot.  Each batch carries one tag's
// metadata and a columnar batch of its one payload kind; a tag's point set
// may span several batches, which concatenate in emission order to the
// complete step-ascending point set.  An experiment with no data yields an
// empty stream; an unknown experiment is NotFound.
func (a *APIServer) StreamExperimentData(request *export.StreamExperimentDataRequest, srv export.ExperimentDataServer) (retErr error) {
	ctx, done := log.SpanContext(srv.Context(), "streamExperimentData", zap.String("experiment", request.ExperimentID))
	defer done(log.Errorp(&retErr))
	if request.ExperimentID == "" {
		return status.Error(codes.InvalidArgument, "no experiment id provided")
	}
	asOf := resolveSnapshot(request.ReadTimestamp)
	// Distinguish "experiment does not exist at this snapshot" (NotFound)
	// from "exists but has no data" (empty stream) before emitting anything.
	if _, err := a.Store.GetExperiment(ctx, asOf, request.ExperimentID); err != nil {
		return asTransient(err, "check experiment")
	}
	tags, err := a.Store.ListTags(ctx, asOf, request.ExperimentID)
	if err != nil {
		return asTransient(err, "list tags")
	}
	for _, tag := range tags {
		if err := a.streamTagData(ctx, srv, asOf, request.ExperimentID, tag); err != nil {
			return err
		}
	}
	return nil
}

func (a *APIServer) streamTagData(ctx context.Context, srv export.ExperimentDataServer, asOf time.Time, experimentID string, tag *Tag) error {
	it := a.Store.ListPoints(ctx, asOf, experimentID, tag.Run, tag.Name)
	buf := newPointBuffer(tag.Metadata.DataClass)
	send := func() error {
		data := buf.take()
		pointsStreamedMetric.Add(float64(data.Len()))
		return errors.Wrap(srv.Send(&export.StreamExperimentDataResponse{
			RunName:     tag.Run,
			TagName:     tag.Name,
			TagMetadata: tag.Metadata,
			Points:      data,
		}), "send point batch")
	}
	if err := stream.ForEach[Point](ctx, it, func(p Point) error {
		if err := ctx.Err(); err != nil {
			return errors.EnsureStack(err)
		}
		buf.add(p)
		if buf.full() {
			return send()
		}
		return nil
	}); err != nil {
		return asTransient(err, "stream points")
	}
	// A tag with no points in scope emits no batches at all.
	if buf.empty() {
		return nil
	}
	return send()
}

// StreamBlobData streams one blob's bytes as a sequence of chunks that tile
// the blob, terminated by exactly one chunk with FinalChunk set.  The final
// chunk carries the store's whole-object checksum when the store can supply
// one; the engine never computes a fallback.  On a mid-stream read failure
// the stream is aborted without a final chunk, which is the client-visible
// corruption signal.
func (a *APIServer) StreamBlobData(request *export.StreamBlobDataRequest, srv export.BlobDataServer) (retErr error) {
	ctx, done := log.SpanContext(srv.Context(), "streamBlobData", zap.String("blob", request.BlobID))
	defer done(log.Errorp(&retErr))
	if request.BlobID == "" {
		return status.Error(codes.InvalidArgument, "no blob id provided")
	}
	attrs, err := a.Blobs.Attributes(ctx, request.BlobID)
	if err != nil {
		return asTransient(err, "get blob attributes")
	}
	if attrs.Size == 0 {
		return errors.Wrap(srv.Send(&export.BlobChunk{
			FinalChunk:  true,
			FinalCRC32C: attrs.CRC32C,
		}), "send empty blob chunk")
	}
	r, err := a.Blobs.Open(ctx, request.BlobID)
	if err != nil {
		return asTransient(err, "open blob")
	}
	defer errors.Close(&retErr, r, "close blob reader")
	var offset int64
	var finalSent bool
	buf := make([]byte, blobChunkSize)
	if _, err := grpcutil.ChunkReader(r, buf, func(chunk []byte) error {
		if err := ctx.Err(); err != nil {
			return errors.EnsureStack(err)
		}
		if finalSent {
			return status.Errorf(codes.DataLoss, "blob %q has bytes past its advertised size %d", request.BlobID, attrs.Size)
		}
		out := &export.BlobChunk{
			Data:   chunk,
			Offset: offset,
		}
		if offset+int64(len(chunk)) == attrs.Size {
			finalSent = true
			out.FinalChunk = true
			out.FinalCRC32C = attrs.CRC32C
		}
		if err := srv.Send(out); err != nil {
			return errors.Wrap(err, "send blob chunk")
		}
		offset += int64(len(chunk))
		blobBytesStreamedMetric.Add(float64(len(chunk)))
		return nil
	}); err != nil {
		return asTransient(err, "read blob")
	}
	if offset != attrs.Size {
		// The store delivered a different byte count than it advertised; no
		// final chunk was emitted.
		return status.Errorf(codes.DataLoss, "blob %q delivered %d of %d bytes", request.BlobID, offset, attrs.Size)
	}
	return nil
}
