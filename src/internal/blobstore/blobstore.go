// Package blobstore provides access to the large immutable binary objects
// referenced by blob-sequence points.  Blobs are written once by the
// ingestion path and read by the export engine.
//
// A client records a whole-object CRC-32 (Castagnoli) checksum at put time
// when it can; Attributes reports it when available.  A client that cannot
// supply a checksum is legal, and consumers must not treat its absence as an
// error.
package blobstore

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client is the interface to a blob store.
type Client interface {
	// Put writes a blob.  Blobs are immutable; writing an existing id is an
	// error.
	Put(ctx context.Context, blobID string, data []byte) error
	// Open returns a reader over the blob's bytes.  The caller must close
	// it.
	Open(ctx context.Context, blobID string) (io.ReadCloser, error)
	// Attributes returns the blob's size and, when the store can supply it,
	// its whole-object checksum.
	Attributes(ctx context.Context, blobID string) (*Attributes, error)
}

// Attributes describes a stored blob.
type Attributes struct {
	Size int64
	// CRC32C is the Castagnoli CRC-32 of the whole blob, or nil if the
	// store cannot supply one.
	CRC32C *uint32
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the Castagnoli CRC-32 of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// ErrBlobNotFound is returned when a blob id is unknown.
type ErrBlobNotFound struct {
	ID string
}

func (err ErrBlobNotFound) Error() string {
	return fmt.Sprintf("blob %q not found", err.ID)
}

func (err ErrBlobNotFound) Is(other error) bool {
	_, ok := other.(ErrBlobNotFound)
	return ok
}

func (err ErrBlobNotFound) GRPCStatus() *status.Status {
	return status.New(codes.NotFound, err.Error())
}

// ErrBlobCorrupted is returned when the store reports a blob as unreadable
// mid-stream.
type ErrBlobCorrupted struct {
	ID string
}

func (err ErrBlobCorrupted) Error() string {
	return fmt.Sprintf("blob %q corrupted", err.ID)
}

func (err ErrBlobCorrupted) Is(other error) bool {
	_, ok := other.(ErrBlobCorrupted)
	return ok
}

func (err ErrBlobCorrupted) GRPCStatus() *status.Status {
	return status.New(codes.DataLoss, err.Error())
}

// ErrBlobAlreadyExists is returned by Put for an existing id.
type ErrBlobAlreadyExists struct {
	ID string
}

func (err ErrBlobAlreadyExists) Error() string {
	return fmt.Sprintf("blob %q already exists", err.ID)
}

func (err ErrBlobAlreadyExists) Is(other error) bool {
	_, ok := other.(ErrBlobAlreadyExists)
	return ok
}

func (err ErrBlobAlreadyExists) GRPCStatus() *status.Status {
	return status.New(codes.AlreadyExists, err.Error())
}
