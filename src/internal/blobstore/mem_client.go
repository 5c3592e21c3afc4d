package blobstore

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/izio7/tensorboard/src/internal/errors"
)

type memBlob struct {
	data      []byte
	crc       uint32
	corrupted bool
}

type memClient struct {
	mu           sync.RWMutex
	blobs        map[string]*memBlob
	withChecksum bool
}

// MemOption configures an in-memory client.
type MemOption func(*memClient)

// WithoutChecksums makes the client behave like a store that cannot supply
// whole-object checksums.
func WithoutChecksums() MemOption {
	return func(c *memClient) {
		c.withChecksum = false
	}
}

// NewMemClient returns a Client that stores blobs in memory.  Tests use it in
// place of a real object store.
func NewMemClient(opts ...MemOption) Client {
	c := &memClient{
		blobs:        make(map[string]*memBlob),
		withChecksum: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *memClient) Put(_ context.Context, blobID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blobs[blobID]; ok {
		return ErrBlobAlreadyExists{ID: blobID}
	}
	c.blobs[blobID] = &memBlob{
		data: append([]byte{}, data...),
		crc:  CRC32C(data),
	}
	return nil
}

func (c *memClient) Open(_ context.Context, blobID string) (io.ReadCloser, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blobs[blobID]
	if !ok {
		return nil, ErrBlobNotFound{ID: blobID}
	}
	if b.corrupted {
		return &corruptReader{id: blobID, r: bytes.NewReader(b.data[:len(b.data)/2])}, nil
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (c *memClient) Attributes(_ context.Context, blobID string) (*Attributes, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blobs[blobID]
	if !ok {
		return nil, ErrBlobNotFound{ID: blobID}
	}
	attrs := &Attributes{Size: int64(len(b.data))}
	if c.withChecksum {
		crc := b.crc
		attrs.CRC32C = &crc
	}
	return attrs, nil
}

// Corrupt marks a blob as corrupted: readers will deliver a truncated prefix
// and then fail.  Only the in-memory client supports this; it exists to test
// mid-stream failure handling.
func Corrupt(client Client, blobID string) error {
	c, ok := client.(*memClient)
	if !ok {
		return errors.New("client does not support corruption injection")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blobs[blobID]
	if !ok {
		return ErrBlobNotFound{ID: blobID}
	}
	b.corrupted = true
	return nil
}

type corruptReader struct {
	id string
	r  io.Reader
}

func (r *corruptReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if errors.Is(err, io.EOF) {
		return n, ErrBlobCorrupted{ID: r.id}
	}
	return n, err
}

func (r *corruptReader) Close() error {
	return nil
}
