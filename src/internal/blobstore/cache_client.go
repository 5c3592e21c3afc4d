package blobstore

import (
	"bytes"
	"context"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/izio7/tensorboard/src/internal/errors"
)

var (
	cacheHitMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tensorboard",
		Subsystem: "export_blob_cache",
		Name:      "hits_total",
		Help:      "Number of blob reads served from cache",
	})
	cacheMissMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tensorboard",
		Subsystem: "export_blob_cache",
		Name:      "misses_total",
		Help:      "Number of blob reads that were not served from cache",
	})
)

type cacheEntry struct {
	data  []byte
	attrs Attributes
}

type cacheClient struct {
	slow Client

	mu    sync.Mutex
	cache *lru.LRU[string, *cacheEntry]
	// blobs larger than maxBlobSize bypass the cache
	maxBlobSize int64
}

// NewCacheClient returns a Client that serves repeated reads of small blobs
// from an in-memory LRU cache, reading through to slow on miss.  Blobs are
// immutable, so entries never need invalidation.
func NewCacheClient(slow Client, numBlobs int, maxBlobSize int64) (Client, error) {
	cache, err := lru.NewLRU[string, *cacheEntry](numBlobs, nil)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	return &cacheClient{
		slow:        slow,
		cache:       cache,
		maxBlobSize: maxBlobSize,
	}, nil
}

func (c *cacheClient) Put(ctx context.Context, blobID string, data []byte) error {
	return c.slow.Put(ctx, blobID, data)
}

func (c *cacheClient) Open(ctx context.Context, blobID string) (io.ReadCloser, error) {
	if entry, ok := c.get(blobID); ok {
		cacheHitMetric.Inc()
		return io.NopCloser(bytes.NewReader(entry.data)), nil
	}
	cacheMissMetric.Inc()
	attrs, err := c.slow.Attributes(ctx, blobID)
	if err != nil {
		return nil, err
	}
	if attrs.Size > c.maxBlobSize {
		return c.slow.Open(ctx, blobID)
	}
	r, err := c.slow.Open(ctx, blobID)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	errors.JoinInto(&err, r.Close())
	if err != nil {
		return nil, errors.Wrap(err, "read blob for cache")
	}
	c.add(blobID, &cacheEntry{data: data, attrs: *attrs})
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *cacheClient) Attributes(ctx context.Context, blobID string) (*Attributes, error) {
	if entry, ok := c.get(blobID); ok {
		attrs := entry.attrs
		return &attrs, nil
	}
	return c.slow.Attributes(ctx, blobID)
}

func (c *cacheClient) get(blobID string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(blobID)
}

func (c *cacheClient) add(blobID string, entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(blobID, entry)
}
