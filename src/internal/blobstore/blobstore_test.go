package blobstore

import (
	"io"
	"testing"

	"github.com/izio7/tensorboard/src/internal/errors"
	"github.com/izio7/tensorboard/src/internal/pctx"
	"github.com/izio7/tensorboard/src/internal/require"
)

func TestMemClientRoundTrip(t *testing.T) {
	ctx := pctx.TestContext(t)
	client := NewMemClient()
	data := []byte("0123456789")
	require.NoError(t, client.Put(ctx, "b1", data))

	attrs, err := client.Attributes(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, int64(10), attrs.Size)
	require.NotNil(t, attrs.CRC32C)
	require.Equal(t, CRC32C(data), *attrs.CRC32C)

	r, err := client.Open(ctx, "b1")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, data, got)
}

func TestMemClientNotFound(t *testing.T) {
	ctx := pctx.TestContext(t)
	client := NewMemClient()
	_, err := client.Open(ctx, "nope")
	require.YesError(t, err)
	require.True(t, errors.Is(err, ErrBlobNotFound{}))
	_, err = client.Attributes(ctx, "nope")
	require.True(t, errors.Is(err, ErrBlobNotFound{}))
}

func TestMemClientWithoutChecksums(t *testing.T) {
	ctx := pctx.TestContext(t)
	client := NewMemClient(WithoutChecksums())
	require.NoError(t, client.Put(ctx, "b1", []byte("data")))
	attrs, err := client.Attributes(ctx, "b1")
	require.NoError(t, err)
	require.Nil(t, attrs.CRC32C)
}

func TestCorruptReader(t *testing.T) {
	ctx := pctx.TestContext(t)
	client := NewMemClient()
	require.NoError(t, client.Put(ctx, "b1", []byte("0123456789")))
	require.NoError(t, Corrupt(client, "b1"))
	r, err := client.Open(ctx, "b1")
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	require.YesError(t, err)
	require.True(t, errors.Is(err, ErrBlobCorrupted{}))
}

func TestLocalClientRoundTrip(t *testing.T) {
	ctx := pctx.TestContext(t)
	client, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)
	data := []byte("local blob bytes")
	require.NoError(t, client.Put(ctx, "b1", data))
	require.YesError(t, client.Put(ctx, "b1", data), "blobs are immutable")

	attrs, err := client.Attributes(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), attrs.Size)
	require.NotNil(t, attrs.CRC32C)
	require.Equal(t, CRC32C(data), *attrs.CRC32C)

	r, err := client.Open(ctx, "b1")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, data, got)
}

func TestCacheClient(t *testing.T) {
	ctx := pctx.TestContext(t)
	base := NewMemClient()
	client, err := NewCacheClient(base, 8, 1<<20)
	require.NoError(t, err)
	data := []byte("cached blob")
	require.NoError(t, client.Put(ctx, "b1", data))

	for i := 0; i < 3; i++ {
		r, err := client.Open(ctx, "b1")
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Equal(t, data, got)
		attrs, err := client.Attributes(ctx, "b1")
		require.NoError(t, err)
		require.Equal(t, CRC32C(data), *attrs.CRC32C)
	}
}
