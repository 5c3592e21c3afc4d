package blobstore

import (
	"context"
	"io"
	"strconv"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	"github.com/izio7/tensorboard/src/internal/errors"
)

// crcMetadataKey is the bucket metadata key under which the put-time checksum
// is recorded.  gocloud lowercases metadata keys.
const crcMetadataKey = "crc32c"

type localClient struct {
	bucket *blob.Bucket
}

// NewLocalClient returns a Client that stores blobs on the local file system
// under rootDir, using a gocloud fileblob bucket.  The checksum is computed
// at put time and recorded as bucket metadata, so Attributes can supply it
// without rereading the blob.
func NewLocalClient(rootDir string) (Client, error) {
	bucket, err := fileblob.OpenBucket(rootDir, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open fileblob bucket")
	}
	return &localClient{bucket: bucket}, nil
}

func (c *localClient) Put(ctx context.Context, blobID string, data []byte) error {
	exists, err := c.bucket.Exists(ctx, blobID)
	if err != nil {
		return errors.Wrap(err, "check blob exists")
	}
	if exists {
		return ErrBlobAlreadyExists{ID: blobID}
	}
	opts := &blob.WriterOptions{
		Metadata: map[string]string{
			crcMetadataKey: strconv.FormatUint(uint64(CRC32C(data)), 10),
		},
	}
	return errors.Wrap(c.bucket.WriteAll(ctx, blobID, data, opts), "write blob")
}

func (c *localClient) Open(ctx context.Context, blobID string) (io.ReadCloser, error) {
	r, err := c.bucket.NewReader(ctx, blobID, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrBlobNotFound{ID: blobID}
		}
		return nil, errors.Wrap(err, "open blob")
	}
	return r, nil
}

func (c *localClient) Attributes(ctx context.Context, blobID string) (*Attributes, error) {
	attrs, err := c.bucket.Attributes(ctx, blobID)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrBlobNotFound{ID: blobID}
		}
		return nil, errors.Wrap(err, "get blob attributes")
	}
	result := &Attributes{Size: attrs.Size}
	if s, ok := attrs.Metadata[crcMetadataKey]; ok {
		if crc, err := strconv.ParseUint(s, 10, 32); err == nil {
			c := uint32(crc)
			result.CRC32C = &c
		}
	}
	return result, nil
}
