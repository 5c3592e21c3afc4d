// Package grpcutil contains utilities for sizing and splitting payloads that
// are carried over streaming RPCs.
package grpcutil

import (
	"io"

	units "github.com/docker/go-units"

	"github.com/izio7/tensorboard/src/internal/errors"
)

var (
	// MaxMsgSize is used to define the GRPC frame size.
	MaxMsgSize = 20 * units.MiB
	// MaxMsgPayloadSize is the max message payload size.
	// This is slightly less than MaxMsgSize to account
	// for the GRPC message wrapping the payload.
	MaxMsgPayloadSize = MaxMsgSize - units.MiB
)

// Chunk splits a piece of data up, this is useful for splitting up data that's
// bigger than MaxMsgPayloadSize.
func Chunk(data []byte, chunkSize int) [][]byte {
	var result [][]byte
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		result = append(result, data[i:end])
	}
	return result
}

// ChunkReader splits a reader into chunks of size at most len(buf) and calls
// f for each chunk.  The chunk passed to f is only valid until f returns.  It
// returns the total number of bytes read.
func ChunkReader(r io.Reader, buf []byte, f func([]byte) error) (int, error) {
	var total int
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if err := f(buf[:n]); err != nil {
				return total, err
			}
			total += n
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, errors.EnsureStack(err)
		}
	}
}
