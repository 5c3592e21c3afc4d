// Package stream provides imperative iteration over streams of values.
package stream

import (
	"context"

	"github.com/izio7/tensorboard/src/internal/errors"
	"github.com/izio7/tensorboard/src/internal/errutil"
)

// Iterator is the interface for iterating through a stream of elements of
// type T.
type Iterator[T any] interface {
	// Next advances the iterator to the next element, copying it into dst.
	// It returns an error for which IsEOS is true when the stream has ended.
	Next(ctx context.Context, dst *T) error
}

type endOfStream struct{}

func (endOfStream) Error() string {
	return "end of stream"
}

// EOS returns an end-of-stream error.  Each call returns a distinct value;
// check for it with IsEOS, not errors.Is.
func EOS() error {
	return errors.EnsureStack(endOfStream{})
}

// IsEOS returns true if err is an end-of-stream error.
func IsEOS(err error) bool {
	var eos endOfStream
	return errors.As(err, &eos)
}

// ForEach calls fn for every element in it.  Returning errutil.ErrBreak from
// fn stops the iteration without error.
func ForEach[T any](ctx context.Context, it Iterator[T], fn func(t T) error) error {
	var x T
	for {
		if err := it.Next(ctx, &x); err != nil {
			if IsEOS(err) {
				return nil
			}
			return err
		}
		if err := fn(x); err != nil {
			if errors.Is(err, errutil.ErrBreak) {
				return nil
			}
			return err
		}
	}
}

// Collect reads the stream to completion and returns all of its elements.  It
// returns an error if more than max elements are encountered.
func Collect[T any](ctx context.Context, it Iterator[T], max int) (ret []T, _ error) {
	err := ForEach[T](ctx, it, func(x T) error {
		if len(ret) >= max {
			return errors.Errorf("stream exceeded max size %d", max)
		}
		ret = append(ret, x)
		return nil
	})
	return ret, err
}
