package stream

import (
	"context"

	"github.com/izio7/tensorboard/src/internal/errutil"
)

// fromForEach adapts callback-based iteration to the Iterator interface.
type forEach[T any] struct {
	dataChan chan T
	errChan  chan error
}

// NewFromForEach creates an Iterator from a callback-based iteration
// function.  The callback runs in its own goroutine and is stopped when ctx
// is canceled.
func NewFromForEach[T any](ctx context.Context, forEachFunc func(func(T) error) error) Iterator[T] {
	dataChan := make(chan T)
	errChan := make(chan error, 1)
	go func() {
		if err := forEachFunc(func(data T) error {
			select {
			case dataChan <- data:
				return nil
			case <-ctx.Done():
				return errutil.ErrBreak
			}
		}); err != nil {
			errChan <- err
			return
		}
		close(dataChan)
	}()
	return &forEach[T]{
		dataChan: dataChan,
		errChan:  errChan,
	}
}

// Next returns the next item and progresses the iterator.
func (i *forEach[T]) Next(ctx context.Context, dst *T) error {
	select {
	case data, more := <-i.dataChan:
		if !more {
			return EOS()
		}
		*dst = data
		return nil
	case err := <-i.errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
