package cache

import (
	"context"
	"sync"
)

// Fetch is a stale-while-revalidate read. Immediate holds whatever the local
// cache had when the read started; Wait returns the refreshed value.
type Fetch[T any] struct {
	Immediate T
	// Cached reports whether Immediate came from the local cache.
	Cached bool

	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFetch[T any](immediate T, cached bool) *Fetch[T] {
	return &Fetch[T]{Immediate: immediate, Cached: cached, done: make(chan struct{})}
}

// Done is closed once the refresh has finished.
func (f *Fetch[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the refresh finishes or ctx is done.
func (f *Fetch[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Fetch[T]) resolve(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// mapFetch derives a fetch whose values are transformed by fn.
func mapFetch[T, U any](src *Fetch[T], fn func(T) U) *Fetch[U] {
	out := newFetch(fn(src.Immediate), src.Cached)
	go func() {
		<-src.done
		if src.err != nil {
			var zero U
			out.resolve(zero, src.err)
			return
		}
		out.resolve(fn(src.value), nil)
	}()
	return out
}
