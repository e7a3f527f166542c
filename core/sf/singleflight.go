package sf

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group deduplicates concurrent calls with the same key.
type Group[T any] struct {
	group singleflight.Group
}

// New creates a Group for results of type T.
func New[T any]() *Group[T] {
	return &Group[T]{}
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for that call. fn gets a context detached from the caller's
// cancellation, since other callers may depend on its result.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (out T, err error) {
	fctx := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (any, error) {
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return out, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return out, r.Err
		}
		return r.Val.(T), nil
	}
}

// Forget makes the next Do for key start a new call.
func (g *Group[T]) Forget(key string) { g.group.Forget(key) }
