package instance

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// field guards a single instance attribute. Acquisition can be bounded by a
// context so the reconciler can skip an instance that a lifecycle task holds.
type field[T any] struct {
	sem *semaphore.Weighted
	val T
}

func newField[T any](v T) *field[T] {
	return &field[T]{sem: semaphore.NewWeighted(1), val: v}
}

func (f *field[T]) lock(ctx context.Context) error {
	return f.sem.Acquire(ctx, 1)
}

func (f *field[T]) unlock() {
	f.sem.Release(1)
}

// lockNoCancel waits without a deadline. Acquire only fails when its context
// ends, which Background never does.
func (f *field[T]) lockNoCancel() {
	_ = f.sem.Acquire(context.Background(), 1)
}

func (f *field[T]) get() T {
	f.lockNoCancel()
	defer f.unlock()
	return f.val
}

func (f *field[T]) set(v T) {
	f.lockNoCancel()
	defer f.unlock()
	f.val = v
}

// tryGet reads the value unless ctx ends first.
func (f *field[T]) tryGet(ctx context.Context) (T, error) {
	if err := f.lock(ctx); err != nil {
		var zero T
		return zero, err
	}
	defer f.unlock()
	return f.val, nil
}
