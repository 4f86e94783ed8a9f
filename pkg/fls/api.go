package fls

import (
	"context"
	"fmt"
)

var globalRegistry = newRegistry(MaxKeys)

// CreateKey allocates a key. dtor may be nil.
//
// Indices of deleted keys are reused, each time under a new version, so a
// deleted key never becomes valid again.
//
// Possible errors: [ErrResourceExhausted].
func CreateKey(dtor Destructor) (Key, error) {
	return globalRegistry.create(dtor)
}

// DeleteKey retires k. Values stored under k are not finalized; they become
// unreachable and are released when their contexts end, without a
// destructor call.
//
// Possible errors: [ErrInvalidKey].
func DeleteKey(k Key) error {
	err := globalRegistry.delete(k)
	if err != nil {
		logger().Debug(context.Background(), "fls: %v", err)
	}

	return err
}

// KeyCount returns the number of live keys.
func KeyCount() int {
	return globalRegistry.count()
}

// Get returns the value the calling context stored under k, or nil if it
// stored none, k was deleted, or ctx carries no [Local].
func Get(ctx context.Context, k Key) any {
	l := FromContext(ctx)
	if l == nil {
		return nil
	}

	t := l.current(false)
	if t == nil {
		return nil
	}

	return t.get(k)
}

// Set stores v under k for the calling context.
//
// Possible errors: [ErrInvalidKey], [ErrNoContext].
func Set(ctx context.Context, k Key, v any) error {
	l := FromContext(ctx)
	if l == nil {
		return ErrNoContext
	}

	err := globalRegistry.check(k)
	if err != nil {
		logger().Debug(ctx, "fls: set on %s from %s: %v", k, l.kind, err)

		return fmt.Errorf("set: %w", err)
	}

	t := l.current(true)
	if t == nil {
		return fmt.Errorf("set %s: context exited: %w", k, ErrNoContext)
	}

	return t.set(k, v)
}
