package fls

import "errors"

// Sentinel errors returned by fls operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, fls.ErrInvalidKey) {
//	    // key was deleted or never created
//	}
var (
	// ErrInvalidKey indicates the key's version does not match the live
	// version of its index: the key was deleted, never created, or forged.
	//
	// Returned by [Set] and [DeleteKey]. [Get] reports stale keys as nil.
	ErrInvalidKey = errors.New("fls: invalid key")

	// ErrResourceExhausted indicates all [MaxKeys] key indices are live.
	//
	// Recovery: delete keys that are no longer used.
	ErrResourceExhausted = errors.New("fls: key space exhausted")

	// ErrNoContext indicates the context.Context carries no [Local], or the
	// Local has already exited.
	//
	// This is a programming error: only bodies run by a scheduler (or a
	// caller that installed a Local with [WithLocal]) have local storage.
	ErrNoContext = errors.New("fls: no execution context")

	// ErrPoolDestroyed indicates the [Pool] has been destroyed.
	ErrPoolDestroyed = errors.New("fls: pool destroyed")

	// ErrInvalidOptions indicates [PoolOptions] with negative values.
	ErrInvalidOptions = errors.New("fls: invalid options")
)
