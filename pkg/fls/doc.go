// Package fls provides keyed local storage for fibers and OS threads.
//
// A [Key] names one slot across every execution context. Each context owns a
// private [KeyTable]; a value stored under a key is only ever visible to the
// context that stored it. Fibers and OS threads use the same API: the
// scheduler installs a [Local] into the context.Context handed to the
// context's body, and [Get]/[Set] resolve the current table from it.
//
// # Basic Usage
//
//	key, err := fls.CreateKey(func(_ context.Context, v any) { v.(*Session).Close() })
//	if err != nil {
//	    // ErrResourceExhausted: all key indices are in use
//	}
//	defer fls.DeleteKey(key)
//
//	// inside a fiber or thread body
//	if fls.Get(ctx, key) == nil {
//	    _ = fls.Set(ctx, key, newSession())
//	}
//
// # Keys and versions
//
// A key is an (index, version) pair. Deleting a key bumps the version of its
// index, so the deleted key and every value stored under it become
// unreachable even after the index is handed out again. [Get] with a stale
// key returns nil; [Set] and [DeleteKey] return [ErrInvalidKey].
//
// # Destructors
//
// When a context ends, its table is finalized: every live value whose key
// has a destructor is cleared and then passed to the destructor. A
// destructor may store a new value under any key; finalize runs again for
// such values, at most [MaxFinalizePasses] times in total. Values that
// survive the last pass are dropped without calling their destructor.
//
// # Pools
//
// Fibers launched with a [Pool] borrow their table from it instead of
// allocating one, and hand it back after finalize. A pool keeps a bounded
// free list per OS worker plus a lock-guarded global list; see [PoolOptions].
//
// # Concurrency
//
// [Get] and [Set] take no locks. [CreateKey] and [DeleteKey] serialize on a
// single registry mutex. A [Local] and its table must only be used by the
// context that owns it.
package fls
