package fls

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Key identifies one slot across all execution contexts.
//
// Keys are small values and cheap to copy. A Key carries no ownership; it
// stays usable until [DeleteKey] is called for it.
type Key struct {
	Index   uint32
	Version uint32
}

// String renders the key for error messages.
func (k Key) String() string {
	return fmt.Sprintf("key{index=%d version=%d}", k.Index, k.Version)
}

// Destructor is called with a value still stored under its key when the
// owning context ends. ctx is the ending context: the slot was cleared
// before the call, so [Get] on the same key observes nil, and [Set] stores a
// value that finalize visits again.
type Destructor func(ctx context.Context, value any)

// keyInfo is the registry entry of one index.
//
// state packs the version into the high 32 bits and the active flag into
// bit 0 so readers observe both in a single load.
type keyInfo struct {
	state atomic.Uint64
	dtor  atomic.Pointer[Destructor]
}

func packState(version uint32, active bool) uint64 {
	s := uint64(version) << 32
	if active {
		s |= 1
	}

	return s
}

func unpackState(s uint64) (uint32, bool) {
	return uint32(s >> 32), s&1 == 1
}

// nextVersion skips 0, which marks "never issued".
func nextVersion(v uint32) uint32 {
	v++
	if v == 0 {
		v = 1
	}

	return v
}

// registry assigns key indices and tracks their versions and destructors.
// Mutations take mu; lookups are lock-free.
type registry struct {
	mu    sync.Mutex
	infos []keyInfo
	next  uint32   // indices below next have been handed out at least once
	free  []uint32 // deleted indices, reused LIFO

	live atomic.Int64
}

func newRegistry(capacity int) *registry {
	return &registry{infos: make([]keyInfo, capacity)}
}

func (r *registry) create(dtor Destructor) (Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var index uint32

	switch {
	case len(r.free) > 0:
		index = r.free[len(r.free)-1]
		r.free = r.free[:len(r.free)-1]
	case int(r.next) < len(r.infos):
		index = r.next
		r.next++
	default:
		return Key{}, fmt.Errorf("%d keys in use: %w", len(r.infos), ErrResourceExhausted)
	}

	info := &r.infos[index]

	version, _ := unpackState(info.state.Load())
	if version == 0 {
		version = 1
	}

	if dtor != nil {
		info.dtor.Store(&dtor)
	} else {
		info.dtor.Store(nil)
	}

	info.state.Store(packState(version, true))
	r.live.Add(1)

	return Key{Index: index, Version: version}, nil
}

func (r *registry) delete(k Key) error {
	if int(k.Index) >= len(r.infos) {
		return fmt.Errorf("delete %s: index out of range: %w", k, ErrInvalidKey)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	info := &r.infos[k.Index]

	version, active := unpackState(info.state.Load())
	if !active || version != k.Version {
		return fmt.Errorf("delete %s: live version %d: %w", k, version, ErrInvalidKey)
	}

	// Bumping the version here retires every value stored under k at once.
	info.dtor.Store(nil)
	info.state.Store(packState(nextVersion(version), false))
	r.free = append(r.free, k.Index)
	r.live.Add(-1)

	return nil
}

// version returns the live version of index, and whether a key is active
// at it. Out-of-range indices report (0, false).
func (r *registry) version(index uint32) (uint32, bool) {
	if int(index) >= len(r.infos) {
		return 0, false
	}

	return unpackState(r.infos[index].state.Load())
}

func (r *registry) lookup(index uint32) (uint32, bool, Destructor) {
	if int(index) >= len(r.infos) {
		return 0, false, nil
	}

	info := &r.infos[index]

	var dtor Destructor
	if p := info.dtor.Load(); p != nil {
		dtor = *p
	}

	version, active := unpackState(info.state.Load())

	return version, active, dtor
}

// check reports whether k is the live key at its index.
func (r *registry) check(k Key) error {
	version, active := r.version(k.Index)
	if !active || version != k.Version {
		return fmt.Errorf("%s: live version %d: %w", k, version, ErrInvalidKey)
	}

	return nil
}

func (r *registry) count() int {
	return int(r.live.Load())
}
