package fls

import (
	"context"
	"sync/atomic"
)

// slot is one entry of a KeyTable. version is the key version the value was
// stored under; 0 means unset.
type slot struct {
	value   any
	version uint32
}

// KeyTable holds the values of one execution context, indexed by key index.
//
// A KeyTable is owned by exactly one context at a time and is not safe for
// concurrent use. Tables are created by the binding or borrowed from a
// [Pool]; callers only ever hold them to hand them back to a pool.
type KeyTable struct {
	reg   *registry
	slots []slot
}

func newKeyTable(reg *registry) *KeyTable {
	return &KeyTable{reg: reg}
}

// Len returns the number of slots the table has grown to cover.
func (t *KeyTable) Len() int {
	return len(t.slots)
}

func (t *KeyTable) get(k Key) any {
	if int(k.Index) >= len(t.slots) {
		return nil
	}

	s := t.slots[k.Index]
	if s.version != k.Version {
		return nil
	}

	version, active := t.reg.version(k.Index)
	if !active || version != k.Version {
		return nil
	}

	return s.value
}

func (t *KeyTable) set(k Key, v any) error {
	err := t.reg.check(k)
	if err != nil {
		return err
	}

	if int(k.Index) >= len(t.slots) {
		t.grow(int(k.Index) + 1)
	}

	t.slots[k.Index] = slot{value: v, version: k.Version}

	return nil
}

// grow extends the table to cover at least n slots, in whole blocks.
func (t *KeyTable) grow(n int) {
	size := max(2*len(t.slots), (n+keysPerBlock-1)/keysPerBlock*keysPerBlock)
	size = min(size, len(t.reg.infos))

	if size <= cap(t.slots) {
		t.slots = t.slots[:size]

		return
	}

	slots := make([]slot, size)
	copy(slots, t.slots)
	t.slots = slots
}

// finalize runs destructors for every live value. Each pass clears a slot
// before calling its destructor; destructors that store new values cause
// another pass, up to MaxFinalizePasses. Values left after the last pass
// are dropped without a destructor call and counted in the return value.
//
// No lock is held while a destructor runs. Afterwards every slot is unset.
func (t *KeyTable) finalize(ctx context.Context) int {
	for range MaxFinalizePasses {
		// Destructors may grow t.slots; slots past the length captured here
		// are picked up by the next pass.
		for i := range t.slots {
			s := t.slots[i]
			if s.value == nil {
				continue
			}

			t.slots[i] = slot{}

			version, active, dtor := t.reg.lookup(uint32(i))
			if dtor != nil && active && version == s.version {
				dtor(ctx, s.value)
			}
		}

		if t.cleared() {
			return 0
		}
	}

	dropped := 0

	for i := range t.slots {
		if t.slots[i].value != nil {
			dropped++
		}

		t.slots[i] = slot{}
	}

	droppedValues.Add(int64(dropped))
	logger().Warn(ctx,
		"fls: %d values still set after %d finalize passes, dropped", dropped, MaxFinalizePasses)

	return dropped
}

func (t *KeyTable) cleared() bool {
	for i := range t.slots {
		if t.slots[i].value != nil {
			return false
		}
	}

	return true
}

var droppedValues atomic.Int64

// DroppedValues returns how many values finalize dropped without a
// destructor call because they were still set after [MaxFinalizePasses].
func DroppedValues() int64 {
	return droppedValues.Load()
}
