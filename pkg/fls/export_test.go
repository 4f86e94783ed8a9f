package fls

import "context"

// Export internals for testing.
// This file is only compiled during tests.

// RawValueForTesting returns the value physically stored at k's index in the
// calling context's table, ignoring versions.
func RawValueForTesting(ctx context.Context, k Key) any {
	l := FromContext(ctx)
	if l == nil || l.table == nil || int(k.Index) >= len(l.table.slots) {
		return nil
	}

	return l.table.slots[k.Index].value
}
