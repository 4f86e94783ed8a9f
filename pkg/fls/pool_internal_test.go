package fls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Pool_Spills_Oldest_Tables_When_Local_List_Exceeds_Capacity(t *testing.T) {
	t.Parallel()

	p := newPool(newRegistry(8), PoolOptions{LocalCapacity: 4, BorrowBatch: 2})
	w := NewWorker(0)

	tables := make([]*KeyTable, 0, 5)
	for range 5 {
		tables = append(tables, p.Borrow(w))
	}

	for _, kt := range tables {
		p.Return(w, kt)
	}

	// Fifth return pushed the list to 5 > 4; two oldest went global.
	require.Equal(t, 3, p.LocalLen(w))
	require.Equal(t, []*KeyTable{tables[0], tables[1]}, p.global)
	require.Equal(t, []*KeyTable{tables[2], tables[3], tables[4]}, w.lists[p].tables)

	st, err := p.Stat()
	require.NoError(t, err)
	require.Equal(t, PoolStat{Free: 5, Created: 5}, st)
}

func Test_Pool_Refills_From_Global_List_When_Local_List_Is_Empty(t *testing.T) {
	t.Parallel()

	p := newPool(newRegistry(8), PoolOptions{LocalCapacity: 10, BorrowBatch: 3})

	for range 5 {
		p.Return(nil, newKeyTable(p.reg))
	}

	w := NewWorker(1)

	kt := p.Borrow(w)
	require.NotNil(t, kt)
	require.Equal(t, 2, p.LocalLen(w), "batch of 3 moved, one handed out")
	require.Len(t, p.global, 2)
	require.Zero(t, p.created.Load())
}

func Test_Pool_Allocates_Table_When_Both_Lists_Are_Empty(t *testing.T) {
	t.Parallel()

	p := newPool(newRegistry(8), PoolOptions{LocalCapacity: 10, BorrowBatch: 3})

	require.NotNil(t, p.Borrow(nil))
	require.NotNil(t, p.Borrow(NewWorker(0)))
	require.Equal(t, int64(2), p.created.Load())
}

func Test_Pool_Forgets_Worker_List_When_Destroyed(t *testing.T) {
	t.Parallel()

	p := newPool(newRegistry(8), PoolOptions{})
	w := NewWorker(0)

	p.Return(w, p.Borrow(w))
	require.Equal(t, 1, p.LocalLen(w))

	require.NoError(t, p.Destroy())

	p.Return(w, newKeyTable(p.reg))
	require.Zero(t, p.LocalLen(w))
	require.NotContains(t, w.lists, p)
	require.Nil(t, p.global)

	// Returns after destroy, with or without a worker, are dropped.
	p.Return(nil, newKeyTable(p.reg))
	require.Nil(t, p.global)
}

func Test_Pool_Ignores_Nil_Table_When_Returned(t *testing.T) {
	t.Parallel()

	p := newPool(newRegistry(8), PoolOptions{})
	w := NewWorker(0)

	p.Return(w, nil)
	p.Return(nil, nil)

	st, err := p.Stat()
	require.NoError(t, err)
	require.Equal(t, PoolStat{}, st)
}

func Test_SetDefaultPoolOptions_Validates_And_Merges_When_Called(t *testing.T) {
	// Mutates process defaults.
	saved := DefaultPoolOptions()
	t.Cleanup(func() {
		defaultOptsMu.Lock()
		defaultOpts = saved
		defaultOptsMu.Unlock()
	})

	require.ErrorIs(t, SetDefaultPoolOptions(PoolOptions{LocalCapacity: -1}), ErrInvalidOptions)
	require.Equal(t, saved, DefaultPoolOptions())

	require.NoError(t, SetDefaultPoolOptions(PoolOptions{BorrowBatch: 7}))
	require.Equal(t, PoolOptions{LocalCapacity: saved.LocalCapacity, BorrowBatch: 7}, DefaultPoolOptions())

	p := NewPool(PoolOptions{LocalCapacity: 9})
	require.Equal(t, PoolOptions{LocalCapacity: 9, BorrowBatch: 7}, p.Options())
}
