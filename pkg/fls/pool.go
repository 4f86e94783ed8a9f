package fls

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// PoolOptions tune a [Pool]. Zero fields take the process defaults, see
// [SetDefaultPoolOptions].
type PoolOptions struct {
	// LocalCapacity bounds the free list each OS worker keeps per pool.
	// When a return pushes the list past it, a batch moves to the global
	// list.
	LocalCapacity int

	// BorrowBatch is how many tables move between the global list and a
	// worker's list at once.
	BorrowBatch int
}

var (
	defaultOptsMu sync.Mutex
	defaultOpts   = PoolOptions{
		LocalCapacity: defaultLocalCapacity,
		BorrowBatch:   defaultBorrowBatch,
	}
)

// DefaultPoolOptions returns the options used for zero [PoolOptions] fields.
func DefaultPoolOptions() PoolOptions {
	defaultOptsMu.Lock()
	defer defaultOptsMu.Unlock()

	return defaultOpts
}

// SetDefaultPoolOptions replaces the process-wide defaults. Zero fields keep
// the current default. Meant to be called at process start, before pools
// are created; existing pools keep their options.
func SetDefaultPoolOptions(opts PoolOptions) error {
	if opts.LocalCapacity < 0 || opts.BorrowBatch < 0 {
		return fmt.Errorf("local_capacity=%d borrow_batch=%d: %w",
			opts.LocalCapacity, opts.BorrowBatch, ErrInvalidOptions)
	}

	defaultOptsMu.Lock()
	defer defaultOptsMu.Unlock()

	defaultOpts = opts.withDefaults(defaultOpts)

	return nil
}

func (o PoolOptions) withDefaults(d PoolOptions) PoolOptions {
	if o.LocalCapacity == 0 {
		o.LocalCapacity = d.LocalCapacity
	}

	if o.BorrowBatch == 0 {
		o.BorrowBatch = d.BorrowBatch
	}

	return o
}

// PoolStat is a snapshot of a pool's counters.
type PoolStat struct {
	// Free is the number of tables on the global list and on every worker's
	// list. Advisory: workers update their lists without synchronizing with
	// Stat.
	Free int

	// Created is the number of tables the pool has allocated.
	Created int
}

// Pool recycles the tables of exited fibers.
//
// Borrow and Return first use the calling worker's own free list, which is
// touched without locks. The global list is locked only when a worker's list
// runs empty (refill) or grows past [PoolOptions.LocalCapacity] (spill).
//
// Tables handed back to a pool have been finalized by their previous owner,
// so a borrower never observes another context's values.
type Pool struct {
	opts PoolOptions
	reg  *registry

	mu     sync.Mutex
	global []*KeyTable
	locals []*localList

	destroyed atomic.Bool
	created   atomic.Int64
}

// NewPool creates an empty pool.
func NewPool(opts PoolOptions) *Pool {
	return newPool(globalRegistry, opts)
}

func newPool(reg *registry, opts PoolOptions) *Pool {
	return &Pool{
		opts: opts.withDefaults(DefaultPoolOptions()),
		reg:  reg,
	}
}

// Options returns the effective options of p.
func (p *Pool) Options() PoolOptions {
	return p.opts
}

// Borrow hands out a clean table. w is the OS worker the caller runs on; nil
// means the caller is not on a worker and goes to the global list directly.
//
// A destroyed pool still hands out tables, freshly allocated and untracked.
func (p *Pool) Borrow(w *Worker) *KeyTable {
	if p.destroyed.Load() {
		w.forget(p)

		return newKeyTable(p.reg)
	}

	if w == nil {
		p.mu.Lock()
		t := popTable(&p.global)
		p.mu.Unlock()

		if t != nil {
			return t
		}

		return p.newTable()
	}

	l := w.list(p)

	if t := l.pop(); t != nil {
		return t
	}

	p.mu.Lock()
	n := min(p.opts.BorrowBatch, len(p.global))
	l.pushAll(p.global[len(p.global)-n:])
	clear(p.global[len(p.global)-n:])
	p.global = p.global[:len(p.global)-n]
	p.mu.Unlock()

	if t := l.pop(); t != nil {
		return t
	}

	return p.newTable()
}

// Return hands t back to the pool. t must have been finalized by its
// owner. Tables returned to a destroyed pool are dropped.
func (p *Pool) Return(w *Worker, t *KeyTable) {
	if t == nil {
		return
	}

	if p.destroyed.Load() {
		w.forget(p)

		return
	}

	if w == nil {
		p.mu.Lock()
		if !p.destroyed.Load() {
			p.global = append(p.global, t)
		}
		p.mu.Unlock()

		return
	}

	l := w.list(p)
	l.push(t)

	if l.len() <= p.opts.LocalCapacity {
		return
	}

	n := min(l.len(), max(p.opts.BorrowBatch, l.len()-p.opts.LocalCapacity))
	spill := l.popN(n)

	p.mu.Lock()
	if !p.destroyed.Load() {
		p.global = append(p.global, spill...)
	}
	p.mu.Unlock()
}

// LocalLen returns the length of w's free list for p.
func (p *Pool) LocalLen(w *Worker) int {
	if w == nil {
		return 0
	}

	l, ok := w.lists[p]
	if !ok {
		return 0
	}

	return l.len()
}

// Stat returns the pool's counters.
//
// Possible errors: [ErrPoolDestroyed].
func (p *Pool) Stat() (PoolStat, error) {
	if p.destroyed.Load() {
		return PoolStat{}, ErrPoolDestroyed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	free := len(p.global)
	for _, l := range p.locals {
		free += l.len()
	}

	return PoolStat{Free: free, Created: int(p.created.Load())}, nil
}

// Destroy drops the pool's free tables. Tables still borrowed stay with
// their contexts, are finalized when those end, and are dropped on return.
// Workers release their lists for p the next time they touch it.
//
// Possible errors: [ErrPoolDestroyed].
func (p *Pool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed.Load() {
		return ErrPoolDestroyed
	}

	p.destroyed.Store(true)
	p.global = nil
	p.locals = nil

	return nil
}

func (p *Pool) newTable() *KeyTable {
	p.created.Add(1)

	return newKeyTable(p.reg)
}

func (p *Pool) register(l *localList) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.destroyed.Load() {
		p.locals = append(p.locals, l)
	}
}

func popTable(ts *[]*KeyTable) *KeyTable {
	s := *ts
	if len(s) == 0 {
		return nil
	}

	t := s[len(s)-1]
	s[len(s)-1] = nil
	*ts = s[:len(s)-1]

	return t
}

// localList is one worker's free list for one pool. Only the owning worker
// mutates tables; n mirrors its length for Stat.
type localList struct {
	tables []*KeyTable
	n      atomic.Int64
}

func (l *localList) len() int {
	return int(l.n.Load())
}

func (l *localList) push(t *KeyTable) {
	l.tables = append(l.tables, t)
	l.n.Store(int64(len(l.tables)))
}

func (l *localList) pushAll(ts []*KeyTable) {
	l.tables = append(l.tables, ts...)
	l.n.Store(int64(len(l.tables)))
}

func (l *localList) pop() *KeyTable {
	t := popTable(&l.tables)
	l.n.Store(int64(len(l.tables)))

	return t
}

// popN removes the n oldest tables, keeping the most recently returned
// (and most likely cache-warm) ones local.
func (l *localList) popN(n int) []*KeyTable {
	out := make([]*KeyTable, n)
	copy(out, l.tables[:n])

	rest := copy(l.tables, l.tables[n:])
	clear(l.tables[rest:])
	l.tables = l.tables[:rest]
	l.n.Store(int64(len(l.tables)))

	return out
}

// Worker is the per-OS-worker state pools keep their local free lists in.
// Schedulers create one per worker thread and pass it to [Local.Bind]. Only
// code running on that worker may use it.
type Worker struct {
	id    int
	lists map[*Pool]*localList
}

// NewWorker returns the pool state of worker id.
func NewWorker(id int) *Worker {
	return &Worker{id: id, lists: make(map[*Pool]*localList)}
}

// ID returns the worker's id.
func (w *Worker) ID() int {
	return w.id
}

func (w *Worker) list(p *Pool) *localList {
	l, ok := w.lists[p]
	if !ok {
		l = &localList{}
		w.lists[p] = l
		p.register(l)
	}

	return l
}

func (w *Worker) forget(p *Pool) {
	if w != nil {
		delete(w.lists, p)
	}
}
