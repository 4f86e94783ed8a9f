package fls

import "context"

// Kind tells fibers and OS threads apart.
type Kind uint8

const (
	// KindThread is an OS thread. Its table is allocated on first use and
	// never pooled.
	KindThread Kind = iota + 1

	// KindFiber is a fiber. Its table is borrowed from the fiber's pool if it
	// has one, or allocated on first use.
	KindFiber
)

func (k Kind) String() string {
	switch k {
	case KindThread:
		return "thread"
	case KindFiber:
		return "fiber"
	default:
		return "unknown"
	}
}

// Local is the binding state of one execution context.
//
// Schedulers create one per context with [NewFiberLocal] or
// [NewThreadLocal] before the context's body runs, install it with
// [WithLocal], and call [Local.Exit] exactly once when the context ends.
//
// A Local is only ever touched by its own context and is not safe for
// concurrent use.
type Local struct {
	kind   Kind
	pool   *Pool
	worker *Worker
	table  *KeyTable
	exited bool
}

// NewFiberLocal returns the binding of a new fiber. If pool is non-nil the
// fiber's table is borrowed from it on first use and returned on Exit.
func NewFiberLocal(pool *Pool) *Local {
	return &Local{kind: KindFiber, pool: pool}
}

// NewThreadLocal returns the default binding of an OS thread.
func NewThreadLocal() *Local {
	return &Local{kind: KindThread}
}

// Kind reports whether l belongs to a fiber or a thread.
func (l *Local) Kind() Kind {
	return l.kind
}

// Bind records the OS worker now running the context. Schedulers call it
// on every resume.
func (l *Local) Bind(w *Worker) {
	l.worker = w
}

// Unbind clears the worker recorded by Bind. Schedulers call it on suspend.
func (l *Local) Unbind() {
	l.worker = nil
}

// Worker returns the OS worker currently running the context, or nil.
func (l *Local) Worker() *Worker {
	return l.worker
}

// Table returns the context's table, or nil if it has none yet.
func (l *Local) Table() *KeyTable {
	return l.table
}

// current returns the context's table, creating or borrowing one if create
// is set.
func (l *Local) current(create bool) *KeyTable {
	if l.table != nil || !create || l.exited {
		return l.table
	}

	if l.kind == KindFiber && l.pool != nil {
		l.table = l.pool.Borrow(l.worker)
	} else {
		l.table = newKeyTable(globalRegistry)
	}

	return l.table
}

// Exit finalizes the context's table and, for pooled fibers, returns it to
// the pool. It must be called from the exiting context, after its body
// returned, while still bound to its worker; ctx must carry l and is what
// destructors receive. Calls after the first are no-ops.
func (l *Local) Exit(ctx context.Context) {
	if l.exited {
		return
	}

	t := l.table
	if t != nil {
		// Destructors run with the table still bound, so they can use Get
		// and Set on this context.
		t.finalize(ctx)
	}

	l.exited = true
	l.table = nil

	if t != nil && l.kind == KindFiber && l.pool != nil {
		l.pool.Return(l.worker, t)
	}
}

type localKey struct{}

// WithLocal returns a copy of ctx carrying l as the current context.
func WithLocal(ctx context.Context, l *Local) context.Context {
	return context.WithValue(ctx, localKey{}, l)
}

// FromContext returns the Local installed by [WithLocal], or nil.
func FromContext(ctx context.Context) *Local {
	l, _ := ctx.Value(localKey{}).(*Local)

	return l
}
