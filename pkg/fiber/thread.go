package fiber

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/calvinalkan/fiberlocal/pkg/fls"
)

// Thread is a handle to a plain OS thread started with [StartThread].
type Thread struct {
	tid  atomic.Int64
	done chan struct{}
	err  error
}

// StartThread runs fn on a new OS thread with its own default table,
// finalized when fn returns. The table is never pooled.
func StartThread(ctx context.Context, fn func(ctx context.Context)) *Thread {
	t := &Thread{done: make(chan struct{})}
	t.tid.Store(-1)

	local := fls.NewThreadLocal()
	tctx := fls.WithLocal(context.WithValue(ctx, fiberKey{}, (*Fiber)(nil)), local)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		t.tid.Store(int64(gettid()))

		defer close(t.done)
		defer local.Exit(tctx)
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("thread %d: %v: %w", t.tid.Load(), r, ErrPanicked)
			}
		}()

		fn(tctx)
	}()

	return t
}

// TID returns the OS thread id, or -1 before the thread started or where
// unsupported.
func (t *Thread) TID() int {
	return int(t.tid.Load())
}

// Join waits for the thread to exit, suspending the caller if it is a
// fiber.
//
// Possible errors: [ErrPanicked].
func (t *Thread) Join(ctx context.Context) error {
	wait(ctx, t.done)

	return t.err
}

// Yield lets other runnable fibers use the caller's worker. Outside of a
// worker fiber it only yields the goroutine.
func Yield(ctx context.Context) {
	f := current(ctx)
	if f == nil {
		runtime.Gosched()

		return
	}

	f.suspend(nil)
}

// Sleep suspends the calling fiber for at least d. Outside of a worker
// fiber it blocks the calling thread.
func Sleep(ctx context.Context, d time.Duration) {
	f := current(ctx)
	if f == nil {
		time.Sleep(d)

		return
	}

	ch := make(chan struct{})
	time.AfterFunc(d, func() { close(ch) })
	f.suspend(ch)
}
