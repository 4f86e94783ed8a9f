package fiber

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/fiberlocal/pkg/fls"
)

// Options configure a [Scheduler].
type Options struct {
	// Workers is the number of OS worker threads. 0 means GOMAXPROCS.
	Workers int

	// WorkerInit, if set, runs on every worker thread before it picks up
	// fibers. Its ctx is the worker's own thread context: values it stores
	// with fls.Set are finalized when the worker stops.
	WorkerInit func(ctx context.Context)
}

// Attr configures a single fiber.
type Attr struct {
	// Pool, if set, is where the fiber borrows its key table from.
	Pool *fls.Pool

	// OSThread runs the fiber on a dedicated OS thread instead of a worker.
	// It still has fiber local storage of its own.
	OSThread bool
}

// WorkerInfo describes one worker thread.
type WorkerInfo struct {
	ID  int
	TID int // OS thread id, -1 where unsupported or not yet started
}

// Scheduler multiplexes fibers over a fixed set of worker threads.
type Scheduler struct {
	opts    Options
	workers []*worker
	wg      sync.WaitGroup

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Fiber
	live   int // started and not yet exited fibers on workers
	closed bool
}

type worker struct {
	id    int
	tid   atomic.Int64
	pools *fls.Worker
	local *fls.Local
}

// NewScheduler starts the worker threads.
func NewScheduler(opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	s := &Scheduler{opts: opts}
	s.cond = sync.NewCond(&s.mu)

	for i := range opts.Workers {
		w := &worker{
			id:    i,
			pools: fls.NewWorker(i),
			local: fls.NewThreadLocal(),
		}
		w.tid.Store(-1)
		s.workers = append(s.workers, w)
	}

	s.wg.Add(len(s.workers))

	for _, w := range s.workers {
		go s.run(w)
	}

	return s
}

// Workers describes the scheduler's worker threads.
func (s *Scheduler) Workers() []WorkerInfo {
	out := make([]WorkerInfo, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, WorkerInfo{ID: w.id, TID: int(w.tid.Load())})
	}

	return out
}

// Start launches fn as a new fiber. The fiber is queued behind fibers that
// are already runnable.
//
// Possible errors: [ErrClosed].
func (s *Scheduler) Start(ctx context.Context, attr Attr, fn func(ctx context.Context)) (*Fiber, error) {
	f := newFiber(ctx, attr, fn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil, ErrClosed
	}

	if attr.OSThread {
		s.mu.Unlock()
		f.runOnThread()

		return f, nil
	}

	s.live++
	s.queue = append(s.queue, f)
	s.cond.Signal()
	s.mu.Unlock()

	go f.main()

	return f, nil
}

// Close waits until every fiber started on the workers has exited, then
// stops the workers. It must not be called from a fiber of s.
//
// Possible errors: [ErrClosed].
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return ErrClosed
	}

	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()

	return nil
}

func (s *Scheduler) run(w *worker) {
	defer s.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.tid.Store(int64(gettid()))

	// The worker's own thread context, used outside of fibers.
	ctx := fls.WithLocal(context.WithValue(context.Background(), fiberKey{}, (*Fiber)(nil)), w.local)

	w.local.Bind(w.pools)
	defer w.local.Exit(ctx)

	if s.opts.WorkerInit != nil {
		s.opts.WorkerInit(ctx)
	}

	for {
		f := s.next()
		if f == nil {
			return
		}

		s.resume(w, f)
	}
}

func (s *Scheduler) next() *Fiber {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 {
		if s.closed && s.live == 0 {
			return nil
		}

		s.cond.Wait()
	}

	f := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]

	return f
}

func (s *Scheduler) enqueue(f *Fiber) {
	s.mu.Lock()
	s.queue = append(s.queue, f)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Scheduler) exited() {
	s.mu.Lock()
	s.live--
	if s.closed && s.live == 0 {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// resume runs f on w until it suspends or exits.
func (s *Scheduler) resume(w *worker, f *Fiber) {
	f.local.Bind(w.pools)
	f.wake <- struct{}{}

	req := <-f.park

	f.local.Unbind()

	switch {
	case req.exited:
		s.exited()
	case req.wait == nil:
		s.enqueue(f)
	default:
		go func() {
			<-req.wait
			s.enqueue(f)
		}()
	}
}

type fiberKey struct{}

var nextFiberID atomic.Uint64

// Fiber is a handle to a started fiber.
type Fiber struct {
	id       uint64
	local    *fls.Local
	ctx      context.Context
	fn       func(context.Context)
	osThread bool

	wake chan struct{}
	park chan parkReq
	done chan struct{}
	err  error
}

// parkReq is what a fiber hands its worker when it gives the worker up:
// exited, or suspended until wait is closed (nil wait means runnable).
type parkReq struct {
	wait   <-chan struct{}
	exited bool
}

func newFiber(ctx context.Context, attr Attr, fn func(context.Context)) *Fiber {
	f := &Fiber{
		id:       nextFiberID.Add(1),
		local:    fls.NewFiberLocal(attr.Pool),
		fn:       fn,
		osThread: attr.OSThread,
		wake:     make(chan struct{}),
		park:     make(chan parkReq),
		done:     make(chan struct{}),
	}
	f.ctx = fls.WithLocal(context.WithValue(ctx, fiberKey{}, f), f.local)

	return f
}

// ID returns the fiber's process-unique id.
func (f *Fiber) ID() uint64 {
	return f.id
}

// Join waits for the fiber to exit. Called from a fiber, it suspends the
// caller instead of blocking its worker.
//
// Possible errors: [ErrPanicked].
func (f *Fiber) Join(ctx context.Context) error {
	wait(ctx, f.done)

	return f.err
}

func (f *Fiber) main() {
	<-f.wake

	defer func() {
		if r := recover(); r != nil {
			f.err = fmt.Errorf("fiber %d: %v: %w", f.id, r, ErrPanicked)
		}

		f.local.Exit(f.ctx)
		close(f.done)
		f.park <- parkReq{exited: true}
	}()

	f.fn(f.ctx)
}

func (f *Fiber) runOnThread() {
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		defer close(f.done)
		defer f.local.Exit(f.ctx)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("fiber %d: %v: %w", f.id, r, ErrPanicked)
			}
		}()

		f.fn(f.ctx)
	}()
}

func (f *Fiber) suspend(wait <-chan struct{}) {
	f.park <- parkReq{wait: wait}
	<-f.wake
}

// current returns the worker fiber running ctx, or nil for threads and
// OS-thread-backed fibers.
func current(ctx context.Context) *Fiber {
	f, _ := ctx.Value(fiberKey{}).(*Fiber)
	if f == nil || f.osThread {
		return nil
	}

	return f
}

// wait blocks until ch is closed, suspending the caller if it is a fiber.
func wait(ctx context.Context, ch <-chan struct{}) {
	if f := current(ctx); f != nil {
		select {
		case <-ch:
			return
		default:
		}

		f.suspend(ch)

		return
	}

	<-ch
}

// WorkerID returns the id of the worker running ctx, or -1 if ctx is not
// running on a worker.
func WorkerID(ctx context.Context) int {
	l := fls.FromContext(ctx)
	if l == nil || l.Worker() == nil {
		return -1
	}

	return l.Worker().ID()
}
