package fiber_test

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/fiberlocal/pkg/fiber"
	"github.com/calvinalkan/fiberlocal/pkg/fls"
)

func Test_Scheduler_Runs_Every_Fiber_When_Fibers_Yield(t *testing.T) {
	t.Parallel()

	s := fiber.NewScheduler(fiber.Options{Workers: 2})
	ctx := context.Background()

	var steps atomic.Int64

	fibers := make([]*fiber.Fiber, 0, 50)

	for range 50 {
		f, err := s.Start(ctx, fiber.Attr{}, func(ctx context.Context) {
			for range 10 {
				steps.Add(1)
				fiber.Yield(ctx)
			}
		})
		require.NoError(t, err)

		fibers = append(fibers, f)
	}

	for _, f := range fibers {
		require.NoError(t, f.Join(ctx))
	}

	require.NoError(t, s.Close())
	require.Equal(t, int64(500), steps.Load())
}

func Test_Sleep_Frees_Worker_When_Fiber_Sleeps(t *testing.T) {
	t.Parallel()

	s := fiber.NewScheduler(fiber.Options{Workers: 1})
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	var ran atomic.Bool

	sleeper, err := s.Start(ctx, fiber.Attr{}, func(ctx context.Context) {
		fiber.Sleep(ctx, 50*time.Millisecond)
		assert.True(t, ran.Load(), "other fiber must run while this one sleeps")
	})
	require.NoError(t, err)

	other, err := s.Start(ctx, fiber.Attr{}, func(context.Context) { ran.Store(true) })
	require.NoError(t, err)

	require.NoError(t, sleeper.Join(ctx))
	require.NoError(t, other.Join(ctx))
}

func Test_Join_Suspends_Fiber_When_Joining_From_Fiber(t *testing.T) {
	t.Parallel()

	// A single worker deadlocks if Join blocks the worker.
	s := fiber.NewScheduler(fiber.Options{Workers: 1})
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	var order []string

	var mu sync.Mutex

	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	parent, err := s.Start(ctx, fiber.Attr{}, func(ctx context.Context) {
		child, err := s.Start(ctx, fiber.Attr{}, func(ctx context.Context) {
			fiber.Yield(ctx)
			record("child")
		})
		if !assert.NoError(t, err) {
			return
		}

		assert.NoError(t, child.Join(ctx))
		record("parent")
	})
	require.NoError(t, err)
	require.NoError(t, parent.Join(ctx))

	require.Equal(t, []string{"child", "parent"}, order)
}

func Test_Join_Returns_ErrPanicked_When_Fiber_Panics(t *testing.T) {
	t.Parallel()

	s := fiber.NewScheduler(fiber.Options{Workers: 1})
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	f, err := s.Start(ctx, fiber.Attr{}, func(context.Context) { panic("boom") })
	require.NoError(t, err)

	err = f.Join(ctx)
	require.ErrorIs(t, err, fiber.ErrPanicked)
	require.Contains(t, err.Error(), "boom")

	// The worker survives the panic.
	f, err = s.Start(ctx, fiber.Attr{}, func(context.Context) {})
	require.NoError(t, err)
	require.NoError(t, f.Join(ctx))

	th := fiber.StartThread(ctx, func(context.Context) { panic("thread boom") })
	require.ErrorIs(t, th.Join(ctx), fiber.ErrPanicked)
}

func Test_Start_Returns_ErrClosed_When_Scheduler_Closed(t *testing.T) {
	t.Parallel()

	s := fiber.NewScheduler(fiber.Options{Workers: 1})
	require.NoError(t, s.Close())

	_, err := s.Start(context.Background(), fiber.Attr{}, func(context.Context) {})
	require.ErrorIs(t, err, fiber.ErrClosed)

	_, err = s.Start(context.Background(), fiber.Attr{OSThread: true}, func(context.Context) {})
	require.ErrorIs(t, err, fiber.ErrClosed)

	require.ErrorIs(t, s.Close(), fiber.ErrClosed)
}

func Test_Close_Waits_For_Fibers_When_Fibers_Are_Sleeping(t *testing.T) {
	t.Parallel()

	s := fiber.NewScheduler(fiber.Options{Workers: 2})
	ctx := context.Background()

	var done atomic.Int64

	for range 10 {
		_, err := s.Start(ctx, fiber.Attr{}, func(ctx context.Context) {
			fiber.Sleep(ctx, 10*time.Millisecond)
			done.Add(1)
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.Close())
	require.Equal(t, int64(10), done.Load())
}

func Test_WorkerInit_Values_Are_Finalized_When_Scheduler_Closes(t *testing.T) {
	t.Parallel()

	const workers = 3

	var destroyed atomic.Int64

	key, err := fls.CreateKey(func(context.Context, any) { destroyed.Add(1) })
	require.NoError(t, err)

	s := fiber.NewScheduler(fiber.Options{
		Workers: workers,
		WorkerInit: func(ctx context.Context) {
			assert.Equal(t, fls.KindThread, fls.FromContext(ctx).Kind())
			assert.NoError(t, fls.Set(ctx, key, "worker"))
		},
	})

	ctx := context.Background()

	f, err := s.Start(ctx, fiber.Attr{}, func(ctx context.Context) {
		assert.Nil(t, fls.Get(ctx, key), "fibers must not see the worker's value")
	})
	require.NoError(t, err)
	require.NoError(t, f.Join(ctx))

	require.NoError(t, s.Close())
	require.Equal(t, int64(workers), destroyed.Load())

	require.NoError(t, fls.DeleteKey(key))
}

func Test_Workers_Reports_Distinct_Thread_IDs_When_Running_On_Linux(t *testing.T) {
	t.Parallel()

	if runtime.GOOS != "linux" {
		t.Skip("thread ids are only reported on linux")
	}

	s := fiber.NewScheduler(fiber.Options{Workers: 4})
	t.Cleanup(func() { _ = s.Close() })

	require.Eventually(t, func() bool {
		for _, w := range s.Workers() {
			if w.TID < 0 {
				return false
			}
		}

		return true
	}, 5*time.Second, time.Millisecond)

	seen := make(map[int]bool)

	for i, w := range s.Workers() {
		require.Equal(t, i, w.ID)
		require.False(t, seen[w.TID], "tid %d reported twice", w.TID)

		seen[w.TID] = true
	}
}

func Test_WorkerID_Reports_Worker_When_Called_From_Fiber(t *testing.T) {
	t.Parallel()

	s := fiber.NewScheduler(fiber.Options{Workers: 2})
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	require.Equal(t, -1, fiber.WorkerID(ctx))

	f, err := s.Start(ctx, fiber.Attr{}, func(ctx context.Context) {
		id := fiber.WorkerID(ctx)
		assert.GreaterOrEqual(t, id, 0)
		assert.Less(t, id, 2)
	})
	require.NoError(t, err)
	require.NoError(t, f.Join(ctx))

	pf, err := s.Start(ctx, fiber.Attr{OSThread: true}, func(ctx context.Context) {
		assert.Equal(t, -1, fiber.WorkerID(ctx))
		assert.Equal(t, fls.KindFiber, fls.FromContext(ctx).Kind())
	})
	require.NoError(t, err)
	require.NoError(t, pf.Join(ctx))
}

func Test_StartThread_Reports_Thread_ID_When_Running(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	th := fiber.StartThread(ctx, func(ctx context.Context) {
		assert.Equal(t, fls.KindThread, fls.FromContext(ctx).Kind())
		fiber.Yield(ctx)
		fiber.Sleep(ctx, time.Millisecond)
	})
	require.NoError(t, th.Join(ctx))

	if runtime.GOOS == "linux" {
		require.Positive(t, th.TID())
	} else {
		require.Equal(t, -1, th.TID())
	}
}
