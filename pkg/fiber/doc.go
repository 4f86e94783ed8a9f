// Package fiber runs fibers on a fixed set of OS worker threads.
//
// It is the scheduler that drives [fls]: every fiber, OS-thread-backed
// fiber and plain thread gets an [fls.Local] before its body runs and has
// it finalized after the body returns, even when the body panics.
//
// Fibers are cooperative. A fiber keeps its worker until it returns or
// suspends through [Yield], [Sleep] or [Fiber.Join]; when it resumes it may
// run on a different worker.
//
//	s := fiber.NewScheduler(fiber.Options{Workers: 4})
//	defer s.Close()
//
//	f, err := s.Start(ctx, fiber.Attr{Pool: pool}, func(ctx context.Context) {
//	    _ = fls.Set(ctx, key, value)
//	    fiber.Sleep(ctx, time.Millisecond)
//	    _ = fls.Get(ctx, key) // still value
//	})
//	err = f.Join(ctx)
package fiber
