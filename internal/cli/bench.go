package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	fileatomic "github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fiberlocal/internal/config"
	"github.com/calvinalkan/fiberlocal/pkg/fiber"
	"github.com/calvinalkan/fiberlocal/pkg/fls"
)

var errUnknownScenario = errors.New("unknown scenario")

const (
	scenarioFiberChurn   = "fiber-churn"
	scenarioBorrowReturn = "borrow-return"
	scenarioKeyChurn     = "key-churn"
)

var allScenarios = []string{scenarioFiberChurn, scenarioBorrowReturn, scenarioKeyChurn}

type benchOptions struct {
	fibers    int
	keys      int
	ops       int
	out       string
	scenarios []string
}

// benchReport is what --out writes.
type benchReport struct {
	Started       time.Time     `json:"started"`
	GoVersion     string        `json:"go_version"`
	GOMAXPROCS    int           `json:"gomaxprocs"`
	Config        config.Config `json:"config"`
	Results       []benchResult `json:"results"`
	DroppedValues int64         `json:"dropped_values"` //nolint:tagliatelle // snake_case for report file
}

type benchResult struct {
	Name          string        `json:"name"`
	Ops           int           `json:"ops"`
	Elapsed       time.Duration `json:"elapsed_ns"`               //nolint:tagliatelle // snake_case for report file
	NsPerOp       float64       `json:"ns_per_op"`                //nolint:tagliatelle // snake_case for report file
	TablesCreated int           `json:"tables_created,omitempty"` //nolint:tagliatelle // snake_case for report file
	TablesFree    int           `json:"tables_free,omitempty"`    //nolint:tagliatelle // snake_case for report file
}

func benchCmd() *Command {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)

	var opts benchOptions

	fs.IntVar(&opts.fibers, "fibers", 10000, "fibers started by fiber-churn")
	fs.IntVar(&opts.keys, "keys", 8, "keys each fiber sets in fiber-churn")
	fs.IntVar(&opts.ops, "ops", 100000, "operations in borrow-return and key-churn")
	fs.StringVarP(&opts.out, "out", "o", "", "write a JSON report to `file`")
	fs.StringSliceVarP(&opts.scenarios, "scenario", "s", allScenarios, "scenarios to run")

	return &Command{
		Flags: fs,
		Usage: "bench [flags]",
		Short: "Run churn scenarios against fiber local storage",
		Long: "Run churn scenarios against fiber local storage and print a summary.\n\n" +
			"Scenarios:\n" +
			"  fiber-churn     start pooled fibers that set, yield and read keys\n" +
			"  borrow-return   borrow and return tables on every worker\n" +
			"  key-churn       create, set and delete keys on one thread",
		Exec: func(ctx context.Context, o *IO, env Env, _ []string) error {
			return execBench(ctx, o, env, opts)
		},
	}
}

func execBench(ctx context.Context, o *IO, env Env, opts benchOptions) error {
	for _, name := range opts.scenarios {
		if !slices.Contains(allScenarios, name) {
			return fmt.Errorf("%w: %s", errUnknownScenario, name)
		}
	}

	if opts.fibers <= 0 || opts.keys <= 0 || opts.ops <= 0 {
		return fmt.Errorf("--fibers, --keys and --ops %w", errFlagNotPositive)
	}

	report := benchReport{
		Started:    time.Now().UTC(),
		GoVersion:  runtime.Version(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		Config:     env.Config,
	}

	droppedBefore := fls.DroppedValues()

	o.Printf("%-14s %10s %14s %12s %9s\n", "scenario", "ops", "elapsed", "ns/op", "tables")

	for _, name := range opts.scenarios {
		var (
			res benchResult
			err error
		)

		switch name {
		case scenarioFiberChurn:
			res, err = benchFiberChurn(ctx, o, env.Config, opts)
		case scenarioBorrowReturn:
			res, err = benchBorrowReturn(ctx, env.Config, opts)
		case scenarioKeyChurn:
			res, err = benchKeyChurn(ctx, opts)
		}

		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		res.Name = name
		if res.Ops > 0 {
			res.NsPerOp = float64(res.Elapsed.Nanoseconds()) / float64(res.Ops)
		}

		report.Results = append(report.Results, res)

		o.Printf("%-14s %10d %14s %12.1f %9d\n",
			res.Name, res.Ops, res.Elapsed.Round(time.Microsecond), res.NsPerOp, res.TablesCreated)
	}

	report.DroppedValues = fls.DroppedValues() - droppedBefore
	if report.DroppedValues > 0 {
		o.Warn("%d values dropped after %d finalize passes", report.DroppedValues, fls.MaxFinalizePasses)
	}

	if opts.out == "" {
		return nil
	}

	return writeReport(o, env.WorkDir, opts.out, report)
}

func writeReport(o *IO, workDir, path string, report benchReport) error {
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	err = fileatomic.WriteFile(path, bytes.NewReader(append(data, '\n')))
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	o.Println("wrote", path)

	return nil
}

// benchFiberChurn starts pooled fibers that each set every key, yield, and
// check their values survived the yield.
func benchFiberChurn(ctx context.Context, o *IO, cfg config.Config, opts benchOptions) (benchResult, error) {
	var destroyed, mismatched atomic.Int64

	keys := make([]fls.Key, 0, opts.keys)

	defer func() {
		for _, k := range keys {
			_ = fls.DeleteKey(k)
		}
	}()

	for range opts.keys {
		k, err := fls.CreateKey(func(context.Context, any) { destroyed.Add(1) })
		if err != nil {
			return benchResult{}, err
		}

		keys = append(keys, k)
	}

	s := fiber.NewScheduler(fiber.Options{Workers: cfg.Workers})
	pool := fls.NewPool(cfg.PoolOptions())

	start := time.Now()

	fibers := make([]*fiber.Fiber, 0, opts.fibers)

	for i := range opts.fibers {
		f, err := s.Start(ctx, fiber.Attr{Pool: pool}, func(ctx context.Context) {
			for j, k := range keys {
				_ = fls.Set(ctx, k, i*len(keys)+j)
			}

			fiber.Yield(ctx)

			for j, k := range keys {
				if fls.Get(ctx, k) != i*len(keys)+j {
					mismatched.Add(1)
				}
			}
		})
		if err != nil {
			_ = s.Close()

			return benchResult{}, err
		}

		fibers = append(fibers, f)
	}

	for _, f := range fibers {
		err := f.Join(ctx)
		if err != nil {
			_ = s.Close()

			return benchResult{}, err
		}
	}

	elapsed := time.Since(start)

	err := s.Close()
	if err != nil {
		return benchResult{}, err
	}

	st, err := pool.Stat()
	if err != nil {
		return benchResult{}, err
	}

	_ = pool.Destroy()

	if n := mismatched.Load(); n > 0 {
		o.Warn("fiber-churn: %d values read back wrong", n)
	}

	if want := int64(opts.fibers * opts.keys); destroyed.Load() != want {
		o.Warn("fiber-churn: %d destructor calls, want %d", destroyed.Load(), want)
	}

	return benchResult{
		Ops:           opts.fibers,
		Elapsed:       elapsed,
		TablesCreated: st.Created,
		TablesFree:    st.Free,
	}, nil
}

// benchBorrowReturn runs one fiber per worker that borrows and returns
// tables in bursts large enough to make the pool refill and spill.
func benchBorrowReturn(ctx context.Context, cfg config.Config, opts benchOptions) (benchResult, error) {
	s := fiber.NewScheduler(fiber.Options{Workers: cfg.Workers})
	pool := fls.NewPool(cfg.PoolOptions())

	burst := max(1, 2*pool.Options().BorrowBatch)
	perWorker := max(1, opts.ops/cfg.Workers)

	start := time.Now()

	fibers := make([]*fiber.Fiber, 0, cfg.Workers)

	for range cfg.Workers {
		f, err := s.Start(ctx, fiber.Attr{Pool: pool}, func(ctx context.Context) {
			held := make([]*fls.KeyTable, 0, burst)

			for done := 0; done < perWorker; {
				w := fls.FromContext(ctx).Worker()

				for ; len(held) < burst && done < perWorker; done++ {
					held = append(held, pool.Borrow(w))
				}

				for _, t := range held {
					pool.Return(w, t)
				}

				held = held[:0]

				fiber.Yield(ctx)
			}
		})
		if err != nil {
			_ = s.Close()

			return benchResult{}, err
		}

		fibers = append(fibers, f)
	}

	for _, f := range fibers {
		err := f.Join(ctx)
		if err != nil {
			_ = s.Close()

			return benchResult{}, err
		}
	}

	elapsed := time.Since(start)

	err := s.Close()
	if err != nil {
		return benchResult{}, err
	}

	st, err := pool.Stat()
	if err != nil {
		return benchResult{}, err
	}

	_ = pool.Destroy()

	return benchResult{
		Ops:           perWorker * cfg.Workers,
		Elapsed:       elapsed,
		TablesCreated: st.Created,
		TablesFree:    st.Free,
	}, nil
}

// benchKeyChurn creates, sets and deletes a key per op on a single thread.
func benchKeyChurn(ctx context.Context, opts benchOptions) (benchResult, error) {
	var (
		elapsed time.Duration
		runErr  error
	)

	th := fiber.StartThread(ctx, func(ctx context.Context) {
		start := time.Now()

		for i := range opts.ops {
			k, err := fls.CreateKey(nil)
			if err != nil {
				runErr = err

				return
			}

			err = fls.Set(ctx, k, i)
			if err == nil {
				err = fls.DeleteKey(k)
			}

			if err != nil {
				runErr = err

				return
			}
		}

		elapsed = time.Since(start)
	})

	err := th.Join(ctx)
	if err != nil {
		return benchResult{}, err
	}

	if runErr != nil {
		return benchResult{}, runErr
	}

	return benchResult{Ops: opts.ops, Elapsed: elapsed}, nil
}
