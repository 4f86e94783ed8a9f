// Package cli implements the fls command-line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fiberlocal/internal/config"
	"github.com/calvinalkan/fiberlocal/pkg/fls"
)

var errFlagNotPositive = errors.New("must be positive")

type globalFlags struct {
	workDir       string
	configPath    string
	verbose       bool
	localCapacity int
	borrowBatch   int
	workers       int
}

func newGlobalFlagSet(g *globalFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("fls", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(&strings.Builder{})

	fs.StringVarP(&g.workDir, "cwd", "C", "", "run as if started in `dir`")
	fs.StringVarP(&g.configPath, "config", "c", "", "use config `file` instead of .fls.json")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "log debug diagnostics to stderr")
	fs.IntVar(&g.localCapacity, "local-capacity", 0, "per-worker pool free list bound")
	fs.IntVar(&g.borrowBatch, "borrow-batch", 0, "tables moved per pool refill or spill")
	fs.IntVar(&g.workers, "workers", 0, "scheduler worker threads")

	return fs
}

func commands() []*Command {
	return []*Command{
		benchCmd(),
		replCmd(),
		printConfigCmd(),
	}
}

// Run is the main entry point. Returns exit code.
//
// in is the REPL's input; nil means the terminal. env, when non-nil,
// replaces the process environment for config lookup.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string) int {
	errOut = &lockedWriter{w: errOut}

	var g globalFlags

	fs := newGlobalFlagSet(&g)

	if len(args) > 0 {
		args = args[1:]
	}

	err := fs.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, fs)

			return 0
		}

		fprintln(errOut, "error:", err)
		printUsage(errOut, fs)

		return 1
	}

	for name, v := range map[string]int{
		"local-capacity": g.localCapacity,
		"borrow-batch":   g.borrowBatch,
		"workers":        g.workers,
	} {
		if fs.Changed(name) && v <= 0 {
			fprintln(errOut, "error:", fmt.Errorf("%w: --%s %w", config.ErrConfigInvalid, name, errFlagNotPositive))

			return 1
		}
	}

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(out, fs)

		return 0
	}

	workDir := g.workDir
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			fprintln(errOut, "error: cannot get working directory:", err)

			return 1
		}
	}

	overrides := config.Overrides{
		LocalCapacity: g.localCapacity,
		BorrowBatch:   g.borrowBatch,
		Workers:       g.workers,
	}

	cfg, sources, err := config.Load(workDir, g.configPath, overrides, env)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	err = fls.SetDefaultPoolOptions(cfg.PoolOptions())
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	fls.SetLogger(&writerLogger{w: errOut, debug: g.verbose})
	defer fls.SetLogger(nil)

	name := rest[0]

	for _, cmd := range commands() {
		if cmd.Name() != name {
			continue
		}

		cmdEnv := Env{Config: cfg, Sources: sources, WorkDir: workDir, In: in}

		return cmd.Run(context.Background(), NewIO(out, errOut), cmdEnv, rest[1:])
	}

	fprintln(errOut, "error: unknown command:", name)
	printUsage(errOut, fs)

	return 1
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fprintln(w, "Usage: fls [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands() {
		fprintln(w, cmd.HelpLine())
	}

	fprintln(w)
	fprintln(w, "Global flags:")

	var buf strings.Builder
	fs.SetOutput(&buf)
	fs.PrintDefaults()
	fs.SetOutput(&strings.Builder{})

	_, _ = fmt.Fprint(w, buf.String())
	fprintln(w)
	fprintln(w, "Run 'fls <command> --help' for command flags.")
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}
