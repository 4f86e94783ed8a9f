package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fiberlocal/pkg/fiber"
	"github.com/calvinalkan/fiberlocal/pkg/fls"
)

var (
	errUnknownKey = errors.New("unknown key")
	errKeyExists  = errors.New("key already exists")
	errUsage      = errors.New("usage")
)

func replCmd() *Command {
	return &Command{
		Flags: flag.NewFlagSet("repl", flag.ContinueOnError),
		Usage: "repl",
		Short: "Interactive shell on a thread context",
		Long: "Start an interactive shell. Commands run on one OS thread with its own\n" +
			"local storage; 'spawn' runs a fiber on the scheduler. Type 'help' inside\n" +
			"the shell for commands.",
		Exec: func(ctx context.Context, o *IO, env Env, _ []string) error {
			return execRepl(ctx, o, env)
		},
	}
}

// lineReader is the part of *liner.State the REPL uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// scriptReader feeds the REPL from a non-terminal reader.
type scriptReader struct {
	sc *bufio.Scanner
}

func (s *scriptReader) Prompt(string) (string, error) {
	if !s.sc.Scan() {
		err := s.sc.Err()
		if err == nil {
			err = io.EOF
		}

		return "", err
	}

	return s.sc.Text(), nil
}

func (s *scriptReader) AppendHistory(string) {}

func (s *scriptReader) Close() error { return nil }

// REPL is the interactive command loop.
type REPL struct {
	sched *fiber.Scheduler
	pool  *fls.Pool
	in    lineReader
	liner *liner.State

	outMu sync.Mutex
	out   io.Writer

	keysMu sync.Mutex
	keys   map[string]fls.Key
}

func execRepl(ctx context.Context, o *IO, env Env) error {
	r := &REPL{
		sched: fiber.NewScheduler(fiber.Options{Workers: env.Config.Workers}),
		pool:  fls.NewPool(env.Config.PoolOptions()),
		out:   o.Out(),
		keys:  make(map[string]fls.Key),
	}

	if env.In != nil {
		r.in = &scriptReader{sc: bufio.NewScanner(env.In)}
	} else {
		r.liner = liner.NewLiner()
		r.liner.SetCtrlCAborts(true)
		r.liner.SetCompleter(r.completer)
		r.loadHistory()
		r.in = r.liner
	}

	var runErr error

	th := fiber.StartThread(ctx, func(ctx context.Context) {
		runErr = r.loop(ctx)
	})

	joinErr := th.Join(ctx)

	_ = r.in.Close()
	closeErr := r.sched.Close()
	_ = r.pool.Destroy()

	r.keysMu.Lock()
	for _, k := range r.keys {
		_ = fls.DeleteKey(k)
	}
	r.keysMu.Unlock()

	return errors.Join(runErr, joinErr, closeErr)
}

func (r *REPL) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()

	_, _ = fmt.Fprintf(r.out, format, args...)
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".fls_history")
}

func (r *REPL) loadHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	f, err := os.Open(path) //nolint:gosec // fixed path under home
	if err != nil {
		return
	}

	_, _ = r.liner.ReadHistory(f)
	_ = f.Close()
}

func (r *REPL) saveHistory() {
	if r.liner == nil {
		return
	}

	path := historyFile()
	if path == "" {
		return
	}

	f, err := os.Create(path) //nolint:gosec // fixed path under home
	if err != nil {
		return
	}

	_, _ = r.liner.WriteHistory(f)
	_ = f.Close()
}

var replCommands = []string{
	"create", "delete", "set", "get", "spawn",
	"keys", "stat", "info", "help", "exit", "quit",
}

func (r *REPL) completer(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range replCommands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

// loop runs on the REPL's own thread; ctx is that thread's context.
func (r *REPL) loop(ctx context.Context) error {
	defer r.saveHistory()

	r.printf("fls shell (%d workers, max %d keys). Type 'help' for commands.\n",
		len(r.sched.Workers()), fls.MaxKeys)

	for {
		line, err := r.in.Prompt("fls> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r.in.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			return nil
		case "help", "?":
			r.printHelp()
		case "create":
			err = r.cmdCreate(args)
		case "delete", "del":
			err = r.cmdDelete(args)
		case "set":
			err = r.cmdSet(ctx, args)
		case "get":
			err = r.cmdGet(ctx, args)
		case "spawn":
			err = r.cmdSpawn(ctx, args)
		case "keys":
			r.cmdKeys()
		case "stat":
			err = r.cmdStat()
		case "info":
			r.cmdInfo(ctx)
		default:
			r.printf("unknown command: %s (type 'help' for commands)\n", cmd)
		}

		if err != nil {
			r.printf("error: %v\n", err)
		}
	}
}

func (r *REPL) printHelp() {
	r.printf("Commands:\n")
	r.printf("  create <name>                 Create a key whose destructor prints its value\n")
	r.printf("  delete <name>                 Delete a key\n")
	r.printf("  set <name> <value>            Set a value on the shell thread\n")
	r.printf("  get <name>                    Get the shell thread's value\n")
	r.printf("  spawn <name> <value> [nopool] Run a fiber that reads, then sets the key\n")
	r.printf("  keys                          List keys\n")
	r.printf("  stat                          Show pool and key counters\n")
	r.printf("  info                          Show workers and limits\n")
	r.printf("  help                          Show this help\n")
	r.printf("  exit / quit / q               Exit\n")
}

func (r *REPL) lookup(name string) (fls.Key, error) {
	r.keysMu.Lock()
	defer r.keysMu.Unlock()

	k, ok := r.keys[name]
	if !ok {
		return fls.Key{}, fmt.Errorf("%w: %s", errUnknownKey, name)
	}

	return k, nil
}

func (r *REPL) cmdCreate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: create <name>", errUsage)
	}

	name := args[0]

	if _, err := r.lookup(name); err == nil {
		return fmt.Errorf("%w: %s", errKeyExists, name)
	}

	k, err := fls.CreateKey(func(_ context.Context, v any) {
		r.printf("destroy %s: %v\n", name, v)
	})
	if err != nil {
		return err
	}

	r.keysMu.Lock()
	r.keys[name] = k
	r.keysMu.Unlock()

	r.printf("%s = %s\n", name, k)

	return nil
}

func (r *REPL) cmdDelete(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: delete <name>", errUsage)
	}

	k, err := r.lookup(args[0])
	if err != nil {
		return err
	}

	err = fls.DeleteKey(k)

	r.keysMu.Lock()
	delete(r.keys, args[0])
	r.keysMu.Unlock()

	if err != nil {
		return err
	}

	r.printf("deleted %s\n", args[0])

	return nil
}

func (r *REPL) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: set <name> <value>", errUsage)
	}

	k, err := r.lookup(args[0])
	if err != nil {
		return err
	}

	return fls.Set(ctx, k, strings.Join(args[1:], " "))
}

func (r *REPL) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: get <name>", errUsage)
	}

	k, err := r.lookup(args[0])
	if err != nil {
		return err
	}

	r.printf("%s: %v\n", args[0], fls.Get(ctx, k))

	return nil
}

func (r *REPL) cmdSpawn(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: spawn <name> <value> [nopool]", errUsage)
	}

	k, err := r.lookup(args[0])
	if err != nil {
		return err
	}

	value := args[1]

	attr := fiber.Attr{Pool: r.pool}
	if slices.Contains(args[2:], "nopool") {
		attr.Pool = nil
	}

	f, err := r.sched.Start(ctx, attr, func(ctx context.Context) {
		before := fls.Get(ctx, k)

		setErr := fls.Set(ctx, k, value)
		if setErr != nil {
			r.printf("fiber: set: %v\n", setErr)

			return
		}

		r.printf("fiber on worker %d: before=%v after=%v\n", fiber.WorkerID(ctx), before, fls.Get(ctx, k))
	})
	if err != nil {
		return err
	}

	return f.Join(ctx)
}

func (r *REPL) cmdKeys() {
	r.keysMu.Lock()
	names := make([]string, 0, len(r.keys))

	for name := range r.keys {
		names = append(names, name)
	}

	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("  %s = %s", name, r.keys[name]))
	}
	r.keysMu.Unlock()

	r.printf("%d keys (%d live process-wide)\n", len(names), fls.KeyCount())

	for _, line := range lines {
		r.printf("%s\n", line)
	}
}

func (r *REPL) cmdStat() error {
	st, err := r.pool.Stat()
	if err != nil {
		return err
	}

	r.printf("pool: free=%d created=%d\n", st.Free, st.Created)
	r.printf("keys: live=%d\n", fls.KeyCount())
	r.printf("dropped values: %d\n", fls.DroppedValues())

	return nil
}

func (r *REPL) cmdInfo(ctx context.Context) {
	opts := r.pool.Options()

	r.printf("max keys: %d, finalize passes: %d\n", fls.MaxKeys, fls.MaxFinalizePasses)
	r.printf("pool: local_capacity=%d borrow_batch=%d\n", opts.LocalCapacity, opts.BorrowBatch)

	if l := fls.FromContext(ctx); l != nil {
		r.printf("shell: %s\n", l.Kind())
	}

	for _, w := range r.sched.Workers() {
		r.printf("worker %d: tid=%d\n", w.ID, w.TID)
	}
}
