package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jsmucr/drip/internal/config"
	"github.com/jsmucr/drip/internal/doctor"
	"github.com/jsmucr/drip/internal/history"
	"github.com/jsmucr/drip/internal/log"
	"github.com/jsmucr/drip/internal/pool"
	"github.com/jsmucr/drip/internal/wire"
	"github.com/jsmucr/drip/internal/workdir"
	"github.com/jsmucr/drip/internal/worker"
)

const version = "0.2.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		os.Exit(runRun(args))
	case "worker":
		os.Exit(runWorker(args))
	case "pool":
		os.Exit(runPoolNoun(args))
	case "history":
		os.Exit(runHistory(args))
	case "doctor":
		os.Exit(runDoctor(args))
	case "entries":
		os.Exit(runEntries(args))
	case "version":
		fmt.Printf("drip version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`drip - fast launcher backed by a pool of pre-started workers

Usage:
  drip <command> [flags]

Commands:
  run       Run an entry point through the pool (spawns replacements)
  pool      Pool maintenance: status, clean
  history   Show recent invocations
  entries   List registered entry points
  doctor    Validate configuration and pool health
  version   Show version information
  help      Show this help message

Run:
  drip run [--config P] [--classpath CP] [--property k=v]... <entry> [args...]

Pool:
  drip pool status [--config P]
  drip pool clean [--config P]

Environment:
  DRIP_SHUTDOWN     idle minutes before an unclaimed worker retires (0 disables)
  DRIP_INIT_CLASS   entry point invoked once per worker as warmup
  DRIP_INIT         newline-separated warmup arguments
  DRIP_CONFIG_DIR   configuration directory

Use 'drip <command> --help' for command-specific flags.
`)
}

// stringList collects repeatable flags.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.Service.LogLevel)
	return cfg, nil
}

func openLedger(ctx context.Context, cfg *config.Config) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}
	store, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: history disabled: %v\n", err)
		return nil
	}
	return store
}

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	classpath := fs.String("classpath", os.Getenv("DRIP_CLASSPATH"), "Code-resolution path handed to workers")
	var properties stringList
	fs.Var(&properties, "property", "Runtime property k=v (repeatable)")
	var runtimeFlags stringList
	fs.Var(&runtimeFlags, "runtime-flag", "Flag forwarded to spawned workers (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: drip run [flags] <entry> [args...]")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	ledger := openLedger(ctx, cfg)
	if ledger != nil {
		defer ledger.Close()
	}

	spec := pool.KeySpec{
		WorkDir:      cwd,
		RuntimeFlags: runtimeFlags,
		Classpath:    *classpath,
		EntryClass:   fs.Arg(0),
	}
	inv := &wire.Invocation{
		EntryPoint: fs.Arg(0),
		Args:       fs.Args()[1:],
		Properties: properties,
		Env:        environMap(),
	}

	mgr, err := pool.New(pool.Options{
		Root:   cfg.Pool.Root,
		Target: cfg.Pool.Size,
		Ledger: ledger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}

	res, err := mgr.Run(ctx, spec, inv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}
	return res.Code
}

// environMap snapshots the client environment so a pooled run sees the same
// variables a direct run would.
func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// runWorker is the internal entry for spawned worker processes. On the
// happy path the runtime exits the process itself and this never returns.
func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	dir := fs.String("dir", "", "Worker directory")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Usage: drip worker --dir <directory>")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	rt := worker.NewRuntime(workdir.New(*dir), worker.Options{
		IdleBudget: cfg.IdleBudget(),
		RepointOS:  true,
		LogLevel:   cfg.Service.LogLevel,
	})
	if err := rt.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "drip: worker failed: %v\n", err)
		return 1
	}
	return 0
}

func runPoolNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		printPoolHelp()
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "status":
		return runPoolStatus(actionArgs)
	case "clean":
		return runPoolClean(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown pool action: %s\n", action)
		return 1
	}
}

func printPoolHelp() {
	fmt.Print(`drip pool - worker pool maintenance

Usage:
  drip pool status [--config P]   Show workers per pool key
  drip pool clean  [--config P]   Remove directories of dead workers
`)
}

func runPoolStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}

	keys, err := poolKeys(cfg.Pool.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}
	if len(keys) == 0 {
		fmt.Println("No pools.")
		return 0
	}

	fmt.Printf("%-34s %5s %5s %5s\n", "POOL", "IDLE", "BUSY", "DEAD")
	for _, key := range keys {
		dirs, err := workdir.List(filepath.Join(cfg.Pool.Root, key))
		if err != nil {
			fmt.Fprintf(os.Stderr, "drip: scan %s: %v\n", key, err)
			continue
		}
		var idle, busy, dead int
		for _, d := range dirs {
			pid, pidErr := d.PID()
			switch {
			case pidErr != nil || !pool.ProbeAlive(pid):
				dead++
			case d.Locked():
				busy++
			default:
				idle++
			}
		}
		fmt.Printf("%-34s %5d %5d %5d\n", key, idle, busy, dead)
	}
	return 0
}

func runPoolClean(args []string) int {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}

	keys, err := poolKeys(cfg.Pool.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}

	removed := 0
	for _, key := range keys {
		dirs, err := workdir.List(filepath.Join(cfg.Pool.Root, key))
		if err != nil {
			continue
		}
		for _, d := range dirs {
			pid, pidErr := d.PID()
			if pidErr == nil && pool.ProbeAlive(pid) {
				continue
			}
			if err := d.Remove(); err != nil {
				fmt.Fprintf(os.Stderr, "drip: remove %s/%s: %v\n", key, d.Name(), err)
				continue
			}
			removed++
		}
		// Drop the key directory once it is empty.
		_ = os.Remove(filepath.Join(cfg.Pool.Root, key))
	}
	fmt.Printf("Removed %d worker directories.\n", removed)
	return 0
}

func poolKeys(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pool root: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	return keys, nil
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum rows to show")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}
	if !cfg.History.Enabled {
		fmt.Fprintln(os.Stderr, "drip: history is disabled in configuration")
		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	store, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}
	defer store.Close()

	records, err := store.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "drip: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(records) == 0 {
		fmt.Println("No invocations recorded.")
		return 0
	}
	for _, rec := range records {
		line := fmt.Sprintf("%s  %-6s exit=%d  %s",
			rec.CreatedAt.Local().Format(time.DateTime), rec.Mode, rec.ExitCode, rec.EntryPoint)
		if len(rec.Args) > 0 {
			line += " " + strings.Join(rec.Args, " ")
		}
		if rec.LastError != nil {
			line += "  error=" + *rec.LastError
		}
		fmt.Println(line)
	}
	return 0
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drip: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, nil).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "drip: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runEntries(args []string) int {
	if len(args) > 0 && isHelpToken(args[0]) {
		fmt.Println("Usage: drip entries")
		return 0
	}
	names := worker.Default().Names()
	if len(names) == 0 {
		fmt.Println("No entry points registered.")
		return 0
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return 0
}

func isHelpToken(s string) bool {
	return s == "help" || s == "--help" || s == "-h"
}
