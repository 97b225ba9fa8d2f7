// Command testtrace records Go test runs as trace spans.
//
// Pipe `go test -json` through it to export one span per test:
//
//	go test -json ./... | testtrace
//
// or run it with -serve and POST test2json streams to /events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"testtrace/internal/ci"
	"testtrace/internal/config"
	"testtrace/internal/gotestjson"
	"testtrace/internal/trace"
)

// version is set at build time via -ldflags.
var version = "dev"

// errTestsFailed makes the process exit non-zero without an extra message;
// go test has already reported the failures.
var errTestsFailed = errors.New("tests failed")

// cliFlags holds the parsed command line. Empty values fall back to config.
type cliFlags struct {
	root      string
	listen    string
	serve     bool
	logFormat string
	quiet     bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("testtrace", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&f.root, "root", "", "module directory; suites are named relative to its go.mod module path (default TESTTRACE_ROOT_DIR or cwd)")
	fs.StringVar(&f.listen, "listen", "", "listen address in -serve mode (default TESTTRACE_LISTEN_ADDR)")
	fs.BoolVar(&f.serve, "serve", false, "receive test2json events over HTTP instead of stdin")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format: text or json")
	fs.BoolVar(&f.quiet, "quiet", false, "do not copy stdin to stdout")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: go test -json ./... | testtrace [flags]\n")
		fmt.Fprintf(stderr, "       testtrace -serve [flags]\n\n")
		fmt.Fprintf(stderr, "testtrace exports one span per test of a go test -json stream.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	if f.logFormat != "text" && f.logFormat != "json" {
		return cliFlags{}, fmt.Errorf("-log-format must be text or json, got %q", f.logFormat)
	}
	return f, nil
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(ctx context.Context, f cliFlags, stdin io.Reader, stdout, stderr io.Writer) error {
	// Load .env file if present.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = applyFlags(cfg, f)
	level, _ := cfg.SlogLevel()
	logger := newLogger(stderr, f.logFormat, level)
	slog.SetDefault(logger)

	provider, err := trace.NewProvider(ctx,
		trace.WithEndpoint(cfg.OTLPEndpoint, cfg.OTLPInsecure),
		trace.WithServiceName(cfg.ServiceName, version),
		trace.WithBatchTimeout(cfg.BatchTimeout),
		trace.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		// Shutdown must not inherit a cancelled signal context.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.FlushTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	recorder := newRecorder(cfg, provider, ci.FromEnv(), logger)

	if f.serve {
		return serve(ctx, cfg, recorder, logger)
	}

	tee := stdout
	if f.quiet {
		tee = nil
	}
	return pipe(ctx, stdin, tee, recorder, logger)
}

// applyFlags overrides config with the flags that were set.
func applyFlags(cfg config.Config, f cliFlags) config.Config {
	if f.root != "" {
		cfg.RootDir = f.root
	}
	if f.listen != "" {
		cfg.ListenAddr = f.listen
	}
	return cfg
}

func newRecorder(cfg config.Config, provider *trace.Provider, metadata map[string]string, logger *slog.Logger) *gotestjson.Recorder {
	return gotestjson.NewRecorder(provider,
		gotestjson.WithLogger(logger),
		gotestjson.WithMeter(provider.Meter("testtrace/gotestjson")),
		gotestjson.WithRootDir(cfg.RootDir),
		gotestjson.WithMetadata(metadata),
		gotestjson.WithFlushTimeout(cfg.FlushTimeout),
	)
}

func pipe(ctx context.Context, in io.Reader, tee io.Writer, recorder *gotestjson.Recorder, logger *slog.Logger) error {
	decodeErr := recorder.Decode(ctx, in, tee)
	if err := recorder.Close(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("spans may be lost", "error", err)
	}
	if decodeErr != nil {
		return decodeErr
	}
	logger.Debug("recorded tests", "count", recorder.Tests())
	if recorder.Failed() {
		return errTestsFailed
	}
	return nil
}

func serve(ctx context.Context, cfg config.Config, recorder *gotestjson.Recorder, logger *slog.Logger) error {
	server := gotestjson.NewServer(recorder, cfg.ListenAddr, cfg.MaxBodyBytes)
	if err := server.Start(); err != nil {
		return err
	}
	logger.Info("testtrace listening", "addr", server.Addr(), "version", version)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	return recorder.Close(stopCtx)
}

func main() {
	os.Exit(run0())
}

func run0() int {
	f, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, f, os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errTestsFailed) {
			fmt.Fprintf(os.Stderr, "testtrace: %v\n", err)
		}
		return 1
	}
	return 0
}
