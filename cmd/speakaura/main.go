// Command speakaura analyses speech transcripts for stuttering disfluencies.
//
// Usage:
//
//	speakaura [-config speakaura.yaml] serve
//	speakaura [-config speakaura.yaml] analyze [-merge] [-o out.json] FILE...
//
// serve runs the HTTP API and hot-reloads the analysis policy when the config
// file changes. analyze runs each input file as its own analysis (or all of
// them as one with -merge), persists the results and prints a JSON report.
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

	"github.com/MrWong99/speakaura/internal/app"
	"github.com/MrWong99/speakaura/internal/config"
	"github.com/MrWong99/speakaura/internal/observe"
)

// version is overridden at link time.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(fs.Output(), "usage: speakaura [-config path] <serve|analyze> [args]\n\n")
		fs.PrintDefaults()
	}
}

func run(args []string) int {
	fs := flag.NewFlagSet("speakaura", flag.ContinueOnError)
	configPath := fs.String("config", "speakaura.yaml", "path to the YAML configuration file")
	fs.Usage = usage(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "speakaura: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "speakaura: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cfg.Server.LogFormat, level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd, rest := fs.Arg(0), fs.Args()[1:]; cmd {
	case "serve":
		return serve(ctx, *configPath, cfg, level)
	case "analyze":
		return analyze(ctx, cfg, level, rest)
	default:
		fmt.Fprintf(os.Stderr, "speakaura: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
}

// newLogger builds the process logger. Logs always go to stderr so that
// analyze can write its report to stdout.
func newLogger(format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func serve(ctx context.Context, configPath string, cfg *config.Config, level *slog.LevelVar) int {
	slog.Info("speakaura starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	shutdownTelemetry, err := initTelemetry(ctx, cfg.Server.Telemetry)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, code := newApp(ctx, cfg, level)
	if application == nil {
		return code
	}

	watcher, err := config.NewWatcher(configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go watcher.Run(ctx)
	}

	slog.Info("server ready; press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// initTelemetry installs the OTel providers described by tc and returns
// their shutdown func. Spans from the stdout exporter go to tc.TraceFile, or
// stderr when it is empty.
func initTelemetry(ctx context.Context, tc config.TelemetryConfig) (func(context.Context) error, error) {
	pc := observe.ProviderConfig{ServiceName: tc.ServiceName, ServiceVersion: version}
	var traceFile *os.File
	if tc.Traces == config.TraceExporterStdout {
		var w io.Writer = os.Stderr
		if tc.TraceFile != "" {
			f, err := os.OpenFile(tc.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open trace file: %w", err)
			}
			traceFile, w = f, f
		}
		exp, err := observe.NewStdoutTraceExporter(w)
		if err != nil {
			closeTraceFile(traceFile)
			return nil, err
		}
		pc.TraceExporter = exp
	}

	tel, err := observe.InitProvider(ctx, pc)
	if err != nil {
		closeTraceFile(traceFile)
		return nil, err
	}
	slog.Info("telemetry initialised", "service", tc.ServiceName, "traces", tc.Traces)
	return func(ctx context.Context) error {
		err := tel.Shutdown(ctx)
		if traceFile != nil {
			err = errors.Join(err, traceFile.Close())
		}
		return err
	}, nil
}

func closeTraceFile(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}

// newApp builds providers and the application. On failure it logs and
// returns a nil App with the exit code.
func newApp(ctx context.Context, cfg *config.Config, level *slog.LevelVar) (*app.App, int) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return nil, 1
	}
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return nil, 1
	}
	return application, 0
}
