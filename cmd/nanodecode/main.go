package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/nanoflight-decoder/internal/batch"
	"github.com/skypro1111/nanoflight-decoder/internal/config"
	"github.com/skypro1111/nanoflight-decoder/internal/decoder"
	"github.com/skypro1111/nanoflight-decoder/internal/metrics"
	"github.com/skypro1111/nanoflight-decoder/internal/server"
)

const (
	serviceName    = "nanodecode"
	serviceVersion = "1.0.0"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to configuration file (defaults are used when omitted)",
}

func main() {
	app := &cli.App{
		Name:    serviceName,
		Usage:   "Decode flight recorder binary logs into text",
		Version: serviceVersion,
		Commands: []*cli.Command{
			decodeCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode one or more log files into <file><suffix>",
		ArgsUsage: "<log file>...",
		Flags: []cli.Flag{
			configFlag,
			&cli.BoolFlag{
				Name:  "stdout",
				Usage: "Write decoded lines to stdout instead of an output file (single input only)",
			},
			&cli.StringFlag{
				Name:  "suffix",
				Usage: "Override the output file suffix",
			},
		},
		Action: decodeAction,
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP decode API",
		Flags:  []cli.Flag{configFlag},
		Action: serveAction,
	}
}

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	batchMgr *batch.Manager
}

func setup(c *cli.Context) (*app, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}
	if c.IsSet("suffix") {
		cfg.Decoder.OutputSuffix = c.String("suffix")
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger := initLogger(loggingFor(cfg.Logging, c.Bool("stdout")))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	batchMgr := batch.NewManager(batch.Config{
		Version:      cfg.Decoder.Version(),
		OutputSuffix: cfg.Decoder.OutputSuffix,
		MaxParallel:  cfg.Decoder.MaxParallel,
		BufferSize:   cfg.Decoder.BufferSize,
	}, logger, m)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		batchMgr: batchMgr,
	}, nil
}

func decodeAction(c *cli.Context) error {
	inputs := c.Args().Slice()
	if len(inputs) == 0 {
		return cli.Exit("at least one log file is required", 2)
	}
	if c.Bool("stdout") && len(inputs) != 1 {
		return cli.Exit("--stdout accepts exactly one log file", 2)
	}

	a, err := setup(c)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a.logger.Debug("Decoding logs",
		slog.Int("files", len(inputs)),
		slog.Int("protocol_version", a.cfg.Decoder.ProtocolVersion),
		slog.Int("max_parallel", a.cfg.Decoder.MaxParallel),
	)

	if c.Bool("stdout") {
		return decodeToStdout(ctx, a, inputs[0])
	}

	results, err := a.batchMgr.DecodeFiles(ctx, inputs)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d logs failed to decode", failed, len(results))
	}
	return nil
}

func decodeToStdout(ctx context.Context, a *app, input string) error {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()

	sink := decoder.NewLineWriter(os.Stdout)
	result := a.batchMgr.DecodeStream(ctx, input, in, sink)
	if err := sink.Flush(); err != nil && result.Err == nil {
		return err
	}
	return result.Err
}

func serveAction(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}

	a.logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", c.String("config")),
		slog.String("address", a.cfg.HTTP.ListenAddress()),
		slog.Int("protocol_version", a.cfg.Decoder.ProtocolVersion),
	)

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpServer := server.NewHTTPServer(a.cfg, a.logger, a.batchMgr, a.metrics, a.registry)
	if err := httpServer.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var serveErr error
		select {
		case <-gctx.Done():
		case serveErr = <-httpServer.Err():
		}
		if serveErr != nil {
			return fmt.Errorf("http server failed: %w", serveErr)
		}
		a.logger.Info("Starting graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("HTTP server stopped with error", slog.String("error", err.Error()))
		return err
	}

	totals := a.batchMgr.Totals()
	a.logger.Info("Service stopped",
		slog.Uint64("jobs", totals.Jobs),
		slog.Uint64("failed", totals.Failed),
		slog.Uint64("records", totals.Records),
	)
	return nil
}

// loggingFor keeps log records out of stdout while decoded lines are
// written there.
func loggingFor(cfg config.LoggingConfig, decodedToStdout bool) config.LoggingConfig {
	if decodedToStdout && cfg.Output == "stdout" {
		cfg.Output = "stderr"
	}
	return cfg
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Decoded lines may go to stdout, so logs default to stderr.
	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
