// Package main runs one redemption and capacity analysis:
// fetch (or load) events → normalize → metrics → time series → withdrawal → reports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trove-capacity-lab/internal/config"
	"trove-capacity-lab/internal/logging"
	"trove-capacity-lab/internal/observability"
	"trove-capacity-lab/internal/pipeline"
	"trove-capacity-lab/internal/redemption"
	"trove-capacity-lab/internal/reporting"
	"trove-capacity-lab/internal/storage"
	chstore "trove-capacity-lab/internal/storage/clickhouse"
	"trove-capacity-lab/internal/storage/memory"
	"trove-capacity-lab/internal/storage/migrations"
	pgstore "trove-capacity-lab/internal/storage/postgres"
	"trove-capacity-lab/internal/subgraph"
	"trove-capacity-lab/internal/timeseries"
)

// Storage backends selectable with -store.
const (
	storeMemory     = "memory"
	storePostgres   = "postgres"
	storeClickhouse = "clickhouse"
)

type options struct {
	configPath  string
	eventsPath  string
	saveEvents  string
	outputDir   string
	store       string
	bucket      string
	deltaPct    string
	metricsAddr string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "config.yaml", "Path to YAML config (missing file uses defaults)")
	flag.StringVar(&opts.eventsPath, "events", "", "Load events from a JSON file instead of the subgraph")
	flag.StringVar(&opts.saveEvents, "save-events", "", "Write fetched events to a JSON file")
	flag.StringVar(&opts.outputDir, "output-dir", "", "Output directory for CSV and markdown (overrides config)")
	flag.StringVar(&opts.store, "store", storeMemory, "Result store: memory, postgres, clickhouse")
	flag.StringVar(&opts.bucket, "bucket", "", "Bucket granularity: day, hour, none (overrides config)")
	flag.StringVar(&opts.deltaPct, "delta-pct", "", "MCR debt cap delta pct formula: as_source, relative (overrides config)")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	flag.Parse()

	logger, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("analysis failed", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.bucket != "" {
		cfg.Analysis.Bucket = opts.bucket
	}
	if opts.deltaPct != "" {
		cfg.Analysis.DeltaPctFormula = opts.deltaPct
	}
	if opts.outputDir != "" {
		cfg.Output.Dir = opts.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	branches, err := cfg.BranchTable()
	if err != nil {
		return err
	}
	bucket, err := timeseries.ParseGranularity(cfg.Analysis.Bucket)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics("", nil)
	if opts.metricsAddr != "" {
		shutdown := serveMetrics(opts.metricsAddr, logger)
		defer shutdown()
	}

	rs, closeStore, err := openStore(ctx, opts.store, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	client := subgraph.NewHTTPClient(cfg.Subgraph.URL,
		subgraph.WithTimeout(cfg.Subgraph.Timeout),
		subgraph.WithMaxRetries(cfg.Subgraph.MaxRetries),
		subgraph.WithRetryDelay(cfg.Subgraph.RetryDelay),
		subgraph.WithRateLimit(cfg.Subgraph.RequestsPerSecond, cfg.Subgraph.Burst),
		subgraph.WithLogger(logger),
		subgraph.WithMetrics(metrics),
	)

	runner := pipeline.NewRunner(client, branches,
		pipeline.WithStore(rs),
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(logger),
		pipeline.WithBucket(bucket),
		pipeline.WithDeltaPct(redemption.DeltaPctFormula(cfg.Analysis.DeltaPctFormula)),
	)

	var events *pipeline.Events
	if opts.eventsPath != "" {
		events, err = pipeline.LoadEvents(opts.eventsPath)
		if err != nil {
			return err
		}
		logger.Info("loaded events",
			zap.String("path", opts.eventsPath),
			zap.Int("redemptions", len(events.Redemptions)),
			zap.Int("trove_updates", len(events.TroveUpdates)),
		)
	} else {
		events, err = runner.Fetch(ctx)
		if err != nil {
			return err
		}
		if opts.saveEvents != "" {
			if err := pipeline.SaveEvents(opts.saveEvents, events); err != nil {
				return err
			}
			logger.Info("saved events", zap.String("path", opts.saveEvents))
		}
	}

	result, err := runner.RunWithEvents(ctx, events)
	if err != nil {
		return err
	}

	report, err := reporting.NewGenerator(rs).Generate(ctx)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	files, err := writeOutputs(cfg.Output.Dir, result, report)
	if err != nil {
		return err
	}

	logger.Info("analysis completed",
		zap.Int("redemptions", len(result.Redemptions)),
		zap.Int("reserves", len(result.Reserves)),
		zap.Int("branch_states", len(result.Series.Branches)),
		zap.Int("active_rows", len(result.Active)),
		zap.Int("threshold_rows", len(result.Thresholds)),
		zap.Duration("duration", result.Duration),
	)
	for _, f := range files {
		fmt.Printf("  - %s\n", f)
	}
	return nil
}

// openStore builds the result store for the selected backend and runs its
// migrations. The returned func releases the connection.
func openStore(ctx context.Context, kind string, cfg *config.Config, logger *zap.Logger) (*storage.ResultStore, func(), error) {
	switch kind {
	case storeMemory:
		return memory.NewResultStore(), func() {}, nil

	case storePostgres:
		if cfg.Storage.PostgresDSN == "" {
			return nil, nil, errors.New("storage.postgres_dsn is required for -store=postgres")
		}
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN, 4)
		if err != nil {
			return nil, nil, err
		}
		if _, err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		return pgstore.NewResultStore(pool), pool.Close, nil

	case storeClickhouse:
		if cfg.Storage.ClickhouseDSN == "" {
			return nil, nil, errors.New("storage.clickhouse_dsn is required for -store=clickhouse")
		}
		conn, _, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		return chstore.NewResultStore(conn), func() { conn.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}
}

// serveMetrics starts the Prometheus endpoint and returns its shutdown func.
func serveMetrics(addr string, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
	}
}

// writeOutputs writes every result table as CSV plus the markdown summary and
// returns the written paths.
func writeOutputs(dir string, result *pipeline.Result, report *reporting.Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	outputs := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"redemptions.csv", func(w io.Writer) error { return reporting.WriteRedemptionsCSV(w, result.Redemptions) }},
		{"reserves.csv", func(w io.Writer) error { return reporting.WriteReservesCSV(w, result.Reserves) }},
		{"reserve_redemptions.csv", func(w io.Writer) error { return reporting.WriteRedemptionsCSV(w, result.ReserveRedemptions) }},
		{"branch_states.csv", func(w io.Writer) error { return reporting.WriteBranchStatesCSV(w, result.Series.Branches) }},
		{"active_troves.csv", func(w io.Writer) error { return reporting.WriteActiveTrovesCSV(w, result.Active) }},
		{"thresholds.csv", func(w io.Writer) error { return reporting.WriteActiveTrovesCSV(w, result.Thresholds) }},
		{"REPORT.md", func(w io.Writer) error {
			_, err := io.WriteString(w, reporting.RenderMarkdown(report))
			return err
		}},
	}

	var written []string
	for _, o := range outputs {
		path := filepath.Join(dir, o.name)
		if err := writeFile(path, o.write); err != nil {
			return nil, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
