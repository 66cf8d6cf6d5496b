// Package main runs the analysis service: scheduled runs against the subgraph,
// with the latest report, CSV tables, health and Prometheus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trove-capacity-lab/internal/config"
	"trove-capacity-lab/internal/logging"
	"trove-capacity-lab/internal/observability"
	"trove-capacity-lab/internal/pipeline"
	"trove-capacity-lab/internal/redemption"
	"trove-capacity-lab/internal/server"
	"trove-capacity-lab/internal/subgraph"
	"trove-capacity-lab/internal/timeseries"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config (missing file uses defaults)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	runOnStart := flag.Bool("run-on-start", true, "Run the analysis once before the first scheduled run")
	runTimeout := flag.Duration("run-timeout", 10*time.Minute, "Upper bound for one analysis run")
	flag.Parse()

	logger, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}
	branches, err := cfg.BranchTable()
	if err != nil {
		logger.Fatal("branch table", zap.Error(err))
	}
	bucket, err := timeseries.ParseGranularity(cfg.Analysis.Bucket)
	if err != nil {
		logger.Fatal("bucket", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("", nil)
	client := subgraph.NewHTTPClient(cfg.Subgraph.URL,
		subgraph.WithTimeout(cfg.Subgraph.Timeout),
		subgraph.WithMaxRetries(cfg.Subgraph.MaxRetries),
		subgraph.WithRetryDelay(cfg.Subgraph.RetryDelay),
		subgraph.WithRateLimit(cfg.Subgraph.RequestsPerSecond, cfg.Subgraph.Burst),
		subgraph.WithLogger(logger),
		subgraph.WithMetrics(metrics),
	)
	runner := pipeline.NewRunner(client, branches,
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(logger),
		pipeline.WithBucket(bucket),
		pipeline.WithDeltaPct(redemption.DeltaPctFormula(cfg.Analysis.DeltaPctFormula)),
	)

	srv := server.New(runner, cfg.Server.Schedule,
		server.WithRunTimeout(*runTimeout),
		server.WithMetricsHandler(observability.Handler()),
		server.WithLogger(logger),
	)

	if *runOnStart {
		if err := srv.RunOnce(ctx); err != nil {
			logger.Error("initial analysis failed", zap.Error(err))
		}
	}
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("start scheduler", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	srv.Stop()
}
