// Package server runs the analysis on a cron schedule and serves the latest
// results over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"trove-capacity-lab/internal/domain"
	"trove-capacity-lab/internal/logging"
	"trove-capacity-lab/internal/pipeline"
	"trove-capacity-lab/internal/reporting"
)

// ErrRunning is returned when a run is requested while another is in progress.
var ErrRunning = errors.New("analysis already running")

// Analyzer runs one full analysis.
type Analyzer interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Snapshot is the output of the last successful run.
type Snapshot struct {
	Result     *pipeline.Result
	Report     *reporting.Report
	FinishedAt time.Time
}

// Status is the health document served on /healthz.
type Status struct {
	Status      string    `json:"status"`
	Running     bool      `json:"running"`
	Runs        int       `json:"runs"`
	Failures    int       `json:"failures"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
}

// Server holds the scheduler and the latest snapshot.
type Server struct {
	analyzer   Analyzer
	schedule   string
	runTimeout time.Duration
	metrics    http.Handler
	logger     *zap.Logger
	now        func() time.Time

	cron *cron.Cron

	mu       sync.RWMutex
	running  bool
	runs     int
	failures int
	lastErr  error
	last     *Snapshot
}

// Option configures Server.
type Option func(*Server)

// WithRunTimeout bounds each scheduled run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.runTimeout = d
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logging.OrNop(l)
	}
}

// WithClock sets a custom clock function.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a server that runs analyzer on the cron schedule (seconds field included).
func New(analyzer Analyzer, schedule string, opts ...Option) *Server {
	s := &Server{
		analyzer:   analyzer,
		schedule:   schedule,
		runTimeout: 10 * time.Minute,
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the scheduled run and starts the scheduler.
func (s *Server) Start(ctx context.Context) error {
	logger := cronLogger{s.logger.Sugar()}
	s.cron = cron.New(cron.WithSeconds(), cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunning) {
			s.logger.Error("scheduled analysis failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop stops the scheduler and waits for a running job.
func (s *Server) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("scheduler stopped")
	}
}

// RunOnce runs the analysis now and replaces the snapshot on success.
// Returns ErrRunning if a run is in progress.
func (s *Server) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	s.mu.Unlock()

	// A panicking analyzer must not leave the server marked as running.
	defer func() {
		if p := recover(); p != nil {
			s.mu.Lock()
			s.running = false
			s.runs++
			s.failures++
			s.lastErr = fmt.Errorf("analysis panicked: %v", p)
			s.mu.Unlock()
			panic(p)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	res, err := s.analyzer.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.runs++
	if err != nil {
		s.failures++
		s.lastErr = err
		return err
	}

	finished := s.now()
	s.lastErr = nil
	s.last = &Snapshot{
		Result:     res,
		Report:     reporting.Summarize(res.Redemptions, res.Series.Branches, res.Active, finished),
		FinishedAt: finished,
	}
	s.logger.Info("analysis run completed",
		zap.Int("redemptions", len(res.Redemptions)),
		zap.Int("active_rows", len(res.Active)),
		zap.Duration("duration", res.Duration),
	)
	return nil
}

// Latest returns the last successful snapshot, or nil.
func (s *Server) Latest() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Status reports scheduler health.
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Status: "ok", Running: s.running, Runs: s.runs, Failures: s.failures}
	if s.last != nil {
		st.LastSuccess = s.last.FinishedAt
	}
	if s.lastErr != nil {
		st.Status = "degraded"
		st.LastError = s.lastErr.Error()
	}
	return st
}

// cronLogger routes scheduler logs, including recovered job panics, to zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/redemptions.csv", s.handleRedemptions).Methods(http.MethodGet)
	r.HandleFunc("/branches/{branch}/redemptions.csv", s.handleRedemptions).Methods(http.MethodGet)
	r.HandleFunc("/reserve-redemptions.csv", s.handleReserveRedemptions).Methods(http.MethodGet)
	r.HandleFunc("/branches/{branch}/reserve-redemptions.csv", s.handleReserveRedemptions).Methods(http.MethodGet)
	r.HandleFunc("/branches/{branch}/active.csv", s.handleActive).Methods(http.MethodGet)
	r.HandleFunc("/branches/{branch}/thresholds.csv", s.handleThresholds).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Status())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	err := s.RunOnce(r.Context())
	switch {
	case errors.Is(err, ErrRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.handleHealth(w, r)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	snap := s.Latest()
	if snap == nil {
		http.Error(w, "no completed run", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(reporting.RenderMarkdown(snap.Report)))
}

func (s *Server) handleRedemptions(w http.ResponseWriter, r *http.Request) {
	s.serveRedemptions(w, r, func(res *pipeline.Result) []*domain.RedemptionRecord { return res.Redemptions })
}

func (s *Server) handleReserveRedemptions(w http.ResponseWriter, r *http.Request) {
	s.serveRedemptions(w, r, func(res *pipeline.Result) []*domain.RedemptionRecord { return res.ReserveRedemptions })
}

// serveRedemptions writes the selected records, filtered by the optional branch route var.
func (s *Server) serveRedemptions(w http.ResponseWriter, r *http.Request, table func(*pipeline.Result) []*domain.RedemptionRecord) {
	snap := s.Latest()
	if snap == nil {
		http.Error(w, "no completed run", http.StatusServiceUnavailable)
		return
	}
	branch := mux.Vars(r)["branch"]
	var rows []*domain.RedemptionRecord
	for _, rec := range table(snap.Result) {
		if branch == "" || rec.Branch.Name == branch {
			rows = append(rows, rec)
		}
	}
	s.writeCSV(w, func() error { return reporting.WriteRedemptionsCSV(w, rows) })
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	snap := s.Latest()
	if snap == nil {
		http.Error(w, "no completed run", http.StatusServiceUnavailable)
		return
	}
	rows := byBranch(snap.Result.Active, mux.Vars(r)["branch"])
	s.writeCSV(w, func() error { return reporting.WriteActiveTrovesCSV(w, rows) })
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	snap := s.Latest()
	if snap == nil {
		http.Error(w, "no completed run", http.StatusServiceUnavailable)
		return
	}
	rows := byBranch(snap.Result.Thresholds, mux.Vars(r)["branch"])
	s.writeCSV(w, func() error { return reporting.WriteActiveTrovesCSV(w, rows) })
}

func byBranch(rows []*domain.ActiveTroveRecord, branch string) []*domain.ActiveTroveRecord {
	var out []*domain.ActiveTroveRecord
	for _, row := range rows {
		if row.Branch.Name == branch {
			out = append(out, row)
		}
	}
	return out
}

func (s *Server) writeCSV(w http.ResponseWriter, write func() error) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	if err := write(); err != nil {
		s.logger.Warn("write csv response", zap.Error(err))
	}
}
