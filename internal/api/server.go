// Package api provides the HTTP server for Pixwave.
//
// It serves the landing page, accepts prompt submissions for the caller's
// session and exposes read-only JSON endpoints for state, content, generation
// statistics, pending timers and health.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/Pixwave/internal/content"
	"github.com/BTreeMap/Pixwave/internal/flow"
	"github.com/BTreeMap/Pixwave/internal/models"
	"github.com/BTreeMap/Pixwave/internal/scheduler"
	"github.com/BTreeMap/Pixwave/internal/session"
	"github.com/BTreeMap/Pixwave/internal/store"
	"golang.org/x/sync/errgroup"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultSweepInterval   = time.Minute
	DefaultReadTimeout     = 15 * time.Second
	// ReceiptPruneSchedule is when receipts older than the retention are deleted.
	ReceiptPruneSchedule = "@hourly"
)

// SessionCookieName is the cookie carrying the caller's session ID.
const SessionCookieName = "pixwave_session"

// TimerInspector exposes pending generation timers for the /timers endpoint.
type TimerInspector interface {
	ListActive() []models.TimerInfo
	GetTimer(id string) (*models.TimerInfo, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	GenerationDelay time.Duration
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	// ReceiptRetention is how long receipts are kept; zero keeps them forever.
	ReceiptRetention time.Duration
	Catalog          *content.Catalog
	SecureCookies    bool
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithGenerationDelay sets the simulated generation delay for new sessions.
func WithGenerationDelay(d time.Duration) Option {
	return func(o *Opts) { o.GenerationDelay = d }
}

// WithSessionTTL sets how long an idle session survives.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// WithSweepInterval sets how often expired sessions are evicted.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// WithReceiptRetention sets how long generation receipts are kept.
func WithReceiptRetention(d time.Duration) Option {
	return func(o *Opts) { o.ReceiptRetention = d }
}

// WithCatalog replaces the built-in page content.
func WithCatalog(cat content.Catalog) Option {
	return func(o *Opts) { o.Catalog = &cat }
}

// WithSecureCookies marks the session cookie Secure.
func WithSecureCookies(secure bool) Option {
	return func(o *Opts) { o.SecureCookies = secure }
}

func buildOpts(opts []Option) Opts {
	cfg := Opts{
		Addr:            DefaultAddr,
		GenerationDelay: flow.DefaultGenerationDelay,
		SessionTTL:      session.DefaultTTL,
		SweepInterval:   DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Catalog == nil {
		cat := content.Default()
		cfg.Catalog = &cat
	}
	return cfg
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	addr          string
	catalog       content.Catalog
	secureCookies bool
	sessions      *session.Registry
	st            store.Store
	timer         TimerInspector
	startedAt     time.Time
}

// NewServer creates a server over an existing registry, store and timer.
func NewServer(reg *session.Registry, st store.Store, timer TimerInspector, opts ...Option) *Server {
	cfg := buildOpts(opts)
	return &Server{
		addr:          cfg.Addr,
		catalog:       *cfg.Catalog,
		secureCookies: cfg.SecureCookies,
		sessions:      reg,
		st:            st,
		timer:         timer,
		startedAt:     time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.pageHandler)
	mux.HandleFunc("/generate", s.generateHandler)
	mux.HandleFunc("/prompt", s.promptHandler)
	mux.HandleFunc("/state", s.stateHandler)
	mux.HandleFunc("/content", s.contentHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/timers", s.timersHandler)
	mux.HandleFunc("/timers/", s.timersHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// newStore picks the store backend from the configured DSN.
func newStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("Server.newStore: no DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Info("Server.newStore: using PostgreSQL store")
		pg, err := store.NewPostgresStore(storeOpts...)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	slog.Info("Server.newStore: using SQLite store", "path", cfg.DSN)
	lite, err := store.NewSQLiteStore(storeOpts...)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

// Run builds the store, timer, session registry and server, then serves until
// ctx is cancelled or the listener fails. On return every session is closed,
// pending timers are stopped and the store is closed.
func Run(ctx context.Context, storeOpts []store.Option, apiOpts []Option) error {
	cfg := buildOpts(apiOpts)

	st, err := newStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	timer := flow.NewAfterFuncTimer()
	reg := session.NewRegistry(
		session.WithTTL(cfg.SessionTTL),
		session.WithCleanupInterval(0),
		session.WithWorkflowOptions(
			flow.WithTimer(timer),
			flow.WithDelay(cfg.GenerationDelay),
			flow.WithReceiptSink(st),
		),
	)
	srv := NewServer(reg, st, timer, apiOpts...)

	sched := scheduler.NewScheduler()
	if err := scheduleMaintenance(sched, reg, st, cfg); err != nil {
		reg.Close()
		timer.Stop()
		st.Close()
		return err
	}
	sched.Start()

	httpServer := &http.Server{
		Addr:              srv.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: DefaultReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Pixwave API running", "addr", srv.addr, "generation_delay", cfg.GenerationDelay, "session_ttl", cfg.SessionTTL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	runErr := g.Wait()

	sched.Stop()
	reg.Close()
	timer.Stop()
	if err := st.Close(); err != nil {
		slog.Error("Server.Run: failed to close store", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("failed to close store: %w", err)
		}
	}
	slog.Info("Server.Run: stopped")
	return runErr
}

// scheduleMaintenance registers the session sweep and, when a retention is
// configured, the receipt prune job.
func scheduleMaintenance(sched *scheduler.Scheduler, reg *session.Registry, st store.Store, cfg Opts) error {
	if cfg.SweepInterval > 0 {
		if err := sched.AddJob("session-sweep", scheduler.Every(cfg.SweepInterval), func() {
			reg.Sweep()
			slog.Debug("Server.scheduleMaintenance: swept expired sessions", "active", reg.Count())
		}); err != nil {
			return fmt.Errorf("failed to schedule session sweep: %w", err)
		}
	}
	if cfg.ReceiptRetention > 0 {
		if err := sched.AddJob("receipt-prune", ReceiptPruneSchedule, func() {
			pruneReceipts(st, cfg.ReceiptRetention, time.Now())
		}); err != nil {
			return fmt.Errorf("failed to schedule receipt pruning: %w", err)
		}
	}
	return nil
}

// pruneReceipts deletes receipts that completed more than retention before now.
func pruneReceipts(st store.Store, retention time.Duration, now time.Time) {
	cutoff := now.Add(-retention)
	n, err := st.PruneGenerationReceipts(cutoff)
	if err != nil {
		slog.Error("Server.pruneReceipts: failed to prune receipts", "error", err, "cutoff", cutoff)
		return
	}
	slog.Info("Server.pruneReceipts: pruned receipts", "count", n, "cutoff", cutoff)
}
