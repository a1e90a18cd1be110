// Package app wires the Vision server runtime: config, logging, persistence,
// HTTP routes, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vision/cmd/identity"
	"vision/cmd/internal/auth/api"
	"vision/cmd/internal/auth/session"
	"vision/cmd/internal/metrics"
	"vision/cmd/internal/realtime"
	"vision/cmd/internal/scores"
	"vision/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Vision server runtime: it owns HTTP server wiring and the
// realtime gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	ws   *realtime.WSGateway
	auth *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, pwCfg); err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	apiCfg, err := api.FromEnv()
	if err != nil {
		return nil, err
	}

	catalog, err := scores.LoadCatalog(cfg.EntriesFile)
	if err != nil {
		return nil, fmt.Errorf("load entries catalog %q: %w", cfg.EntriesFile, err)
	}

	st, idStore, scoreStore, dbPool, dbEnabled, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	met := metrics.New(prometheus.DefaultRegisterer)

	sessions := session.NewService(sessCfg, idStore, pwCfg, log)
	scoreSvc := scores.NewService(catalog, scoreStore, nil, met, log)

	registry := realtime.NewRegistry(log, met)
	ws := realtime.NewWSGateway(log, sessions, registry, scoreSvc, met)

	// Score changes fan out to every live connection; revoked sessions get
	// their connections force-closed.
	scoreSvc.SetBroadcaster(registry)
	sessions.OnRevoke(func(username string) {
		registry.CloseMatching(username, "", realtime.CloseReasonSessionExpired)
	})

	auth := api.NewHandler(log, apiCfg, sessions, scoreSvc, met)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		ws:        ws,
		auth:      auth,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.auth)

	handler := WithRequestLogging(WithSecurityHeaders(mux), a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores decides between Postgres-backed persistence and the in-memory
// dev stores, and makes sure the schema exists before traffic arrives.
func newStores(ctx context.Context, cfg Config, log Logger) (Store, identity.Store, scores.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, identity.NewMemoryStore(), scores.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, nil, nil, false, err
	}

	idStore, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, false, err
	}
	if err := idStore.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, nil, false, err
	}

	// Scores reference users, so the identity schema must exist first.
	scoreStore, err := scores.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, false, err
	}
	if err := scoreStore.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")
	return dbStore{pool: pool}, idStore, scoreStore, pool, true, nil
}

// dbStore owns the pool lifecycle; the stores themselves hold no resources.
type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
