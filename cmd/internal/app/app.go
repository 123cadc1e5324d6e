// Package app wires the tasker server runtime: config, logging, metrics, storage, HTTP routes
// and the realtime task feed.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tasker/cmd/identity"
	authapi "tasker/cmd/internal/auth/api"
	"tasker/cmd/internal/realtime"
	"tasker/cmd/internal/tasks"
	tasksapi "tasker/cmd/internal/tasks/api"
	"tasker/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Store is a small app-level lifecycle abstraction so DB-backed resources close on shutdown.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// poolStore owns the pgx pool; the Postgres stores only borrow it.
type poolStore struct{ pool *pgxpool.Pool }

func (s poolStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// stores groups the persistence chosen at startup.
type stores struct {
	users     identity.Store
	tasks     tasks.Store
	lifecycle Store
	pool      *pgxpool.Pool
}

// App is the tasker server runtime.
type App struct {
	cfg Config
	log Logger

	store Store
	pool  *pgxpool.Pool

	metrics *Metrics
	hub     *realtime.Hub
	ws      *realtime.WSGateway
	auth    *authapi.Handler
	tasks   *tasksapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, log, st)
	if err != nil {
		_ = st.lifecycle.Close(ctx)
		return nil, err
	}
	return a, nil
}

func build(cfg Config, log Logger, st stores) (*App, error) {
	var metrics *Metrics
	if cfg.MetricsEnabled {
		metrics = NewMetrics()
	}

	tokens, err := token.NewManager(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	accounts, err := identity.NewService(st.users, cfg.Password, tokens, identity.WithLogger(log))
	if err != nil {
		return nil, err
	}

	var hubOpts []realtime.HubOption
	var authOpts []authapi.HandlerOption
	if metrics != nil {
		hubOpts = append(hubOpts, realtime.WithConnectionGauge(metrics.RealtimeConnections))
		authOpts = append(authOpts, authapi.WithEventCounter(metrics.AuthEvents))
	}
	hub := realtime.NewHub(log, hubOpts...)

	taskSvc, err := tasks.NewService(st.tasks, tasks.WithPublisher(hub))
	if err != nil {
		return nil, err
	}

	authHandler, err := authapi.NewHandler(log, accounts, tokens, cfg.Auth, authOpts...)
	if err != nil {
		return nil, err
	}
	taskHandler, err := tasksapi.NewHandler(log, taskSvc, cfg.Auth.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	ws, err := realtime.NewWSGateway(log, hub, tokens, cfg.WS)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		store:   st.lifecycle,
		pool:    st.pool,
		metrics: metrics,
		hub:     hub,
		ws:      ws,
		auth:    authHandler,
		tasks:   taskHandler,
	}, nil
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base+a.cfg.BasePath,
		"events_url", wsBaseURL(base)+a.cfg.BasePath+"/task/events",
		"db_enabled", a.pool != nil,
		"metrics_enabled", a.metrics != nil,
		"token_format", string(a.cfg.Token.Format),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
		}
		if cerr := a.store.Close(shutdownCtx); cerr != nil {
			a.log.Error("store.close.fail", "err", cerr)
		}
		return err
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
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

// newStores decides between Postgres-backed persistence and the in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return memoryStores(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, fmt.Errorf("db: %w", err)
	}

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	taskStore, err := tasks.NewPostgresStore(pool, tasks.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return stores{}, err
	}

	if cfg.DBAutoMigrate {
		// users first: tasks.owner_id references it.
		if err := users.EnsureSchema(ctx); err != nil {
			pool.Close()
			return stores{}, err
		}
		if err := taskStore.EnsureSchema(ctx); err != nil {
			pool.Close()
			return stores{}, err
		}
		log.Info("db.schema.ensured", "schema", cfg.DBSchema)
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return stores{users: users, tasks: taskStore, lifecycle: poolStore{pool: pool}, pool: pool}, nil
}

func memoryStores() stores {
	users := identity.NewMemoryStore()
	return stores{
		users:     users,
		tasks:     tasks.NewMemoryStore(users),
		lifecycle: nopStore{},
	}
}
