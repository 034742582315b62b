// Package server provides the phasetrack HTTP server.
//
// The server exposes a REST API over the phase activity engine: reading
// phase snapshots, transitioning activities, delivering external events,
// cascade resets and display overrides.
//
// # Endpoints
//
//   - GET /health - Simple health check, returns "ok"
//   - GET /metrics - Prometheus scrape endpoint (scrape mode only)
//   - GET /api/cycles/{cycle}/reports/{report}/phases/{phase} - Phase snapshot
//   - POST .../transition - Transition an activity
//   - POST .../events/{kind} - Deliver an external event
//   - POST .../reset - Cascade reset a completed activity
//   - PUT/DELETE .../override - Set or clear a display override
//
// # Example
//
//	srv, err := server.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mdawes/phasetrack/buildinfo"
	"github.com/mdawes/phasetrack/catalog"
	"github.com/mdawes/phasetrack/config"
	"github.com/mdawes/phasetrack/engine"
	"github.com/mdawes/phasetrack/logging"
	"github.com/mdawes/phasetrack/metrics"
	"github.com/mdawes/phasetrack/relay"
	"github.com/mdawes/phasetrack/server/handlers"
	"github.com/mdawes/phasetrack/sla"
	"github.com/mdawes/phasetrack/store"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// phaseStore is what the server needs from a persistence backend: the
// engine's store contract plus key listing for the SLA sweep.
type phaseStore interface {
	engine.Store
	Keys(ctx context.Context) ([]engine.PhaseKey, error)
}

// Server is the phasetrack HTTP server and the composition root for its
// collaborators.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   phaseStore
	manager *engine.Manager
	scrape  *metrics.ScrapeRegistry
	sweeper *sla.Sweeper
	relay   *relay.Relay

	httpServer *http.Server
	closers    []func()
}

// New builds a server from its configuration: logger, persistence backend,
// metrics registry, engine manager and the optional SLA sweeper and NATS
// relay.
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, logger: logger}

	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	if err := s.initStore(); err != nil {
		return nil, err
	}

	registry, err := s.initRegistry()
	if err != nil {
		return nil, err
	}
	recorder, err := metrics.NewEngineRecorder(registry)
	if err != nil {
		return nil, fmt.Errorf("registering engine metrics: %w", err)
	}

	s.manager = engine.NewManager(cat, s.store, recorder, logger)

	if cfg.SLA.Enabled {
		sweeper, err := sla.NewSweeper(cfg.SLA.Schedule, s.store, cfg.SLA.MaxAge,
			sla.WithLogger(logger),
			sla.WithRegistry(registry),
		)
		if err != nil {
			return nil, fmt.Errorf("creating sla sweeper: %w", err)
		}
		s.sweeper = sweeper
	}

	if cfg.Relay.Enabled {
		rl, err := relay.New(cfg.Relay.URL, cfg.Relay.SubjectPrefix, s.manager, relay.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		s.relay = rl
	}

	return s, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(path)
}

func (s *Server) initStore() error {
	switch s.cfg.Store.Type {
	case "memory":
		s.store = store.NewMemory()

	case "redis":
		rc := s.cfg.Store.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		var opts []store.RedisOption
		if rc.LockTTL > 0 {
			opts = append(opts, store.WithLockTTL(rc.LockTTL))
		}
		s.store = store.NewRedis(client, opts...)
		s.closers = append(s.closers, func() { client.Close() })

	case "postgres":
		pool, err := pgxpool.New(context.Background(), s.cfg.Store.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		pg := store.NewPostgres(pool)
		if err := pg.Init(context.Background()); err != nil {
			pool.Close()
			return fmt.Errorf("initializing postgres schema: %w", err)
		}
		s.store = pg
		s.closers = append(s.closers, pool.Close)

	default:
		return fmt.Errorf("unknown store type %q", s.cfg.Store.Type)
	}
	return nil
}

func (s *Server) initRegistry() (metrics.Registry, error) {
	mon := s.cfg.Monitoring
	if mon.Mode == "push" {
		return metrics.NewPushRegistry(metrics.PushConfig{
			URL:      mon.RemoteWriteURL,
			Prefix:   mon.MetricsPrefix,
			Job:      mon.JobName,
			Instance: mon.Instance,
		}), nil
	}
	scrape, err := metrics.NewScrapeRegistry()
	if err != nil {
		return nil, fmt.Errorf("creating scrape registry: %w", err)
	}
	s.scrape = scrape
	return scrape, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs a graceful shutdown when the context is done. The SLA sweeper
// and event relay, when configured, are started automatically.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	if s.sweeper != nil {
		s.logger.Info("starting sla sweeper",
			"next_run", s.sweeper.NextRun(),
			"max_age", s.cfg.SLA.MaxAge,
		)
		s.sweeper.Start(ctx)
	}

	if s.relay != nil {
		if err := s.relay.Start(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		build := buildinfo.Get()
		s.logger.Info("starting server",
			"addr", s.cfg.Server.ListenAddr,
			"store", s.cfg.Store.Type,
			"version", build.Version,
			"commit", build.GitCommit,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.close()
		return err
	}
}

func (s *Server) close() {
	for _, fn := range s.closers {
		fn()
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	phaseHandler := handlers.NewPhaseHandler(s.manager)
	transitionHandler := handlers.NewTransitionHandler(s.manager)
	eventHandler := handlers.NewEventHandler(s.manager)
	resetHandler := handlers.NewResetHandler(s.manager)
	overrideHandler := handlers.NewOverrideHandler(s.manager)

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /version", handlers.HandleVersion)
	mux.Handle("GET /api/cycles/{cycle}/reports/{report}/phases/{phase}", phaseHandler)
	mux.Handle("POST /api/cycles/{cycle}/reports/{report}/phases/{phase}/transition", transitionHandler)
	mux.Handle("POST /api/cycles/{cycle}/reports/{report}/phases/{phase}/events/{kind}", eventHandler)
	mux.Handle("POST /api/cycles/{cycle}/reports/{report}/phases/{phase}/reset", resetHandler)
	mux.Handle("/api/cycles/{cycle}/reports/{report}/phases/{phase}/override", overrideHandler)

	if s.scrape != nil {
		mux.Handle("GET /metrics", s.scrape.Handler())
	}
}
