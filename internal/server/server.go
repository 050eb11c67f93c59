package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/akave-ai/tracectrl/internal/batcher"
	"github.com/akave-ai/tracectrl/internal/cache"
	"github.com/akave-ai/tracectrl/internal/config"
	"github.com/akave-ai/tracectrl/internal/handler"
	"github.com/akave-ai/tracectrl/internal/hub"
	"github.com/akave-ai/tracectrl/internal/live"
	"github.com/akave-ai/tracectrl/internal/metrics"
	"github.com/akave-ai/tracectrl/internal/model"
	"github.com/akave-ai/tracectrl/internal/service"
	"github.com/akave-ai/tracectrl/internal/storage"
)

// Deps are the collaborators built outside the server (by main, or by tests).
type Deps struct {
	Clients  service.ClientStore
	Logs     service.LogStore
	Database handler.Pinger
	NewRelic *newrelic.Application
	Log      zerolog.Logger
}

// Server holds the Echo app, the live listener and everything fed by the hub.
type Server struct {
	Echo    *echo.Echo
	Config  *config.Config
	Hub     *hub.Hub[*model.Log]
	Peers   *live.PeerMap
	Live    *live.Server
	Metrics *metrics.Metrics

	log        zerolog.Logger
	cache      *cache.LogCache
	archive    *storage.Archive
	batcher    *batcher.Batcher
	httpServer *http.Server
}

// New builds the Echo server and registers routes. The cache and archive are
// optional; when they cannot be reached the server starts without them.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Clients == nil || deps.Logs == nil || deps.Database == nil {
		return nil, errors.New("server: clients, logs and database are required")
	}
	log := deps.Log.With().Str("component", "server").Logger()
	docs, err := handler.NewDocsHandler()
	if err != nil {
		return nil, err
	}

	s := &Server{
		Config:  cfg,
		Hub:     hub.New[*model.Log](cfg.Live.BufferSize),
		Peers:   live.NewPeerMap(),
		Metrics: metrics.New(),
		log:     log,
	}
	s.Metrics.RegisterHub(s.Hub, s.Peers)
	s.Live = live.NewServer(s.Hub, s.Peers, live.OptionsFromConfig(cfg.Live), deps.Log)

	logOpts := &service.LogServiceOpts{Metrics: s.Metrics}
	lc, err := cache.NewLogCache(ctx, cfg.Cache.Redis)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Cache.Redis.Addr).Msg("log cache unavailable, continuing without it")
	} else if lc != nil {
		s.cache = lc
		logOpts.Cache = lc
		log.Info().Str("addr", cfg.Cache.Redis.Addr).Msg("log cache enabled")
	}

	uploads := &handler.UploadHandler{}
	if err := s.startArchive(ctx, deps.Log); err != nil {
		log.Warn().Err(err).Msg("archive unavailable, continuing without it")
	} else if s.archive != nil {
		uploads.Archive = s.archive
		uploads.Batcher = s.batcher
	}

	clients := service.NewClientService(deps.Clients, deps.Log)
	logs := service.NewLogService(deps.Clients, deps.Logs, s.Hub, deps.Log, logOpts)

	diagnostics := &handler.DiagnosticsHandler{Database: deps.Database, Peers: s.Peers}
	if s.cache != nil {
		diagnostics.Cache = s.cache
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(
		middleware.Recover(),
		middleware.RequestID(),
		requestLogger(deps.Log.With().Str("component", "http").Logger()),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Server.CORSAllowedOrigins,
			AllowHeaders: []string{echo.HeaderContentType, handler.HeaderClientID},
		}),
		newRelicTransaction(deps.NewRelic),
	)
	s.Echo = e

	registerRoutes(e, routes{
		clients:     &handler.ClientHandler{Clients: clients, Log: deps.Log},
		logs:        &handler.LogHandler{Logs: logs, Log: deps.Log},
		uploads:     uploads,
		diagnostics: diagnostics,
		docs:        docs,
		metrics:     s.Metrics.Handler(),
	})
	return s, nil
}

type routes struct {
	clients     *handler.ClientHandler
	logs        *handler.LogHandler
	uploads     *handler.UploadHandler
	diagnostics *handler.DiagnosticsHandler
	docs        *handler.DocsHandler
	metrics     http.Handler
}

func registerRoutes(e *echo.Echo, r routes) {
	e.POST("/register", r.clients.Register)
	e.POST("/register/:id", r.clients.Reconnect)

	e.POST("/log", r.logs.AddLog, handler.ClientID(true))
	e.GET("/logs", r.logs.ListLogs, handler.ClientID(false))
	e.GET("/log/:id", r.logs.GetLog, handler.ClientID(true))

	e.GET("/uploads", r.uploads.List)
	e.GET("/uploads/content", r.uploads.Content)
	e.GET("/uploads/status", r.uploads.Status)

	e.GET("/live/peers", r.diagnostics.ListPeers)
	e.GET("/health", r.diagnostics.Health)
	e.GET("/metrics", echo.WrapHandler(r.metrics))

	e.GET(handler.DocsPath, r.docs.Page)
	e.GET(handler.DocsPath+"/openapi.json", r.docs.Document)
}

// startArchive connects the bucket and subscribes the batcher to the hub.
// It is a no-op without storage.o3.bucket.
func (s *Server) startArchive(ctx context.Context, log zerolog.Logger) error {
	if s.Config.Storage == nil || s.Config.Storage.O3 == nil || s.Config.Storage.O3.Bucket == "" {
		return nil
	}
	archive, err := storage.NewArchive(s.Config.Storage.O3)
	if err != nil {
		return err
	}
	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := archive.EnsureBucket(ensureCtx); err != nil {
		s.log.Warn().Err(err).Str("bucket", s.Config.Storage.O3.Bucket).Msg("ensure bucket failed, uploads may fail")
	}

	sub, err := s.Hub.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe archive: %w", err)
	}
	bc := batcher.ConfigFrom(s.Config.Batcher)
	s.archive = archive
	s.batcher = batcher.NewBatcher(bc, archive, sub, log, &batcher.BatcherOpts{
		OnFlush: func(count int, _ string, err error) { s.Metrics.ObserveArchive(count, err) },
	})
	s.log.Info().
		Str("bucket", s.Config.Storage.O3.Bucket).
		Int("batch", bc.MaxBatchSize).
		Dur("interval", bc.FlushInterval).
		Msg("archive enabled")
	return nil
}

// Start binds both listeners and serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Live.Start(net.JoinHostPort("", s.Config.Live.Port)); err != nil {
		return fmt.Errorf("live listener: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort("", s.Config.Server.Port),
		Handler:      s.Echo,
		ReadTimeout:  seconds(s.Config.Server.ReadTimeout),
		WriteTimeout: seconds(s.Config.Server.WriteTimeout),
		IdleTimeout:  seconds(s.Config.Server.IdleTimeout),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("http listener started")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown drains the HTTP listener, then closes the hub so live sessions
// and the batcher finish with everything that was accepted.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	s.Hub.Close()
	if s.batcher != nil {
		s.batcher.Stop()
	}
	if err := s.Live.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("live: %w", err))
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	s.log.Info().Msg("server stopped")
	return errors.Join(errs...)
}
