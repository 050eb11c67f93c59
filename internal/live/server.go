package live

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/akave-ai/tracectrl/internal/config"
	"github.com/akave-ai/tracectrl/internal/hub"
	"github.com/akave-ai/tracectrl/internal/model"
)

// Options tunes session I/O.
type Options struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

// OptionsFromConfig converts the live section of the configuration.
func OptionsFromConfig(cfg config.LiveConfig) Options {
	return Options{
		WriteTimeout:   time.Duration(cfg.WriteTimeout) * time.Second,
		PingInterval:   time.Duration(cfg.PingInterval) * time.Second,
		AllowedOrigins: cfg.AllowedOrigins,
	}
}

// Server upgrades HTTP requests to websocket sessions fed by the hub.
type Server struct {
	hub      *hub.Hub[*model.Log]
	peers    *PeerMap
	opts     Options
	log      zerolog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	httpServer *http.Server
	listener   net.Listener
}

func NewServer(h *hub.Hub[*model.Log], peers *PeerMap, opts Options, log zerolog.Logger) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		hub:    h,
		peers:  peers,
		opts:   opts,
		log:    log.With().Str("component", "live").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP performs the handshake and runs the session until it closes.
// A failed handshake is logged and leaves no trace in the peer map.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("peer", r.RemoteAddr).Msg("websocket handshake failed")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	session := newSession(r.RemoteAddr, conn, s.hub, s.peers, s.opts, s.log)
	s.log.Info().Str("peer", r.RemoteAddr).Msg("viewer connected")
	if err := session.Run(s.ctx); err != nil {
		s.log.Info().Err(err).Str("peer", r.RemoteAddr).Msg("viewer session ended")
		return
	}
	s.log.Info().Str("peer", r.RemoteAddr).Msg("viewer disconnected")
}

// Start binds addr and serves in the background. Bind errors are returned.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Str("addr", addr).Msg("live listener stopped")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("live listener started")
	return nil
}

// Addr is the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop ends every session and the listener, waiting for sessions until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
