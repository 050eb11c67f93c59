package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/akave-ai/tracectrl/internal/hub"
	"github.com/akave-ai/tracectrl/internal/model"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateConnecting State = iota
	StateEstablished
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	outboundQueue = 16
	maxInbound    = 4096
)

// Session streams published logs to one websocket viewer.
type Session struct {
	addr  string
	conn  *websocket.Conn
	hub   *hub.Hub[*model.Log]
	peers *PeerMap
	log   zerolog.Logger

	writeWait  time.Duration
	pingPeriod time.Duration

	state    atomic.Int32
	outbound chan []byte
}

func newSession(addr string, conn *websocket.Conn, h *hub.Hub[*model.Log], peers *PeerMap, opts Options, log zerolog.Logger) *Session {
	return &Session{
		addr:       addr,
		conn:       conn,
		hub:        h,
		peers:      peers,
		log:        log.With().Str("peer", addr).Logger(),
		writeWait:  opts.WriteTimeout,
		pingPeriod: opts.PingInterval,
		outbound:   make(chan []byte, outboundQueue),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug().Stringer("state", st).Msg("session state")
}

// Run registers the session, streams until the viewer leaves, the hub closes,
// ctx is cancelled or a write fails, and then releases everything it holds.
func (s *Session) Run(ctx context.Context) error {
	s.setState(StateEstablished)
	s.peers.Register(s.addr, s.outbound)

	sub, err := s.hub.Subscribe()
	if err != nil {
		s.peers.Unregister(s.addr)
		_ = s.conn.Close()
		s.setState(StateClosed)
		return err
	}
	defer func() {
		sub.Close()
		s.peers.Unregister(s.addr)
		_ = s.conn.Close()
		s.setState(StateClosed)
	}()

	readDone := make(chan struct{})
	go s.readLoop(readDone)

	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	s.setState(StateStreaming)
	var reportedDrops uint64
	for {
		select {
		case <-ctx.Done():
			s.closeFrame(websocket.CloseGoingAway, "server shutting down")
			return nil

		case <-readDone:
			return nil

		case entry, ok := <-sub.C():
			if !ok {
				s.closeFrame(websocket.CloseGoingAway, "server shutting down")
				return nil
			}
			if dropped := sub.Dropped(); dropped > reportedDrops {
				s.log.Warn().Uint64("skipped", dropped-reportedDrops).Msg("viewer lagging, logs skipped")
				reportedDrops = dropped
			}
			payload, err := json.Marshal(entry)
			if err != nil {
				s.log.Error().Err(err).Str("log_id", entry.ID.String()).Msg("encode log")
				continue
			}
			if err := s.write(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("send log: %w", err)
			}

		case msg := <-s.outbound:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				return fmt.Errorf("send direct message: %w", err)
			}

		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

func (s *Session) closeFrame(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait))
}

// readLoop discards inbound frames so control frames are processed, and
// closes done when the connection goes away.
func (s *Session) readLoop(done chan<- struct{}) {
	defer close(done)

	pongWait := 2 * s.pingPeriod
	s.conn.SetReadLimit(maxInbound)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Debug().Err(err).Msg("viewer read error")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
