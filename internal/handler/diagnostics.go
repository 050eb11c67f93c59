package handler

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/akave-ai/tracectrl/internal/live"
	"github.com/akave-ai/tracectrl/internal/response"
)

// Pinger is anything whose reachability /health reports (the pool, the cache).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PeerLister lists connected live viewers.
type PeerLister interface {
	Snapshot() []live.PeerInfo
}

// DiagnosticsHandler serves /health and /live/peers.
type DiagnosticsHandler struct {
	Database Pinger
	Cache    Pinger
	Peers    PeerLister
	Timeout  time.Duration
}

// Health reports 200 when the database answers and 503 otherwise.
// A cache failure degrades the report but not the status.
func (h *DiagnosticsHandler) Health(c echo.Context) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	if err := h.Database.Ping(ctx); err != nil {
		return response.ServiceUnavailable(c, "unhealthy", "database: "+err.Error())
	}
	checks := map[string]string{"database": "ok"}
	if h.Cache != nil {
		checks["cache"] = "ok"
		if err := h.Cache.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
		}
	}
	return response.OK(c, checks, "healthy")
}

// ListPeers lists the viewers currently connected to the live channel.
func (h *DiagnosticsHandler) ListPeers(c echo.Context) error {
	peers := h.Peers.Snapshot()
	if peers == nil {
		peers = []live.PeerInfo{}
	}
	return response.OK(c, map[string]any{"peers": peers, "count": len(peers)}, "")
}
