package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/akave-ai/tracectrl/internal/model"
	"github.com/akave-ai/tracectrl/internal/response"
	"github.com/akave-ai/tracectrl/internal/service"
)

// LogUseCase is the ingestion and read side of the service layer.
type LogUseCase interface {
	Ingest(ctx context.Context, clientID int32, origin *netip.Addr, body *model.LogBody) (*model.Receipt, error)
	List(ctx context.Context, clientID *int32) ([]model.Log, error)
	Get(ctx context.Context, id uuid.UUID, clientID int32) (*model.Log, error)
}

// LogHandler serves POST /log, GET /logs and GET /log/:id.
type LogHandler struct {
	Logs LogUseCase
	Log  zerolog.Logger
}

type addLogResponse struct {
	Message  string    `json:"message"`
	Datetime time.Time `json:"datetime"`
}

// AddLog ingests one error report for the client named in the client-id header.
func (h *LogHandler) AddLog(c echo.Context) error {
	clientID := clientIDFrom(c)
	if clientID == nil {
		return response.Rejected(c, "missing client-id header")
	}

	var body model.LogBody
	if err := c.Bind(&body); err != nil {
		return response.Rejected(c, "invalid JSON body")
	}

	receipt, err := h.Logs.Ingest(c.Request().Context(), *clientID, remoteAddr(c), &body)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, addLogResponse{
		Message:  fmt.Sprintf("Log was created with ID %s", receipt.ID),
		Datetime: receipt.AcceptedAt,
	})
}

// ListLogs returns every log, or the caller's logs when client-id is sent.
func (h *LogHandler) ListLogs(c echo.Context) error {
	logs, err := h.Logs.List(c.Request().Context(), clientIDFrom(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if logs == nil {
		logs = []model.Log{}
	}
	return c.JSON(http.StatusOK, logs)
}

// GetLog returns one log owned by the caller.
func (h *LogHandler) GetLog(c echo.Context) error {
	clientID := clientIDFrom(c)
	if clientID == nil {
		return response.Rejected(c, "missing client-id header")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.Rejected(c, "log id must be a UUID")
	}

	entry, err := h.Logs.Get(c.Request().Context(), id, *clientID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, entry)
}

// writeError maps service errors onto the APIError envelope.
// Storage details are logged, not returned.
func writeError(c echo.Context, log zerolog.Logger, err error) error {
	switch {
	case errors.Is(err, service.ErrUnknownClient):
		return response.Rejected(c, "unknown client")
	case errors.Is(err, service.ErrInvalidPayload):
		return response.Rejected(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return response.NotFound(c, "not found", "no such log for this client")
	default:
		log.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("request failed")
		return response.Failed(c, "storage unavailable")
	}
}
