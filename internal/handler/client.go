package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/akave-ai/tracectrl/internal/model"
	"github.com/akave-ai/tracectrl/internal/response"
)

// ClientRegistrar is the client registry as seen by HTTP.
type ClientRegistrar interface {
	Register(ctx context.Context, requested *int32) (int32, error)
}

// ClientHandler serves POST /register and POST /register/:id.
type ClientHandler struct {
	Clients ClientRegistrar
	Log     zerolog.Logger
}

// Register always issues a fresh id.
func (h *ClientHandler) Register(c echo.Context) error {
	return h.register(c, nil)
}

// Reconnect keeps the id in the path when it is known and issues a fresh one otherwise.
func (h *ClientHandler) Reconnect(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return response.Rejected(c, "client id must be an integer")
	}
	return h.register(c, &id)
}

func (h *ClientHandler) register(c echo.Context, requested *int32) error {
	id, err := h.Clients.Register(c.Request().Context(), requested)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, model.RegisterResponse{ClientID: id})
}
