package handler

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/akave-ai/tracectrl/internal/batcher"
	"github.com/akave-ai/tracectrl/internal/model"
	"github.com/akave-ai/tracectrl/internal/response"
	"github.com/akave-ai/tracectrl/internal/storage"
)

// ArchiveReader lists and reads archived batches.
type ArchiveReader interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	GetLogs(ctx context.Context, key string) ([]model.Log, error)
}

// StatusSource reports the archive batcher's last flush.
type StatusSource interface {
	Status() batcher.Status
}

// UploadHandler serves the archive browsing endpoints. Both fields may be nil
// when no bucket is configured.
type UploadHandler struct {
	Archive ArchiveReader
	Batcher StatusSource
}

// List handles GET /uploads?prefix=.
func (h *UploadHandler) List(c echo.Context) error {
	if h.Archive == nil {
		return response.OK(c, map[string]any{"objects": []storage.ObjectInfo{}}, "archive not configured")
	}
	prefix := c.QueryParam("prefix")
	if prefix == "" {
		prefix = storage.RootPrefix
	}
	objects, err := h.Archive.List(c.Request().Context(), prefix)
	if err != nil {
		return response.Failed(c, "list uploads: "+err.Error())
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}
	return response.OK(c, map[string]any{"objects": objects}, "")
}

// Content handles GET /uploads/content?key=.
func (h *UploadHandler) Content(c echo.Context) error {
	if h.Archive == nil {
		return response.BadRequest(c, "archive not configured", "archive not configured")
	}
	key := c.QueryParam("key")
	if key == "" {
		return response.Rejected(c, "query param key is required")
	}
	logs, err := h.Archive.GetLogs(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return response.NotFound(c, "not found", "no such upload: "+key)
		}
		return response.Failed(c, "read upload: "+err.Error())
	}
	return response.OK(c, map[string]any{"logs": logs, "key": key}, "")
}

// Status handles GET /uploads/status.
func (h *UploadHandler) Status(c echo.Context) error {
	if h.Batcher == nil {
		return response.OK(c, batcher.Status{}, "archive not configured")
	}
	return response.OK(c, h.Batcher.Status(), "")
}
