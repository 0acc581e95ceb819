package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/zapgate/zapgate/internal/media"
)

type MediaHandler struct {
	store  *media.Store
	logger *slog.Logger
}

func NewMediaHandler(log *slog.Logger, store *media.Store) *MediaHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MediaHandler{
		store:  store,
		logger: log.With(slog.String("handler", "media")),
	}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	e.GET("/media/:filename", h.Get)
}

func (h *MediaHandler) Get(c echo.Context) error {
	// The route param can arrive still percent-encoded; decode it so the
	// traversal guard sees the real separators.
	name := c.Param("filename")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	path, err := h.store.Resolve(name)
	switch {
	case errors.Is(err, media.ErrPathTraversal):
		h.logger.Warn("media path escape rejected", slog.String("filename", name))
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case errors.Is(err, media.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "media not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.File(path)
}
