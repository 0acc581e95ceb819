// Package handlers is the thin HTTP boundary: each handler validates one
// request body and calls one core operation.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/zapgate/zapgate/internal/session"
)

type GatewayHandler struct {
	manager *session.Manager
	logger  *slog.Logger
}

func NewGatewayHandler(log *slog.Logger, manager *session.Manager) *GatewayHandler {
	if log == nil {
		log = slog.Default()
	}
	return &GatewayHandler{
		manager: manager,
		logger:  log.With(slog.String("handler", "gateway")),
	}
}

func (h *GatewayHandler) Register(e *echo.Echo) {
	e.GET("/status", h.Status)
	e.GET("/connect", h.Connect)
	e.GET("/disconnect", h.Disconnect)
	e.POST("/pairing-code", h.PairingCode)
}

func (h *GatewayHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Status())
}

func (h *GatewayHandler) Connect(c echo.Context) error {
	h.manager.Connect(c.Request().Context())
	return c.JSON(http.StatusOK, h.manager.Status())
}

func (h *GatewayHandler) Disconnect(c echo.Context) error {
	if err := h.manager.Disconnect(c.Request().Context()); err != nil {
		h.logger.Error("disconnect failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.manager.Status())
}

type PairingCodeRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,phone"`
}

func (h *GatewayHandler) PairingCode(c echo.Context) error {
	var req PairingCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	code, err := h.manager.RequestPairingCode(c.Request().Context(), req.PhoneNumber)
	switch {
	case errors.Is(err, session.ErrAlreadyConnected):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrPairingInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNotInitialized):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		h.logger.Error("pairing code request failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{
		"code":        code,
		"phoneNumber": req.PhoneNumber,
	})
}
