package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/zapgate/zapgate/internal/webhook"
)

type WebhookHandler struct {
	dispatcher *webhook.Dispatcher
	logger     *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, dispatcher *webhook.Dispatcher) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		dispatcher: dispatcher,
		logger:     log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/config", h.Configure)
}

type WebhookConfigRequest struct {
	WebhookURL string `json:"webhookUrl" validate:"required,url"`
}

func (h *WebhookHandler) Configure(c echo.Context) error {
	var req WebhookConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	h.dispatcher.SetEndpoint(req.WebhookURL)
	return c.JSON(http.StatusOK, map[string]string{
		"status":     "ok",
		"webhookUrl": req.WebhookURL,
	})
}
