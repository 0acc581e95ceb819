package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/zapgate/zapgate/internal/media"
	"github.com/zapgate/zapgate/internal/outbound"
	"github.com/zapgate/zapgate/internal/protocol"
)

type SendHandler struct {
	sender *outbound.Sender
	logger *slog.Logger
}

func NewSendHandler(log *slog.Logger, sender *outbound.Sender) *SendHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SendHandler{
		sender: sender,
		logger: log.With(slog.String("handler", "send")),
	}
}

func (h *SendHandler) Register(e *echo.Echo) {
	e.POST("/send-message", h.SendMessage)
	e.POST("/send-image", h.sendMedia(protocol.MediaImage))
	e.POST("/send-audio", h.sendMedia(protocol.MediaAudio))
	e.POST("/send-video", h.sendMedia(protocol.MediaVideo))
	e.POST("/send-document", h.sendMedia(protocol.MediaDocument))
}

type SendMessageRequest struct {
	To      string `json:"to" validate:"required"`
	Message string `json:"message" validate:"required"`
}

func (h *SendHandler) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	id, err := h.sender.SendText(c.Request().Context(), req.To, req.Message)
	if err != nil {
		return h.sendError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"messageId": id})
}

// SendMediaRequest covers all four media routes; each route reads its own URL
// field, with "url" and "filePath" accepted everywhere.
type SendMediaRequest struct {
	To          string `json:"to" validate:"required"`
	ImageURL    string `json:"imageUrl" validate:"omitempty,url"`
	AudioURL    string `json:"audioUrl" validate:"omitempty,url"`
	VideoURL    string `json:"videoUrl" validate:"omitempty,url"`
	DocumentURL string `json:"documentUrl" validate:"omitempty,url"`
	URL         string `json:"url" validate:"omitempty,url"`
	FilePath    string `json:"filePath"`
	Caption     string `json:"caption"`
	FileName    string `json:"fileName"`
	MimeType    string `json:"mimeType"`
}

func (r SendMediaRequest) sourceURL(kind protocol.MediaKind) string {
	var byKind string
	switch kind {
	case protocol.MediaImage:
		byKind = r.ImageURL
	case protocol.MediaAudio:
		byKind = r.AudioURL
	case protocol.MediaVideo:
		byKind = r.VideoURL
	case protocol.MediaDocument:
		byKind = r.DocumentURL
	}
	if byKind != "" {
		return byKind
	}
	return r.URL
}

func (h *SendHandler) sendMedia(kind protocol.MediaKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req SendMediaRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := c.Validate(&req); err != nil {
			return err
		}

		id, err := h.sender.SendMedia(c.Request().Context(), req.To, outbound.MediaRequest{
			Kind:     kind,
			URL:      req.sourceURL(kind),
			Path:     req.FilePath,
			Mime:     req.MimeType,
			Caption:  req.Caption,
			FileName: req.FileName,
		})
		if err != nil {
			return h.sendError(err)
		}
		return c.JSON(http.StatusOK, map[string]string{"messageId": id})
	}
}

func (h *SendHandler) sendError(err error) error {
	switch {
	case errors.Is(err, outbound.ErrNotConnected):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, outbound.ErrUnsupportedKind), errors.Is(err, outbound.ErrNoSource):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, media.ErrTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	default:
		h.logger.Error("send failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
