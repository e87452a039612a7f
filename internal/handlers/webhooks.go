package handlers

import (
	"crypto/subtle"
	stdErrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/logger"
	"github.com/charlesng35/liveclass/pkg/response"
)

// WebhookSecretHeader carries the shared secret the media provider signs callbacks with.
const WebhookSecretHeader = "X-Webhook-Secret"

// RecordingWebhookHandler receives recording status callbacks from the media provider.
type RecordingWebhookHandler struct {
	service *services.VideoSessionService
	secret  string
	log     *zap.Logger
}

// NewRecordingWebhookHandler constructs the webhook handler. An empty secret accepts unsigned calls.
func NewRecordingWebhookHandler(service *services.VideoSessionService, secret string) *RecordingWebhookHandler {
	return &RecordingWebhookHandler{
		service: service,
		secret:  strings.TrimSpace(secret),
		log:     logger.WithModule("http"),
	}
}

// Recording applies one callback. Unknown event types are acknowledged so the provider stops
// retrying them.
func (h *RecordingWebhookHandler) Recording(c *gin.Context) {
	if h.secret != "" {
		given := c.GetHeader(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(h.secret)) != 1 {
			response.Error(c, errors.ErrUnauthorized)
			return
		}
	}

	var event services.RecordingEvent
	if !bindAndValidate(c, &event) {
		return
	}

	err := h.service.HandleRecordingEvent(requestContext(c), event)
	if stdErrors.Is(err, services.ErrInvalidInput) {
		h.log.Warn("ignoring recording webhook",
			zap.String("room_id", event.RoomID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		response.Success(c, http.StatusOK, gin.H{"processed": false})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"processed": true})
}
