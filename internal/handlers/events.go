package handlers

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/liveclass/internal/events"
	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/response"
)

// inboundTopics are the topics external producers may publish to.
var inboundTopics = []string{
	events.TopicBookingEvents,
	events.TopicSessionEvents,
	events.TopicCourseEvents,
}

// EventHandler accepts platform events over HTTP and hands them to the in-process bus.
type EventHandler struct {
	bus *events.Bus
}

// NewEventHandler constructs an event ingest handler.
func NewEventHandler(bus *events.Bus) *EventHandler {
	return &EventHandler{bus: bus}
}

type ingestEventRequest struct {
	Topic string       `json:"topic" validate:"required,notblank"`
	Event events.Event `json:"event" validate:"required"`
}

// Ingest publishes one event. Handler failures are reported so the producer can retry.
func (h *EventHandler) Ingest(c *gin.Context) {
	var req ingestEventRequest
	if !bindAndValidate(c, &req) {
		return
	}

	topic := strings.TrimSpace(req.Topic)
	if !slices.Contains(inboundTopics, topic) {
		response.Error(c, errors.NewBadRequest("unknown topic "+topic))
		return
	}

	if err := h.bus.Publish(requestContext(c), topic, req.Event); err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{
		"topic":      topic,
		"event_type": req.Event.Type(),
	})
}
