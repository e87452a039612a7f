package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/pkg/logger"
)

// Handler consumes one event of a topic.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	name    string
	handler Handler
}

// Bus is an in-process topic bus. Publish delivers synchronously to every subscriber of the
// topic, so a publisher observes handler failures.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	log    *zap.Logger
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{
		topics: make(map[string][]subscription),
		log:    logger.WithModule("events"),
	}
}

// Subscribe registers handler under name for topic.
func (b *Bus) Subscribe(topic, name string, handler Handler) {
	if handler == nil {
		return
	}
	topic = strings.TrimSpace(topic)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], subscription{name: name, handler: handler})
}

// Topics lists topics with at least one subscriber.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.topics))
	for topic := range b.topics {
		out = append(out, topic)
	}
	return out
}

// Publish hands event to every subscriber of topic. Handler errors are aggregated; a failing
// handler never prevents the others from running.
func (b *Bus) Publish(ctx context.Context, topic string, event Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	eventType := event.Type()
	if eventType == "" {
		monitoring.RecordInboundEvent("unknown", "invalid")
		return fmt.Errorf("%w: eventType is required", ErrInvalidEvent)
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.topics[strings.TrimSpace(topic)]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.log.Debug("no subscribers for event", zap.String("topic", topic), zap.String("event_type", eventType))
		return nil
	}

	var errs error
	for _, sub := range subs {
		if err := b.dispatch(ctx, sub, event); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}

	result := "success"
	switch {
	case errs == nil:
	case errors.Is(errs, ErrInvalidEvent):
		result = "invalid"
	default:
		result = "failure"
	}
	monitoring.RecordInboundEvent(eventType, result)
	return errs
}

func (b *Bus) dispatch(ctx context.Context, sub subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("handler", sub.name),
				zap.String("event_type", event.Type()),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	if err := sub.handler(ctx, event); err != nil {
		b.log.Warn("event handler failed",
			zap.String("handler", sub.name),
			zap.String("event_type", event.Type()),
			zap.Error(err),
		)
		return err
	}
	return nil
}
