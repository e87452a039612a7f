package provider

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

type options struct {
	client *http.Client
	log    *zap.Logger
	now    func() time.Time
}

// Option customises a provider client.
type Option func(*options)

// WithHTTPClient overrides the HTTP client used for REST calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

// WithLogger sets the logger used for provider diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithClock overrides the clock used for token expiry (test helper).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
