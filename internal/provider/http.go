package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/monitoring"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRetryAttempts = 3
	retryBackoff         = 200 * time.Millisecond
	maxErrorBody         = 512
)

// statusError is returned for non-2xx responses.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// retryable reports whether another attempt may succeed. Client errors are final.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return true
}

// caller issues bounded JSON calls to a provider and records their outcome.
type caller struct {
	name     string
	client   *http.Client
	timeout  time.Duration
	attempts int
	log      *zap.Logger
}

// do runs fn with a per-attempt timeout. Only idempotent operations pass attempts > 1.
func (c *caller) do(ctx context.Context, operation string, attempts int, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if attempts < 1 {
		attempts = 1
	}

	start := time.Now()
	var err error
retry:
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = fn(callCtx)
		cancel()
		if err == nil || !retryable(err) || attempt >= attempts {
			break
		}
		c.log.Debug("retrying provider call",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}

	if err != nil {
		monitoring.RecordProviderCall(c.name, operation, "failure", err.Error(), time.Since(start))
		c.log.Warn("provider call failed", zap.String("operation", operation), zap.Error(err))
		return fmt.Errorf("%w: %s %s: %v", ErrProvider, c.name, operation, err)
	}
	monitoring.RecordProviderCall(c.name, operation, "success", "", time.Since(start))
	return nil
}

func (c *caller) sendJSON(ctx context.Context, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newCaller(name string, client *http.Client, timeout time.Duration, attempts int, log *zap.Logger) *caller {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &caller{name: name, client: client, timeout: timeout, attempts: attempts, log: log}
}
