// Package remote holds the shared plumbing for JSON HTTP collaborators: the
// learned model, the verifiers and the exchange bridge.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	svcmetrics "AutoTrader/internal/service/metrics"
	xhttp "AutoTrader/pkg/http"
)

// HTTPServiceBase wraps a base URL and a client and records per-endpoint
// latency and errors.
type HTTPServiceBase struct {
	name    string
	baseURL string
	client  *xhttp.Client
}

func NewHTTPServiceBase(name, baseURL string, timeout time.Duration, opts ...xhttp.ClientOption) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	opts = append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)
	return &HTTPServiceBase{
		name:    name,
		baseURL: baseURL,
		client:  xhttp.NewClient(opts...),
	}
}

func (b *HTTPServiceBase) Name() string { return b.name }

func (b *HTTPServiceBase) do(ctx context.Context, method, path string, query map[string][]string, payload, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("%s: http client not initialized", b.name)
	}
	endpoint := b.name + path
	start := time.Now()
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      method,
		URL:         b.baseURL + path,
		QueryParams: query,
		Body:        payload,
	}, dest)
	svcmetrics.RemoteLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		svcmetrics.RemoteErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// PostJSON posts payload to path and decodes the JSON reply into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload, dest interface{}) error {
	return b.do(ctx, xhttp.MethodPost, path, nil, payload, dest)
}

// GetJSON issues a GET with query parameters.
func (b *HTTPServiceBase) GetJSON(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	return b.do(ctx, xhttp.MethodGet, path, query, nil, dest)
}

// PostJSONWithRetry retries transient failures up to attempts times. Client
// errors (4xx) are returned immediately.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload, dest interface{}, attempts int) error {
	if attempts <= 1 {
		return b.PostJSON(ctx, path, payload, dest)
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = b.PostJSON(ctx, path, payload, dest); err == nil || !Transient(err) {
			return err
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429
	}
	return true
}

func init() {
	svcmetrics.Register()
}
