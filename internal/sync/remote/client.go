// Package remote talks to the remote domain service that owns the
// authoritative copy of every record.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/config"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/logging"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/metrics"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Client is the CRUD contract of the remote domain service.
type Client interface {
	// Create stores a new record and returns the server's canonical copy.
	Create(ctx context.Context, t models.EntityType, scopeKey string, payload json.RawMessage) (*models.CachedRecord, error)

	// Update applies a partial patch and returns the server's canonical copy.
	Update(ctx context.Context, t models.EntityType, scopeKey, id string, patch json.RawMessage) (*models.CachedRecord, error)

	// Delete removes a record. Deleting a record that is already gone succeeds.
	Delete(ctx context.Context, t models.EntityType, scopeKey, id string) error

	// List returns every record of type t visible in scopeKey, in server order.
	List(ctx context.Context, t models.EntityType, scopeKey string) ([]*models.CachedRecord, error)
}

// Pinger checks whether the remote service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPClient implements Client over the service's REST API.
type HTTPClient struct {
	baseURL    *url.URL
	token      string
	healthPath string
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Collector
}

// NewHTTPClient creates an HTTPClient. m may be nil.
func NewHTTPClient(rc config.RemoteConfig, bc config.BreakerConfig, m *metrics.Collector) (*HTTPClient, error) {
	if rc.BaseURL == "" {
		return nil, errors.New(errors.ErrInvalid, "remote base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(rc.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Wrap(errors.ErrInvalid, fmt.Sprintf("invalid remote base URL %q", rc.BaseURL), err)
	}

	healthPath := rc.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	c := &HTTPClient{
		baseURL:    base,
		token:      rc.Token,
		healthPath: healthPath,
		http:       &http.Client{Timeout: rc.RequestTimeout},
		metrics:    m,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= bc.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Warn("circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			m.SetBreakerState(int(to))
		},
		// Rejections such as conflicts say nothing about service health.
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
	})
	return c, nil
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, t models.EntityType, scopeKey string, payload json.RawMessage) (*models.CachedRecord, error) {
	data, err := c.do(ctx, "create", http.MethodPost, c.entityURL(t, scopeKey), payload)
	if err != nil {
		return nil, err
	}
	return decodeRecord(t, scopeKey, data)
}

// Update implements Client. A record missing on the server is a conflict.
func (c *HTTPClient) Update(ctx context.Context, t models.EntityType, scopeKey, id string, patch json.RawMessage) (*models.CachedRecord, error) {
	data, err := c.do(ctx, "update", http.MethodPatch, c.entityURL(t, scopeKey, id), patch)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrap(errors.ErrSyncConflict, fmt.Sprintf("%s %s no longer exists on the remote", t, id), err)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(t, scopeKey, data)
}

// Delete implements Client.
func (c *HTTPClient) Delete(ctx context.Context, t models.EntityType, scopeKey, id string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, c.entityURL(t, scopeKey, id), nil)
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	return err
}

// List implements Client.
func (c *HTTPClient) List(ctx context.Context, t models.EntityType, scopeKey string) ([]*models.CachedRecord, error) {
	data, err := c.do(ctx, "list", http.MethodGet, c.entityURL(t, scopeKey), nil)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errors.ErrSyncFailed, "decode remote list", err)
	}
	records := make([]*models.CachedRecord, 0, len(raw))
	for _, item := range raw {
		rec, err := decodeRecord(t, scopeKey, item)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Ping implements Pinger. It bypasses the circuit breaker so a probe can
// observe recovery while the breaker is open.
func (c *HTTPClient) Ping(ctx context.Context) error {
	u := c.baseURL.JoinPath(c.healthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "build health request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Classify(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 300 {
		return errors.New(errors.ErrSyncNetwork, fmt.Sprintf("health check returned %d", resp.StatusCode))
	}
	return nil
}

func (c *HTTPClient) entityURL(t models.EntityType, scopeKey string, id ...string) *url.URL {
	u := c.baseURL.JoinPath(append([]string{"entities", string(t)}, id...)...)
	u.RawQuery = url.Values{"scope": {scopeKey}}.Encode()
	return u
}

func (c *HTTPClient) do(ctx context.Context, op, method string, u *url.URL, body []byte) ([]byte, error) {
	start := time.Now()
	status := 0

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "build remote request", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errors.Classify(err)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, errors.Classify(err)
		}
		if status < 200 || status >= 300 {
			return nil, statusError(op, status, data)
		}
		return data, nil
	})
	c.metrics.RecordRemote(op, status, time.Since(start))

	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrap(errors.ErrSyncNetwork, "remote service unavailable", err)
	}
	if err != nil {
		return nil, err
	}
	data, _ := result.([]byte)
	return data, nil
}

// errorResponse is the service's error body.
type errorResponse struct {
	Message string `json:"message"`
}

// statusError maps a non-2xx response to the sync error taxonomy.
func statusError(op string, status int, body []byte) error {
	var code errors.ErrorCode
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		code = errors.ErrValidation
	case status == http.StatusConflict:
		code = errors.ErrSyncConflict
	case status == http.StatusNotFound:
		code = errors.ErrNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = errors.ErrSyncTimeout
	case status == http.StatusTooManyRequests || status >= 500:
		code = errors.ErrSyncNetwork
	default:
		code = errors.ErrSyncFailed
	}

	msg := http.StatusText(status)
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Message != "" {
		msg = er.Message
	}
	return errors.New(code, fmt.Sprintf("%s: remote returned %d: %s", op, status, msg))
}

func isTransient(err error) bool {
	return errors.Is(err, errors.ErrSyncNetwork) || errors.Is(err, errors.ErrSyncTimeout)
}

func decodeRecord(t models.EntityType, scopeKey string, data []byte) (*models.CachedRecord, error) {
	rec, err := models.DecodeRecord(t, data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSyncFailed, "decode remote record", err)
	}
	if rec.ID == "" {
		return nil, errors.New(errors.ErrSyncFailed, "remote record has no id")
	}
	if rec.ScopeKey == "" {
		rec.ScopeKey = scopeKey
	}
	return rec, nil
}

var (
	_ Client = (*HTTPClient)(nil)
	_ Pinger = (*HTTPClient)(nil)
)
