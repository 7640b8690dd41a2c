package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/medassist/backend/internal/metrics"
	"github.com/medassist/backend/pkg/circuitbreaker"
	"github.com/medassist/backend/pkg/config"
	"github.com/medassist/backend/pkg/logger"
	"github.com/medassist/backend/pkg/retry"
)

var errTransport = errors.New("transport failure")

// TransportError means no usable response was ever received.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream unreachable: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// UpstreamError carries the last received status and body after a
// non-retryable status or exhausted retries.
type UpstreamError struct {
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// statusError is the internal retry-loop representation of a received but
// unacceptable response. Forcelisted statuses unwrap to errTransport so the
// retry package treats them like a connection failure.
type statusError struct {
	status    int
	body      []byte
	retryable bool
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

func (e *statusError) Unwrap() error {
	if e.retryable {
		return errTransport
	}
	return nil
}

// AttemptFunc observes a single outbound attempt. Attempt numbers are
// 1-based; err is nil on the successful attempt.
type AttemptFunc func(attempt int, err error)

// Client issues JSON calls to the AI and terminology services with the
// configured retry total, exponential backoff and status forcelist.
type Client struct {
	name       string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	retryCfg   retry.Config
	forceRetry map[int]bool
}

func NewClient(name string, cfg config.RetryConfig) *Client {
	forceRetry := make(map[int]bool, len(cfg.StatusForcelist))
	for _, code := range cfg.StatusForcelist {
		forceRetry[code] = true
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryCfg := retry.Config{
		MaxAttempts:     cfg.Total,
		InitialDelay:    time.Duration(cfg.BackoffFactorSec) * time.Second,
		MaxDelay:        2 * time.Minute,
		Multiplier:      2.0,
		RetryableErrors: []error{errTransport},
		Logger:          logger.GetLogger(),
	}

	return &Client{
		name:       name,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
		retryCfg:   retryCfg,
		forceRetry: forceRetry,
	}
}

// Post sends payload as JSON and returns the response body and status.
// onAttempt, when non-nil, is invoked once per attempt.
func (c *Client) Post(ctx context.Context, url string, payload interface{}, onAttempt AttemptFunc) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, body, onAttempt)
}

// Get fetches url and returns the response body and status.
func (c *Client) Get(ctx context.Context, url string, onAttempt AttemptFunc) ([]byte, int, error) {
	return c.do(ctx, http.MethodGet, url, nil, onAttempt)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, onAttempt AttemptFunc) ([]byte, int, error) {
	var (
		respBody   []byte
		respStatus int
		lastStatus *statusError
	)

	retryCfg := c.retryCfg
	retryCfg.OnAttempt = func(attempt int, attemptErr error) {
		outcome := "success"
		if attemptErr != nil {
			outcome = "failure"
		}
		metrics.UpstreamAttempts.WithLabelValues(c.name, outcome).Inc()
		if onAttempt != nil {
			onAttempt(attempt, attemptErr)
		}
	}

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, retryCfg, func() error {
			attemptErr := c.attempt(ctx, method, url, body, &respBody, &respStatus)
			var se *statusError
			if errors.As(attemptErr, &se) {
				lastStatus = se
			}
			return attemptErr
		})
	})

	if err == nil {
		return respBody, respStatus, nil
	}

	logger.Error("Upstream call failed",
		zap.String("url", url),
		zap.Int("max_attempts", retryCfg.MaxAttempts),
		zap.Error(err),
	)
	metrics.UpstreamExhausted.WithLabelValues(c.name).Inc()

	var se *statusError
	if errors.As(err, &se) {
		return nil, se.status, &UpstreamError{Status: se.status, Body: se.body}
	}
	if lastStatus != nil {
		// Worst recorded response wins over a context or breaker error.
		return nil, lastStatus.status, &UpstreamError{Status: lastStatus.status, Body: lastStatus.body}
	}
	return nil, 0, &TransportError{Cause: err}
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, respBody *[]byte, respStatus *int) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errTransport, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		*respBody = data
		*respStatus = resp.StatusCode
		return nil
	}

	return &statusError{
		status:    resp.StatusCode,
		body:      data,
		retryable: c.forceRetry[resp.StatusCode],
	}
}
