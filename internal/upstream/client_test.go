package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/medassist/backend/pkg/config"
)

func testRetryConfig(total int) config.RetryConfig {
	return config.RetryConfig{
		Total:           total,
		StatusForcelist: []int{500, 502, 503, 504},
		TimeoutSec:      5,
	}
}

type attemptLog struct {
	attempts []int
	failures int
}

func (l *attemptLog) fn(attempt int, err error) {
	l.attempts = append(l.attempts, attempt)
	if err != nil {
		l.failures++
	}
}

func TestPost_SuccessFirstAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewClient("test", testRetryConfig(3))
	log := &attemptLog{}

	body, status, err := client.Post(context.Background(), srv.URL, map[string]string{"k": "v"}, log.fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", body)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}
	if len(log.attempts) != 1 || log.failures != 0 {
		t.Errorf("expected 1 successful attempt record, got %+v", log)
	}
}

func TestPost_ForceRetryThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewClient("test", testRetryConfig(3))
	log := &attemptLog{}

	body, _, err := client.Post(context.Background(), srv.URL, nil, log.fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", body)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 upstream calls, got %d", calls)
	}
	if len(log.attempts) != 3 || log.failures != 2 {
		t.Errorf("expected 3 attempt records with 2 failures, got %+v", log)
	}
}

func TestPost_AllAttemptsExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	client := NewClient("test", testRetryConfig(3))
	log := &attemptLog{}

	_, status, err := client.Post(context.Background(), srv.URL, nil, log.fn)
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstreamErr.Status != http.StatusBadGateway || status != http.StatusBadGateway {
		t.Errorf("expected last status 502, got %d", upstreamErr.Status)
	}
	if string(upstreamErr.Body) != `{"error":"overloaded"}` {
		t.Errorf("expected last body preserved, got %s", upstreamErr.Body)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 upstream calls, got %d", calls)
	}
	if len(log.attempts) != 3 || log.failures != 3 {
		t.Errorf("expected 3 failed attempt records, got %+v", log)
	}
}

func TestPost_NonForcelistStatusFailsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("test", testRetryConfig(3))

	_, _, err := client.Post(context.Background(), srv.URL, nil, nil)
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstreamErr.Status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", upstreamErr.Status)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected no retries for non-forcelist status, got %d calls", calls)
	}
}

func TestPost_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening

	client := NewClient("test", testRetryConfig(2))

	_, _, err := client.Post(context.Background(), srv.URL, nil, nil)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient("test", testRetryConfig(3))

	body, status, err := client.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK || string(body) != `[]` {
		t.Errorf("unexpected response: %d %s", status, body)
	}
}
