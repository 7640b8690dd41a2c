package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func newTestBreaker(failureThreshold uint32) *CircuitBreaker {
	return NewCircuitBreaker("test", Config{
		MaxRequests:      1,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: failureThreshold,
		SuccessThreshold: 1,
	})
}

func TestExecute_PassesThroughWhenClosed(t *testing.T) {
	cb := newTestBreaker(3)
	err := cb.Execute(context.Background(), func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(2)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("expected operation error, got %v", err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestExecute_RecoversThroughHalfOpen(t *testing.T) {
	cb := newTestBreaker(1)

	if err := cb.Execute(context.Background(), func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("expected operation error, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	time.Sleep(60 * time.Millisecond)

	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("unexpected error in half-open: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed state after recovery, got %s", cb.State())
	}
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(2)

	cb.Execute(context.Background(), func() error { return errBoom })
	cb.Execute(context.Background(), func() error { return nil })
	cb.Execute(context.Background(), func() error { return errBoom })

	if cb.State() != StateClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}
