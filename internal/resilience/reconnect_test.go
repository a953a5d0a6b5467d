package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconnect_SingleAttemptReturnsError(t *testing.T) {
	failure := errors.New("negotiation failed")
	attempts := 0
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		return failure
	}, &ReconnectConfig{MaxAttempts: 1, Backoff: time.Millisecond})

	if !errors.Is(err, failure) || err != failure {
		t.Errorf("Expected the original error unchanged, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestReconnect_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}, &ReconnectConfig{MaxAttempts: 5, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 4 * time.Millisecond})

	if err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_ExhaustedWrapsLastError(t *testing.T) {
	failure := errors.New("still down")
	err := Reconnect(context.Background(), func(ctx context.Context) error {
		return failure
	}, &ReconnectConfig{MaxAttempts: 2, Backoff: time.Millisecond, Multiplier: 1})

	if !errors.Is(err, failure) {
		t.Errorf("Expected wrapped last error, got %v", err)
	}
}
