// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jllopis/hive/pkg/errors"
)

func transient() error {
	return errors.New(errors.CodeTransport, "connection reset", nil).WithRecoverable(true)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	config := DefaultRetryConfig().WithInitialDelay(time.Millisecond)
	err := config.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return transient()
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	retries := 0
	config := DefaultRetryConfig().
		WithMaxAttempts(2).
		WithInitialDelay(time.Millisecond).
		WithOnRetry(func(int, error) { retries++ })
	err := config.Do(context.Background(), func(context.Context) error {
		attempts++
		return transient()
	})

	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if retries != 1 {
		t.Errorf("expected OnRetry once, got %d", retries)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "plain error", err: stderrors.New("boom")},
		{name: "non recoverable hive error", err: errors.New(errors.CodeUnauthorized, "no token", nil)},
		{name: "deadline", err: context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := DefaultRetryConfig().Do(context.Background(), func(context.Context) error {
				attempts++
				return tt.err
			})
			if err == nil {
				t.Fatalf("expected error")
			}
			if attempts != 1 {
				t.Errorf("expected 1 attempt, got %d", attempts)
			}
		})
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithInitialDelay(200 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := config.Do(ctx, func(context.Context) error {
		attempts++
		return transient()
	})

	if !errors.IsCode(err, errors.CodeTimeout) {
		t.Errorf("expected timeout code on cancel, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancel, got %d", attempts)
	}
}

func TestNoRetry(t *testing.T) {
	attempts := 0
	_ = NoRetry().Do(context.Background(), func(context.Context) error {
		attempts++
		return transient()
	})
	if attempts != 1 {
		t.Errorf("expected single attempt, got %d", attempts)
	}
}

func TestCalculateBackoffCapped(t *testing.T) {
	rc := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	if got := calculateBackoff(0, rc); got != time.Second {
		t.Errorf("expected 1s, got %v", got)
	}
	if got := calculateBackoff(5, rc); got != 3*time.Second {
		t.Errorf("expected cap at 3s, got %v", got)
	}
}
