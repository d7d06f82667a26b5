package helpers

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryWithBackoff_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	res, err := RetryWithBackoff("op", 3, time.Millisecond, func() (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if res != "ok" {
		t.Errorf("expected ok, got %v", res)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff("op", 2, time.Millisecond, func() (interface{}, error) {
		calls++
		return nil, errors.New("down")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryWithBackoff_FirstAttemptImmediate(t *testing.T) {
	started := time.Now()
	if _, err := RetryWithBackoff("op", 1, time.Second, func() (interface{}, error) {
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	if time.Since(started) > 100*time.Millisecond {
		t.Error("successful first attempt must not sleep")
	}
}

func TestTypedErrors_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &StorageError{CoinwatchError{Message: "failed to open snapshot log", Cause: cause}}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}

	wrapped := fmt.Errorf("save: %w", err)
	var storageErr *StorageError
	if !errors.As(wrapped, &storageErr) {
		t.Error("expected errors.As to find StorageError through wrapping")
	}
}

func TestTypedErrors_MessageWithoutCause(t *testing.T) {
	err := &ValidationError{CoinwatchError{Message: "invalid symbol"}}
	if err.Error() != "invalid symbol" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
