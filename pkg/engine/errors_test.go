package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ClassPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		pred func(error) bool
	}{
		{"validation", NewValidationError("bad input", nil), IsValidation},
		{"conflict", NewConflictError("access disagreement", nil), IsConflict},
		{"safety", NewSafetyError("destructive pattern", nil), IsSafety},
		{"driver", NewDriverError("call failed", nil), IsDriver},
		{"rollback", NewRollbackError("restore failed", nil), IsRollback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.pred(tt.err) {
				t.Errorf("Expected predicate to match %s error", tt.name)
			}
			// Predicates see through wrapping
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.pred(wrapped) {
				t.Errorf("Expected predicate to match wrapped %s error", tt.name)
			}
		})
	}
}

func TestError_OnlyTransientIsRetryable(t *testing.T) {
	if !IsRetryable(NewTransientError("download failed", nil)) {
		t.Error("Expected transient error to be retryable")
	}
	if IsRetryable(NewDriverError("call failed", nil)) {
		t.Error("Expected driver error not to be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("Expected plain error not to be retryable")
	}
}

func TestError_BuildersAttachContext(t *testing.T) {
	cause := errors.New("disk offline")
	err := NewDriverError("create volume", cause).
		WithResource("tank/media").
		WithOperation("volume.create_or_sync").
		WithCode(ErrCodeDriverFailed)

	if !errors.Is(err, cause) {
		t.Error("Expected cause to be unwrappable")
	}
	if err.Resource != "tank/media" {
		t.Errorf("Expected resource, got %q", err.Resource)
	}
	if err.Code != ErrCodeDriverFailed {
		t.Errorf("Expected code, got %q", err.Code)
	}
}

func TestError_ClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"validation", NewValidationError("bad input", nil), ErrorClassValidation},
		{"safety", NewSafetyError("forbidden", nil), ErrorClassSafety},
		{"wrapped", fmt.Errorf("diff: %w", NewValidationError("bad input", nil)), ErrorClassValidation},
		{"unclassified", errors.New("plain"), ErrorClassDriver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.want {
				t.Errorf("Expected class %s, got %s", tt.want, got)
			}
		})
	}
}
