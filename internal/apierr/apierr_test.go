package apierr

import (
	"errors"
	"testing"
)

func TestKindOfClassified(t *testing.T) {
	err := New(Transient, "backend timeout")
	if KindOf(err) != Transient {
		t.Errorf("expected Transient, got %s", KindOf(err))
	}
}

func TestKindOfUnclassifiedDefaultsFatal(t *testing.T) {
	if KindOf(errors.New("boom")) != Fatal {
		t.Error("expected unclassified error to default to Fatal")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(Transient, "retry me")) {
		t.Error("expected Transient error to be retryable")
	}
	if IsRetryable(New(Validation, "bad input")) {
		t.Error("expected Validation error to not be retryable")
	}
}

func TestWrapPreservesUnderlying(t *testing.T) {
	underlying := errors.New("disk full")
	wrapped := Wrap(Fatal, underlying, "checkpoint failed")
	if !errors.Is(wrapped, underlying) {
		t.Error("expected errors.Is to find the wrapped underlying error")
	}
}

func TestInvalidSetsField(t *testing.T) {
	err := Invalid("polygon", "must have at least 3 points")
	if err.Field != "polygon" {
		t.Errorf("expected field 'polygon', got %q", err.Field)
	}
	if err.Kind != Validation {
		t.Errorf("expected Validation kind, got %s", err.Kind)
	}
}

func TestMultiErrorHasErrors(t *testing.T) {
	var m MultiError
	if m.HasErrors() {
		t.Error("empty MultiError should report no errors")
	}
	m = append(m, Invalid("name", "required"))
	if !m.HasErrors() {
		t.Error("non-empty MultiError should report errors")
	}
}
