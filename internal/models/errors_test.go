package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrNetwork, "fetch playlist", cause)

	if !errors.Is(err, ErrNetwork) {
		t.Errorf("errors.Is(err, ErrNetwork) = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
	if errors.Is(err, ErrParse) {
		t.Errorf("errors.Is(err, ErrParse) = true, want false")
	}

	want := "fetch playlist: network error: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := Wrap(ErrDecryption, "decrypt", errors.New("bad length"))
	outer := Wrap(ErrIO, "segment 3", fmt.Errorf("task: %w", inner))

	if KindOf(outer) != ErrDecryption {
		t.Errorf("KindOf() = %v, want %v", KindOf(outer), ErrDecryption)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if k := KindOf(errors.New("plain")); k != nil {
		t.Errorf("KindOf(plain) = %v, want nil", k)
	}
}

func TestResultDegraded(t *testing.T) {
	r := &Result{TotalSegments: 5, FailedSegments: 1}
	if !r.Degraded() {
		t.Error("Degraded() = false, want true")
	}
	r.FailedSegments = 0
	if r.Degraded() {
		t.Error("Degraded() = true, want false")
	}
}
