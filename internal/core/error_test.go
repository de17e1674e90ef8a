package core

import "testing"

func TestErrorStateKeepsFirst(t *testing.T) {
	var s errorState
	first := Errorf(ErrInvalidArgument, "first")
	second := Errorf(ErrUnknown, "second")

	if !s.record(first) {
		t.Fatal("first error should be kept")
	}
	if s.record(second) {
		t.Fatal("second error should be dropped while first is pending")
	}
	if got := s.take(); got != first {
		t.Fatalf("take() = %v, want first", got)
	}
	if got := s.take(); got != nil {
		t.Fatalf("take() after clear = %v, want nil", got)
	}

	// After retrieval the slot accepts errors again.
	if !s.record(second) {
		t.Fatal("error after retrieval should be kept")
	}
}

func TestErrorStateIgnoresNone(t *testing.T) {
	var s errorState
	if s.record(nil) {
		t.Fatal("nil must not be recorded")
	}
	if s.record(&Error{Kind: ErrNone}) {
		t.Fatal("ErrNone must not be recorded")
	}
	if s.take() != nil {
		t.Fatal("slot should be empty")
	}
}

func TestAsError(t *testing.T) {
	orig := Errorf(ErrOutOfMemory, "boom")
	if AsError(orig) != orig {
		t.Fatal("classified errors must pass through")
	}
	wrapped := AsError(errPlain("disk on fire"))
	if wrapped.Kind != ErrUnknown || wrapped.Message != "disk on fire" {
		t.Fatalf("unexpected conversion: %+v", wrapped)
	}
	if AsError(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }

func TestErrorMessage(t *testing.T) {
	if got := (&Error{Kind: ErrCancelled}).Error(); got != "cancelled" {
		t.Fatalf("kind-only message = %q", got)
	}
	if got := Errorf(ErrInvalidOperation, "op %d", 3).Error(); got != "op 3" {
		t.Fatalf("formatted message = %q", got)
	}
}
