package procfs

import (
	"errors"
	"testing"

	"golang.org/x/exp/slices"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(3, "sh"); err != nil {
		t.Fatalf("Register(3) error = %v", err)
	}
	if err := r.Register(1, "init"); err != nil {
		t.Fatalf("Register(1) error = %v", err)
	}
	if err := r.Register(3, "sh"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Register(3) twice error = %v, want %v", err, ErrAlreadyRegistered)
	}

	if got := r.Pids(); !slices.Equal(got, []int64{1, 3}) {
		t.Errorf("Pids() = %v, want [1 3]", got)
	}

	e, ok := r.Lookup(3)
	if !ok || e.Name != "sh" {
		t.Errorf("Lookup(3) = %+v, %v", e, ok)
	}

	if err := r.Unregister(3); err != nil {
		t.Fatalf("Unregister(3) error = %v", err)
	}
	if err := r.Unregister(3); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Unregister(3) twice error = %v, want %v", err, ErrNotRegistered)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}
