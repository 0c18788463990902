package mm

import "testing"

func TestNewAddressSpace(t *testing.T) {
	a, err := NewAddressSpace(true)
	if err != nil {
		t.Fatalf("NewAddressSpace() error = %v", err)
	}
	b, _ := NewAddressSpace(false)

	if a.ID() == b.ID() {
		t.Errorf("ID() = %d for both address spaces", a.ID())
	}
	if !a.Kernel() || b.Kernel() {
		t.Errorf("Kernel() = (%v, %v), want (true, false)", a.Kernel(), b.Kernel())
	}

	if a.Share() != a {
		t.Error("Share() returned a different handle")
	}
	if a.Users() != 2 {
		t.Errorf("Users() = %d, want 2", a.Users())
	}
}
