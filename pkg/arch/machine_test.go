package arch

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestNewMachine(t *testing.T) {
	if _, err := NewMachine(0); !errors.Is(err, ErrNoCPUs) {
		t.Errorf("NewMachine(0) error = %v, want %v", err, ErrNoCPUs)
	}

	m, err := NewMachine(2)
	if err != nil {
		t.Fatalf("NewMachine(2) error = %v", err)
	}
	if m.NumCPU() != 2 {
		t.Errorf("NumCPU() = %d, want 2", m.NumCPU())
	}
	for cpu := CPUID(0); cpu < 2; cpu++ {
		if !m.IRQEnabled(cpu) {
			t.Errorf("IRQEnabled(%d) = false, want true", cpu)
		}
		if got := m.Executing(cpu); got != NoPid {
			t.Errorf("Executing(%d) = %d, want %d", cpu, got, NoPid)
		}
	}
}

func TestIRQGuardNesting(t *testing.T) {
	m, _ := NewMachine(1)

	outer := m.SaveAndDisableIRQ(0)
	inner := m.SaveAndDisableIRQ(0)
	if m.IRQEnabled(0) {
		t.Fatal("IRQEnabled() = true inside guard")
	}

	inner.Restore()
	if m.IRQEnabled(0) {
		t.Error("IRQEnabled() = true after inner restore, want false")
	}

	outer.Restore()
	if !m.IRQEnabled(0) {
		t.Error("IRQEnabled() = false after outer restore, want true")
	}
}

func TestKick(t *testing.T) {
	m, _ := NewMachine(2)

	var trapped atomic.Int32
	m.OnTrap(func(cpu CPUID) {
		trapped.Store(int32(cpu) + 1)
	})

	if err := m.Kick(1); err != nil {
		t.Fatalf("Kick(1) error = %v", err)
	}
	if m.Kicks(1) != 1 {
		t.Errorf("Kicks(1) = %d, want 1", m.Kicks(1))
	}
	if trapped.Load() != 2 {
		t.Errorf("trap handler saw cpu %d, want 1", trapped.Load()-1)
	}

	if err := m.Kick(5); !errors.Is(err, ErrInvalidCPU) {
		t.Errorf("Kick(5) error = %v, want %v", err, ErrInvalidCPU)
	}
}

func TestSwitchRequiresIRQDisabled(t *testing.T) {
	m, _ := NewMachine(1)
	prev := NewContext(0x4000)
	next := NewContext(0x8000)

	defer func() {
		if recover() == nil {
			t.Error("Switch() with interrupts enabled did not panic")
		}
	}()
	m.Switch(0, &prev, &next, nil)
}

func TestSwitchRunsFinish(t *testing.T) {
	m, _ := NewMachine(1)
	prev := NewContext(0x4000)
	next := NewContext(0x8000)

	guard := m.SaveAndDisableIRQ(0)
	finished := false
	m.Switch(0, &prev, &next, func() { finished = true })
	guard.Restore()

	if !finished {
		t.Error("finish callback was not run")
	}
	if prev.SwitchesOut() != 1 || next.SwitchesIn() != 1 {
		t.Errorf("switch counters = (%d, %d), want (1, 1)", prev.SwitchesOut(), next.SwitchesIn())
	}
	if m.Switches(0) != 1 {
		t.Errorf("Switches(0) = %d, want 1", m.Switches(0))
	}
}
