package arch

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// CPUID identifies a processor.
type CPUID uint32

// NoPid is stored in the executing table for a CPU that runs nothing yet.
const NoPid int64 = -1

// Machine errors.
var (
	ErrInvalidCPU = errors.New("arch: invalid cpu id")
	ErrNoCPUs     = errors.New("arch: machine needs at least one cpu")
)

// TrapHandler is invoked when a CPU is kicked into kernel mode.
type TrapHandler func(cpu CPUID)

// cpuState is the per-CPU architecture state.
type cpuState struct {
	irqEnabled atomic.Bool
	executing  atomic.Int64
	kicks      atomic.Uint64
	switches   atomic.Uint64
}

// Machine is a simulated symmetric multiprocessor.
type Machine struct {
	cpus  []cpuState
	ready atomic.Bool
	trap  atomic.Pointer[TrapHandler]
}

// NewMachine creates a machine with ncpu processors, all with interrupts
// enabled and executing nothing.
func NewMachine(ncpu int) (*Machine, error) {
	if ncpu < 1 {
		return nil, ErrNoCPUs
	}

	m := &Machine{cpus: make([]cpuState, ncpu)}
	for i := range m.cpus {
		m.cpus[i].irqEnabled.Store(true)
		m.cpus[i].executing.Store(NoPid)
	}
	return m, nil
}

// Setup performs the architecture specific part of process management
// initialization. Calling it more than once is harmless.
func (m *Machine) Setup() error {
	m.ready.Store(true)
	return nil
}

// Ready reports whether Setup has run.
func (m *Machine) Ready() bool {
	return m.ready.Load()
}

// NumCPU returns the number of processors.
func (m *Machine) NumCPU() int {
	return len(m.cpus)
}

// Valid reports whether cpu names a processor of this machine.
func (m *Machine) Valid(cpu CPUID) bool {
	return int(cpu) < len(m.cpus)
}

func (m *Machine) cpu(cpu CPUID) *cpuState {
	if !m.Valid(cpu) {
		panic(fmt.Sprintf("arch: cpu %d out of range (have %d)", cpu, len(m.cpus)))
	}
	return &m.cpus[cpu]
}

// IRQEnabled reports whether interrupts are enabled on cpu.
func (m *Machine) IRQEnabled(cpu CPUID) bool {
	return m.cpu(cpu).irqEnabled.Load()
}

// DisableIRQ disables interrupts on cpu.
func (m *Machine) DisableIRQ(cpu CPUID) {
	m.cpu(cpu).irqEnabled.Store(false)
}

// EnableIRQ enables interrupts on cpu.
func (m *Machine) EnableIRQ(cpu CPUID) {
	m.cpu(cpu).irqEnabled.Store(true)
}

// IRQGuard remembers the interrupt state that SaveAndDisableIRQ replaced.
type IRQGuard struct {
	m       *Machine
	cpu     CPUID
	enabled bool
}

// SaveAndDisableIRQ disables interrupts on cpu and returns a guard that
// restores the previous state. Guards nest.
func (m *Machine) SaveAndDisableIRQ(cpu CPUID) IRQGuard {
	st := m.cpu(cpu)
	prev := st.irqEnabled.Swap(false)
	return IRQGuard{m: m, cpu: cpu, enabled: prev}
}

// Restore puts back the interrupt state saved by SaveAndDisableIRQ.
func (g IRQGuard) Restore() {
	if g.m == nil {
		return
	}
	g.m.cpu(g.cpu).irqEnabled.Store(g.enabled)
}

// SetExecuting records the pid now executing on cpu.
func (m *Machine) SetExecuting(cpu CPUID, pid int64) {
	m.cpu(cpu).executing.Store(pid)
}

// Executing returns the pid executing on cpu, or NoPid.
func (m *Machine) Executing(cpu CPUID) int64 {
	return m.cpu(cpu).executing.Load()
}

// OnTrap installs the handler run when a CPU is kicked. A nil handler
// removes it.
func (m *Machine) OnTrap(h TrapHandler) {
	if h == nil {
		m.trap.Store(nil)
		return
	}
	m.trap.Store(&h)
}

// Kick forces cpu to trap into kernel mode.
func (m *Machine) Kick(cpu CPUID) error {
	if !m.Valid(cpu) {
		return fmt.Errorf("kick cpu %d: %w", cpu, ErrInvalidCPU)
	}
	m.cpus[cpu].kicks.Add(1)
	if h := m.trap.Load(); h != nil {
		(*h)(cpu)
	}
	return nil
}

// Kicks returns how many times cpu has been kicked.
func (m *Machine) Kicks(cpu CPUID) uint64 {
	return m.cpu(cpu).kicks.Load()
}

// Switches returns how many context switches cpu has performed.
func (m *Machine) Switches(cpu CPUID) uint64 {
	return m.cpu(cpu).switches.Load()
}

// Switch saves the register state into prev, loads next and runs finish on
// the new stack. Interrupts must be disabled on cpu.
func (m *Machine) Switch(cpu CPUID, prev, next *Context, finish func()) {
	st := m.cpu(cpu)
	if st.irqEnabled.Load() {
		panic(fmt.Sprintf("arch: context switch on cpu %d with interrupts enabled", cpu))
	}

	prev.switchesOut++
	next.switchesIn++
	st.switches.Add(1)

	if finish != nil {
		finish()
	}
}
