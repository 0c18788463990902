package process

import (
	"fmt"

	"kcore/pkg/arch"
)

// SwitchResult holds the two PCBs of a context switch in flight on one CPU.
// Their arch locks are taken before the switch and released on the other
// side of it by SwitchFinishHook.
type SwitchResult struct {
	prev *ProcessControlBlock
	next *ProcessControlBlock
}

// Pending reports whether a switch is in flight.
func (r SwitchResult) Pending() bool {
	return r.prev != nil || r.next != nil
}

// Schedule runs the scheduler on cpu and switches to the process it picks.
// It reports whether a switch happened.
func (m *ProcessManager) Schedule(cpu arch.CPUID) bool {
	guard := m.machine.SaveAndDisableIRQ(cpu)
	defer guard.Restore()

	prev := m.CurrentPCB(cpu)
	next := m.root.cfs.Sched(cpu)
	if next == nil {
		return false
	}
	m.switchTo(cpu, prev, next)
	return true
}

// switchTo hands cpu from prev to next. The reference of prev held by the
// current slot is dropped by SwitchFinishHook; the one on next becomes the
// current slot's.
func (m *ProcessManager) switchTo(cpu arch.CPUID, prev, next *ProcessControlBlock) {
	next.SetOnCPU(cpu)
	next.setRunning(true)
	m.prepareSwitch(cpu, prev, next)

	m.percpu[cpu].current.Store(next.kstack)
	m.machine.SetExecuting(cpu, int64(next.pid))
	m.machine.Switch(cpu, &prev.arch, &next.arch, func() {
		m.SwitchFinishHook(cpu)
	})
}

// prepareSwitch locks the arch state of both processes, lower pid first,
// and parks them in the pending slot of cpu.
func (m *ProcessManager) prepareSwitch(cpu arch.CPUID, prev, next *ProcessControlBlock) {
	res := &m.percpu[cpu].pending
	if res.Pending() {
		panic(fmt.Sprintf("process: cpu %d starts a switch while one is pending", cpu))
	}

	first, second := prev, next
	if next.pid < prev.pid {
		first, second = next, prev
	}
	first.archMu.Lock()
	second.archMu.Lock()
	res.prev = prev
	res.next = next
}

// SwitchFinishHook runs on cpu right after the context switch lands on the
// new stack. It releases the arch locks taken by the switch.
func (m *ProcessManager) SwitchFinishHook(cpu arch.CPUID) {
	res := &m.percpu[cpu].pending
	prev, next := res.prev, res.next
	if prev == nil || next == nil {
		panic(fmt.Sprintf("process: switch finish on cpu %d without a pending switch", cpu))
	}
	res.prev, res.next = nil, nil

	prev.archMu.Unlock()
	next.archMu.Unlock()
	m.logger.Debug("context switched", "cpu", cpu, "prev", prev.pid, "next", next.pid)

	prev.Put()
}

// PendingSwitch returns the switch in flight on cpu.
func (m *ProcessManager) PendingSwitch(cpu arch.CPUID) SwitchResult {
	return m.percpu[cpu].pending
}
