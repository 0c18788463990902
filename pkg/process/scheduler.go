package process

import (
	"fmt"

	"kcore/pkg/arch"
)

// Scheduler selects the next process to run on a CPU.
type Scheduler interface {
	// Sched picks the process to switch to on cpu, or nil to keep the
	// current one. Interrupts must be disabled on cpu.
	Sched(cpu arch.CPUID) *ProcessControlBlock
	// EnqueuePCB makes pcb eligible to run on its assigned CPU.
	EnqueuePCB(pcb *ProcessControlBlock)
}

var _ Scheduler = (*SchedulerCFS)(nil)

// SchedulerCFS is a completely fair scheduler with one run queue per CPU.
// Every task group owns one; the manager's root scheduler is the entry
// point for selection.
type SchedulerCFS struct {
	m      *ProcessManager
	queues []*CFSQueue
}

func newSchedulerCFS(m *ProcessManager) *SchedulerCFS {
	s := &SchedulerCFS{
		m:      m,
		queues: make([]*CFSQueue, len(m.idle)),
	}
	for cpu, idle := range m.idle {
		s.queues[cpu] = NewCFSQueue(arch.CPUID(cpu), idle, m.logger)
	}
	return s
}

// CPUQueue returns the run queue of cpu.
func (s *SchedulerCFS) CPUQueue(cpu arch.CPUID) *CFSQueue {
	if int(cpu) >= len(s.queues) {
		panic(fmt.Sprintf("process: cpu %d out of range (have %d)", cpu, len(s.queues)))
	}
	return s.queues[cpu]
}

// QueueLen returns the number of entities queued on cpu, group entities
// included.
func (s *SchedulerCFS) QueueLen(cpu arch.CPUID) int {
	return s.CPUQueue(cpu).Len()
}

// RunnableLen returns the number of processes waiting for cpu.
func (s *SchedulerCFS) RunnableLen(cpu arch.CPUID) int {
	return s.CPUQueue(cpu).RunnableLen()
}

func (s *SchedulerCFS) queueOf(pcb *ProcessControlBlock) *CFSQueue {
	cpu, ok := pcb.OnCPU()
	if !ok {
		panic(fmt.Sprintf("process: pid %d has no cpu assignment", pcb.pid))
	}
	return s.CPUQueue(cpu)
}

// EnqueuePCB inserts pcb into the run queue of its assigned CPU.
func (s *SchedulerCFS) EnqueuePCB(pcb *ProcessControlBlock) {
	s.queueOf(pcb).Enqueue(pcb)
}

// EnqueueSE inserts se into the run queue of the CPU it belongs to.
func (s *SchedulerCFS) EnqueueSE(se SchedEntity) {
	switch e := se.(type) {
	case *ProcessEntity:
		s.EnqueuePCB(e.pcb)
	case *GroupEntity:
		s.EnqueueGroupSE(e, e.cpu)
	}
}

// EnqueueGroupSE inserts the group entity se into the run queue of cpu.
func (s *SchedulerCFS) EnqueueGroupSE(se *GroupEntity, cpu arch.CPUID) {
	s.CPUQueue(cpu).EnqueueSE(se)
}

// EnqueueResetVruntime inserts pcb after setting its virtual runtime to
// the queue minimum. An empty queue leaves the virtual runtime alone.
func (s *SchedulerCFS) EnqueueResetVruntime(pcb *ProcessControlBlock) {
	q := s.queueOf(pcb)
	if v, ok := q.MinVruntime(); ok {
		pcb.SetVirtualRuntime(v)
	}
	q.Enqueue(pcb)
}

// Dequeue removes the best process queued on cpu, or returns the idle PCB.
// The caller owns one reference on the result.
func (s *SchedulerCFS) Dequeue(cpu arch.CPUID) *ProcessControlBlock {
	return s.CPUQueue(cpu).Dequeue()
}

// DequeueSE removes the entity with the lowest virtual runtime on cpu.
func (s *SchedulerCFS) DequeueSE(cpu arch.CPUID) (SchedEntity, bool) {
	return s.CPUQueue(cpu).DequeueSE()
}

// SetCPUIdle sets the fallback PCB of cpu.
func (s *SchedulerCFS) SetCPUIdle(cpu arch.CPUID, pcb *ProcessControlBlock) {
	s.CPUQueue(cpu).setIdle(pcb)
}

// refreshJiffies gives cpu a new time slice if the current one is used up.
func (s *SchedulerCFS) refreshJiffies(cpu arch.CPUID) {
	q := s.CPUQueue(cpu)
	q.mu.Lock()
	if q.execJiffies <= 0 {
		q.execJiffies = s.m.timeSlice
	}
	q.mu.Unlock()
}

// TimerUpdateJiffies charges one tick to the process running on cpu. When
// the CPU budget runs out the process is flagged for rescheduling; it keeps
// running until the next preemption point.
func (s *SchedulerCFS) TimerUpdateJiffies(cpu arch.CPUID) {
	q := s.CPUQueue(cpu)
	q.mu.Lock()
	q.execJiffies--
	exhausted := q.execJiffies <= 0
	q.mu.Unlock()

	cur := s.m.CurrentPCB(cpu)
	if cur == nil {
		return
	}
	if exhausted {
		cur.InsertFlags(FlagNeedSchedule)
	}

	delta := vruntimeDelta(cur.Priority())
	cur.IncreaseVirtualRuntime(delta)
	if cur.pid == IdlePid {
		return
	}
	for tg := cur.taskGroup(); tg != nil; tg = tg.Parent() {
		if tg.Root() {
			break
		}
		tg.SE(cpu).addVirtualRuntime(delta)
	}
}

// Sched picks the process to run next on cpu. It returns nil when the
// current process should keep the CPU.
//
// The current process yields when it is no longer runnable or when its
// virtual runtime is strictly greater than the best candidate's; on a tie
// it keeps running. The idle process never competes: it yields to any
// candidate and is never chosen over a runnable current process.
//
// The caller owns one reference on the returned PCB.
func (s *SchedulerCFS) Sched(cpu arch.CPUID) *ProcessControlBlock {
	if s.m.machine.IRQEnabled(cpu) {
		panic(fmt.Sprintf("process: sched on cpu %d with interrupts enabled", cpu))
	}

	cur := s.m.CurrentPCB(cpu)
	if cur == nil {
		panic(fmt.Sprintf("process: no current process on cpu %d", cpu))
	}
	cur.RemoveFlags(FlagNeedSchedule)

	q := s.CPUQueue(cpu)
	curRunnable := cur.leaveCPUUnlessRunnable()

	cand := pickNext(q)
	for cand != nil && (cand.pcb == cur || !cand.pcb.State().IsRunnable()) {
		s.m.logger.Warn("stale run queue entry dropped", "cpu", cpu, "pid", cand.pcb.pid, "state", cand.pcb.State())
		cand.pcb.Put()
		cand = pickNext(q)
	}
	if cand == nil {
		s.refreshJiffies(cpu)
		if curRunnable {
			return nil
		}
		idle := q.Idle()
		if idle == cur {
			return nil
		}
		return idle.Get()
	}

	next := cand.pcb
	if !curRunnable || cur.pid == IdlePid || cur.VirtualRuntime() > next.VirtualRuntime() {
		if curRunnable {
			cur.setRunning(false)
			s.m.schedEnqueue(cur, false)
		}
		s.refreshJiffies(cpu)
		s.m.logger.Debug("switch chosen", "cpu", cpu, "prev", cur.pid, "next", next.pid)
		return next
	}

	s.refreshJiffies(cpu)
	s.m.schedEnqueue(next, false)
	next.Put()
	return nil
}
