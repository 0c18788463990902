package process

import (
	"errors"
	"fmt"
	"sync/atomic"

	"kcore/pkg/arch"
)

// SchedPriority is a scheduling priority. Lower values are more favoured.
type SchedPriority int

const (
	// MinPriority is the most favoured priority.
	MinPriority SchedPriority = 0
	// MaxPriority is the least favoured priority.
	MaxPriority SchedPriority = 139
	// DefaultPriority is assigned to new processes.
	DefaultPriority SchedPriority = 100
)

// ErrInvalidPriority is returned for a priority outside [MinPriority, MaxPriority].
var ErrInvalidPriority = errors.New("process: invalid priority")

// NewSchedPriority validates p and converts it to a SchedPriority.
func NewSchedPriority(p int) (SchedPriority, error) {
	if p < int(MinPriority) || p > int(MaxPriority) {
		return 0, fmt.Errorf("priority %d: %w", p, ErrInvalidPriority)
	}
	return SchedPriority(p), nil
}

// SchedPolicy is the scheduling class of a process.
type SchedPolicy uint8

const (
	// PolicyCFS is the completely fair scheduling class.
	PolicyCFS SchedPolicy = iota
)

func (p SchedPolicy) String() string {
	switch p {
	case PolicyCFS:
		return "cfs"
	default:
		return fmt.Sprintf("SchedPolicy(%d)", uint8(p))
	}
}

// SchedEntity is a schedulable item in a CFS run queue. It is either a
// *ProcessEntity standing for one process or a *GroupEntity standing for a
// whole task group on one CPU.
type SchedEntity interface {
	// VirtualRuntime returns the accumulated virtual runtime.
	VirtualRuntime() int64
	// SetVirtualRuntime overwrites the virtual runtime.
	SetVirtualRuntime(v int64)
	// Priority returns the entity priority.
	Priority() SchedPriority
	// CFSRq returns the run queue the entity belongs to, or nil.
	CFSRq() *CFSQueue
	// Queued reports whether the entity is currently linked into a run queue.
	Queued() bool

	base() *entityBase
}

type entityBase struct {
	vruntime atomic.Int64
	priority atomic.Int64

	// cfsRq is the queue the entity was last placed in.
	cfsRq atomic.Pointer[CFSQueue]
	// onRq is the queue the entity is linked into right now.
	onRq atomic.Pointer[CFSQueue]
	// item is the key the entity was inserted with; guarded by onRq's lock.
	item queueItem
}

func (b *entityBase) VirtualRuntime() int64 { return b.vruntime.Load() }

func (b *entityBase) SetVirtualRuntime(v int64) { b.vruntime.Store(v) }

func (b *entityBase) Priority() SchedPriority { return SchedPriority(b.priority.Load()) }

func (b *entityBase) CFSRq() *CFSQueue { return b.cfsRq.Load() }

func (b *entityBase) Queued() bool { return b.onRq.Load() != nil }

func (b *entityBase) base() *entityBase { return b }

func (b *entityBase) addVirtualRuntime(delta int64) { b.vruntime.Add(delta) }

// ProcessEntity is the scheduling entity of a single process.
type ProcessEntity struct {
	entityBase
	pcb *ProcessControlBlock
}

// PCB returns the process the entity stands for.
func (e *ProcessEntity) PCB() *ProcessControlBlock {
	return e.pcb
}

// GroupEntity is the per-CPU scheduling entity of a task group. It is
// queued in the parent group's run queue and owns the run queue of its own
// group on that CPU.
type GroupEntity struct {
	entityBase
	group *TaskGroup
	cpu   arch.CPUID
	myQ   atomic.Pointer[CFSQueue]
}

// Group returns the task group the entity stands for.
func (e *GroupEntity) Group() *TaskGroup {
	return e.group
}

// CPU returns the CPU the entity schedules on.
func (e *GroupEntity) CPU() arch.CPUID {
	return e.cpu
}

// MyQ returns the run queue owned by the group on the entity's CPU.
func (e *GroupEntity) MyQ() *CFSQueue {
	return e.myQ.Load()
}

// vruntimeDelta is the virtual runtime charged for one tick at prio.
// TODO: weight the charge by priority; every tick costs one unit for now.
func vruntimeDelta(SchedPriority) int64 {
	return 1
}
