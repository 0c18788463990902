package process

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"kcore/pkg/arch"
	"kcore/pkg/mm"
	"kcore/pkg/vfs"
)

// Pid is a process identifier.
type Pid int64

const (
	// IdlePid is shared by the idle process of every CPU.
	IdlePid Pid = 0
	// InitPid is the pid of the init process, which adopts orphans.
	InitPid Pid = 1
)

func (p Pid) String() string {
	return strconv.FormatInt(int64(p), 10)
}

// ProcessFlags holds per-process flag bits.
type ProcessFlags uint64

const (
	// FlagKThread marks a kernel thread.
	FlagKThread ProcessFlags = 1 << iota
	// FlagNeedSchedule asks for a reschedule at the next preemption point.
	FlagNeedSchedule
	// FlagVfork marks a process created by vfork.
	FlagVfork
	// FlagNoFreeze exempts the process from freezing.
	FlagNoFreeze
	// FlagExiting is set while the process is exiting.
	FlagExiting
	// FlagWakeKill lets fatal signals wake the process.
	FlagWakeKill
	// FlagSignaled is set when the process was killed by a signal.
	FlagSignaled
	// FlagNeedMigrate asks for a move to the migration target CPU.
	FlagNeedMigrate
)

// Has reports whether all bits in mask are set.
func (f ProcessFlags) Has(mask ProcessFlags) bool {
	return f&mask == mask
}

// WorkerPrivate is private data attached to kernel worker threads.
type WorkerPrivate struct {
	// ShouldStop asks the worker to finish.
	ShouldStop bool
	// Data is owned by the worker.
	Data any
}

// ProcessBasicInfo holds the identity of a process.
type ProcessBasicInfo struct {
	pgid    Pid
	ppid    Pid
	name    string
	cwd     string
	userVM  *mm.AddressSpace
	fdTable *vfs.FileDescriptorTable
	tg      *TaskGroup
}

// Pgid returns the process group id.
func (b ProcessBasicInfo) Pgid() Pid { return b.pgid }

// Ppid returns the parent pid.
func (b ProcessBasicInfo) Ppid() Pid { return b.ppid }

// Name returns the process name.
func (b ProcessBasicInfo) Name() string { return b.name }

// Cwd returns the working directory.
func (b ProcessBasicInfo) Cwd() string { return b.cwd }

// UserVM returns the user address space, or nil for kernel threads.
func (b ProcessBasicInfo) UserVM() *mm.AddressSpace { return b.userVM }

// FDTable returns the file descriptor table.
func (b ProcessBasicInfo) FDTable() *vfs.FileDescriptorTable { return b.fdTable }

// TaskGroup returns the task group the process is scheduled in.
func (b ProcessBasicInfo) TaskGroup() *TaskGroup { return b.tg }

// ProcessSchedulerInfo holds the scheduling state of a process. The virtual
// runtime and priority live in the scheduling entity.
type ProcessSchedulerInfo struct {
	onCPU       int64
	migrateTo   int64
	state       ProcessState
	policy      SchedPolicy
	rtTimeSlice int64
	// running is set while the process holds a CPU. A wakeup of a running
	// process only flips its state; the CPU it runs on queues it when it
	// is switched out.
	running bool
}

const noCPU = -1

// ProcessControlBlock is the kernel record of one process.
//
// Each group of fields has its own lock so the scheduler can read the
// scheduling state without waiting on unrelated updates. Lock order, when
// more than one is needed: children, then basic, then sched. The arch lock
// is only taken by the context switch path.
type ProcessControlBlock struct {
	pid     Pid
	manager *ProcessManager
	se      *ProcessEntity
	kstack  *KernelStack

	flags        atomic.Uint64
	preemptCount atomic.Int64

	// refs counts the holders of the PCB, the registry included.
	refs       atomic.Int64
	registered atomic.Bool
	displaced  atomic.Bool
	released   atomic.Bool

	basicMu sync.RWMutex
	basic   ProcessBasicInfo

	schedMu sync.RWMutex
	sched   ProcessSchedulerInfo

	archMu sync.Mutex
	arch   arch.Context

	childrenMu sync.RWMutex
	children   map[Pid]*ProcessControlBlock

	waitQueue WaitQueue

	workerMu sync.Mutex
	worker   *WorkerPrivate
}

func newPCB(m *ProcessManager, pid Pid, basic ProcessBasicInfo, kstack *KernelStack, state ProcessState) *ProcessControlBlock {
	pcb := &ProcessControlBlock{
		pid:      pid,
		manager:  m,
		kstack:   kstack,
		basic:    basic,
		children: make(map[Pid]*ProcessControlBlock),
		sched: ProcessSchedulerInfo{
			onCPU:     noCPU,
			migrateTo: noCPU,
			state:     state,
			policy:    PolicyCFS,
		},
		arch: arch.NewContext(kstack.MaxAddress()),
	}
	pcb.se = &ProcessEntity{pcb: pcb}
	pcb.se.priority.Store(int64(DefaultPriority))
	pcb.refs.Store(1)
	return pcb
}

// Pid returns the process id.
func (p *ProcessControlBlock) Pid() Pid {
	return p.pid
}

// Get takes a reference on the PCB and returns it.
func (p *ProcessControlBlock) Get() *ProcessControlBlock {
	p.refs.Add(1)
	return p
}

// Put drops a reference. When only the registry's reference remains the
// process is released. A PCB replaced in the registry is released when its
// last reference goes.
func (p *ProcessControlBlock) Put() {
	n := p.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("process: pid %d reference count underflow", p.pid))
	}
	if p.manager == nil {
		return
	}
	switch {
	case n == 1 && p.registered.Load():
		p.manager.releaseIfUnused(p)
	case n == 0 && p.displaced.Load():
		p.manager.retire(p)
	}
}

// Refs returns the current reference count.
func (p *ProcessControlBlock) Refs() int64 {
	return p.refs.Load()
}

// Released reports whether the PCB has been torn down.
func (p *ProcessControlBlock) Released() bool {
	return p.released.Load()
}

// Flags returns a snapshot of the flag bits.
func (p *ProcessControlBlock) Flags() ProcessFlags {
	return ProcessFlags(p.flags.Load())
}

// InsertFlags sets the bits in mask.
func (p *ProcessControlBlock) InsertFlags(mask ProcessFlags) {
	p.flags.Or(uint64(mask))
}

// RemoveFlags clears the bits in mask.
func (p *ProcessControlBlock) RemoveFlags(mask ProcessFlags) {
	p.flags.And(^uint64(mask))
}

// PreemptCount returns the preemption disable depth.
func (p *ProcessControlBlock) PreemptCount() int64 {
	return p.preemptCount.Load()
}

// PreemptDisable increments the preemption disable depth.
func (p *ProcessControlBlock) PreemptDisable() {
	p.preemptCount.Add(1)
}

// PreemptEnable decrements the preemption disable depth.
func (p *ProcessControlBlock) PreemptEnable() {
	p.preemptCount.Add(-1)
}

// Basic returns a snapshot of the identity fields.
func (p *ProcessControlBlock) Basic() ProcessBasicInfo {
	p.basicMu.RLock()
	defer p.basicMu.RUnlock()
	return p.basic
}

// SetName renames the process.
func (p *ProcessControlBlock) SetName(name string) {
	p.basicMu.Lock()
	p.basic.name = name
	p.basicMu.Unlock()
}

// SetCwd changes the working directory.
func (p *ProcessControlBlock) SetCwd(cwd string) {
	p.basicMu.Lock()
	p.basic.cwd = cwd
	p.basicMu.Unlock()
}

// SetUserVM replaces the user address space.
func (p *ProcessControlBlock) SetUserVM(as *mm.AddressSpace) {
	p.basicMu.Lock()
	p.basic.userVM = as
	p.basicMu.Unlock()
}

func (p *ProcessControlBlock) setPpid(ppid Pid) {
	p.basicMu.Lock()
	p.basic.ppid = ppid
	p.basicMu.Unlock()
}

func (p *ProcessControlBlock) setGroup(pgid Pid, tg *TaskGroup) {
	p.basicMu.Lock()
	p.basic.pgid = pgid
	p.basic.tg = tg
	p.basicMu.Unlock()
}

func (p *ProcessControlBlock) taskGroup() *TaskGroup {
	p.basicMu.RLock()
	defer p.basicMu.RUnlock()
	return p.basic.tg
}

// FDTable returns the file descriptor table.
func (p *ProcessControlBlock) FDTable() *vfs.FileDescriptorTable {
	p.basicMu.RLock()
	defer p.basicMu.RUnlock()
	return p.basic.fdTable
}

// State returns the scheduling state.
func (p *ProcessControlBlock) State() ProcessState {
	p.schedMu.RLock()
	defer p.schedMu.RUnlock()
	return p.sched.state
}

func (p *ProcessControlBlock) setRunning(v bool) {
	p.schedMu.Lock()
	p.sched.running = v
	p.schedMu.Unlock()
}

// leaveCPUUnlessRunnable reports whether p is runnable. When it is not, p
// gives up its running mark in the same critical section, so a wakeup
// either lands before and keeps it on the CPU or lands after and queues it.
func (p *ProcessControlBlock) leaveCPUUnlessRunnable() bool {
	p.schedMu.Lock()
	defer p.schedMu.Unlock()
	if p.sched.state.IsRunnable() {
		return true
	}
	p.sched.running = false
	return false
}

// setStateLocked moves the process to s. p.schedMu must be held.
func (p *ProcessControlBlock) setStateLocked(s ProcessState) error {
	if !IsValidTransition(p.sched.state.kind, s.kind) {
		return fmt.Errorf("pid %d %s -> %s: %w", p.pid, p.sched.state, s, ErrInvalidTransition)
	}
	p.sched.state = s
	return nil
}

// OnCPU returns the CPU the process is assigned to.
func (p *ProcessControlBlock) OnCPU() (arch.CPUID, bool) {
	p.schedMu.RLock()
	defer p.schedMu.RUnlock()
	if p.sched.onCPU == noCPU {
		return 0, false
	}
	return arch.CPUID(p.sched.onCPU), true
}

// SetOnCPU assigns the process to cpu.
func (p *ProcessControlBlock) SetOnCPU(cpu arch.CPUID) {
	p.schedMu.Lock()
	p.sched.onCPU = int64(cpu)
	p.schedMu.Unlock()
}

// MigrateTo returns the pending migration target.
func (p *ProcessControlBlock) MigrateTo() (arch.CPUID, bool) {
	p.schedMu.RLock()
	defer p.schedMu.RUnlock()
	if p.sched.migrateTo == noCPU {
		return 0, false
	}
	return arch.CPUID(p.sched.migrateTo), true
}

// Policy returns the scheduling policy.
func (p *ProcessControlBlock) Policy() SchedPolicy {
	p.schedMu.RLock()
	defer p.schedMu.RUnlock()
	return p.sched.policy
}

// Priority returns the scheduling priority.
func (p *ProcessControlBlock) Priority() SchedPriority {
	return p.se.Priority()
}

// SetPriority changes the scheduling priority.
func (p *ProcessControlBlock) SetPriority(prio SchedPriority) error {
	if prio < MinPriority || prio > MaxPriority {
		return fmt.Errorf("pid %d priority %d: %w", p.pid, prio, ErrInvalidPriority)
	}
	p.se.priority.Store(int64(prio))
	return nil
}

// VirtualRuntime returns the accumulated virtual runtime.
func (p *ProcessControlBlock) VirtualRuntime() int64 {
	return p.se.VirtualRuntime()
}

// SetVirtualRuntime overwrites the virtual runtime.
func (p *ProcessControlBlock) SetVirtualRuntime(v int64) {
	p.se.SetVirtualRuntime(v)
}

// IncreaseVirtualRuntime adds delta to the virtual runtime.
func (p *ProcessControlBlock) IncreaseVirtualRuntime(delta int64) {
	p.se.addVirtualRuntime(delta)
}

// RTTimeSlice returns the remaining real-time slice.
func (p *ProcessControlBlock) RTTimeSlice() int64 {
	p.schedMu.RLock()
	defer p.schedMu.RUnlock()
	return p.sched.rtTimeSlice
}

// SetRTTimeSlice sets the remaining real-time slice.
func (p *ProcessControlBlock) SetRTTimeSlice(n int64) {
	p.schedMu.Lock()
	p.sched.rtTimeSlice = n
	p.schedMu.Unlock()
}

// SE returns the scheduling entity of the process.
func (p *ProcessControlBlock) SE() *ProcessEntity {
	return p.se
}

// KernelStack returns the kernel stack.
func (p *ProcessControlBlock) KernelStack() *KernelStack {
	return p.kstack
}

// ArchInfo returns a copy of the saved register context.
func (p *ProcessControlBlock) ArchInfo() arch.Context {
	p.archMu.Lock()
	defer p.archMu.Unlock()
	return p.arch
}

// Children returns the pids of the children, sorted.
func (p *ProcessControlBlock) Children() []Pid {
	p.childrenMu.RLock()
	defer p.childrenMu.RUnlock()
	return sortedPids(p.children)
}

// WaitQueue returns the queue processes waiting on this one sleep on.
func (p *ProcessControlBlock) WaitQueue() *WaitQueue {
	return &p.waitQueue
}

// WorkerPrivate returns the worker data of a kernel thread, or nil.
func (p *ProcessControlBlock) WorkerPrivate() *WorkerPrivate {
	p.workerMu.Lock()
	defer p.workerMu.Unlock()
	return p.worker
}

// SetWorkerPrivate attaches worker data.
func (p *ProcessControlBlock) SetWorkerPrivate(w *WorkerPrivate) {
	p.workerMu.Lock()
	p.worker = w
	p.workerMu.Unlock()
}

// GetSocket returns the socket inode open at fd.
func (p *ProcessControlBlock) GetSocket(fd int) (any, bool) {
	table := p.FDTable()
	if table == nil {
		return nil, false
	}
	f, err := table.Get(fd)
	if err != nil || f.Type != vfs.FileTypeSocket {
		return nil, false
	}
	return f.Inode, true
}

func (p *ProcessControlBlock) String() string {
	return fmt.Sprintf("pcb(pid=%d, state=%s)", p.pid, p.State())
}

// GenerateName builds a process name from its arguments. Every argument is
// followed by a single space.
func GenerateName(program string, args []string) string {
	var b strings.Builder
	for _, arg := range args {
		b.WriteString(arg)
		b.WriteByte(' ')
	}
	return b.String()
}
