package process

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"kcore/pkg/arch"
	"kcore/pkg/mm"
	"kcore/pkg/procfs"
	"kcore/pkg/vfs"
)

// Process manager errors.
var (
	ErrNotInitialized  = errors.New("process: manager not initialized")
	ErrNoInit          = errors.New("process: init process not found")
	ErrNoChild         = errors.New("process: no such child")
	ErrNotExited       = errors.New("process: child has not exited")
	ErrProcessNotFound = errors.New("process: process not found")
)

// DefaultTimeSliceJiffies is the CPU budget granted per time slice.
const DefaultTimeSliceJiffies = 10

// ManagerConfig contains configuration for creating a ProcessManager.
type ManagerConfig struct {
	// NumCPU is the number of processors of the machine built when Machine
	// is nil. Zero means one.
	NumCPU int
	// TimeSliceJiffies is the budget of one time slice. Zero means
	// DefaultTimeSliceJiffies.
	TimeSliceJiffies int64
	// Machine is the architecture layer to run on.
	Machine *arch.Machine
	// ProcFS receives process registrations. A private registry is used
	// when nil.
	ProcFS *procfs.Registry
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// CreateConfig contains configuration for creating a new process.
type CreateConfig struct {
	// Name is the process name. When empty it is built from Args.
	Name string
	// Args is the command line.
	Args []string
	// Cwd overrides the working directory inherited from the parent.
	Cwd string
	// Priority is the scheduling priority. Zero means DefaultPriority.
	Priority SchedPriority
	// Pinned places the process on CPU instead of the creating CPU.
	Pinned bool
	CPU    arch.CPUID
	// KernelThread creates a kernel thread without a user address space.
	KernelThread bool
	// UserVM is the user address space. When nil the parent's is shared.
	UserVM *mm.AddressSpace
}

type perCPU struct {
	// current is the kernel stack of the context executing on the CPU.
	current atomic.Pointer[KernelStack]
	// pending is only touched by the owning CPU with interrupts disabled.
	pending SwitchResult
}

// ProcessManager is the authority for cross-process operations: creation,
// lookup, sleep and wakeup, exit and release, and the per-CPU scheduling
// loop.
//
// Operations that act on "the current process" take the CPU they run on.
type ProcessManager struct {
	machine   *arch.Machine
	procfs    *procfs.Registry
	logger    *slog.Logger
	timeSlice int64

	initStarted atomic.Bool
	initDone    atomic.Bool
	nextPid     atomic.Int64
	kernelAS    *mm.AddressSpace

	// mu protects table.
	mu    sync.RWMutex
	table map[Pid]*ProcessControlBlock

	idle   []*ProcessControlBlock
	percpu []perCPU

	root     *TaskGroup
	groupsMu sync.RWMutex
	groups   map[Pid]*TaskGroup
	pgroups  *ProcessGroupManager
}

// NewProcessManager creates a process manager. Init must be called before
// any other method.
func NewProcessManager(cfg ManagerConfig) (*ProcessManager, error) {
	machine := cfg.Machine
	if machine == nil {
		n := cfg.NumCPU
		if n == 0 {
			n = 1
		}
		var err error
		if machine, err = arch.NewMachine(n); err != nil {
			return nil, fmt.Errorf("create machine: %w", err)
		}
	}

	fs := cfg.ProcFS
	if fs == nil {
		fs = procfs.NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	slice := cfg.TimeSliceJiffies
	if slice <= 0 {
		slice = DefaultTimeSliceJiffies
	}

	m := &ProcessManager{
		machine:   machine,
		procfs:    fs,
		logger:    logger.With("component", "process"),
		timeSlice: slice,
		groups:    make(map[Pid]*TaskGroup),
		pgroups:   NewProcessGroupManager(),
	}
	m.nextPid.Store(int64(InitPid))
	return m, nil
}

// Init builds the kernel address space, the pid table, the idle process of
// every CPU and the root task group. It may only be called once.
func (m *ProcessManager) Init() {
	if !m.initStarted.CompareAndSwap(false, true) {
		panic("process: manager initialized twice")
	}

	as, err := mm.NewAddressSpace(true)
	if err != nil {
		panic(fmt.Sprintf("process: create kernel address space: %v", err))
	}
	m.kernelAS = as

	m.mu.Lock()
	m.table = make(map[Pid]*ProcessControlBlock)
	m.mu.Unlock()

	if err := m.machine.Setup(); err != nil {
		panic(fmt.Sprintf("process: arch setup: %v", err))
	}

	n := m.machine.NumCPU()
	m.idle = make([]*ProcessControlBlock, n)
	m.percpu = make([]perCPU, n)
	for cpu := range n {
		m.idle[cpu] = m.newIdle(arch.CPUID(cpu))
	}

	m.root = m.NewTaskGroup(0, nil)
	m.AddTaskGroup(0, m.root)
	m.pgroups.AddGroup(0)

	for cpu, idle := range m.idle {
		idle.setGroup(0, m.root)
		m.percpu[cpu].current.Store(idle.kstack)
		idle.Get()
		m.machine.SetExecuting(arch.CPUID(cpu), int64(IdlePid))
	}

	m.initDone.Store(true)
	m.logger.Info("process manager initialized", "cpus", n, "time_slice", m.timeSlice)
}

func (m *ProcessManager) newIdle(cpu arch.CPUID) *ProcessControlBlock {
	kstack, err := NewKernelStack()
	if err != nil {
		panic(fmt.Sprintf("process: idle stack for cpu %d: %v", cpu, err))
	}

	basic := ProcessBasicInfo{
		name:    fmt.Sprintf("idle/%d", cpu),
		cwd:     "/",
		userVM:  m.kernelAS.Share(),
		fdTable: vfs.NewFileDescriptorTable(),
	}
	idle := newPCB(m, IdlePid, basic, kstack, Runnable())
	idle.sched.onCPU = int64(cpu)
	idle.sched.running = true
	idle.InsertFlags(FlagKThread)
	if err := kstack.SetPCB(idle); err != nil {
		panic(fmt.Sprintf("process: idle stack for cpu %d: %v", cpu, err))
	}
	return idle
}

// Initialized reports whether Init has completed.
func (m *ProcessManager) Initialized() bool {
	return m.initDone.Load()
}

// Machine returns the architecture layer.
func (m *ProcessManager) Machine() *arch.Machine {
	return m.machine
}

// NumCPU returns the number of processors.
func (m *ProcessManager) NumCPU() int {
	return m.machine.NumCPU()
}

// InitialAddressSpace returns the kernel address space built by Init.
func (m *ProcessManager) InitialAddressSpace() *mm.AddressSpace {
	return m.kernelAS
}

// IdlePCB returns the idle process of cpu.
func (m *ProcessManager) IdlePCB(cpu arch.CPUID) *ProcessControlBlock {
	return m.idle[cpu]
}

// RootTaskGroup returns the task group of pgid 0.
func (m *ProcessManager) RootTaskGroup() *TaskGroup {
	return m.root
}

// RootScheduler returns the scheduler every selection starts from.
func (m *ProcessManager) RootScheduler() *SchedulerCFS {
	return m.root.cfs
}

// ProcessGroups returns the process group membership table.
func (m *ProcessManager) ProcessGroups() *ProcessGroupManager {
	return m.pgroups
}

func (m *ProcessManager) allocatePid() Pid {
	return Pid(m.nextPid.Add(1) - 1)
}

// CurrentPCB returns the process executing on cpu. The result is borrowed:
// callers keeping it beyond the current context must take a reference.
func (m *ProcessManager) CurrentPCB(cpu arch.CPUID) *ProcessControlBlock {
	if int(cpu) >= len(m.percpu) {
		return nil
	}
	s := m.percpu[cpu].current.Load()
	if s == nil {
		return nil
	}
	return s.PCB()
}

// PreemptDisable increments the preemption counter of the process running
// on cpu. It does nothing before Init completes.
func (m *ProcessManager) PreemptDisable(cpu arch.CPUID) {
	if !m.initDone.Load() {
		return
	}
	if cur := m.CurrentPCB(cpu); cur != nil {
		cur.PreemptDisable()
	}
}

// PreemptEnable decrements the preemption counter of the process running
// on cpu. It does nothing before Init completes.
func (m *ProcessManager) PreemptEnable(cpu arch.CPUID) {
	if !m.initDone.Load() {
		return
	}
	if cur := m.CurrentPCB(cpu); cur != nil {
		cur.PreemptEnable()
	}
}

// Find returns the registered PCB of pid with a reference taken, or nil.
func (m *ProcessManager) Find(pid Pid) *ProcessControlBlock {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pcb, ok := m.table[pid]
	if !ok {
		return nil
	}
	return pcb.Get()
}

// AddPCB registers pcb under its pid. The registry holds its own
// reference. A PCB already registered under the same pid is replaced and
// loses the registry's reference; it is torn down once unreferenced.
func (m *ProcessManager) AddPCB(pcb *ProcessControlBlock) {
	m.mu.Lock()
	old := m.table[pcb.pid]
	if old == pcb {
		m.mu.Unlock()
		return
	}
	m.table[pcb.pid] = pcb.Get()
	pcb.registered.Store(true)
	if old != nil {
		old.registered.Store(false)
		old.displaced.Store(true)
	}
	m.mu.Unlock()

	if old != nil {
		m.logger.Warn("pid registered twice", "pid", pcb.pid)
		old.Put()
	}
}

// Processes returns the registered pids, sorted.
func (m *ProcessManager) Processes() []Pid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedPids(m.table)
}

// Release removes pid from the registry and tears the process down. The
// registry's reference must be the only one left.
func (m *ProcessManager) Release(pid Pid) {
	m.mu.Lock()
	pcb, ok := m.table[pid]
	if !ok {
		m.mu.Unlock()
		return
	}
	if n := pcb.refs.Load(); n > 1 {
		m.mu.Unlock()
		panic(fmt.Sprintf("process: release of pid %d with %d outstanding references", pid, n-1))
	}
	delete(m.table, pid)
	pcb.registered.Store(false)
	m.mu.Unlock()

	m.destroy(pcb)
}

// releaseIfUnused releases pcb when the registry holds the last reference.
func (m *ProcessManager) releaseIfUnused(pcb *ProcessControlBlock) {
	m.mu.Lock()
	if m.table[pcb.pid] != pcb || pcb.refs.Load() != 1 {
		m.mu.Unlock()
		return
	}
	delete(m.table, pcb.pid)
	pcb.registered.Store(false)
	m.mu.Unlock()

	m.destroy(pcb)
}

func (m *ProcessManager) destroy(pcb *ProcessControlBlock) {
	if !pcb.released.CompareAndSwap(false, true) {
		return
	}
	pcb.refs.Add(-1)

	if err := m.procfs.Unregister(int64(pcb.pid)); err != nil {
		panic(fmt.Sprintf("process: unregister pid %d from procfs: %v", pcb.pid, err))
	}

	ppid := pcb.Basic().ppid
	m.mu.RLock()
	parent := m.table[ppid]
	m.mu.RUnlock()
	if parent != nil {
		parent.childrenMu.Lock()
		if parent.children[pcb.pid] == pcb {
			delete(parent.children, pcb.pid)
		}
		parent.childrenMu.Unlock()
	}

	pcb.kstack.detachPCB()
	pcb.kstack.free()
	m.logger.Debug("process released", "pid", pcb.pid)
}

// retire tears down a PCB displaced from the registry. The procfs entry
// of its pid belongs to the replacement and stays.
func (m *ProcessManager) retire(pcb *ProcessControlBlock) {
	if !pcb.released.CompareAndSwap(false, true) {
		return
	}
	pcb.kstack.detachPCB()
	pcb.kstack.free()
	m.logger.Debug("displaced process released", "pid", pcb.pid)
}

// NewProcess creates a process in state Blocked(false). The creating
// process on cpu becomes its parent; processes created by the idle process
// are parented to init, except init itself. The caller owns one reference
// on the result and makes it runnable with Wakeup.
func (m *ProcessManager) NewProcess(cpu arch.CPUID, cfg *CreateConfig) (*ProcessControlBlock, error) {
	if !m.initDone.Load() {
		return nil, ErrNotInitialized
	}
	if cfg == nil {
		cfg = &CreateConfig{}
	}
	if cfg.Priority < MinPriority || cfg.Priority > MaxPriority {
		return nil, fmt.Errorf("create process: priority %d: %w", cfg.Priority, ErrInvalidPriority)
	}

	target := cpu
	if cfg.Pinned {
		target = cfg.CPU
	}
	if !m.machine.Valid(target) {
		return nil, fmt.Errorf("create process on cpu %d: %w", target, arch.ErrInvalidCPU)
	}

	creator := m.CurrentPCB(cpu)
	if creator == nil {
		return nil, fmt.Errorf("create process: no current process on cpu %d", cpu)
	}

	pid := m.allocatePid()
	src := creator
	var parent *ProcessControlBlock
	if pid > InitPid {
		if creator.pid != IdlePid {
			parent = creator.Get()
		} else if parent = m.Find(InitPid); parent == nil {
			return nil, fmt.Errorf("create pid %d: %w", pid, ErrNoInit)
		}
		defer parent.Put()
		src = parent
	}

	sb := src.Basic()
	name := cfg.Name
	if name == "" {
		name = GenerateName(name, cfg.Args)
	}
	cwd := sb.cwd
	if cfg.Cwd != "" {
		cwd = cfg.Cwd
	}

	var userVM *mm.AddressSpace
	switch {
	case cfg.KernelThread:
	case cfg.UserVM != nil:
		userVM = cfg.UserVM
	case sb.userVM != nil:
		userVM = sb.userVM.Share()
	default:
		userVM = m.kernelAS.Share()
	}

	basic := ProcessBasicInfo{
		pgid:    sb.pgid,
		ppid:    src.pid,
		name:    name,
		cwd:     cwd,
		userVM:  userVM,
		fdTable: vfs.NewFileDescriptorTable(),
		tg:      sb.tg,
	}
	if pid == InitPid {
		basic.ppid = IdlePid
	}

	kstack, err := NewKernelStack()
	if err != nil {
		return nil, fmt.Errorf("create pid %d: %w", pid, err)
	}
	pcb := newPCB(m, pid, basic, kstack, Blocked(false))
	pcb.sched.onCPU = int64(target)
	if cfg.KernelThread {
		pcb.InsertFlags(FlagKThread)
	}
	if cfg.Priority != 0 {
		pcb.se.priority.Store(int64(cfg.Priority))
	}
	if err := kstack.SetPCB(pcb); err != nil {
		return nil, fmt.Errorf("create pid %d: %w", pid, err)
	}
	if err := m.procfs.Register(int64(pid), name); err != nil {
		return nil, fmt.Errorf("create pid %d: %w", pid, err)
	}

	if parent != nil {
		parent.childrenMu.Lock()
		parent.children[pid] = pcb.Get()
		parent.childrenMu.Unlock()
	}
	m.AddPCB(pcb)

	if err := m.pgroups.AddProcess(basic.pgid, pid); err != nil {
		m.logger.Warn("process group membership", "pid", pid, "error", err)
	}

	m.logger.Info("process created", "pid", pid, "ppid", basic.ppid, "name", name, "cpu", target)
	return pcb, nil
}

// Wakeup makes a blocked process runnable and enqueues it with its virtual
// runtime raised to the queue minimum. A process that has not left its CPU
// yet is only marked runnable and keeps running. Waking a runnable process
// does nothing; waking an exited one fails with ErrInvalidState.
func (m *ProcessManager) Wakeup(pcb *ProcessControlBlock) error {
	if st := pcb.State(); st.IsExited() {
		return fmt.Errorf("wakeup pid %d: %w", pcb.pid, ErrInvalidState)
	} else if st.IsRunnable() {
		return nil
	}

	pcb.schedMu.Lock()
	st := pcb.sched.state
	switch {
	case st.IsExited():
		pcb.schedMu.Unlock()
		return fmt.Errorf("wakeup pid %d: %w", pcb.pid, ErrInvalidState)
	case st.IsRunnable():
		pcb.schedMu.Unlock()
		return nil
	}
	err := pcb.setStateLocked(Runnable())
	running := pcb.sched.running
	pcb.schedMu.Unlock()
	if err != nil {
		return err
	}
	if running {
		m.logger.Debug("woken before switching out", "pid", pcb.pid)
		return nil
	}

	// The state lock is dropped before touching the run queue.
	cpu := m.schedEnqueue(pcb, true)
	if cur := m.CurrentPCB(cpu); cur != nil && cur.pid == IdlePid {
		cur.InsertFlags(FlagNeedSchedule)
	}
	return nil
}

// schedEnqueue puts pcb on the run queue of its task group, applying a
// pending migration first. It returns the CPU the process was queued on.
func (m *ProcessManager) schedEnqueue(pcb *ProcessControlBlock, resetVruntime bool) arch.CPUID {
	target, migrated := m.applyMigration(pcb)

	tg := pcb.taskGroup()
	if tg == nil {
		tg = m.root
	}
	if resetVruntime {
		tg.cfs.EnqueueResetVruntime(pcb)
	} else {
		tg.cfs.EnqueuePCB(pcb)
	}

	if migrated {
		if err := m.machine.Kick(target); err != nil {
			m.logger.Warn("kick after migration", "pid", pcb.pid, "cpu", target, "error", err)
		}
		return target
	}
	cpu, _ := pcb.OnCPU()
	return cpu
}

func (m *ProcessManager) applyMigration(pcb *ProcessControlBlock) (arch.CPUID, bool) {
	if !pcb.Flags().Has(FlagNeedMigrate) {
		return 0, false
	}
	pcb.RemoveFlags(FlagNeedMigrate)

	pcb.schedMu.Lock()
	to := pcb.sched.migrateTo
	if to == noCPU {
		pcb.schedMu.Unlock()
		return 0, false
	}
	from := pcb.sched.onCPU
	pcb.sched.onCPU = to
	pcb.sched.migrateTo = noCPU
	pcb.schedMu.Unlock()

	m.logger.Debug("process migrated", "pid", pcb.pid, "from", from, "to", to)
	return arch.CPUID(to), true
}

// Migrate moves pcb to cpu. A queued process moves at once; a running one
// moves the next time it is enqueued.
func (m *ProcessManager) Migrate(pcb *ProcessControlBlock, cpu arch.CPUID) error {
	if !m.machine.Valid(cpu) {
		return fmt.Errorf("migrate pid %d to cpu %d: %w", pcb.pid, cpu, arch.ErrInvalidCPU)
	}
	if pcb.pid == IdlePid {
		return fmt.Errorf("migrate idle process: %w", ErrInvalidState)
	}

	pcb.schedMu.Lock()
	if pcb.sched.state.IsExited() {
		pcb.schedMu.Unlock()
		return fmt.Errorf("migrate pid %d: %w", pcb.pid, ErrInvalidState)
	}
	pcb.sched.migrateTo = int64(cpu)
	pcb.schedMu.Unlock()
	pcb.InsertFlags(FlagNeedMigrate)

	if q := pcb.se.onRq.Load(); q != nil && q.Remove(pcb.se) {
		m.schedEnqueue(pcb, false)
		pcb.Put()
	}
	return nil
}

// MarkSleep blocks the process running on cpu and asks for a reschedule.
// Interrupts must already be disabled on cpu. The caller runs the scheduler
// afterwards. A process that has exited gets ErrInterrupted.
func (m *ProcessManager) MarkSleep(cpu arch.CPUID, interruptible bool) error {
	if m.machine.IRQEnabled(cpu) {
		panic(fmt.Sprintf("process: mark sleep on cpu %d with interrupts enabled", cpu))
	}

	pcb := m.CurrentPCB(cpu)
	if pcb == nil {
		return ErrNotInitialized
	}

	pcb.schedMu.Lock()
	if pcb.sched.state.IsExited() {
		pcb.schedMu.Unlock()
		return fmt.Errorf("mark sleep pid %d: %w: %w", pcb.pid, ErrInterrupted, ErrInvalidState)
	}
	err := pcb.setStateLocked(Blocked(interruptible))
	pcb.schedMu.Unlock()
	if err != nil {
		return err
	}

	pcb.InsertFlags(FlagNeedSchedule)
	return nil
}

// SleepOn blocks the process running on cpu on wq and switches away.
func (m *ProcessManager) SleepOn(cpu arch.CPUID, wq *WaitQueue, interruptible bool) error {
	guard := m.machine.SaveAndDisableIRQ(cpu)
	if err := m.MarkSleep(cpu, interruptible); err != nil {
		guard.Restore()
		return err
	}
	wq.add(m.CurrentPCB(cpu))
	guard.Restore()

	m.Schedule(cpu)
	return nil
}

// Exit terminates the process running on cpu with code. It wakes the
// interruptible waiters of the process, hands its children to init and
// switches away. Exit never returns: the calling goroutine ends once the
// switch is done.
func (m *ProcessManager) Exit(cpu arch.CPUID, code int) {
	guard := m.machine.SaveAndDisableIRQ(cpu)

	pcb := m.CurrentPCB(cpu)
	if pcb == nil || pcb.pid == IdlePid {
		panic(fmt.Sprintf("process: exit of the idle process on cpu %d", cpu))
	}
	pcb.InsertFlags(FlagExiting)

	pcb.schedMu.Lock()
	if err := pcb.setStateLocked(Exited(code)); err != nil {
		pcb.schedMu.Unlock()
		panic(fmt.Sprintf("process: exit: %v", err))
	}
	pcb.schedMu.Unlock()

	filter := Blocked(true)
	pcb.waitQueue.WakeupAll(m, &filter)

	if pcb.pid != InitPid {
		if err := m.adoptChildren(pcb); err != nil {
			panic(fmt.Sprintf("process: pid %d exit: %v", pcb.pid, err))
		}
	}
	m.logger.Info("process exited", "pid", pcb.pid, "code", code)

	guard.Restore()
	m.Schedule(cpu)

	runtime.Goexit()
}

// adoptChildren hands every child of pcb to init.
func (m *ProcessManager) adoptChildren(pcb *ProcessControlBlock) error {
	initPCB := m.Find(InitPid)
	if initPCB == nil {
		return ErrNoInit
	}
	defer initPCB.Put()

	pcb.childrenMu.Lock()
	defer pcb.childrenMu.Unlock()
	if len(pcb.children) == 0 {
		return nil
	}

	initPCB.childrenMu.Lock()
	defer initPCB.childrenMu.Unlock()
	for pid, child := range pcb.children {
		child.setPpid(InitPid)
		initPCB.children[pid] = child
		delete(pcb.children, pid)
		m.logger.Debug("child adopted by init", "pid", pid, "old_ppid", pcb.pid)
	}
	return nil
}

// ReapChild collects the exit code of the exited child pid of parent and
// drops the parent's reference on it.
func (m *ProcessManager) ReapChild(parent *ProcessControlBlock, pid Pid) (int, error) {
	parent.childrenMu.Lock()
	child, ok := parent.children[pid]
	if !ok {
		parent.childrenMu.Unlock()
		return 0, fmt.Errorf("reap pid %d of %d: %w", pid, parent.pid, ErrNoChild)
	}
	st := child.State()
	if !st.IsExited() {
		parent.childrenMu.Unlock()
		return 0, fmt.Errorf("reap pid %d: %w", pid, ErrNotExited)
	}
	delete(parent.children, pid)
	parent.childrenMu.Unlock()

	m.pgroups.RemoveProcess(child.Basic().pgid, pid)
	child.Put()
	return st.ExitCode(), nil
}

// Kick forces the CPU executing pcb, if any, to trap into kernel mode.
func (m *ProcessManager) Kick(cpu arch.CPUID, pcb *ProcessControlBlock) {
	m.PreemptDisable(cpu)
	defer m.PreemptEnable(cpu)

	target, ok := pcb.OnCPU()
	if !ok || m.machine.Executing(target) != int64(pcb.pid) {
		return
	}
	if err := m.machine.Kick(target); err != nil {
		panic(fmt.Sprintf("process: kick cpu %d: %v", target, err))
	}
}

// SetPgid moves pid into process group pgid. The task group of pgid is
// created under the process's current task group on first use, and a
// queued process is moved into the new group's run queue.
func (m *ProcessManager) SetPgid(pid, pgid Pid) error {
	pcb := m.Find(pid)
	if pcb == nil {
		return fmt.Errorf("setpgid pid %d: %w", pid, ErrProcessNotFound)
	}
	defer pcb.Put()

	basic := pcb.Basic()
	if basic.pgid == pgid {
		return nil
	}
	created, err := m.pgroups.SetPgidByPid(pid, pgid, basic.pgid)
	if err != nil {
		return err
	}

	tg, ok := m.FindTaskGroup(pgid)
	if !ok {
		parent := basic.tg
		if parent == nil {
			parent = m.root
		}
		tg = m.NewTaskGroup(pgid, parent)
		tg.InitGroupSE(parent, tg)
		m.AddTaskGroup(pgid, tg)
	}

	queued := false
	if q := pcb.se.onRq.Load(); q != nil {
		queued = q.Remove(pcb.se)
	}
	pcb.setGroup(pgid, tg)
	if queued {
		m.schedEnqueue(pcb, false)
		pcb.Put()
	}

	m.logger.Debug("process group changed", "pid", pid, "pgid", pgid, "old_pgid", basic.pgid, "created", created)
	return nil
}

// TimerTick runs the timer interrupt of cpu: it charges the tick to the
// running process and reschedules when its slice is used up and preemption
// is enabled. It reports whether a switch happened.
func (m *ProcessManager) TimerTick(cpu arch.CPUID) bool {
	guard := m.machine.SaveAndDisableIRQ(cpu)
	m.root.cfs.TimerUpdateJiffies(cpu)
	cur := m.CurrentPCB(cpu)
	need := cur != nil && cur.Flags().Has(FlagNeedSchedule) && cur.PreemptCount() == 0
	guard.Restore()

	if !need {
		return false
	}
	return m.Schedule(cpu)
}

var defaultManager atomic.Pointer[ProcessManager]

// SetDefault sets the process manager returned by Default.
func SetDefault(m *ProcessManager) {
	defaultManager.Store(m)
}

// Default returns the process manager installed with SetDefault.
func Default() *ProcessManager {
	return defaultManager.Load()
}
