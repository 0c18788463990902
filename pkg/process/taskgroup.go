package process

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"kcore/pkg/arch"
)

// ErrGroupNotFound is returned for an unknown process group.
var ErrGroupNotFound = errors.New("process: process group not found")

// TaskGroup is a node of the group scheduling tree. A group owns one run
// queue per CPU and is represented in its parent's run queue on every CPU
// by a GroupEntity, so CPU time is shared fairly between groups first and
// between the members of a group second.
type TaskGroup struct {
	pgid Pid
	m    *ProcessManager
	se   []*GroupEntity
	cfs  *SchedulerCFS

	// parent is held by pgid and resolved through the manager.
	parentMu  sync.RWMutex
	parent    Pid
	hasParent bool

	childrenMu sync.RWMutex
	children   map[Pid]*TaskGroup
}

// NewTaskGroup allocates a group with one entity and one run queue per CPU.
// A nil parent makes a root group.
func (m *ProcessManager) NewTaskGroup(pgid Pid, parent *TaskGroup) *TaskGroup {
	tg := &TaskGroup{
		pgid:     pgid,
		m:        m,
		se:       make([]*GroupEntity, len(m.idle)),
		children: make(map[Pid]*TaskGroup),
	}
	tg.cfs = newSchedulerCFS(m)
	for cpu := range tg.se {
		e := &GroupEntity{group: tg, cpu: arch.CPUID(cpu)}
		e.priority.Store(int64(DefaultPriority))
		tg.se[cpu] = e
	}
	if parent != nil {
		tg.parent = parent.pgid
		tg.hasParent = true
	}
	return tg
}

// InitGroupSE links the entities of ntg into the run queues of parent on
// every CPU and records ntg as a child of parent.
func (tg *TaskGroup) InitGroupSE(parent, ntg *TaskGroup) {
	if parent == nil || ntg == nil {
		return
	}

	ntg.parentMu.Lock()
	ntg.parent = parent.pgid
	ntg.hasParent = true
	ntg.parentMu.Unlock()

	for cpu, se := range ntg.se {
		c := arch.CPUID(cpu)
		se.myQ.Store(ntg.cfs.CPUQueue(c))
		se.cfsRq.Store(parent.cfs.CPUQueue(c))
		parent.cfs.EnqueueGroupSE(se, c)
	}

	parent.childrenMu.Lock()
	parent.children[ntg.pgid] = ntg
	parent.childrenMu.Unlock()
}

// Pgid returns the process group id the task group mirrors.
func (tg *TaskGroup) Pgid() Pid {
	return tg.pgid
}

// Root reports whether tg has no parent.
func (tg *TaskGroup) Root() bool {
	tg.parentMu.RLock()
	defer tg.parentMu.RUnlock()
	return !tg.hasParent
}

// Parent returns the parent group, or nil for the root or when the parent
// is no longer registered.
func (tg *TaskGroup) Parent() *TaskGroup {
	tg.parentMu.RLock()
	pgid, ok := tg.parent, tg.hasParent
	tg.parentMu.RUnlock()
	if !ok {
		return nil
	}
	parent, found := tg.m.FindTaskGroup(pgid)
	if !found {
		return nil
	}
	return parent
}

// Children returns the pgids of the child groups, sorted.
func (tg *TaskGroup) Children() []Pid {
	tg.childrenMu.RLock()
	defer tg.childrenMu.RUnlock()
	return sortedPids(tg.children)
}

// Scheduler returns the scheduler of the group's own run queues.
func (tg *TaskGroup) Scheduler() *SchedulerCFS {
	return tg.cfs
}

// SE returns the entity standing for the group on cpu.
func (tg *TaskGroup) SE(cpu arch.CPUID) *GroupEntity {
	return tg.se[cpu]
}

// AddTaskGroup registers tg under pgid.
func (m *ProcessManager) AddTaskGroup(pgid Pid, tg *TaskGroup) {
	m.groupsMu.Lock()
	m.groups[pgid] = tg
	m.groupsMu.Unlock()
}

// FindTaskGroup looks up the task group of pgid.
func (m *ProcessManager) FindTaskGroup(pgid Pid) (*TaskGroup, bool) {
	m.groupsMu.RLock()
	defer m.groupsMu.RUnlock()
	tg, ok := m.groups[pgid]
	return tg, ok
}

// ProcessGroupManager tracks process group membership.
type ProcessGroupManager struct {
	mu     sync.Mutex
	groups map[Pid][]Pid
}

// NewProcessGroupManager creates an empty membership table.
func NewProcessGroupManager() *ProcessGroupManager {
	return &ProcessGroupManager{groups: make(map[Pid][]Pid)}
}

// AddGroup creates group pgid. Its leader pgid is the first member, except
// for group 0 which starts empty.
func (g *ProcessGroupManager) AddGroup(pgid Pid) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pgid == 0 {
		g.groups[pgid] = []Pid{}
		return
	}
	g.groups[pgid] = []Pid{pgid}
}

// AddProcess appends pid to group pgid.
func (g *ProcessGroupManager) AddProcess(pgid, pid Pid) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.groups[pgid]
	if !ok {
		return fmt.Errorf("add pid %d to group %d: %w", pid, pgid, ErrGroupNotFound)
	}
	if !slices.Contains(members, pid) {
		g.groups[pgid] = append(members, pid)
	}
	return nil
}

// RemoveProcess drops pid from group pgid.
func (g *ProcessGroupManager) RemoveProcess(pgid, pid Pid) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	members := g.groups[pgid]
	i := slices.Index(members, pid)
	if i < 0 {
		return false
	}
	g.groups[pgid] = slices.Delete(members, i, i+1)
	return true
}

// GetGroupByPgid returns a copy of the members of pgid.
func (g *ProcessGroupManager) GetGroupByPgid(pgid Pid) ([]Pid, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.groups[pgid]
	if !ok {
		return nil, false
	}
	return slices.Clone(members), true
}

// SetPgidByPid moves pid from oldPgid to newPgid and reports whether the
// destination group had to be created.
func (g *ProcessGroupManager) SetPgidByPid(pid, newPgid, oldPgid Pid) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	old, ok := g.groups[oldPgid]
	if !ok {
		return false, fmt.Errorf("move pid %d out of group %d: %w", pid, oldPgid, ErrGroupNotFound)
	}
	if i := slices.Index(old, pid); i >= 0 {
		g.groups[oldPgid] = slices.Delete(old, i, i+1)
	}

	if members, ok := g.groups[newPgid]; ok {
		if !slices.Contains(members, pid) {
			g.groups[newPgid] = append(members, pid)
		}
		return false, nil
	}

	members := []Pid{newPgid}
	if pid != newPgid {
		members = append(members, pid)
	}
	g.groups[newPgid] = members
	return true, nil
}

// Groups returns the known pgids, sorted.
func (g *ProcessGroupManager) Groups() []Pid {
	g.mu.Lock()
	defer g.mu.Unlock()
	return sortedPids(g.groups)
}

func sortedPids[V any](m map[Pid]V) []Pid {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
