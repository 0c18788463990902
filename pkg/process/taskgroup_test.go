package process

import (
	"errors"
	"testing"

	"golang.org/x/exp/slices"
)

func TestSetPgidCreatesTaskGroup(t *testing.T) {
	m, _ := newTestManager(t, 1)
	initPCB := mustCreate(t, m, 0, "init")
	defer initPCB.Put()
	p := mustCreate(t, m, 0, "leader")
	defer p.Put()
	if err := m.Wakeup(p); err != nil {
		t.Fatalf("Wakeup() error = %v", err)
	}

	if err := m.SetPgid(p.Pid(), p.Pid()); err != nil {
		t.Fatalf("SetPgid() error = %v", err)
	}

	root := m.RootTaskGroup()
	tg, ok := m.FindTaskGroup(p.Pid())
	if !ok {
		t.Fatal("FindTaskGroup() found nothing")
	}
	if tg.Parent() != root {
		t.Error("new group should be a child of the root group")
	}
	if got := root.Children(); !slices.Equal(got, []Pid{p.Pid()}) {
		t.Errorf("root Children() = %v, want [%d]", got, p.Pid())
	}
	if p.Basic().Pgid() != p.Pid() || p.Basic().TaskGroup() != tg {
		t.Error("process should belong to the new group")
	}
	if got, _ := m.ProcessGroups().GetGroupByPgid(p.Pid()); !slices.Equal(got, []Pid{p.Pid()}) {
		t.Errorf("group members = %v, want [%d]", got, p.Pid())
	}
	if got, _ := m.ProcessGroups().GetGroupByPgid(0); !slices.Equal(got, []Pid{InitPid}) {
		t.Errorf("group 0 members = %v, want [1]", got)
	}

	se := tg.SE(0)
	if se.MyQ() != tg.Scheduler().CPUQueue(0) {
		t.Error("group entity should own the group's queue")
	}
	if se.CFSRq() != root.Scheduler().CPUQueue(0) {
		t.Error("group entity should belong to the parent's queue")
	}
	entities := root.Scheduler().CPUQueue(0).Entities()
	if len(entities) != 1 || entities[0] != SchedEntity(se) {
		t.Fatalf("root queue = %v, want only the group entity", entities)
	}
	if got := tg.Scheduler().QueueLen(0); got != 1 {
		t.Errorf("group QueueLen(0) = %d, want 1", got)
	}
	if got := root.Scheduler().RunnableLen(0); got != 1 {
		t.Errorf("root RunnableLen(0) = %d, want 1", got)
	}

	if !m.Schedule(0) {
		t.Fatal("Schedule() should switch into the group")
	}
	if m.CurrentPCB(0) != p {
		t.Error("group member should run")
	}
	if got := root.Scheduler().QueueLen(0); got != 1 {
		t.Errorf("root QueueLen(0) = %d, want 1 (group entity put back)", got)
	}
	if got := root.Scheduler().RunnableLen(0); got != 0 {
		t.Errorf("root RunnableLen(0) = %d, want 0 (only an empty group queued)", got)
	}

	m.TimerTick(0)
	if got := se.VirtualRuntime(); got != 1 {
		t.Errorf("group entity VirtualRuntime() = %d, want 1", got)
	}
	if got := p.VirtualRuntime(); got != 1 {
		t.Errorf("VirtualRuntime() = %d, want 1", got)
	}
}

func TestSetPgidJoinsExistingGroup(t *testing.T) {
	m, _ := newTestManager(t, 1)
	initPCB := mustCreate(t, m, 0, "init")
	defer initPCB.Put()
	leader := mustCreate(t, m, 0, "leader")
	defer leader.Put()
	member := mustCreate(t, m, 0, "member")
	defer member.Put()

	if err := m.SetPgid(leader.Pid(), leader.Pid()); err != nil {
		t.Fatalf("SetPgid(leader) error = %v", err)
	}
	if err := m.SetPgid(member.Pid(), leader.Pid()); err != nil {
		t.Fatalf("SetPgid(member) error = %v", err)
	}
	if err := m.SetPgid(member.Pid(), leader.Pid()); err != nil {
		t.Errorf("repeated SetPgid() error = %v", err)
	}

	want := []Pid{leader.Pid(), member.Pid()}
	if got, _ := m.ProcessGroups().GetGroupByPgid(leader.Pid()); !slices.Equal(got, want) {
		t.Errorf("group members = %v, want %v", got, want)
	}

	if err := m.Wakeup(member); err != nil {
		t.Fatalf("Wakeup() error = %v", err)
	}
	tg, _ := m.FindTaskGroup(leader.Pid())
	if got := tg.Scheduler().QueueLen(0); got != 1 {
		t.Errorf("group QueueLen(0) = %d, want 1", got)
	}

	if err := m.SetPgid(99, 1); !errors.Is(err, ErrProcessNotFound) {
		t.Errorf("SetPgid(99) error = %v, want %v", err, ErrProcessNotFound)
	}
}

func TestDequeueDescendsIntoGroups(t *testing.T) {
	m, _ := newTestManager(t, 1)
	initPCB := mustCreate(t, m, 0, "init")
	defer initPCB.Put()
	a := mustCreate(t, m, 0, "a")
	defer a.Put()
	b := mustCreate(t, m, 0, "b")
	defer b.Put()

	if err := m.SetPgid(b.Pid(), b.Pid()); err != nil {
		t.Fatalf("SetPgid() error = %v", err)
	}
	b.SetVirtualRuntime(100)
	if err := m.Wakeup(b); err != nil {
		t.Fatalf("Wakeup() error = %v", err)
	}
	a.SetVirtualRuntime(5)
	root := m.RootScheduler()
	root.EnqueuePCB(a)

	first := root.Dequeue(0)
	if first != b {
		t.Fatalf("Dequeue() = pid %d, want pid %d from the group", first.Pid(), b.Pid())
	}
	first.Put()
	if got := root.QueueLen(0); got != 2 {
		t.Errorf("QueueLen(0) = %d, want 2", got)
	}

	second := root.Dequeue(0)
	if second != a {
		t.Fatalf("Dequeue() = pid %d, want pid %d past the empty group", second.Pid(), a.Pid())
	}
	second.Put()
	if got := root.QueueLen(0); got != 1 {
		t.Errorf("QueueLen(0) = %d, want 1 (empty group kept)", got)
	}

	if got := root.Dequeue(0); got != m.IdlePCB(0) {
		t.Errorf("Dequeue() = %v, want the idle process", got)
	}
}

func TestProcessGroupManager(t *testing.T) {
	g := NewProcessGroupManager()
	g.AddGroup(0)
	g.AddGroup(5)

	if got, ok := g.GetGroupByPgid(0); !ok || len(got) != 0 {
		t.Errorf("GetGroupByPgid(0) = %v, %v, want [], true", got, ok)
	}
	if got, _ := g.GetGroupByPgid(5); !slices.Equal(got, []Pid{5}) {
		t.Errorf("GetGroupByPgid(5) = %v, want [5]", got)
	}
	if err := g.AddProcess(9, 1); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("AddProcess() error = %v, want %v", err, ErrGroupNotFound)
	}
	if err := g.AddProcess(5, 6); err != nil {
		t.Errorf("AddProcess() error = %v", err)
	}

	tests := []struct {
		name        string
		pid         Pid
		newPgid     Pid
		oldPgid     Pid
		wantCreated bool
		wantErr     error
		wantMembers []Pid
	}{
		{"new group with leader", 7, 7, 5, true, nil, []Pid{7}},
		{"new group for member", 6, 8, 5, true, nil, []Pid{8, 6}},
		{"existing group", 6, 7, 8, false, nil, []Pid{7, 6}},
		{"unknown old group", 3, 7, 42, false, ErrGroupNotFound, []Pid{7, 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created, err := g.SetPgidByPid(tt.pid, tt.newPgid, tt.oldPgid)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SetPgidByPid() error = %v, want %v", err, tt.wantErr)
			}
			if created != tt.wantCreated {
				t.Errorf("SetPgidByPid() created = %v, want %v", created, tt.wantCreated)
			}
			if got, _ := g.GetGroupByPgid(tt.newPgid); !slices.Equal(got, tt.wantMembers) {
				t.Errorf("members of %d = %v, want %v", tt.newPgid, got, tt.wantMembers)
			}
		})
	}

	if got, _ := g.GetGroupByPgid(8); !slices.Equal(got, []Pid{8}) {
		t.Errorf("members of 8 = %v, want [8]", got)
	}
	if !g.RemoveProcess(7, 6) || g.RemoveProcess(7, 6) {
		t.Error("RemoveProcess() should succeed exactly once")
	}
	if got := g.Groups(); !slices.Equal(got, []Pid{0, 5, 7, 8}) {
		t.Errorf("Groups() = %v, want [0 5 7 8]", got)
	}
}
