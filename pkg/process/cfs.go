package process

import (
	"log/slog"
	"sync"

	"github.com/google/btree"

	"kcore/pkg/arch"
)

// btreeDegree is the fan-out of the run queue tree.
const btreeDegree = 8

// queueItem is the key an entity is stored under. Equal virtual runtimes
// are ordered by insertion.
type queueItem struct {
	vruntime int64
	seq      uint64
	se       SchedEntity
}

func lessItem(a, b queueItem) bool {
	if a.vruntime != b.vruntime {
		return a.vruntime < b.vruntime
	}
	return a.seq < b.seq
}

// CFSQueue is the run queue of one CPU at one level of the task group tree.
// The idle PCB of the CPU is never stored in the tree; it is what Dequeue
// returns when the tree is empty.
type CFSQueue struct {
	cpu    arch.CPUID
	idle   *ProcessControlBlock
	logger *slog.Logger

	mu sync.Mutex
	// execJiffies is the remaining budget of the entity running on the CPU.
	execJiffies int64
	tree        *btree.BTreeG[queueItem]
	seq         uint64
}

// NewCFSQueue creates an empty run queue for cpu.
func NewCFSQueue(cpu arch.CPUID, idle *ProcessControlBlock, logger *slog.Logger) *CFSQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &CFSQueue{
		cpu:    cpu,
		idle:   idle,
		logger: logger,
		tree:   btree.NewG[queueItem](btreeDegree, lessItem),
	}
}

// CPU returns the CPU the queue belongs to.
func (q *CFSQueue) CPU() arch.CPUID {
	return q.cpu
}

// Idle returns the fallback PCB of the queue.
func (q *CFSQueue) Idle() *ProcessControlBlock {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

func (q *CFSQueue) setIdle(pcb *ProcessControlBlock) {
	q.mu.Lock()
	q.idle = pcb
	q.mu.Unlock()
}

// Enqueue inserts the entity of pcb. The idle process is never inserted.
func (q *CFSQueue) Enqueue(pcb *ProcessControlBlock) bool {
	if pcb.pid == IdlePid {
		return false
	}
	return q.EnqueueSE(pcb.se)
}

// EnqueueSE inserts se keyed by its current virtual runtime. An entity that
// is already linked into a queue is left where it is. A process entity holds
// a reference on its PCB while queued.
func (q *CFSQueue) EnqueueSE(se SchedEntity) bool {
	b := se.base()
	if !b.onRq.CompareAndSwap(nil, q) {
		q.logger.Warn("entity already queued", "cpu", q.cpu, "entity", describeEntity(se))
		return false
	}

	pe, isProc := se.(*ProcessEntity)
	if isProc {
		pe.pcb.Get()
	}

	q.mu.Lock()
	q.seq++
	it := queueItem{vruntime: b.VirtualRuntime(), seq: q.seq, se: se}
	q.tree.ReplaceOrInsert(it)
	b.item = it
	b.cfsRq.Store(q)
	q.mu.Unlock()
	return true
}

// DequeueSE removes and returns the entity with the lowest virtual runtime.
// The reference held by a queued process entity passes to the caller.
func (q *CFSQueue) DequeueSE() (SchedEntity, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.tree.DeleteMin()
	if !ok {
		return nil, false
	}
	it.se.base().onRq.Store(nil)
	return it.se, true
}

// Dequeue removes and returns the process with the lowest virtual runtime,
// descending into group entities. The idle PCB is returned when nothing is
// runnable. The caller owns one reference on the result.
func (q *CFSQueue) Dequeue() *ProcessControlBlock {
	if pe := pickNext(q); pe != nil {
		return pe.pcb
	}
	idle := q.Idle()
	idle.Get()
	return idle
}

// Remove unlinks se if it is queued here. On success the reference held
// by a process entity passes to the caller.
func (q *CFSQueue) Remove(se SchedEntity) bool {
	b := se.base()
	q.mu.Lock()
	defer q.mu.Unlock()

	if b.onRq.Load() != q {
		return false
	}
	if _, ok := q.tree.Delete(b.item); !ok {
		return false
	}
	b.onRq.Store(nil)
	return true
}

// MinVruntime returns the lowest virtual runtime in the queue.
func (q *CFSQueue) MinVruntime() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.tree.Min()
	if !ok {
		return 0, false
	}
	return it.vruntime, true
}

// Len returns the number of queued entities. Group entities count even
// when their own queues are empty.
func (q *CFSQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// RunnableLen returns the number of processes queued on q, counting those
// in the queues of its group entities.
func (q *CFSQueue) RunnableLen() int {
	n := 0
	for _, se := range q.Entities() {
		switch e := se.(type) {
		case *ProcessEntity:
			n++
		case *GroupEntity:
			if inner := e.MyQ(); inner != nil {
				n += inner.RunnableLen()
			}
		}
	}
	return n
}

// Entities returns the queued entities in dequeue order.
func (q *CFSQueue) Entities() []SchedEntity {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]SchedEntity, 0, q.tree.Len())
	q.tree.Ascend(func(it queueItem) bool {
		out = append(out, it.se)
		return true
	})
	return out
}

// ExecJiffies returns the remaining time slice budget.
func (q *CFSQueue) ExecJiffies() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.execJiffies
}

// pickNext pops entities from q until it finds a process, descending into
// group entities. A group entity that yields a process is put back into q
// with its current virtual runtime; empty groups are put back once the
// search is over.
func pickNext(q *CFSQueue) *ProcessEntity {
	var empty []SchedEntity
	defer func() {
		for _, se := range empty {
			q.EnqueueSE(se)
		}
	}()

	for {
		se, ok := q.DequeueSE()
		if !ok {
			return nil
		}

		switch e := se.(type) {
		case *ProcessEntity:
			return e
		case *GroupEntity:
			inner := e.MyQ()
			if inner == nil {
				empty = append(empty, e)
				continue
			}
			if pe := pickNext(inner); pe != nil {
				q.EnqueueSE(e)
				return pe
			}
			empty = append(empty, e)
		}
	}
}

func describeEntity(se SchedEntity) string {
	switch e := se.(type) {
	case *ProcessEntity:
		return "pid " + e.pcb.pid.String()
	case *GroupEntity:
		return "group " + e.group.pgid.String()
	default:
		return "unknown"
	}
}
