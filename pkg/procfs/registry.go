package procfs

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Registry errors.
var (
	ErrAlreadyRegistered = errors.New("procfs: pid already registered")
	ErrNotRegistered     = errors.New("procfs: pid not registered")
)

// Entry is the information published for one pid.
type Entry struct {
	Pid  int64
	Name string
}

// Registry is an in-memory procfs pid directory.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]Entry)}
}

// Register publishes pid under name.
func (r *Registry) Register(pid int64, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[pid]; ok {
		return fmt.Errorf("register %d: %w", pid, ErrAlreadyRegistered)
	}
	r.entries[pid] = Entry{Pid: pid, Name: name}
	return nil
}

// Unregister removes the published info of pid.
func (r *Registry) Unregister(pid int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[pid]; !ok {
		return fmt.Errorf("unregister %d: %w", pid, ErrNotRegistered)
	}
	delete(r.entries, pid)
	return nil
}

// Lookup returns the entry for pid.
func (r *Registry) Lookup(pid int64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[pid]
	return e, ok
}

// Pids returns the registered pids in ascending order.
func (r *Registry) Pids() []int64 {
	r.mu.Lock()
	pids := maps.Keys(r.entries)
	r.mu.Unlock()

	slices.Sort(pids)
	return pids
}

// Len returns the number of registered pids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
