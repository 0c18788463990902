package process

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

const (
	// KernelStackSize is the size of a kernel stack in bytes.
	KernelStackSize = 0x4000
	// KernelStackAlign is the alignment of a kernel stack base.
	KernelStackAlign = 0x4000
)

// Kernel stack errors.
var (
	ErrBadStackAddress = errors.New("process: bad kernel stack address")
	ErrStackClaimed    = errors.New("process: kernel stack already owned")
)

// KernelStack is the fixed size, aligned region a process runs on in kernel
// mode. The stack records which PCB owns it, so the running process can be
// found from the stack alone.
type KernelStack struct {
	// mem backs stacks allocated by NewKernelStack.
	mem []byte
	// base is the aligned start address.
	base uintptr
	// canBeFreed is false for stacks wrapping memory this package did not
	// allocate, such as the boot stack.
	canBeFreed bool

	mu    sync.Mutex
	owner *ProcessControlBlock
}

// NewKernelStack allocates a zeroed, aligned kernel stack.
func NewKernelStack() (*KernelStack, error) {
	buf := make([]byte, KernelStackSize+KernelStackAlign)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	off := (KernelStackAlign - addr%KernelStackAlign) % KernelStackAlign

	return &KernelStack{
		mem:        buf[off : off+KernelStackSize],
		base:       addr + off,
		canBeFreed: true,
	}, nil
}

// KernelStackFromExisting wraps an existing stack region starting at base.
// The region is never freed by this package.
func KernelStackFromExisting(base uintptr) (*KernelStack, error) {
	if base == 0 || base%KernelStackAlign != 0 {
		return nil, fmt.Errorf("kernel stack at %#x: %w", base, ErrBadStackAddress)
	}
	return &KernelStack{base: base}, nil
}

// StartAddress returns the lowest address of the stack.
func (s *KernelStack) StartAddress() uintptr {
	return s.base
}

// MaxAddress returns the address one past the top of the stack.
func (s *KernelStack) MaxAddress() uintptr {
	return s.base + KernelStackSize
}

// CanBeFreed reports whether the stack memory belongs to this package.
func (s *KernelStack) CanBeFreed() bool {
	return s.canBeFreed
}

// SetPCB records pcb as the owner of the stack. A stack has at most one
// owner over its lifetime.
func (s *KernelStack) SetPCB(pcb *ProcessControlBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner != nil {
		return fmt.Errorf("kernel stack at %#x owned by pid %d: %w", s.base, s.owner.pid, ErrStackClaimed)
	}
	s.owner = pcb
	return nil
}

// PCB returns the owner of the stack, or nil.
func (s *KernelStack) PCB() *ProcessControlBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// detachPCB clears the owner slot and returns the previous owner.
func (s *KernelStack) detachPCB() *ProcessControlBlock {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner := s.owner
	s.owner = nil
	return owner
}

// free drops the stack memory if this package allocated it.
func (s *KernelStack) free() {
	if s.canBeFreed {
		s.mem = nil
	}
}
