package mm

import (
	"sync"
	"sync/atomic"
)

var nextASID atomic.Uint64

// AddressSpace is a handle to one virtual address space.
type AddressSpace struct {
	id     uint64
	kernel bool

	mu   sync.Mutex
	refs int
}

// NewAddressSpace creates an address space. A kernel address space is the
// one shared by kernel threads and the init process at boot.
func NewAddressSpace(kernel bool) (*AddressSpace, error) {
	return &AddressSpace{
		id:     nextASID.Add(1),
		kernel: kernel,
		refs:   1,
	}, nil
}

// ID returns the address space identifier.
func (as *AddressSpace) ID() uint64 {
	return as.id
}

// Kernel reports whether this is a kernel address space.
func (as *AddressSpace) Kernel() bool {
	return as.kernel
}

// Share records another user of the address space and returns it.
func (as *AddressSpace) Share() *AddressSpace {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.refs++
	return as
}

// Users returns the number of holders of the address space.
func (as *AddressSpace) Users() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.refs
}
