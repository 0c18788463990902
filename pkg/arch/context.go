package arch

// Context is the saved register state of one execution context.
type Context struct {
	// RSP is the saved stack pointer.
	RSP uintptr
	// RBP is the saved frame pointer.
	RBP uintptr
	// RIP is the saved instruction pointer.
	RIP uintptr
	// FSBase and GSBase are the segment base registers.
	FSBase uint64
	GSBase uint64

	// switchesOut counts how many times this context was switched away from.
	switchesOut uint64
	// switchesIn counts how many times this context was switched to.
	switchesIn uint64
}

// NewContext builds the initial register state for a context whose kernel
// stack ends at stackTop.
func NewContext(stackTop uintptr) Context {
	return Context{
		RSP: stackTop,
		RBP: stackTop,
	}
}

// SwitchesIn returns how many times the context has been switched to.
func (c *Context) SwitchesIn() uint64 {
	return c.switchesIn
}

// SwitchesOut returns how many times the context has been switched away from.
func (c *Context) SwitchesOut() uint64 {
	return c.switchesOut
}
