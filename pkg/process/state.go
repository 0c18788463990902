package process

import (
	"errors"
	"fmt"
)

// State errors.
var (
	// ErrInvalidState is returned when an operation targets a process that
	// has already exited.
	ErrInvalidState = errors.New("process: invalid state")
	// ErrInterrupted is returned by MarkSleep when the caller has exited.
	ErrInterrupted = errors.New("process: interrupted")
	// ErrInvalidTransition is returned for a state change the state machine
	// does not allow.
	ErrInvalidTransition = errors.New("process: invalid state transition")
)

// StateKind is the discriminant of a ProcessState.
type StateKind uint8

const (
	// StateRunnable indicates the process is on a run queue or executing.
	StateRunnable StateKind = iota
	// StateBlocked indicates the process is waiting for an event.
	StateBlocked
	// StateExited indicates the process has terminated.
	StateExited
)

func (k StateKind) String() string {
	switch k {
	case StateRunnable:
		return "runnable"
	case StateBlocked:
		return "blocked"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("StateKind(%d)", uint8(k))
	}
}

// ProcessState is the scheduling state of a process.
//
// A blocked state carries whether the wait is interruptible: asynchronous
// wake sources may only make an interruptible sleeper runnable again, an
// uninterruptible one needs an explicit Wakeup. An exited state carries the
// exit code.
type ProcessState struct {
	kind          StateKind
	interruptible bool
	code          int
}

// Runnable returns the runnable state.
func Runnable() ProcessState {
	return ProcessState{kind: StateRunnable}
}

// Blocked returns a blocked state.
func Blocked(interruptible bool) ProcessState {
	return ProcessState{kind: StateBlocked, interruptible: interruptible}
}

// Exited returns the exited state with the given exit code.
func Exited(code int) ProcessState {
	return ProcessState{kind: StateExited, code: code}
}

// Kind returns the state discriminant.
func (s ProcessState) Kind() StateKind { return s.kind }

// IsRunnable reports whether s is Runnable.
func (s ProcessState) IsRunnable() bool { return s.kind == StateRunnable }

// IsBlocked reports whether s is Blocked.
func (s ProcessState) IsBlocked() bool { return s.kind == StateBlocked }

// IsExited reports whether s is Exited.
func (s ProcessState) IsExited() bool { return s.kind == StateExited }

// Interruptible reports whether a blocked state may be interrupted.
func (s ProcessState) Interruptible() bool {
	return s.kind == StateBlocked && s.interruptible
}

// ExitCode returns the exit code of an exited state.
func (s ProcessState) ExitCode() int { return s.code }

func (s ProcessState) String() string {
	switch s.kind {
	case StateBlocked:
		if s.interruptible {
			return "blocked(interruptible)"
		}
		return "blocked(uninterruptible)"
	case StateExited:
		return fmt.Sprintf("exited(%d)", s.code)
	default:
		return s.kind.String()
	}
}

// StateTransition represents a valid state transition.
type StateTransition struct {
	From StateKind
	To   StateKind
}

// ValidTransitions defines all valid state transitions. Exited is absorbing.
var ValidTransitions = []StateTransition{
	// Sleep: Runnable -> Blocked
	{From: StateRunnable, To: StateBlocked},
	// Wakeup: Blocked -> Runnable
	{From: StateBlocked, To: StateRunnable},
	// Exit while running
	{From: StateRunnable, To: StateExited},
	// Exit while blocked
	{From: StateBlocked, To: StateExited},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to StateKind) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
