/*
Package process implements process control and completely fair scheduling
for a symmetric multiprocessor kernel.

It includes:

  - Process control blocks with separately locked identity, scheduling and
    register state
  - A process registry with reference counted lifetimes
  - Per-CPU run queues ordered by virtual runtime
  - Hierarchical fairness through task groups
  - Sleep, wakeup, exit and child adoption
  - A two-phase context switch protocol

# Process States

A process is in one of three states:

  - Runnable: queued on a CPU or executing
  - Blocked: waiting for an event, interruptibly or not
  - Exited: terminated, waiting to be reaped; this state is final

# Usage

Booting the manager and starting a process:

	m, err := process.NewProcessManager(process.ManagerConfig{NumCPU: 2})
	if err != nil {
		// Handle error
	}
	m.Init()

	p, err := m.NewProcess(0, &process.CreateConfig{Name: "init"})
	if err != nil {
		// Handle error
	}
	if err := m.Wakeup(p); err != nil {
		// Handle error
	}

Every CPU then runs its own loop: the timer interrupt calls TimerTick, which
charges the tick to the running process and switches when its time slice is
used up.

# References

PCBs are reference counted. Find and NewProcess return a PCB with a
reference the caller must drop with Put. The registry keeps one reference of
its own; when every other holder has dropped theirs the process is released.
CurrentPCB returns a borrowed pointer.
*/
package process
