/*
Package arch provides the architecture layer consumed by the process core.

The kernel core never touches registers or interrupt controllers directly.
Instead it talks to a Machine, which models a symmetric multiprocessor:

  - Per-CPU interrupt enable flag with save/restore guards
  - Per-CPU record of the pid currently executing (the CPU_EXECUTING table)
  - Register context (Context) saved and restored by Switch
  - Cross-CPU kicks that force a CPU to trap into kernel mode

# Context Switching

Switch requires interrupts to be disabled on the switching CPU. It saves the
simulated register state of the outgoing context, loads the incoming one and
then runs the finish callback "on the new stack". The process manager uses the
callback to release the arch-info guards it leaked across the switch.

	guard := m.SaveAndDisableIRQ(cpu)
	m.Switch(cpu, prev, next, func() { hook(cpu) })
	guard.Restore()
*/
package arch
