// Package procfs publishes per-process information under a pid.
//
// The process core registers a pid when the process is created and
// unregisters it exactly once, when its control block is destroyed.
package procfs
