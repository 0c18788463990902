// Package mm hands out address-space handles to the process core.
//
// Page tables and mappings live outside the core; a process only holds a
// shared *AddressSpace handle in its basic info.
package mm
