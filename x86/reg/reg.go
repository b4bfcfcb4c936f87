// Package reg provides primitives for retrieving and modifying x86 I/O
// ports (see port_amd64.go); a freestanding kernel binary with direct
// physical memory access is assumed.
package reg
