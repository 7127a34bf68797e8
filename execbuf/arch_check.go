//go:build !amd64

// arch_check.go - the encoder, trampoline and register conventions this
// package builds on are all x86-64-specific.
package execbuf

var _ = "execbuf requires an amd64 host" + 1
