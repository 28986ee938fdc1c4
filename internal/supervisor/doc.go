// Package supervisor launches the interface peer as a child process and
// tracks it until it is reaped.
//
// The child shares the server's process group so that a group-wide
// SIGUSR1 broadcast reaches it. A single goroutine owns the underlying
// wait; every other observer uses Exited or Wait.
package supervisor
