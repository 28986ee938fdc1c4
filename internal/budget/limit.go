// Package budget enforces the server's CPU-time budget. It installs the
// RLIMIT_CPU ceiling, reports the process's user CPU time and reacts once to
// the kernel's SIGXCPU notification.
package budget

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Unlimited is the RLIMIT_CPU value meaning "no ceiling".
const Unlimited uint64 = unix.RLIM_INFINITY

// Limit is an RLIMIT_CPU soft/hard pair in seconds. It is immutable once
// installed.
//
// On Linux the kernel checks the hard limit before the soft one: at the
// hard limit it sends SIGKILL and SIGXCPU is never delivered. The soft
// limit therefore only produces a notification while the hard limit lies
// strictly above it. A Hard of Unlimited keeps whatever ceiling the process
// already has, so the server outlives the notification and its in-flight
// workers run to completion.
type Limit struct {
	Soft uint64
	Hard uint64
}

// NewLimit builds the limit for a CPU budget.
//
// Parameters:
//   - seconds: The soft limit in seconds. A non-positive value yields a
//     disabled limit.
//   - grace: Extra seconds between the soft and the hard limit. A
//     non-positive value leaves the hard limit at the process's current
//     ceiling (Unlimited).
//
// Returns:
//   - Limit: The soft/hard pair to pass to Install.
func NewLimit(seconds, grace int) Limit {
	if seconds <= 0 {
		return Limit{}
	}
	if grace <= 0 {
		return Limit{Soft: uint64(seconds), Hard: Unlimited}
	}
	return Limit{Soft: uint64(seconds), Hard: uint64(seconds) + uint64(grace)}
}

// Enabled reports whether the limit should be installed at all.
func (l Limit) Enabled() bool { return l.Soft > 0 }

// String renders the soft limit as "<n>s", or "unlimited".
func (l Limit) String() string {
	if !l.Enabled() {
		return "unlimited"
	}
	return fmt.Sprintf("%ds", l.Soft)
}

// resolve returns the rlimit to install given the one currently in force.
// An unprivileged process cannot raise its hard limit, so Unlimited becomes
// the current ceiling.
func (l Limit) resolve(current unix.Rlimit) unix.Rlimit {
	hard := l.Hard
	if hard == Unlimited {
		hard = current.Max
	}
	return unix.Rlimit{Cur: l.Soft, Max: hard}
}

// Install applies l to the current process with setrlimit(RLIMIT_CPU).
// A disabled limit is a no-op. When the inherited ceiling does not lie
// above the soft limit, Install fails rather than arm a limit that would
// kill the process without notice.
func Install(l Limit) error {
	if !l.Enabled() {
		return nil
	}
	current, err := Current()
	if err != nil {
		return fmt.Errorf("getrlimit(RLIMIT_CPU): %w", err)
	}
	rlim := l.resolve(current)
	if l.Hard == Unlimited && rlim.Max != Unlimited && rlim.Max <= rlim.Cur {
		return fmt.Errorf("inherited hard CPU limit %ds leaves no room above the %ds soft limit", rlim.Max, rlim.Cur)
	}
	if err := unix.Setrlimit(unix.RLIMIT_CPU, &rlim); err != nil {
		return fmt.Errorf("setrlimit(RLIMIT_CPU, %d/%d): %w", rlim.Cur, rlim.Max, err)
	}
	return nil
}

// Current returns the RLIMIT_CPU pair currently in force.
func Current() (unix.Rlimit, error) {
	var rlim unix.Rlimit
	err := unix.Getrlimit(unix.RLIMIT_CPU, &rlim)
	return rlim, err
}
