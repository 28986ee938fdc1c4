package budget

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// CPUTime is an amount of user CPU time split as getrusage reports it.
type CPUTime struct {
	Seconds      int64
	Microseconds int64
}

// String renders the time as "<s>s <us>us", e.g. "3s 795963us".
func (c CPUTime) String() string {
	return fmt.Sprintf("%ds %dus", c.Seconds, c.Microseconds)
}

// Duration converts the time to a time.Duration.
func (c CPUTime) Duration() time.Duration {
	return time.Duration(c.Seconds)*time.Second + time.Duration(c.Microseconds)*time.Microsecond
}

// Usage returns the user CPU time consumed so far by the current process,
// every worker goroutine included. Time spent by child processes is not
// counted.
//
// Returns:
//   - CPUTime: The ru_utime value of getrusage(RUSAGE_SELF).
//   - error: An error if getrusage fails.
func Usage() (CPUTime, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return CPUTime{}, fmt.Errorf("getrusage: %w", err)
	}
	return CPUTime{Seconds: int64(ru.Utime.Sec), Microseconds: int64(ru.Utime.Usec)}, nil
}
