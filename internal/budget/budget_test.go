package budget

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestNewLimit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		seconds     int
		grace       int
		want        Limit
		wantEnabled bool
		wantString  string
	}{
		{"no grace keeps the ceiling", 4, 0, Limit{Soft: 4, Hard: Unlimited}, true, "4s"},
		{"grace above soft", 100, 5, Limit{Soft: 100, Hard: 105}, true, "100s"},
		{"negative grace keeps the ceiling", 10, -3, Limit{Soft: 10, Hard: Unlimited}, true, "10s"},
		{"zero disables", 0, 5, Limit{}, false, "unlimited"},
		{"negative disables", -1, 0, Limit{}, false, "unlimited"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NewLimit(tt.seconds, tt.grace)
			if got != tt.want {
				t.Errorf("NewLimit(%d, %d) = %+v, want %+v", tt.seconds, tt.grace, got, tt.want)
			}
			if got.Enabled() != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", got.Enabled(), tt.wantEnabled)
			}
			if got.String() != tt.wantString {
				t.Errorf("String() = %q, want %q", got.String(), tt.wantString)
			}
		})
	}
}

func TestInstall_DisabledIsNoOp(t *testing.T) {
	t.Parallel()
	before, err := Current()
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if err := Install(Limit{}); err != nil {
		t.Fatalf("Install(disabled) error: %v", err)
	}
	after, err := Current()
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if before != after {
		t.Errorf("disabled Install changed RLIMIT_CPU from %+v to %+v", before, after)
	}
}

func TestLimit_Resolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		limit   Limit
		current unix.Rlimit
		want    unix.Rlimit
	}{
		{"unlimited keeps infinite ceiling", NewLimit(3, 0), unix.Rlimit{Cur: Unlimited, Max: Unlimited}, unix.Rlimit{Cur: 3, Max: Unlimited}},
		{"unlimited keeps inherited ceiling", NewLimit(3, 0), unix.Rlimit{Cur: 20, Max: 50}, unix.Rlimit{Cur: 3, Max: 50}},
		{"explicit grace wins", NewLimit(3, 2), unix.Rlimit{Cur: Unlimited, Max: Unlimited}, unix.Rlimit{Cur: 3, Max: 5}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.limit.resolve(tt.current); got != tt.want {
				t.Errorf("resolve(%+v) = %+v, want %+v", tt.current, got, tt.want)
			}
		})
	}
}

const childEnv = "FIBPIPE_BUDGET_CHILD"

// TestInstall_DefaultLimitNotifiesBeforeKill runs a CPU-bound copy of the
// test binary under NewLimit(1, 0). The child must receive SIGXCPU and exit
// cleanly instead of being killed at the soft limit.
func TestInstall_DefaultLimitNotifiesBeforeKill(t *testing.T) {
	if os.Getenv(childEnv) == "1" {
		burnUntilNotified()
		return
	}
	if testing.Short() {
		t.Skip("burns about a second of CPU")
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestInstall_DefaultLimitNotifiesBeforeKill$")
	cmd.Env = append(os.Environ(), childEnv+"=1")
	out, err := cmd.CombinedOutput()
	if err == nil {
		return
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("running child: %v", err)
	}
	ws := exitErr.Sys().(syscall.WaitStatus)
	switch {
	case ws.Signaled():
		t.Fatalf("child killed by %v before SIGXCPU was handled\n%s", ws.Signal(), out)
	case ws.ExitStatus() == 2:
		t.Skipf("inherited RLIMIT_CPU too low: %s", out)
	default:
		t.Fatalf("child exited with %d\n%s", ws.ExitStatus(), out)
	}
}

func burnUntilNotified() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGXCPU)
	if err := Install(NewLimit(1, 0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	deadline := time.After(30 * time.Second)
	x := 0
	for {
		select {
		case <-sig:
			os.Exit(0)
		case <-deadline:
			fmt.Fprintln(os.Stderr, "no SIGXCPU after 30s")
			os.Exit(3)
		default:
			for i := 0; i < 1_000_000; i++ {
				x ^= i
			}
			_ = x
		}
	}
}

func TestCPUTime_Format(t *testing.T) {
	t.Parallel()
	c := CPUTime{Seconds: 3, Microseconds: 795963}
	if got, want := c.String(), "3s 795963us"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := c.Duration(), 3*time.Second+795963*time.Microsecond; got != want {
		t.Errorf("Duration() = %v, want %v", got, want)
	}
}

func TestUsage_Monotonic(t *testing.T) {
	t.Parallel()
	first, err := Usage()
	if err != nil {
		t.Fatalf("Usage() error: %v", err)
	}

	// Burn a little user CPU.
	deadline := time.Now().Add(30 * time.Millisecond)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	_ = x

	second, err := Usage()
	if err != nil {
		t.Fatalf("Usage() error: %v", err)
	}
	if second.Duration() < first.Duration() {
		t.Errorf("CPU time went backwards: %v then %v", first, second)
	}
	if second.Microseconds < 0 || second.Microseconds >= 1_000_000 {
		t.Errorf("Microseconds out of range: %d", second.Microseconds)
	}
}

func TestMonitor_HandleFiresOnce(t *testing.T) {
	t.Parallel()
	var broadcasts, hooks atomic.Int32
	m := NewMonitor(
		WithSignal(unix.SIGWINCH),
		WithBroadcast(func() error { broadcasts.Add(1); return nil }),
		OnExceeded(func() { hooks.Add(1) }),
	)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Handle()
		}()
	}
	wg.Wait()

	if got := broadcasts.Load(); got != 1 {
		t.Errorf("broadcast sent %d times, want 1", got)
	}
	if got := hooks.Load(); got != 1 {
		t.Errorf("hooks ran %d times, want 1", got)
	}
	if !m.Notified() {
		t.Error("Notified() should be true after Handle")
	}
	select {
	case <-m.Exceeded():
	default:
		t.Error("Exceeded() should be closed after Handle")
	}
}

func TestMonitor_ErrReportsBroadcastFailure(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("kill: operation not permitted")
	m := NewMonitor(WithSignal(unix.SIGWINCH), WithBroadcast(func() error { return wantErr }))

	if err := m.Err(); err != nil {
		t.Errorf("Err() before firing = %v, want nil", err)
	}
	m.Handle()
	if err := m.Err(); !errors.Is(err, wantErr) {
		t.Errorf("Err() = %v, want %v", err, wantErr)
	}
}

func TestMonitor_StartHandlesDeliveredSignal(t *testing.T) {
	t.Parallel()
	var broadcasts atomic.Int32
	m := NewMonitor(
		WithSignal(unix.SIGUSR2),
		WithBroadcast(func() error { broadcasts.Add(1); return nil }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	if err := unix.Kill(os.Getpid(), unix.SIGUSR2); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-m.Exceeded():
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not handle the delivered signal")
	}
	if got := broadcasts.Load(); got != 1 {
		t.Errorf("broadcast sent %d times, want 1", got)
	}
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	m := NewMonitor(WithSignal(unix.SIGWINCH), WithBroadcast(func() error { return nil }))
	m.Start(context.Background())
	m.Stop()
	m.Stop()
	if m.Notified() {
		t.Error("Stop must not fire the handler")
	}
}

func TestController_WatchRunsHookOnce(t *testing.T) {
	t.Parallel()
	var broadcasts, hooks atomic.Int32
	c := NewController(NewLimit(0, 0),
		WithSignal(unix.SIGWINCH),
		WithBroadcast(func() error { broadcasts.Add(1); return nil }),
	)
	if c.Limit().Enabled() {
		t.Fatal("zero limit must be disabled")
	}
	if err := c.Install(); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	m := c.Watch(context.Background(), func() { hooks.Add(1) })
	defer m.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Handle()
		}()
	}
	wg.Wait()

	<-m.Exceeded()
	if broadcasts.Load() != 1 || hooks.Load() != 1 {
		t.Errorf("broadcasts=%d hooks=%d, want 1 each", broadcasts.Load(), hooks.Load())
	}
	if _, err := c.Usage(); err != nil {
		t.Errorf("Usage() error = %v", err)
	}
}
