package budget

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// BroadcastFunc delivers the interruption to every process that must stop
// prompting for input.
type BroadcastFunc func() error

// ProcessGroupBroadcast sends SIGUSR1 to every process in the caller's
// process group, the caller included. The server needs no handler for it:
// the Go runtime catches SIGUSR1 and takes no action unless notified.
func ProcessGroupBroadcast() error {
	return unix.Kill(0, unix.SIGUSR1)
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithBroadcast replaces the process-group broadcast.
func WithBroadcast(fn BroadcastFunc) MonitorOption {
	return func(m *Monitor) { m.broadcast = fn }
}

// WithSignal replaces the notification signal (SIGXCPU by default).
func WithSignal(sig os.Signal) MonitorOption {
	return func(m *Monitor) { m.sig = sig }
}

// OnExceeded registers a hook run once, from the handler goroutine, right
// after the broadcast. Hooks must not block.
func OnExceeded(hook func()) MonitorOption {
	return func(m *Monitor) { m.hooks = append(m.hooks, hook) }
}

// Monitor reacts to the CPU-limit notification exactly once: it stops
// further deliveries, broadcasts the interruption and runs its hooks.
// Reporting is left to the caller, which observes Exceeded.
type Monitor struct {
	sig       os.Signal
	broadcast BroadcastFunc
	hooks     []func()

	notified atomic.Bool
	exceeded chan struct{}
	err      error // written before exceeded is closed

	signals  chan os.Signal
	stopOnce sync.Once
	done     chan struct{}
}

// NewMonitor returns an idle monitor. Call Start to subscribe.
//
// Parameters:
//   - opts: Options overriding the broadcast, the signal or adding hooks.
//
// Returns:
//   - *Monitor: A monitor whose Exceeded channel is still open.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		sig:       unix.SIGXCPU,
		broadcast: ProcessGroupBroadcast,
		exceeded:  make(chan struct{}),
		signals:   make(chan os.Signal, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to the notification signal and handles deliveries until
// ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	signal.Notify(m.signals, m.sig)
	go func() {
		for {
			select {
			case <-m.signals:
				m.Handle()
			case <-ctx.Done():
				m.Stop()
				return
			case <-m.done:
				return
			}
		}
	}()
}

// Handle is the notification handler body. Only the first call acts;
// later calls, including concurrent ones, return immediately.
//
// The first call, in order:
//  1. ignores any further notification signal;
//  2. broadcasts SIGUSR1 to the process group;
//  3. runs the OnExceeded hooks;
//  4. closes Exceeded.
//
// Hooks run before Exceeded is closed, so a reader interrupted by a hook
// can rely on Exceeded becoming ready.
func (m *Monitor) Handle() {
	if !m.notified.CompareAndSwap(false, true) {
		return
	}
	signal.Ignore(m.sig)
	m.err = m.broadcast()
	for _, hook := range m.hooks {
		hook()
	}
	close(m.exceeded)
}

// Notified reports whether the handler has fired.
func (m *Monitor) Notified() bool { return m.notified.Load() }

// Exceeded is closed once the handler has finished acting.
func (m *Monitor) Exceeded() <-chan struct{} { return m.exceeded }

// Err returns the broadcast error, if any. It is meaningful once Exceeded
// is closed.
func (m *Monitor) Err() error {
	select {
	case <-m.exceeded:
		return m.err
	default:
		return nil
	}
}

// Stop unsubscribes from the notification signal. It is idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		signal.Stop(m.signals)
		close(m.done)
	})
}
