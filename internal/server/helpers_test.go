package server_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/agbru/fibpipe/internal/budget"
	"github.com/agbru/fibpipe/internal/fibonacci"
	"github.com/agbru/fibpipe/internal/pool"
	"github.com/agbru/fibpipe/internal/server"
	"github.com/agbru/fibpipe/internal/supervisor"
	"github.com/agbru/fibpipe/internal/transport"
)

// fakeBudget hands out monitors that are never subscribed to a real
// signal; tests fire them with Handle.
type fakeBudget struct {
	mu         sync.Mutex
	monitor    *budget.Monitor
	watched    chan struct{}
	broadcasts atomic.Int32
	onBcast    func()
	usage      atomic.Int64
}

func newFakeBudget() *fakeBudget {
	return &fakeBudget{watched: make(chan struct{})}
}

func (b *fakeBudget) Install() error { return nil }

func (b *fakeBudget) Usage() (budget.CPUTime, error) {
	return budget.CPUTime{Microseconds: b.usage.Add(100)}, nil
}

func (b *fakeBudget) Watch(_ context.Context, onExceeded func()) *budget.Monitor {
	m := budget.NewMonitor(
		budget.WithSignal(unix.SIGWINCH),
		budget.WithBroadcast(func() error {
			b.broadcasts.Add(1)
			if b.onBcast != nil {
				b.onBcast()
			}
			return nil
		}),
		budget.OnExceeded(onExceeded),
	)
	b.mu.Lock()
	b.monitor = m
	b.mu.Unlock()
	close(b.watched)
	return m
}

// monitorFor waits until the server watches the budget and returns the
// monitor it got.
func (b *fakeBudget) monitorFor(t *testing.T) *budget.Monitor {
	t.Helper()
	select {
	case <-b.watched:
	case <-time.After(10 * time.Second):
		t.Fatal("server never started watching the budget")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.monitor
}

// fifoPeer stands in for the interface process with a goroutine writing
// to the real FIFO.
type fifoPeer struct {
	exited     chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	interrupts atomic.Int32
}

func newFifoPeer() *fifoPeer {
	return &fifoPeer{exited: make(chan struct{}), stop: make(chan struct{})}
}

func (p *fifoPeer) PID() int                { return 4242 }
func (p *fifoPeer) Exited() <-chan struct{} { return p.exited }

func (p *fifoPeer) Wait() (supervisor.ExitStatus, error) {
	<-p.exited
	return supervisor.ExitStatus{PID: 4242}, nil
}

func (p *fifoPeer) Interrupt() error {
	p.interrupts.Add(1)
	p.halt()
	return nil
}

func (p *fifoPeer) halt() { p.stopOnce.Do(func() { close(p.stop) }) }

// peerScript is what the fake interface does once launched.
type peerScript func(t *testing.T, name string, p *fifoPeer)

func goroutineLauncher(t *testing.T, p *fifoPeer, script peerScript) server.Launcher {
	return server.LauncherFunc(func(_ context.Context, name string) (server.Peer, error) {
		go func() {
			defer close(p.exited)
			script(t, name, p)
		}()
		return p, nil
	})
}

// sendFrames writes values then, if hold is set, keeps the write end open
// until the peer is stopped.
func sendFrames(hold bool, values ...int64) peerScript {
	return func(t *testing.T, name string, p *fifoPeer) {
		w, err := transport.OpenWriter(name)
		if err != nil {
			t.Errorf("peer open: %v", err)
			return
		}
		defer w.Close()
		for _, v := range values {
			if err := w.WriteFrame(v); err != nil {
				t.Errorf("peer write %d: %v", v, err)
				return
			}
		}
		if hold {
			<-p.stop
		}
	}
}

// recordingChannel is the real FIFO channel noting the live worker count
// at removal time.
type recordingChannel struct {
	transport.FS
	pool          server.WorkerPool
	countAtRemove atomic.Int64
	removed       atomic.Bool
}

func (c *recordingChannel) Remove(name string) error {
	c.countAtRemove.Store(int64(c.pool.Count()))
	c.removed.Store(true)
	return c.FS.Remove(name)
}

// recordingPool wraps a real pool and keeps the dispatch order.
type recordingPool struct {
	*pool.Pool
	mu    sync.Mutex
	order []int64
}

func (p *recordingPool) Spawn(n int64) {
	p.mu.Lock()
	p.order = append(p.order, n)
	p.mu.Unlock()
	p.Pool.Spawn(n)
}

func (p *recordingPool) dispatched() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.order...)
}

type collector struct {
	mu      sync.Mutex
	results []pool.Result
}

func (c *collector) Report(r pool.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *collector) snapshot() []pool.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pool.Result(nil), c.results...)
}

type gatedCalculator struct {
	release chan struct{}
	started chan int64
}

func newGatedCalculator() *gatedCalculator {
	return &gatedCalculator{release: make(chan struct{}), started: make(chan int64, 64)}
}

func (g *gatedCalculator) Name() string { return "gated" }

func (g *gatedCalculator) Compute(n int64) (int64, error) {
	g.started <- n
	<-g.release
	return fibonacci.Iterative{}.Compute(n)
}

func fifoPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "fib.pipe")
}

func assertRemoved(t *testing.T, name string) {
	t.Helper()
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Errorf("channel %s still present (stat err = %v)", name, err)
	}
}

// stubReader replays frames then ends with final (end of stream when nil).
type stubReader struct {
	frames []int64
	final  error
}

func (r *stubReader) ReadFrame() (int64, error) {
	if len(r.frames) == 0 {
		if r.final != nil {
			return 0, r.final
		}
		return 0, transport.ErrEndOfStream
	}
	v := r.frames[0]
	r.frames = r.frames[1:]
	return v, nil
}

func (r *stubReader) Interrupt()   {}
func (r *stubReader) Close() error { return nil }

type stubChannel struct{ reader transport.FrameReader }

func (c stubChannel) Create(string) error                             { return nil }
func (c stubChannel) OpenReader(string) (transport.FrameReader, error) { return c.reader, nil }
func (c stubChannel) Unblock(string) error                            { return nil }
func (c stubChannel) Remove(string) error                             { return nil }

type stubPeer struct{}

func (stubPeer) PID() int                             { return 1 }
func (stubPeer) Exited() <-chan struct{}              { return nil }
func (stubPeer) Wait() (supervisor.ExitStatus, error) { return supervisor.ExitStatus{PID: 1}, nil }
func (stubPeer) Interrupt() error                     { return nil }

type orderPool struct{ order []int64 }

func (p *orderPool) Spawn(n int64)                                { p.order = append(p.order, n) }
func (p *orderPool) Count() int                                   { return 0 }
func (p *orderPool) Drain(context.Context, time.Duration) error { return nil }
