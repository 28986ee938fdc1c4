package server

import (
	"context"
	"time"

	"github.com/agbru/fibpipe/internal/budget"
	"github.com/agbru/fibpipe/internal/supervisor"
	"github.com/agbru/fibpipe/internal/transport"
)

// Channel manages the named channel between the server and its peer.
// transport.FS is the production implementation.
type Channel interface {
	Create(name string) error
	// OpenReader blocks until the peer opens the write end.
	OpenReader(name string) (transport.FrameReader, error)
	// Unblock releases a pending OpenReader.
	Unblock(name string) error
	Remove(name string) error
}

// Peer is a launched interface process.
type Peer interface {
	PID() int
	Exited() <-chan struct{}
	Wait() (supervisor.ExitStatus, error)
	Interrupt() error
}

// Launcher starts the interface peer.
type Launcher interface {
	Launch(ctx context.Context, channel string) (Peer, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, channel string) (Peer, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, channel string) (Peer, error) {
	return f(ctx, channel)
}

// ProcessLauncher adapts a supervisor.Launcher.
func ProcessLauncher(l *supervisor.Launcher) Launcher {
	return LauncherFunc(func(ctx context.Context, channel string) (Peer, error) {
		p, err := l.Launch(ctx, channel)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Budget installs the CPU limit, reports usage and watches for the limit
// notification. budget.Controller is the production implementation.
type Budget interface {
	Install() error
	Usage() (budget.CPUTime, error)
	Watch(ctx context.Context, onExceeded func()) *budget.Monitor
}

// WorkerPool runs one detached worker per request.
type WorkerPool interface {
	Spawn(n int64)
	Count() int
	Drain(ctx context.Context, interval time.Duration) error
}

// Recorder receives loop-level metrics. metrics.Metrics implements it.
type Recorder interface {
	ObserveRequest(outcome string)
	SetCPUUsed(d time.Duration)
	IncrementBudgetExceeded()
	WriteTextfile(path string) error
}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(string)       {}
func (nopRecorder) SetCPUUsed(time.Duration)    {}
func (nopRecorder) IncrementBudgetExceeded()    {}
func (nopRecorder) WriteTextfile(string) error { return nil }
