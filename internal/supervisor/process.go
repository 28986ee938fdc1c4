package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	apperrors "github.com/agbru/fibpipe/internal/errors"
)

// DefaultInterfaceBinary is the name of the interface executable.
const DefaultInterfaceBinary = "fibinterface"

// ExitStatus describes how a reaped child terminated.
type ExitStatus struct {
	PID int
	// Code is the exit code, or -1 when the child was killed by a signal.
	Code     int
	Signaled bool
	Signal   syscall.Signal
	// Raw is the undecoded wait status.
	Raw int
}

// Success reports whether the child exited normally with code 0.
func (s ExitStatus) Success() bool { return !s.Signaled && s.Code == 0 }

func (s ExitStatus) String() string {
	if s.Signaled {
		return fmt.Sprintf("%d (killed by %s)", s.Raw, unix.SignalName(s.Signal))
	}
	return fmt.Sprintf("%d (exit code %d)", s.Raw, s.Code)
}

func statusFrom(state *os.ProcessState) ExitStatus {
	st := ExitStatus{PID: state.Pid(), Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		st.Raw = int(ws)
		if ws.Signaled() {
			st.Signaled = true
			st.Signal = ws.Signal()
		}
	}
	return st
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithStdio overrides the standard streams handed to the child. By
// default the child inherits the server's.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(l *Launcher) {
		l.stdin, l.stdout, l.stderr = stdin, stdout, stderr
	}
}

// Launcher starts the interface binary.
type Launcher struct {
	path   string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewLauncher returns a launcher for the executable at path.
func NewLauncher(path string, opts ...Option) *Launcher {
	l := &Launcher{path: path, stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the executable the launcher starts.
func (l *Launcher) Path() string { return l.path }

// Launch starts the child with channel as its only argument. ctx is only
// consulted before the start: the child is not killed when ctx ends.
func (l *Launcher) Launch(ctx context.Context, channel string) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewSetupError("launch interface", err)
	}
	cmd := exec.Command(l.path, channel)
	cmd.Stdin = l.stdin
	cmd.Stdout = l.stdout
	cmd.Stderr = l.stderr
	if err := cmd.Start(); err != nil {
		return nil, apperrors.NewSetupError("launch interface", err)
	}

	p := &Process{cmd: cmd, exited: make(chan struct{})}
	go p.reap()
	return p, nil
}

// Process is a running (or reaped) child.
type Process struct {
	cmd    *exec.Cmd
	exited chan struct{}

	// status and err are written once by reap before exited is closed.
	status ExitStatus
	err    error
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.err = err
	}
	if p.cmd.ProcessState != nil {
		p.status = statusFrom(p.cmd.ProcessState)
	} else {
		p.status = ExitStatus{PID: p.cmd.Process.Pid, Code: -1}
	}
	close(p.exited)
}

// PID returns the child's process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Exited is closed once the child has been reaped.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Wait blocks until the child has been reaped. It may be called any
// number of times and always returns the same status.
func (p *Process) Wait() (ExitStatus, error) {
	<-p.exited
	return p.status, p.err
}

// Interrupt sends SIGUSR1 to the child alone. Signalling a child that
// already exited is not an error.
func (p *Process) Interrupt() error {
	err := p.cmd.Process.Signal(unix.SIGUSR1)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// ResolveInterface turns the --interface value into an executable path.
// A value containing a path separator is used as is. A bare name is
// looked up next to the running executable first, then in $PATH.
func ResolveInterface(name string) (string, error) {
	if name == "" {
		name = DefaultInterfaceBinary
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		return name, nil
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", apperrors.NewSetupError("resolve interface", err)
	}
	return path, nil
}
