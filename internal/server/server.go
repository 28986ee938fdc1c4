package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/agbru/fibpipe/internal/budget"
	apperrors "github.com/agbru/fibpipe/internal/errors"
	"github.com/agbru/fibpipe/internal/logging"
	"github.com/agbru/fibpipe/internal/metrics"
	"github.com/agbru/fibpipe/internal/supervisor"
	"github.com/agbru/fibpipe/internal/transport"
)

// errPeerExited is the setup failure when the interface dies before
// opening its end of the channel.
var errPeerExited = errors.New("interface exited before opening the channel")

const (
	// openGrace bounds the wait for a completed open once the peer has exited.
	openGrace = 100 * time.Millisecond
	// unblockRetry paces Unblock attempts while the opener is not yet in open(2).
	unblockRetry = 10 * time.Millisecond
	// unblockTimeout bounds the wait for a released opener.
	unblockTimeout = 5 * time.Second
)

// Config holds the run parameters that are not collaborators.
type Config struct {
	// ChannelName is the FIFO path.
	ChannelName string
	// PollInterval paces the drain progress notices.
	PollInterval time.Duration
	// MetricsFile, when set, receives the Prometheus textfile at cleanup.
	MetricsFile string
}

// Report summarises a finished run.
type Report struct {
	RunID      string
	Cause      Cause
	Dispatched int
	Rejected   int
	// Peer is the interface's exit status; zero when it was never launched.
	Peer supervisor.ExitStatus
	// CPU is the user CPU time at the end of the drain.
	CPU budget.CPUTime
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Every entry carries the run id.
func WithLogger(l logging.Logger) Option { return func(s *Server) { s.logger = l } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(s *Server) { s.recorder = r } }

// WithRunID overrides the generated run id. Collaborators that log on the
// server's behalf, such as the worker pool, should carry the same id.
func WithRunID(id string) Option { return func(s *Server) { s.runID = id } }

// Server runs the request loop once.
type Server struct {
	cfg      Config
	channel  Channel
	launcher Launcher
	budget   Budget
	pool     WorkerPool
	recorder Recorder
	logger   logging.Logger
	runID    string

	state atomic.Int32
}

// New wires a server. Run may be called once.
func New(cfg Config, channel Channel, launcher Launcher, b Budget, pool WorkerPool, opts ...Option) *Server {
	if cfg.ChannelName == "" {
		cfg.ChannelName = transport.DefaultName
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	s := &Server{
		cfg:      cfg,
		channel:  channel,
		launcher: launcher,
		budget:   b,
		pool:     pool,
		recorder: nopRecorder{},
		logger:   logging.Nop(),
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.With(s.logger, logging.String("run_id", s.runID))
	return s
}

// State returns the current loop state. It is safe to call from any
// goroutine.
func (s *Server) State() State { return State(s.state.Load()) }

// RunID returns the identifier attached to this run's log entries.
func (s *Server) RunID() string { return s.runID }

func (s *Server) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("state transition", logging.String("from", prev.String()), logging.String("to", st.String()))
	}
}

// Run executes one full server lifecycle. Once the peer has been launched,
// Run always drains the workers, reaps the peer and removes the channel
// before returning, whatever stopped the loop. Budget interruptions, the
// sentinel and end of stream are normal terminations and return a nil
// error.
func (s *Server) Run(ctx context.Context) (Report, error) {
	rep := Report{RunID: s.runID}
	s.setState(StateStarting)
	defer s.setState(StateTerminated)

	if err := s.budget.Install(); err != nil {
		rep.Cause = CauseSetup
		return rep, apperrors.NewSetupError("install cpu limit", err)
	}

	name := s.cfg.ChannelName
	if err := s.channel.Create(name); err != nil {
		rep.Cause = CauseSetup
		return rep, apperrors.NewSetupError("create channel", err)
	}

	peer, err := s.launcher.Launch(ctx, name)
	if err != nil {
		rep.Cause = CauseSetup
		return rep, s.finish(&rep, setupError("launch interface", err))
	}
	s.logger.Info("Interface launched", logging.Int("pid", peer.PID()), logging.String("channel", name))

	reader, err := s.openReader(ctx, peer)
	if err != nil {
		rep.Cause = CauseSetup
		if ierr := peer.Interrupt(); ierr != nil {
			s.logger.Warn("could not interrupt interface", logging.Err(ierr))
		}
		s.reap(&rep, peer)
		return rep, s.finish(&rep, apperrors.NewSetupError("open channel", err))
	}

	monitor := s.budget.Watch(ctx, reader.Interrupt)
	defer monitor.Stop()
	stopAfter := context.AfterFunc(ctx, reader.Interrupt)
	defer stopAfter()

	cause, loopErr := s.loop(ctx, reader, monitor, &rep)
	rep.Cause = cause
	if cause == CauseProtocol || cause == CauseCanceled {
		if err := peer.Interrupt(); err != nil {
			s.logger.Warn("could not interrupt interface", logging.Err(err))
		}
	}

	s.setState(StateDraining)
	if err := reader.Close(); err != nil {
		s.logger.Warn("closing channel reader", logging.Err(err))
	}
	if err := s.pool.Drain(ctx, s.cfg.PollInterval); err != nil {
		s.logger.Warn(fmt.Sprintf("Abandoning %d threads", s.pool.Count()), logging.Err(err))
	}
	rep.CPU = s.reportUsage()

	s.reap(&rep, peer)
	return rep, s.finish(&rep, loopErr)
}

type opened struct {
	r   transport.FrameReader
	err error
}

// openReader opens the read end while watching the peer. If the peer
// exits, or ctx ends, before the rendezvous, the pending open is released
// with Unblock and the open fails.
func (s *Server) openReader(ctx context.Context, peer Peer) (transport.FrameReader, error) {
	done := make(chan opened, 1)
	go func() {
		r, err := s.channel.OpenReader(s.cfg.ChannelName)
		done <- opened{r, err}
	}()

	var cause error
	select {
	case res := <-done:
		return res.r, res.err
	case <-peer.Exited():
		// A peer that opened, wrote and exited quickly can be seen as
		// exited before the open result arrives.
		select {
		case res := <-done:
			return res.r, res.err
		case <-time.After(openGrace):
		}
		cause = errPeerExited
	case <-ctx.Done():
		cause = ctx.Err()
	}

	s.releaseOpen(done)
	return nil, cause
}

// releaseOpen unblocks the pending open and waits for the opener to return.
// Unblock fails (ENXIO) until the opener is inside open(2), so a failed
// attempt is retried every unblockRetry. After unblockTimeout the opener is
// abandoned; a reader it opens later is closed.
func (s *Server) releaseOpen(done <-chan opened) {
	closeOpened := func(res opened) {
		if res.err == nil {
			_ = res.r.Close()
		}
	}
	timeout := time.NewTimer(unblockTimeout)
	defer timeout.Stop()

	var retry <-chan time.Time
	for {
		if err := s.channel.Unblock(s.cfg.ChannelName); err != nil {
			s.logger.Debug("unblocking channel open", logging.Err(err))
			retry = time.After(unblockRetry)
		} else {
			retry = nil
		}
		select {
		case res := <-done:
			closeOpened(res)
			return
		case <-retry:
		case <-timeout.C:
			s.logger.Warn("channel open still pending, abandoning it", logging.String("channel", s.cfg.ChannelName))
			go func() { closeOpened(<-done) }()
			return
		}
	}
}

// loop reads requests until one of the stop conditions. Workers are
// dispatched in the order their requests were read.
func (s *Server) loop(ctx context.Context, reader transport.FrameReader, monitor *budget.Monitor, rep *Report) (Cause, error) {
	for {
		s.setState(StateAwaitingRequest)
		s.reportUsage()

		n, err := reader.ReadFrame()
		switch {
		case errors.Is(err, transport.ErrEndOfStream):
			s.recorder.ObserveRequest(metrics.OutcomeEOF)
			s.logger.Info("Interface closed the channel")
			return CauseEndOfStream, nil

		case errors.Is(err, transport.ErrInterrupted):
			s.setState(StateInterrupted)
			s.recorder.ObserveRequest(metrics.OutcomeInterrupt)
			return s.interrupted(ctx, monitor)

		case err != nil:
			var perr *transport.ProtocolError
			if errors.As(err, &perr) {
				s.logger.Error("Malformed frame from interface", err, logging.Int("bytes", perr.Got))
				return CauseProtocol, err
			}
			s.logger.Error("Reading from interface failed", err)
			return CauseProtocol, apperrors.WrapError(err, "read request")

		case n == 0:
			s.recorder.ObserveRequest(metrics.OutcomeSentinel)
			s.logger.Info("Received 0 from interface")
			return CauseSentinel, nil

		case n < 0:
			rep.Rejected++
			s.recorder.ObserveRequest(metrics.OutcomeRejected)
			s.logger.Warn(fmt.Sprintf("Ignoring invalid request %d from interface", n),
				logging.Err(apperrors.ValidationError{Field: "n", Message: "must be positive"}))

		default:
			s.setState(StateDispatching)
			s.logger.Info(fmt.Sprintf("Received %d from interface", n), logging.Int64("n", n))
			s.pool.Spawn(n)
			rep.Dispatched++
			s.recorder.ObserveRequest(metrics.OutcomeDispatched)
			s.logger.Info(fmt.Sprintf("Created and detached the thread for %d", n), logging.Int64("n", n))
		}
	}
}

// interrupted works out which source interrupted the read. The monitor
// runs its hooks before closing Exceeded, so one of the two channels is
// about to be ready.
func (s *Server) interrupted(ctx context.Context, monitor *budget.Monitor) (Cause, error) {
	select {
	case <-monitor.Exceeded():
		s.recorder.IncrementBudgetExceeded()
		s.logger.Info("Received a SIGXCPU, ignoring any more")
		if err := monitor.Err(); err != nil {
			s.logger.Error("Sending SIGUSR1 to interface failed", err)
		} else {
			s.logger.Info("Received a SIGXCPU, sending SIGUSR1 to interface")
		}
		return CauseBudget, nil
	case <-ctx.Done():
		s.logger.Warn("Server canceled, no more requests accepted", logging.Err(ctx.Err()))
		return CauseCanceled, ctx.Err()
	}
}

func (s *Server) reportUsage() budget.CPUTime {
	used, err := s.budget.Usage()
	if err != nil {
		s.logger.Warn("reading CPU usage", logging.Err(err))
		return used
	}
	s.recorder.SetCPUUsed(used.Duration())
	s.logger.Info("Server has used "+used.String(),
		logging.Int64("cpu_user_us", used.Duration().Microseconds()))
	return used
}

func (s *Server) reap(rep *Report, peer Peer) {
	s.setState(StateReapingPeer)
	status, err := peer.Wait()
	rep.Peer = status
	if err != nil {
		s.logger.Warn("waiting for interface", logging.Err(err))
		return
	}
	msg := fmt.Sprintf("Child %d completed with status %d", status.PID, status.Raw)
	if status.Success() {
		s.logger.Info(msg, logging.Int("pid", status.PID))
		return
	}
	s.logger.Warn(msg, logging.Int("pid", status.PID), logging.String("exit", status.String()))
}

// finish removes the channel and writes the metrics file, merging their
// failures with cause.
func (s *Server) finish(rep *Report, cause error) error {
	s.setState(StateCleaningUp)
	var result *multierror.Error
	if cause != nil {
		result = multierror.Append(result, cause)
	}
	if err := s.channel.Remove(s.cfg.ChannelName); err != nil {
		result = multierror.Append(result, apperrors.WrapError(err, "remove channel %s", s.cfg.ChannelName))
	}
	if s.cfg.MetricsFile != "" {
		if err := s.recorder.WriteTextfile(s.cfg.MetricsFile); err != nil {
			result = multierror.Append(result, apperrors.WrapError(err, "write metrics"))
		}
	}
	s.logger.Debug("run finished",
		logging.String("cause", rep.Cause.String()),
		logging.Int("dispatched", rep.Dispatched),
		logging.Int("rejected", rep.Rejected))
	if result == nil {
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return result
}

// setupError tags err with stage unless a collaborator already did.
func setupError(stage string, err error) error {
	var se apperrors.SetupError
	if errors.As(err, &se) {
		return err
	}
	return apperrors.NewSetupError(stage, err)
}
