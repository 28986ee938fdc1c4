// Package app wires the two binaries: the Fibonacci server and its
// interactive interface peer.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agbru/fibpipe/internal/budget"
	"github.com/agbru/fibpipe/internal/config"
	apperrors "github.com/agbru/fibpipe/internal/errors"
	"github.com/agbru/fibpipe/internal/fibonacci"
	"github.com/agbru/fibpipe/internal/logging"
	"github.com/agbru/fibpipe/internal/metrics"
	"github.com/agbru/fibpipe/internal/pool"
	"github.com/agbru/fibpipe/internal/server"
	"github.com/agbru/fibpipe/internal/supervisor"
	"github.com/agbru/fibpipe/internal/sysmon"
	"github.com/agbru/fibpipe/internal/transport"
)

// Application is the fibserver instance.
type Application struct {
	Config    config.ServerConfig
	Factory   fibonacci.CalculatorFactory
	ErrWriter io.Writer
}

// AppOption configures an Application during construction.
type AppOption func(*Application)

// WithFactory sets a custom CalculatorFactory for the application.
func WithFactory(f fibonacci.CalculatorFactory) AppOption {
	return func(a *Application) { a.Factory = f }
}

// New creates the server application by parsing command-line arguments.
func New(args []string, errWriter io.Writer, opts ...AppOption) (*Application, error) {
	app := &Application{ErrWriter: errWriter}
	for _, opt := range opts {
		opt(app)
	}
	if app.Factory == nil {
		app.Factory = fibonacci.NewDefaultFactory()
	}

	programName := "fibserver"
	var cmdArgs []string
	if len(args) > 0 {
		programName = args[0]
		cmdArgs = args[1:]
	}

	cfg, err := config.ParseServerConfig(programName, cmdArgs, errWriter, app.Factory.List())
	if err != nil {
		if !IsHelpError(err) {
			fmt.Fprintf(errWriter, "%s: %v\n", programName, err)
		}
		return nil, err
	}
	app.Config = cfg
	return app, nil
}

// Run executes one server lifecycle and returns the process exit code.
// Log output goes to out.
func (a *Application) Run(ctx context.Context, out io.Writer) int {
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// The server attaches the run id to base itself; everything else logged
	// for this run uses logger.
	base := newServerLogger(a.Config, out)
	runID := uuid.NewString()
	logger := logging.With(base, logging.String("run_id", runID))

	calc, err := a.Factory.Get(a.Config.Algo)
	if err != nil {
		logger.Error("unknown algorithm", err)
		return apperrors.ExitErrorConfig
	}

	ifacePath, err := supervisor.ResolveInterface(a.Config.Interface)
	if err != nil {
		logger.Error("cannot find the interface binary", err, logging.String("interface", a.Config.Interface))
		return apperrors.ExitCodeFor(err)
	}

	limit := budget.NewLimit(a.Config.CPULimit, a.Config.HardGrace)
	logger.Info("Setting CPU limit to "+limit.String(),
		logging.Uint64("soft", limit.Soft), logging.Uint64("hard", limit.Hard), logging.String("algo", calc.Name()))

	m := metrics.NewMetrics()
	workers := pool.New(calc,
		pool.WithLogger(logger),
		pool.WithRecorder(m),
		pool.WithDrainNotice(drainNotice(logger)),
	)
	srv := server.New(
		server.Config{
			ChannelName:  a.Config.Pipe,
			PollInterval: a.Config.PollInterval,
			MetricsFile:  a.Config.MetricsFile,
		},
		transport.FS{},
		server.ProcessLauncher(supervisor.NewLauncher(ifacePath)),
		budget.NewController(limit),
		workers,
		server.WithLogger(base),
		server.WithRunID(runID),
		server.WithRecorder(m),
	)

	rep, err := srv.Run(ctx)
	if err != nil {
		logger.Error("Server failed", err, logging.String("cause", rep.Cause.String()))
	}
	logger.Debug("Server done",
		logging.String("cause", rep.Cause.String()),
		logging.Int("dispatched", rep.Dispatched),
		logging.String("cpu", rep.CPU.String()))
	return apperrors.ExitCodeFor(err)
}

// drainNotice logs the live worker count with a host load sample.
func drainNotice(logger logging.Logger) func(int) {
	pid := int32(os.Getpid())
	return func(live int) {
		st := sysmon.Sample()
		fields := []logging.Field{
			logging.Int("workers", live),
			logging.Float64("host_cpu_percent", st.CPUPercent),
			logging.Float64("host_mem_percent", st.MemPercent),
			logging.Float64("load1", st.Load1),
		}
		if n, err := sysmon.ThreadCount(pid); err == nil {
			fields = append(fields, logging.Int("os_threads", int(n)))
		}
		logger.Info(fmt.Sprintf("Waiting for %d threads", live), fields...)
	}
}

func newServerLogger(cfg config.ServerConfig, w io.Writer) *logging.ZerologAdapter {
	var l *logging.ZerologAdapter
	if cfg.LogFormat == config.LogFormatJSON {
		l = logging.NewLogger(w, "fibserver")
	} else {
		l = logging.NewConsoleLogger(w, "fibserver", !isTerminal(w))
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return l.Level(level)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// IsHelpError checks if the error is a help flag error (--help was used).
func IsHelpError(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}
