package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/agbru/fibpipe/internal/config"
	apperrors "github.com/agbru/fibpipe/internal/errors"
	"github.com/agbru/fibpipe/internal/logging"
	"github.com/agbru/fibpipe/internal/prompt"
	"github.com/agbru/fibpipe/internal/transport"
)

// InterfaceApp is the fibinterface instance.
type InterfaceApp struct {
	Config    config.InterfaceConfig
	In        io.Reader
	ErrWriter io.Writer
}

// NewInterface creates the interface application by parsing command-line
// arguments. It reads requests from stdin.
func NewInterface(args []string, errWriter io.Writer) (*InterfaceApp, error) {
	programName := "fibinterface"
	var cmdArgs []string
	if len(args) > 0 {
		programName = args[0]
		cmdArgs = args[1:]
	}
	cfg, err := config.ParseInterfaceConfig(programName, cmdArgs, errWriter)
	if err != nil {
		if !IsHelpError(err) {
			fmt.Fprintf(errWriter, "%s: %v\n", programName, err)
		}
		return nil, err
	}
	return &InterfaceApp{Config: cfg, In: os.Stdin, ErrWriter: errWriter}, nil
}

// Run opens the channel, runs the prompt loop and returns the exit code.
// The prompt and its notices go to out.
func (a *InterfaceApp) Run(ctx context.Context, out io.Writer) int {
	logger := logging.Logger(logging.NewStdLoggerAdapter(log.New(io.Discard, "", 0)))
	if a.Config.Debug {
		logger = logging.NewStdLoggerAdapter(log.New(a.ErrWriter, "fibinterface ", log.LstdFlags))
	}

	// Subscribe before opening: the server may broadcast as soon as the
	// channel is open.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGUSR1)
	defer signal.Stop(signals)

	w, err := transport.OpenWriter(a.Config.Pipe)
	if err != nil {
		fmt.Fprintf(a.ErrWriter, "open %s: %v\n", a.Config.Pipe, err)
		return apperrors.ExitErrorGeneric
	}

	// Once the channel is open, SIGINT and SIGTERM end the loop with the
	// sentinel instead of killing the process.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Debug("channel open", logging.String("pipe", a.Config.Pipe))

	p := prompt.New(a.In, out, w, prompt.WithSignals(signals), prompt.WithLogger(logger))
	if err := p.Run(ctx); err != nil {
		logger.Error("prompt loop failed", err)
		fmt.Fprintf(a.ErrWriter, "%v\n", err)
		return apperrors.ExitErrorGeneric
	}
	logger.Debug("prompt loop done", logging.Int64("sent", p.Sent()))
	return apperrors.ExitSuccess
}
