// Package config parses the command lines of the two binaries. Only flags
// and positional arguments are consulted; the environment is not.
package config

import (
	"flag"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/agbru/fibpipe/internal/errors"
	"github.com/agbru/fibpipe/internal/fibonacci"
	"github.com/agbru/fibpipe/internal/supervisor"
	"github.com/agbru/fibpipe/internal/transport"
)

// Log output formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// ServerConfig is the parsed fibserver command line.
type ServerConfig struct {
	// CPULimit is the CPU budget in seconds; <= 0 installs no limit.
	CPULimit int
	// HardGrace is added to CPULimit for the hard RLIMIT_CPU value.
	HardGrace int
	// Pipe is the FIFO path.
	Pipe string
	// Interface is the interface binary, resolved by supervisor.ResolveInterface.
	Interface    string
	PollInterval time.Duration
	Algo         string
	LogFormat    string
	LogLevel     string
	// MetricsFile is the Prometheus textfile written at shutdown, if set.
	MetricsFile string
	Version     bool
}

// InterfaceConfig is the parsed fibinterface command line.
type InterfaceConfig struct {
	Pipe    string
	Debug   bool
	Version bool
}

// ParseServerConfig parses fibserver's arguments (without the program
// name). Usage and parse errors are written to errWriter.
func ParseServerConfig(programName string, args []string, errWriter io.Writer, availableAlgos []string) (ServerConfig, error) {
	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(errWriter)

	cfg := ServerConfig{}
	fs.StringVar(&cfg.Pipe, "pipe", transport.DefaultName, "Path of the named pipe shared with the interface.")
	fs.StringVar(&cfg.Interface, "interface", supervisor.DefaultInterfaceBinary, "Interface executable to launch.")
	fs.DurationVar(&cfg.PollInterval, "poll", time.Second, "Interval between two drain progress notices.")
	fs.StringVar(&cfg.Algo, "algo", fibonacci.DefaultAlgo, fmt.Sprintf("Fibonacci algorithm (%s).", strings.Join(availableAlgos, ", ")))
	fs.IntVar(&cfg.HardGrace, "hard-grace", 0, "Seconds between the soft and the hard CPU limit (0 keeps the inherited ceiling).")
	fs.StringVar(&cfg.LogFormat, "log-format", LogFormatConsole, "Log format (console, json).")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error).")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile at shutdown.")
	fs.BoolVar(&cfg.Version, "version", false, "Print version information and exit.")
	fs.Usage = func() {
		fmt.Fprintf(errWriter, "Usage: %s [flags] <CPU limit in seconds>\n\nFlags:\n", programName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.Version {
		return cfg, nil
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return cfg, apperrors.NewConfigError("expected exactly one argument, the CPU limit in seconds")
	}
	limit, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		return cfg, apperrors.NewConfigError("invalid CPU limit %q: not an integer", fs.Arg(0))
	}
	cfg.CPULimit = limit

	if isFlagSet(fs, "hard-grace") && cfg.CPULimit <= 0 {
		return cfg, apperrors.NewConfigError("--hard-grace requires a positive CPU limit")
	}
	return cfg, cfg.Validate(availableAlgos)
}

// Validate checks the option values.
func (c ServerConfig) Validate(availableAlgos []string) error {
	if c.Pipe == "" {
		return apperrors.NewConfigError("--pipe must not be empty")
	}
	if c.PollInterval <= 0 {
		return apperrors.NewConfigError("--poll must be positive, got %s", c.PollInterval)
	}
	if c.HardGrace < 0 {
		return apperrors.NewConfigError("--hard-grace must not be negative, got %d", c.HardGrace)
	}
	if !slices.Contains(availableAlgos, c.Algo) {
		return apperrors.NewConfigError("unknown algorithm %q (available: %s)", c.Algo, strings.Join(availableAlgos, ", "))
	}
	if c.LogFormat != LogFormatConsole && c.LogFormat != LogFormatJSON {
		return apperrors.NewConfigError("unknown log format %q", c.LogFormat)
	}
	if !slices.Contains(logLevels, c.LogLevel) {
		return apperrors.NewConfigError("unknown log level %q", c.LogLevel)
	}
	return nil
}

// ParseInterfaceConfig parses fibinterface's arguments (without the
// program name).
func ParseInterfaceConfig(programName string, args []string, errWriter io.Writer) (InterfaceConfig, error) {
	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(errWriter)

	cfg := InterfaceConfig{}
	fs.BoolVar(&cfg.Debug, "debug", false, "Log diagnostics to stderr.")
	fs.BoolVar(&cfg.Version, "version", false, "Print version information and exit.")
	fs.Usage = func() {
		fmt.Fprintf(errWriter, "Usage: %s [flags] <pipe>\n\nFlags:\n", programName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.Version {
		return cfg, nil
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return cfg, apperrors.NewConfigError("expected exactly one argument, the pipe path")
	}
	cfg.Pipe = fs.Arg(0)
	return cfg, cfg.Validate()
}

// Validate checks the option values.
func (c InterfaceConfig) Validate() error {
	if c.Pipe == "" {
		return apperrors.NewConfigError("pipe path must not be empty")
	}
	return nil
}

// isFlagSet reports whether name was given on the command line.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
