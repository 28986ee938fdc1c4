package pool

import (
	"fmt"

	"github.com/agbru/fibpipe/internal/logging"
)

// LogReporter writes each result as one log entry.
type LogReporter struct {
	logger logging.Logger
}

// NewLogReporter returns a reporter logging to l.
func NewLogReporter(l logging.Logger) *LogReporter {
	return &LogReporter{logger: l}
}

// Report implements Reporter.
func (r *LogReporter) Report(res Result) {
	if res.Err != nil {
		r.logger.Error(fmt.Sprintf("Fibonacci %d failed", res.N), res.Err,
			logging.Int64("n", res.N), logging.Duration("elapsed", res.Duration))
		return
	}
	r.logger.Info(fmt.Sprintf("Fibonacci %d is %d", res.N, res.Value),
		logging.Int64("n", res.N), logging.Int64("value", res.Value), logging.Duration("elapsed", res.Duration))
}
