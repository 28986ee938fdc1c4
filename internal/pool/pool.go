// Package pool runs one detached goroutine per accepted request and tracks
// how many are still live. Workers are never cancelled and never joined
// individually: the only synchronisation point is Drain, which waits for
// the live count to reach zero.
//
// The number of workers is unbounded. A request is never refused or
// delayed by the pool, so a fast interface can start far more goroutines
// than there are CPUs; they share the process's single CPU budget.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/agbru/fibpipe/internal/errors"
	"github.com/agbru/fibpipe/internal/fibonacci"
	"github.com/agbru/fibpipe/internal/logging"
)

// DefaultPollInterval is the interval between two drain progress notices.
const DefaultPollInterval = time.Second

// Result is the outcome of one worker.
type Result struct {
	// N is the requested index.
	N int64
	// Value is F(N) when Err is nil.
	Value int64
	// Err is a *apperrors.CalculationError when the computation failed.
	Err error
	// Duration is the wall time spent in the calculator.
	Duration time.Duration
}

// Reporter publishes worker results. Report is called from worker
// goroutines and must be safe for concurrent use.
type Reporter interface {
	Report(Result)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Result)

// Report calls f.
func (f ReporterFunc) Report(r Result) { f(r) }

// Recorder receives worker lifecycle metrics.
type Recorder interface {
	IncrementActiveWorkers()
	DecrementActiveWorkers()
	ObserveWorker(d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) IncrementActiveWorkers()             {}
func (nopRecorder) DecrementActiveWorkers()             {}
func (nopRecorder) ObserveWorker(time.Duration, error) {}

// Option configures a Pool.
type Option func(*Pool)

// WithReporter sets the result reporter. The default logs each result.
func WithReporter(r Reporter) Option { return func(p *Pool) { p.reporter = r } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(p *Pool) { p.recorder = r } }

// WithLogger sets the logger used for drain notices and worker failures.
func WithLogger(l logging.Logger) Option { return func(p *Pool) { p.logger = l } }

// WithDrainNotice replaces the progress notice Drain emits on every poll.
func WithDrainNotice(fn func(live int)) Option { return func(p *Pool) { p.notice = fn } }

// WithTracer sets the tracer used for per-worker spans.
func WithTracer(t trace.Tracer) Option { return func(p *Pool) { p.tracer = t } }

// Pool tracks live workers. The zero value is not usable; call New.
type Pool struct {
	calc     fibonacci.Calculator
	reporter Reporter
	recorder Recorder
	logger   logging.Logger
	notice   func(live int)
	tracer   trace.Tracer

	mu      sync.Mutex
	live    int
	spawned int
	idle    chan struct{} // closed whenever live == 0
}

// New returns an empty pool computing with calc.
func New(calc fibonacci.Calculator, opts ...Option) *Pool {
	idle := make(chan struct{})
	close(idle)
	p := &Pool{
		calc:     calc,
		recorder: nopRecorder{},
		logger:   logging.Nop(),
		tracer:   otel.Tracer("github.com/agbru/fibpipe/internal/pool"),
		idle:     idle,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reporter == nil {
		p.reporter = NewLogReporter(p.logger)
	}
	if p.notice == nil {
		p.notice = func(live int) {
			p.logger.Info(fmt.Sprintf("Waiting for %d threads", live), logging.Int("workers", live))
		}
	}
	return p
}

// Spawn registers a worker for n and starts it. It never blocks on the
// worker and never fails.
//
// The live count is incremented before the goroutine starts, so a Drain
// issued right after Spawn always waits for the new worker.
//
// Parameters:
//   - n: The requested Fibonacci index. Invalid indices still start a
//     worker, which reports the calculation error.
func (p *Pool) Spawn(n int64) {
	p.mu.Lock()
	if p.live == 0 {
		p.idle = make(chan struct{})
	}
	p.live++
	p.spawned++
	p.mu.Unlock()

	p.recorder.IncrementActiveWorkers()
	go p.run(n)
}

// Count returns the number of live workers.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Spawned returns the number of workers started since New.
func (p *Pool) Spawned() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawned
}

// Drain blocks until the live count is zero. While workers remain it emits
// a progress notice and waits up to interval, waking early when the last
// worker finishes. If ctx is done first, Drain returns ctx.Err() and the
// remaining workers are abandoned, still running.
//
// Parameters:
//   - ctx: Bounds the wait.
//   - interval: The delay between two progress notices. A non-positive
//     value uses DefaultPollInterval.
//
// Returns:
//   - error: nil once every worker has finished, or ctx.Err().
func (p *Pool) Drain(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		p.mu.Lock()
		live, idle := p.live, p.idle
		p.mu.Unlock()
		if live == 0 {
			return nil
		}

		p.notice(live)

		timer := time.NewTimer(interval)
		select {
		case <-idle:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (p *Pool) finish() {
	p.mu.Lock()
	p.live--
	if p.live == 0 {
		close(p.idle)
	}
	p.mu.Unlock()

	p.recorder.DecrementActiveWorkers()
}

// run is the worker body. The deferred finish runs on every exit path,
// panics included.
func (p *Pool) run(n int64) {
	defer p.finish()

	_, span := p.tracer.Start(context.Background(), "fibonacci.compute",
		trace.WithAttributes(attribute.Int64("fibonacci.n", n), attribute.String("fibonacci.algo", p.calc.Name())))
	defer span.End()

	res := p.compute(n)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	} else {
		span.SetAttributes(attribute.Int64("fibonacci.value", res.Value))
	}
	p.recorder.ObserveWorker(res.Duration, res.Err)
	p.report(res)
}

func (p *Pool) compute(n int64) (res Result) {
	res.N = n
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Err = apperrors.CalculationError{N: n, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err := p.calc.Compute(n)
	if err != nil {
		res.Err = apperrors.CalculationError{N: n, Cause: err}
		return res
	}
	res.Value = v
	return res
}

func (p *Pool) report(res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("result reporter panicked", fmt.Errorf("panic: %v", r), logging.Int64("n", res.N))
		}
	}()
	p.reporter.Report(res)
}
