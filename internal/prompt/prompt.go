// Package prompt implements the interface side of the channel: it asks
// the user for Fibonacci indices and forwards each one to the server as a
// frame, until the user enters 0, input ends, or the server asks it to
// stop with SIGUSR1.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/agbru/fibpipe/internal/errors"
	"github.com/agbru/fibpipe/internal/logging"
)

// Question is printed before every read.
const Question = "Which Fibonacci number do you want : "

// FrameWriter is the write end of the channel.
type FrameWriter interface {
	WriteFrame(v int64) error
	Close() error
}

// Option configures a Prompter.
type Option func(*Prompter)

// WithSignals sets the channel on which the stop signal is delivered.
// Without it the prompter only stops on 0 or end of input.
func WithSignals(ch <-chan os.Signal) Option { return func(p *Prompter) { p.signals = ch } }

// WithLogger sets the diagnostics logger.
func WithLogger(l logging.Logger) Option { return func(p *Prompter) { p.logger = l } }

// Prompter runs the interactive loop once.
type Prompter struct {
	in      io.Reader
	out     io.Writer
	w       FrameWriter
	signals <-chan os.Signal
	logger  logging.Logger

	stopping  atomic.Bool
	stopCh    chan struct{}
	abandoned sync.Once
	sent      atomic.Int64
}

// New returns a prompter reading from in, prompting on out and writing
// frames to w. Run closes w.
func New(in io.Reader, out io.Writer, w FrameWriter, opts ...Option) *Prompter {
	p := &Prompter{
		in:     in,
		out:    out,
		w:      w,
		logger: logging.Nop(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stop sets the shutdown flag. Only the first call has an effect.
func (p *Prompter) Stop() {
	if p.stopping.CompareAndSwap(false, true) {
		close(p.stopCh)
	}
}

// Stopping reports whether the shutdown flag is set.
func (p *Prompter) Stopping() bool { return p.stopping.Load() }

// Sent returns the number of non-zero frames written.
func (p *Prompter) Sent() int64 { return p.sent.Load() }

// Run prompts until a 0 has been written, then closes the writer.
// A pending read of the input is abandoned, not interrupted: the scanning
// goroutine exits on its next token.
func (p *Prompter) Run(ctx context.Context) error {
	done := make(chan struct{})
	tokens := make(chan string)
	go p.scan(tokens, done)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.watchSignals(gctx, done) })
	g.Go(func() error {
		defer close(done)
		return p.loop(gctx, tokens)
	})
	err := g.Wait()

	if cerr := p.w.Close(); cerr != nil && err == nil && !errors.Is(cerr, syscall.EPIPE) {
		err = apperrors.WrapError(cerr, "close channel")
	}
	fmt.Fprintln(p.out, "Interface is exiting")
	return err
}

func (p *Prompter) watchSignals(ctx context.Context, done <-chan struct{}) error {
	if p.signals == nil {
		return nil
	}
	select {
	case sig := <-p.signals:
		p.logger.Debug("stop signal received", logging.String("signal", sig.String()))
		p.Stop()
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

func (p *Prompter) scan(tokens chan<- string, done <-chan struct{}) {
	defer close(tokens)
	sc := bufio.NewScanner(p.in)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		select {
		case tokens <- sc.Text():
		case <-done:
			return
		}
	}
	if err := sc.Err(); err != nil {
		p.logger.Warn("reading input", logging.Err(err))
	}
}

func (p *Prompter) loop(ctx context.Context, tokens <-chan string) error {
	for {
		v := p.next(ctx, tokens)
		if err := p.send(v); err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}

// next returns the value to send: the user's integer, or 0 once the loop
// has to stop.
func (p *Prompter) next(ctx context.Context, tokens <-chan string) int64 {
	for {
		if p.Stopping() {
			p.abandon()
			return 0
		}
		fmt.Fprint(p.out, Question)

		select {
		case <-p.stopCh:
			fmt.Fprintln(p.out)
			p.abandon()
			return 0
		case <-ctx.Done():
			fmt.Fprintln(p.out)
			fmt.Fprintln(p.out, "Reading from user abandoned")
			return 0
		case tok, ok := <-tokens:
			if !ok {
				fmt.Fprintln(p.out)
				return 0
			}
			n, err := strconv.ParseInt(tok, 10, 64)
			if err != nil || n > math.MaxInt32 || n < math.MinInt32 {
				p.logger.Warn("ignoring input", logging.String("input", tok))
				fmt.Fprintf(p.out, "%q is not a valid index\n", tok)
				continue
			}
			if p.Stopping() {
				p.abandon()
				return 0
			}
			return n
		}
	}
}

func (p *Prompter) abandon() {
	p.abandoned.Do(func() {
		fmt.Fprintln(p.out, "Received a SIGUSR1, stopping loop")
		fmt.Fprintln(p.out, "Reading from user abandoned")
	})
}

// send writes one frame. A sentinel that finds the server already gone is
// not an error.
func (p *Prompter) send(v int64) error {
	err := p.w.WriteFrame(v)
	if err == nil {
		if v != 0 {
			p.sent.Add(1)
		}
		return nil
	}
	if v == 0 && errors.Is(err, syscall.EPIPE) {
		p.logger.Debug("server closed the channel before the sentinel")
		return nil
	}
	return apperrors.WrapError(err, "send %d", v)
}
