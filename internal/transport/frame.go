package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"
)

// FrameSize is the width of one frame in bytes.
const FrameSize = 4

var (
	// ErrEndOfStream reports that the writer closed its end before a new
	// frame started. Callers treat it exactly like the 0 sentinel.
	ErrEndOfStream = errors.New("end of stream")

	// ErrInterrupted reports that a read was interrupted before any byte of
	// the frame arrived.
	ErrInterrupted = errors.New("read interrupted")

	// ErrFrameRange reports a value that does not fit in a frame.
	ErrFrameRange = errors.New("value does not fit in a 32-bit frame")
)

// ProtocolError reports a malformed frame: some bytes arrived but not a
// whole frame. It is fatal to the reader.
type ProtocolError struct {
	// Got is the number of bytes read before the failure.
	Got int
	// Cause is the error that ended the read.
	Cause error
}

// Error describes the short frame.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed frame: read %d of %d bytes: %v", e.Got, FrameSize, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ProtocolError) Unwrap() error { return e.Cause }

// FrameReader is the read side of the channel.
type FrameReader interface {
	// ReadFrame blocks until one frame, end-of-stream or an interruption.
	ReadFrame() (int64, error)
	// Interrupt makes the in-progress read, or the next one, fail with
	// ErrInterrupted. Safe to call from any goroutine.
	Interrupt()
	// Close releases the read end.
	Close() error
}

// deadlineReader is satisfied by *os.File for pollable descriptors (pipes
// and FIFOs).
type deadlineReader interface {
	io.ReadCloser
	SetReadDeadline(t time.Time) error
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithRestartOnInterrupt makes an interrupted read clear the interruption
// and resume waiting, like a syscall restarted under SA_RESTART. The default
// is to fail fast with ErrInterrupted.
func WithRestartOnInterrupt(restart bool) ReaderOption {
	return func(r *Reader) { r.restart = restart }
}

// Reader decodes frames from the read end of the channel.
type Reader struct {
	src     deadlineReader
	restart bool

	mu          sync.Mutex
	interrupted bool
}

// NewReader wraps a pollable file such as a FIFO or an os.Pipe read end.
func NewReader(src deadlineReader, opts ...ReaderOption) *Reader {
	r := &Reader{src: src}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Interrupt implements FrameReader. The interruption is sticky until Resume.
func (r *Reader) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interrupted = true
	// A deadline in the past wakes a Read blocked in the poller.
	_ = r.src.SetReadDeadline(time.Now())
}

// Interrupted reports whether an interruption is pending.
func (r *Reader) Interrupted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interrupted
}

// Resume clears a pending interruption.
func (r *Reader) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interrupted = false
	_ = r.src.SetReadDeadline(time.Time{})
}

// ReadFrame implements FrameReader.
func (r *Reader) ReadFrame() (int64, error) {
	var buf [FrameSize]byte
	got := 0
	for got < FrameSize {
		n, err := r.src.Read(buf[got:])
		got += n
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			if r.restart {
				r.Resume()
				continue
			}
			if got == 0 {
				return 0, ErrInterrupted
			}
			return 0, &ProtocolError{Got: got, Cause: ErrInterrupted}
		case errors.Is(err, io.EOF) && got == 0:
			return 0, ErrEndOfStream
		case errors.Is(err, io.EOF):
			return 0, &ProtocolError{Got: got, Cause: io.ErrUnexpectedEOF}
		default:
			return 0, &ProtocolError{Got: got, Cause: err}
		}
	}
	return int64(int32(binary.LittleEndian.Uint32(buf[:]))), nil
}

// Close implements FrameReader.
func (r *Reader) Close() error {
	return r.src.Close()
}

// Writer encodes frames onto the write end of the channel.
type Writer struct {
	dst io.WriteCloser
}

// NewWriter wraps the write end of the channel.
func NewWriter(dst io.WriteCloser) *Writer {
	return &Writer{dst: dst}
}

// WriteFrame writes v as one frame with a single write call. The file is
// unbuffered, so the frame is visible to the reader as soon as it returns.
func (w *Writer) WriteFrame(v int64) error {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrFrameRange, v)
	}
	var buf [FrameSize]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(int32(v)))
	n, err := w.dst.Write(buf[:])
	if err != nil {
		return err
	}
	if n != FrameSize {
		return io.ErrShortWrite
	}
	return nil
}

// Close releases the write end.
func (w *Writer) Close() error {
	return w.dst.Close()
}
