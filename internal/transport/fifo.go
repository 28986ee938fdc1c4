package transport

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultName is the conventional channel path used by the server.
const DefaultName = "FibonacciPipe"

// Mode is the permission set of the channel's filesystem entry.
const Mode = 0o666

// Create makes the named pipe at name. An existing FIFO at that path is
// reused; any other existing file is an error.
func Create(name string) error {
	err := unix.Mkfifo(name, Mode)
	switch {
	case err == nil:
	case errors.Is(err, unix.EEXIST):
		fi, statErr := os.Lstat(name)
		if statErr != nil {
			return fmt.Errorf("stat existing channel: %w", statErr)
		}
		if fi.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a named pipe", name)
		}
	default:
		return fmt.Errorf("mkfifo %s: %w", name, err)
	}
	// mkfifo honours the umask; the channel must be world read/write.
	if err := unix.Chmod(name, Mode); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	return nil
}

// Remove deletes the channel's filesystem entry. A missing entry is not an error.
func Remove(name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// OpenReader opens the read end of the channel. It blocks until a writer
// opens the other end.
func OpenReader(name string, opts ...ReaderOption) (*Reader, error) {
	f, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return NewReader(f, opts...), nil
}

// OpenWriter opens the write end of the channel. It blocks until a reader
// opens the other end.
func OpenWriter(name string) (*Writer, error) {
	f, err := os.OpenFile(name, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	return NewWriter(f), nil
}

// Unblock releases a goroutine blocked in OpenReader on name by opening and
// immediately closing the write end without blocking. The released reader
// then observes end-of-stream. It fails with ENXIO when nobody is opening
// the read end.
func Unblock(name string) error {
	fd, err := unix.Open(name, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("unblock %s: %w", name, err)
	}
	return unix.Close(fd)
}

// FS is the filesystem-backed Channel used by the server.
type FS struct {
	// ReaderOptions are applied to every Reader returned by OpenReader.
	ReaderOptions []ReaderOption
}

// Create implements Channel.
func (FS) Create(name string) error { return Create(name) }

// Remove implements Channel.
func (FS) Remove(name string) error { return Remove(name) }

// Unblock implements Channel.
func (FS) Unblock(name string) error { return Unblock(name) }

// OpenReader implements Channel.
func (fs FS) OpenReader(name string) (FrameReader, error) {
	r, err := OpenReader(name, fs.ReaderOptions...)
	if err != nil {
		return nil, err
	}
	return r, nil
}
