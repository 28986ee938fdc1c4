// Package transport implements the request channel between the interface
// peer and the server: a named pipe carrying fixed-width integer frames.
//
// A frame is a 32-bit little-endian signed integer. Frames are written with
// a single write(2) call, which POSIX guarantees to be atomic for writes no
// larger than PIPE_BUF, so a reader never observes interleaved frames.
package transport
