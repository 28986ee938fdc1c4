// Package apperrors defines the structured error types shared by the server
// and interface binaries, and the exit codes they map to.
//
// Errors wrap their cause with fmt.Errorf and %w, and every type carrying a
// cause implements Unwrap so errors.Is and errors.As see through it.
package apperrors
