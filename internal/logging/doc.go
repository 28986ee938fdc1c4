// Package logging provides the logging interface shared by the server and
// interface binaries. It hides the backend (zerolog or the standard library
// logger) behind a small Logger interface with typed fields.
package logging
