// Package server implements the request loop: it owns the channel, the
// interface peer and the worker pool for one run, reads requests until the
// sentinel, end of stream or an interruption, then drains the workers,
// reaps the peer and removes the channel.
//
// Collaborators are injected through the interfaces in deps.go so the loop
// can be driven in-process by tests.
package server

//go:generate mockgen -destination=mocks/mock_deps.go -package=mocks github.com/agbru/fibpipe/internal/server Channel,Launcher,Peer,WorkerPool
