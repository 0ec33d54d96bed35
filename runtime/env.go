// Package runtime hosts the per-area cooperative scheduler that every other
// package in this module runs on top of: one dispatch loop per area, plus
// one for the multi-area decision stage.
package runtime

import (
	"context"
	"log/slog"
)

// Area identifies a single routing area / topology scope. A node may run
// more than one Area concurrently, each on its own Env.
type Area string

// Env is the shared, read-from-any-goroutine handle to an area's reactor.
// All mutable state reachable from a dispatched function must only be
// touched on that Env's dispatch loop.
type Env struct {
	Area            Area
	DispatchChannel chan func() error
	Context         context.Context
	Cancel          context.CancelCauseFunc
	Log             *slog.Logger
}

// NewEnv allocates a new reactor environment for the given area. queueDepth
// bounds how many pending dispatches may be buffered before Dispatch blocks.
func NewEnv(parent context.Context, area Area, log *slog.Logger, queueDepth int) *Env {
	ctx, cancel := context.WithCancelCause(parent)
	return &Env{
		Area:            area,
		DispatchChannel: make(chan func() error, queueDepth),
		Context:         ctx,
		Cancel:          cancel,
		Log:             log.With(slog.String("area", string(area))),
	}
}

// Stop cancels the environment's context with cause; the dispatch channel
// is left open. Safe to call more than once.
func (e *Env) Stop(cause error) {
	if e.Context.Err() != nil {
		return
	}
	e.Cancel(cause)
}
