package runtime

import (
	"fmt"
	"time"
)

// Pair shuttles a (result, error) back across DispatchWait's return channel.
type Pair[A, B any] struct {
	V1 A
	V2 B
}

// Dispatch queues fun to run on the Env's reactor goroutine without waiting
// for it to complete, and drops it once the Env is cancelled. A panic while
// queueing cancels the Env; fun itself runs unguarded in Run, so a panic
// inside fun is not recovered.
func (e *Env) Dispatch(fun func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.Cancel(fmt.Errorf("panic: %v", r))
		}
	}()
	select {
	case e.DispatchChannel <- fun:
	case <-e.Context.Done():
	}
}

// DispatchWait runs fun on the reactor goroutine and blocks for its result.
func (e *Env) DispatchWait(fun func() (any, error)) (any, error) {
	ret := make(chan Pair[any, error], 1)
	e.Dispatch(func() error {
		res, err := fun()
		ret <- Pair[any, error]{res, err}
		return err
	})
	select {
	case res := <-ret:
		return res.V1, res.V2
	case <-e.Context.Done():
		return nil, e.Context.Err()
	}
}

// ScheduleTask dispatches fun once after delay.
func (e *Env) ScheduleTask(fun func() error, delay time.Duration) {
	time.AfterFunc(delay, func() {
		e.Dispatch(fun)
	})
}

func (e *Env) repeatedTask(fun func() error, delay time.Duration) {
	for e.Context.Err() == nil {
		e.Dispatch(fun)
		select {
		case <-time.After(delay):
		case <-e.Context.Done():
			return
		}
	}
}

// RepeatTask dispatches fun every delay until the Env is cancelled. Used for
// each area's peer scan / TTL tick / flood drain / self-originated advertise
// pass, and for the decision reactor's hold tick and RIB recompute.
func (e *Env) RepeatTask(fun func() error, delay time.Duration) {
	go e.repeatedTask(fun, delay)
}

// Run drains the dispatch channel until the Env is cancelled, logging any
// dispatch that takes more than 4ms.
func (e *Env) Run() {
	e.Log.Debug("started reactor")
	for {
		select {
		case fun, ok := <-e.DispatchChannel:
			if !ok {
				return
			}
			start := time.Now()
			if err := fun(); err != nil {
				e.Log.Error("error occurred during dispatch", "error", err)
			}
			if elapsed := time.Since(start); elapsed > 4*time.Millisecond {
				e.Log.Warn("dispatch took a long time", "elapsed", elapsed, "queued", len(e.DispatchChannel))
			}
		case <-e.Context.Done():
			e.Log.Info("stopped reactor", "reason", e.Context.Err())
			return
		}
	}
}
