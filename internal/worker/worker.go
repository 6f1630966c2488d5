// Package worker owns one reactor.Loop and the contiguous slice of
// connections assigned to it, the Go analogue of the original's
// thread_main/threads_start pairing of one OS thread to one partition of
// the connection array.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/loadbench/mb/internal/conn"
	"github.com/loadbench/mb/internal/reactor"
)

// watchdogInterval is how often the loop checks the shared termination
// flag, the Go analogue of the original's WATCHDOG_MS.
const watchdogInterval = 200 * time.Millisecond

// Worker drives one reactor loop over its assigned Instances until the
// shared RunFlag is cleared or every Instance reaches StateTerminal.
type Worker struct {
	ID        int
	loop      *reactor.Loop
	instances []*conn.Instance
	runFlag   *RunFlag
}

// RunFlag is the shared termination signal every worker polls, the Go
// analogue of the original's global "run" atomic int. The original
// treats it as an atomic counter decremented as connections finish;
// here the coordinator clears it on deadline or signal, and each
// Instance's completion additionally notifies via ConnectionDone, letting
// a worker stop early once all of its own connections are done even
// before the deadline.
type RunFlag struct {
	cleared atomic.Bool
	doneCh  chan struct{}
}

// NewRunFlag creates a flag tracking up to n outstanding ConnectionDone
// signals without blocking a reactor goroutine that reports one.
func NewRunFlag(n int) *RunFlag {
	return &RunFlag{doneCh: make(chan struct{}, n)}
}

// Stop clears the flag; workers observe this on their next watchdog tick.
func (f *RunFlag) Stop() { f.cleared.Store(true) }

// Stopped reports whether Stop has been called.
func (f *RunFlag) Stopped() bool { return f.cleared.Load() }

// ConnectionDone implements conn.DoneReporter; every Instance invokes it
// exactly once, from the reactor goroutine that owns it, when it reaches
// StateTerminal.
func (f *RunFlag) ConnectionDone() {
	select {
	case f.doneCh <- struct{}{}:
	default:
	}
}

// WaitAllDoneOrDeadline blocks until either every one of total connections
// has reported ConnectionDone or deadline passes, then calls Stop. This
// lets a run with a finite request budget on every connection finish
// early instead of idling out the full --duration.
func (f *RunFlag) WaitAllDoneOrDeadline(total int, deadline time.Time) {
	defer f.Stop()
	remaining := total
	for remaining > 0 {
		wait := time.Until(deadline)
		if wait <= 0 {
			return
		}
		select {
		case <-f.doneCh:
			remaining--
		case <-time.After(wait):
			return
		}
	}
}

// New builds a Worker over instances, all sharing loop.
func New(id int, loop *reactor.Loop, instances []*conn.Instance, runFlag *RunFlag) *Worker {
	return &Worker{ID: id, loop: loop, instances: instances, runFlag: runFlag}
}

// Run starts every assigned Instance and drives the reactor loop until
// Stop is observed. It blocks the calling goroutine; coordinator runs one
// per worker inside an errgroup.
func (w *Worker) Run(ctx context.Context) error {
	var watchdog *reactor.Timer
	watchdog = w.loop.AddTimer(watchdogInterval, watchdogInterval, func() {
		if w.runFlag.Stopped() || ctx.Err() != nil {
			w.loop.CancelTimer(watchdog)
			w.loop.Stop()
		}
	})

	for _, in := range w.instances {
		in.Start()
	}

	return w.loop.Run()
}

// Close releases the worker's reactor resources. Call after Run returns.
func (w *Worker) Close() {
	w.loop.Close()
}
