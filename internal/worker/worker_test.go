package worker

import (
	"testing"
	"time"
)

func TestRunFlagStopped(t *testing.T) {
	f := NewRunFlag(1)
	if f.Stopped() {
		t.Fatal("expected fresh flag to not be stopped")
	}
	f.Stop()
	if !f.Stopped() {
		t.Fatal("expected flag to be stopped after Stop")
	}
}

func TestWaitAllDoneOrDeadlineStopsWhenAllReport(t *testing.T) {
	f := NewRunFlag(3)
	for i := 0; i < 3; i++ {
		f.ConnectionDone()
	}
	f.WaitAllDoneOrDeadline(3, time.Now().Add(5*time.Second))
	if !f.Stopped() {
		t.Fatal("expected flag to stop once all connections reported done")
	}
}

func TestWaitAllDoneOrDeadlineStopsAtDeadline(t *testing.T) {
	f := NewRunFlag(3)
	start := time.Now()
	f.WaitAllDoneOrDeadline(3, start.Add(20*time.Millisecond))
	if !f.Stopped() {
		t.Fatal("expected flag to stop at deadline even with connections outstanding")
	}
	if time.Since(start) > time.Second {
		t.Fatal("expected WaitAllDoneOrDeadline to return promptly at deadline")
	}
}

func TestConnectionDoneNonBlockingWhenFull(t *testing.T) {
	f := NewRunFlag(1)
	f.ConnectionDone()
	f.ConnectionDone() // must not block even though the buffered channel is full
}
