package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestReadableFDFiresCallback(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		t.Fatalf("Pipe2: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	fired := make(chan struct{}, 1)
	if err := l.AddFD(fds[0], Handlers{OnReadable: func() {
		var buf [16]byte
		unix.Read(fds[0], buf[:])
		fired <- struct{}{}
		l.Stop()
	}}); err != nil {
		t.Fatalf("AddFD: %v", err)
	}

	unix.Write(fds[1], []byte("x"))

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readable callback")
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestTimerFires(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	fired := make(chan struct{}, 1)
	l.AddTimer(10*time.Millisecond, 0, func() {
		fired <- struct{}{}
		l.Stop()
	})

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timer")
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPeriodicTimerRefires(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	count := 0
	var timer *Timer
	timer = l.AddTimer(5*time.Millisecond, 5*time.Millisecond, func() {
		count++
		if count >= 3 {
			l.CancelTimer(timer)
			l.Stop()
		}
	})

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for periodic timer to fire 3 times")
	}
	if count < 3 {
		t.Errorf("expected at least 3 fires, got %d", count)
	}
}

func TestCancelTimerPreventsFire(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	fired := false
	timer := l.AddTimer(5*time.Millisecond, 0, func() { fired = true })
	l.CancelTimer(timer)

	l.AddTimer(20*time.Millisecond, 0, func() { l.Stop() })

	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if fired {
		t.Error("canceled timer should not have fired")
	}
}
