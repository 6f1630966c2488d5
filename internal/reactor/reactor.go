// Package reactor implements the single-threaded, non-blocking event loop
// that internal/worker runs one of per OS thread, dispatching readiness
// on file descriptors and firing timers without ever blocking a thread
// on I/O. It is adapted from ColeHoward-KQueue-HTTP's kqueue-based
// dispatch loop in internal/server/kqueue_server.go, generalized from
// BSD kqueue to Linux epoll and from a listening server to a connecting
// client with per-fd timers.
package reactor

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Handlers are the callbacks a registered fd invokes when the epoll loop
// reports it readable or writable. Either may be nil.
type Handlers struct {
	OnReadable func()
	OnWritable func()
}

type registration struct {
	fd       int
	handlers Handlers
	wantRead bool
	wantWrite bool
}

// Timer is an opaque handle returned by AddTimer, passed to CancelTimer.
type Timer struct {
	deadline time.Time
	period   time.Duration // zero for one-shot
	cb       func()
	canceled bool
	index    int // heap index, maintained by container/heap
}

type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Loop is one reactor: a single epoll instance plus a timer heap, meant to
// be driven exclusively by one goroutine via Run.
type Loop struct {
	epfd    int
	regs    map[int]*registration
	timers  timerHeap
	stopped atomic.Bool
	wake    [2]int // self-pipe so Stop/Defer can be called from another goroutine

	pendingMu sync.Mutex
	pending   []func()
}

// New creates an epoll instance and its wakeup pipe.
func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor: pipe2: %w", err)
	}

	l := &Loop{epfd: epfd, regs: make(map[int]*registration), wake: fds}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fds[0], &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fds[0])}); err != nil {
		l.Close()
		return nil, fmt.Errorf("reactor: registering wake pipe: %w", err)
	}
	return l, nil
}

// Close releases the epoll fd and wakeup pipe. Call only after Run returns.
func (l *Loop) Close() {
	unix.Close(l.epfd)
	unix.Close(l.wake[0])
	unix.Close(l.wake[1])
}

// AddFD registers fd for the given readable/writable callbacks.
func (l *Loop) AddFD(fd int, h Handlers) error {
	r := &registration{fd: fd, handlers: h, wantRead: h.OnReadable != nil, wantWrite: h.OnWritable != nil}
	l.regs[fd] = r
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: epollMask(r), Fd: int32(fd)})
}

// ModifyFD changes which of readable/writable fd is watched for.
func (l *Loop) ModifyFD(fd int, wantRead, wantWrite bool) error {
	r, ok := l.regs[fd]
	if !ok {
		return fmt.Errorf("reactor: fd %d not registered", fd)
	}
	r.wantRead, r.wantWrite = wantRead, wantWrite
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: epollMask(r), Fd: int32(fd)})
}

// RemoveFD deregisters fd. It does not close fd.
func (l *Loop) RemoveFD(fd int) error {
	if _, ok := l.regs[fd]; !ok {
		return nil
	}
	delete(l.regs, fd)
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func epollMask(r *registration) uint32 {
	var mask uint32
	if r.wantRead {
		mask |= unix.EPOLLIN
	}
	if r.wantWrite {
		mask |= unix.EPOLLOUT
	}
	return mask
}

// AddTimer schedules cb to run after d. If period is non-zero the timer
// re-arms itself every period until canceled, used for the WATCHDOG_MS
// poll in internal/worker.
func (l *Loop) AddTimer(d, period time.Duration, cb func()) *Timer {
	t := &Timer{deadline: now().Add(d), period: period, cb: cb}
	heap.Push(&l.timers, t)
	return t
}

// CancelTimer prevents a pending timer from firing.
func (l *Loop) CancelTimer(t *Timer) {
	t.canceled = true
}

// Stop requests the loop to return from Run at the next iteration. Safe to
// call from any goroutine.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	unix.Write(l.wake[1], []byte{0})
}

// Defer queues fn to run on the loop's own goroutine and wakes the loop.
// This is how a helper goroutine (e.g. a TLS handshake running on its own
// goroutine per internal/tlsconn) safely hands a result back to the
// single-threaded reactor without it ever blocking on TLS I/O itself.
func (l *Loop) Defer(fn func()) {
	l.pendingMu.Lock()
	l.pending = append(l.pending, fn)
	l.pendingMu.Unlock()
	unix.Write(l.wake[1], []byte{0})
}

func (l *Loop) runPending() {
	l.pendingMu.Lock()
	fns := l.pending
	l.pending = nil
	l.pendingMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// now is a seam so tests can avoid a dependency on wall-clock time.
var now = time.Now

// Run drives the loop until Stop is called. It blocks the calling
// goroutine for the lifetime of the worker.
func (l *Loop) Run() error {
	events := make([]unix.EpollEvent, 256)
	for !l.stopped.Load() {
		timeout := l.nextTimeout()

		n, err := unix.EpollWait(l.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			if fd == l.wake[0] {
				drainWakePipe(l.wake[0])
				l.runPending()
				continue
			}
			r, ok := l.regs[fd]
			if !ok {
				continue
			}
			if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 && r.handlers.OnReadable != nil {
				r.handlers.OnReadable()
			}
			if ev.Events&unix.EPOLLOUT != 0 && r.handlers.OnWritable != nil {
				r.handlers.OnWritable()
			}
		}

		l.fireDueTimers()
	}
	return nil
}

func drainWakePipe(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// nextTimeout returns the epoll_wait timeout in milliseconds needed to
// wake up for the next pending timer, or -1 (block indefinitely) if there
// are none.
func (l *Loop) nextTimeout() int {
	for len(l.timers) > 0 && l.timers[0].canceled {
		heap.Pop(&l.timers)
	}
	if len(l.timers) == 0 {
		return -1
	}
	d := l.timers[0].deadline.Sub(now())
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > 1<<30 {
		ms = 1 << 30
	}
	return int(ms)
}

func (l *Loop) fireDueTimers() {
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.canceled {
			heap.Pop(&l.timers)
			continue
		}
		if t.deadline.After(now()) {
			break
		}
		heap.Pop(&l.timers)
		t.cb()
		if t.period > 0 && !t.canceled {
			t.deadline = now().Add(t.period)
			heap.Push(&l.timers, t)
		}
	}
}
