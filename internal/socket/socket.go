// Package socket wraps a single non-blocking client TCP socket. It is
// adapted from ColeHoward-KQueue-HTTP's server-side listener/connection
// helper (CreateServerSocket, SetDefaultClientOptions): this is the
// client-only half of that file, reworked for outbound connect(2)
// instead of bind/listen/accept, and used by internal/conn's state
// machine for the raw-fd read/write/close path on plaintext connections.
package socket

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

// Socket is a single TCP client socket, safe to Read/Write/Close from a
// single reactor goroutine (the RWMutex guards against a concurrent
// Close racing a TLS goroutine closing the same fd via internal/tlsconn).
type Socket struct {
	FD       int
	IsClosed bool
	Mu       sync.RWMutex
}

// Dial opens a non-blocking TCP socket and begins connect(2) towards
// addr, applying non-blocking mode and TCP_NODELAY up front (per-template
// keepalive and linger options are left to the caller), the client-side
// analogue of CreateServerSocket's
// socket/setsockopt/bind/listen sequence. inProgress reports whether the
// connect is still pending (EINPROGRESS) when Dial returns.
func Dial(addr [4]byte, port int, srcAddr *[4]byte) (sock *Socket, inProgress bool, err error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, false, fmt.Errorf("socket error: %w", err)
	}
	sock = &Socket{FD: fd}

	if err := sock.SetDefaultClientOptions(); err != nil {
		sock.Close()
		return nil, false, err
	}

	if srcAddr != nil {
		sa := &unix.SockaddrInet4{}
		copy(sa.Addr[:], (*srcAddr)[:])
		unix.Bind(fd, sa)
	}

	sa := &unix.SockaddrInet4{Addr: addr, Port: port}
	err = unix.Connect(fd, sa)
	if err == unix.EINPROGRESS {
		return sock, true, nil
	}
	if err != nil {
		sock.Close()
		return nil, false, fmt.Errorf("connect error: %w", err)
	}
	return sock, false, nil
}

// Read is a thin wrapper over read(2). EAGAIN/EWOULDBLOCK reports
// (0, nil) — routine, not exceptional, for a non-blocking socket — while
// a graceful peer close is reported as (0, io.EOF) so callers can tell
// "no data yet" apart from "nothing more will ever arrive".
func (s *Socket) Read(buffer []byte) (int, error) {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	if s.IsClosed {
		return 0, fmt.Errorf("socket at fd %d is already closed", s.FD)
	}
	n, err := unix.Read(s.FD, buffer)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read error on fd %d: %w", s.FD, err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write mirrors Read: EAGAIN/EWOULDBLOCK reports (0, nil), leaving
// partial-write resumption to the caller's own offset tracking.
func (s *Socket) Write(buf []byte) (int, error) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if len(buf) == 0 {
		return 0, nil
	}
	if s.IsClosed {
		return 0, fmt.Errorf("socket at fd %d is already closed", s.FD)
	}
	n, err := unix.Write(s.FD, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("write error on fd %d: %w", s.FD, err)
	}
	return n, nil
}

// Close is idempotent: closing an already-closed Socket is a no-op
// rather than an error, since both the state machine's error path and
// its normal reconnect path may race to close the same fd.
func (s *Socket) Close() error {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.IsClosed {
		return nil
	}
	err := unix.Close(s.FD)
	s.IsClosed = true
	if err != nil {
		return fmt.Errorf("close error on fd %d: %w", s.FD, err)
	}
	return nil
}

// ConnectError returns the pending connect(2) result once the socket has
// been reported writable, via SO_ERROR — 0 means the connection
// succeeded.
func (s *Socket) ConnectError() (int, error) {
	return unix.GetsockoptInt(s.FD, unix.SOL_SOCKET, unix.SO_ERROR)
}

// SetDefaultClientOptions applies TCP_NODELAY and non-blocking mode, the
// two options every outbound benchmark connection needs regardless of
// per-template keepalive/linger settings (those are applied separately
// by internal/conn since they come from the request file, not a
// hardcoded default).
func (s *Socket) SetDefaultClientOptions() error {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.IsClosed {
		return fmt.Errorf("socket at fd %d is already closed", s.FD)
	}
	if err := unix.SetNonblock(s.FD, true); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(s.FD, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return err
	}
	return nil
}
