// Package tlsconn wraps a single TLS client connection for use from the
// non-blocking reactor in internal/reactor.
//
// crypto/tls's public API gives a connection no way to pause a partial
// handshake or a partial Read/Write and resume it later when more bytes
// arrive — Handshake and Read either complete or fail the connection
// outright. The original C implementation sidesteps this by driving
// OpenSSL directly against a non-blocking socket and inspecting
// SSL_get_error() for SSL_ERROR_WANT_READ/WRITE; crypto/tls exposes no
// equivalent. Conn instead runs the handshake and data transfer on a
// dedicated goroutine fed by the real (blocking-capable) file descriptor,
// and reports progress back to the reactor thread through a small
// channel-based outcome type, so the reactor's single-threaded dispatch
// loop never itself blocks on TLS I/O.
package tlsconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sync"
)

// SessionCache is a fixed single-entry tls.ClientSessionCache, mirroring
// the original's one-session-per-connection-slot tls_session_reuse
// behavior (net.h's connection.tls_session_reuse) rather than Go's usual
// shared-across-many-hosts cache.
type SessionCache struct {
	mu      sync.Mutex
	session *tls.ClientSessionState
}

func NewSessionCache() *SessionCache { return &SessionCache{} }

func (c *SessionCache) Get(_ string) (*tls.ClientSessionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, false
	}
	return c.session, true
}

func (c *SessionCache) Put(_ string, cs *tls.ClientSessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = cs
}

// Outcome reports the result of an asynchronous TLS operation back to the
// reactor thread.
type Outcome struct {
	N   int
	Err error
}

// Conn drives one TLS client connection on its own goroutine.
type Conn struct {
	tc *tls.Conn

	writeReq  chan []byte
	writeDone chan Outcome
	readReq   chan []byte
	readDone  chan Outcome
}

// Dial wraps fd (already connect(2)'d by internal/conn) in a TLS client
// connection and starts its goroutine. serverName drives SNI and
// certificate verification; minVersion implements the --ssl-version
// command-line floor.
func Dial(fd int, serverName string, minVersion uint16, cache tls.ClientSessionCache) (*Conn, error) {
	f := os.NewFile(uintptr(fd), "tls-conn")
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("tlsconn: FileConn: %w", err)
	}

	cfg := &tls.Config{
		ServerName:             serverName,
		MinVersion:             minVersion,
		ClientSessionCache:     cache,
		InsecureSkipVerify:     true, // a benchmark client targets arbitrary/self-signed test endpoints
	}

	c := &Conn{
		tc:        tls.Client(nc, cfg),
		writeReq:  make(chan []byte),
		writeDone: make(chan Outcome, 1),
		readReq:   make(chan []byte),
		readDone:  make(chan Outcome, 1),
	}
	go c.loop()
	return c, nil
}

func (c *Conn) loop() {
	for {
		select {
		case b, ok := <-c.writeReq:
			if !ok {
				return
			}
			n, err := c.tc.Write(b)
			c.writeDone <- Outcome{N: n, Err: err}

		case b, ok := <-c.readReq:
			if !ok {
				return
			}
			n, err := c.tc.Read(b)
			c.readDone <- Outcome{N: n, Err: err}
		}
	}
}

// Handshake performs the TLS handshake, blocking the calling goroutine
// (not the reactor goroutine — callers invoke this from a worker-owned
// helper goroutine and receive the result via a callback queued back onto
// the reactor, see internal/conn).
func (c *Conn) Handshake(ctx context.Context) error {
	return c.tc.HandshakeContext(ctx)
}

// ConnectionState exposes negotiated TLS parameters after a successful
// handshake. SessionCache is filled by crypto/tls itself through Put, not
// from this method.
func (c *Conn) ConnectionState() tls.ConnectionState {
	return c.tc.ConnectionState()
}

// Write queues b for the goroutine and returns its outcome channel; the
// reactor polls or selects on this channel rather than calling Write
// directly, since tls.Conn.Write may block on the network.
func (c *Conn) Write(b []byte) <-chan Outcome {
	c.writeReq <- b
	return c.writeDone
}

// Read mirrors Write for the receive path.
func (c *Conn) Read(b []byte) <-chan Outcome {
	c.readReq <- b
	return c.readDone
}

// Close tears down the goroutine and the underlying connection.
func (c *Conn) Close() error {
	close(c.writeReq)
	close(c.readReq)
	return c.tc.Close()
}

// ValidateVersionFlag rejects an --ssl-version floor crypto/tls cannot
// negotiate at all, so the run fails fast at startup with a named
// version rather than having MinVersionFromFlag silently upgrade it to
// something the flag didn't ask for. flag is assumed already range
// checked to [0,4] by the caller (see cmd/mb).
func ValidateVersionFlag(flag int) error {
	if flag == 1 {
		return fmt.Errorf("ssl-version 1 (SSLv3) is not supported: crypto/tls has never implemented an SSLv3 client")
	}
	return nil
}

// MinVersionFromFlag maps the original's --ssl-version integer floor
// (0..4, auto/SSLv3..TLSv1.2-and-up) onto crypto/tls's MinVersion
// constants. Callers must run flag through ValidateVersionFlag first;
// this function assumes that has already rejected anything crypto/tls
// cannot negotiate, so its own fallback case (auto, and the already-
// rejected SSLv3) is a plain floor pick rather than a silent upgrade.
func MinVersionFromFlag(flag int) uint16 {
	switch {
	case flag <= 2:
		return tls.VersionTLS10
	case flag == 3:
		return tls.VersionTLS11
	default:
		return tls.VersionTLS12
	}
}
