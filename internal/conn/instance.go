// Package conn implements the per-connection state machine: one Instance
// owns one socket and walks through connect, optional TLS handshake,
// optional pre-request delay, request write, response read, and either
// keep-alive reuse or reconnection. It is adapted from the non-blocking
// accept/read/close handling in ColeHoward-KQueue-HTTP's
// internal/server/kqueue_server.go, generalized from a server accepting
// connections to a client establishing them.
package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/loadbench/mb/internal/config"
	"github.com/loadbench/mb/internal/httpparse"
	"github.com/loadbench/mb/internal/prng"
	"github.com/loadbench/mb/internal/reactor"
	"github.com/loadbench/mb/internal/resolve"
	"github.com/loadbench/mb/internal/socket"
	"github.com/loadbench/mb/internal/tlsconn"
)

// State is one node of the connection state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateDelaying
	StateWritingRequest
	StateReadingResponse
	StateKeepAliveIdle
	StateClosing
	StateReconnecting
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateDelaying:
		return "delaying"
	case StateWritingRequest:
		return "writing_request"
	case StateReadingResponse:
		return "reading_response"
	case StateKeepAliveIdle:
		return "keep_alive_idle"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Stats accumulates the per-connection counters summed across every
// Instance once the run ends (net.h's cstats).
type Stats struct {
	Requests     uint64
	Errors       uint64 // responses with status >= 400
	BytesSent    uint64
	BytesRecv    uint64
	Connects     uint64
	Reconnects   uint64
	ConnFailures uint64 // connect/write/read failures (err_conn)
	ParserErrors uint64 // malformed responses (err_parser)
}

// DoneReporter is notified exactly once when an Instance permanently
// stops issuing requests, so the coordinator can track how many
// connections are still outstanding against the shared run-stop flag
// (the Go analogue of the original's global "run" atomic int).
type DoneReporter interface {
	ConnectionDone()
}

// Instance is one connection: one socket walking the state machine, built
// from a shared TemplateData so "clients" replicas of the same template
// never duplicate byte images or PRNG buffers.
type Instance struct {
	Index int // globally unique; seeds this instance's delay PRNG

	loop     *reactor.Loop
	resolver *resolve.Cache
	data     *TemplateData
	tmpl     *config.Template
	done     DoneReporter

	cookiesEnabled bool
	minTLSVersion  uint16
	sessionCache   *tlsconn.SessionCache

	sock    *socket.Socket
	fd      int
	state   State
	addr    *net.TCPAddr
	srcAddr *net.TCPAddr

	delayRNG  *prng.State
	parser    *httpparse.Parser
	cookieJar string

	reqsOnConn uint64 // resets on reconnect; compared against KeepAliveReqs
	reqsTotal  uint64 // lifetime; compared against ReqsMax

	writeBuf []byte
	writeOff int

	// bodyBytesLeft/bodyBufOff track a random body's progress across
	// requests that exceed chunkSize: rather than rendering the whole
	// chunked body into writeBuf up front, writeBuf only ever holds one
	// bounded chunkFrame segment at a time, and loadNextBodySegment pulls
	// the next one once the previous has fully drained.
	bodyBytesLeft uint64
	bodyBufOff    int

	tls *tlsconn.Conn

	Stats Stats
}

// New builds an Instance in StateIdle. Call Start to kick off connecting.
func New(index int, data *TemplateData, loop *reactor.Loop, resolver *resolve.Cache, done DoneReporter, cookiesEnabled bool, minTLSVersion int) *Instance {
	in := &Instance{
		Index:          index,
		loop:           loop,
		resolver:       resolver,
		data:           data,
		tmpl:           data.Template,
		done:           done,
		cookiesEnabled: cookiesEnabled,
		minTLSVersion:  tlsconn.MinVersionFromFlag(minTLSVersion),
		sessionCache:   tlsconn.NewSessionCache(),
		fd:             -1,
		delayRNG:       prng.Seed(index),
		parser:         httpparse.New(),
	}
	if cookiesEnabled {
		in.wireCookieCapture()
	}
	return in
}

// wireCookieCapture registers the Set-Cookie capture hook once, ahead of
// the first response; the header callbacks fire while a response streams
// in, so they must be set before parsing starts, not after Done() is seen.
func (in *Instance) wireCookieCapture() {
	in.parser.TrackHeaders = true
	in.parser.OnHeaderValue = func(name, value string) {
		if !strings.EqualFold(name, "Set-Cookie") {
			return
		}
		if idx := strings.IndexByte(value, ';'); idx >= 0 {
			value = value[:idx]
		}
		if in.cookieJar == "" {
			in.cookieJar = value
		} else {
			in.cookieJar += "; " + value
		}
	}
}

// ResolveAddr looks up the destination (and, if configured, the
// host_from bind-source) before any worker starts running, so a bad
// hostname is caught at load time rather than surfacing as a per-connection
// failure once the run is already underway. Both lookups are fatal on
// error: the coordinator aborts the whole run rather than starting it with
// a connection silently missing its resolved address.
func (in *Instance) ResolveAddr(ctx context.Context) error {
	addr, err := in.resolver.Resolve(ctx, in.tmpl.Host, in.tmpl.Port)
	if err != nil {
		return err
	}
	in.addr = addr

	if in.tmpl.HostFrom != "" {
		src, err := in.resolver.ResolveSource(ctx, in.tmpl.HostFrom)
		if err != nil {
			return fmt.Errorf("host_from %q: %w", in.tmpl.HostFrom, err)
		}
		in.srcAddr = src
	}

	return nil
}

// Start begins connecting, after an initial delay drawn uniformly from
// [0, tmpl.RampUp] ms if the template requests one, spreading this
// connection's first CONNECT across the worker's ramp-up window rather
// than every connection starting in lockstep. ResolveAddr must have
// already succeeded for this Instance before Start is called.
func (in *Instance) Start() {
	if in.tmpl.RampUp == 0 {
		in.connect()
		return
	}

	in.state = StateDelaying
	ms := in.uniformMillis(0, in.tmpl.RampUp)
	in.loop.AddTimer(time.Duration(ms)*time.Millisecond, 0, in.connect)
}

func (in *Instance) connect() {
	in.state = StateConnecting

	var dst [4]byte
	copy(dst[:], in.addr.IP.To4())

	var srcPtr *[4]byte
	if in.srcAddr != nil {
		var src [4]byte
		copy(src[:], in.srcAddr.IP.To4())
		srcPtr = &src
	}

	sock, _, err := socket.Dial(dst, in.addr.Port, srcPtr)
	if err != nil {
		in.failConn(fmt.Errorf("dial: %w", err))
		return
	}
	in.sock = sock
	in.fd = sock.FD
	in.applyKeepalive(in.fd)
	in.applyLinger(in.fd)

	in.loop.AddFD(in.fd, reactor.Handlers{OnReadable: in.OnReadable, OnWritable: in.OnWritable})
	in.loop.ModifyFD(in.fd, false, true) // watch only for connect-completion writability
}

func (in *Instance) applyKeepalive(fd int) {
	ka := in.tmpl.TCPKeepAlive
	if !ka.Enable {
		return
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	if ka.Idle > 0 {
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, ka.Idle)
	}
	if ka.Intvl > 0 {
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, ka.Intvl)
	}
	if ka.Cnt > 0 {
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, ka.Cnt)
	}
}

func (in *Instance) applyLinger(fd int) {
	if !in.tmpl.Close.Linger {
		return
	}
	unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{
		Onoff:  1,
		Linger: int32(in.tmpl.Close.LingerSec),
	})
}

func (in *Instance) onConnectWritable() {
	errno, err := in.sock.ConnectError()
	if err != nil || errno != 0 {
		in.failConn(fmt.Errorf("connect failed: errno %d: %v", errno, err))
		return
	}

	in.Stats.Connects++
	in.reqsOnConn = 0
	in.parser.Reset()

	if in.tmpl.Scheme == config.SchemeHTTPS {
		in.startHandshake()
		return
	}
	in.loop.ModifyFD(in.fd, true, false)
	in.enterDelay()
}

func (in *Instance) startHandshake() {
	in.state = StateHandshaking
	cache := in.sessionCacheOrNil()

	tc, err := tlsconn.Dial(in.fd, in.tmpl.Host, in.minTLSVersion, cache)
	if err != nil {
		in.failConn(err)
		return
	}
	in.tls = tc

	go func() {
		hsErr := tc.Handshake(context.Background())
		in.loop.Defer(func() {
			if hsErr != nil {
				in.failConn(fmt.Errorf("tls handshake: %w", hsErr))
				return
			}
			in.enterDelay()
		})
	}()
}

func (in *Instance) sessionCacheOrNil() tls.ClientSessionCache {
	if !in.tmpl.TLSSessionReuse {
		return nil
	}
	return in.sessionCache
}

func (in *Instance) enterDelay() {
	d := in.tmpl.Delay
	if d.Max == 0 {
		in.beginRequest()
		return
	}

	in.state = StateDelaying
	ms := in.uniformMillis(d.Min, d.Max)
	in.loop.AddTimer(time.Duration(ms)*time.Millisecond, 0, in.beginRequest)
}

// uniformMillis draws a value uniformly from [min, max] (inclusive) off
// this Instance's delay PRNG, shared by the per-connection ramp-up delay
// and the inter-request pacing delay.
func (in *Instance) uniformMillis(min, max uint64) uint64 {
	span := max - min + 1
	var word [8]byte
	in.delayRNG.Fill(word[:])
	return min + (leUint64(word[:]) % span)
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// beginRequest selects the keep-alive or close image for the next
// request, splices in the cookie jar if non-empty, and enters
// StateWritingRequest.
func (in *Instance) beginRequest() {
	useClose := in.isLastRequest()
	img := in.data.Images.KeepAlive
	if useClose {
		img = in.data.Images.Close
	}

	var buf []byte
	buf = append(buf, img.Head...)
	if in.cookiesEnabled && in.cookieJar != "" {
		buf = append(buf, "Cookie: "+in.cookieJar+"\r\n"...)
	}
	buf = append(buf, img.Tail...)

	in.bodyBytesLeft = 0
	in.bodyBufOff = 0
	if in.tmpl.Body.Type == config.BodyRandom {
		in.bodyBytesLeft = in.tmpl.Body.Size
		if in.bodyBytesLeft == 0 {
			buf = append(buf, chunkTerminator...)
		}
	}

	in.writeBuf = buf
	in.writeOff = 0
	in.state = StateWritingRequest

	if in.tls != nil {
		in.writeTLS()
	} else {
		in.loop.ModifyFD(in.fd, false, true)
	}
}

// isLastRequest reports whether the request about to be issued is the
// last one this socket will send before closing. The effective request
// cap is min(reqs_max, keep_alive_reqs) when both are set, else
// whichever one is set, else unbounded; close.client forces every
// request to be the last one on its connection regardless of either cap.
func (in *Instance) isLastRequest() bool {
	if in.tmpl.Close.Client {
		return true
	}
	next := in.reqsOnConn + 1
	if in.tmpl.KeepAliveReqs > 0 && next >= in.tmpl.KeepAliveReqs {
		return true
	}
	if in.tmpl.ReqsMax > 0 && in.reqsTotal+1 >= in.tmpl.ReqsMax {
		return true
	}
	return false
}

// OnWritable is the reactor's callback for plaintext connections once
// registered for EPOLLOUT while writing a request.
func (in *Instance) OnWritable() {
	switch in.state {
	case StateConnecting:
		in.onConnectWritable()
	case StateWritingRequest:
		in.writePlain()
	}
}

func (in *Instance) writePlain() {
	for {
		for in.writeOff < len(in.writeBuf) {
			n, err := in.sock.Write(in.writeBuf[in.writeOff:])
			if err != nil {
				in.failConn(fmt.Errorf("write: %w", err))
				return
			}
			if n == 0 {
				return // EAGAIN; resume on next writable event, writeOff already advanced
			}
			in.writeOff += n
			in.Stats.BytesSent += uint64(n)
		}
		if !in.loadNextBodySegment() {
			in.finishWrite()
			return
		}
	}
}

func (in *Instance) writeTLS() {
	go func() {
		out := <-in.tls.Write(in.writeBuf[in.writeOff:])
		in.loop.Defer(func() {
			if out.Err != nil {
				in.failConn(fmt.Errorf("tls write: %w", out.Err))
				return
			}
			in.writeOff += out.N
			in.Stats.BytesSent += uint64(out.N)
			if in.writeOff >= len(in.writeBuf) {
				if in.loadNextBodySegment() {
					in.writeTLS()
					return
				}
				in.finishWrite()
				return
			}
			in.writeTLS()
		})
	}()
}

// loadNextBodySegment refills writeBuf with the next bounded chunk of a
// random body once the previously queued bytes have fully drained,
// keeping memory use capped at chunkSize regardless of the configured
// body.size rather than ever rendering the whole chunked body into one
// buffer. It reports false once the body's declared total has been fully
// framed (or there was never a streamed body to begin with), at which
// point the caller moves on to reading the response.
func (in *Instance) loadNextBodySegment() bool {
	if in.bodyBytesLeft == 0 {
		return false
	}

	n := chunkSize
	if uint64(n) > in.bodyBytesLeft {
		n = int(in.bodyBytesLeft)
	}
	frame, off := chunkFrame(in.data.BodyBuf, in.bodyBufOff, n)
	in.bodyBufOff = off
	in.bodyBytesLeft -= uint64(n)
	if in.bodyBytesLeft == 0 {
		frame = append(frame, chunkTerminator...)
	}

	in.writeBuf = frame
	in.writeOff = 0
	return true
}

func (in *Instance) finishWrite() {
	in.writeBuf = nil
	in.writeOff = 0
	in.state = StateReadingResponse

	if in.tls != nil {
		in.readTLS()
	} else {
		in.loop.ModifyFD(in.fd, true, false)
	}
}

// OnReadable is the reactor's callback for plaintext connections once
// registered for EPOLLIN while reading a response.
func (in *Instance) OnReadable() {
	if in.state != StateReadingResponse {
		return
	}
	in.readPlain()
}

func (in *Instance) readPlain() {
	var buf [32 * 1024]byte
	for {
		n, err := in.sock.Read(buf[:])
		if err != nil {
			in.failConn(fmt.Errorf("read: %w", err))
			return
		}
		if n == 0 {
			return // EAGAIN; resume on next readable event
		}
		in.Stats.BytesRecv += uint64(n)
		if in.feedParser(buf[:n]) {
			return
		}
	}
}

func (in *Instance) readTLS() {
	var buf [32 * 1024]byte
	go func() {
		out := <-in.tls.Read(buf[:])
		in.loop.Defer(func() {
			if out.Err != nil {
				in.failConn(fmt.Errorf("tls read: %w", out.Err))
				return
			}
			if out.N == 0 {
				in.failConn(fmt.Errorf("tls connection closed by peer"))
				return
			}
			in.Stats.BytesRecv += uint64(out.N)
			if in.feedParser(buf[:out.N]) {
				return
			}
			in.readTLS()
		})
	}()
}

// feedParser drives the response parser; it returns true once a full
// response has been consumed (and the state machine has been advanced),
// so callers stop trying to read more off this socket for now.
func (in *Instance) feedParser(data []byte) bool {
	for len(data) > 0 {
		n, err := in.parser.Feed(data)
		data = data[n:]
		if err != nil {
			in.failParser(fmt.Errorf("malformed response: %w", err))
			return true
		}
		if in.parser.Done() {
			in.completeRequest()
			return true
		}
		if n == 0 {
			return false // need more bytes
		}
	}
	return false
}

func (in *Instance) completeRequest() {
	in.Stats.Requests++
	in.reqsOnConn++
	in.reqsTotal++
	if in.parser.StatusCode >= 400 {
		in.Stats.Errors++
	}

	lastOnConn := in.isLastRequestJustSent() || in.parser.ServerClose
	in.parser.Reset()

	if lastOnConn {
		in.reconnectOrStop()
		return
	}

	in.state = StateKeepAliveIdle
	in.enterDelay()
}

// isLastRequestJustSent mirrors isLastRequest's decision for the request
// that has just completed, since reqsOnConn/reqsTotal have since advanced.
func (in *Instance) isLastRequestJustSent() bool {
	if in.tmpl.Close.Client {
		return true
	}
	if in.tmpl.KeepAliveReqs > 0 && in.reqsOnConn >= in.tmpl.KeepAliveReqs {
		return true
	}
	if in.tmpl.ReqsMax > 0 && in.reqsTotal >= in.tmpl.ReqsMax {
		return true
	}
	return false
}

// reconnectOrStop closes the socket; if the connection has not yet used
// up its lifetime request budget it reconnects, otherwise it terminates
// for good.
func (in *Instance) reconnectOrStop() {
	in.closeSocket()

	if in.tmpl.ReqsMax > 0 && in.reqsTotal >= in.tmpl.ReqsMax {
		in.terminate()
		return
	}

	in.Stats.Reconnects++
	in.state = StateReconnecting
	in.connect()
}

func (in *Instance) closeSocket() {
	if in.tls != nil {
		in.tls.Close()
		in.tls = nil
	}
	if in.fd >= 0 {
		in.loop.RemoveFD(in.fd)
		in.sock.Close()
		in.sock = nil
		in.fd = -1
	}
}

func (in *Instance) terminate() {
	in.state = StateTerminal
	if in.done != nil {
		in.done.ConnectionDone()
	}
}

// failConn tears down a live socket after a connect/write/read failure
// (err_conn) and either retries or gives up, same as a clean close past
// the request budget would.
func (in *Instance) failConn(err error) {
	in.Stats.ConnFailures++
	in.retryOrGiveUp()
}

// failParser tears down a live socket after the response parser rejects
// a malformed response (err_parser), counted separately from err_conn so
// a server that talks garbage HTTP isn't indistinguishable from one that's
// simply unreachable.
func (in *Instance) failParser(err error) {
	in.Stats.ParserErrors++
	in.retryOrGiveUp()
}

func (in *Instance) retryOrGiveUp() {
	in.closeSocket()

	if in.tmpl.ReqsMax > 0 && in.reqsTotal >= in.tmpl.ReqsMax {
		in.terminate()
		return
	}
	in.state = StateReconnecting
	in.connect()
}
