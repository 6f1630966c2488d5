// Package config loads and validates the JSON request file that drives a
// run, producing one Template per input array element. A Template's
// "clients" count is a multiplier resolved later by internal/conn/
// internal/coordinator, not expanded here.
package config

// Scheme selects plain TCP or TLS.
type Scheme int

const (
	SchemeHTTP Scheme = iota
	SchemeHTTPS
)

// BodyType selects how a request body is produced.
type BodyType int

const (
	BodyContent BodyType = iota
	BodyRandom
)

// KeepAlive mirrors the tcp.keep-alive object.
type KeepAlive struct {
	Enable bool
	Idle   int
	Intvl  int
	Cnt    int
}

// Close mirrors the close object. Client, when set, means the client
// itself should initiate close on every request: the request is always
// built as the close-header variant and the connection always
// reconnects afterward, rather than only when keep_alive_reqs/reqs_max
// is reached.
type Close struct {
	Client    bool
	Linger    bool
	LingerSec int
}

// Delay mirrors the delay object; Min/Max are in milliseconds.
type Delay struct {
	Min uint64
	Max uint64
}

// Body mirrors the body object (or backward-compatible bare string).
type Body struct {
	Type    BodyType
	Content string
	Size    uint64
}

// Template is one element of the request file after validation, before
// "clients" expansion into duplicate Instances. It owns all byte buffers
// that Instances borrow from it (see internal/conn).
type Template struct {
	Index int // position in the request file's array; seeds the body PRNG

	Host     string
	Port     int
	HostFrom string
	Scheme   Scheme

	Method  string
	Path    string
	Headers []KeyValue

	Body Body

	Delay  Delay
	RampUp uint64 // ms; uniform[0, RampUp] initial delay before this connection's first CONNECT

	ReqsMax         uint64
	KeepAliveReqs   uint64
	TLSSessionReuse bool

	// Clients is the "clients" multiplier: this many Instances share this
	// Template's pre-rendered byte images and PRNG body buffer, each with
	// its own socket and counters. This is the Go analogue of the
	// original's per-connection "duplicate" flag, which let clone
	// connections borrow a prior connection's buffers instead of
	// reallocating them.
	Clients int

	TCPKeepAlive KeepAlive
	Close        Close
}

// KeyValue is an ordered header pair; order matters because the original
// emits headers verbatim in input order.
type KeyValue struct {
	Key, Value string
}
