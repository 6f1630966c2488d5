package conn

import "fmt"

// chunkSize bounds how many raw body bytes a single wire chunk carries,
// matching the original's MAX_REQ_LEN cap on a random body's per-chunk
// buffer (net.h/mb.c's request_initialize_body_random) — not the smaller
// SNDBUF. A request's declared body.size can exceed this; instance.go
// streams the body across as many bounded chunkFrame calls as that takes,
// never rendering the whole chunked body into one buffer the way a naive
// "render it all up front" implementation would.
const chunkSize = maxBodyBufLen

// chunkTerminator ends a chunked-encoding body.
const chunkTerminator = "0\r\n\r\n"

// chunkFrame renders one HTTP/1.1 chunk ("size\r\ndata\r\n") of exactly n
// bytes taken from buf starting at off, replaying buf with wraparound if n
// exceeds what remains of buf past off. It returns the frame and the
// updated offset for the next call; it never appends the terminating zero
// chunk — callers track how many raw body bytes remain and append
// chunkTerminator themselves once the declared total has been framed.
func chunkFrame(buf []byte, off, n int) ([]byte, int) {
	frame := make([]byte, 0, n+16)
	frame = append(frame, []byte(fmt.Sprintf("%x\r\n", n))...)

	written := 0
	for written < n {
		take := n - written
		if take > len(buf)-off {
			take = len(buf) - off
		}
		frame = append(frame, buf[off:off+take]...)
		off += take
		written += take
		if off >= len(buf) {
			off = 0
		}
	}

	frame = append(frame, '\r', '\n')
	return frame, off
}
