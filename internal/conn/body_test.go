package conn

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"
)

// assembleChunked drives chunkFrame the way instance.go's write path does,
// one bounded segment per call, and appends the terminator once total has
// been framed, so tests can check the wire format without duplicating
// instance.go's streaming loop.
func assembleChunked(buf []byte, total uint64) []byte {
	if len(buf) == 0 || total == 0 {
		return []byte(chunkTerminator)
	}
	var out []byte
	off := 0
	for total > 0 {
		n := chunkSize
		if uint64(n) > total {
			n = int(total)
		}
		frame, newOff := chunkFrame(buf, off, n)
		off = newOff
		out = append(out, frame...)
		total -= uint64(n)
	}
	out = append(out, chunkTerminator...)
	return out
}

func TestChunkFrameSingleChunk(t *testing.T) {
	buf := []byte("hello")
	out := assembleChunked(buf, 5)
	want := "5\r\nhello\r\n0\r\n\r\n"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestChunkFrameWrapsBuffer(t *testing.T) {
	buf := []byte("ab") // smaller than chunkSize, forces wraparound
	out := assembleChunked(buf, 5)

	s := string(out)
	if !strings.HasSuffix(s, chunkTerminator) {
		t.Fatalf("expected terminator, got %q", s)
	}

	lines := strings.SplitN(s, "\r\n", 2)
	size, err := strconv.ParseInt(lines[0], 16, 64)
	if err != nil {
		t.Fatalf("bad chunk size line %q: %v", lines[0], err)
	}
	if size != 5 {
		t.Fatalf("expected single 5-byte chunk, got size %d", size)
	}
	body := lines[1][:size]
	if body != "ababa" {
		t.Fatalf("expected wrapped body %q, got %q", "ababa", body)
	}
}

func TestChunkSizeMatchesMaxBodyBufLen(t *testing.T) {
	if chunkSize != maxBodyBufLen {
		t.Fatalf("chunkSize (%d) must track maxBodyBufLen (%d), not a smaller wire-buffer size", chunkSize, maxBodyBufLen)
	}
}

func TestChunkFrameZeroTotal(t *testing.T) {
	out := assembleChunked([]byte("x"), 0)
	if !bytes.Equal(out, []byte(chunkTerminator)) {
		t.Fatalf("expected bare terminator for zero total, got %q", out)
	}
}

func TestChunkFrameNeverExceedsRequestedSize(t *testing.T) {
	// Whatever n a caller (instance.go's streaming loop) passes is the
	// exact frame size produced; chunkFrame itself never grows a single
	// call's output past chunkSize the way a whole-body renderer would.
	buf := make([]byte, 4096)
	n := 4096
	frame, off := chunkFrame(buf, 0, n)
	// n consumes all of buf, so the next call's offset wraps to the start.
	if want := n % len(buf); off != want {
		t.Fatalf("expected offset to wrap to %d, got %d", want, off)
	}
	want := fmt.Sprintf("%x\r\n", n) + strings.Repeat("\x00", n) + "\r\n"
	if string(frame) != want {
		t.Fatalf("unexpected frame contents/length: got %d bytes, want %d", len(frame), len(want))
	}
}

func TestAssembleChunkedMultipleChunks(t *testing.T) {
	// chunkSize mirrors the original's MAX_REQ_LEN (64MiB); exercise the
	// multi-chunk path with a body just over one chunk boundary rather
	// than allocating multiples of it.
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = 'x'
	}
	total := uint64(chunkSize) + 10
	out := assembleChunked(buf, total)

	var sent uint64
	rest := out
	for {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			t.Fatal("malformed chunk stream: missing CRLF")
		}
		sizeLine := string(rest[:idx-1]) // drop trailing \r
		size, err := strconv.ParseInt(sizeLine, 16, 64)
		if err != nil {
			t.Fatalf("bad chunk size %q: %v", sizeLine, err)
		}
		rest = rest[idx+1:]
		if size == 0 {
			break
		}
		rest = rest[size+2:] // skip chunk data + trailing CRLF
		sent += uint64(size)
	}
	if sent != total {
		t.Fatalf("expected %d total bytes across chunks, got %d", total, sent)
	}
}
