package httpparse

import "testing"

func TestParseContentLengthResponse(t *testing.T) {
	p := New()
	completed := false
	p.OnMessageComplete = func() { completed = true }

	resp := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	n, err := p.Feed([]byte(resp))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if n != len(resp) {
		t.Errorf("expected to consume %d bytes, got %d", len(resp), n)
	}
	if !completed {
		t.Error("expected OnMessageComplete to fire")
	}
	if p.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", p.StatusCode)
	}
	if !p.Done() {
		t.Error("expected parser to be Done")
	}
}

func TestParseSplitAcrossFeeds(t *testing.T) {
	p := New()
	completed := false
	p.OnMessageComplete = func() { completed = true }

	full := "HTTP/1.1 204 No Content\r\n\r\n"
	for i := 0; i < len(full); i++ {
		chunk := full[i : i+1]
		if _, err := p.Feed([]byte(chunk)); err != nil {
			t.Fatalf("Feed byte %d: %v", i, err)
		}
	}
	if !completed {
		t.Error("expected completion after byte-by-byte feed")
	}
	if p.StatusCode != 204 {
		t.Errorf("expected 204, got %d", p.StatusCode)
	}
}

func TestParseChunkedBody(t *testing.T) {
	p := New()
	completed := false
	p.OnMessageComplete = func() { completed = true }

	resp := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n" +
		"0\r\n\r\n"
	n, err := p.Feed([]byte(resp))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if n != len(resp) {
		t.Errorf("expected to consume entire chunked response, consumed %d of %d", n, len(resp))
	}
	if !completed {
		t.Error("expected OnMessageComplete for chunked response")
	}
}

func TestParseChunkedSplitAcrossFeeds(t *testing.T) {
	p := New()
	completed := false
	p.OnMessageComplete = func() { completed = true }

	parts := []string{
		"HTTP/1.1 200",
		" OK\r\nTransfer-Enc",
		"oding: chunked\r\n\r\n3\r\nfo",
		"o\r\n0\r\n\r\n",
	}
	for _, part := range parts {
		if _, err := p.Feed([]byte(part)); err != nil {
			t.Fatalf("Feed %q: %v", part, err)
		}
	}
	if !completed {
		t.Error("expected completion after multi-part chunked feed")
	}
}

func TestParseHeaderCallbacks(t *testing.T) {
	p := New()
	p.TrackHeaders = true
	var gotName, gotValue string
	p.OnHeaderValue = func(name, value string) {
		if name == "Set-Cookie" {
			gotName, gotValue = name, value
		}
	}

	resp := "HTTP/1.1 200 OK\r\nSet-Cookie: sid=abc\r\nContent-Length: 0\r\n\r\n"
	if _, err := p.Feed([]byte(resp)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if gotName != "Set-Cookie" || gotValue != "sid=abc" {
		t.Errorf("expected Set-Cookie header captured, got %q=%q", gotName, gotValue)
	}
}

func TestParseMalformedStatusLine(t *testing.T) {
	p := New()
	if _, err := p.Feed([]byte("not a response\r\n")); err == nil {
		t.Fatal("expected error for malformed status line")
	}
}

func TestParseZeroLengthByDefault(t *testing.T) {
	p := New()
	completed := false
	p.OnMessageComplete = func() { completed = true }

	resp := "HTTP/1.1 304 Not Modified\r\nETag: \"abc\"\r\n\r\n"
	if _, err := p.Feed([]byte(resp)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !completed {
		t.Error("expected completion for header-only response with no length framing")
	}
}

func TestParseConnectionCloseHeaderSetsServerClose(t *testing.T) {
	p := New()
	resp := "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"
	if _, err := p.Feed([]byte(resp)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !p.ServerClose {
		t.Error("expected ServerClose to be set from a Connection: close response header")
	}
}

func TestParseNoConnectionHeaderLeavesServerCloseFalse(t *testing.T) {
	p := New()
	resp := "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"
	if _, err := p.Feed([]byte(resp)); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if p.ServerClose {
		t.Error("expected ServerClose to stay false without a Connection: close header")
	}
}

func TestParseResetClearsServerClose(t *testing.T) {
	p := New()
	first := "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"
	if _, err := p.Feed([]byte(first)); err != nil {
		t.Fatalf("Feed first: %v", err)
	}
	p.Reset()
	if p.ServerClose {
		t.Error("expected Reset to clear ServerClose for the next response")
	}
}

func TestParseResetForKeepAlive(t *testing.T) {
	p := New()
	first := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"
	if _, err := p.Feed([]byte(first)); err != nil {
		t.Fatalf("Feed first: %v", err)
	}
	if !p.Done() {
		t.Fatal("expected first response done")
	}
	p.Reset()
	if p.Done() {
		t.Fatal("expected parser not done after Reset")
	}

	second := "HTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n"
	if _, err := p.Feed([]byte(second)); err != nil {
		t.Fatalf("Feed second: %v", err)
	}
	if p.StatusCode != 201 {
		t.Errorf("expected 201 after reset, got %d", p.StatusCode)
	}
}
