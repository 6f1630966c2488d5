package conn

import (
	"testing"

	"github.com/loadbench/mb/internal/config"
	"github.com/loadbench/mb/internal/httpparse"
	"github.com/loadbench/mb/internal/prng"
)

func TestIsLastRequestKeepAliveCap(t *testing.T) {
	in := &Instance{tmpl: &config.Template{KeepAliveReqs: 3}}
	in.reqsOnConn = 1
	if in.isLastRequest() {
		t.Fatal("request 2 of 3 should not be last")
	}
	in.reqsOnConn = 2
	if !in.isLastRequest() {
		t.Fatal("request 3 of 3 should be last")
	}
}

func TestIsLastRequestReqsMaxCap(t *testing.T) {
	in := &Instance{tmpl: &config.Template{ReqsMax: 2}}
	in.reqsTotal = 0
	if in.isLastRequest() {
		t.Fatal("first of 2 should not be last")
	}
	in.reqsTotal = 1
	if !in.isLastRequest() {
		t.Fatal("second of 2 should be last")
	}
}

func TestIsLastRequestEffectiveCapIsMinimum(t *testing.T) {
	// min(reqs_max, keep_alive_reqs) governs when both are set.
	in := &Instance{tmpl: &config.Template{KeepAliveReqs: 10, ReqsMax: 2}}
	in.reqsTotal = 1 // about to send request #2, which is reqs_max's cap
	if !in.isLastRequest() {
		t.Fatal("expected reqs_max=2 to govern even though keep_alive_reqs=10")
	}
}

func TestIsLastRequestUnboundedWhenNeitherSet(t *testing.T) {
	in := &Instance{tmpl: &config.Template{}}
	in.reqsOnConn = 1000
	in.reqsTotal = 1000
	if in.isLastRequest() {
		t.Fatal("expected unbounded connection to never report last")
	}
}

func TestIsLastRequestJustSentMirrorsIsLastRequest(t *testing.T) {
	in := &Instance{tmpl: &config.Template{KeepAliveReqs: 2}}
	in.reqsOnConn = 2
	if !in.isLastRequestJustSent() {
		t.Fatal("expected completion of the 2nd request to be last")
	}
}

func TestIsLastRequestCloseClientForcesEveryRequest(t *testing.T) {
	in := &Instance{tmpl: &config.Template{Close: config.Close{Client: true}}}
	if !in.isLastRequest() {
		t.Fatal("expected close.client to force the very first request to be last")
	}
	if !in.isLastRequestJustSent() {
		t.Fatal("expected close.client to force reconnect after every completed request")
	}
}

func TestUniformMillisStaysWithinBounds(t *testing.T) {
	in := &Instance{delayRNG: prng.Seed(1)}
	for i := 0; i < 1000; i++ {
		ms := in.uniformMillis(10, 20)
		if ms < 10 || ms > 20 {
			t.Fatalf("uniformMillis(10, 20) = %d, out of bounds", ms)
		}
	}
}

func TestUniformMillisSinglePointRange(t *testing.T) {
	in := &Instance{delayRNG: prng.Seed(1)}
	if ms := in.uniformMillis(7, 7); ms != 7 {
		t.Fatalf("uniformMillis(7, 7) = %d, want 7", ms)
	}
}

func TestFailParserCountsSeparatelyFromFailConn(t *testing.T) {
	in := &Instance{tmpl: &config.Template{ReqsMax: 1}, fd: -1, reqsTotal: 1}
	in.failParser(nil)
	if in.Stats.ParserErrors != 1 {
		t.Fatalf("expected 1 parser error, got %d", in.Stats.ParserErrors)
	}
	if in.Stats.ConnFailures != 0 {
		t.Fatalf("expected failParser not to touch ConnFailures, got %d", in.Stats.ConnFailures)
	}

	in2 := &Instance{tmpl: &config.Template{ReqsMax: 1}, fd: -1, reqsTotal: 1}
	in2.failConn(nil)
	if in2.Stats.ConnFailures != 1 {
		t.Fatalf("expected 1 conn failure, got %d", in2.Stats.ConnFailures)
	}
	if in2.Stats.ParserErrors != 0 {
		t.Fatalf("expected failConn not to touch ParserErrors, got %d", in2.Stats.ParserErrors)
	}
}

func TestWireCookieCaptureAccumulatesAcrossHeaders(t *testing.T) {
	in := &Instance{parser: httpparse.New()}
	in.wireCookieCapture()

	in.parser.OnHeaderValue("Set-Cookie", "a=1; Path=/")
	in.parser.OnHeaderValue("Set-Cookie", "b=2; Path=/")

	if in.cookieJar != "a=1; b=2" {
		t.Fatalf("expected accumulated jar %q, got %q", "a=1; b=2", in.cookieJar)
	}
}

func TestLoadNextBodySegmentStreamsBoundedChunks(t *testing.T) {
	// A body far larger than a single chunk must be streamed across
	// multiple bounded segments, never rendered whole into writeBuf.
	bodyBuf := make([]byte, 16)
	for i := range bodyBuf {
		bodyBuf[i] = 'x'
	}
	in := &Instance{
		data:          &TemplateData{BodyBuf: bodyBuf},
		bodyBytesLeft: uint64(chunkSize)*2 + 5,
	}

	segments := 0
	for in.loadNextBodySegment() {
		segments++
		if len(in.writeBuf) > chunkSize+32 {
			t.Fatalf("segment %d exceeded chunkSize bound: %d bytes", segments, len(in.writeBuf))
		}
	}
	if segments != 3 {
		t.Fatalf("expected 3 bounded segments for 2*chunkSize+5 bytes, got %d", segments)
	}
	if in.bodyBytesLeft != 0 {
		t.Fatalf("expected bodyBytesLeft to reach 0, got %d", in.bodyBytesLeft)
	}
}

func TestLoadNextBodySegmentFalseWithNoBody(t *testing.T) {
	in := &Instance{data: &TemplateData{}}
	if in.loadNextBodySegment() {
		t.Fatal("expected no segment to load when bodyBytesLeft is 0")
	}
}

func TestNewTemplateDataRendersRandomBodyOnce(t *testing.T) {
	tmpl := &config.Template{
		Index: 5,
		Host:  "h", Port: 80, Method: "GET", Path: "/",
		Body: config.Body{Type: config.BodyRandom, Size: 128},
	}
	td := NewTemplateData(tmpl)
	if len(td.BodyBuf) != 128 {
		t.Fatalf("expected 128-byte body buffer, got %d", len(td.BodyBuf))
	}

	td2 := NewTemplateData(tmpl)
	if string(td.BodyBuf) != string(td2.BodyBuf) {
		t.Fatal("expected deterministic PRNG fill for the same template index")
	}
}

func TestNewTemplateDataContentBodyHasNoBuffer(t *testing.T) {
	tmpl := &config.Template{
		Host: "h", Port: 80, Method: "GET", Path: "/",
		Body: config.Body{Type: config.BodyContent, Content: "x"},
	}
	td := NewTemplateData(tmpl)
	if td.BodyBuf != nil {
		t.Fatal("expected no body buffer for a content body")
	}
}
