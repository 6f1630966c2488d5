// Package httprequest builds two pre-rendered byte images for each
// connection template: a keep-alive image and a "Connection: close"
// image. For random bodies the body itself is never
// baked into the image; it is streamed from the PRNG buffer with chunked
// framing computed at emission time (internal/conn).
package httprequest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/loadbench/mb/internal/config"
	"github.com/loadbench/mb/internal/version"
)

// Image is a pre-rendered request with an optional cookie-splice point so
// the connection state machine can echo a cookie jar without re-rendering
// headers on every request.
type Image struct {
	Head []byte // request line + headers, each CRLF-terminated; no blank line
	Tail []byte // blank-line terminator, Content-Length/body, or chunked TE header
}

// Len returns the byte length of Head+Tail with no cookie spliced in —
// callers needing the spliced length add the Cookie header's own length.
func (img Image) Len() int { return len(img.Head) + len(img.Tail) }

// Pair holds both pre-rendered images for a template.
type Pair struct {
	KeepAlive Image
	Close     Image
}

// Build renders both images for t.
func Build(t *config.Template) Pair {
	return Pair{
		KeepAlive: buildImage(t, false),
		Close:     buildImage(t, true),
	}
}

func buildImage(t *config.Template, forceClose bool) Image {
	var head strings.Builder

	fmt.Fprintf(&head, "%s %s HTTP/1.1\r\n", t.Method, t.Path)
	fmt.Fprintf(&head, "Host: %s\r\n", hostHeader(t))

	haveUA, haveAccept, haveConn := false, false, false
	for _, kv := range t.Headers {
		switch strings.ToLower(kv.Key) {
		case "user-agent":
			haveUA = true
		case "accept":
			haveAccept = true
		case "connection":
			haveConn = true
		}
		fmt.Fprintf(&head, "%s: %s\r\n", kv.Key, kv.Value)
	}

	if !haveUA {
		fmt.Fprintf(&head, "User-Agent: %s/%s\r\n", version.ProgramName, version.Version)
	}
	if !haveAccept {
		head.WriteString("Accept: */*\r\n")
	}
	if (forceClose || t.Close.Client) && !haveConn {
		head.WriteString("Connection: close\r\n")
	}

	var tail strings.Builder
	switch t.Body.Type {
	case config.BodyRandom:
		tail.WriteString("Transfer-Encoding: chunked\r\n\r\n")
	default:
		fmt.Fprintf(&tail, "Content-Length: %d\r\n\r\n", len(t.Body.Content))
		tail.WriteString(t.Body.Content)
	}

	return Image{Head: []byte(head.String()), Tail: []byte(tail.String())}
}

// hostHeader renders "host[:port]", omitting the port when it is the
// scheme's default (80 for http, 443 for https).
func hostHeader(t *config.Template) string {
	defaultPort := 80
	if t.Scheme == config.SchemeHTTPS {
		defaultPort = 443
	}
	if t.Port == defaultPort {
		return t.Host
	}
	return t.Host + ":" + strconv.Itoa(t.Port)
}

// SortedHeaderKeys is exposed for tests that need deterministic iteration
// order when asserting on rendered headers.
func SortedHeaderKeys(hdrs []config.KeyValue) []string {
	keys := make([]string, 0, len(hdrs))
	for _, kv := range hdrs {
		keys = append(keys, kv.Key)
	}
	sort.Strings(keys)
	return keys
}
