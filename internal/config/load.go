package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// maxClientsPerTemplate bounds the "clients" multiplier so a single
// malformed request file cannot exhaust memory, mirroring the original's
// MB_MAX_CLIENTS guard in json_process_connection.
const maxClientsPerTemplate = 4096

// LoadError is a fatal configuration error, named the way the original's
// die(EXIT_FAILURE, "invalid input request file, key %s\n", k) calls are.
type LoadError struct {
	msg string
}

func (e *LoadError) Error() string { return e.msg }

func fail(format string, args ...any) error {
	return &LoadError{msg: fmt.Sprintf(format, args...)}
}

// rawConnection mirrors the JSON object shape before type-checked decoding
// into Template; every field is a json.RawMessage / map so that unknown
// keys can be detected (encoding/json's default decode silently drops
// unknown keys, so we decode into map[string]json.RawMessage first and
// consume keys one at a time, exactly like json_process_connection's
// iterate-over-object-keys loop, failing on leftovers).
type rawConnection map[string]json.RawMessage

// Load reads, strips comments from (via jsonc, a tolerant superset of
// strict JSON), parses and validates the request file, returning one
// Template per array element. A Template's Clients field records its
// "clients" multiplier; expanding that into individual connection
// Instances is internal/coordinator's job, since the Instances that share
// a Template also share its byte images and PRNG body buffer
// (internal/conn's TemplateData).
func Load(path string) ([]*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fail("file `%s' not found or unreadable: %v", path, err)
	}
	data = jsonc.ToJSON(data)

	var arr []rawConnection
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fail("invalid input request file: %v", err)
	}
	if len(arr) == 0 {
		return nil, fail("no requests found in the input request file")
	}

	out := make([]*Template, 0, len(arr))
	for i, raw := range arr {
		tmpl, err := processConnection(raw)
		if err != nil {
			return nil, fail("invalid input request file (array %d): %v", i, err)
		}
		tmpl.Index = i
		out = append(out, tmpl)
	}

	return out, nil
}

func processConnection(raw rawConnection) (*Template, error) {
	t := &Template{
		Method:  "GET",
		Path:    "/",
		Scheme:  SchemeHTTP,
		Clients: 1,
	}

	take := func(k string) (json.RawMessage, bool) {
		v, ok := raw[k]
		if ok {
			delete(raw, k)
		}
		return v, ok
	}

	if v, ok := take("host"); ok {
		if err := json.Unmarshal(v, &t.Host); err != nil {
			return nil, fail("string expected for host")
		}
	}
	if v, ok := take("host_from"); ok {
		if err := json.Unmarshal(v, &t.HostFrom); err != nil {
			return nil, fail("string expected for host_from")
		}
	}
	if v, ok := take("port"); ok {
		if err := json.Unmarshal(v, &t.Port); err != nil {
			return nil, fail("integer expected for port")
		}
	}
	if v, ok := take("scheme"); ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fail("string expected for scheme")
		}
		switch s {
		case "http":
			t.Scheme = SchemeHTTP
		case "https":
			t.Scheme = SchemeHTTPS
		default:
			return nil, fail("invalid scheme %s", s)
		}
	}
	if v, ok := take("method"); ok {
		if err := json.Unmarshal(v, &t.Method); err != nil {
			return nil, fail("string expected for method")
		}
	}
	if v, ok := take("path"); ok {
		if err := json.Unmarshal(v, &t.Path); err != nil {
			return nil, fail("string expected for path")
		}
	}
	if v, ok := take("headers"); ok {
		hdrs, err := decodeHeaders(v)
		if err != nil {
			return nil, err
		}
		t.Headers = hdrs
	}
	if v, ok := take("body"); ok {
		body, err := decodeBody(v)
		if err != nil {
			return nil, err
		}
		t.Body = body
	}
	if v, ok := take("delay"); ok {
		d, err := decodeDelay(v)
		if err != nil {
			return nil, err
		}
		t.Delay = d
	}
	if v, ok := take("tcp"); ok {
		ka, err := decodeTCP(v)
		if err != nil {
			return nil, err
		}
		t.TCPKeepAlive = ka
	}
	if v, ok := take("close"); ok {
		c, err := decodeClose(v)
		if err != nil {
			return nil, err
		}
		t.Close = c
	}
	if v, ok := take("max-requests"); ok {
		var n int64
		if err := json.Unmarshal(v, &n); err != nil {
			return nil, fail("integer expected for max-requests")
		}
		if n < 0 {
			return nil, fail("max-requests must be >= 0")
		}
		t.ReqsMax = uint64(n)
	}
	if v, ok := take("keep-alive-requests"); ok {
		var n int64
		if err := json.Unmarshal(v, &n); err != nil {
			return nil, fail("integer expected for keep-alive-requests")
		}
		if n < 0 {
			return nil, fail("keep-alive-requests must be >= 0")
		}
		t.KeepAliveReqs = uint64(n)
	}
	if v, ok := take("tls-session-reuse"); ok {
		if err := json.Unmarshal(v, &t.TLSSessionReuse); err != nil {
			return nil, fail("boolean expected for tls-session-reuse")
		}
	}
	if v, ok := take("clients"); ok {
		if err := json.Unmarshal(v, &t.Clients); err != nil {
			return nil, fail("integer expected for clients")
		}
		if t.Clients > maxClientsPerTemplate {
			return nil, fail("too many clients specified for a request (%d > %d)", t.Clients, maxClientsPerTemplate)
		}
		if t.Clients < 1 {
			t.Clients = 1
		}
	}
	if v, ok := take("ramp-up"); ok {
		var n int64
		if err := json.Unmarshal(v, &n); err != nil {
			return nil, fail("integer expected for ramp-up time")
		}
		t.RampUp = uint64(n)
	}

	for k := range raw {
		return nil, fail("invalid input request file, key %s", k)
	}

	if t.Host == "" {
		return nil, fail("invalid input request file, host not defined")
	}
	if t.Port == 0 {
		return nil, fail("invalid input request file, port not defined")
	}

	return t, nil
}

func decodeHeaders(raw json.RawMessage) ([]KeyValue, error) {
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fail("string expected for headers")
	}
	// encoding/json does not preserve object key order; re-decode against
	// an ordered-keys pass so header emission order matches the input file.
	keys, err := orderedKeys(raw)
	if err != nil {
		return nil, err
	}
	out := make([]KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyValue{Key: k, Value: m[k]})
	}
	return out, nil
}

func decodeBody(raw json.RawMessage) (Body, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return Body{Type: BodyContent, Content: asString}, nil
	}

	var obj struct {
		Content *string `json:"content"`
		Size    *uint64 `json:"size"`
		Type    *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Body{}, fail("invalid input request file, body not an object or string")
	}

	b := Body{Type: BodyContent}
	if obj.Type != nil {
		switch *obj.Type {
		case "random":
			b.Type = BodyRandom
		case "content":
			b.Type = BodyContent
		default:
			return Body{}, fail("invalid body type: `%s'", *obj.Type)
		}
	}
	if obj.Content != nil {
		b.Content = *obj.Content
	}
	if obj.Size != nil {
		b.Size = *obj.Size
	}

	if b.Type == BodyRandom {
		if b.Content != "" {
			b.Content = ""
		}
		if b.Size == 0 {
			return Body{}, fail("request's body.size cannot be 0 when request's body random type is specified")
		}
	}

	return b, nil
}

func decodeDelay(raw json.RawMessage) (Delay, error) {
	var obj struct {
		Min *uint64 `json:"min"`
		Max *uint64 `json:"max"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Delay{}, fail("delay not an object")
	}
	d := Delay{}
	if obj.Min != nil {
		d.Min = *obj.Min
	}
	if obj.Max != nil {
		d.Max = *obj.Max
	}
	if d.Min > d.Max {
		return Delay{}, fail("invalid input request file, delay.min (%d) > delay.max (%d)", d.Min, d.Max)
	}
	return d, nil
}

func decodeTCP(raw json.RawMessage) (KeepAlive, error) {
	var obj struct {
		KeepAlive *struct {
			Enable *bool `json:"enable"`
			Idle   *int  `json:"idle"`
			Intvl  *int  `json:"intvl"`
			Cnt    *int  `json:"cnt"`
		} `json:"keep-alive"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return KeepAlive{}, fail("tcp not an object")
	}
	ka := KeepAlive{}
	if obj.KeepAlive != nil {
		if obj.KeepAlive.Enable != nil {
			ka.Enable = *obj.KeepAlive.Enable
		}
		if obj.KeepAlive.Idle != nil {
			ka.Idle = *obj.KeepAlive.Idle
		}
		if obj.KeepAlive.Intvl != nil {
			ka.Intvl = *obj.KeepAlive.Intvl
		}
		if obj.KeepAlive.Cnt != nil {
			ka.Cnt = *obj.KeepAlive.Cnt
		}
	}
	return ka, nil
}

func decodeClose(raw json.RawMessage) (Close, error) {
	var obj struct {
		Client *bool `json:"client"`
		Linger *int  `json:"linger"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Close{}, fail("close not an object")
	}
	c := Close{}
	if obj.Client != nil {
		c.Client = *obj.Client
	}
	if obj.Linger != nil {
		c.Linger = true
		c.LingerSec = *obj.Linger
	}
	return c, nil
}

// orderedKeys re-walks a JSON object literal to recover the source key
// order; encoding/json's map decode does not preserve it.
func orderedKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fail("string expected for headers")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fail("string expected for headers")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fail("string expected for headers")
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fail("string expected for headers")
		}
		keys = append(keys, key)

		// consume and discard the value token(s)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, fail("string expected for headers")
		}
	}
	return keys, nil
}
