package stats

import (
	"strings"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		n    uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KiB"},
		{1536, "1.50 KiB"},
		{1 << 20, "1.00 MiB"},
		{1 << 30, "1.00 GiB"},
	}
	for _, c := range cases {
		if got := FormatBytes(c.n); got != c.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}

func TestRequestsPerSecond(t *testing.T) {
	tot := Totals{Requests: 100, Duration: 10 * time.Second}
	if got := tot.RequestsPerSecond(); got != 10 {
		t.Errorf("expected 10 req/s, got %v", got)
	}
}

func TestRequestsPerSecondZeroDuration(t *testing.T) {
	tot := Totals{Requests: 100}
	if got := tot.RequestsPerSecond(); got != 0 {
		t.Errorf("expected 0 req/s for zero duration, got %v", got)
	}
}

func TestWriteReportContainsCounters(t *testing.T) {
	var sb strings.Builder
	WriteReport(&sb, Totals{Requests: 5, Errors: 1, BytesSent: 2048, BytesRecv: 4096, Duration: time.Second})
	out := sb.String()
	for _, want := range []string{"requests:", "errors", "2.00 KiB", "4.00 KiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected report to contain %q, got:\n%s", want, out)
		}
	}
}
