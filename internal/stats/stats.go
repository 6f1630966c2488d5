// Package stats aggregates per-connection counters into a run-level
// report, the Go analogue of the original's stats_print()/format_bytes()
// in mb.c.
package stats

import (
	"fmt"
	"io"
	"time"

	"github.com/loadbench/mb/internal/conn"
)

// Totals is the sum of every Instance's Stats once a run has joined.
type Totals struct {
	Requests     uint64
	Errors       uint64
	BytesSent    uint64
	BytesRecv    uint64
	Connects     uint64
	Reconnects   uint64
	ConnFailures uint64
	ParserErrors uint64
	Duration     time.Duration
}

// Sum adds every instance's counters into a Totals.
func Sum(instances []*conn.Instance, duration time.Duration) Totals {
	var t Totals
	t.Duration = duration
	for _, in := range instances {
		s := in.Stats
		t.Requests += s.Requests
		t.Errors += s.Errors
		t.BytesSent += s.BytesSent
		t.BytesRecv += s.BytesRecv
		t.Connects += s.Connects
		t.Reconnects += s.Reconnects
		t.ConnFailures += s.ConnFailures
		t.ParserErrors += s.ParserErrors
	}
	return t
}

// RequestsPerSecond is the run's throughput, 0 if Duration is 0.
func (t Totals) RequestsPerSecond() float64 {
	if t.Duration <= 0 {
		return 0
	}
	return float64(t.Requests) / t.Duration.Seconds()
}

// FormatBytes renders n using binary (1024) prefixes, matching the
// original's format_bytes(): B, KiB, MiB, GiB, TiB.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	suffixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}
	return fmt.Sprintf("%.2f %s", float64(n)/float64(div), suffixes[exp])
}

// WriteReport renders a human-readable end-of-run summary to w (normally
// stdout alongside the structured log).
func WriteReport(w io.Writer, t Totals) {
	fmt.Fprintf(w, "duration:          %s\n", t.Duration)
	fmt.Fprintf(w, "requests:          %d\n", t.Requests)
	fmt.Fprintf(w, "requests/sec:      %.2f\n", t.RequestsPerSecond())
	fmt.Fprintf(w, "errors (>=400):    %d\n", t.Errors)
	fmt.Fprintf(w, "connects:          %d\n", t.Connects)
	fmt.Fprintf(w, "reconnects:        %d\n", t.Reconnects)
	fmt.Fprintf(w, "connect failures:  %d\n", t.ConnFailures)
	fmt.Fprintf(w, "parser errors:     %d\n", t.ParserErrors)
	fmt.Fprintf(w, "bytes sent:        %s\n", FormatBytes(t.BytesSent))
	fmt.Fprintf(w, "bytes received:    %s\n", FormatBytes(t.BytesRecv))
}
