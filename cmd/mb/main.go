// Command mb is a multi-host HTTP/1.1 load generator, reworked from the
// original C mb tool (https://github.com/jmencak/mb) onto a Go reactor
// per worker thread. Flags mirror the original's getopt_long surface;
// parsing itself follows frobware-haproxy-openshift's perf tooling in
// using github.com/alecthomas/kong instead of hand-rolled flag parsing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/loadbench/mb/internal/coordinator"
	"github.com/loadbench/mb/internal/logging"
	"github.com/loadbench/mb/internal/stats"
	"github.com/loadbench/mb/internal/tlsconn"
	"github.com/loadbench/mb/internal/version"
)

type cli struct {
	Cookies      bool              `short:"c" help:"Enable cookie capture/echo via Set-Cookie/Cookie headers."`
	Duration     int               `short:"d" required:"" help:"Total run duration, in seconds."`
	RequestFile  string            `short:"i" required:"" help:"Path to the JSON request file." type:"path"`
	ResponseFile string            `short:"o" help:"Create (or truncate) this file at startup; no response data is written to it."`
	Quiet        bool              `short:"q" help:"Suppress informational logging."`
	RampUp       int               `short:"r" help:"Spread worker thread startup over this many seconds." default:"0"`
	SSLVersion   int               `short:"s" help:"Minimum TLS version floor, 0-4 (higher is newer)." default:"4"`
	Threads      int               `short:"t" help:"Number of worker threads; 0 means one per CPU." default:"0"`
	Version      kong.VersionFlag  `short:"v" help:"Print the version and exit."`

	MetricsAddr string `help:"Serve Prometheus metrics on this address (e.g. :9090)." optional:""`
	HistoryPath string `help:"Append this run's totals to a sqlite3 history database." optional:""`
	TUI         bool   `help:"Show a live terminal dashboard instead of log lines." optional:""`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name(version.ProgramName),
		kong.Description("Multi-host HTTP/1.1 load generator."),
		kong.Vars{"version": version.ProgramName + " " + version.Version + " [" + version.Backend + "]"},
		kong.UsageOnError(),
	)

	log := logging.New(c.Quiet)

	if c.RampUp >= c.Duration {
		logging.Fatal(log, 1, fmt.Sprintf("ramp-up (%ds) must be less than duration (%ds)", c.RampUp, c.Duration))
	}
	if c.SSLVersion < 0 || c.SSLVersion > 4 {
		logging.Fatal(log, 1, fmt.Sprintf("invalid --ssl-version %d, expected 0-4", c.SSLVersion))
	}
	if err := tlsconn.ValidateVersionFlag(c.SSLVersion); err != nil {
		logging.Fatal(log, 1, err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	opts := coordinator.Options{
		RequestFile:  c.RequestFile,
		Duration:     time.Duration(c.Duration) * time.Second,
		RampUp:       time.Duration(c.RampUp) * time.Second,
		Threads:      c.Threads,
		Cookies:      c.Cookies,
		SSLVersion:   c.SSLVersion,
		ResponseFile: c.ResponseFile,
		MetricsAddr:  c.MetricsAddr,
		HistoryPath:  c.HistoryPath,
		TUI:          c.TUI,
	}

	totals, err := coordinator.Run(ctx, opts, log)
	if err != nil {
		logging.Fatal(log, 1, err.Error())
	}

	stats.WriteReport(os.Stdout, totals)
	kctx.Exit(0)
}
