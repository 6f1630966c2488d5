// Package coordinator wires together config loading, connection
// instantiation, worker fan-out and joining, and final stats reporting —
// the Go analogue of the original's main()/threads_start()/stats_print()
// sequence in mb.c. Worker fan-out uses golang.org/x/sync/errgroup, the
// same dependency frobware-haproxy-openshift's perf tooling uses to join
// goroutines.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/loadbench/mb/internal/conn"
	"github.com/loadbench/mb/internal/config"
	"github.com/loadbench/mb/internal/historydb"
	"github.com/loadbench/mb/internal/progress"
	"github.com/loadbench/mb/internal/reactor"
	"github.com/loadbench/mb/internal/resolve"
	"github.com/loadbench/mb/internal/stats"
	"github.com/loadbench/mb/internal/worker"
)

// Options configures a single run, populated from cmd/mb's CLI flags.
type Options struct {
	RequestFile  string
	Duration     time.Duration
	RampUp       time.Duration
	Threads      int // 0 means runtime.NumCPU()
	Cookies      bool
	SSLVersion   int
	ResponseFile string
	MetricsAddr  string
	HistoryPath  string
	TUI          bool
}

// Run executes one full benchmark run and returns its aggregate totals.
func Run(ctx context.Context, opts Options, log zerolog.Logger) (stats.Totals, error) {
	templates, err := config.Load(opts.RequestFile)
	if err != nil {
		return stats.Totals{}, fmt.Errorf("coordinator: %w", err)
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	pending := expand(templates)
	if len(pending) == 0 {
		return stats.Totals{}, fmt.Errorf("coordinator: no connections to run")
	}
	if threads > len(pending) {
		threads = len(pending)
	}

	runFlag := worker.NewRunFlag(len(pending))
	resolver := resolve.New()

	var respFile *os.File
	if opts.ResponseFile != "" {
		respFile, err = os.Create(opts.ResponseFile)
		if err != nil {
			return stats.Totals{}, fmt.Errorf("coordinator: response file: %w", err)
		}
		defer respFile.Close()
	}

	workers, instances, err := buildWorkers(pending, threads, resolver, runFlag, opts)
	if err != nil {
		return stats.Totals{}, err
	}

	for _, in := range instances {
		if err := in.ResolveAddr(ctx); err != nil {
			return stats.Totals{}, fmt.Errorf("coordinator: resolve: %w", err)
		}
	}

	defer func() {
		for _, w := range workers {
			w.Close()
		}
	}()

	start := time.Now()
	deadline := start.Add(opts.Duration)

	g, gctx := errgroup.WithContext(ctx)
	stagger := time.Duration(0)
	if threads > 1 {
		stagger = opts.RampUp / time.Duration(threads)
	}
	for i, w := range workers {
		w := w
		if i > 0 && stagger > 0 {
			time.Sleep(stagger)
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	go runFlag.WaitAllDoneOrDeadline(len(pending), deadline)

	if opts.MetricsAddr != "" {
		exp := stats.NewExporter()
		go serveMetrics(log, opts.MetricsAddr, exp, instances, deadline)
	}

	if opts.TUI {
		go func() {
			_ = progress.Run(func() stats.Totals {
				return stats.Sum(instances, time.Since(start))
			}, deadline)
		}()
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker exited with error")
	}

	totals := stats.Sum(instances, time.Since(start))

	if opts.HistoryPath != "" {
		if err := recordHistory(opts.HistoryPath, start, opts.RequestFile, totals); err != nil {
			log.Warn().Err(err).Msg("failed to record run history")
		}
	}

	return totals, nil
}

// pendingInstance is one connection not yet bound to a worker's reactor.
type pendingInstance struct {
	index int
	data  *conn.TemplateData
}

// expand turns Templates (each possibly with Clients > 1) into the flat
// list of connections the run will actually open, assigning each a
// globally unique index used for PRNG seeding and stats identity.
func expand(templates []*config.Template) []pendingInstance {
	var out []pendingInstance
	idx := 0
	for _, t := range templates {
		data := conn.NewTemplateData(t)
		n := t.Clients
		if n < 1 {
			n = 1
		}
		for c := 0; c < n; c++ {
			out = append(out, pendingInstance{index: idx, data: data})
			idx++
		}
	}
	return out
}

// buildWorkers partitions pending across threads (the last thread
// absorbing any remainder, per the original's thread_main), creating one
// reactor.Loop and conn.Instance set per thread.
func buildWorkers(pending []pendingInstance, threads int, resolver *resolve.Cache, runFlag *worker.RunFlag, opts Options) ([]*worker.Worker, []*conn.Instance, error) {
	base := len(pending) / threads
	remainder := len(pending) % threads

	var workers []*worker.Worker
	var all []*conn.Instance

	start := 0
	for i := 0; i < threads; i++ {
		size := base
		if i == threads-1 {
			size += remainder
		}
		slice := pending[start : start+size]
		start += size

		loop, err := reactor.New()
		if err != nil {
			return nil, nil, fmt.Errorf("coordinator: reactor for worker %d: %w", i, err)
		}

		instances := make([]*conn.Instance, 0, len(slice))
		for _, p := range slice {
			in := conn.New(p.index, p.data, loop, resolver, runFlag, opts.Cookies, opts.SSLVersion)
			instances = append(instances, in)
		}

		all = append(all, instances...)
		workers = append(workers, worker.New(i, loop, instances, runFlag))
	}

	return workers, all, nil
}

func recordHistory(path string, start time.Time, requestFile string, totals stats.Totals) error {
	db, err := historydb.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.RecordRun(start, requestFile, totals)
}
