// Command taskgraph compiles task graphs described in HCL files and runs
// them on a headless device.
//
// Usage:
//
//	taskgraph [flags] file.hcl...
//
// Every graph of the files is compiled, executed -n times and dumped. The
// noop backend runs the graph through the wgpu HAL; the trace backend
// records the commands and prints them with -trace.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/gogpu/taskgraph"
	"github.com/gogpu/taskgraph/backend"
	_ "github.com/gogpu/taskgraph/backend/native"
	"github.com/gogpu/taskgraph/device"
	"github.com/gogpu/taskgraph/internal/config"
	_ "github.com/gogpu/taskgraph/internal/fakedevice"
)

func main() {
	log.SetFlags(0)
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("taskgraph: %v", err)
	}
}

type options struct {
	backend    string
	graph      string
	executions int
	trace      bool
	verbose    bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("taskgraph", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.backend, "backend", "", "device backend, one of "+strings.Join(backend.Available(), ", ")+" (default: best available)")
	fs.StringVar(&opts.graph, "graph", "", "run only the named graph")
	fs.IntVar(&opts.executions, "n", 1, "executions per graph")
	fs.BoolVar(&opts.trace, "trace", false, "print the command trace (trace backend)")
	fs.BoolVar(&opts.verbose, "v", false, "log debug records to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no graph files given")
	}
	if opts.executions < 0 {
		return fmt.Errorf("-n must not be negative, got %d", opts.executions)
	}

	if opts.verbose {
		taskgraph.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		defer taskgraph.SetLogger(nil)
	}

	file, err := config.Load(fs.Args()...)
	if err != nil {
		return err
	}
	graphs := file.Graphs
	if opts.graph != "" {
		g := file.Graph(opts.graph)
		if g == nil {
			return fmt.Errorf("no graph %q", opts.graph)
		}
		graphs = []*config.Graph{g}
	}

	var b *backend.Opened
	if opts.backend == "" {
		b, err = backend.Default()
	} else {
		b, err = backend.Open(opts.backend)
	}
	if err != nil {
		return err
	}
	defer b.Close()

	tctx := taskgraph.NewContext(b.Device)
	defer tctx.Close()

	for _, g := range graphs {
		if err := runGraph(ctx, tctx, b, g, opts, stdout); err != nil {
			return err
		}
	}
	return nil
}

func runGraph(ctx context.Context, tctx *taskgraph.Context, b *backend.Opened, g *config.Graph, opts options, stdout io.Writer) error {
	newSwapchain := func(name string, info device.ImageInfo, images int) (config.AcquiringSwapchain, error) {
		return b.NewSwapchain(name, info, images)
	}
	built, err := config.Build(tctx, g, newSwapchain, nil)
	if err != nil {
		return err
	}
	defer built.Close()

	if b.ResetTrace != nil {
		b.ResetTrace()
	}
	for range opts.executions {
		if built.Swapchain != nil {
			built.Swapchain.Acquire()
		}
		if err := built.Graph.Execute(ctx, taskgraph.ExecuteInfo{}); err != nil {
			return fmt.Errorf("graph %q: %w", g.Name, err)
		}
	}
	if err := b.WaitIdle(); err != nil {
		return err
	}

	fmt.Fprint(stdout, built.Graph.DebugString())
	st := built.Graph.Stats()
	fmt.Fprintf(stdout, "executions: %d, submissions per execution: %d, patches: %d\n", st.Executions, st.Submissions, st.Patches)
	if opts.trace && b.Trace != nil {
		for _, line := range b.Trace() {
			fmt.Fprintln(stdout, line)
		}
	}
	return nil
}
