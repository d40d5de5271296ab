package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/stormcell-dev/stormcell/agent"
	"github.com/stormcell-dev/stormcell/config"
	"github.com/stormcell-dev/stormcell/core/cell"
	"github.com/stormcell-dev/stormcell/history"
	"github.com/stormcell-dev/stormcell/kernel"
	"github.com/stormcell-dev/stormcell/logbook"
	"github.com/stormcell-dev/stormcell/observability"
	"github.com/stormcell-dev/stormcell/queue"
	"github.com/stormcell-dev/stormcell/workflow"
)

// app wires the components one command invocation needs. The kernel
// subprocess and the logbook are only brought up for commands that execute
// code. The pending queue and the recent history load from the state
// directory on startup and save back on close, so queue and history
// commands compose across invocations.
type app struct {
	cfg      config.Config
	observer observability.Observer

	queue    *queue.Queue
	pending  *queue.Store
	recorder *history.Recorder
	store    *workflow.Store
	planner  *agent.Planner
	debugger *agent.Debugger

	session *kernel.Session
	book    *logbook.Book
	sigc    chan os.Signal
}

func newApp(ctx context.Context, withKernel bool) (*app, error) {
	cfg := config.DefaultConfig()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	observer, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		return nil, err
	}

	client, err := agent.NewOllamaClient(cfg.Agent)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		observer: observer,
		queue:    queue.New(queue.WithObserver(observer)),
		pending:  queue.NewStore(cfg.StateDir),
		recorder: history.NewRecorder(cfg.History),
		store:    workflow.NewStore(cfg.Workflow.Dir),
		planner:  agent.NewPlanner(client, cfg.Agent, agent.WithPlannerObserver(observer)),
		debugger: agent.NewDebugger(client),
	}

	units, err := a.pending.Load()
	if err != nil {
		return nil, err
	}
	a.queue.EnqueueAll(units)
	if err := a.recorder.Load(a.historyPath()); err != nil {
		return nil, err
	}

	if withKernel {
		a.session, err = kernel.New(ctx, cfg.Kernel, kernel.WithObserver(observer))
		if err != nil {
			return nil, err
		}
		a.book, err = logbook.Open(cfg.Logbook)
		if err != nil {
			a.session.Shutdown() //nolint:errcheck
			return nil, err
		}

		// Ctrl-C interrupts the current execution instead of killing the
		// process; the session escalates to a restart on its own if the
		// kernel ignores the interrupt.
		a.sigc = make(chan os.Signal, 1)
		signal.Notify(a.sigc, os.Interrupt)
		go func() {
			for range a.sigc {
				fmt.Fprintln(os.Stderr, "interrupting current execution")
				a.session.Interrupt(context.Background()) //nolint:errcheck
			}
		}()
	}
	return a, nil
}

func (a *app) historyPath() string {
	return filepath.Join(a.cfg.StateDir, "history.json")
}

func (a *app) close() {
	if a.sigc != nil {
		signal.Stop(a.sigc)
		close(a.sigc)
	}
	if err := a.pending.Save(a.queue.Pending()); err != nil {
		slog.Warn("persist pending queue", "error", err)
	}
	if err := a.recorder.Save(a.historyPath()); err != nil {
		slog.Warn("persist history", "error", err)
	}
	if a.book != nil {
		a.book.Finish() //nolint:errcheck
	}
	if a.session != nil {
		a.session.Shutdown() //nolint:errcheck
	}
}

// drain runs everything pending in q against the session, printing and
// recording each result, and prints a fix suggestion when the drain stops on
// a failure.
func (a *app) drain(ctx context.Context, q *queue.Queue) error {
	report, err := q.Drain(ctx, a.session, queue.DrainOptions{
		ContinueOnError: a.cfg.Queue.ContinueOnError,
		OnResult: func(r cell.Result) {
			a.recorder.Record(r)
			if a.book != nil {
				a.book.LogResult(r) //nolint:errcheck
			}
			printResult(r)
		},
	})
	if err != nil {
		return err
	}

	if report.Stopped && len(report.Results) > 0 {
		failing := report.Results[len(report.Results)-1]
		if fix, _ := a.debugger.SuggestFix(ctx, a.recorder.BuildDiagnostic(failing)); fix != "" {
			fmt.Printf("\nsuggestion: %s\n", fix)
		}
	}
	return nil
}

func printResult(r cell.Result) {
	fmt.Printf("[%s] %s (%.2fs)\n", r.Status, firstLine(r.Unit.Code), r.Duration.Seconds())

	if out := r.Stdout(); out != "" {
		fmt.Print(ensureNewline(out))
	}
	if out := r.Stderr(); out != "" {
		fmt.Fprint(os.Stderr, ensureNewline(out))
	}
	if errOut := r.Err(); errOut != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", errOut.Ename, errOut.Evalue)
		if flagVerbose {
			fmt.Fprintln(os.Stderr, strings.Join(errOut.Traceback, "\n"))
		}
	}
}

func firstLine(code string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(code), "\n")
	const max = 60
	if runes := []rune(line); len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return line
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
