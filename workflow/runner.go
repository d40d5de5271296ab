package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/stormcell-dev/stormcell/core/cell"
	"github.com/stormcell-dev/stormcell/history"
	"github.com/stormcell-dev/stormcell/observability"
	"github.com/stormcell-dev/stormcell/queue"
)

// Planner expands a goal into executable code units.
type Planner interface {
	Plan(ctx context.Context, goal, context string) ([]cell.Unit, error)
}

// Advisor produces a fix suggestion for a failing execution. Advisor
// failures never affect the run; they only cost the suggestion.
type Advisor interface {
	SuggestFix(ctx context.Context, bundle history.Bundle) (string, error)
}

// StepOutcome is one step's execution record.
type StepOutcome struct {
	Index   int
	Results []cell.Result
	Failed  bool
}

// RunReport summarizes a workflow run.
type RunReport struct {
	// Completed counts steps that finished with every unit ok.
	Completed int
	// FailedStep is the index of the step that stopped the run, nil when
	// all steps completed.
	FailedStep *int
	// Outcomes holds per-step results in step order, including the failed
	// step's partial results.
	Outcomes []StepOutcome
	// Suggestion is the advisor's fix text for the failing step, if any.
	Suggestion string
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecorder records every result into the history aggregator and enables
// diagnostic bundles for the advisor.
func WithRecorder(r *history.Recorder) RunnerOption {
	return func(rn *Runner) { rn.recorder = r }
}

// WithAdvisor sets the diagnostic collaborator consulted on step failure.
func WithAdvisor(a Advisor) RunnerOption {
	return func(rn *Runner) { rn.advisor = a }
}

// WithRunObserver sets the observer receiving workflow events.
func WithRunObserver(obs observability.Observer) RunnerOption {
	return func(rn *Runner) { rn.observer = obs }
}

// Runner executes workflows step by step against an executor, expanding plan
// steps through a planner and stopping at the first step whose units do not
// all succeed.
type Runner struct {
	planner  Planner
	executor queue.Executor
	queue    *queue.Queue
	recorder *history.Recorder
	advisor  Advisor
	observer observability.Observer
}

// NewRunner creates a runner. planner may be nil for workflows without plan
// steps.
func NewRunner(planner Planner, executor queue.Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		planner:  planner,
		executor: executor,
		queue:    queue.New(),
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the workflow's steps in order. Step failures (a unit ending
// with a non-ok status) stop the run and are reported, not returned as
// errors; errors are reserved for planner failures, unresolved steps, and
// executor-level breakdowns.
func (r *Runner) Run(ctx context.Context, wf *Workflow) (RunReport, error) {
	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventRunStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "workflow.Run",
		Data:      map[string]any{"workflow": wf.Name, "steps": len(wf.Steps)},
	})

	var report RunReport
	for i, step := range wf.Steps {
		units, err := r.expand(ctx, i, step)
		if err != nil {
			return report, err
		}
		r.queue.EnqueueAll(units)

		drain, err := r.queue.Drain(ctx, r.executor, queue.DrainOptions{OnResult: r.record})
		if err != nil {
			return report, fmt.Errorf("step %d: %w", i, err)
		}

		outcome := StepOutcome{Index: i, Results: drain.Results, Failed: drain.Stopped}
		report.Outcomes = append(report.Outcomes, outcome)

		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventStep,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "workflow.Run",
			Data:      map[string]any{"workflow": wf.Name, "step": i, "type": string(step.Type), "failed": drain.Stopped},
		})

		if drain.Stopped {
			idx := i
			report.FailedStep = &idx
			report.Suggestion = r.suggest(ctx, drain.Results)
			break
		}
		report.Completed++
	}

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventRunComplete,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "workflow.Run",
		Data:      map[string]any{"workflow": wf.Name, "completed": report.Completed, "failed": report.FailedStep != nil},
	})
	return report, nil
}

// expand turns one step into the units to enqueue.
func (r *Runner) expand(ctx context.Context, i int, step Step) ([]cell.Unit, error) {
	if err := step.Validate(); err != nil {
		return nil, fmt.Errorf("step %d: %w", i, err)
	}

	switch step.Type {
	case StepPlan:
		if r.planner == nil {
			return nil, fmt.Errorf("step %d: %w", i, ErrNoPlanner)
		}
		units, err := r.planner.Plan(ctx, step.Goal, step.Context)
		if err != nil {
			return nil, fmt.Errorf("step %d: plan: %w", i, err)
		}
		return units, nil

	case StepExecute:
		if step.Code == "" {
			// Path steps are resolved into Code by the caller before Run.
			return nil, fmt.Errorf("step %d: %w: path %q not resolved", i, ErrInvalidStep, step.Path)
		}
		return []cell.Unit{cell.NewUnit(step.Code, cell.OriginWorkflow)}, nil
	}
	return nil, fmt.Errorf("step %d: %w: unknown type %q", i, ErrInvalidStep, step.Type)
}

func (r *Runner) record(result cell.Result) {
	if r.recorder != nil {
		r.recorder.Record(result)
	}
}

// suggest consults the advisor about the step's failing result. Best effort.
func (r *Runner) suggest(ctx context.Context, results []cell.Result) string {
	if r.advisor == nil || r.recorder == nil || len(results) == 0 {
		return ""
	}

	failing := results[len(results)-1]
	if failing.Status == cell.StatusOK {
		return ""
	}

	text, err := r.advisor.SuggestFix(ctx, r.recorder.BuildDiagnostic(failing))
	if err != nil {
		return ""
	}
	return text
}
