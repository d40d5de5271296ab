package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormcell-dev/stormcell/core/cell"
	"github.com/stormcell-dev/stormcell/history"
)

type fakePlanner struct {
	units []cell.Unit
	err   error
	goals []string
}

func (p *fakePlanner) Plan(ctx context.Context, goal, context string) ([]cell.Unit, error) {
	p.goals = append(p.goals, goal)
	return p.units, p.err
}

type fakeExecutor struct {
	mu       sync.Mutex
	statuses map[string]cell.Status
	executed []string
}

func (e *fakeExecutor) Execute(ctx context.Context, unit cell.Unit) (cell.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, unit.Code)

	status := cell.StatusOK
	outputs := []cell.Output{cell.StreamOutput("stdout", "ok\n")}
	if s, ok := e.statuses[unit.Code]; ok {
		status = s
		outputs = []cell.Output{cell.ErrorOutput("RuntimeError", "boom", []string{"RuntimeError: boom"})}
	}
	return cell.Result{Unit: unit, Outputs: outputs, Status: status}, nil
}

type fakeAdvisor struct {
	suggestion string
	err        error
	bundles    []history.Bundle
}

func (a *fakeAdvisor) SuggestFix(ctx context.Context, bundle history.Bundle) (string, error) {
	a.bundles = append(a.bundles, bundle)
	return a.suggestion, a.err
}

func TestRunAllStepsComplete(t *testing.T) {
	planner := &fakePlanner{units: []cell.Unit{
		cell.NewUnit("step-one", cell.OriginPlan),
		cell.NewUnit("step-two", cell.OriginPlan),
	}}
	exec := &fakeExecutor{}
	runner := NewRunner(planner, exec)

	wf := testWorkflow(t, "setup")
	require.NoError(t, wf.AppendStep(PlanStep("analyze", "data is loaded")))

	report, err := runner.Run(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Completed)
	assert.Nil(t, report.FailedStep)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, []string{"setup", "step-one", "step-two"}, exec.executed)
	assert.Equal(t, []string{"analyze"}, planner.goals)
}

func TestRunStopsAtFailingStep(t *testing.T) {
	exec := &fakeExecutor{statuses: map[string]cell.Status{"bad": cell.StatusError}}
	recorder := history.NewRecorder(history.Config{})
	advisor := &fakeAdvisor{suggestion: "define the variable before using it"}
	runner := NewRunner(nil, exec, WithRecorder(recorder), WithAdvisor(advisor))

	wf := testWorkflow(t, "good", "bad", "never")

	report, err := runner.Run(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Completed)
	require.NotNil(t, report.FailedStep)
	assert.Equal(t, 1, *report.FailedStep)
	assert.Equal(t, "define the variable before using it", report.Suggestion)
	assert.Equal(t, []string{"good", "bad"}, exec.executed)

	// The advisor saw the failing result with its error intact.
	require.Len(t, advisor.bundles, 1)
	assert.Equal(t, "bad", advisor.bundles[0].FailingCode)
	require.NotNil(t, advisor.bundles[0].Error)
	assert.Equal(t, "RuntimeError", advisor.bundles[0].Error.Ename)
}

func TestRunAdvisorFailureCostsOnlySuggestion(t *testing.T) {
	exec := &fakeExecutor{statuses: map[string]cell.Status{"bad": cell.StatusError}}
	recorder := history.NewRecorder(history.Config{})
	advisor := &fakeAdvisor{err: errors.New("model unavailable")}
	runner := NewRunner(nil, exec, WithRecorder(recorder), WithAdvisor(advisor))

	wf := testWorkflow(t, "bad")
	report, err := runner.Run(context.Background(), wf)
	require.NoError(t, err)
	require.NotNil(t, report.FailedStep)
	assert.Empty(t, report.Suggestion)
}

func TestRunPlannerErrorAborts(t *testing.T) {
	boom := errors.New("model unavailable")
	runner := NewRunner(&fakePlanner{err: boom}, &fakeExecutor{})

	wf := testWorkflow(t)
	require.NoError(t, wf.AppendStep(PlanStep("analyze", "")))

	_, err := runner.Run(context.Background(), wf)
	require.ErrorIs(t, err, boom)
}

func TestRunEmptyPlanCompletesStep(t *testing.T) {
	runner := NewRunner(&fakePlanner{}, &fakeExecutor{})

	wf := testWorkflow(t)
	require.NoError(t, wf.AppendStep(PlanStep("nothing to do", "")))

	report, err := runner.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Nil(t, report.FailedStep)
}

func TestRunWithoutPlannerRejectsPlanSteps(t *testing.T) {
	runner := NewRunner(nil, &fakeExecutor{})

	wf := testWorkflow(t)
	require.NoError(t, wf.AppendStep(PlanStep("analyze", "")))

	_, err := runner.Run(context.Background(), wf)
	require.ErrorIs(t, err, ErrNoPlanner)
}

func TestRunRejectsUnresolvedPathStep(t *testing.T) {
	runner := NewRunner(nil, &fakeExecutor{})

	wf := testWorkflow(t)
	require.NoError(t, wf.AppendStep(Step{Type: StepExecute, Path: "setup.py"}))

	_, err := runner.Run(context.Background(), wf)
	require.ErrorIs(t, err, ErrInvalidStep)
}
