package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stormcell-dev/stormcell/core/cell"
	"github.com/stormcell-dev/stormcell/observability"
)

// Planner event types.
const (
	EventPlan         observability.EventType = "agent.plan"
	EventPlanFallback observability.EventType = "agent.plan.fallback"
)

const planPromptTemplate = `You are a coding assistant planning Python code for a live interpreter session.
Break the goal into small, independently executable steps.

Goal: %s
%s
Respond with ONLY a JSON object in exactly this shape, no prose around it:
{"message": "<one-line summary of the plan>", "cells": [{"id": 1, "description": "<what this step does>", "code": "<python code>"}]}

Rules:
- each cell must be runnable on its own, in order
- reuse variables defined by earlier cells instead of redefining them
- no markdown, no code fences, JSON only`

// PlannedCell is one step of a generated plan.
type PlannedCell struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

// planResponse is the strict JSON document the model is asked to produce.
type planResponse struct {
	Message string        `json:"message"`
	Cells   []PlannedCell `json:"cells"`
}

// Planner expands goals into executable code units through a Client.
type Planner struct {
	client   Client
	fallback string
	observer observability.Observer
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPlannerObserver sets the observer receiving planner events.
func WithPlannerObserver(obs observability.Observer) PlannerOption {
	return func(p *Planner) { p.observer = obs }
}

// NewPlanner creates a planner with the configured fallback behavior.
func NewPlanner(client Client, cfg Config, opts ...PlannerOption) *Planner {
	merged := DefaultConfig()
	merged.Merge(&cfg)

	p := &Planner{
		client:   client,
		fallback: merged.Fallback,
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan generates code units for a goal. When generation or parsing fails,
// the configured fallback decides between an empty plan and an error.
func (p *Planner) Plan(ctx context.Context, goal, contextText string) ([]cell.Unit, error) {
	raw, err := p.client.Generate(ctx, buildPlanPrompt(goal, contextText))
	if err != nil {
		return p.degrade(ctx, goal, fmt.Errorf("generate: %w", err))
	}

	plan, err := parsePlan(raw)
	if err != nil {
		return p.degrade(ctx, goal, err)
	}

	units := make([]cell.Unit, 0, len(plan.Cells))
	for _, planned := range plan.Cells {
		if strings.TrimSpace(planned.Code) == "" {
			continue
		}
		units = append(units, cell.NewUnit(planned.Code, cell.OriginPlan))
	}

	p.observer.OnEvent(ctx, observability.Event{
		Type:      EventPlan,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "agent.Plan",
		Data:      map[string]any{"goal": goal, "units": len(units)},
	})
	return units, nil
}

func (p *Planner) degrade(ctx context.Context, goal string, cause error) ([]cell.Unit, error) {
	if p.fallback == FallbackError {
		return nil, fmt.Errorf("%w: %v", ErrPlanFailed, cause)
	}

	p.observer.OnEvent(ctx, observability.Event{
		Type:      EventPlanFallback,
		Level:     observability.LevelWarning,
		Timestamp: time.Now(),
		Source:    "agent.Plan",
		Data:      map[string]any{"goal": goal, "error": cause.Error()},
	})
	return nil, nil
}

func buildPlanPrompt(goal, contextText string) string {
	contextBlock := ""
	if strings.TrimSpace(contextText) != "" {
		contextBlock = fmt.Sprintf("Session context:\n%s\n", contextText)
	}
	return fmt.Sprintf(planPromptTemplate, goal, contextBlock)
}

// parsePlan decodes the model output, tolerating code fences and prose
// around the JSON object by cutting from the first '{' to the last '}'.
func parsePlan(raw string) (planResponse, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return planResponse{}, fmt.Errorf("no JSON object in plan response")
	}

	var plan planResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &plan); err != nil {
		return planResponse{}, fmt.Errorf("decode plan response: %w", err)
	}
	return plan, nil
}
