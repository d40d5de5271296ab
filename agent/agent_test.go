package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormcell-dev/stormcell/core/cell"
	"github.com/stormcell-dev/stormcell/history"
)

type fakeClient struct {
	response string
	err      error
	prompts  []string
}

func (c *fakeClient) Generate(ctx context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.response, c.err
}

const planJSON = `{"message": "load and plot", "cells": [
	{"id": 1, "description": "load", "code": "import pandas as pd\ndf = pd.read_csv('data.csv')"},
	{"id": 2, "description": "empty step", "code": "   "},
	{"id": 3, "description": "plot", "code": "df.plot()"}
]}`

func TestPlanParsesStrictJSON(t *testing.T) {
	client := &fakeClient{response: planJSON}
	planner := NewPlanner(client, Config{})

	units, err := planner.Plan(context.Background(), "plot the csv", "")
	require.NoError(t, err)

	// Blank-code cells are dropped.
	require.Len(t, units, 2)
	assert.Contains(t, units[0].Code, "read_csv")
	assert.Equal(t, "df.plot()", units[1].Code)
	for _, u := range units {
		assert.Equal(t, cell.OriginPlan, u.Origin)
	}

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "plot the csv")
}

func TestPlanToleratesFencesAndProse(t *testing.T) {
	responses := []string{
		"```json\n" + planJSON + "\n```",
		"Here is the plan:\n" + planJSON + "\nLet me know!",
	}
	for _, response := range responses {
		planner := NewPlanner(&fakeClient{response: response}, Config{})
		units, err := planner.Plan(context.Background(), "goal", "")
		require.NoError(t, err)
		assert.Len(t, units, 2)
	}
}

func TestPlanIncludesSessionContext(t *testing.T) {
	client := &fakeClient{response: planJSON}
	planner := NewPlanner(client, Config{})

	_, err := planner.Plan(context.Background(), "goal", "df holds the loaded csv")
	require.NoError(t, err)
	assert.Contains(t, client.prompts[0], "df holds the loaded csv")
}

func TestPlanFallbackEmpty(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
	}{
		{"client error", &fakeClient{err: errors.New("connection refused")}},
		{"garbage response", &fakeClient{response: "I cannot help with that."}},
		{"broken json", &fakeClient{response: `{"message": "x", "cells": [}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planner := NewPlanner(tt.client, Config{})
			units, err := planner.Plan(context.Background(), "goal", "")
			require.NoError(t, err)
			assert.Empty(t, units)
		})
	}
}

func TestPlanFallbackError(t *testing.T) {
	planner := NewPlanner(&fakeClient{err: errors.New("connection refused")}, Config{Fallback: FallbackError})
	_, err := planner.Plan(context.Background(), "goal", "")
	require.ErrorIs(t, err, ErrPlanFailed)
}

func errorBundle(ename, evalue string) history.Bundle {
	out := cell.ErrorOutput(ename, evalue, []string{ename + ": " + evalue})
	return history.Bundle{
		Entries:     []history.Entry{{Code: "x + 1", Status: cell.StatusError}},
		FailingCode: "x + 1",
		Status:      cell.StatusError,
		Error:       &out,
	}
}

func TestSuggestFixUsesModelAnswer(t *testing.T) {
	client := &fakeClient{response: "  Define x before adding to it.  "}
	d := NewDebugger(client)

	fix, err := d.SuggestFix(context.Background(), errorBundle("NameError", "name 'x' is not defined"))
	require.NoError(t, err)
	assert.Equal(t, "Define x before adding to it.", fix)

	// Prompt carries the failing code and the verbatim error.
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "x + 1")
	assert.Contains(t, client.prompts[0], "NameError: name 'x' is not defined")
}

func TestSuggestFixFallsBackToHeuristics(t *testing.T) {
	d := NewDebugger(&fakeClient{err: errors.New("model unavailable")})

	fix, err := d.SuggestFix(context.Background(), errorBundle("ModuleNotFoundError", "No module named 'pandas'"))
	require.NoError(t, err)
	assert.Contains(t, fix, "not installed")
}

func TestSuggestFixWithoutClient(t *testing.T) {
	d := NewDebugger(nil)

	fix, err := d.SuggestFix(context.Background(), errorBundle("ZeroDivisionError", "division by zero"))
	require.NoError(t, err)
	assert.Contains(t, fix, "divisor")

	// Unknown errors and missing error output yield no suggestion.
	fix, err = d.SuggestFix(context.Background(), errorBundle("WeirdCustomError", "?"))
	require.NoError(t, err)
	assert.Empty(t, fix)

	fix, err = d.SuggestFix(context.Background(), history.Bundle{Status: cell.StatusTimeout})
	require.NoError(t, err)
	assert.Empty(t, fix)
}

func TestNewOllamaClientRejectsBadHost(t *testing.T) {
	_, err := NewOllamaClient(Config{Host: "://not-a-url"})
	require.ErrorIs(t, err, ErrBadHost)
}

func TestConfigMergeDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(&Config{Model: "llama3.2"})
	assert.Equal(t, "llama3.2", cfg.Model)
	assert.Equal(t, defaultHost, cfg.Host)
	assert.Equal(t, FallbackEmpty, cfg.Fallback)
}
