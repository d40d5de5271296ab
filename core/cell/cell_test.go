package cell_test

import (
	"strings"
	"testing"

	"github.com/stormcell-dev/stormcell/core/cell"
)

func TestNewUnitIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		u := cell.NewUnit("pass", cell.OriginInteractive)
		if seen[u.ID] {
			t.Fatalf("duplicate unit id %s", u.ID)
		}
		seen[u.ID] = true
	}
}

func TestResultStreams(t *testing.T) {
	r := cell.Result{
		Outputs: []cell.Output{
			cell.StreamOutput("stdout", "a"),
			cell.StreamOutput("stderr", "warning\n"),
			cell.StreamOutput("stdout", "b"),
		},
		Status: cell.StatusOK,
	}

	if got := r.Stdout(); got != "ab" {
		t.Errorf("Stdout() = %q, want %q", got, "ab")
	}
	if got := r.Stderr(); got != "warning\n" {
		t.Errorf("Stderr() = %q, want %q", got, "warning\n")
	}
}

func TestResultErr(t *testing.T) {
	r := cell.Result{Status: cell.StatusOK}
	if r.Err() != nil {
		t.Error("expected nil error output for clean result")
	}

	r = cell.Result{
		Outputs: []cell.Output{
			cell.StreamOutput("stdout", "partial"),
			cell.ErrorOutput("NameError", "name 'x' is not defined", []string{"tb"}),
		},
		Status: cell.StatusError,
	}

	errOut := r.Err()
	if errOut == nil {
		t.Fatal("expected an error output")
	}
	if errOut.Ename != "NameError" {
		t.Errorf("Ename = %q, want NameError", errOut.Ename)
	}
}

func TestTextSummaryTruncation(t *testing.T) {
	long := strings.Repeat("x", 500)
	r := cell.Result{Outputs: []cell.Output{cell.StreamOutput("stdout", long)}}

	got := r.TextSummary(100)
	if len([]rune(got)) != 101 { // 100 runes plus ellipsis
		t.Errorf("summary length = %d runes, want 101", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated summary should end with ellipsis")
	}

	if got := r.TextSummary(0); got != long {
		t.Error("limit 0 should disable truncation")
	}
}

func TestTextSummaryIncludesErrorLine(t *testing.T) {
	r := cell.Result{
		Outputs: []cell.Output{
			cell.ErrorOutput("ValueError", "bad input", []string{"t1", "t2"}),
		},
	}
	got := r.TextSummary(200)
	if got != "ValueError: bad input" {
		t.Errorf("TextSummary() = %q", got)
	}
}
