package logbook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stormcell-dev/stormcell/core/cell"
)

// Minimal nbformat-4 document types, just enough for notebook viewers to
// open the replay.
type notebook struct {
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
	Metadata      map[string]any `json:"metadata"`
	Cells         []notebookCell `json:"cells"`
}

type notebookCell struct {
	CellType       string           `json:"cell_type"`
	ExecutionCount *int             `json:"execution_count"`
	Metadata       map[string]any   `json:"metadata"`
	Source         []string         `json:"source"`
	Outputs        []map[string]any `json:"outputs"`
}

func renderNotebook(results []cell.Result) ([]byte, error) {
	nb := notebook{
		NBFormat:      4,
		NBFormatMinor: 5,
		Metadata: map[string]any{
			"kernelspec": map[string]any{
				"name":         "python3",
				"display_name": "Python 3",
				"language":     "python",
			},
		},
		Cells: make([]notebookCell, 0, len(results)),
	}

	for _, result := range results {
		nc := notebookCell{
			CellType: "code",
			Metadata: map[string]any{},
			Source:   sourceLines(result.Unit.Code),
			Outputs:  make([]map[string]any, 0, len(result.Outputs)),
		}
		if result.ExecutionCount > 0 {
			count := result.ExecutionCount
			nc.ExecutionCount = &count
		}
		for _, out := range result.Outputs {
			nc.Outputs = append(nc.Outputs, notebookOutput(out))
		}
		nb.Cells = append(nb.Cells, nc)
	}

	data, err := json.MarshalIndent(nb, "", " ")
	if err != nil {
		return nil, fmt.Errorf("encode notebook: %w", err)
	}
	return append(data, '\n'), nil
}

func notebookOutput(out cell.Output) map[string]any {
	switch out.Type {
	case cell.OutputStream:
		return map[string]any{
			"output_type": "stream",
			"name":        out.Name,
			"text":        sourceLines(out.Text),
		}
	case cell.OutputDisplay:
		return map[string]any{
			"output_type": "display_data",
			"data":        map[string]any{out.Kind: out.Payload},
			"metadata":    map[string]any{},
		}
	case cell.OutputError:
		return map[string]any{
			"output_type": "error",
			"ename":       out.Ename,
			"evalue":      out.Evalue,
			"traceback":   out.Traceback,
		}
	}
	return map[string]any{"output_type": "stream", "name": "stdout", "text": []string{}}
}

// sourceLines splits text the way notebook documents store it: one element
// per line, newlines kept.
func sourceLines(text string) []string {
	if text == "" {
		return []string{}
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func renderMarkdown(stem string, startedAt time.Time, summary string, results []cell.Result) []byte {
	var b strings.Builder

	if summary != "" {
		fmt.Fprintf(&b, "%s\n\n", summary)
	}
	fmt.Fprintf(&b, "# Session %s\n\nStarted %s.\n", stem, startedAt.Format(time.RFC3339))

	for i, result := range results {
		fmt.Fprintf(&b, "\n## Cell %d: %s\n\n", i+1, result.Status)
		fmt.Fprintf(&b, "```python\n%s\n```\n", strings.TrimRight(result.Unit.Code, "\n"))

		if text := result.TextSummary(0); text != "" {
			fmt.Fprintf(&b, "\nOutput:\n\n```\n%s\n```\n", text)
		}
		if errOut := result.Err(); errOut != nil {
			fmt.Fprintf(&b, "\nError `%s: %s`:\n\n```\n%s\n```\n",
				errOut.Ename, errOut.Evalue, strings.Join(errOut.Traceback, "\n"))
		}
	}

	return []byte(b.String())
}
