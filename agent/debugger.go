package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/stormcell-dev/stormcell/history"
)

const debugPromptTemplate = `A Python execution in a live interpreter session failed.

Recent session history (oldest first):
%s
Failing code:
%s

Error:
%s

Suggest the most likely fix in at most three sentences. Be specific to this
error; do not restate the traceback.`

// heuristicHints maps common Python error names to canned advice, used when
// no model is reachable or the model answer is empty.
var heuristicHints = map[string]string{
	"NameError":           "A name is used before it is defined. Check the spelling and make sure the cell that defines it ran first.",
	"ImportError":         "The import failed. Verify the module name and that the package is installed in the kernel's environment.",
	"ModuleNotFoundError": "The module is not installed in the kernel's environment. Install it (pip install ...) and retry.",
	"TypeError":           "A value has the wrong type for the operation. Check the argument types and order at the line in the traceback.",
	"ValueError":          "A value has the right type but an invalid content. Inspect the failing value right before the call.",
	"KeyError":            "The key is missing from the mapping. Print the available keys before indexing.",
	"IndexError":          "The index is outside the sequence. Check the length before indexing.",
	"AttributeError":      "The object has no such attribute. Print type(obj) and dir(obj) to see what it actually is.",
	"SyntaxError":         "The code itself does not parse. Look for unbalanced brackets or quotes at the reported line.",
	"FileNotFoundError":   "The path does not exist from the kernel's working directory. Print os.getcwd() and list the directory.",
	"ZeroDivisionError":   "A divisor is zero. Guard the division or inspect how the divisor was computed.",
}

// Debugger suggests fixes for failing executions. With a nil client it
// serves heuristic hints only.
type Debugger struct {
	client Client
}

// NewDebugger creates a debugger backed by the given client.
func NewDebugger(client Client) *Debugger {
	return &Debugger{client: client}
}

// SuggestFix returns fix advice for the bundle's failing execution. Model
// failures degrade to heuristic hints and an empty suggestion after that;
// SuggestFix never returns an error for a degraded answer.
func (d *Debugger) SuggestFix(ctx context.Context, bundle history.Bundle) (string, error) {
	if d.client != nil {
		text, err := d.client.Generate(ctx, buildDebugPrompt(bundle))
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text), nil
		}
	}
	return heuristicFix(bundle), nil
}

// heuristicFix looks the failing error name up in the hint table.
func heuristicFix(bundle history.Bundle) string {
	if bundle.Error == nil {
		return ""
	}
	return heuristicHints[bundle.Error.Ename]
}

func buildDebugPrompt(bundle history.Bundle) string {
	var hist strings.Builder
	for _, entry := range bundle.Entries {
		fmt.Fprintf(&hist, "--- [%s]\n%s\n", entry.Status, entry.Code)
		if entry.Summary != "" {
			fmt.Fprintf(&hist, "output: %s\n", entry.Summary)
		}
	}

	var errText strings.Builder
	if bundle.Error != nil {
		fmt.Fprintf(&errText, "%s: %s\n", bundle.Error.Ename, bundle.Error.Evalue)
		errText.WriteString(strings.Join(bundle.Error.Traceback, "\n"))
	} else {
		fmt.Fprintf(&errText, "execution ended with status %s and no error output", bundle.Status)
	}

	return fmt.Sprintf(debugPromptTemplate, hist.String(), bundle.FailingCode, errText.String())
}
