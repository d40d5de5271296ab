// Command stormcell is a terminal agent over a stateful Python execution
// kernel: it executes code units against a long-lived interpreter, expands
// goals into plans through a local model, and runs stored workflows.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/stormcell-dev/stormcell/workflow"
)

// errUsage marks argument errors; they exit with code 2 instead of 1.
var errUsage = errors.New("invalid arguments")

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "stormcell",
	Short:         "Terminal agent over a stateful Python execution kernel",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a JSON or YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(executeCmd, runCmd, queueCmd, sessionCmd, workflowCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage),
		errors.Is(err, workflow.ErrIndexOutOfRange),
		errors.Is(err, workflow.ErrInvalidStep),
		errors.Is(err, workflow.ErrInvalidName),
		errors.Is(err, workflow.ErrExists),
		errors.Is(err, workflow.ErrNotFound):
		return 2
	}
	return 1
}
