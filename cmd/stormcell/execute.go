package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stormcell-dev/stormcell/core/cell"
)

var flagExecuteCode string

var executeCmd = &cobra.Command{
	Use:   "execute [file]",
	Short: "Execute one code unit against the kernel",
	Long: `Execute runs a single code unit: either the contents of a file or the
inline code given with --code. The kernel is started, the unit runs behind
anything already pending, and its outputs are printed and logged.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().StringVarP(&flagExecuteCode, "code", "c", "", "inline code to execute")
}

func runExecute(cmd *cobra.Command, args []string) error {
	var code string
	switch {
	case flagExecuteCode != "" && len(args) > 0:
		return fmt.Errorf("%w: give a file or --code, not both", errUsage)
	case flagExecuteCode != "":
		code = flagExecuteCode
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		code = string(data)
	default:
		return fmt.Errorf("%w: give a file or --code", errUsage)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	unit := cell.NewUnit(code, cell.OriginInteractive)
	a.book.LogUnitSubmitted(unit) //nolint:errcheck
	a.queue.Enqueue(unit)
	return a.drain(ctx, a.queue)
}
