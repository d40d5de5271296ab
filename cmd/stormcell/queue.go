package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stormcell-dev/stormcell/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drain the execution queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending code units",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		pending := a.queue.Pending()
		if len(pending) == 0 {
			fmt.Println("queue is empty")
			return nil
		}
		for i, unit := range pending {
			fmt.Printf("%d. [%s] %s  %s\n", i+1, unit.Origin, unit.ID, firstLine(unit.Code))
		}
		return nil
	},
}

var queueRunCmd = &cobra.Command{
	Use:   "run [unit-id|all]",
	Short: "Execute pending code units",
	Long: `Run drains the pending queue against the kernel. With a unit id only that
unit runs; with no argument or "all" every pending unit runs in order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		target := a.queue
		if len(args) == 1 && args[0] != "all" {
			unit, ok := a.queue.Remove(args[0])
			if !ok {
				return fmt.Errorf("%w: no pending unit %s", errUsage, args[0])
			}
			target = queue.New(queue.WithObserver(a.observer))
			target.Enqueue(unit)
		}

		if target.Len() == 0 {
			fmt.Println("queue is empty")
			return nil
		}
		return a.drain(ctx, target)
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <unit-id>",
	Short: "Remove a pending code unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		unit, ok := a.queue.Remove(args[0])
		if !ok {
			return fmt.Errorf("%w: no pending unit %s", errUsage, args[0])
		}
		fmt.Printf("removed %s\n", firstLine(unit.Code))
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd, queueRunCmd, queueRemoveCmd)
}
