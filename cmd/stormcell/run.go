package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagRunAuto   bool
	flagRunNoAuto bool
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Plan code for a goal and optionally execute it",
	Long: `Run asks the planning model to break the goal into executable code units.
With auto-execute (the default, configurable) the units run immediately;
otherwise they stay queued for a later "queue run".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGoal,
}

func init() {
	runCmd.Flags().BoolVar(&flagRunAuto, "auto", false, "execute the planned units immediately")
	runCmd.Flags().BoolVar(&flagRunNoAuto, "no-auto", false, "only print the plan")
	runCmd.MarkFlagsMutuallyExclusive("auto", "no-auto")
}

func runGoal(cmd *cobra.Command, args []string) error {
	goal := strings.Join(args, " ")
	ctx := cmd.Context()

	// Only start the kernel when the plan will actually run.
	probe, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	auto := probe.cfg.AutoExec()
	if flagRunAuto {
		auto = true
	}
	if flagRunNoAuto {
		auto = false
	}

	a := probe
	if auto {
		if a, err = newApp(ctx, true); err != nil {
			return err
		}
	}
	defer a.close()

	units, err := a.planner.Plan(ctx, goal, "")
	if err != nil {
		return err
	}
	if len(units) == 0 {
		fmt.Println("no plan produced")
		return nil
	}

	fmt.Printf("plan: %d units\n", len(units))
	for i, unit := range units {
		fmt.Printf("  %d. %s\n", i+1, firstLine(unit.Code))
	}

	if a.book != nil {
		a.book.LogPlan(goal, len(units)) //nolint:errcheck
		for _, unit := range units {
			a.book.LogUnitSubmitted(unit) //nolint:errcheck
		}
	}
	a.queue.EnqueueAll(units)

	if !auto {
		fmt.Printf("queued %d units (auto-execute off)\n", len(units))
		return nil
	}
	return a.drain(ctx, a.queue)
}
