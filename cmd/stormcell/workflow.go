package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stormcell-dev/stormcell/workflow"
)

var (
	flagWfDescription string
	flagWfCode        string
	flagWfFile        string
	flagWfGoal        string
	flagWfContext     string
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage and run stored workflows",
}

var workflowAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an empty workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		wf, err := workflow.New(args[0], flagWfDescription)
		if err != nil {
			return err
		}
		if err := a.store.Create(wf); err != nil {
			return err
		}
		fmt.Printf("created workflow %q\n", wf.Name)
		return nil
	},
}

var workflowAppendCmd = &cobra.Command{
	Use:   "append <name>",
	Short: "Append a step to a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editWorkflow(cmd, args[0], func(wf *workflow.Workflow) error {
			step, err := stepFromFlags()
			if err != nil {
				return err
			}
			return wf.AppendStep(step)
		})
	},
}

var workflowInsertCmd = &cobra.Command{
	Use:   "insert <name> <index>",
	Short: "Insert a step at a position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[1])
		if err != nil {
			return err
		}
		return editWorkflow(cmd, args[0], func(wf *workflow.Workflow) error {
			step, err := stepFromFlags()
			if err != nil {
				return err
			}
			return wf.InsertStep(index, step)
		})
	},
}

var workflowMoveCmd = &cobra.Command{
	Use:   "move <name> <from> <to>",
	Short: "Move a step to a new position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseIndex(args[1])
		if err != nil {
			return err
		}
		to, err := parseIndex(args[2])
		if err != nil {
			return err
		}
		return editWorkflow(cmd, args[0], func(wf *workflow.Workflow) error {
			return wf.MoveStep(from, to)
		})
	},
}

var workflowRemoveCmd = &cobra.Command{
	Use:   "remove <name> <index>",
	Short: "Remove a step",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[1])
		if err != nil {
			return err
		}
		return editWorkflow(cmd, args[0], func(wf *workflow.Workflow) error {
			return wf.RemoveStep(index)
		})
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored workflows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		workflows, err := a.store.List()
		if err != nil {
			return err
		}
		if len(workflows) == 0 {
			fmt.Println("no workflows stored")
			return nil
		}
		for _, wf := range workflows {
			fmt.Printf("%-24s %2d steps  %s\n", wf.Name, len(wf.Steps), wf.Description)
		}
		return nil
	},
}

var workflowShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a workflow's steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		wf, err := a.store.Load(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s\n", wf.Name)
		if wf.Description != "" {
			fmt.Printf("%s\n", wf.Description)
		}
		for i, step := range wf.Steps {
			switch step.Type {
			case workflow.StepPlan:
				fmt.Printf("%d. plan: %s\n", i, step.Goal)
			case workflow.StepExecute:
				if step.Code != "" {
					fmt.Printf("%d. execute: %s\n", i, firstLine(step.Code))
				} else {
					fmt.Printf("%d. execute file: %s\n", i, step.Path)
				}
			}
		}
		return nil
	},
}

var workflowDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted workflow %q\n", args[0])
		return nil
	},
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a stored workflow against the kernel",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflow,
}

func init() {
	workflowAddCmd.Flags().StringVarP(&flagWfDescription, "description", "d", "", "workflow description")

	for _, cmd := range []*cobra.Command{workflowAppendCmd, workflowInsertCmd} {
		cmd.Flags().StringVarP(&flagWfCode, "code", "c", "", "inline code for an execute step")
		cmd.Flags().StringVarP(&flagWfFile, "file", "f", "", "file whose contents run as an execute step")
		cmd.Flags().StringVarP(&flagWfGoal, "goal", "g", "", "goal for a plan step")
		cmd.Flags().StringVar(&flagWfContext, "context", "", "extra context for a plan step")
	}

	workflowCmd.AddCommand(
		workflowAddCmd, workflowAppendCmd, workflowInsertCmd, workflowMoveCmd,
		workflowRemoveCmd, workflowListCmd, workflowShowCmd, workflowDeleteCmd,
		workflowRunCmd,
	)
}

func stepFromFlags() (workflow.Step, error) {
	set := 0
	for _, f := range []string{flagWfCode, flagWfFile, flagWfGoal} {
		if f != "" {
			set++
		}
	}
	if set != 1 {
		return workflow.Step{}, fmt.Errorf("%w: give exactly one of --code, --file, --goal", errUsage)
	}

	switch {
	case flagWfGoal != "":
		return workflow.PlanStep(flagWfGoal, flagWfContext), nil
	case flagWfCode != "":
		return workflow.ExecuteStep(flagWfCode), nil
	default:
		return workflow.Step{Type: workflow.StepExecute, Path: flagWfFile}, nil
	}
}

func parseIndex(arg string) (int, error) {
	index, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an index", errUsage, arg)
	}
	return index, nil
}

// editWorkflow loads, edits, and saves a workflow in one pass.
func editWorkflow(cmd *cobra.Command, name string, edit func(*workflow.Workflow) error) error {
	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := a.store.Load(name)
	if err != nil {
		return err
	}
	if err := edit(wf); err != nil {
		return err
	}
	if err := a.store.Save(wf); err != nil {
		return err
	}
	fmt.Printf("workflow %q now has %d steps\n", wf.Name, len(wf.Steps))
	return nil
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := a.store.Load(args[0])
	if err != nil {
		return err
	}
	if err := resolvePaths(wf); err != nil {
		return err
	}

	runner := workflow.NewRunner(a.planner, a.session,
		workflow.WithRecorder(a.recorder),
		workflow.WithAdvisor(a.debugger),
		workflow.WithRunObserver(a.observer))

	report, err := runner.Run(ctx, wf)
	if err != nil {
		return err
	}

	for _, outcome := range report.Outcomes {
		a.book.LogWorkflowStep(wf.Name, outcome.Index, outcome.Failed) //nolint:errcheck
		for _, result := range outcome.Results {
			a.book.LogResult(result) //nolint:errcheck
			printResult(result)
		}
	}

	if report.FailedStep != nil {
		fmt.Printf("\nworkflow stopped at step %d (%d/%d completed)\n",
			*report.FailedStep, report.Completed, len(wf.Steps))
		if report.Suggestion != "" {
			fmt.Printf("suggestion: %s\n", report.Suggestion)
		}
		return nil
	}
	fmt.Printf("\nworkflow complete: %d steps\n", report.Completed)
	return nil
}

// resolvePaths reads file-backed execute steps into inline code.
func resolvePaths(wf *workflow.Workflow) error {
	for i, step := range wf.Steps {
		if step.Type != workflow.StepExecute || step.Code != "" || step.Path == "" {
			continue
		}
		data, err := os.ReadFile(step.Path)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		wf.Steps[i].Code = string(data)
	}
	return nil
}
