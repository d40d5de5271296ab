package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the kernel session",
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restart the kernel, discarding all interpreter state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.session.Reset(ctx); err != nil {
			return err
		}
		a.book.LogSessionReset() //nolint:errcheck
		fmt.Println("kernel session reset")
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionResetCmd)
}
