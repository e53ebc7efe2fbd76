package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"warden/cmd/warden/ui"
	"warden/internal/netiso"
)

func networksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "Inspect the fixed isolation levels",
	}
	cmd.AddCommand(networksListCmd(), networksCleanupCmd())
	return cmd
}

func networksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show the isolation mode table",
		RunE: func(cmd *cobra.Command, args []string) error {
			modes := netiso.Modes()
			rows := make([][]string, len(modes))
			for i, m := range modes {
				rows[i] = []string{
					string(m.Mode),
					m.EngineMode,
					yesNo(m.RequiresApproval),
					yesNo(m.InternetAccess),
				}
			}
			fmt.Println(ui.Table(
				[]string{"Mode", "Engine network", "Approval", "Internet"},
				rows,
			))
			return nil
		},
	}
}

func networksCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the shared internal network",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.networks.Cleanup(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("removed %s", netiso.InternalNetworkName))
			return nil
		},
	}
}

func yesNo(v bool) string {
	if v {
		return ui.Warn("yes")
	}
	return ui.Muted("no")
}
