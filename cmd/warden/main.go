package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"warden/cmd/warden/ui"
	"warden/internal/logging"
	"warden/internal/orchestrator"
)

func main() {
	var (
		debug     bool
		logFormat string
		noColor   bool
	)

	root := &cobra.Command{
		Use:           "warden",
		Short:         "Sandboxed container orchestration for automated agents",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level, logFormat); err != nil {
				return err
			}
			ui.Configure(noColor)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		deployCmd(),
		stopCmd(),
		listCmd(),
		execCmd(),
		logsCmd(),
		statsCmd(),
		optimizeCmd(),
		quotaCmd(),
		cleanupCmd(),
		recoverCmd(),
		approvalsCmd(),
		volumesCmd(),
		snapshotsCmd(),
		networksCmd(),
		trustCmd(),
		auditCmd(),
	)

	if err := root.Execute(); err != nil {
		if approvalErr, ok := orchestrator.AsApprovalRequired(err); ok {
			fmt.Println(ui.WarnMsg("approval required: %s", approvalErr.Reason))
			fmt.Println(ui.KeyValues("  ", ui.KV("approval id", ui.Bold(approvalErr.ApprovalID))))
			fmt.Println(ui.Muted("resolve it with: warden approvals approve " + approvalErr.ApprovalID))
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}
