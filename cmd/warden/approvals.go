package main

import (
	"fmt"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"warden/cmd/warden/ui"
)

func approvalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Manage pending deployment approvals",
	}
	cmd.AddCommand(approvalsListCmd(), approvalsApproveCmd(), approvalsRejectCmd(), approvalsHistoryCmd())
	return cmd
}

func approvalsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pending approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			pending := a.approvals.GetPending()
			if len(pending) == 0 {
				fmt.Println(ui.Muted("no pending approvals"))
				return nil
			}

			rows := make([][]string, len(pending))
			for i, entry := range pending {
				rows[i] = []string{
					entry.ID,
					entry.BlueprintID,
					string(entry.NetworkMode),
					entry.Reason,
					formatDuration(time.Until(entry.ExpiresAt)),
				}
			}
			fmt.Println(ui.Table(
				[]string{"ID", "Blueprint", "Network", "Reason", "Expires in"},
				rows,
			))
			return nil
		},
	}
}

func approvalsApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <approval-id>",
		Short: "Approve a pending deployment and start it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			inst, err := a.approvals.Approve(cmd.Context(), args[0], actorName())
			if err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("approved %s, container %s is running", args[0], ui.Bold(shortID(inst.ID))))
			return nil
		},
	}
}

func approvalsRejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <approval-id>",
		Short: "Reject a pending deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.approvals.Reject(args[0], actorName(), reason); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("rejected %s", args[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the deployment was rejected")
	return cmd
}

func approvalsHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show resolved and pending approvals, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			history := a.approvals.History(limit)
			if len(history) == 0 {
				fmt.Println(ui.Muted("no approvals recorded"))
				return nil
			}

			rows := make([][]string, len(history))
			for i, entry := range history {
				resolved := "-"
				if !entry.ResolvedAt.IsZero() {
					resolved = entry.ResolvedAt.Format(time.RFC3339)
				}
				rows[i] = []string{
					entry.ID,
					entry.BlueprintID,
					ui.Status(string(entry.Status)),
					entry.ResolvedBy,
					resolved,
				}
			}
			fmt.Println(ui.Table(
				[]string{"ID", "Blueprint", "Status", "Resolved by", "Resolved at"},
				rows,
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	return cmd
}

func actorName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}
