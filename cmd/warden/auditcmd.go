package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"warden/cmd/warden/ui"
)

func auditCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.store == nil {
				fmt.Println(ui.Muted("audit persistence is disabled (audit_db: none)"))
				return nil
			}
			entries, err := a.store.History(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println(ui.Muted("no audit entries"))
				return nil
			}

			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{
					e.At.Format(time.RFC3339),
					e.Action,
					shortID(e.Subject),
					e.Blueprint,
					e.Session,
					e.Reason,
				}
			}
			fmt.Println(ui.Table([]string{"At", "Action", "Subject", "Blueprint", "Session", "Reason"}, rows))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum entries to show")
	return cmd
}
