package main

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"warden/cmd/warden/ui"
)

func volumesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volumes",
		Short: "Manage workspace volumes",
	}
	cmd.AddCommand(volumesListCmd(), volumesCleanupCmd())
	return cmd
}

func volumesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List managed workspace volumes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			vols, err := a.volumes.ListVolumes(cmd.Context())
			if err != nil {
				return err
			}
			if len(vols) == 0 {
				fmt.Println(ui.Muted("no managed volumes"))
				return nil
			}

			rows := make([][]string, len(vols))
			for i, v := range vols {
				rows[i] = []string{v.Name, v.Labels["warden.blueprint"], v.CreatedAt}
			}
			fmt.Println(ui.Table([]string{"Name", "Blueprint", "Created"}, rows))
			return nil
		},
	}
}

func volumesCleanupCmd() *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Report or remove volumes not attached to any container",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			orphans, err := a.volumes.CleanupOrphanedVolumes(cmd.Context(), !apply)
			if err != nil {
				return err
			}
			if len(orphans) == 0 {
				fmt.Println(ui.Muted("no orphaned volumes"))
				return nil
			}
			for _, name := range orphans {
				fmt.Println("  " + name)
			}
			if apply {
				fmt.Println(ui.SuccessMsg("removed %d orphaned volume(s)", len(orphans)))
			} else {
				fmt.Println(ui.WarnMsg("%d orphaned volume(s); re-run with --apply to remove", len(orphans)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Actually remove instead of reporting")
	return cmd
}

func snapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Manage volume snapshots",
	}
	cmd.AddCommand(snapshotsCreateCmd(), snapshotsRestoreCmd(), snapshotsListCmd())
	return cmd
}

func snapshotsCreateCmd() *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "create <volume>",
		Short: "Archive a volume's contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.volumes.CreateSnapshot(cmd.Context(), args[0], tag)
			if err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("snapshot %s (%s)", ui.Bold(snap.File), units.BytesSize(float64(snap.SizeBytes))))
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Snapshot tag")
	return cmd
}

func snapshotsRestoreCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "restore <snapshot-file>",
		Short: "Restore a snapshot into a volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			volumeName, err := a.volumes.RestoreSnapshot(cmd.Context(), args[0], target)
			if err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("restored into volume %s", ui.Bold(volumeName)))
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "into", "", "Target volume (default: a fresh volume)")
	return cmd
}

func snapshotsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List snapshot archives, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			snaps, err := a.volumes.ListSnapshots()
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Println(ui.Muted("no snapshots"))
				return nil
			}

			rows := make([][]string, len(snaps))
			for i, s := range snaps {
				rows[i] = []string{
					s.File,
					s.Volume,
					s.Tag,
					s.CreatedAt.Format(time.RFC3339),
					units.BytesSize(float64(s.SizeBytes)),
				}
			}
			fmt.Println(ui.Table([]string{"File", "Volume", "Tag", "Created", "Size"}, rows))
			return nil
		},
	}
}
