package main

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"warden/cmd/warden/ui"
	"warden/internal/blueprint"
	"warden/internal/orchestrator"
)

func deployCmd() *cobra.Command {
	var (
		session      string
		conversation string
		name         string
		volumeName   string
		reuseVolume  bool
	)

	cmd := &cobra.Command{
		Use:   "deploy <blueprint-id>",
		Short: "Deploy a container from a blueprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			inst, err := a.orch.StartContainer(cmd.Context(), args[0], orchestrator.Overrides{
				Name:           name,
				Volume:         volumeName,
				ReuseVolume:    reuseVolume,
				SessionID:      session,
				ConversationID: conversation,
			})
			if err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("deployed %s", ui.Bold(inst.Name)))
			fmt.Print(ui.KeyValues("  ",
				ui.KV("container", inst.ID),
				ui.KV("blueprint", inst.BlueprintID),
				ui.KV("network", string(inst.Network.Mode)),
				ui.KV("volume", inst.Volume),
				ui.KV("ttl", formatTTL(inst.TTLSeconds)),
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Owning session id")
	cmd.Flags().StringVar(&conversation, "conversation", "", "Owning conversation id")
	cmd.Flags().StringVar(&name, "name", "", "Container name override")
	cmd.Flags().StringVar(&volumeName, "volume", "", "Use a specific workspace volume")
	cmd.Flags().BoolVar(&reuseVolume, "reuse-volume", false, "Resume on the blueprint's latest volume")
	return cmd
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <container-id>",
		Short: "Stop and remove a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			found, err := a.orch.StopContainer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Println(ui.Muted("container not found (already stopped?)"))
				return nil
			}
			fmt.Println(ui.SuccessMsg("stopped %s", args[0]))
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "ps"},
		Short:   "List tracked containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.orch.RecoverRuntimeState(cmd.Context()); err != nil {
				return err
			}
			instances := a.orch.ListContainers(cmd.Context())
			if len(instances) == 0 {
				fmt.Println(ui.Muted("no containers tracked"))
				return nil
			}

			now := time.Now()
			rows := make([][]string, len(instances))
			for i, inst := range instances {
				rows[i] = []string{
					shortID(inst.ID),
					inst.BlueprintID,
					ui.Status(inst.Status),
					fmt.Sprintf("%.1f%%", inst.CPUPercent),
					units.BytesSize(float64(inst.MemoryUsage)),
					formatDuration(inst.Uptime(now)),
					formatTTL(inst.RemainingTTL(now)),
					ui.Tier(string(inst.Tier)),
				}
			}
			fmt.Println(ui.Table(
				[]string{"ID", "Blueprint", "Status", "CPU", "Memory", "Uptime", "TTL", "Tier"},
				rows,
			))
			return nil
		},
	}
	return cmd
}

func execCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "exec <container-id> -- <command> [args...]",
		Short: "Run a command inside a container's workspace",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.orch.RecoverRuntimeState(cmd.Context()); err != nil {
				return err
			}
			res, err := a.orch.ExecCommand(cmd.Context(), args[0], args[1:], timeout)
			if err != nil {
				return err
			}
			fmt.Print(res.Output)
			if res.ExitCode != 0 {
				return fmt.Errorf("command exited with code %d", res.ExitCode)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Command timeout")
	return cmd
}

func logsCmd() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs <container-id>",
		Short: "Tail a container's output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.orch.RecoverRuntimeState(cmd.Context()); err != nil {
				return err
			}
			out, err := a.orch.GetLogs(cmd.Context(), args[0], lines)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 100, "Number of trailing lines")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <container-id>",
		Short: "Show live stats and efficiency for a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.orch.RecoverRuntimeState(cmd.Context()); err != nil {
				return err
			}
			inst, err := a.orch.GetStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			now := time.Now()
			fmt.Print(ui.KeyValues("",
				ui.KV("container", inst.ID),
				ui.KV("blueprint", inst.BlueprintID),
				ui.KV("cpu", fmt.Sprintf("%.1f%%", inst.CPUPercent)),
				ui.KV("memory", fmt.Sprintf("%s / %s",
					units.BytesSize(float64(inst.MemoryUsage)), units.BytesSize(float64(inst.MemoryLimit)))),
				ui.KV("network", fmt.Sprintf("rx %s, tx %s",
					units.BytesSize(float64(inst.RxBytes)), units.BytesSize(float64(inst.TxBytes)))),
				ui.KV("uptime", formatDuration(inst.Uptime(now))),
				ui.KV("ttl", formatTTL(inst.RemainingTTL(now))),
				ui.KV("efficiency", fmt.Sprintf("%.2f (%s)", inst.Efficiency, ui.Tier(string(inst.Tier)))),
			))
			return nil
		},
	}
}

func optimizeCmd() *cobra.Command {
	var (
		cpuCores float64
		memory   string
		pids     int64
	)

	cmd := &cobra.Command{
		Use:   "optimize <container-id>",
		Short: "Apply new resource limits to a running container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var memBytes int64
			if memory != "" {
				memBytes, err = units.RAMInBytes(memory)
				if err != nil {
					return fmt.Errorf("parse memory %q: %w", memory, err)
				}
			}

			if _, err := a.orch.RecoverRuntimeState(cmd.Context()); err != nil {
				return err
			}
			err = a.orch.OptimizeResources(cmd.Context(), args[0], blueprint.ResourceLimits{
				CPUCores:    cpuCores,
				MemoryBytes: memBytes,
				PidsLimit:   pids,
			})
			if err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("updated limits for %s", args[0]))
			return nil
		},
	}
	cmd.Flags().Float64Var(&cpuCores, "cpu", 0, "CPU core fraction")
	cmd.Flags().StringVar(&memory, "memory", "", "Memory limit (e.g. 512m)")
	cmd.Flags().Int64Var(&pids, "pids", 0, "Process count limit")
	return cmd
}

func quotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show the session quota and current usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.orch.RecoverRuntimeState(cmd.Context()); err != nil {
				return err
			}
			limits, usage := a.orch.Quota()

			fmt.Print(ui.KeyValues("",
				ui.KV("containers", quotaLine(float64(usage.Containers), float64(limits.MaxContainers), "%.0f")),
				ui.KV("memory", quotaMemLine(usage.MemoryBytes, limits.MaxMemoryBytes)),
				ui.KV("cpu cores", quotaLine(usage.CPUCores, limits.MaxCPUCores, "%.2f")),
			))
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Stop every tracked container, optionally scoped to a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.orch.RecoverRuntimeState(cmd.Context()); err != nil {
				return err
			}
			stopped := a.orch.CleanupAll(cmd.Context(), session)
			fmt.Println(ui.SuccessMsg("stopped %d container(s)", stopped))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Only stop containers of this session")
	return cmd
}

func recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Rebuild runtime state from container labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.orch.RecoverRuntimeState(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("recovered %d container(s), expired %d", report.Recovered, report.Expired))
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatTTL(seconds int) string {
	if seconds <= 0 {
		return "-"
	}
	return formatDuration(time.Duration(seconds) * time.Second)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return units.HumanDuration(d)
}

func quotaLine(used, limit float64, format string) string {
	if limit <= 0 {
		return fmt.Sprintf(format, used) + ui.Muted(" / unlimited")
	}
	return fmt.Sprintf(format+" / "+format, used, limit)
}

func quotaMemLine(used, limit int64) string {
	if limit <= 0 {
		return units.BytesSize(float64(used)) + ui.Muted(" / unlimited")
	}
	return units.BytesSize(float64(used)) + " / " + units.BytesSize(float64(limit))
}
