package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"warden/cmd/warden/ui"
	"warden/internal/trust"
)

func trustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Evaluate trust, digest and signature policy",
	}
	cmd.AddCommand(trustEvaluateCmd(), trustDigestCmd(), trustVerifyCmd())
	return cmd
}

func trustEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <image-ref | blueprint-id>",
		Short: "Classify an image reference or blueprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			// Prefer the blueprint when the argument resolves to one.
			decision := a.gate.EvaluateImage(args[0])
			if bp, bpErr := (fileBlueprints{dir: a.cfg.BlueprintDirOrDefault()}).ResolveBlueprint(cmd.Context(), args[0]); bpErr == nil {
				decision = a.gate.EvaluateBlueprint(bp)
			}

			printDecision(decision)
			return nil
		},
	}
}

func trustDigestCmd() *cobra.Command {
	var pinned string

	cmd := &cobra.Command{
		Use:   "digest <image-ref>",
		Short: "Check an image against a pinned digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			decision, err := trust.CheckDigestPolicy(cmd.Context(), a.runtime, args[0], pinned)
			printDecision(decision)
			return err
		},
	}
	cmd.Flags().StringVar(&pinned, "pinned", "", "Pinned digest to enforce")
	return cmd
}

func trustVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <image-ref>",
		Short: "Verify an image signature under the configured mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			decision, err := a.gate.VerifySignature(cmd.Context(), args[0])
			printDecision(decision)
			return err
		},
	}
}

func printDecision(d trust.Decision) {
	level := string(d.Level)
	switch d.Level {
	case trust.LevelVerified:
		level = ui.Success(level)
	case trust.LevelUnverified:
		level = ui.Warn(level)
	case trust.LevelBlocked:
		level = ui.ErrorStyle.Render(level)
	}

	pairs := []ui.Pair{
		ui.KV("level", level),
		ui.KV("source", string(d.Source)),
		ui.KV("reason", d.Reason),
	}
	if d.Digest != "" {
		pairs = append(pairs, ui.KV("digest", ui.Muted(d.Digest)))
	}
	fmt.Print(ui.KeyValues("", pairs...))
}
