package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/deps"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the staging tree, artifact, lock and collaborators",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			collaborators := preflight.CheckCollaborators(cfg)
			failed := len(preflight.Failed(results)) + len(deps.Missing(collaborators))

			if ctx.JSONMode() {
				if err := writeJSON(cmd, map[string]any{"checks": results, "collaborators": collaborators}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Workspace", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Collaborators", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, st := range collaborators {
					kind, message := statusOK, st.Path
					switch {
					case !st.Available && st.Optional:
						kind, message = statusWarn, st.Detail
					case !st.Available:
						kind, message = statusError, st.Detail
					}
					fmt.Fprintln(out, renderStatusLine(st.Name, kind, message, colorize))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if !ctx.JSONMode() {
				fmt.Fprintln(cmd.OutOrStdout(), "\nAll checks passed")
			}
			return nil
		},
	}
}
