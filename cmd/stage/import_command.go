package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/importer"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/preflight"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var ids []string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Merge approved units into the production artifact",
		Long: `Merge approved units into the production artifact as one batch.

The import takes the lock, snapshots the artifact, merges each unit, runs the
build and test commands, archives the units, and commits. Any failure restores
the snapshot and leaves the units in approved. With --dry-run nothing is locked
or written; the planned units are only listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if !dryRun {
				if len(cfg.Commands.Merge) == 0 {
					return errors.New("commands.merge is not configured; see `stage config init`")
				}
				if check := preflight.CheckArtifact(cfg.Paths.ArtifactPath); !check.Passed {
					return fmt.Errorf("%s: %s", check.Name, check.Detail)
				}
			}

			coordinator, hist, err := newCoordinator(cmd.Context(), cfg, store, logger)
			if err != nil {
				return err
			}
			defer hist.Close()

			result, err := coordinator.ImportApproved(cmd.Context(), importer.Request{IDs: ids, DryRun: dryRun})
			if ctx.JSONMode() {
				return writeJSONResult(cmd, result, err)
			}
			out := cmd.OutOrStdout()
			if err != nil {
				printImportFailure(out, result, err)
				return err
			}
			printImportResult(out, result, cfg.Paths.ArtifactPath)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&ids, "id", nil, "Unit id to import (repeatable; default all approved)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List what would be imported without locking or writing")
	return cmd
}

func printImportResult(out io.Writer, result *importer.Result, artifactPath string) {
	switch {
	case result.Noop:
		fmt.Fprintln(out, "No approved units to import")
	case result.DryRun:
		fmt.Fprintf(out, "Dry run: %d unit(s) would be merged into %s\n", len(result.Planned), artifactPath)
		rows := make([][]string, 0, len(result.Planned))
		for _, unit := range result.Planned {
			rows = append(rows, []string{unit.ID, fmt.Sprintf("%d", unit.Bytes), unit.Path})
		}
		printTable(out, []string{"Unit", "Bytes", "Path"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft})
	default:
		fmt.Fprintf(out, "Imported %d unit(s): %s\n", len(result.Imported), strings.Join(result.Imported, ", "))
		fmt.Fprintf(out, "Backup: %s\n", result.BackupPath)
		if len(result.Pruned) > 0 {
			fmt.Fprintf(out, "Pruned %d old backup(s)\n", len(result.Pruned))
		}
	}
	fmt.Fprintf(out, "Run: %s\n", result.RunID)
}

func printImportFailure(out io.Writer, result *importer.Result, err error) {
	step, _ := importer.FailedStep(err)
	if importer.IsCritical(err) {
		fmt.Fprintln(out, "CRITICAL: import failed and the artifact could not be restored")
	} else {
		fmt.Fprintln(out, "Import failed")
	}
	fmt.Fprintf(out, "  Step:   %s\n", step)

	var stepErr *importer.StepError
	var rollbackErr *importer.RollbackError
	switch {
	case errors.As(err, &rollbackErr):
		fmt.Fprintf(out, "  Units:  %s\n", strings.Join(rollbackErr.IDs, ", "))
		fmt.Fprintf(out, "  Backup: %s\n", rollbackErr.BackupPath)
		fmt.Fprintf(out, "  Manual recovery required: %s\n", rollbackErr.Instructions())
	case errors.As(err, &stepErr):
		fmt.Fprintf(out, "  Units:  %s\n", strings.Join(stepErr.IDs, ", "))
		if stepErr.RolledBack {
			fmt.Fprintf(out, "  Rolled back from: %s\n", stepErr.BackupPath)
		}
		if len(stepErr.Unrestored) > 0 {
			fmt.Fprintf(out, "  Not returned to approved: %s\n", strings.Join(stepErr.Unrestored, ", "))
		}
	}
	if result != nil && result.RunID != "" {
		fmt.Fprintf(out, "  Run:    %s\n", result.RunID)
	}
}
