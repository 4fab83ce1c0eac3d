package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lifecycle"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lock"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/review"
)

func requireID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("--id is required")
	}
	return id, nil
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var id string
	var fromFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new unit in in-progress from the template",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireID(id)
			if err != nil {
				return err
			}
			if err := lifecycle.ValidateID(id); err != nil {
				return err
			}
			store, _, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}

			var payload []byte
			if fromFile != "" {
				payload, err = os.ReadFile(fromFile)
				if err != nil {
					return fmt.Errorf("read unit content: %w", err)
				}
			} else if payload, err = review.Template(id); err != nil {
				return err
			}

			if err := store.Create(cmd.Context(), id, payload); err != nil {
				return err
			}
			path, _ := store.PayloadPath(cmd.Context(), id)
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{"id": id, "state": lifecycle.InProgress, "path": path})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s at %s\n", id, path)
			fmt.Fprintln(cmd.OutOrStdout(), "Edit the file, then run `stage submit --id "+id+"`")
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Unit id")
	cmd.Flags().StringVar(&fromFile, "from", "", "Initial content instead of the template")
	return cmd
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Move a unit from in-progress to ready-for-review",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireID(id)
			if err != nil {
				return err
			}
			pipeline, err := reviewPipeline(ctx, cmd)
			if err != nil {
				return err
			}
			if err := pipeline.Submit(cmd.Context(), id); err != nil {
				return err
			}
			return printMove(ctx, cmd, id, lifecycle.InProgress, lifecycle.ReadyForReview)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Unit id")
	return cmd
}

func printMove(ctx *commandContext, cmd *cobra.Command, id string, from, to lifecycle.State) error {
	if ctx.JSONMode() {
		return writeJSON(cmd, map[string]any{"id": id, "from": from, "to": to})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Moved %s: %s -> %s\n", id, from, to)
	return nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var showEdges bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show unit counts per lifecycle state and the import lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}
			lockStatus, err := lock.Inspect(cfg.LockPath())
			if err != nil {
				return err
			}

			if ctx.JSONMode() {
				counts := make(map[lifecycle.State]int, len(summary))
				for state, ids := range summary {
					counts[state] = len(ids)
				}
				payload := map[string]any{
					"staging_dir": cfg.Paths.StagingDir,
					"counts":      counts,
					"units":       summary,
					"locked":      lockStatus.Exists,
				}
				if showEdges {
					payload["edges"] = edgeRows()
				}
				return writeJSON(cmd, payload)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Staging directory: %s\n\n", cfg.Paths.StagingDir)
			rows := make([][]string, 0, len(lifecycle.States))
			for _, state := range lifecycle.States {
				rows = append(rows, []string{stateLabel(state), strconv.Itoa(len(summary[state]))})
			}
			printTable(out, []string{"State", "Units"}, rows, []columnAlignment{alignLeft, alignRight})

			colorize := shouldColorize(out)
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderLockLine(lockStatus, colorize))

			if showEdges {
				fmt.Fprintln(out)
				var edgeTable [][]string
				for _, e := range edgeRows() {
					edgeTable = append(edgeTable, []string{stateLabel(e.From), stateLabel(e.To), yesNo(e.Reversible), yesNo(e.RequiresValidation)})
				}
				printTable(out, []string{"From", "To", "Reversible", "Requires validation"}, edgeTable, nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showEdges, "edges", false, "Also print the legal transition table")
	return cmd
}

type edgeRow struct {
	From               lifecycle.State `json:"from"`
	To                 lifecycle.State `json:"to"`
	Reversible         bool            `json:"reversible"`
	RequiresValidation bool            `json:"requires_validation"`
}

func edgeRows() []edgeRow {
	edges := lifecycle.Edges()
	rows := make([]edgeRow, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, edgeRow{From: e.From, To: e.To, Reversible: e.Reversible, RequiresValidation: e.RequiresValidation})
	}
	return rows
}

func newListCommand(ctx *commandContext, use, short string, state lifecycle.State) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := store.ListUnits(cmd.Context(), state)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{"state": state, "units": ids})
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintf(out, "No units in %s\n", state)
				return nil
			}
			fmt.Fprintf(out, "%s (%d):\n", stateLabel(state), len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  - %s\n", id)
			}
			return nil
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a unit's state and validation report",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireID(id)
			if err != nil {
				return err
			}
			store, _, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			state, ok, err := store.CurrentState(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: %w", id, lifecycle.ErrUnitNotFound)
			}
			path, _ := store.PayloadPath(cmd.Context(), id)
			r, reportErr := store.LoadReport(cmd.Context(), id)
			if reportErr != nil && !errors.Is(reportErr, lifecycle.ErrReportNotFound) {
				return reportErr
			}

			if ctx.JSONMode() {
				payload := map[string]any{"id": id, "state": state, "path": path}
				if reportErr == nil {
					payload["report"] = r
				}
				return writeJSON(cmd, payload)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Unit:  %s\nState: %s\nPath:  %s\n\n", id, stateLabel(state), path)
			if reportErr != nil {
				fmt.Fprintln(out, "No validation report yet")
				return nil
			}
			renderReport(out, r, shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Unit id")
	return cmd
}
