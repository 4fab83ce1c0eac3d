package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lifecycle"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/report"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/review"
)

func reviewPipeline(ctx *commandContext, cmd *cobra.Command) (*review.Pipeline, error) {
	store, cfg, err := ctx.openStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return nil, err
	}
	return newPipeline(cfg, store, logger), nil
}

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var ids []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the validation gates for ready-for-review units",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := reviewPipeline(ctx, cmd)
			if err != nil {
				return err
			}
			outcomes, err := pipeline.Validate(cmd.Context(), ids)
			if ctx.JSONMode() {
				if outcomes == nil {
					outcomes = []review.Outcome{}
				}
				return writeJSONResult(cmd, outcomes, err)
			}

			out := cmd.OutOrStdout()
			if len(outcomes) == 0 && err == nil {
				fmt.Fprintln(out, "No units in ready-for-review. Nothing to validate.")
				return nil
			}
			colorize := shouldColorize(out)
			for _, outcome := range outcomes {
				renderReport(out, outcome.Report, colorize)
				if outcome.Moved {
					fmt.Fprintf(out, "%sMoved to %s\n", statusIndent, outcome.State)
				}
				fmt.Fprintln(out)
			}
			return err
		},
	}
	cmd.Flags().StringArrayVar(&ids, "id", nil, "Unit id to validate (repeatable; default all ready-for-review)")
	return cmd
}

func newApproveCommand(ctx *commandContext) *cobra.Command {
	var id string
	var reviewer string

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Record a manual QA pass and move a unit to approved",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireID(id)
			if err != nil {
				return err
			}
			pipeline, err := reviewPipeline(ctx, cmd)
			if err != nil {
				return err
			}
			if strings.TrimSpace(reviewer) == "" {
				reviewer = os.Getenv("USER")
			}
			r, err := pipeline.Approve(cmd.Context(), id, reviewer)
			return printReview(ctx, cmd, r, lifecycle.Approved, err)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Unit id")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer recorded in the report (default $USER)")
	return cmd
}

func newRejectCommand(ctx *commandContext) *cobra.Command {
	var id string
	var reason string

	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Record a manual QA failure and move a unit to rejected",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireID(id)
			if err != nil {
				return err
			}
			pipeline, err := reviewPipeline(ctx, cmd)
			if err != nil {
				return err
			}
			r, err := pipeline.Reject(cmd.Context(), id, reason)
			return printReview(ctx, cmd, r, lifecycle.Rejected, err)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Unit id")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the unit was rejected")
	return cmd
}

func printReview(ctx *commandContext, cmd *cobra.Command, r report.Report, target lifecycle.State, err error) error {
	if ctx.JSONMode() {
		return writeJSONResult(cmd, r, err)
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	renderReport(out, r, shouldColorize(out))
	fmt.Fprintf(out, "%sMoved to %s\n", statusIndent, target)
	return nil
}

func newResubmitCommand(ctx *commandContext) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "resubmit",
		Short: "Move a rejected unit back to ready-for-review",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireID(id)
			if err != nil {
				return err
			}
			pipeline, err := reviewPipeline(ctx, cmd)
			if err != nil {
				return err
			}
			if err := pipeline.Resubmit(cmd.Context(), id); err != nil {
				return err
			}
			return printMove(ctx, cmd, id, lifecycle.Rejected, lifecycle.ReadyForReview)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Unit id")
	return cmd
}
