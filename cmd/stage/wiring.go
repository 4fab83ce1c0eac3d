package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/artifact"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/collab"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/config"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/history"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/importer"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lifecycle"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lock"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/report"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/review"
)

func newRunner(cfg *config.Config, logger *slog.Logger) *collab.Runner {
	return collab.NewRunner(cfg.WorkDir(), logger, collab.WithTimeout(cfg.CommandTimeout()))
}

func newGuard(cfg *config.Config, logger *slog.Logger) *artifact.Guard {
	return artifact.NewGuard(cfg.Paths.ArtifactPath, cfg.LockPath(), lock.Options{
		Owner:        cfg.Lock.Owner,
		Timeout:      cfg.LockTimeout(),
		PollInterval: cfg.LockPollInterval(),
		StaleAfter:   cfg.LockStaleAfter(),
	}, logger)
}

// newCoordinator wires the configured collaborators into an importer. The
// returned history store must be closed by the caller.
func newCoordinator(ctx context.Context, cfg *config.Config, store *lifecycle.Store, logger *slog.Logger) (*importer.Coordinator, *history.Store, error) {
	hist, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		return nil, nil, err
	}
	runner := newRunner(cfg, logger)
	staging := cfg.Paths.StagingDir

	deps := importer.Deps{
		Store:   store,
		Guard:   newGuard(cfg, logger),
		Merger:  &collab.CommandMerger{Runner: runner, Argv: cfg.Commands.Merge, Staging: staging},
		History: hist,
		Logger:  logger,
	}
	if len(cfg.Commands.Build) > 0 {
		deps.Build = &collab.CommandVerifier{Runner: runner, Name: "build", Argv: cfg.Commands.Build, Staging: staging}
	}
	if len(cfg.Commands.Test) > 0 {
		deps.Test = &collab.CommandVerifier{Runner: runner, Name: "test", Argv: cfg.Commands.Test, Staging: staging}
	}
	if len(cfg.Commands.Commit) > 0 {
		deps.Committer = &collab.CommandCommitter{Runner: runner, Steps: cfg.Commands.Commit, Artifact: cfg.Paths.ArtifactPath, Staging: staging}
	}

	coordinator, err := importer.New(deps, importer.Options{Owner: cfg.Lock.Owner, Keep: cfg.Backup.Keep})
	if err != nil {
		_ = hist.Close()
		return nil, nil, fmt.Errorf("configure importer: %w", err)
	}
	return coordinator, hist, nil
}

// newPipeline wires the configured gate commands into a review pipeline.
func newPipeline(cfg *config.Config, store *lifecycle.Store, logger *slog.Logger) *review.Pipeline {
	runner := newRunner(cfg, logger)
	runners := make(map[report.Gate]collab.GateRunner)
	for gate, argv := range map[report.Gate][]string{
		report.GateStructural:  cfg.Gates.Structural,
		report.GateLinguistic:  cfg.Gates.Linguistic,
		report.GateIntegration: cfg.Gates.Integration,
		report.GateQA:          cfg.Gates.QA,
	} {
		if len(argv) == 0 {
			continue
		}
		runners[gate] = &collab.CommandGate{Runner: runner, Argv: argv, Staging: cfg.Paths.StagingDir}
	}
	return review.New(store, runners, logger)
}
