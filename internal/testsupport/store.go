package testsupport

import (
	"context"
	"testing"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/config"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/lifecycle"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/logging"
)

// MustOpenStore opens a file-backed lifecycle store over the config's staging tree.
func MustOpenStore(t testing.TB, cfg *config.Config) *lifecycle.Store {
	t.Helper()

	store, err := lifecycle.Open(context.Background(), lifecycle.NewFileBackend(cfg.Paths.StagingDir), logging.NewNop())
	if err != nil {
		t.Fatalf("lifecycle.Open: %v", err)
	}
	return store
}

// PlaceUnit creates id with payload and walks it along legal edges to target.
func PlaceUnit(t testing.TB, store *lifecycle.Store, id string, payload []byte, target lifecycle.State) {
	t.Helper()

	ctx := context.Background()
	if err := store.Create(ctx, id, payload); err != nil {
		t.Fatalf("Create(%s): %v", id, err)
	}
	paths := map[lifecycle.State][]lifecycle.State{
		lifecycle.InProgress:     nil,
		lifecycle.ReadyForReview: {lifecycle.ReadyForReview},
		lifecycle.Approved:       {lifecycle.ReadyForReview, lifecycle.Approved},
		lifecycle.Rejected:       {lifecycle.ReadyForReview, lifecycle.Rejected},
		lifecycle.Archived:       {lifecycle.ReadyForReview, lifecycle.Approved, lifecycle.Archived},
	}
	current := lifecycle.InProgress
	for _, next := range paths[target] {
		if err := store.Move(ctx, id, current, next); err != nil {
			t.Fatalf("Move(%s, %s, %s): %v", id, current, next, err)
		}
		current = next
	}
}
