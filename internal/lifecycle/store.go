package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/logging"
	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/report"
)

// Store is the state machine over a Backend.
type Store struct {
	mu      sync.Mutex
	backend Backend
	index   map[string]State
	logger  *slog.Logger
}

// Open builds the id index from backend. A unit found in two states is the
// residue of an interrupted move. A pending reinstate mark names the copy to
// keep; otherwise, when the pair forms a legal edge, the copy at the source is
// removed and the unit is indexed at the destination. Marks are cleared once
// the index is built.
func Open(ctx context.Context, backend Backend, logger *slog.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("lifecycle: backend is required")
	}
	s := &Store{
		backend: backend,
		index:   make(map[string]State),
		logger:  logging.NewComponentLogger(logger, "lifecycle"),
	}
	found, err := backend.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	marks, err := backend.ReinstateMarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	for id, states := range found {
		state, err := s.resolveDuplicate(ctx, id, states, marks[id])
		if err != nil {
			return nil, err
		}
		s.index[id] = state
	}
	for id := range marks {
		if err := backend.ClearReinstate(ctx, id); err != nil {
			return nil, fmt.Errorf("clear reinstate mark for %s: %w", id, err)
		}
	}
	return s, nil
}

func (s *Store) resolveDuplicate(ctx context.Context, id string, states []State, reinstating State) (State, error) {
	if len(states) == 1 {
		return states[0], nil
	}
	if reinstating != "" && slices.Contains(states, reinstating) {
		for _, st := range states {
			if st == reinstating {
				continue
			}
			if err := s.deleteAt(ctx, st, id); err != nil {
				return "", fmt.Errorf("finish interrupted reinstate of %s: %w", id, err)
			}
		}
		logging.WarnWithContext(s.logger, "finished interrupted reinstate", "lifecycle_repair",
			logging.String(logging.FieldUnitID, id),
			logging.String("to_state", string(reinstating)),
			logging.String(logging.FieldImpact, "duplicate copy removed; unit kept at its rollback target"),
			logging.String(logging.FieldErrorHint, "verify the unit content before re-running the import"),
		)
		return reinstating, nil
	}
	if len(states) == 2 {
		for _, pair := range [][2]State{{states[0], states[1]}, {states[1], states[0]}} {
			if _, ok := Lookup(pair[0], pair[1]); !ok {
				continue
			}
			from, to := pair[0], pair[1]
			if _, err := s.backend.ReadReport(ctx, to, id); errors.Is(err, fs.ErrNotExist) {
				if data, rerr := s.backend.ReadReport(ctx, from, id); rerr == nil {
					if err := s.backend.WriteReport(ctx, to, id, data); err != nil {
						return "", fmt.Errorf("finish interrupted move of %s: %w", id, err)
					}
				}
			}
			if err := s.deleteAt(ctx, from, id); err != nil {
				return "", fmt.Errorf("finish interrupted move of %s: %w", id, err)
			}
			logging.WarnWithContext(s.logger, "finished interrupted move", "lifecycle_repair",
				logging.String(logging.FieldUnitID, id),
				logging.String("from_state", string(from)),
				logging.String("to_state", string(to)),
				logging.String(logging.FieldImpact, "duplicate copy removed from source state"),
				logging.String(logging.FieldErrorHint, "verify the unit content in the destination state"),
			)
			return to, nil
		}
	}
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	return "", fmt.Errorf("unit %s present in multiple states (%s); remove the stale copies by hand", id, strings.Join(names, ", "))
}

// Backend returns the store's backend.
func (s *Store) Backend() Backend { return s.backend }

// CurrentState returns the state of id. The boolean is false when id is unknown.
func (s *Store) CurrentState(ctx context.Context, id string) (State, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.index[id]
	return state, ok, nil
}

// ListUnits returns the ids in state, sorted.
func (s *Store) ListUnits(ctx context.Context, state State) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !state.Valid() {
		return nil, fmt.Errorf("unknown state %q", state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0)
	for id, st := range s.index {
		if st == state {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Summary returns the sorted ids per state. Every state is present in the map.
func (s *Store) Summary(ctx context.Context) (map[State][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[State][]string, len(States))
	for _, state := range States {
		out[state] = []string{}
	}
	for id, st := range s.index {
		out[st] = append(out[st], id)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out, nil
}

// Create stores a new unit in the in-progress state.
func (s *Store) Create(ctx context.Context, id string, payload []byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.index[id]; ok {
		return fmt.Errorf("%w: %s is %s", ErrUnitExists, id, state)
	}
	if err := s.backend.WritePayload(ctx, InProgress, id, payload); err != nil {
		return fmt.Errorf("create %s: %w", id, err)
	}
	s.index[id] = InProgress
	s.logger.Info("unit created", logging.String(logging.FieldUnitID, id), logging.String(logging.FieldState, string(InProgress)))
	return nil
}

// Payload returns the unit content.
func (s *Store) Payload(ctx context.Context, id string) ([]byte, error) {
	state, err := s.require(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.ReadPayload(ctx, state, id)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return data, nil
}

// PayloadPath returns the on-disk location of the unit payload when the
// backend is file based.
func (s *Store) PayloadPath(ctx context.Context, id string) (string, bool) {
	locator, ok := s.backend.(Locator)
	if !ok {
		return "", false
	}
	state, err := s.require(ctx, id)
	if err != nil {
		return "", false
	}
	return locator.PayloadPath(state, id), true
}

// LoadReport returns the validation report stored beside the unit.
func (s *Store) LoadReport(ctx context.Context, id string) (report.Report, error) {
	state, err := s.require(ctx, id)
	if err != nil {
		return report.Report{}, err
	}
	data, err := s.backend.ReadReport(ctx, state, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return report.Report{}, fmt.Errorf("%w: %s", ErrReportNotFound, id)
		}
		return report.Report{}, fmt.Errorf("read report for %s: %w", id, err)
	}
	return report.Unmarshal(data)
}

// SaveReport stores r beside the unit in its current state.
func (s *Store) SaveReport(ctx context.Context, r report.Report) error {
	if r.UnitID == "" {
		return errors.New("save report: unit id is empty")
	}
	state, err := s.require(ctx, r.UnitID)
	if err != nil {
		return err
	}
	data, err := report.Marshal(r)
	if err != nil {
		return err
	}
	if err := s.backend.WriteReport(ctx, state, r.UnitID, data); err != nil {
		return fmt.Errorf("save report for %s: %w", r.UnitID, err)
	}
	return nil
}

// Move relocates id from one state to another along a legal edge. The payload
// and report are written at the destination before they are removed from the
// source, and the index changes only once the destination holds the unit.
func (s *Store) Move(ctx context.Context, id string, from, to State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := Lookup(from, to); !ok {
		return &InvalidTransitionError{ID: id, From: from, To: to}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	actual, ok := s.index[id]
	if !ok {
		return fmt.Errorf("move %s: %w", id, ErrUnitNotFound)
	}
	if actual != from {
		return &InvalidTransitionError{ID: id, From: from, To: to, Actual: actual}
	}
	if err := s.relocate(ctx, id, from, to); err != nil {
		return err
	}
	s.logger.Info("unit moved",
		logging.String(logging.FieldUnitID, id),
		logging.String("from_state", string(from)),
		logging.String("to_state", string(to)),
	)
	return nil
}

// Reinstate returns id to state from wherever it currently is, bypassing the
// edge table. It exists for import rollback, which must put units back in
// approved after a failed archive or commit, and must not be used for review
// transitions.
func (s *Store) Reinstate(ctx context.Context, id string, to State) error {
	if !to.Valid() {
		return fmt.Errorf("reinstate %s: unknown state %q", id, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.index[id]
	if !ok {
		return fmt.Errorf("reinstate %s: %w", id, ErrUnitNotFound)
	}
	if from == to {
		return nil
	}
	if err := s.backend.MarkReinstate(ctx, id, to); err != nil {
		return fmt.Errorf("reinstate %s: %w", id, err)
	}
	if err := s.relocate(ctx, id, from, to); err != nil {
		return err
	}
	if err := s.backend.ClearReinstate(ctx, id); err != nil {
		s.logger.Debug("reinstate mark left for next open", logging.String(logging.FieldUnitID, id), logging.Error(err))
	}
	logging.WarnWithContext(s.logger, "unit reinstated", "lifecycle_reinstate",
		logging.String(logging.FieldUnitID, id),
		logging.String("from_state", string(from)),
		logging.String("to_state", string(to)),
		logging.String(logging.FieldImpact, "unit returned to its pre-import state"),
		logging.String(logging.FieldErrorHint, "re-run the import once the failure is fixed"),
	)
	return nil
}

// relocate copies payload and report to the destination, removes the source
// copy, and updates the index. Callers hold s.mu.
func (s *Store) relocate(ctx context.Context, id string, from, to State) error {
	payload, err := s.backend.ReadPayload(ctx, from, id)
	if err != nil {
		return fmt.Errorf("move %s: read payload: %w", id, err)
	}
	reportData, err := s.backend.ReadReport(ctx, from, id)
	hasReport := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("move %s: read report: %w", id, err)
	}

	if err := s.backend.WritePayload(ctx, to, id, payload); err != nil {
		return fmt.Errorf("move %s to %s: %w", id, to, err)
	}
	if hasReport {
		if err := s.backend.WriteReport(ctx, to, id, reportData); err != nil {
			_ = s.backend.DeletePayload(ctx, to, id)
			return fmt.Errorf("move %s to %s: report: %w", id, to, err)
		}
	}

	if err := s.deleteAt(ctx, from, id); err != nil {
		// Keep the unit in exactly one place: drop the destination copy.
		_ = s.deleteAt(ctx, to, id)
		if hasReport {
			_ = s.backend.WriteReport(ctx, from, id, reportData)
		}
		return fmt.Errorf("move %s: remove from %s: %w", id, from, err)
	}

	s.index[id] = to
	return nil
}

// Delete removes a unit and its report from the store.
func (s *Store) Delete(ctx context.Context, id string) error {
	state, err := s.require(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteAt(ctx, state, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	delete(s.index, id)
	return nil
}

func (s *Store) deleteAt(ctx context.Context, state State, id string) error {
	if err := s.backend.DeleteReport(ctx, state, id); err != nil {
		return err
	}
	return s.backend.DeletePayload(ctx, state, id)
}

func (s *Store) require(ctx context.Context, id string) (State, error) {
	state, ok, err := s.CurrentState(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", id, ErrUnitNotFound)
	}
	return state, nil
}
