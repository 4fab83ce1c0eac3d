package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mdrashedmamun/fluentstep-ielts-roleplay-engine-sub003/internal/fileutil"
)

// Backend persists unit payloads and report sidecars per state.
type Backend interface {
	// Scan returns every unit id found, with each state it is present in.
	Scan(ctx context.Context) (map[string][]State, error)
	ReadPayload(ctx context.Context, state State, id string) ([]byte, error)
	WritePayload(ctx context.Context, state State, id string, data []byte) error
	DeletePayload(ctx context.Context, state State, id string) error
	// ReadReport returns fs.ErrNotExist (wrapped) when no report is stored.
	ReadReport(ctx context.Context, state State, id string) ([]byte, error)
	WriteReport(ctx context.Context, state State, id string, data []byte) error
	DeleteReport(ctx context.Context, state State, id string) error

	// MarkReinstate records that id is being returned to state outside the
	// edge table, so a duplicate left by a crash resolves toward state.
	MarkReinstate(ctx context.Context, id string, to State) error
	// ReinstateMarks returns the pending reinstate target per id.
	ReinstateMarks(ctx context.Context) (map[string]State, error)
	ClearReinstate(ctx context.Context, id string) error
}

// Locator is implemented by backends whose units live on disk.
type Locator interface {
	PayloadPath(state State, id string) string
	ReportPath(state State, id string) string
}

// FileBackend stores units under <root>/<state>/.
type FileBackend struct {
	root string
}

// NewFileBackend returns a backend rooted at the staging directory.
func NewFileBackend(root string) *FileBackend {
	return &FileBackend{root: root}
}

// Root returns the staging directory.
func (b *FileBackend) Root() string { return b.root }

// PayloadPath returns the payload file for id in state.
func (b *FileBackend) PayloadPath(state State, id string) string {
	return filepath.Join(b.root, string(state), id+payloadExt)
}

// ReportPath returns the report sidecar for id in state.
func (b *FileBackend) ReportPath(state State, id string) string {
	return filepath.Join(b.root, string(state), id+reportSuffix+".json")
}

func (b *FileBackend) Scan(ctx context.Context) (map[string][]State, error) {
	found := make(map[string][]State)
	for _, state := range States {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(filepath.Join(b.root, string(state)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("scan %s: %w", state, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, payloadExt) {
				continue
			}
			id := strings.TrimSuffix(name, payloadExt)
			if ValidateID(id) != nil {
				continue
			}
			found[id] = append(found[id], state)
		}
	}
	return found, nil
}

func (b *FileBackend) ReadPayload(_ context.Context, state State, id string) ([]byte, error) {
	return os.ReadFile(b.PayloadPath(state, id))
}

func (b *FileBackend) WritePayload(_ context.Context, state State, id string, data []byte) error {
	return b.write(b.PayloadPath(state, id), data)
}

func (b *FileBackend) DeletePayload(_ context.Context, state State, id string) error {
	return removeIfExists(b.PayloadPath(state, id))
}

func (b *FileBackend) ReadReport(_ context.Context, state State, id string) ([]byte, error) {
	return os.ReadFile(b.ReportPath(state, id))
}

func (b *FileBackend) WriteReport(_ context.Context, state State, id string, data []byte) error {
	return b.write(b.ReportPath(state, id), data)
}

func (b *FileBackend) DeleteReport(_ context.Context, state State, id string) error {
	return removeIfExists(b.ReportPath(state, id))
}

const reinstateDir = ".reinstate"

func (b *FileBackend) MarkReinstate(_ context.Context, id string, to State) error {
	return b.write(filepath.Join(b.root, reinstateDir, id), []byte(to))
}

func (b *FileBackend) ReinstateMarks(ctx context.Context) (map[string]State, error) {
	marks := make(map[string]State)
	dir := filepath.Join(b.root, reinstateDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return marks, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reinstate marks: %w", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || ValidateID(entry.Name()) != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read reinstate mark %s: %w", entry.Name(), err)
		}
		marks[entry.Name()] = State(strings.TrimSpace(string(data)))
	}
	return marks, nil
}

func (b *FileBackend) ClearReinstate(_ context.Context, id string) error {
	return removeIfExists(filepath.Join(b.root, reinstateDir, id))
}

func (b *FileBackend) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// MemoryBackend keeps units in maps. It is safe for concurrent use.
type MemoryBackend struct {
	mu       sync.Mutex
	payloads map[State]map[string][]byte
	reports  map[State]map[string][]byte
	marks    map[string]State

	// FailWrites, when set, is consulted before every write and its error returned.
	FailWrites func(state State, id string) error
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		payloads: make(map[State]map[string][]byte),
		reports:  make(map[State]map[string][]byte),
		marks:    make(map[string]State),
	}
}

func (m *MemoryBackend) Scan(ctx context.Context) (map[string][]State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	found := make(map[string][]State)
	for _, state := range States {
		ids := make([]string, 0, len(m.payloads[state]))
		for id := range m.payloads[state] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			found[id] = append(found[id], state)
		}
	}
	return found, nil
}

func (m *MemoryBackend) ReadPayload(_ context.Context, state State, id string) ([]byte, error) {
	return m.read(m.payloads, state, id)
}

func (m *MemoryBackend) WritePayload(_ context.Context, state State, id string, data []byte) error {
	return m.write(m.payloads, state, id, data)
}

func (m *MemoryBackend) DeletePayload(_ context.Context, state State, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payloads[state], id)
	return nil
}

func (m *MemoryBackend) ReadReport(_ context.Context, state State, id string) ([]byte, error) {
	return m.read(m.reports, state, id)
}

func (m *MemoryBackend) WriteReport(_ context.Context, state State, id string, data []byte) error {
	return m.write(m.reports, state, id, data)
}

func (m *MemoryBackend) DeleteReport(_ context.Context, state State, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports[state], id)
	return nil
}

func (m *MemoryBackend) MarkReinstate(_ context.Context, id string, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[id] = to
	return nil
}

func (m *MemoryBackend) ReinstateMarks(_ context.Context) (map[string]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.marks))
	for id, st := range m.marks {
		out[id] = st
	}
	return out, nil
}

func (m *MemoryBackend) ClearReinstate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.marks, id)
	return nil
}

func (m *MemoryBackend) read(store map[State]map[string][]byte, state State, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := store[state][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", state, id, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) write(store map[State]map[string][]byte, state State, id string, data []byte) error {
	if m.FailWrites != nil {
		if err := m.FailWrites(state, id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if store[state] == nil {
		store[state] = make(map[string][]byte)
	}
	store[state][id] = append([]byte(nil), data...)
	return nil
}
