package sync

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/njoerd114/transcriptrelay/internal/model"
	"github.com/njoerd114/transcriptrelay/internal/state"
)

var (
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	baseTime   = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
)

// newRec returns a transcription created n minutes after baseTime.
func newRec(id string, n int) *model.Transcription {
	return &model.Transcription{
		ID:        id,
		Text:      "note " + id,
		CreatedAt: baseTime.Add(time.Duration(n) * time.Minute),
		Duration:  1.5,
	}
}

// --- Mock Source ---------------------------------------------------------------

type mockSource struct {
	mu    sync.Mutex
	recs  []*model.Transcription
	err   error
	reads int
}

func newMockSource(recs ...*model.Transcription) *mockSource {
	return &mockSource{recs: recs}
}

func (m *mockSource) add(recs ...*model.Transcription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, recs...)
}

func (m *mockSource) Records(_ context.Context) iter.Seq2[*model.Transcription, error] {
	m.mu.Lock()
	m.reads++
	recs := append([]*model.Transcription(nil), m.recs...)
	err := m.err
	m.mu.Unlock()

	return func(yield func(*model.Transcription, error) bool) {
		if err != nil {
			yield(nil, err)
			return
		}
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// --- Mock Remote ---------------------------------------------------------------

// mockRemote behaves like a remote table: CreateRecord appends a row, and
// ListExistingKeys returns the dedup keys of all rows.
type mockRemote struct {
	mu sync.Mutex

	rows []string // dedup keys in creation order

	// failOn maps a source ID to the error returned for it. Errors stay in
	// place until cleared.
	failOn map[string]error

	// panicOn makes CreateRecord panic for the given source ID.
	panicOn string

	listErr   error
	ensureErr error

	ensureCalls int
	listCalls   int
	createCalls int

	// afterCreate runs after every successful create.
	afterCreate func(id string)
}

func newMockRemote(existing ...string) *mockRemote {
	return &mockRemote{rows: existing, failOn: make(map[string]error)}
}

func (m *mockRemote) EnsureProperties(_ context.Context, required []model.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureCalls++
	if len(required) != 4 {
		return errors.New("unexpected schema")
	}
	return m.ensureErr
}

func (m *mockRemote) ListExistingKeys(_ context.Context, key model.Property) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if key != model.PropertyDedupKey {
		return nil, errors.New("unexpected key property")
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	keys := make(map[string]struct{}, len(m.rows))
	for _, k := range m.rows {
		keys[k] = struct{}{}
	}
	return keys, nil
}

func (m *mockRemote) CreateRecord(_ context.Context, r *model.RemoteRecord) error {
	m.mu.Lock()
	m.createCalls++
	if r.SourceID == m.panicOn {
		m.mu.Unlock()
		panic("boom")
	}
	if err, ok := m.failOn[r.SourceID]; ok {
		m.mu.Unlock()
		return err
	}
	m.rows = append(m.rows, r.SourceID)
	hook := m.afterCreate
	m.mu.Unlock()

	if hook != nil {
		hook(r.SourceID)
	}
	return nil
}

// deleteRow simulates a user deleting a row in the remote UI.
func (m *mockRemote) deleteRow(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, k := range m.rows {
		if k == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return
		}
	}
}

func (m *mockRemote) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.rows...)
}

// --- State store helpers ---------------------------------------------------------

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(filepath.Join(t.TempDir(), "state.json"), testLogger)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	return s
}

// failingStore wraps a real store and fails every Save after the first
// okSaves calls.
type failingStore struct {
	*state.Store
	okSaves int
	saves   int
}

func (f *failingStore) Save(st *state.SyncState) error {
	f.saves++
	if f.saves > f.okSaves {
		return errors.New("disk full")
	}
	return f.Store.Save(st)
}

// --- Fake clock ------------------------------------------------------------------

// fakeClock hands the engine a channel per wait. Every call to After is
// announced on waits, which tells the test the previous cycle finished.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	ticks chan time.Time
	waits chan time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:   baseTime,
		ticks: make(chan time.Time),
		waits: make(chan time.Duration, 16),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.waits <- d
	return c.ticks
}

// tick releases the engine from its current wait.
func (c *fakeClock) tick(t *testing.T) {
	t.Helper()
	select {
	case c.ticks <- c.Now():
	case <-time.After(5 * time.Second):
		t.Fatal("engine never waited for the clock")
	}
}

// awaitWait blocks until the engine starts waiting for the next interval.
func (c *fakeClock) awaitWait(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-c.waits:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the engine to finish a cycle")
		return 0
	}
}
