// Package state persists which VoiceInk transcriptions have been mirrored to
// the remote store.
//
// The state is a single JSON document replaced atomically on every save. It is
// a cache, never the sole source of truth: it can be rebuilt at any time from
// the remote store's existing keys. Only this package reads or writes the
// document; other packages receive a [*Store] and call its methods.
//
// The store does not lock the document across processes. Running two
// instances against the same state file may double-upload.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/njoerd114/transcriptrelay/internal/model"
)

// document is the on-disk JSON shape.
type document struct {
	Version      int                 `json:"version"`
	SyncedIDs    []string            `json:"synced_ids"`
	LastSyncAt   time.Time           `json:"last_sync_at,omitzero"`
	RemoteSeeded bool                `json:"remote_seeded"`
	Metadata     Metadata            `json:"metadata"`
	Failures     map[string]*Failure `json:"failures,omitempty"`
	Skipped      map[string]Skip     `json:"skipped,omitempty"`
}

// Store reads and writes the state document at a fixed path.
type Store struct {
	path string
	log  *slog.Logger
}

// DefaultPath returns the default path for the state document:
// ~/.local/share/transcriptrelay/state.json
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "transcriptrelay", "state.json"), nil
}

// Open returns a Store for path, creating the parent directory if needed.
// The document itself is not touched until [Store.Load] or [Store.Save].
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &Store{path: path, log: logger}, nil
}

// Path returns the location of the state document.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state document. A missing document yields an empty state.
// An unreadable or unparsable document is logged, moved aside to
// "<path>.corrupt", and also yields an empty state, so the next cycle rebuilds
// from the remote store. Load never fails.
func (s *Store) Load() *SyncState {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New()
	}
	if err != nil {
		s.log.Error("reading sync state, starting fresh", "path", s.path, "error", err)
		return New()
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.quarantine(fmt.Errorf("%w: %w", model.ErrStateCorrupt, err))
		return New()
	}
	if doc.Version > currentVersion {
		s.quarantine(fmt.Errorf("%w: unsupported version %d", model.ErrStateCorrupt, doc.Version))
		return New()
	}

	st := New()
	for _, id := range doc.SyncedIDs {
		st.synced[id] = struct{}{}
	}
	st.RemoteSeeded = doc.RemoteSeeded
	st.LastSyncAt = doc.LastSyncAt
	st.Metadata = doc.Metadata
	for id, f := range doc.Failures {
		if f != nil {
			st.Failures[id] = f
		}
	}
	for id, sk := range doc.Skipped {
		st.Skipped[id] = sk
	}
	return st
}

// Save atomically replaces the state document: the JSON is written to a
// temporary file in the same directory, fsynced, and renamed into place.
// Readers never observe a partially written document.
func (s *Store) Save(st *SyncState) error {
	doc := document{
		Version:      currentVersion,
		SyncedIDs:    st.SortedIDs(),
		LastSyncAt:   st.LastSyncAt,
		RemoteSeeded: st.RemoteSeeded,
		Metadata:     st.Metadata,
		Failures:     st.Failures,
		Skipped:      st.Skipped,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sync state: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	// Make the rename itself durable.
	if dir, err := os.Open(filepath.Dir(s.path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}

// RebuildFromRemote returns a fresh state treating the remote store as ground
// truth: exactly the given keys are marked synced and the state is flagged as
// seeded. The result is not persisted; call [Store.Save].
func (s *Store) RebuildFromRemote(keys map[string]struct{}) *SyncState {
	st := New()
	st.Merge(keys)
	st.RemoteSeeded = true
	return st
}

// Reset deletes the state document. The next [Store.Load] returns an empty,
// unseeded state, which makes the next cycle rebuild from the remote store.
func (s *Store) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing sync state %q: %w", s.path, err)
	}
	return nil
}

// quarantine logs a corrupt document and moves it aside for inspection.
func (s *Store) quarantine(err error) {
	aside := s.path + ".corrupt"
	s.log.Error("sync state unreadable, starting fresh", "path", s.path, "moved_to", aside, "error", err)
	if renameErr := os.Rename(s.path, aside); renameErr != nil {
		s.log.Warn("could not move corrupt sync state aside", "error", renameErr)
	}
}
