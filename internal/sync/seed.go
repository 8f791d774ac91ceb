package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/njoerd114/transcriptrelay/internal/model"
	"github.com/njoerd114/transcriptrelay/internal/state"
)

// Seeder rebuilds the local sync state from the remote store. It runs on a
// fresh install, after a reset, and after a corrupt state document was
// discarded, so records already present remotely are never uploaded again.
type Seeder struct {
	remote Remote
	store  StateStore
	log    *slog.Logger
}

// NewSeeder creates a Seeder wired to the given remote and state store.
func NewSeeder(remote Remote, store StateStore, logger *slog.Logger) *Seeder {
	return &Seeder{remote: remote, store: store, log: logger}
}

// Seed lists every dedup key in the remote store, replaces the local state
// with exactly that set, and persists it before returning. Nothing is saved
// when listing fails.
func (s *Seeder) Seed(ctx context.Context) (*state.SyncState, error) {
	s.log.Info("sync state not seeded, listing existing remote records")

	keys, err := s.remote.ListExistingKeys(ctx, model.PropertyDedupKey)
	if err != nil {
		return nil, fmt.Errorf("listing remote keys: %w", err)
	}

	st := s.store.RebuildFromRemote(keys)
	if err := s.store.Save(st); err != nil {
		return nil, fmt.Errorf("saving seeded state: %w", err)
	}

	s.log.Info("sync state seeded from remote", "existing_records", len(keys))
	return st, nil
}
