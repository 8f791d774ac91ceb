// Package sync implements the one-way reconciliation engine for
// TranscriptRelay. It reads the ordered VoiceInk transcription sequence,
// compares it against the local sync state, and uploads every record the
// remote database does not have yet, oldest first.
//
// The package contains three components:
//
//   - [Reconciler] runs a single cycle and persists progress per record.
//   - [Seeder] rebuilds the local state from the remote keys on first run
//     or after a reset.
//   - [Engine] schedules cycles on an interval and on source changes.
package sync

import (
	"context"
	"iter"
	"time"

	"github.com/njoerd114/transcriptrelay/internal/model"
	"github.com/njoerd114/transcriptrelay/internal/state"
)

// Source yields the full transcription sequence in creation order.
// Implemented by [source.Reader].
type Source interface {
	Records(ctx context.Context) iter.Seq2[*model.Transcription, error]
}

// Remote is the destination store. Implemented by [notion.Adapter].
type Remote interface {
	EnsureProperties(ctx context.Context, required []model.Property) error
	ListExistingKeys(ctx context.Context, key model.Property) (map[string]struct{}, error)
	CreateRecord(ctx context.Context, r *model.RemoteRecord) error
}

// StateStore persists the sync state. Implemented by [state.Store].
type StateStore interface {
	Load() *state.SyncState
	Save(st *state.SyncState) error
	RebuildFromRemote(keys map[string]struct{}) *state.SyncState
}

// Clock abstracts time so tests can drive many cycles without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return realClock{} }
