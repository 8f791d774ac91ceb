package state

import (
	"errors"
	"slices"
	"time"

	"github.com/njoerd114/transcriptrelay/internal/model"
)

// currentVersion is written into every saved document.
const currentVersion = 1

// Failure tracks consecutive upload failures for one source record.
// Rejections counts only the failures where the remote store refused the
// record's content; outages never contribute to it.
type Failure struct {
	Count       int       `json:"count"`
	Rejections  int       `json:"rejections"`
	LastError   string    `json:"last_error"`
	LastAttempt time.Time `json:"last_attempt"`
}

// Skip records why a source record was excluded from further uploads.
type Skip struct {
	Reason    string    `json:"reason"`
	SkippedAt time.Time `json:"skipped_at"`
}

// Metadata holds running counters. They are informational only.
type Metadata struct {
	Cycles      int       `json:"cycles"`
	Uploaded    int       `json:"uploaded"`
	Failed      int       `json:"failed"`
	LastCycleAt time.Time `json:"last_cycle_at,omitzero"`
}

// SyncState is the in-memory form of the state document: which source IDs
// are mirrored remotely, plus per-record failure bookkeeping. It is owned by
// a single reconciler and is not safe for concurrent use.
type SyncState struct {
	// RemoteSeeded is true once the synced set has been rebuilt from the
	// remote store's existing keys. A fresh, corrupt, or reset state is
	// unseeded.
	RemoteSeeded bool

	// LastSyncAt is when a record was last uploaded successfully.
	LastSyncAt time.Time

	Metadata Metadata
	Failures map[string]*Failure
	Skipped  map[string]Skip

	synced map[string]struct{}
}

// New returns an empty, unseeded state.
func New() *SyncState {
	return &SyncState{
		Failures: make(map[string]*Failure),
		Skipped:  make(map[string]Skip),
		synced:   make(map[string]struct{}),
	}
}

// IsSynced reports whether id is known to be mirrored remotely.
func (s *SyncState) IsSynced(id string) bool {
	_, ok := s.synced[id]
	return ok
}

// MarkSynced adds id to the synced set and clears any failure record for it.
func (s *SyncState) MarkSynced(id string, at time.Time) {
	s.synced[id] = struct{}{}
	delete(s.Failures, id)
	s.LastSyncAt = at
	s.Metadata.Uploaded++
}

// Merge adds every key to the synced set. Existing IDs are kept.
func (s *SyncState) Merge(keys map[string]struct{}) {
	for k := range keys {
		s.synced[k] = struct{}{}
	}
}

// SyncedCount returns the size of the synced set.
func (s *SyncState) SyncedCount() int {
	return len(s.synced)
}

// SortedIDs returns the synced set in lexical order.
func (s *SyncState) SortedIDs() []string {
	ids := make([]string, 0, len(s.synced))
	for id := range s.synced {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// RecordFailure increments the consecutive failure count for id and returns
// the number of content rejections recorded so far.
func (s *SyncState) RecordFailure(id string, err error, at time.Time) int {
	f, ok := s.Failures[id]
	if !ok {
		f = &Failure{}
		s.Failures[id] = f
	}
	f.Count++
	if errors.Is(err, model.ErrRecordInvalid) {
		f.Rejections++
	}
	f.LastError = err.Error()
	f.LastAttempt = at
	s.Metadata.Failed++
	return f.Rejections
}

// MarkSkipped excludes id from future uploads.
func (s *SyncState) MarkSkipped(id, reason string, at time.Time) {
	s.Skipped[id] = Skip{Reason: reason, SkippedAt: at}
	delete(s.Failures, id)
}

// IsSkipped reports whether id was excluded after repeated rejections.
func (s *SyncState) IsSkipped(id string) bool {
	_, ok := s.Skipped[id]
	return ok
}
