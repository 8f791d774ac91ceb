package setup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/njoerd114/transcriptrelay/internal/model"
	"github.com/njoerd114/transcriptrelay/internal/notion"
	"github.com/njoerd114/transcriptrelay/internal/source"
)

// NotionChecker is the part of [notion.Adapter] the wizard uses to verify
// credentials and prepare the database.
type NotionChecker interface {
	Ping(ctx context.Context) (string, error)
	EnsureProperties(ctx context.Context, required []model.Property) error
}

// NewNotionChecker returns a checker backed by the real Notion API.
func NewNotionChecker(apiKey, databaseID string, logger *slog.Logger) NotionChecker {
	return notion.New(apiKey, databaseID, logger)
}

// VoiceInkStore describes a discovered VoiceInk store.
type VoiceInkStore struct {
	Path    string
	Records int
	Err     error
}

// String returns a human-readable representation for selection prompts.
func (s VoiceInkStore) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s (unreadable: %v)", s.Path, s.Err)
	}
	return fmt.Sprintf("%s (%d transcriptions)", s.Path, s.Records)
}

// DiscoverVoiceInkStores looks for VoiceInk stores under homeDir and counts
// the transcriptions in each. Stores that cannot be read are still returned
// with Err set, so the user sees why.
func DiscoverVoiceInkStores(ctx context.Context, homeDir string, logger *slog.Logger) []VoiceInkStore {
	var stores []VoiceInkStore
	for _, path := range source.FindStores(homeDir) {
		stores = append(stores, inspectStore(ctx, path, logger))
	}
	return stores
}

func inspectStore(ctx context.Context, path string, logger *slog.Logger) VoiceInkStore {
	st := VoiceInkStore{Path: path}
	r, err := source.Open(path, source.DefaultOptions, logger)
	if err != nil {
		st.Err = err
		return st
	}
	for _, err := range r.Records(ctx) {
		if err != nil {
			st.Err = err
			return st
		}
		st.Records++
	}
	return st
}
