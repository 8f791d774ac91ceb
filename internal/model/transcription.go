// Package model defines shared types used across the sync engine and adapters.
package model

import (
	"math"
	"time"
	"unicode/utf8"
)

// titleLimit is the maximum number of runes kept in a remote record title
// before an ellipsis is appended.
const titleLimit = 100

// Transcription is a single VoiceInk transcription as read from the local
// store. Records are append-only upstream: once created they never change.
type Transcription struct {
	// ID is the stable identifier assigned by VoiceInk (canonical UUID, or the
	// row primary key when no UUID is stored).
	ID string

	// Text is the raw transcription text.
	Text string

	// EnhancedText is the AI-enhanced version, empty when none was produced.
	EnhancedText string

	// CreatedAt is when the recording was transcribed.
	CreatedAt time.Time

	// Duration is the recording length in seconds.
	Duration float64

	// PromptName is the enhancement prompt VoiceInk applied, if any.
	PromptName string

	// PowerModeName is the VoiceInk power mode active at recording time.
	PowerModeName string
}

// Preview returns at most n runes of the text, with "..." appended when the
// text was cut.
func (t *Transcription) Preview(n int) string {
	return truncate(t.Text, n)
}

// RemoteRecord is the mirrored representation of a [Transcription] in the
// remote tabular store. SourceID is the dedup key.
type RemoteRecord struct {
	SourceID     string
	Title        string
	Text         string
	CreatedAt    time.Time
	Duration     float64
	EnhancedText string
	PromptName   string
}

// NewRemoteRecord converts a transcription into the record uploaded to the
// remote store. Duration is rounded to two decimals.
func NewRemoteRecord(t *Transcription) *RemoteRecord {
	return &RemoteRecord{
		SourceID:     t.ID,
		Title:        truncate(t.Text, titleLimit),
		Text:         t.Text,
		CreatedAt:    t.CreatedAt,
		Duration:     math.Round(t.Duration*100) / 100,
		EnhancedText: t.EnhancedText,
		PromptName:   t.PromptName,
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
