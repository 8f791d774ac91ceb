package model

import "errors"

// Error taxonomy shared by the source reader, the remote adapter, and the
// sync engine. Adapters wrap these with %w so callers can branch with
// errors.Is.
var (
	// ErrSourceUnavailable means the local transcription store is missing or
	// could not be read within the retry budget.
	ErrSourceUnavailable = errors.New("source store unavailable")

	// ErrSourceBusy means the store was locked by its owning application.
	// It is transient and retried before surfacing as ErrSourceUnavailable.
	ErrSourceBusy = errors.New("source store busy")

	// ErrRemoteUnavailable covers network failures, rate limiting, and
	// server-side faults. The failed record is retried next cycle.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrRemoteRejected covers API-level rejections that are not caused by a
	// specific record (authentication, permissions, schema mismatch).
	ErrRemoteRejected = errors.New("remote store rejected request")

	// ErrRecordInvalid means the remote store rejected a record because of
	// its content. Repeated occurrences for the same record lead to it being
	// skipped.
	ErrRecordInvalid = errors.New("record rejected by remote store")

	// ErrStateCorrupt means the local sync state document could not be
	// parsed. It is logged and treated as an empty state.
	ErrStateCorrupt = errors.New("sync state corrupt")
)
