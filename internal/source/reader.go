// Package source reads transcriptions from VoiceInk's SwiftData store.
//
// SwiftData persists through Core Data into a SQLite file: the ZTRANSCRIPTION
// table, Z-prefixed columns, timestamps in seconds since 2001-01-01 UTC, and
// UUIDs stored as 16-byte blobs. VoiceInk keeps writing to the file while we
// read, so every [Reader.Records] call opens its own read-only connection and
// treats SQLITE_BUSY/SQLITE_LOCKED as transient.
package source

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/njoerd114/transcriptrelay/internal/model"
	"github.com/njoerd114/transcriptrelay/internal/retry"
)

const table = "ZTRANSCRIPTION"

// coreDataEpoch is the Core Data reference date, 2001-01-01T00:00:00Z.
var coreDataEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// column lists every column the reader understands, in select order.
// Required columns must exist; the rest are selected as NULL when absent so
// older or newer VoiceInk schemas still read.
// Numeric columns are cast to REAL: the driver turns integers in TIMESTAMP
// columns into time.Time, which would lose the Core Data epoch.
var columns = []struct {
	name     string
	required bool
	real     bool
}{
	{"Z_PK", true, false},
	{"ZID", false, false},
	{"ZTEXT", true, false},
	{"ZENHANCEDTEXT", false, false},
	{"ZTIMESTAMP", true, true},
	{"ZDURATION", false, true},
	{"ZPROMPTNAME", false, false},
	{"ZPOWERMODENAME", false, false},
}

// errSchema marks a store whose layout cannot be read. It is not retried.
var errSchema = errors.New("unsupported store schema")

// Options tunes how a Reader copes with a locked store.
type Options struct {
	// Retry bounds how long a busy store is retried before the read fails.
	Retry retry.Policy

	// BusyTimeout is how long SQLite itself waits on a lock per statement.
	BusyTimeout time.Duration
}

// DefaultOptions retries a locked store for roughly ten seconds.
var DefaultOptions = Options{
	Retry:       retry.Policy{MaxAttempts: 5, BaseDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second},
	BusyTimeout: time.Second,
}

// Reader produces transcriptions from a VoiceInk store file.
type Reader struct {
	path string
	opts Options
	log  *slog.Logger
}

// Open returns a Reader for the store at path. It fails with
// [model.ErrSourceUnavailable] when the file does not exist; no connection is
// kept open.
func Open(path string, opts Options, logger *slog.Logger) (*Reader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %q: %w", model.ErrSourceUnavailable, path, err)
	}
	if err := checkFile(abs); err != nil {
		return nil, err
	}
	return &Reader{path: abs, opts: opts, log: logger}, nil
}

// Path returns the absolute path of the store.
func (r *Reader) Path() string {
	return r.path
}

// Records returns every non-empty transcription ordered by creation time
// (oldest first, ties broken by row key). The sequence is lazy and
// restartable: each iteration opens a fresh read-only view of the store and
// closes it when iteration ends. A failure is yielded once as the final
// element, wrapping [model.ErrSourceUnavailable].
//
// If the store turns busy part-way through, the read starts over within the
// retry budget and rows already yielded are not yielded again.
func (r *Reader) Records(ctx context.Context) iter.Seq2[*model.Transcription, error] {
	return func(yield func(*model.Transcription, error) bool) {
		if err := checkFile(r.path); err != nil {
			yield(nil, err)
			return
		}

		db, err := sql.Open("sqlite3", r.dsn())
		if err != nil {
			yield(nil, fmt.Errorf("%w: opening %q: %w", model.ErrSourceUnavailable, r.path, err))
			return
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(1)

		r.resume(ctx, func(emit func(*model.Transcription) bool) error {
			return readPass(ctx, db, emit)
		}, yield)
	}
}

// pass reads the store once from the start, handing each record to emit
// until emit returns false.
type pass func(emit func(*model.Transcription) bool) error

// resume runs read under the retry policy and forwards its records to yield,
// dropping any whose ID an earlier, interrupted attempt already delivered.
func (r *Reader) resume(ctx context.Context, read pass, yield func(*model.Transcription, error) bool) {
	seen := make(map[string]struct{})
	stopped := false
	attempt := 0

	err := retry.Do(ctx, r.opts.Retry, isBusy, func() error {
		attempt++
		if attempt > 1 && len(seen) > 0 {
			r.log.Info("VoiceInk store busy mid-read, starting over", "path", r.path, "attempt", attempt, "already_read", len(seen))
		}
		return read(func(rec *model.Transcription) bool {
			if _, dup := seen[rec.ID]; dup {
				return true
			}
			seen[rec.ID] = struct{}{}
			if !yield(rec, nil) {
				stopped = true
				return false
			}
			return true
		})
	})
	switch {
	case stopped:
	case err != nil:
		yield(nil, r.wrap(err))
	default:
		r.log.Debug("read source store", "path", r.path, "records", len(seen))
	}
}

// readPass runs the transcription query once. Schema inspection is repeated
// on every pass since VoiceInk may migrate the store between attempts.
func readPass(ctx context.Context, db *sql.DB, emit func(*model.Transcription) bool) error {
	present, err := tableColumns(ctx, db)
	if err != nil {
		return err
	}
	q, err := buildQuery(present)
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if !emit(rec) {
			return nil
		}
	}
	return rows.Err()
}

// ReadAll drains [Reader.Records] into a slice.
func (r *Reader) ReadAll(ctx context.Context) ([]*model.Transcription, error) {
	var out []*model.Transcription
	for rec, err := range r.Records(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// dsn builds a read-only SQLite URI. The path is percent-encoded because
// VoiceInk lives under "Application Support".
func (r *Reader) dsn() string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(r.path)}
	timeout := r.opts.BusyTimeout.Milliseconds()
	return fmt.Sprintf("%s?mode=ro&_busy_timeout=%d", u.String(), timeout)
}

// wrap classifies a read failure.
func (r *Reader) wrap(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isBusy(err) {
		return fmt.Errorf("%w: %w: %w", model.ErrSourceUnavailable, model.ErrSourceBusy, err)
	}
	return fmt.Errorf("%w: reading %q: %w", model.ErrSourceUnavailable, r.path, err)
}

func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %q is a directory", model.ErrSourceUnavailable, path)
	}
	return nil
}

// isBusy reports whether err is SQLite's "database is locked" family.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// tableColumns returns the upper-cased column names of ZTRANSCRIPTION.
func tableColumns(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning column name: %w", err)
		}
		present[strings.ToUpper(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", table, err)
	}
	if len(present) == 0 {
		return nil, fmt.Errorf("%w: table %s not found", errSchema, table)
	}
	return present, nil
}

// buildQuery selects the known columns, substituting NULL for optional ones
// the store lacks. Unknown extra columns are ignored.
func buildQuery(present map[string]bool) (string, error) {
	sel := make([]string, 0, len(columns))
	for _, c := range columns {
		switch {
		case present[c.name] && c.real:
			sel = append(sel, "CAST("+c.name+" AS REAL) AS "+c.name)
		case present[c.name]:
			sel = append(sel, c.name)
		case c.required:
			return "", fmt.Errorf("%w: column %s.%s missing", errSchema, table, c.name)
		default:
			sel = append(sel, "NULL AS "+c.name)
		}
	}
	return `SELECT ` + strings.Join(sel, ", ") + ` FROM ` + table + `
		WHERE ZTEXT IS NOT NULL AND ZTEXT != ''
		ORDER BY ZTIMESTAMP ASC, Z_PK ASC`, nil
}

func scanRecord(rows *sql.Rows) (*model.Transcription, error) {
	var (
		pk                          int64
		rawID                       any
		text, enhanced, prompt, pwr sql.NullString
		ts, duration                sql.NullFloat64
	)
	if err := rows.Scan(&pk, &rawID, &text, &enhanced, &ts, &duration, &prompt, &pwr); err != nil {
		return nil, fmt.Errorf("scanning transcription row: %w", err)
	}

	return &model.Transcription{
		ID:            recordID(rawID, pk),
		Text:          text.String,
		EnhancedText:  enhanced.String,
		CreatedAt:     coreDataTime(ts),
		Duration:      duration.Float64,
		PromptName:    prompt.String,
		PowerModeName: pwr.String,
	}, nil
}

// recordID renders the ZID column the way earlier VoiceInk exporters keyed
// their pages: the upper-case hex of the raw value, dashed into UUID form
// when it is 16 bytes. Keys already in the remote store depend on this
// format. An empty ZID falls back to the row primary key.
func recordID(raw any, pk int64) string {
	var b []byte
	switch v := raw.(type) {
	case nil:
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		b = []byte(fmt.Sprint(v))
	}
	if len(b) == 0 {
		return strconv.FormatInt(pk, 10)
	}
	if id, err := uuid.FromBytes(b); err == nil {
		return strings.ToUpper(id.String())
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

// coreDataTime converts seconds since the Core Data epoch. A NULL timestamp
// maps to the epoch itself so ordering stays deterministic.
func coreDataTime(v sql.NullFloat64) time.Time {
	if !v.Valid {
		return coreDataEpoch
	}
	return coreDataEpoch.Add(time.Duration(v.Float64 * float64(time.Second)))
}
