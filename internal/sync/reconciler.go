package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/njoerd114/transcriptrelay/internal/model"
	"github.com/njoerd114/transcriptrelay/internal/state"
)

// DefaultMaxRecordFailures is how many times the remote store may reject the
// same record's content before it is skipped.
const DefaultMaxRecordFailures = 3

// uploadTimeout bounds a single record upload. Uploads are detached from
// cycle cancellation so a shutdown never abandons a create whose outcome is
// unknown.
const uploadTimeout = 60 * time.Second

// Summary reports what a single cycle did.
type Summary struct {
	// Seeded is true when the cycle rebuilt the state from the remote store.
	Seeded bool

	// AlreadySynced counts source records that were mirrored before the cycle.
	AlreadySynced int

	// NewlySynced counts records uploaded during the cycle.
	NewlySynced int

	// Failed counts upload attempts that failed during the cycle.
	Failed int

	// Remaining counts pending records that were not attempted because the
	// cycle stopped early.
	Remaining int

	// Skipped counts source records excluded after repeated rejections,
	// including any skipped during this cycle.
	Skipped int

	// NewlySkipped counts records skipped during this cycle.
	NewlySkipped int
}

// ReconcilerOptions tunes a [Reconciler]. Zero values select defaults.
type ReconcilerOptions struct {
	// MaxRecordFailures is the number of consecutive content rejections after
	// which a record is skipped.
	MaxRecordFailures int

	// Clock stamps failures and successes.
	Clock Clock
}

// Reconciler performs a single one-way sync pass. All persistent state lives
// in the [StateStore]; the only thing cached between calls is whether the
// remote schema has been verified.
type Reconciler struct {
	src    Source
	remote Remote
	store  StateStore
	seeder *Seeder
	opts   ReconcilerOptions
	log    *slog.Logger

	schemaOK bool
}

// NewReconciler creates a Reconciler wired to the given source, remote, and
// state store.
func NewReconciler(src Source, remote Remote, store StateStore, opts ReconcilerOptions, logger *slog.Logger) *Reconciler {
	if opts.MaxRecordFailures <= 0 {
		opts.MaxRecordFailures = DefaultMaxRecordFailures
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	return &Reconciler{
		src:    src,
		remote: remote,
		store:  store,
		seeder: NewSeeder(remote, store, logger),
		opts:   opts,
		log:    logger,
	}
}

// RunCycle performs one reconciliation cycle:
//
//  1. Load the state, seeding it from the remote store if it was never
//     seeded.
//  2. Read the ordered source sequence.
//  3. Upload every record that is neither synced nor skipped, oldest first,
//     saving the state after each success.
//
// The cycle stops at the first failed upload and returns the failure; the
// record stays pending for the next cycle. A record whose content the remote
// store rejected MaxRecordFailures times in a row is skipped instead, and the
// cycle carries on with the next record. A panic inside the cycle is
// recovered and returned as an error.
func (r *Reconciler) RunCycle(ctx context.Context) (sum Summary, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("sync cycle panicked", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("sync cycle panicked: %v", p)
		}
	}()

	st := r.store.Load()
	if !st.RemoteSeeded {
		st, err = r.seeder.Seed(ctx)
		if err != nil {
			return sum, fmt.Errorf("seeding sync state: %w", err)
		}
		sum.Seeded = true
	}

	pending, err := r.pending(ctx, st, &sum)
	if err != nil {
		return sum, err
	}

	runErr := r.upload(ctx, st, pending, &sum)

	st.Metadata.Cycles++
	st.Metadata.LastCycleAt = r.opts.Clock.Now()
	if err := r.store.Save(st); err != nil && runErr == nil {
		runErr = fmt.Errorf("saving sync state: %w", err)
	}

	r.log.Info("sync cycle complete",
		"already_synced", sum.AlreadySynced,
		"newly_synced", sum.NewlySynced,
		"failed", sum.Failed,
		"remaining", sum.Remaining,
		"skipped", sum.Skipped,
	)
	return sum, runErr
}

// pending reads the full source sequence and returns the records that still
// need uploading, in source order. A source error aborts the cycle before
// anything is uploaded.
func (r *Reconciler) pending(ctx context.Context, st *state.SyncState, sum *Summary) ([]*model.Transcription, error) {
	var pending []*model.Transcription
	for rec, err := range r.src.Records(ctx) {
		if err != nil {
			return nil, fmt.Errorf("reading source: %w", err)
		}
		switch {
		case st.IsSynced(rec.ID):
			sum.AlreadySynced++
		case st.IsSkipped(rec.ID):
			sum.Skipped++
		default:
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

// upload mirrors pending records in order. It returns the error that stopped
// the cycle, if any.
func (r *Reconciler) upload(ctx context.Context, st *state.SyncState, pending []*model.Transcription, sum *Summary) error {
	for i, rec := range pending {
		if err := ctx.Err(); err != nil {
			sum.Remaining = len(pending) - i
			return err
		}

		if err := r.ensureSchema(ctx); err != nil {
			sum.Remaining = len(pending) - i
			return err
		}

		err := r.uploadOne(ctx, rec)
		if err == nil {
			st.MarkSynced(rec.ID, r.opts.Clock.Now())
			if err := r.store.Save(st); err != nil {
				sum.Remaining = len(pending) - i - 1
				return fmt.Errorf("saving sync state after %s: %w", rec.ID, err)
			}
			sum.NewlySynced++
			r.log.Debug("uploaded record", "record_id", rec.ID, "created_at", rec.CreatedAt)
			continue
		}

		sum.Failed++
		rejections := st.RecordFailure(rec.ID, err, r.opts.Clock.Now())
		if errors.Is(err, model.ErrRecordInvalid) || errors.Is(err, model.ErrRemoteRejected) {
			// A property may have been removed or retyped since the check.
			r.schemaOK = false
		}

		if errors.Is(err, model.ErrRecordInvalid) && rejections >= r.opts.MaxRecordFailures {
			st.MarkSkipped(rec.ID, err.Error(), r.opts.Clock.Now())
			sum.Skipped++
			sum.NewlySkipped++
			r.log.Warn("record rejected repeatedly, skipping",
				"record_id", rec.ID, "rejections", rejections, "preview", rec.Preview(50), "error", err)
			if err := r.store.Save(st); err != nil {
				sum.Remaining = len(pending) - i - 1
				return fmt.Errorf("saving sync state after skipping %s: %w", rec.ID, err)
			}
			continue
		}

		r.log.Error("upload failed, stopping cycle",
			"record_id", rec.ID, "consecutive_failures", st.Failures[rec.ID].Count, "error", err)
		sum.Remaining = len(pending) - i - 1
		if saveErr := r.store.Save(st); saveErr != nil {
			r.log.Error("saving failure record", "record_id", rec.ID, "error", saveErr)
		}
		return fmt.Errorf("uploading %s: %w", rec.ID, err)
	}
	return nil
}

// uploadOne creates the remote record for rec. The request is detached from
// ctx cancellation and bounded by uploadTimeout instead.
func (r *Reconciler) uploadOne(ctx context.Context, rec *model.Transcription) error {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
	defer cancel()
	return r.remote.CreateRecord(uctx, model.NewRemoteRecord(rec))
}

// ensureSchema verifies the remote properties once per Reconciler, and again
// after the remote store rejects a record.
func (r *Reconciler) ensureSchema(ctx context.Context) error {
	if r.schemaOK {
		return nil
	}
	if err := r.remote.EnsureProperties(ctx, model.RequiredSchema()); err != nil {
		return fmt.Errorf("ensuring remote schema: %w", err)
	}
	r.schemaOK = true
	return nil
}
