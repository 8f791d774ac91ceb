package sync

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope      = "transcriptrelay/sync"
	spanCycle      = "sync.cycle"
	metricUploaded = "transcriptrelay.sync.records.uploaded"
	metricFailed   = "transcriptrelay.sync.records.failed"
	metricSkipped  = "transcriptrelay.sync.records.skipped"
	metricDuration = "transcriptrelay.sync.cycle.duration"
)

// Engine schedules reconciliation cycles. Create one with [NewEngine] and
// start it with [Engine.Run] or [Engine.RunOnce].
type Engine struct {
	reconciler *Reconciler
	interval   time.Duration
	clock      Clock
	trigger    <-chan struct{}
	log        *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer      trace.Tracer
	cntUploaded metric.Int64Counter
	cntFailed   metric.Int64Counter
	cntSkipped  metric.Int64Counter
	histCycle   metric.Float64Histogram
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithClock replaces the wall clock used between cycles.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithTrigger starts a cycle early whenever a value arrives on ch, typically
// from a [source.Watcher].
func WithTrigger(ch <-chan struct{}) EngineOption {
	return func(e *Engine) { e.trigger = ch }
}

// NewEngine creates an Engine that runs a cycle every interval.
func NewEngine(reconciler *Reconciler, interval time.Duration, logger *slog.Logger, opts ...EngineOption) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	hist, err := meter.Float64Histogram(metricDuration,
		metric.WithDescription("Duration of a sync cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Error("creating OTel histogram", "name", metricDuration, "error", err)
		hist = noop.Float64Histogram{}
	}

	e := &Engine{
		reconciler: reconciler,
		interval:   interval,
		clock:      SystemClock(),
		log:        logger,

		tracer:      tracer,
		cntUploaded: mustCounter(metricUploaded, "Number of records uploaded"),
		cntFailed:   mustCounter(metricFailed, "Number of failed record uploads"),
		cntSkipped:  mustCounter(metricSkipped, "Number of records skipped after repeated rejections"),
		histCycle:   hist,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// cycle runs one reconciliation cycle, recording a trace span and metrics.
func (e *Engine) cycle(ctx context.Context) (Summary, error) {
	ctx, span := e.tracer.Start(ctx, spanCycle)
	defer span.End()

	start := e.clock.Now()
	sum, err := e.reconciler.RunCycle(ctx)
	e.histCycle.Record(ctx, e.clock.Now().Sub(start).Seconds())

	if sum.NewlySynced > 0 {
		e.cntUploaded.Add(ctx, int64(sum.NewlySynced))
	}
	if sum.Failed > 0 {
		e.cntFailed.Add(ctx, int64(sum.Failed))
	}
	if sum.NewlySkipped > 0 {
		e.cntSkipped.Add(ctx, int64(sum.NewlySkipped))
	}

	span.SetAttributes(
		attribute.Bool("sync.seeded", sum.Seeded),
		attribute.Int("sync.already_synced", sum.AlreadySynced),
		attribute.Int("sync.newly_synced", sum.NewlySynced),
		attribute.Int("sync.failed", sum.Failed),
		attribute.Int("sync.remaining", sum.Remaining),
		attribute.Int("sync.skipped", sum.Skipped),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return sum, err
}

// RunOnce performs a single reconciliation cycle and returns.
func (e *Engine) RunOnce(ctx context.Context) (Summary, error) {
	return e.cycle(ctx)
}

// Run runs a cycle immediately, then again after every interval or trigger,
// until ctx is cancelled. Cycle errors are logged and never end the loop.
// Cycles never overlap: a trigger that fires mid-cycle starts the next cycle
// as soon as the current one returns.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("sync engine started", "interval", e.interval)

	if _, err := e.cycle(ctx); err != nil && ctx.Err() == nil {
		e.log.Error("initial sync cycle failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-e.clock.After(e.interval):
		case <-e.trigger:
			e.log.Debug("source changed, starting cycle early")
		}

		if _, err := e.cycle(ctx); err != nil && ctx.Err() == nil {
			e.log.Error("sync cycle failed", "error", err)
		}
	}
}
