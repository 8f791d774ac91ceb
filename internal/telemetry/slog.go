package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// scopeName identifies the relay's records in the OTel logs pipeline.
const scopeName = "github.com/njoerd114/transcriptrelay"

// Handler is a [slog.Handler] that writes every record to a local handler and
// mirrors it to OpenTelemetry through the otelslog bridge. Only records the
// local handler accepts are mirrored, so --verbose governs both sides.
type Handler struct {
	local  slog.Handler
	bridge slog.Handler
}

// NewHandler tees local with an otelslog bridge on lp. When lp is nil the
// global logger provider is used, so call it after [Setup]; without telemetry
// the global provider is a no-op.
func NewHandler(local slog.Handler, lp otellog.LoggerProvider) *Handler {
	if lp == nil {
		lp = global.GetLoggerProvider()
	}
	return &Handler{
		local:  local,
		bridge: otelslog.NewHandler(scopeName, otelslog.WithLoggerProvider(lp)),
	}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.local.Enabled(ctx, level)
}

// Handle writes r locally and, if the provider wants it, to OTel. A bridge
// failure does not keep the record from the local handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var bridgeErr error
	if h.bridge.Enabled(ctx, r.Level) {
		bridgeErr = h.bridge.Handle(ctx, r.Clone())
	}
	return errors.Join(h.local.Handle(ctx, r), bridgeErr)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{local: h.local.WithAttrs(attrs), bridge: h.bridge.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{local: h.local.WithGroup(name), bridge: h.bridge.WithGroup(name)}
}
