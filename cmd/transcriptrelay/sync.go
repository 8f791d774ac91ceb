package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/njoerd114/transcriptrelay/internal/config"
	"github.com/njoerd114/transcriptrelay/internal/model"
	"github.com/njoerd114/transcriptrelay/internal/notion"
	"github.com/njoerd114/transcriptrelay/internal/source"
	"github.com/njoerd114/transcriptrelay/internal/state"
	syncp "github.com/njoerd114/transcriptrelay/internal/sync"
	"github.com/njoerd114/transcriptrelay/internal/telemetry"
)

const (
	// watchDebounce merges the burst of WAL writes VoiceInk makes per
	// transcription into one early cycle.
	watchDebounce = 2 * time.Second

	pingTimeout = 15 * time.Second
)

// runSync handles both the "daemon" and "sync-once" subcommands.
func runSync(args []string, daemon bool) error {
	name := "sync-once"
	if daemon {
		name = "daemon"
	}
	fs := newFlagSet(name)
	cfgPath := configFlag(fs)
	verbose := fs.BoolP("verbose", "v", false, "enable debug logging")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon)
}

// startSync is the shared implementation for daemon and sync-once modes.
func startSync(cfgPath string, verbose, daemon bool) error {
	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}

	// --- Telemetry (optional) ------------------------------------------------

	// Set up before the logger so records reach the OTel log provider.
	var telErr error
	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(context.Background(), telemetry.Config{
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Headers:        cfg.Telemetry.Headers,
		})
		telErr = err
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTel(flushCtx); err != nil {
				slog.Error("telemetry shutdown error", "error", err)
			}
		}()
	}

	// --- Logger --------------------------------------------------------------

	logger := newLogger(os.Stderr, cfg.LogFile, verbose)
	slog.SetDefault(logger)
	logger.Info("config loaded",
		"database", cfg.NotionDatabaseID,
		"interval", cfg.Interval(),
		"source", cfg.SourcePath,
	)
	if telErr != nil {
		logger.Error("telemetry setup failed, continuing without telemetry", "error", telErr)
	} else if cfg.Telemetry != nil {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	// --- State ---------------------------------------------------------------

	statePath := cfg.StatePath
	if statePath == "" {
		if statePath, err = state.DefaultPath(); err != nil {
			return err
		}
	}
	store, err := state.Open(statePath, logger)
	if err != nil {
		return fmt.Errorf("opening sync state at %q: %w", statePath, err)
	}
	logger.Info("sync state ready", "path", statePath)

	// --- Source --------------------------------------------------------------

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	src := &storeSource{path: cfg.SourcePath, home: homeDir, log: logger}

	// --- Notion --------------------------------------------------------------

	remote := notion.New(cfg.NotionAPIKey, cfg.NotionDatabaseID, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	title, err := remote.Ping(pingCtx)
	cancel()
	switch {
	case err == nil:
		logger.Info("Notion database reachable", "title", title)
	case daemon:
		logger.Warn("Notion database not reachable yet, will retry every cycle", "error", err)
	default:
		return fmt.Errorf("connecting to Notion database %s: %w\n\nCheck notion_api_key and that the database is shared with the integration", cfg.NotionDatabaseID, err)
	}

	// --- Sync engine ---------------------------------------------------------

	reconciler := syncp.NewReconciler(src, remote, store, syncp.ReconcilerOptions{
		MaxRecordFailures: cfg.MaxRecordFailures,
	}, logger)

	if !daemon {
		engine := syncp.NewEngine(reconciler, cfg.Interval(), logger)
		logger.Info("running single sync cycle")
		sum, err := engine.RunOnce(ctx)
		logSummary(logger, sum)
		return err
	}

	var opts []syncp.EngineOption
	if w := startWatcher(src, logger); w != nil {
		defer w.Close()
		opts = append(opts, syncp.WithTrigger(w.Changes()))
	}
	engine := syncp.NewEngine(reconciler, cfg.Interval(), logger, opts...)

	logger.Info("daemon starting", "interval", cfg.Interval())
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func logSummary(logger *slog.Logger, sum syncp.Summary) {
	logger.Info("sync complete",
		"seeded", sum.Seeded,
		"already_synced", sum.AlreadySynced,
		"uploaded", sum.NewlySynced,
		"failed", sum.Failed,
		"remaining", sum.Remaining,
		"skipped", sum.Skipped,
	)
}

// startWatcher watches the store for writes. It returns nil when the store
// cannot be located or watched; the engine then relies on the interval alone.
func startWatcher(src *storeSource, logger *slog.Logger) *source.Watcher {
	path, err := src.resolve()
	if err != nil {
		logger.Warn("not watching the VoiceInk store", "error", err)
		return nil
	}
	w, err := source.NewWatcher(path, watchDebounce, logger)
	if err != nil {
		logger.Warn("not watching the VoiceInk store", "path", path, "error", err)
		return nil
	}
	logger.Info("watching VoiceInk store", "path", path)
	return w
}

// storeSource locates and opens the VoiceInk store on every read, so the
// daemon survives VoiceInk being installed or its store being recreated
// after startup.
type storeSource struct {
	path string
	home string
	log  *slog.Logger
}

// resolve returns the configured store path or the discovered one.
func (s *storeSource) resolve() (string, error) {
	if s.path != "" {
		return s.path, nil
	}
	return source.FindStore(s.home)
}

// open returns a Reader for the current store.
func (s *storeSource) open() (*source.Reader, error) {
	path, err := s.resolve()
	if err != nil {
		return nil, err
	}
	return source.Open(path, source.DefaultOptions, s.log)
}

// Records implements [syncp.Source].
func (s *storeSource) Records(ctx context.Context) iter.Seq2[*model.Transcription, error] {
	r, err := s.open()
	if err != nil {
		return func(yield func(*model.Transcription, error) bool) {
			yield(nil, err)
		}
	}
	return r.Records(ctx)
}
