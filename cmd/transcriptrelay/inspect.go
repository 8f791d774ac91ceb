package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/njoerd114/transcriptrelay/internal/config"
	"github.com/njoerd114/transcriptrelay/internal/model"
	"github.com/njoerd114/transcriptrelay/internal/notion"
	"github.com/njoerd114/transcriptrelay/internal/setup"
	"github.com/njoerd114/transcriptrelay/internal/state"
)

const (
	defaultListLimit = 20
	excerptRunes     = 60
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	dimStyle     = cellStyle.Foreground(lipgloss.Color("8"))
	syncedStyle  = cellStyle.Foreground(lipgloss.Color("2"))
	skippedStyle = cellStyle.Foreground(lipgloss.Color("3"))
)

// runStatus prints the daemon, configuration, source, and sync state.
func runStatus(args []string) error {
	fs := newFlagSet("status")
	cfgPath := configFlag(fs)
	offline := fs.Bool("offline", false, "do not contact Notion")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	homeDir, _ := os.UserHomeDir()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	fmt.Println("TranscriptRelay Status")
	fmt.Println("──────────────────────")

	if setup.IsDaemonLoaded() {
		fmt.Println("  Daemon:    running (launchd)")
	} else {
		fmt.Println("  Daemon:    not loaded")
	}

	cfg, cfgErr := config.Load(*cfgPath)
	switch {
	case cfgErr == nil:
		fmt.Printf("  Config:    %s ✓\n", *cfgPath)
		fmt.Printf("  Database:  %s\n", cfg.NotionDatabaseID)
		fmt.Printf("  Interval:  %s\n", cfg.Interval())
	case fileExists(*cfgPath):
		fmt.Printf("  Config:    %s (invalid: %v)\n", *cfgPath, cfgErr)
	default:
		fmt.Printf("  Config:    not found (%s)\n", *cfgPath)
	}

	src := &storeSource{home: homeDir, log: quiet}
	if cfg != nil {
		src.path = cfg.SourcePath
	}
	if r, err := src.open(); err == nil {
		fmt.Printf("  VoiceInk:  %s\n", r.Path())
	} else {
		fmt.Printf("  VoiceInk:  %v\n", err)
	}

	statePath := ""
	if cfg != nil {
		statePath = cfg.StatePath
	}
	if statePath == "" {
		statePath, _ = state.DefaultPath()
	}
	printStateStatus(statePath, quiet)

	if cfg != nil && !*offline {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if title, err := notion.New(cfg.NotionAPIKey, cfg.NotionDatabaseID, quiet).Ping(ctx); err == nil {
			fmt.Printf("  Notion:    %q reachable ✓\n", title)
		} else {
			fmt.Printf("  Notion:    unreachable (%v)\n", err)
		}
	}

	if homeDir != "" {
		plistPath := setup.PlistPath(homeDir)
		if fileExists(plistPath) {
			fmt.Printf("  Plist:     %s\n", plistPath)
		} else {
			fmt.Printf("  Plist:     not installed\n")
		}
		fmt.Printf("  Logs:      %s\n", setup.LogDir(homeDir))
	}

	return nil
}

func printStateStatus(path string, logger *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("  State:     not found (first cycle seeds it from Notion)\n")
		return
	}
	fmt.Printf("  State:     %s (%s)\n", path, humanize.Bytes(uint64(info.Size())))

	store, err := state.Open(path, logger)
	if err != nil {
		return
	}
	st := store.Load()
	fmt.Printf("  Synced:    %s transcription(s)\n", humanize.Comma(int64(st.SyncedCount())))
	if n := len(st.Skipped); n > 0 {
		fmt.Printf("  Skipped:   %d (rejected by Notion, see 'transcriptrelay list')\n", n)
	}
	if n := len(st.Failures); n > 0 {
		fmt.Printf("  Failing:   %d record(s) awaiting retry\n", n)
	}
	fmt.Printf("  Last sync: %s\n", relative(st.LastSyncAt))
	fmt.Printf("  Last run:  %s (%s cycles)\n", relative(st.Metadata.LastCycleAt), humanize.Comma(int64(st.Metadata.Cycles)))
}

func relative(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// runList prints the most recent transcriptions with their sync state.
func runList(args []string) error {
	fs := newFlagSet("list")
	cfgPath := configFlag(fs)
	limit := fs.IntP("limit", "n", defaultListLimit, "number of transcriptions to show")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if *limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	src := &storeSource{home: homeDir, log: quiet}
	statePath := ""
	if cfg, err := config.Load(*cfgPath); err == nil {
		src.path = cfg.SourcePath
		statePath = cfg.StatePath
	}
	if statePath == "" {
		if statePath, err = state.DefaultPath(); err != nil {
			return err
		}
	}

	r, err := src.open()
	if err != nil {
		return err
	}
	recs, err := r.ReadAll(context.Background())
	if err != nil {
		return err
	}

	st := state.New()
	if fileExists(statePath) {
		if store, err := state.Open(statePath, quiet); err == nil {
			st = store.Load()
		}
	}

	if len(recs) == 0 {
		fmt.Println("No transcriptions yet.")
		return nil
	}
	fmt.Println(renderList(recs, st, *limit, time.Now()))
	fmt.Printf("%s of %s transcription(s) shown, %s synced.\n",
		humanize.Comma(int64(min(*limit, len(recs)))),
		humanize.Comma(int64(len(recs))),
		humanize.Comma(int64(st.SyncedCount())))
	return nil
}

// renderList renders the newest limit records as a table, newest first.
func renderList(recs []*model.Transcription, st *state.SyncState, limit int, now time.Time) string {
	recent := slices.Clone(recs[max(0, len(recs)-limit):])
	slices.Reverse(recent)

	marks := make([]string, len(recent))
	rows := make([][]string, len(recent))
	for i, rec := range recent {
		marks[i] = syncMark(st, rec.ID)
		rows[i] = []string{
			marks[i],
			humanize.RelTime(rec.CreatedAt, now, "ago", "from now"),
			formatDuration(rec.Duration),
			excerpt(rec.Text, excerptRunes),
		}
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers("", "CREATED", "LENGTH", "TEXT").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col != 0:
				return cellStyle
			case marks[row] == "✓":
				return syncedStyle
			case marks[row] == "⊘":
				return skippedStyle
			default:
				return dimStyle
			}
		})
	return t.String()
}

func syncMark(st *state.SyncState, id string) string {
	switch {
	case st.IsSynced(id):
		return "✓"
	case st.IsSkipped(id):
		return "⊘"
	default:
		return "·"
	}
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return (time.Duration(seconds * float64(time.Second))).Round(time.Second).String()
}

// excerpt returns the first n runes of s on a single line.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
