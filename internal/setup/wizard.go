package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/njoerd114/transcriptrelay/internal/config"
	"github.com/njoerd114/transcriptrelay/internal/model"
)

// Wizard guides the user through first-run configuration and installation.
type Wizard struct {
	prompt *Prompter
	logger *slog.Logger
	w      io.Writer

	cfgPath string
	homeDir string

	newNotion func(apiKey, databaseID string) NotionChecker
	install   func(homeDir string) error
}

// NewWizard creates a Wizard wired to the given I/O and logger. It writes
// the config to cfgPath and looks for VoiceInk under homeDir.
func NewWizard(r io.Reader, w io.Writer, cfgPath, homeDir string, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt:  NewPrompter(r, w),
		logger:  logger,
		w:       w,
		cfgPath: cfgPath,
		homeDir: homeDir,
		newNotion: func(apiKey, databaseID string) NotionChecker {
			return NewNotionChecker(apiKey, databaseID, logger)
		},
		install: InstallDaemon,
	}
}

// Run executes the interactive setup wizard. It walks the user through the
// Notion connection, the VoiceInk store, the sync interval, config file
// creation, and optional daemon install.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to TranscriptRelay Setup!\n")
	fmt.Fprintf(wiz.w, "This wizard connects VoiceInk to a Notion database.\n\n")

	if _, statErr := os.Stat(wiz.cfgPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", wiz.cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return wiz.offerDaemonInstall()
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: Notion connection.
	fmt.Fprintf(wiz.w, "Step 1/4: Notion Connection\n")
	fmt.Fprintf(wiz.w, "  Create an integration at https://www.notion.so/my-integrations and\n")
	fmt.Fprintf(wiz.w, "  share your database with it (••• → Connections).\n\n")

	apiKey, err := wiz.prompt.NotionSecret("Integration secret")
	if err != nil {
		return err
	}
	dbID, err := wiz.askDatabaseID()
	if err != nil {
		return err
	}

	checker := wiz.newNotion(apiKey, dbID)

	fmt.Fprintf(wiz.w, "  Connecting to Notion...")
	title, err := checker.Ping(ctx)
	if err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot open the Notion database: %w\n\n  Check the secret and that the database is shared with the integration", err)
	}
	fmt.Fprintf(wiz.w, " ✓ %q\n", title)

	fmt.Fprintf(wiz.w, "  Checking database properties...")
	if err := checker.EnsureProperties(ctx, model.RequiredSchema()); err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("preparing database properties: %w", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n\n")

	// Step 2: VoiceInk store.
	fmt.Fprintf(wiz.w, "Step 2/4: VoiceInk Store\n")
	sourcePath, err := wiz.chooseSource(ctx)
	if err != nil {
		return err
	}

	// Step 3: Sync interval.
	fmt.Fprintf(wiz.w, "Step 3/4: Sync Interval\n")
	interval := wiz.askInterval()
	fmt.Fprintf(wiz.w, "\n")

	// Step 4: Write config.
	fmt.Fprintf(wiz.w, "Step 4/4: Save Configuration\n")

	cfg := &config.Config{
		NotionAPIKey:        apiKey,
		NotionDatabaseID:    dbID,
		SyncIntervalSeconds: interval,
		SourcePath:          sourcePath,
	}
	if err := cfg.Write(wiz.cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", wiz.cfgPath)

	return wiz.offerDaemonInstall()
}

// askDatabaseID prompts until the input is a database ID or URL.
func (wiz *Wizard) askDatabaseID() (string, error) {
	for range 3 {
		raw := wiz.prompt.String("Database ID or URL", "")
		if raw == "" {
			break
		}
		id, err := config.NormalizeDatabaseID(raw)
		if err == nil {
			return id, nil
		}
		fmt.Fprintf(wiz.w, "  (%q does not contain a database ID; copy the link from Share → Copy link)\n", raw)
	}
	return "", fmt.Errorf("no valid Notion database ID entered")
}

// chooseSource lets the user pick a discovered store, enter a path, or defer
// discovery to startup. An empty result means auto-detect.
func (wiz *Wizard) chooseSource(ctx context.Context) (string, error) {
	fmt.Fprintf(wiz.w, "  Looking for VoiceInk stores...\n")
	stores := DiscoverVoiceInkStores(ctx, wiz.homeDir, wiz.logger)

	if len(stores) == 0 {
		fmt.Fprintf(wiz.w, "  ⚠ No VoiceInk store found. Is VoiceInk installed and has it recorded anything?\n")
		if wiz.prompt.Confirm("Enter the store path manually?", false) {
			path := wiz.prompt.String("Path to the VoiceInk store", "")
			fmt.Fprintf(wiz.w, "\n")
			return path, nil
		}
		fmt.Fprintf(wiz.w, "  The store will be detected automatically at startup.\n\n")
		return "", nil
	}

	options := make([]string, 0, len(stores)+1)
	for _, s := range stores {
		options = append(options, s.String())
	}
	options = append(options, "Detect automatically at startup")

	idx, err := wiz.prompt.Select("VoiceInk store", options)
	if err != nil {
		return "", fmt.Errorf("selecting VoiceInk store: %w", err)
	}
	fmt.Fprintf(wiz.w, "\n")
	if idx == len(stores) {
		return "", nil
	}
	return stores[idx].Path, nil
}

// askInterval returns the sync interval in seconds, falling back to the
// default on invalid input.
func (wiz *Wizard) askInterval() int {
	raw := wiz.prompt.String(
		fmt.Sprintf("Seconds between sync cycles (%d-%d)", config.MinIntervalSeconds, config.MaxIntervalSeconds),
		strconv.Itoa(config.DefaultIntervalSeconds),
	)
	n, err := strconv.Atoi(raw)
	if err != nil || n < config.MinIntervalSeconds || n > config.MaxIntervalSeconds {
		fmt.Fprintf(wiz.w, "  (invalid interval, using default %ds)\n", config.DefaultIntervalSeconds)
		return config.DefaultIntervalSeconds
	}
	return n
}

// offerDaemonInstall asks the user whether to install as a background daemon.
func (wiz *Wizard) offerDaemonInstall() error {
	if !wiz.prompt.Confirm("Install as background daemon (starts on login)?", true) {
		fmt.Fprintf(wiz.w, "\n  Skipping daemon install.\n")
		fmt.Fprintf(wiz.w, "  You can run manually with: %s daemon\n", BinaryName)
		fmt.Fprintf(wiz.w, "  Or install later with:     %s setup\n\n", BinaryName)
		return nil
	}

	fmt.Fprintf(wiz.w, "\n")
	if err := wiz.install(wiz.homeDir); err != nil {
		return err
	}
	fmt.Fprintf(wiz.w, "  ✓ Daemon loaded, running now\n")

	fmt.Fprintf(wiz.w, "\nSetup complete! TranscriptRelay is syncing in the background.\n")
	fmt.Fprintf(wiz.w, "  Config:  %s\n", wiz.cfgPath)
	fmt.Fprintf(wiz.w, "  Logs:    %s\n", LogDir(wiz.homeDir))
	fmt.Fprintf(wiz.w, "  Status:  %s status\n", BinaryName)
	fmt.Fprintf(wiz.w, "  Remove:  %s uninstall\n\n", BinaryName)

	return nil
}
