// TranscriptRelay is a macOS daemon that mirrors VoiceInk transcriptions into
// a Notion database, one page per transcription, oldest first.
//
// Usage:
//
//	transcriptrelay setup                      # interactive first-run wizard
//	transcriptrelay daemon [--config <path>]   # sync continuously
//	transcriptrelay sync-once [--config ...]   # single sync cycle then exit
//	transcriptrelay status                     # show daemon, config, and sync state
//	transcriptrelay list [--limit N]           # recent transcriptions and their sync state
//	transcriptrelay logs [--lines N] [--follow] # show daemon logs
//	transcriptrelay reset [--yes]              # forget sync state, reseed from Notion
//	transcriptrelay uninstall [--purge]        # stop daemon and remove files
//	transcriptrelay version                    # print version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/njoerd114/transcriptrelay/internal/config"
	"github.com/njoerd114/transcriptrelay/internal/setup"
	"github.com/njoerd114/transcriptrelay/internal/state"
	"github.com/njoerd114/transcriptrelay/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// errUsage reports a bad invocation; the usage text has already been printed.
var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			slog.Error("fatal error", "error", err)
		}
		os.Exit(1)
	}
}

// run dispatches to the subcommand named by args[0].
func run(args []string) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "setup":
		return runSetup()
	case "daemon":
		return runSync(rest, true)
	case "sync-once":
		return runSync(rest, false)
	case "status":
		return runStatus(rest)
	case "list":
		return runList(rest)
	case "logs":
		return runLogs(rest)
	case "reset":
		return runReset(rest)
	case "uninstall":
		return runUninstall(rest)
	case "version", "--version", "-v":
		fmt.Println("transcriptrelay", version)
		return nil
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return nil
	}

	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
	printUsage(os.Stderr)
	return errUsage
}

// printUsage shows help and suggests setup if no config exists.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "TranscriptRelay: mirror VoiceInk transcriptions into Notion")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  transcriptrelay setup                   Interactive first-run wizard")
	fmt.Fprintln(w, "  transcriptrelay daemon [--config ...]   Sync continuously")
	fmt.Fprintln(w, "  transcriptrelay sync-once [--config ..] Single sync cycle then exit")
	fmt.Fprintln(w, "  transcriptrelay status                  Show daemon, config, and sync state")
	fmt.Fprintln(w, "  transcriptrelay list [--limit N]        Recent transcriptions and their sync state")
	fmt.Fprintln(w, "  transcriptrelay logs [-n N] [--follow]  Show daemon logs")
	fmt.Fprintln(w, "  transcriptrelay reset [--yes]           Forget sync state and reseed from Notion")
	fmt.Fprintln(w, "  transcriptrelay uninstall [--purge]     Stop daemon and remove files")
	fmt.Fprintln(w, "  transcriptrelay version                 Print version")
	fmt.Fprintln(w, "")

	if cfgPath, err := config.DefaultPath(); err == nil {
		if _, err := os.Stat(cfgPath); err != nil {
			fmt.Fprintln(w, "No config file found. Run 'transcriptrelay setup' to get started.")
		}
	}
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

// parseFlags parses args into fs. A help request is reported as done=true.
func parseFlags(fs *pflag.FlagSet, args []string) (done bool, err error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "%s: unexpected argument %q\n", fs.Name(), fs.Arg(0))
		return false, errUsage
	}
	return false, nil
}

// configFlag registers the shared --config flag.
func configFlag(fs *pflag.FlagSet) *string {
	defaultCfg, _ := config.DefaultPath()
	return fs.StringP("config", "c", defaultCfg, "path to config.yaml")
}

// --- Logging -----------------------------------------------------------------

// newLogger builds the process logger: text to stderr, plus a rotated file
// when logFile is set. Records are also emitted through the global OTel
// logger provider, which is a no-op until telemetry is configured.
func newLogger(stderr io.Writer, logFile string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	w := stderr
	if logFile != "" {
		w = io.MultiWriter(stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(telemetry.NewHandler(inner, nil))
}

// --- Subcommands -------------------------------------------------------------

// runSetup launches the interactive setup wizard.
func runSetup() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	cfgPath, err := config.DefaultPath()
	if err != nil {
		return err
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	wiz := setup.NewWizard(os.Stdin, os.Stdout, cfgPath, homeDir, logger)
	return wiz.Run(ctx)
}

// runReset removes the sync state document. The next cycle rebuilds it from
// the keys already in Notion, so nothing is uploaded twice.
func runReset(args []string) error {
	fs := newFlagSet("reset")
	cfgPath := configFlag(fs)
	yes := fs.BoolP("yes", "y", false, "do not ask for confirmation")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	statePath, err := resolveStatePath(*cfgPath)
	if err != nil {
		return err
	}

	if !*yes {
		p := setup.NewPrompter(os.Stdin, os.Stdout)
		fmt.Printf("This forgets which transcriptions were synced (%s).\n", statePath)
		fmt.Println("The next cycle rebuilds the state from the pages already in Notion.")
		if !p.Confirm("Reset sync state?", false) {
			fmt.Println("  Aborted.")
			return nil
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := state.Open(statePath, logger)
	if err != nil {
		return err
	}
	if err := store.Reset(); err != nil {
		return err
	}
	fmt.Println("✓ Sync state reset.")
	if setup.IsDaemonLoaded() {
		fmt.Println("  The daemon reseeds on its next cycle.")
	}
	return nil
}

// resolveStatePath returns the state location from the config file when it
// can be read, or the default location otherwise.
func resolveStatePath(cfgPath string) (string, error) {
	if cfg, err := config.Load(cfgPath); err == nil && cfg.StatePath != "" {
		return cfg.StatePath, nil
	}
	return state.DefaultPath()
}

// runUninstall stops the daemon and removes installed files.
func runUninstall(args []string) error {
	fs := newFlagSet("uninstall")
	purge := fs.Bool("purge", false, "also remove config, sync state, and logs")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}

	fmt.Println("Uninstalling TranscriptRelay...")

	if setup.IsDaemonLoaded() {
		fmt.Println("  Unloading daemon...")
		if err := setup.UnloadDaemon(homeDir); err != nil {
			fmt.Printf("  ⚠ %v\n", err)
		} else {
			fmt.Println("  ✓ Daemon unloaded")
		}
	}

	if err := setup.RemovePlist(homeDir); err != nil {
		fmt.Printf("  ⚠ %v\n", err)
	} else {
		fmt.Println("  ✓ Plist removed")
	}

	fmt.Println("  Removing binary...")
	if err := setup.RemoveBinary(); err != nil {
		fmt.Printf("  ⚠ %v\n", err)
	} else {
		fmt.Println("  ✓ Binary removed")
	}

	if *purge {
		fmt.Println("  Purging config, sync state, and logs...")
		if err := setup.PurgeUserData(homeDir); err != nil {
			fmt.Printf("  ⚠ %v\n", err)
		} else {
			fmt.Println("  ✓ User data purged")
		}
	} else {
		fmt.Println("")
		fmt.Println("  Config and sync state preserved.")
		fmt.Println("  Run with --purge to also remove them:")
		fmt.Println("    transcriptrelay uninstall --purge")
	}

	fmt.Println("")
	fmt.Println("✓ TranscriptRelay uninstalled.")
	return nil
}
