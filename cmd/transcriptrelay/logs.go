package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/njoerd114/transcriptrelay/internal/setup"
)

const defaultLogLines = 50

// daemonLogs are the files launchd writes, see plist.tmpl.
var daemonLogs = []string{"stdout.log", "stderr.log"}

var errNoLogs = errors.New("no daemon logs found")

// runLogs prints the tail of the daemon logs, optionally following them.
func runLogs(args []string) error {
	fs := newFlagSet("logs")
	lines := fs.IntP("lines", "n", defaultLogLines, "number of lines to show per file")
	follow := fs.BoolP("follow", "f", false, "keep printing new lines as they are written")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if *lines < 0 {
		return fmt.Errorf("--lines must not be negative")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	dir := setup.LogDir(homeDir)

	if err := showLogs(os.Stdout, dir, *lines); err != nil {
		if errors.Is(err, errNoLogs) {
			fmt.Println("No logs found. Is the daemon installed? (transcriptrelay setup)")
			fmt.Printf("  Expected location: %s\n", dir)
		}
		return err
	}
	if !*follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	fmt.Println("\nFollowing logs (Ctrl+C to stop)...")
	if err := followLogs(ctx, os.Stdout, dir); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// showLogs writes the last n lines of every daemon log in dir to w.
func showLogs(w io.Writer, dir string, n int) error {
	found := false
	for _, name := range daemonLogs {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		found = true

		tail, err := tailLines(f, n)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		fmt.Fprintf(w, "== %s (last %d lines) ==\n", name, n)
		if len(tail) == 0 {
			fmt.Fprintln(w, "  (empty)")
		}
		for _, line := range tail {
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}
	if !found {
		return errNoLogs
	}
	return nil
}

// tailLines returns the last n lines of r. Trailing blank lines are dropped.
func tailLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]string, 0, n)
	next := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) < n {
			ring = append(ring, sc.Text())
			continue
		}
		ring[next] = sc.Text()
		next = (next + 1) % n
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := append(ring[next:len(ring):len(ring)], ring[:next]...)
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	return out, nil
}

// followLogs prints lines appended to the daemon logs in dir until ctx is
// cancelled. A log that shrinks (rotated or truncated) is read from the start.
func followLogs(ctx context.Context, w io.Writer, dir string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	offsets := make(map[string]int64, len(daemonLogs))
	for _, name := range daemonLogs {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil {
			offsets[name] = info.Size()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching logs: %w", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !isDaemonLog(name) || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			off, err := copyFrom(w, ev.Name, offsets[name])
			if err != nil {
				return err
			}
			offsets[name] = off
		}
	}
}

func isDaemonLog(name string) bool {
	for _, l := range daemonLogs {
		if l == name {
			return true
		}
	}
	return false
}

// copyFrom writes the bytes of path after offset to w and returns the new end
// offset.
func copyFrom(w io.Writer, path string, offset int64) (int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	n, err := io.Copy(w, f)
	return offset + n, err
}
