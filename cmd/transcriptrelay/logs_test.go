package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTailLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want []string
	}{
		{"fewer than n", "a\nb\n", 5, []string{"a", "b"}},
		{"exactly n", "a\nb\nc\n", 3, []string{"a", "b", "c"}},
		{"more than n", "1\n2\n3\n4\n5\n6\n7\n", 3, []string{"5", "6", "7"}},
		{"wraps ring twice", "1\n2\n3\n4\n5\n6\n7\n8\n", 3, []string{"6", "7", "8"}},
		{"no trailing newline", "x\ny\nz", 2, []string{"y", "z"}},
		{"trailing blank lines", "x\ny\n\n\n", 2, []string{"x", "y"}},
		{"zero", "a\nb\n", 0, nil},
		{"empty input", "", 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tailLines(strings.NewReader(tt.in), tt.n)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("tailLines (-want +got):\n%s", diff)
			}
		})
	}
}

func TestShowLogs(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := range 60 {
		lines = append(lines, "cycle "+strconv.Itoa(i))
	}
	lines[59] = "last uploaded record"
	if err := os.WriteFile(filepath.Join(dir, "stdout.log"), []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stderr.log"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := showLogs(&out, dir, 2); err != nil {
		t.Fatalf("showLogs: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"== stdout.log (last 2 lines) ==\n" + lines[58] + "\nlast uploaded record\n",
		"== stderr.log (last 2 lines) ==\n  (empty)\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "stdout.log") > strings.Index(got, "stderr.log") {
		t.Errorf("stdout.log should be listed first:\n%s", got)
	}
}

func TestShowLogs_NoneInstalled(t *testing.T) {
	var out bytes.Buffer
	if err := showLogs(&out, t.TempDir(), 10); !errors.Is(err, errNoLogs) {
		t.Errorf("err = %v, want errNoLogs", err)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
}

// lockedBuffer is a bytes.Buffer safe for one writer and one poller.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFollowLogs_PrintsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stderr.log")
	if err := os.WriteFile(path, []byte("already shown\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out lockedBuffer
	done := make(chan error, 1)
	go func() { done <- followLogs(ctx, &out, dir) }()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "Notion unreachable") {
		if time.Now().After(deadline) {
			t.Fatalf("appended line not printed, got %q", out.String())
		}
		// Keep appending until the watcher is registered and sees a write.
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = f.WriteString("Notion unreachable\n")
		_ = f.Close()
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("followLogs = %v, want context.Canceled", err)
	}
	if strings.Contains(out.String(), "already shown") {
		t.Errorf("existing content repeated: %q", out.String())
	}
}
