package setup

import (
	"context"
	"io"
	"log/slog"

	"github.com/njoerd114/transcriptrelay/internal/model"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeChecker is a NotionChecker that records what the wizard asked for.
type fakeChecker struct {
	title     string
	pingErr   error
	ensureErr error

	pinged   bool
	ensured  []model.Property
	apiKey   string
	database string
}

func (f *fakeChecker) Ping(context.Context) (string, error) {
	f.pinged = true
	return f.title, f.pingErr
}

func (f *fakeChecker) EnsureProperties(_ context.Context, required []model.Property) error {
	f.ensured = required
	return f.ensureErr
}

// fakeInstaller stands in for the launchd install.
type fakeInstaller struct {
	calls   int
	homeDir string
	err     error
}

func (f *fakeInstaller) install(homeDir string) error {
	f.calls++
	f.homeDir = homeDir
	return f.err
}
