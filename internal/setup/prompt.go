// Package setup implements the interactive first-run wizard that connects
// TranscriptRelay to Notion, finds the VoiceInk store, and installs the
// launchd daemon.
package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// secretPrefixes are the prefixes Notion gives internal integration secrets:
// "ntn_" for current ones, "secret_" for those issued before late 2024.
var secretPrefixes = []string{"ntn_", "secret_"}

const maxSecretAttempts = 3

// ErrNoInput is returned when the input ends before a question is answered.
var ErrNoInput = errors.New("no input")

// Prompter asks the wizard's questions, one line per answer. When the input
// is a terminal, secrets are read with echo disabled.
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer

	// hidden reads one line without echo; nil unless the input is a terminal.
	hidden func() (string, error)
}

// NewPrompter reads answers from r and writes questions to w.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewScanner(r), out: w}
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		p.hidden = func() (string, error) {
			b, err := term.ReadPassword(fd)
			_, _ = fmt.Fprintln(w)
			return string(b), err
		}
	}
	return p
}

// ask writes the question and returns the trimmed answer. ok is false once
// the input is exhausted.
func (p *Prompter) ask(label, hint string) (answer string, ok bool) {
	if hint != "" {
		_, _ = fmt.Fprintf(p.out, "  %s %s: ", label, hint)
	} else {
		_, _ = fmt.Fprintf(p.out, "  %s: ", label)
	}
	if !p.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.in.Text()), true
}

func (p *Prompter) note(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, "  ("+format+")\n", args...)
}

// String asks for free text. Enter or end of input yields defaultVal; with no
// default the question repeats until something is typed.
func (p *Prompter) String(label, defaultVal string) string {
	hint := ""
	if defaultVal != "" {
		hint = "[" + defaultVal + "]"
	}
	for {
		val, ok := p.ask(label, hint)
		switch {
		case !ok:
			return defaultVal
		case val != "":
			return val
		case defaultVal != "":
			return defaultVal
		}
		p.note("required, please enter a value")
	}
}

// NotionSecret asks for a Notion internal integration secret. Answers that do
// not look like one are refused with a hint, up to three times.
func (p *Prompter) NotionSecret(label string) (string, error) {
	for range maxSecretAttempts {
		val, err := p.readSecret(label)
		if err != nil {
			return "", err
		}
		if val == "" {
			p.note("required, paste the secret from notion.so/my-integrations")
			continue
		}
		if err := CheckNotionSecret(val); err != nil {
			p.note("%v", err)
			continue
		}
		return val, nil
	}
	return "", fmt.Errorf("no valid integration secret entered after %d attempts", maxSecretAttempts)
}

func (p *Prompter) readSecret(label string) (string, error) {
	if p.hidden == nil {
		val, ok := p.ask(label, "(ntn_... or secret_...)")
		if !ok {
			return "", fmt.Errorf("reading integration secret: %w", ErrNoInput)
		}
		return val, nil
	}
	_, _ = fmt.Fprintf(p.out, "  %s (input hidden): ", label)
	val, err := p.hidden()
	if err != nil {
		return "", fmt.Errorf("reading integration secret: %w", err)
	}
	return strings.TrimSpace(val), nil
}

// CheckNotionSecret reports whether s has the shape of an internal
// integration secret. It does not contact Notion.
func CheckNotionSecret(s string) error {
	if strings.ContainsAny(s, " \t") {
		return errors.New("the secret must not contain spaces")
	}
	for _, prefix := range secretPrefixes {
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			return nil
		}
	}
	return fmt.Errorf("a Notion integration secret starts with %s", strings.Join(secretPrefixes, " or "))
}

// Confirm asks a yes/no question; Enter or end of input picks the default.
func (p *Prompter) Confirm(label string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	val, ok := p.ask(label, hint)
	if !ok || val == "" {
		return defaultYes
	}
	switch strings.ToLower(val) {
	case "y", "yes":
		return true
	}
	return false
}

// Select lists options numbered from 1 and returns the zero-based index of
// the one picked.
func (p *Prompter) Select(label string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, errors.New("no options to select from")
	}
	_, _ = fmt.Fprintf(p.out, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.out, "    %d) %s\n", i+1, opt)
	}

	hint := fmt.Sprintf("[1-%d]", len(options))
	for {
		val, ok := p.ask("Choice", hint)
		if !ok {
			return -1, ErrNoInput
		}
		if n, err := strconv.Atoi(val); err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		p.note("enter a number between 1 and %d", len(options))
	}
}
