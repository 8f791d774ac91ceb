package setup

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func newPrompter(input string) (*Prompter, *bytes.Buffer) {
	var out bytes.Buffer
	return NewPrompter(strings.NewReader(input), &out), &out
}

func TestPrompter_String(t *testing.T) {
	tests := []struct {
		name  string
		input string
		def   string
		want  string
	}{
		{"typed value", "hello\n", "x", "hello"},
		{"trimmed", "  spaced  \n", "", "spaced"},
		{"enter takes default", "\n", "30", "30"},
		{"eof takes default", "", "30", "30"},
		{"required repeats", "\n\nvalue\n", "", "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPrompter(tt.input)
			if got := p.String("Label", tt.def); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrompter_StringRequiredHint(t *testing.T) {
	p, out := newPrompter("\nx\n")
	p.String("Name", "")
	if !strings.Contains(out.String(), "required") {
		t.Errorf("output %q should mention the value is required", out.String())
	}
}

func TestPrompter_NotionSecret(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"current prefix", "ntn_4b1f\n", "ntn_4b1f"},
		{"legacy prefix", "secret_9aZ\n", "secret_9aZ"},
		{"blank then valid", "\nntn_4b1f\n", "ntn_4b1f"},
		{"wrong prefix then valid", "sk-live-123\nntn_4b1f\n", "ntn_4b1f"},
		{"prefix alone then valid", "ntn_\nsecret_x\n", "secret_x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPrompter(tt.input)
			got, err := p.NotionSecret("Integration secret")
			if err != nil {
				t.Fatalf("NotionSecret: %v", err)
			}
			if got != tt.want {
				t.Errorf("NotionSecret() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrompter_NotionSecretHintsPrefix(t *testing.T) {
	p, out := newPrompter("api-key\nntn_ok\n")
	if _, err := p.NotionSecret("Integration secret"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "starts with ntn_ or secret_") {
		t.Errorf("output %q should name the expected prefixes", out.String())
	}
}

func TestPrompter_NotionSecretGivesUp(t *testing.T) {
	p, _ := newPrompter("a\nb\nc\nntn_late\n")
	if got, err := p.NotionSecret("Integration secret"); err == nil {
		t.Errorf("NotionSecret() = %q, want error after three invalid answers", got)
	}

	p, _ = newPrompter("")
	if _, err := p.NotionSecret("Integration secret"); !errors.Is(err, ErrNoInput) {
		t.Errorf("EOF: err = %v, want ErrNoInput", err)
	}
}

func TestPrompter_NotionSecretHiddenInput(t *testing.T) {
	p, out := newPrompter("ntn_echoed\n")
	answers := []string{"wrong", " ntn_hidden "}
	p.hidden = func() (string, error) {
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}

	got, err := p.NotionSecret("Integration secret")
	if err != nil {
		t.Fatal(err)
	}
	if got != "ntn_hidden" {
		t.Errorf("NotionSecret() = %q, want the value read without echo", got)
	}
	if !strings.Contains(out.String(), "input hidden") {
		t.Errorf("output %q should say input is hidden", out.String())
	}

	p.hidden = func() (string, error) { return "", io.ErrUnexpectedEOF }
	if _, err := p.NotionSecret("Integration secret"); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want read error", err)
	}
}

func TestCheckNotionSecret(t *testing.T) {
	for _, ok := range []string{"ntn_1234", "secret_abc"} {
		if err := CheckNotionSecret(ok); err != nil {
			t.Errorf("CheckNotionSecret(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "ntn_", "secret_", "NTN_abc", "token", "ntn_a b"} {
		if err := CheckNotionSecret(bad); err == nil {
			t.Errorf("CheckNotionSecret(%q) accepted", bad)
		}
	}
}

func TestPrompter_Confirm(t *testing.T) {
	tests := []struct {
		input      string
		defaultYes bool
		want       bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"", true, true},
		{"maybe\n", true, false},
	}
	for _, tt := range tests {
		p, _ := newPrompter(tt.input)
		if got := p.Confirm("Proceed?", tt.defaultYes); got != tt.want {
			t.Errorf("Confirm(%q, %v) = %v, want %v", tt.input, tt.defaultYes, got, tt.want)
		}
	}
}

func TestPrompter_Select(t *testing.T) {
	p, out := newPrompter("0\nabc\n2\n")
	idx, err := p.Select("Pick", []string{"first", "second"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if idx != 1 {
		t.Errorf("Select() = %d, want 1", idx)
	}
	if !strings.Contains(out.String(), "2) second") {
		t.Errorf("options not listed: %q", out.String())
	}
}

func TestPrompter_SelectErrors(t *testing.T) {
	p, _ := newPrompter("1\n")
	if _, err := p.Select("Pick", nil); err == nil {
		t.Error("expected error for empty options")
	}

	p, _ = newPrompter("")
	if _, err := p.Select("Pick", []string{"a"}); !errors.Is(err, ErrNoInput) {
		t.Errorf("EOF: err = %v, want ErrNoInput", err)
	}
}
