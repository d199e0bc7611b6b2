/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package review

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeProvider struct {
	reply  string
	err    error
	system string
	user   string
}

func (f *fakeProvider) Complete(_ context.Context, system, user string) (string, error) {
	f.system = system
	f.user = user
	return f.reply, f.err
}

func TestNewAgentSubstitutesPreamble(t *testing.T) {
	dir := t.TempDir()
	promptFile := filepath.Join(dir, "reviewer.md")
	content := "<system_prompt>\n\nReview the diff carefully."
	if err := os.WriteFile(promptFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	agent := NewAgent(context.Background(), "Reviewer", promptFile, &fakeProvider{})
	prompt := agent.Prompt()

	if strings.Contains(prompt, preamblePlaceholder) {
		t.Error("placeholder survived substitution")
	}
	if !strings.Contains(prompt, systemPreamble) {
		t.Error("prompt missing system preamble")
	}
	if !strings.Contains(prompt, "Review the diff carefully.") {
		t.Error("prompt missing template body")
	}
}

func TestNewAgentFallsBackOnMissingFile(t *testing.T) {
	agent := NewAgent(context.Background(), "Reviewer", filepath.Join(t.TempDir(), "missing.md"), &fakeProvider{})
	if got := agent.Prompt(); got != systemPreamble {
		t.Errorf("Prompt() = %q, want bare preamble", got)
	}
}

func TestFormatInput(t *testing.T) {
	agent := NewAgent(context.Background(), "Reviewer", filepath.Join(t.TempDir(), "missing.md"), &fakeProvider{})

	got := agent.FormatInput(Input{
		Diffs:    "### a.go\n```diff\n+x\n```",
		Username: "octocat",
		UserText: "please check the loop",
	})

	for _, want := range []string{"octocat", "### a.go", "please check the loop", "Reviewer"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatInput() missing %q", want)
		}
	}
}

func TestRespond(t *testing.T) {
	provider := &fakeProvider{reply: "looks good"}
	agent := NewAgent(context.Background(), "Reviewer", filepath.Join(t.TempDir(), "missing.md"), provider)

	reply, err := agent.Respond(context.Background(), Input{Diffs: "diff", Username: "octocat"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != "looks good" {
		t.Errorf("Respond() = %q, want %q", reply, "looks good")
	}
	if provider.system != agent.Prompt() {
		t.Error("system prompt not passed to provider")
	}
	if !strings.Contains(provider.user, "octocat") {
		t.Error("formatted input not passed to provider")
	}
}

func TestRespondPropagatesError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("boom")}
	agent := NewAgent(context.Background(), "Reviewer", filepath.Join(t.TempDir(), "missing.md"), provider)

	if _, err := agent.Respond(context.Background(), Input{}); err == nil {
		t.Fatal("Respond() = nil error, want provider error")
	}
}
