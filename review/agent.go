/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package review implements the review agent: prompt loading, input
// formatting, and parsing model replies into prose or structured review
// comments.
package review

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/formalmind/agent/completion"
)

// systemPreamble is the fixed identity substituted into every prompt
// template, and the whole prompt when the template cannot be loaded.
const systemPreamble = "You are a Formal Verification Agent assisting developers with " +
	"finding and fixing logic errors in pull requests using Lean 4."

// preamblePlaceholder marks where templates receive the preamble.
const preamblePlaceholder = "<system_prompt>"

// Agent formats prompts and exchanges them with the completion provider.
// The prompt template is loaded once per instance.
type Agent struct {
	name     string
	prompt   string
	provider completion.Provider
}

// Input is the material rendered into one completion request.
type Input struct {
	Diffs    string
	Username string
	UserText string
}

// NewAgent loads the prompt template from promptFile, substituting the
// system preamble for its placeholder. On load failure the agent falls back
// to the preamble alone; the failure is logged, not fatal.
func NewAgent(ctx context.Context, name, promptFile string, provider completion.Provider) *Agent {
	a := &Agent{
		name:     name,
		provider: provider,
	}

	raw, err := os.ReadFile(promptFile)
	if err != nil {
		clog.FromContext(ctx).With("agent", name).Warnf("Loading prompt %s failed, using preamble: %v", promptFile, err)
		a.prompt = systemPreamble
		return a
	}
	a.prompt = strings.ReplaceAll(string(raw), preamblePlaceholder, systemPreamble)
	return a
}

// Prompt returns the loaded system prompt.
func (a *Agent) Prompt() string {
	return a.prompt
}

// FormatInput renders the diff bundle and user text into a single
// completion-provider prompt, including the instruction to address the
// acting user by name.
func (a *Agent) FormatInput(in Input) string {
	return fmt.Sprintf(`%s

- Tag this user %s to notify them.
- Example: hey @%s 👋 Thanks for the changes! I am %s, let's take a closer look together.
Now, review the following diff and respond as a Lean 4 formal verification assistant:

%s

---

Additional user message:
%s`, a.prompt, in.Username, in.Username, a.name, in.Diffs, in.UserText)
}

// Respond calls the completion provider with the loaded prompt as the system
// role and the formatted input as the user role. Provider errors propagate
// to the caller; an empty completion comes back as the NoResponse sentinel.
func (a *Agent) Respond(ctx context.Context, in Input) (string, error) {
	reply, err := a.provider.Complete(ctx, a.prompt, a.FormatInput(in))
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", a.name, err)
	}
	return reply, nil
}
