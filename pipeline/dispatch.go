/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package pipeline routes verified webhook deliveries by event type into the
// review pipelines and the repository writer, and posts the results back to
// the hosting provider.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"

	"github.com/formalmind/agent/completion"
	"github.com/formalmind/agent/eventbus"
	"github.com/formalmind/agent/githubapp"
	"github.com/formalmind/agent/repowriter"
)

// prOpenedReply is the fixed auto-reply posted on every opened pull request,
// independent of the main pipeline.
const prOpenedReply = "Thanks for opening a new PR! Please follow our contributing " +
	"guidelines to make your PR easier to review."

// Prompt template files under the prompt directory.
const (
	modelingPrompt     = "modeling.md"
	prReviewerPrompt   = "pr-reviewer.md"
	pushReviewerPrompt = "push-reviewer.md"
)

// Config is the dispatcher's explicit configuration.
type Config struct {
	// PromptDir holds the agent prompt templates.
	PromptDir string `env:"PROMPT_DIR, default=prompts"`
	// AgentHandle is the mention that routes a comment to the writer.
	AgentHandle string `env:"AGENT_HANDLE, default=@agent"`
	// MaxDiffLines caps diff bundles; zero selects the default.
	MaxDiffLines int `env:"MAX_DIFF_LINES"`

	TemplateOwner string `env:"TEMPLATE_OWNER, default=formalmind"`
	TemplateRepo  string `env:"TEMPLATE_REPO, default=lean-template"`
	Identity      string `env:"AGENT_IDENTITY, default=modeling-agent"`
}

// Dispatcher fans one delivery into the matching pipeline. Each delivery's
// pipeline runs as an independent task; a failure of one never affects any
// other in-flight or future delivery.
type Dispatcher struct {
	clients  *githubapp.ClientFactory
	provider completion.Provider
	history  eventbus.History
	locks    *repowriter.RepoLocks
	cfg      Config
}

// NewDispatcher constructs a Dispatcher. The lock table is shared across all
// deliveries so writer runs serialize per target repository.
func NewDispatcher(clients *githubapp.ClientFactory, provider completion.Provider, history eventbus.History, cfg Config) *Dispatcher {
	return &Dispatcher{
		clients:  clients,
		provider: provider,
		history:  history,
		locks:    repowriter.NewRepoLocks(),
		cfg:      cfg,
	}
}

// Dispatch routes the delivery by event name. Unroutable events are a debug
// no-op. Errors carry the event context; the caller logs them with the
// delivery id for correlation.
func (d *Dispatcher) Dispatch(ctx context.Context, eventName string, delivery eventbus.Delivery) error {
	log := clog.FromContext(ctx).With("event", eventName)

	switch eventName {
	case "pull_request":
		var ev github.PullRequestEvent
		if err := json.Unmarshal(delivery.Body, &ev); err != nil {
			return fmt.Errorf("decoding pull_request event: %w", err)
		}
		if ev.GetAction() != "opened" {
			log.With("action", ev.GetAction()).Debug("Ignoring pull_request action")
			return nil
		}
		return d.handlePullRequestOpened(ctx, &ev, delivery)

	case "push":
		var ev github.PushEvent
		if err := json.Unmarshal(delivery.Body, &ev); err != nil {
			return fmt.Errorf("decoding push event: %w", err)
		}
		return d.handlePush(ctx, &ev, delivery)

	case "issue_comment":
		var ev github.IssueCommentEvent
		if err := json.Unmarshal(delivery.Body, &ev); err != nil {
			return fmt.Errorf("decoding issue_comment event: %w", err)
		}
		if ev.GetAction() != "created" || !strings.Contains(ev.GetComment().GetBody(), d.cfg.AgentHandle) {
			log.Debug("Ignoring issue_comment without agent mention")
			return nil
		}
		return d.handleAgentComment(ctx, &ev, delivery)

	default:
		log.Debug("No pipeline for event")
		return nil
	}
}

// installationClient resolves the per-installation GitHub client and git
// token source for a delivery.
func (d *Dispatcher) installationClient(ctx context.Context, installation *github.Installation) (*github.Client, oauth2.TokenSource, error) {
	id := installation.GetID()
	if id == 0 {
		return nil, nil, fmt.Errorf("delivery carries no installation id")
	}
	return d.clients.InstallationClient(ctx, id)
}

func (d *Dispatcher) promptPath(name string) string {
	return filepath.Join(d.cfg.PromptDir, name)
}

// appendHistory records a pipeline event in the per-installation history.
// History failures never fail the pipeline.
func (d *Dispatcher) appendHistory(ctx context.Context, installation *github.Installation, entryType string, data json.RawMessage, receivedAt int64) {
	id := installation.GetID()
	if id == 0 {
		return
	}
	if err := d.history.Append(ctx, id, eventbus.HistoryEntry{
		Type:       entryType,
		Data:       data,
		ReceivedAt: receivedAt,
	}); err != nil {
		clog.FromContext(ctx).Warnf("Appending %s history: %v", entryType, err)
	}
}
