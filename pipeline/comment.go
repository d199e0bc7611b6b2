/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline

import (
	"context"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"

	"github.com/formalmind/agent/eventbus"
	"github.com/formalmind/agent/repowriter"
)

// handleAgentComment runs the repository writer for a comment mentioning the
// agent handle. The companion repository is named from the source repository
// and owned by the acting user; the comment body supplies the artifact
// blocks.
func (d *Dispatcher) handleAgentComment(ctx context.Context, ev *github.IssueCommentEvent, delivery eventbus.Delivery) error {
	log := clog.FromContext(ctx)

	sourceOwner := ev.GetRepo().GetOwner().GetLogin()
	sourceRepo := ev.GetRepo().GetName()
	targetOwner := ev.GetSender().GetLogin()
	targetRepo := repowriter.TargetRepoName(sourceRepo)
	log.Infof("Agent comment on %s/%s#%d targeting %s/%s", sourceOwner, sourceRepo, ev.GetIssue().GetNumber(), targetOwner, targetRepo)

	gh, tokens, err := d.installationClient(ctx, ev.GetInstallation())
	if err != nil {
		return err
	}

	meta := repowriter.Meta{}
	if ev.GetIssue().IsPullRequest() {
		meta.PullNumber = ev.GetIssue().GetNumber()
		// Correlate artifacts with the PR's head commit when we can get it.
		if pr, _, err := gh.PullRequests.Get(ctx, sourceOwner, sourceRepo, meta.PullNumber); err != nil {
			log.Warnf("Fetching PR head for correlation failed: %v", err)
		} else {
			meta.CommitSHA = pr.GetHead().GetSHA()
		}
	} else {
		meta.IssueNumber = ev.GetIssue().GetNumber()
	}

	writer, err := repowriter.New(gh, tokens, repowriter.Config{
		TemplateOwner: d.cfg.TemplateOwner,
		TemplateRepo:  d.cfg.TemplateRepo,
		Identity:      d.cfg.Identity,
	}, d.locks)
	if err != nil {
		return err
	}

	result, err := writer.Run(ctx, repowriter.Request{
		TargetOwner: targetOwner,
		TargetRepo:  targetRepo,
		CommentBody: ev.GetComment().GetBody(),
		Meta:        meta,
	})
	if err != nil {
		return err
	}

	switch {
	case result.NoOp:
		log.Info("Writer run was a no-op")
	default:
		log.With("branch", result.Branch, "namespace", result.PathInfo.Namespace, "pr_url", result.PullRequestURL).
			Info("Writer run complete")
	}

	d.appendHistory(ctx, ev.GetInstallation(), "agent_command", delivery.Body, delivery.Timestamp)
	return nil
}
