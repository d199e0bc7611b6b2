/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"

	"github.com/formalmind/agent/diffbundle"
	"github.com/formalmind/agent/eventbus"
	"github.com/formalmind/agent/review"
)

// handlePullRequestOpened posts the fixed auto-reply, then runs the modeling
// agent for a prose comment and the PR reviewer for structured inline
// comments against the head commit.
func (d *Dispatcher) handlePullRequestOpened(ctx context.Context, ev *github.PullRequestEvent, delivery eventbus.Delivery) error {
	log := clog.FromContext(ctx)

	owner := ev.GetRepo().GetOwner().GetLogin()
	repo := ev.GetRepo().GetName()
	prNumber := ev.GetPullRequest().GetNumber()
	log.Infof("Received pull_request.opened for %s/%s#%d", owner, repo, prNumber)

	gh, _, err := d.installationClient(ctx, ev.GetInstallation())
	if err != nil {
		return err
	}

	// The auto-reply is independent of the main pipeline: its failure is
	// logged and review continues.
	if _, _, err := gh.Issues.CreateComment(ctx, owner, repo, prNumber, &github.IssueComment{
		Body: github.Ptr(prOpenedReply),
	}); err != nil {
		log.Warnf("Posting auto-reply failed: %v", err)
	}

	files, _, err := gh.PullRequests.ListFiles(ctx, owner, repo, prNumber, nil)
	if err != nil {
		return fmt.Errorf("listing PR files: %w", err)
	}

	diffs := diffbundle.Build(files, d.cfg.MaxDiffLines)
	in := review.Input{
		Diffs:    diffs,
		Username: ev.GetSender().GetLogin(),
		UserText: ev.GetPullRequest().GetBody(),
	}

	// Prose pass: the modeling agent's reply is posted verbatim as a single
	// top-level comment.
	modelingAgent := review.NewAgent(ctx, "ModelingAgent", d.promptPath(modelingPrompt), d.provider)
	reply, err := modelingAgent.Respond(ctx, in)
	if err != nil {
		return err
	}
	if _, _, err := gh.Issues.CreateComment(ctx, owner, repo, prNumber, &github.IssueComment{
		Body: github.Ptr(reply),
	}); err != nil {
		return fmt.Errorf("posting modeling comment: %w", err)
	}

	// Structured pass: the reviewer's reply carries a fenced JSON list of
	// inline comments for the head commit.
	reviewer := review.NewAgent(ctx, "PRReviewer", d.promptPath(prReviewerPrompt), d.provider)
	reviewReply, err := reviewer.Respond(ctx, in)
	if err != nil {
		return err
	}

	if comments, ok := review.ParseComments(ctx, reviewReply); ok {
		outcomes := d.postPullRequestComments(ctx, gh, pullRequestTarget{
			owner:    owner,
			repo:     repo,
			number:   prNumber,
			commitID: ev.GetPullRequest().GetHead().GetSHA(),
			hunks:    diffbundle.Hunks(files),
		}, comments, ev.GetInstallation(), delivery)
		log.With("posted", succeeded(outcomes), "total", len(outcomes)).Info("Posted review comments")
	}

	return nil
}
