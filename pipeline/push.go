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

// handlePush reviews the latest commit of a push: fetch its file changes,
// bundle the diffs, ask the push reviewer for structured comments, and post
// them against the commit.
func (d *Dispatcher) handlePush(ctx context.Context, ev *github.PushEvent, delivery eventbus.Delivery) error {
	log := clog.FromContext(ctx)

	if len(ev.Commits) == 0 {
		log.Debug("Push carries no commits")
		return nil
	}
	latest := ev.Commits[len(ev.Commits)-1]
	sha := latest.GetID()

	owner := ev.GetRepo().GetOwner().GetLogin()
	repo := ev.GetRepo().GetName()
	log.Infof("Reviewing push %s on %s/%s", sha, owner, repo)

	gh, _, err := d.installationClient(ctx, ev.GetInstallation())
	if err != nil {
		return err
	}

	commit, _, err := gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return fmt.Errorf("fetching commit %s: %w", sha, err)
	}

	reviewer := review.NewAgent(ctx, "PushReviewer", d.promptPath(pushReviewerPrompt), d.provider)
	reply, err := reviewer.Respond(ctx, review.Input{
		Diffs:    diffbundle.Build(commit.Files, d.cfg.MaxDiffLines),
		Username: ev.GetSender().GetLogin(),
		UserText: latest.GetMessage(),
	})
	if err != nil {
		return err
	}

	if comments, ok := review.ParseComments(ctx, reply); ok {
		outcomes := d.postCommitComments(ctx, gh, commitTarget{
			owner: owner,
			repo:  repo,
			sha:   sha,
		}, comments, ev.GetInstallation(), delivery)
		log.With("posted", succeeded(outcomes), "total", len(outcomes)).Info("Posted commit comments")
	}

	return nil
}
