/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline

import (
	"context"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/waigani/diffparser"

	"github.com/formalmind/agent/diffbundle"
	"github.com/formalmind/agent/eventbus"
	"github.com/formalmind/agent/review"
)

// Outcome records one comment's posting result. Posting is independent per
// comment: one failure never aborts the siblings.
type Outcome struct {
	Comment review.Comment
	Err     error
}

// succeeded counts the outcomes without an error.
func succeeded(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

type pullRequestTarget struct {
	owner    string
	repo     string
	number   int
	commitID string
	hunks    map[string]*diffparser.DiffFile
}

type commitTarget struct {
	owner string
	repo  string
	sha   string
}

// postPullRequestComments posts each structurally valid comment as an inline
// pull request review comment. Comments pointing outside the diff's hunks
// are dropped before hitting the API. Each success appends a history record.
func (d *Dispatcher) postPullRequestComments(ctx context.Context, gh *github.Client, target pullRequestTarget, comments []review.Comment, installation *github.Installation, delivery eventbus.Delivery) []Outcome {
	log := clog.FromContext(ctx)

	outcomes := make([]Outcome, 0, len(comments))
	for _, c := range comments {
		if !c.ValidForPullRequest() {
			log.With("file", c.File, "line", c.Line).Warn("Skipping invalid comment entry")
			continue
		}
		if file, ok := target.hunks[c.File]; ok && !diffbundle.InNewRange(file, c.Line) {
			log.With("file", c.File, "line", c.Line).Warn("Skipping comment outside diff hunks")
			continue
		}

		prComment := &github.PullRequestComment{
			Body:     github.Ptr(c.Body),
			Path:     github.Ptr(c.File),
			Line:     github.Ptr(c.Line),
			CommitID: github.Ptr(target.commitID),
		}
		if c.Side != "" {
			prComment.Side = github.Ptr(c.Side)
		}
		if c.StartLine > 0 {
			prComment.StartLine = github.Ptr(c.StartLine)
		}
		if c.StartSide != "" {
			prComment.StartSide = github.Ptr(c.StartSide)
		}

		_, _, err := gh.PullRequests.CreateComment(ctx, target.owner, target.repo, target.number, prComment)
		if err != nil {
			log.With("file", c.File, "line", c.Line).Warnf("Posting comment failed: %v", err)
		} else {
			log.Infof("Commented on %s:%d", c.File, c.Line)
			d.appendHistory(ctx, installation, "review_comment", delivery.Body, delivery.Timestamp)
		}
		outcomes = append(outcomes, Outcome{Comment: c, Err: err})
	}
	return outcomes
}

// postCommitComments posts each structurally valid comment against the
// commit, position-addressed. Same per-item independence as the PR variant.
func (d *Dispatcher) postCommitComments(ctx context.Context, gh *github.Client, target commitTarget, comments []review.Comment, installation *github.Installation, delivery eventbus.Delivery) []Outcome {
	log := clog.FromContext(ctx)

	outcomes := make([]Outcome, 0, len(comments))
	for _, c := range comments {
		if !c.ValidForCommit() {
			log.With("file", c.File).Warn("Skipping comment with missing or invalid position")
			continue
		}

		_, _, err := gh.Repositories.CreateComment(ctx, target.owner, target.repo, target.sha, &github.RepositoryComment{
			Body:     github.Ptr(c.Body),
			Path:     github.Ptr(c.File),
			Position: c.Position,
		})
		if err != nil {
			log.With("file", c.File, "position", *c.Position).Warnf("Posting commit comment failed: %v", err)
		} else {
			log.Infof("Commented on %s at position %d", c.File, *c.Position)
			d.appendHistory(ctx, installation, "review_comment", delivery.Body, delivery.Timestamp)
		}
		outcomes = append(outcomes, Outcome{Comment: c, Err: err})
	}
	return outcomes
}
