/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repowriter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/google/go-github/v75/github"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/formalmind/agent/modeling"
)

const (
	latestAggregateFile    = "Main.latest" + modeling.ArtifactExt
	reconcileCommitMessage = "reconcile(modeling-agent): apply reconciled Lean output"
	reconcileIssueTitle    = "Reconciliation review from modeling agent"

	backupTimeLayout = "20060102T150405Z"
)

// reconcileIssueLabels are the fixed labels on every reconciliation issue.
var reconcileIssueLabels = []string{"modeling-agent", "review", "reconciliation"}

// ReconcileRequest describes one reconciliation of prior aggregate output.
type ReconcileRequest struct {
	// RepoPath is an existing local working copy of the target repository.
	RepoPath string
	// Branch receives the reconciled output; created (tracking origin when
	// present) if it does not exist locally.
	Branch string
	// Content is the new aggregate content superseding the previous one.
	Content string
	// OriginalCommit names the backup file; a timestamp is used when empty.
	OriginalCommit string

	TargetOwner string
	TargetRepo  string
}

// Reconcile archives the previous aggregate under a backup name, writes the
// new content as the latest file, commits and pushes the artifact directory,
// and files an issue carrying a line-level diff summary. Unlike first
// generation it operates on the aggregate content directly and does not
// touch the modeling index.
func (a *Agent) Reconcile(ctx context.Context, req ReconcileRequest) error {
	log := clog.FromContext(ctx).With("target", req.TargetOwner+"/"+req.TargetRepo)

	switch {
	case req.RepoPath == "":
		return errors.New("repo path cannot be empty")
	case req.Branch == "":
		return errors.New("branch cannot be empty")
	}

	modelingDir := filepath.Join(req.RepoPath, modeling.ArtifactDir)
	if err := os.MkdirAll(modelingDir, 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}

	previous, err := a.archiveAggregate(ctx, modelingDir, req.OriginalCommit)
	if err != nil {
		return err
	}

	latestPath := filepath.Join(modelingDir, latestAggregateFile)
	if err := os.WriteFile(latestPath, []byte(req.Content), 0o644); err != nil {
		return fmt.Errorf("writing latest aggregate: %w", err)
	}

	report := reconcileReport(previous, req.Content)

	repo, err := git.PlainOpen(req.RepoPath)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	if err := checkoutOrTrackBranch(repo, req.Branch); err != nil {
		return err
	}
	if err := stageAndCommit(repo, modeling.ArtifactDir, reconcileCommitMessage, a.cfg.Identity); err != nil {
		return err
	}
	if err := pushBranch(ctx, repo, req.Branch, a.tokens); err != nil {
		return err
	}
	log.With("branch", req.Branch).Info("Pushed reconciled aggregate")

	issue, _, err := a.gh.Issues.Create(ctx, req.TargetOwner, req.TargetRepo, &github.IssueRequest{
		Title:  github.Ptr(reconcileIssueTitle),
		Body:   github.Ptr(report),
		Labels: &reconcileIssueLabels,
	})
	if err != nil {
		// The push already happened; the missing report degrades to a warning.
		log.Warnf("Filing reconciliation issue failed: %v", err)
		return nil
	}

	log.With("issue_url", issue.GetHTMLURL()).Info("Filed reconciliation issue")
	return nil
}

// archiveAggregate renames the existing aggregate to its backup name and
// returns its previous content. A missing aggregate is normal on first
// reconciliation.
func (a *Agent) archiveAggregate(ctx context.Context, modelingDir, originalCommit string) (string, error) {
	aggregatePath := filepath.Join(modelingDir, modeling.AggregateFile)
	raw, err := os.ReadFile(aggregatePath)
	if err != nil {
		if os.IsNotExist(err) {
			clog.FromContext(ctx).Warnf("No existing %s to archive", modeling.AggregateFile)
			return "", nil
		}
		return "", fmt.Errorf("reading aggregate: %w", err)
	}

	suffix := originalCommit
	if suffix == "" {
		suffix = time.Now().UTC().Format(backupTimeLayout)
	}
	backupPath := filepath.Join(modelingDir, fmt.Sprintf("Main.%s%s", suffix, modeling.ArtifactExt))
	if err := os.Rename(aggregatePath, backupPath); err != nil {
		return "", fmt.Errorf("archiving aggregate: %w", err)
	}

	clog.FromContext(ctx).Infof("Archived aggregate to %s", filepath.Base(backupPath))
	return string(raw), nil
}

// reconcileReport formats a line-level diff between the previous and new
// aggregate content as a labeled +/- block.
func reconcileReport(previous, next string) string {
	dmp := diffmatchpatch.New()
	prevRunes, nextRunes, lines := dmp.DiffLinesToChars(previous, next)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(prevRunes, nextRunes, false), lines)

	var b strings.Builder
	b.WriteString("# Modeling Agent Reconciliation\n\n")
	b.WriteString("This diff shows changes applied by the agent to reconcile modeling output.\n\n")
	b.WriteString("## Lean Diff\n\n")

	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			b.WriteString(prefix + " " + line + "\n")
		}
	}
	return b.String()
}
