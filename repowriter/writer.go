/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package repowriter ensures a target repository exists, writes modeling
// artifacts into it, maintains the modeling index and aggregate entry-point
// file, and opens pull requests; a separate reconcile path supersedes prior
// aggregate output and files a diff report issue.
package repowriter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/formalmind/agent/extract"
	"github.com/formalmind/agent/modeling"
)

const (
	branchPrefix     = "agent-models/"
	branchTimeLayout = "2006-01-02-1504"

	// provisionDelay tolerates provider-side lag between template
	// generation and the first clone.
	provisionDelay = 2 * time.Second

	pullRequestTitle = "Modeling: Add agent-generated Lean specs"
	pullRequestBody  = "This branch contains formal modeling artifacts generated by the modeling agent."

	prestageCommitMessage = "chore(modeling-agent): stage clone residue before artifact commit"
	artifactCommitMessage = "feat(modeling-agent): add or update modeling artifacts"
)

// Config is the explicit per-agent configuration; nothing here is a
// process-wide singleton, so concurrent agents with different templates can
// coexist.
type Config struct {
	// TemplateOwner/TemplateRepo identify the repository generation template.
	TemplateOwner string
	TemplateRepo  string
	// Identity is the commit author name.
	Identity string
}

// Meta correlates a run with its originating commit, pull request, or issue.
type Meta struct {
	CommitSHA   string
	PullNumber  int
	IssueNumber int
}

// Request describes one writer run.
type Request struct {
	TargetOwner string
	TargetRepo  string
	CommentBody string
	Meta        Meta
}

// Result reports what a run did. After a successful push, later failures
// (pull request creation) degrade to warnings, so Pushed may be true while
// PullRequestURL is empty.
type Result struct {
	// NoOp is set when the comment carried neither block kind.
	NoOp     bool
	Created  bool
	Branch   string
	PathInfo modeling.PathInfo
	Pushed   bool

	PullRequestURL string
}

// Agent is the repository writer. One Agent serves many runs; each run owns
// a fresh temporary working copy for its lifetime.
type Agent struct {
	gh     *github.Client
	tokens oauth2.TokenSource
	cfg    Config
	locks  *RepoLocks
}

// New constructs a writer agent.
func New(gh *github.Client, tokens oauth2.TokenSource, cfg Config, locks *RepoLocks) (*Agent, error) {
	switch {
	case gh == nil:
		return nil, errors.New("github client cannot be nil")
	case cfg.TemplateOwner == "" || cfg.TemplateRepo == "":
		return nil, errors.New("template owner/repo cannot be empty")
	case cfg.Identity == "":
		return nil, errors.New("identity cannot be empty")
	case locks == nil:
		return nil, errors.New("locks cannot be nil")
	}
	return &Agent{gh: gh, tokens: tokens, cfg: cfg, locks: locks}, nil
}

// TargetRepoName derives the companion repository name from the source
// repository.
func TargetRepoName(sourceRepo string) string {
	return sourceRepo + "-verifier"
}

// Run executes the writer state machine: check the target repository exists,
// create it from the template or recover it, write the extracted artifacts,
// update the index, regenerate the aggregate, commit to a fresh branch, push,
// and open a pull request. Runs for the same target repository are
// serialized; distinct targets proceed concurrently.
func (a *Agent) Run(ctx context.Context, req Request) (Result, error) {
	log := clog.FromContext(ctx).With("target", req.TargetOwner+"/"+req.TargetRepo)

	var blocks artifactBlocks
	for _, b := range extract.Blocks(req.CommentBody) {
		switch b.Kind {
		case extract.KindLean:
			blocks.lean, blocks.hasLean = b.Content, true
		case extract.KindJSON:
			blocks.json, blocks.hasJSON = b.Content, true
		}
	}
	if !blocks.hasLean && !blocks.hasJSON {
		log.Warn("No Lean or JSON block found in comment, nothing to do")
		return Result{NoOp: true}, nil
	}

	unlock := a.locks.Lock(req.TargetOwner + "/" + req.TargetRepo)
	defer unlock()

	exists, err := a.repoExists(ctx, req.TargetOwner, req.TargetRepo)
	if err != nil {
		return Result{}, err
	}

	var cloneURL, defaultBranch string
	if exists {
		log.Info("Target repository exists, recovering")
		cloneURL, defaultBranch, err = a.recoverExisting(ctx, req.TargetOwner, req.TargetRepo)
	} else {
		log.Info("Creating target repository from template")
		cloneURL, defaultBranch, err = a.createFromTemplate(ctx, req.TargetOwner, req.TargetRepo)
	}
	if err != nil {
		return Result{}, err
	}

	branchName := branchPrefix + time.Now().UTC().Format(branchTimeLayout)
	result := Result{
		Created: !exists,
		Branch:  branchName,
	}

	result.PathInfo, err = a.writeAndPush(ctx, req, cloneURL, branchName, blocks)
	if err != nil {
		return Result{}, err
	}
	result.Pushed = true

	// The durable side effect, a reviewable branch, already exists; a
	// failure to open the PR is logged, not fatal.
	pr, _, err := a.gh.PullRequests.Create(ctx, req.TargetOwner, req.TargetRepo, &github.NewPullRequest{
		Title: github.Ptr(pullRequestTitle),
		Head:  github.Ptr(branchName),
		Base:  github.Ptr(defaultBranch),
		Body:  github.Ptr(pullRequestBody),
	})
	if err != nil {
		log.Warnf("Creating pull request failed: %v", err)
		return result, nil
	}

	result.PullRequestURL = pr.GetHTMLURL()
	log.With("pr_url", result.PullRequestURL).Info("Opened pull request")
	return result, nil
}

// repoExists queries the hosting provider for the target repository. A 404
// is the expected create-from-template signal, not a failure.
func (a *Agent) repoExists(ctx context.Context, owner, repo string) (bool, error) {
	_, resp, err := a.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("checking repository %s/%s: %w", owner, repo, err)
	}
	return true, nil
}

func (a *Agent) createFromTemplate(ctx context.Context, owner, repo string) (cloneURL, defaultBranch string, err error) {
	created, _, err := a.gh.Repositories.CreateFromTemplate(ctx, a.cfg.TemplateOwner, a.cfg.TemplateRepo, &github.TemplateRepoRequest{
		Name:               github.Ptr(repo),
		Owner:              github.Ptr(owner),
		Private:            github.Ptr(true),
		IncludeAllBranches: github.Ptr(false),
	})
	if err != nil {
		return "", "", fmt.Errorf("creating repository from template: %w", err)
	}

	defaultBranch = created.GetDefaultBranch()
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	// Give the provider time to finish provisioning before the first clone.
	select {
	case <-time.After(provisionDelay):
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
	return created.GetCloneURL(), defaultBranch, nil
}

func (a *Agent) recoverExisting(ctx context.Context, owner, repo string) (cloneURL, defaultBranch string, err error) {
	repoData, _, err := a.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", "", fmt.Errorf("fetching repository %s/%s: %w", owner, repo, err)
	}
	// Derive the clone URL from the naming convention; do not assume main.
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, repo), repoData.GetDefaultBranch(), nil
}

type artifactBlocks struct {
	lean    string
	hasLean bool
	json    string
	hasJSON bool
}

// writeAndPush clones into a fresh working directory, writes artifacts,
// updates the index, regenerates the aggregate, and commits and pushes the
// branch. Any failure here is fatal to the run: nothing has been pushed yet.
func (a *Agent) writeAndPush(ctx context.Context, req Request, cloneURL, branchName string, blocks artifactBlocks) (modeling.PathInfo, error) {
	log := clog.FromContext(ctx)

	tmpDir := filepath.Join(os.TempDir(), "modeling-agent-"+uuid.NewString())
	repo, err := cloneRepo(ctx, cloneURL, tmpDir, a.tokens)
	if err != nil {
		return modeling.PathInfo{}, err
	}
	defer os.RemoveAll(tmpDir)

	if err := checkoutNewBranch(repo, branchName); err != nil {
		return modeling.PathInfo{}, err
	}

	// The clone step can leave residue (provider template hooks); commit it
	// separately so the artifact commit stays an artifact commit.
	dirty, err := isDirty(repo)
	if err != nil {
		return modeling.PathInfo{}, err
	}
	if dirty {
		log.Warn("Working tree dirty after clone, committing residue separately")
		if err := stageAndCommit(repo, ".", prestageCommitMessage, a.cfg.Identity); err != nil {
			return modeling.PathInfo{}, err
		}
	}

	modelingDir := filepath.Join(tmpDir, modeling.ArtifactDir)
	if err := os.MkdirAll(modelingDir, 0o755); err != nil {
		return modeling.PathInfo{}, fmt.Errorf("creating artifact dir: %w", err)
	}

	var metaBlock *string
	if blocks.hasJSON {
		metaBlock = &blocks.json
	}
	info := modeling.Derive(modeling.ParseMetadata(metaBlock))

	if err := a.writeArtifacts(ctx, tmpDir, info, blocks, req.Meta); err != nil {
		return modeling.PathInfo{}, err
	}

	idx := modeling.LoadIndex(ctx, modelingDir)
	idx.Upsert(info, req.Meta.CommitSHA)
	if err := idx.Save(modelingDir); err != nil {
		return modeling.PathInfo{}, err
	}
	if err := idx.WriteAggregate(modelingDir); err != nil {
		return modeling.PathInfo{}, err
	}

	if err := stageAndCommit(repo, ".", artifactCommitMessage, a.cfg.Identity); err != nil {
		return modeling.PathInfo{}, err
	}
	if err := pushBranch(ctx, repo, branchName, a.tokens); err != nil {
		return modeling.PathInfo{}, err
	}

	log.With("branch", branchName, "namespace", info.Namespace).Info("Artifacts pushed")
	return info, nil
}

// writeArtifacts writes the Lean artifact (namespace-wrapped, with a
// metadata comment header) and, when structurally valid, the JSON sidecar.
// An invalid JSON sidecar is logged and skipped, never fatal.
func (a *Agent) writeArtifacts(ctx context.Context, repoDir string, info modeling.PathInfo, blocks artifactBlocks, meta Meta) error {
	log := clog.FromContext(ctx)

	absPath := filepath.Join(repoDir, filepath.FromSlash(info.FilePath))
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("creating artifact parent dir: %w", err)
	}

	if blocks.hasLean {
		content := metaHeader(meta) + "\n" + wrapNamespace(info.Namespace, blocks.lean)
		if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing artifact %s: %w", info.FilePath, err)
		}
		log.Infof("Wrote artifact %s", info.FilePath)
	}

	if blocks.hasJSON {
		if !json.Valid([]byte(blocks.json)) {
			log.Warn("JSON block is not structurally valid, skipping sidecar")
			return nil
		}
		sidecar := strings.TrimSuffix(absPath, modeling.ArtifactExt) + ".json"
		if err := os.WriteFile(sidecar, []byte(blocks.json), 0o644); err != nil {
			return fmt.Errorf("writing sidecar: %w", err)
		}
		log.Infof("Wrote sidecar %s", strings.TrimSuffix(info.FilePath, modeling.ArtifactExt)+".json")
	}
	return nil
}

// metaHeader renders the comment header correlating the artifact with its
// source commit, pull request, and issue. Absent fields are omitted.
func metaHeader(meta Meta) string {
	lines := []string{"-- Modeling Agent Output"}
	if meta.CommitSHA != "" {
		lines = append(lines, "-- Commit: "+meta.CommitSHA)
	}
	if meta.PullNumber != 0 {
		lines = append(lines, fmt.Sprintf("-- PR: #%d", meta.PullNumber))
	}
	if meta.IssueNumber != 0 {
		lines = append(lines, fmt.Sprintf("-- Issue: #%d", meta.IssueNumber))
	}
	return strings.Join(lines, "\n") + "\n"
}

func wrapNamespace(namespace, lean string) string {
	return fmt.Sprintf("namespace %s\n\n%s\n\nend %s\n", namespace, strings.TrimSpace(lean), namespace)
}
