/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repowriter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/oauth2"
)

// gitAuth mints HTTP basic auth from the installation token source. A nil
// token source (local-path remotes) yields nil auth.
func gitAuth(tokens oauth2.TokenSource) (*githttp.BasicAuth, error) {
	if tokens == nil {
		return nil, nil
	}
	token, err := tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}
	return &githttp.BasicAuth{
		Username: "unused-when-using-access-tokens",
		Password: token.AccessToken,
	}, nil
}

// cloneRepo clones the remote into dir.
func cloneRepo(ctx context.Context, cloneURL, dir string, tokens oauth2.TokenSource) (*git.Repository, error) {
	auth, err := gitAuth(tokens)
	if err != nil {
		return nil, err
	}

	clog.FromContext(ctx).Infof("Cloning %s into %s", cloneURL, dir)
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:  cloneURL,
		Auth: auth,
	})
	if err != nil {
		return nil, fmt.Errorf("cloning repository: %w", err)
	}
	return repo, nil
}

// checkoutNewBranch creates branchName at HEAD and checks it out.
func checkoutNewBranch(repo *git.Repository, branchName string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branchName),
		Create: true,
	}); err != nil {
		return fmt.Errorf("checking out branch %s: %w", branchName, err)
	}
	return nil
}

// checkoutOrTrackBranch checks out branchName, creating it at HEAD when it
// does not exist, or from origin when only the remote has it. Checkouts keep
// local modifications: reconciliation rewrites the aggregate before switching
// branches, and a plain checkout would refuse the dirty worktree.
func checkoutOrTrackBranch(repo *git.Repository, branchName string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(branchName)
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: ref, Create: true, Keep: true}); err == nil {
		return nil
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: ref, Keep: true}); err == nil {
		return nil
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branchName), true)
	if err != nil {
		return fmt.Errorf("resolving origin/%s: %w", branchName, err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(ref, remoteRef.Hash())); err != nil {
		return fmt.Errorf("setting branch reference: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: ref, Keep: true}); err != nil {
		return fmt.Errorf("checking out tracked branch %s: %w", branchName, err)
	}
	return nil
}

// isDirty reports whether the working tree has uncommitted changes.
func isDirty(repo *git.Repository) (bool, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("getting worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("getting worktree status: %w", err)
	}
	return !status.IsClean(), nil
}

// stageAndCommit stages path (everything for ".") and commits with the
// agent's identity.
func stageAndCommit(repo *git.Repository, path, message, identity string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}

	if path == "." {
		err = worktree.AddWithOptions(&git.AddOptions{All: true})
	} else {
		_, err = worktree.Add(path)
	}
	if err != nil {
		return fmt.Errorf("staging %s: %w", path, err)
	}

	email := identity
	if !strings.Contains(email, "@") {
		email = fmt.Sprintf("%s@users.noreply.github.com", identity)
	}
	if _, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  identity,
			Email: email,
			When:  time.Now(),
		},
	}); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// pushBranch pushes branchName to origin with an upstream-tracking refspec.
func pushBranch(ctx context.Context, repo *git.Repository, branchName string, tokens oauth2.TokenSource) error {
	auth, err := gitAuth(tokens)
	if err != nil {
		return err
	}

	ref := plumbing.NewBranchReferenceName(branchName)
	refSpec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", ref, ref))
	clog.FromContext(ctx).Infof("Pushing %s", refSpec)

	if err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{refSpec},
		Auth:       auth,
	}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("pushing branch %s: %w", branchName, err)
	}
	return nil
}
