/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repowriter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// newLocalRemote seeds a bare repository with one commit, for use as a
// local-path clone target.
func newLocalRemote(t *testing.T) string {
	t.Helper()

	work := t.TempDir()
	repo, err := git.PlainInit(work, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(work, "README.md"), []byte("# seed\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	bare := t.TempDir()
	_, err = git.PlainInit(bare, true)
	require.NoError(t, err)

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{bare}})
	require.NoError(t, err)
	require.NoError(t, repo.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{"refs/heads/master:refs/heads/master"},
	}))

	return bare
}

func TestCloneCommitPush(t *testing.T) {
	ctx := context.Background()
	remote := newLocalRemote(t)

	dir := t.TempDir()
	repo, err := cloneRepo(ctx, remote, filepath.Join(dir, "clone"), nil)
	require.NoError(t, err)

	require.NoError(t, checkoutNewBranch(repo, "agent-models/test"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "clone", "artifact.lean"), []byte("def x : Nat := 1\n"), 0o644))
	require.NoError(t, stageAndCommit(repo, ".", "add artifact", "modeling-agent"))
	require.NoError(t, pushBranch(ctx, repo, "agent-models/test", nil))

	bare, err := git.PlainOpen(remote)
	require.NoError(t, err)
	ref, err := bare.Reference(plumbing.NewBranchReferenceName("agent-models/test"), true)
	require.NoError(t, err)

	commit, err := bare.CommitObject(ref.Hash())
	require.NoError(t, err)
	if commit.Message != "add artifact" {
		t.Errorf("pushed commit message = %q, want %q", commit.Message, "add artifact")
	}
	if commit.Author.Name != "modeling-agent" {
		t.Errorf("author name = %q, want %q", commit.Author.Name, "modeling-agent")
	}
	if want := "modeling-agent@users.noreply.github.com"; commit.Author.Email != want {
		t.Errorf("author email = %q, want %q", commit.Author.Email, want)
	}
}

func TestPushAlreadyUpToDate(t *testing.T) {
	ctx := context.Background()
	remote := newLocalRemote(t)

	repo, err := cloneRepo(ctx, remote, t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, checkoutNewBranch(repo, "agent-models/idem"))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(wt.Filesystem.Root(), "f.lean"), []byte("x"), 0o644))
	require.NoError(t, stageAndCommit(repo, ".", "c", "modeling-agent"))

	require.NoError(t, pushBranch(ctx, repo, "agent-models/idem", nil))
	// Second push of an unchanged branch is a no-op, not an error.
	require.NoError(t, pushBranch(ctx, repo, "agent-models/idem", nil))
}

func TestIsDirty(t *testing.T) {
	ctx := context.Background()
	remote := newLocalRemote(t)

	dir := t.TempDir()
	repo, err := cloneRepo(ctx, remote, dir, nil)
	require.NoError(t, err)

	dirty, err := isDirty(repo)
	require.NoError(t, err)
	if dirty {
		t.Error("fresh clone reported dirty")
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	dirty, err = isDirty(repo)
	require.NoError(t, err)
	if !dirty {
		t.Error("untracked file not reported dirty")
	}
}

func TestStageAndCommitPreservesEmailIdentity(t *testing.T) {
	ctx := context.Background()
	remote := newLocalRemote(t)

	dir := t.TempDir()
	repo, err := cloneRepo(ctx, remote, dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644))
	require.NoError(t, stageAndCommit(repo, ".", "c", "agent@formalmind.com"))

	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	if commit.Author.Email != "agent@formalmind.com" {
		t.Errorf("author email = %q, want identity used verbatim", commit.Author.Email)
	}
}

func TestCheckoutOrTrackBranch(t *testing.T) {
	ctx := context.Background()
	remote := newLocalRemote(t)

	repo, err := cloneRepo(ctx, remote, t.TempDir(), nil)
	require.NoError(t, err)

	// Creates the branch when missing.
	require.NoError(t, checkoutOrTrackBranch(repo, "reconcile/run"))
	head, err := repo.Head()
	require.NoError(t, err)
	if got := head.Name().Short(); got != "reconcile/run" {
		t.Fatalf("HEAD = %q, want reconcile/run", got)
	}

	// Plain checkout when it already exists.
	require.NoError(t, checkoutOrTrackBranch(repo, "master"))
	require.NoError(t, checkoutOrTrackBranch(repo, "reconcile/run"))
}

func TestGitAuth(t *testing.T) {
	auth, err := gitAuth(nil)
	require.NoError(t, err)
	if auth != nil {
		t.Errorf("gitAuth(nil) = %+v, want nil for local remotes", auth)
	}
}
