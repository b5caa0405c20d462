package repohost

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("taskroom\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("open worktree: %v", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		t.Fatalf("git add: %v", err)
	}
	hash, err := worktree.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("develop"), hash)); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if _, err := repo.CreateTag("v0.1.0", hash, nil); err != nil {
		t.Fatalf("create tag: %v", err)
	}
	return dir
}

func TestListRemoteRefs(t *testing.T) {
	dir := initTestRepo(t)

	refs, err := ListRemoteRefs(context.Background(), dir)
	if err != nil {
		t.Fatalf("ListRemoteRefs: %v", err)
	}

	if len(refs.Branches) != 2 {
		t.Fatalf("expected two branches, got %v", refs.Branches)
	}
	if refs.Branches[0] != "develop" {
		t.Fatalf("branches should be sorted, got %v", refs.Branches)
	}
	if len(refs.Tags) != 1 || refs.Tags[0] != "v0.1.0" {
		t.Fatalf("expected tag v0.1.0, got %v", refs.Tags)
	}
}

func TestListRemoteRefsUnreachable(t *testing.T) {
	_, err := ListRemoteRefs(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected an error for an unreachable remote")
	}
}
