package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// setupTestRepo creates a temporary git repository for testing
func setupTestRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()

	tmpDir := t.TempDir()
	repo, err := git.PlainInit(tmpDir, false)
	if err != nil {
		t.Fatalf("Failed to init git repo: %v", err)
	}
	return tmpDir, repo
}

// commitFile creates a file and commits it
func commitFile(t *testing.T, repo *git.Repository, repoPath, filename, content string) {
	t.Helper()

	filePath := filepath.Join(repoPath, filename)
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}
	if _, err := wt.Add(filename); err != nil {
		t.Fatalf("Failed to add file: %v", err)
	}
	_, err = wt.Commit("Add "+filename, &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Failed to commit file: %v", err)
	}
}

func TestOpen(t *testing.T) {
	repoPath, _ := setupTestRepo(t)

	repo, err := Open(repoPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if repo.Root() != repoPath {
		t.Errorf("Expected root %s, got %s", repoPath, repo.Root())
	}
}

func TestOpenFromSubdirectory(t *testing.T) {
	repoPath, _ := setupTestRepo(t)
	sub := filepath.Join(repoPath, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	repo, err := Open(sub)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if repo.Root() != repoPath {
		t.Errorf("Expected root %s, got %s", repoPath, repo.Root())
	}
}

func TestOpenNonExistentRepo(t *testing.T) {
	_, err := Open(t.TempDir())
	if err == nil {
		t.Error("Expected error when opening a directory outside any repository")
	}
}

func TestCurrentBranch(t *testing.T) {
	repoPath, gitRepo := setupTestRepo(t)
	commitFile(t, gitRepo, repoPath, "README.md", "# Test")

	repo, err := Open(repoPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	branch, err := repo.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch failed: %v", err)
	}

	if branch != "master" && branch != "main" {
		t.Errorf("Expected branch 'master' or 'main', got '%s'", branch)
	}
}

func TestHeadCommit(t *testing.T) {
	repoPath, gitRepo := setupTestRepo(t)

	repo, err := Open(repoPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	head, err := repo.HeadCommit()
	if err != nil {
		t.Fatalf("HeadCommit on empty repo failed: %v", err)
	}
	if head != "" {
		t.Errorf("Expected empty head for new repo, got %s", head)
	}

	commitFile(t, gitRepo, repoPath, "README.md", "# Test")
	head, err = repo.HeadCommit()
	if err != nil {
		t.Fatalf("HeadCommit failed: %v", err)
	}
	if len(head) != 7 {
		t.Errorf("Expected abbreviated hash, got %q", head)
	}
}

func TestProjectRoot(t *testing.T) {
	repoPath, _ := setupTestRepo(t)
	sub := filepath.Join(repoPath, "pkg")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	if got := ProjectRoot(sub); got != repoPath {
		t.Errorf("ProjectRoot(%s) = %s, want %s", sub, got, repoPath)
	}

	plain := t.TempDir()
	if got := ProjectRoot(plain); got != plain {
		t.Errorf("ProjectRoot outside a repo = %s, want %s", got, plain)
	}
}
