package git

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Repo represents a Git repository
type Repo struct {
	path string
	repo *git.Repository
}

// Open opens the git repository containing path, searching parent
// directories for the .git entry
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}

	root := path
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}

	return &Repo{
		path: root,
		repo: repo,
	}, nil
}

// Root returns the top directory of the working tree
func (r *Repo) Root() string {
	return r.path
}

// CurrentBranch returns the name of the current branch
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached")
	}
	return head.Name().Short(), nil
}

// HeadCommit returns the abbreviated hash of HEAD, empty for a repository
// without commits
func (r *Repo) HeadCommit() (string, error) {
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String()[:7], nil
}

// ProjectRoot returns the working tree root enclosing dir, or dir itself
// when it is not inside a repository
func ProjectRoot(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	r, err := Open(abs)
	if err != nil {
		return abs
	}
	return r.Root()
}
