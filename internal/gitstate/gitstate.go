// Package gitstate builds the file-state section of a session snapshot
// from a working tree: modified, staged, and untracked paths plus the
// uncommitted diff blob.
package gitstate

import (
	"bytes"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"

	"sessionguard/internal/checkpoint"
)

// Capturer reads working-tree state from a git repository.
type Capturer struct {
	path string
	repo *git.Repository
}

// Open opens the repository at path.
func Open(path string) (*Capturer, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open git repository: %w", err)
	}
	return &Capturer{path: path, repo: repo}, nil
}

// Capture builds a FileState from the current working tree. The diff
// blob combines staged and unstaged changes; intake truncation bounds it
// later, so no cap is applied here.
func (c *Capturer) Capture() (checkpoint.FileState, error) {
	var fs checkpoint.FileState

	worktree, err := c.repo.Worktree()
	if err != nil {
		return fs, fmt.Errorf("get worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return fs, fmt.Errorf("get worktree status: %w", err)
	}

	for path, fileStatus := range status {
		if fileStatus.Staging != git.Unmodified && fileStatus.Staging != git.Untracked {
			fs.StagedFiles = append(fs.StagedFiles, path)
		}
		if fileStatus.Worktree == git.Untracked {
			fs.ActiveFiles = append(fs.ActiveFiles, path)
		} else if fileStatus.Worktree != git.Unmodified {
			fs.ModifiedFiles = append(fs.ModifiedFiles, path)
		}
	}

	// Map iteration order is random; keep snapshots deterministic.
	sort.Strings(fs.ActiveFiles)
	sort.Strings(fs.ModifiedFiles)
	sort.Strings(fs.StagedFiles)

	unstaged, err := c.diff(false)
	if err != nil {
		return fs, err
	}
	staged, err := c.diff(true)
	if err != nil {
		return fs, err
	}
	fs.UncommittedDiff = joinDiffs(unstaged, staged)

	return fs, nil
}

// diff shells out to git; go-git's diff support does not cover the
// index-vs-worktree cases needed here.
func (c *Capturer) diff(cached bool) (string, error) {
	args := []string{"diff"}
	if cached {
		args = append(args, "--cached")
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = c.path

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git diff failed: %w, stderr: %s", err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

func joinDiffs(unstaged, staged string) string {
	switch {
	case unstaged == "":
		return staged
	case staged == "":
		return unstaged
	default:
		return unstaged + "\n" + staged
	}
}
