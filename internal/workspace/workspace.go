// Package workspace implements the Repo Workspace (spec §4.5): a per-task
// working tree checked out onto a fresh branch, with the placeholder commit,
// diffing, and push operations the pipeline needs.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/BryanOwens012/dogwalker/internal/errkind"
)

// placeholderFile is committed on branch creation so the branch has
// something to diff against before any real work lands (spec §4.5).
const placeholderFile = ".walker-task"

// Workspace is one task's checked-out working tree.
type Workspace struct {
	Dir        string // task root: Dir/.images, Dir/.web, Dir/.screenshots live alongside the checkout
	BranchName string
	repoURL    string
	baseBranch string
}

// Runner executes git subcommands. The default runs exec.Command; tests
// substitute a fake to assert on argv without touching a real repo.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (stdout string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}

// DefaultRunner is the production git Runner.
var DefaultRunner Runner = execRunner{}

// Clone clones repoURL under root/taskID, checks out baseBranch, and
// creates a fresh working-tree subtree under it for images/web/screenshots
// (spec §3 Working Tree layout).
func Clone(ctx context.Context, runner Runner, root, taskID, repoURL, baseBranch string) (*Workspace, error) {
	dir := filepath.Join(root, taskID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errkind.Transient(fmt.Errorf("creating workspace root %q: %w", root, err))
	}
	if _, err := runner.Run(ctx, root, "clone", "--branch", baseBranch, "--single-branch", repoURL, dir); err != nil {
		return nil, errkind.Transient(fmt.Errorf("cloning %q: %w", repoURL, err))
	}
	for _, sub := range []string{".images", ".web", ".screenshots"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", sub, err)
		}
	}
	return &Workspace{Dir: dir, repoURL: repoURL, baseBranch: baseBranch}, nil
}

// CreateBranch creates and checks out a new branch named name, then makes a
// single placeholder commit so the branch has history to diff against and a
// draft PR can be opened before any real work lands (spec §4.5).
func (w *Workspace) CreateBranch(ctx context.Context, runner Runner, name string) error {
	if _, err := runner.Run(ctx, w.Dir, "checkout", "-b", name); err != nil {
		return errkind.Transient(fmt.Errorf("creating branch %q: %w", name, err))
	}
	w.BranchName = name

	placeholder := filepath.Join(w.Dir, placeholderFile)
	if err := os.WriteFile(placeholder, []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing placeholder file: %w", err)
	}
	if _, err := runner.Run(ctx, w.Dir, "add", placeholderFile); err != nil {
		return errkind.Transient(fmt.Errorf("staging placeholder: %w", err))
	}
	if _, err := runner.Run(ctx, w.Dir, "commit", "-m", "chore: start task branch "+name); err != nil {
		return errkind.Transient(fmt.Errorf("placeholder commit: %w", err))
	}
	if _, err := runner.Run(ctx, w.Dir, "push", "-u", "origin", name); err != nil {
		return errkind.Transient(fmt.Errorf("pushing branch %q: %w", name, err))
	}
	return nil
}

// BranchNameFor returns a deterministic branch name of the form
// "{dog-slug}/{YYYY-MM-DD}-{task-slug}" (spec §6), deduplicated against a
// probe that reports whether a candidate already exists remotely:
// collisions append -2, -3, ... in order, so repeated calls against a
// stable probe are idempotent and the suffix sequence never skips.
func BranchNameFor(dogSlug, date, taskSlug string, exists func(candidate string) bool) string {
	base := fmt.Sprintf("%s/%s-%s", dogSlug, date, taskSlug)
	if exists == nil || !exists(base) {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !exists(candidate) {
			return candidate
		}
	}
}

// TaskSlug derives the task-slug component of a branch name from a task
// description: lowercase, non-alnum runs collapsed to a single dash,
// trimmed, capped to keep branch names reasonable.
func TaskSlug(description string) string {
	s := strings.ToLower(description)
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	const maxLen = 40
	if len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "-")
	}
	if slug == "" {
		slug = "task"
	}
	return slug
}

// ChangedFiles returns the set of files modified relative to the base
// branch, used by the Validation Gate to decide whether the Python check
// runs and for the final PR diff summary. Always filters out the placeholder file
// itself, even before RemovePlaceholder runs, so a diff taken mid-pipeline
// (self-review, testing) never reports it as a changed file (spec §4.5,
// §8: "changed_files(base) never includes the placeholder path").
func (w *Workspace) ChangedFiles(ctx context.Context, runner Runner) ([]string, error) {
	out, err := runner.Run(ctx, w.Dir, "diff", "--name-only", w.baseBranch+"...HEAD")
	if err != nil {
		return nil, errkind.Transient(fmt.Errorf("diffing changed files: %w", err))
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	files := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" && l != placeholderFile {
			files = append(files, l)
		}
	}
	return files, nil
}

// HasUncommittedChanges reports whether the working tree has any staged or
// unstaged modifications, used by the Agent Façade to decide whether an
// implementation round actually touched anything (spec §4.10 — distinct
// from "agent returned ok" or "agent claims it edited files").
func (w *Workspace) HasUncommittedChanges(ctx context.Context, runner Runner) (bool, error) {
	out, err := runner.Run(ctx, w.Dir, "status", "--porcelain")
	if err != nil {
		return false, errkind.Transient(fmt.Errorf("checking status: %w", err))
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitAll stages and commits every change in the working tree with
// message. No-ops (returns false, nil) if there is nothing to commit.
func (w *Workspace) CommitAll(ctx context.Context, runner Runner, message string) (committed bool, err error) {
	dirty, err := w.HasUncommittedChanges(ctx, runner)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}
	if _, err := runner.Run(ctx, w.Dir, "add", "-A"); err != nil {
		return false, errkind.Transient(fmt.Errorf("staging changes: %w", err))
	}
	if _, err := runner.Run(ctx, w.Dir, "commit", "-m", message); err != nil {
		return false, errkind.Transient(fmt.Errorf("committing: %w", err))
	}
	return true, nil
}

// RemovePlaceholder deletes the placeholder file created by CreateBranch,
// run once real work has landed so it never appears in the final diff
// (spec §4.11, finalization: "remove placeholder, push").
func (w *Workspace) RemovePlaceholder(ctx context.Context, runner Runner) error {
	path := filepath.Join(w.Dir, placeholderFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing placeholder: %w", err)
	}
	if _, err := runner.Run(ctx, w.Dir, "add", "-A"); err != nil {
		return errkind.Transient(fmt.Errorf("staging placeholder removal: %w", err))
	}
	if _, err := runner.Run(ctx, w.Dir, "commit", "-m", "chore: remove task placeholder"); err != nil {
		return errkind.Transient(fmt.Errorf("committing placeholder removal: %w", err))
	}
	return nil
}

// Push pushes the current branch to origin.
func (w *Workspace) Push(ctx context.Context, runner Runner) error {
	if _, err := runner.Run(ctx, w.Dir, "push", "origin", w.BranchName); err != nil {
		return errkind.Transient(fmt.Errorf("pushing %q: %w", w.BranchName, err))
	}
	return nil
}

// Cleanup removes the task's working tree from disk. Always safe to call
// more than once.
func (w *Workspace) Cleanup() error {
	if w.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("removing workspace %q: %w", w.Dir, err)
	}
	return nil
}
