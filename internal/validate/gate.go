// Package validate implements the Validation Gate (spec §4.6): project-kind
// detection, bounded dependency install, and type-check invocation across
// the JS/TS and Python toolchains, with a classification that treats a
// missing toolchain as "ok, nothing to validate" rather than a failure.
package validate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Kind is a detected project toolchain.
type Kind string

const (
	KindJS     Kind = "js"
	KindPython Kind = "python"
	KindGo     Kind = "go"
	KindRust   Kind = "rust"
)

var sentinels = map[string]Kind{
	"package.json":     KindJS,
	"pyproject.toml":   KindPython,
	"setup.py":         KindPython,
	"requirements.txt": KindPython,
	"go.mod":           KindGo,
	"Cargo.toml":       KindRust,
}

// Runner executes a validation subcommand. Production uses exec.Command;
// tests inject a fake to assert on argv and simulate install/type-check
// outcomes without a real toolchain on PATH.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, exitErr error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// DefaultRunner is the production Runner.
var DefaultRunner Runner = execRunner{}

const installTimeout = 180 * time.Second

// Result is the outcome of one validate() call (spec §4.6).
type Result struct {
	OK     bool
	Errors string // combined stdout+stderr of the first real compiler failure, if any
	Kinds  []Kind
}

// Gate runs against one repo root.
type Gate struct {
	root   string
	runner Runner
}

// New builds a Gate rooted at root.
func New(root string, runner Runner) *Gate {
	if runner == nil {
		runner = DefaultRunner
	}
	return &Gate{root: root, runner: runner}
}

// DetectKinds walks sentinel files at the repo root to determine which
// toolchains apply. Multiple kinds are allowed (spec §4.6.1).
func (g *Gate) DetectKinds() []Kind {
	seen := map[Kind]bool{}
	var kinds []Kind
	for name, kind := range sentinels {
		if _, err := os.Stat(filepath.Join(g.root, name)); err == nil && !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Validate runs every applicable validator and returns the first real
// compiler failure encountered, or ok if none fail and at least one ran (or
// none could run at all — spec §4.6.4: "no validators available" is ok).
func (g *Gate) Validate(ctx context.Context, changedFiles []string) Result {
	kinds := g.DetectKinds()
	res := Result{OK: true, Kinds: kinds}

	for _, k := range kinds {
		switch k {
		case KindJS:
			ok, errs := g.validateJS(ctx)
			if !ok {
				res.OK = false
				res.Errors = errs
				return res
			}
		case KindPython:
			if !hasPySuffix(changedFiles) {
				continue
			}
			ok, errs := g.validatePython(ctx)
			if !ok {
				res.OK = false
				res.Errors = errs
				return res
			}
		}
	}
	return res
}

func hasPySuffix(files []string) bool {
	for _, f := range files {
		if strings.HasSuffix(f, ".py") {
			return true
		}
	}
	return false
}

// monorepoTypeCheckDirs lists conventional paths to probe for a nested
// tsconfig.json when the repo root itself has none.
var monorepoTypeCheckDirs = []string{".", "apps/web", "apps/frontend", "frontend", "web", "client"}

func (g *Gate) findTSConfigDir() (string, bool) {
	for _, rel := range monorepoTypeCheckDirs {
		if _, err := os.Stat(filepath.Join(g.root, rel, "tsconfig.json")); err == nil {
			return rel, true
		}
	}
	return "", false
}

func (g *Gate) validateJS(ctx context.Context) (ok bool, errors string) {
	if _, err := os.Stat(filepath.Join(g.root, "node_modules")); err != nil {
		installCtx, cancel := context.WithTimeout(ctx, installTimeout)
		defer cancel()
		_, stderr, err := g.runner.Run(installCtx, g.root, "npm", "install")
		if err != nil && isCommandMissing(err) {
			return true, "" // no npm on PATH: not a failure, just nothing to validate
		}
		if err != nil && installCtx.Err() == context.DeadlineExceeded {
			return true, "" // install didn't finish in time; treat as unavailable, not a defect
		}
		_ = stderr // install failures short of timeout still let us attempt type-check below
	}

	dir, found := g.findTSConfigDir()
	if !found {
		dir = "."
	}
	stdout, stderr, err := g.runner.Run(ctx, filepath.Join(g.root, dir), "npx", "tsc", "--noEmit")
	if err != nil {
		if isCommandMissing(err) {
			return true, ""
		}
		return false, stdout + stderr
	}
	return true, ""
}

func (g *Gate) validatePython(ctx context.Context) (ok bool, errors string) {
	stdout, stderr, err := g.runner.Run(ctx, g.root, "mypy", ".")
	if err != nil {
		if isCommandMissing(err) {
			return true, ""
		}
		return false, stdout + stderr
	}
	return true, ""
}

// isCommandMissing reports whether err looks like "no such executable" (the
// toolchain isn't installed) rather than a real compiler failure.
func isCommandMissing(err error) bool {
	var perr *exec.Error
	if ok := asExecError(err, &perr); ok {
		return true
	}
	return false
}

func asExecError(err error, target **exec.Error) bool {
	for err != nil {
		if e, ok := err.(*exec.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// RepairPrompt builds the repair-loop prompt carrying the gate's verbatim
// error output (spec §4.6: "re-invokes the editing agent with a repair
// prompt carrying the verbatim error output").
func RepairPrompt(errors string) string {
	return fmt.Sprintf(
		"The following type-check/compile errors were found. Fix them; keep all other behavior unchanged.\n\n%s",
		strings.TrimSpace(errors))
}
