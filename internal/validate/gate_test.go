package validate

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls   []string
	results map[string]fakeResult
}

type fakeResult struct {
	stdout, stderr string
	err            error
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, name)
	r := f.results[name]
	return r.stdout, r.stderr, r.err
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
}

func TestDetectKindsFindsJS(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "package.json")

	g := New(dir, &fakeRunner{})
	assert.Equal(t, []Kind{KindJS}, g.DetectKinds())
}

func TestDetectKindsFindsMultiple(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "package.json")
	touch(t, dir, "requirements.txt")

	g := New(dir, &fakeRunner{})
	kinds := g.DetectKinds()
	assert.Contains(t, kinds, KindJS)
	assert.Contains(t, kinds, KindPython)
}

func TestValidateOKWhenNoToolchainDetected(t *testing.T) {
	g := New(t.TempDir(), &fakeRunner{})
	res := g.Validate(context.Background(), nil)
	assert.True(t, res.OK)
}

func TestValidateJSFailsOnTypeCheckError(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "package.json")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))

	runner := &fakeRunner{results: map[string]fakeResult{
		"npx": {stdout: "main.ts(1,1): error TS2304: Cannot find name 'foo'.", err: errors.New("exit status 2")},
	}}
	g := New(dir, runner)

	res := g.Validate(context.Background(), nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "TS2304")
}

func TestValidateJSOKOnCleanTypeCheck(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "package.json")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))

	g := New(dir, &fakeRunner{})
	res := g.Validate(context.Background(), nil)
	assert.True(t, res.OK)
}

func TestValidatePythonSkippedWithoutPyChanges(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "requirements.txt")

	runner := &fakeRunner{results: map[string]fakeResult{
		"mypy": {err: errors.New("should not be called")},
	}}
	g := New(dir, runner)

	res := g.Validate(context.Background(), []string{"README.md"})
	assert.True(t, res.OK)
	assert.NotContains(t, runner.calls, "mypy")
}

func TestValidatePythonRunsWhenPyFileChanged(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "requirements.txt")

	runner := &fakeRunner{results: map[string]fakeResult{
		"mypy": {stdout: "app.py:3: error: Incompatible types", err: errors.New("exit status 1")},
	}}
	g := New(dir, runner)

	res := g.Validate(context.Background(), []string{"app.py"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "Incompatible types")
}

func TestIsCommandMissingDetectsExecError(t *testing.T) {
	_, err := exec.LookPath("definitely-not-a-real-binary-xyz")
	require.Error(t, err)
	assert.True(t, isCommandMissing(&exec.Error{Name: "definitely-not-a-real-binary-xyz", Err: exec.ErrNotFound}))
}

func TestRepairPromptIncludesErrors(t *testing.T) {
	p := RepairPrompt("  some compiler error  ")
	assert.Contains(t, p, "some compiler error")
	assert.NotContains(t, p, "  some compiler error  ")
}
