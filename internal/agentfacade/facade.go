package agentfacade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BryanOwens012/dogwalker/internal/browser"
	"github.com/BryanOwens012/dogwalker/internal/cost"
	"github.com/BryanOwens012/dogwalker/internal/devserver"
	"github.com/BryanOwens012/dogwalker/internal/errkind"
	"github.com/BryanOwens012/dogwalker/internal/validate"
	"github.com/BryanOwens012/dogwalker/internal/visualdiff"
	"github.com/BryanOwens012/dogwalker/internal/websearch"
	"github.com/BryanOwens012/dogwalker/internal/workspace"
)

// commitPreamble enforces the commit-strategy rule named in spec §4.10:
// commits capped at 500 LOC except single-file exceptions. The editing
// agent is a black box; this is the only lever the façade has over its
// behavior.
const commitPreamble = `Work in small commits. Keep each commit under 500 lines
changed, except when a single file's own diff genuinely cannot be split
(e.g. a generated lockfile or a large data fixture) — in that case one
oversized commit for that file alone is acceptable. Do not bundle unrelated
changes into one commit.

`

// EditorModel is the model the black-box editing agent itself runs,
// distinct from TextModel which the façade uses for its own title/plan/PR
// body generation (spec §4.10).
const EditorModel = "claude-sonnet-4-5"

// Facade is the Agent Façade (spec §4.10): the single door the Pipeline
// uses onto the black-box editing agent, the façade's own text-generation
// calls, the Validation Gate's repair loop, and the dev-server/visual-diff
// capture hooks.
type Facade struct {
	editor   EditorClient
	text     TextGenerator
	ledger   *cost.Ledger
	gitRun   workspace.Runner
	validRun validate.Runner
	searchP  websearch.Provider
	fetcher  websearch.Fetcher
	browser  browser.Driver
	media    visualdiff.MediaStore
	log      Logger
}

// FacadeOption configures a Facade at construction.
type FacadeOption func(*Facade)

// WithGitRunner overrides the git Runner used for commit/status checks
// (tests inject a fake).
func WithGitRunner(r workspace.Runner) FacadeOption {
	return func(f *Facade) { f.gitRun = r }
}

// WithValidateRunner overrides the validation-gate subprocess Runner.
func WithValidateRunner(r validate.Runner) FacadeOption {
	return func(f *Facade) { f.validRun = r }
}

// WithSearchProvider attaches a web-search provider for SearchContext.
func WithSearchProvider(p websearch.Provider) FacadeOption {
	return func(f *Facade) { f.searchP = p }
}

// WithFetcher attaches an HTML fetcher for URL context gathering.
func WithFetcher(fetcher websearch.Fetcher) FacadeOption {
	return func(f *Facade) { f.fetcher = fetcher }
}

// WithBrowser attaches the headless browser driver for visual-diff capture.
func WithBrowser(d browser.Driver) FacadeOption {
	return func(f *Facade) { f.browser = d }
}

// WithMediaStore attaches the media-branch uploader for visual-diff capture.
func WithMediaStore(m visualdiff.MediaStore) FacadeOption {
	return func(f *Facade) { f.media = m }
}

// WithFacadeLogger attaches a debug logger.
func WithFacadeLogger(l Logger) FacadeOption {
	return func(f *Facade) { f.log = l }
}

// WithTextGenerator overrides the façade's own title/plan/PR-body/search
// text generator (tests inject a fake instead of calling the live API).
func WithTextGenerator(g TextGenerator) FacadeOption {
	return func(f *Facade) { f.text = g }
}

// NewFacade builds a Facade around editor (the black-box editing agent),
// authenticated text generation via apiKey, and ledger for cost bookkeeping.
func NewFacade(editor EditorClient, apiKey string, ledger *cost.Ledger, opts ...FacadeOption) *Facade {
	f := &Facade{
		editor:   editor,
		text:     newTextClient(apiKey, ledger),
		ledger:   ledger,
		gitRun:   workspace.DefaultRunner,
		validRun: validate.DefaultRunner,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Facade) logDebug(msg string, kv ...any) {
	if f.log != nil {
		f.log.Debugw(msg, kv...)
	}
}

// Title delegates to the façade's own text-generation model (spec §4.10).
func (f *Facade) Title(ctx context.Context, description string, maxLen int) (string, error) {
	return f.text.Title(ctx, description, maxLen)
}

// Plan delegates to the façade's own text-generation model.
func (f *Facade) Plan(ctx context.Context, description, webContext string) (string, error) {
	return f.text.Plan(ctx, description, webContext)
}

// DraftBody delegates to the façade's own text-generation model.
func (f *Facade) DraftBody(ctx context.Context, description, plan string) (string, error) {
	return f.text.DraftBody(ctx, description, plan)
}

// FinalBody delegates to the façade's own text-generation model.
func (f *Facade) FinalBody(ctx context.Context, description, plan, changedFilesSummary, feedbackSummary string, costReport map[string]float64) (string, error) {
	return f.text.FinalBody(ctx, description, plan, changedFilesSummary, feedbackSummary, costReport)
}

// CriticalReviewBullets delegates to the façade's own text-generation model.
func (f *Facade) CriticalReviewBullets(ctx context.Context, description, changedFilesSummary string) (string, error) {
	return f.text.CriticalReviewBullets(ctx, description, changedFilesSummary)
}

// SearchContext implements the "is search critical?" two-step check (spec
// §4.10): the default is NONE, emitting no searches; otherwise it performs
// at most 2 scoped searches and formats a context block. A search-provider
// failure degrades to "no context for this query" rather than failing the
// whole call, since search context is an enrichment, never a hard
// dependency.
func (f *Facade) SearchContext(ctx context.Context, description string) (string, error) {
	queries, err := f.text.SearchCriticality(ctx, description)
	if err != nil {
		return "", fmt.Errorf("checking search criticality: %w", err)
	}
	if len(queries) == 0 {
		return "", nil
	}
	if f.searchP == nil {
		f.logDebug("search deemed critical but no provider configured, skipping")
		return "", nil
	}

	var b strings.Builder
	for _, q := range queries {
		results, err := f.searchP.Search(ctx, q, 5)
		if err != nil {
			f.logDebug("search failed, continuing without it", "query", q, "error", err.Error())
			continue
		}
		if block := websearch.FormatResults(q, results); block != "" {
			b.WriteString(block)
			b.WriteString("\n")
		}
		f.ledger.Add(cost.CategorySearch, 0) // the provider call itself isn't LLM spend; tracked for visibility only
	}
	return b.String(), nil
}

// FetchURLContext fetches each url in urls and formats a context block for
// the implementation prompt, best-effort (a failed fetch is dropped, not
// fatal).
func (f *Facade) FetchURLContext(ctx context.Context, urls []string) string {
	if f.fetcher == nil || len(urls) == 0 {
		return ""
	}
	var b strings.Builder
	for _, u := range urls {
		title, text, err := f.fetcher.Fetch(ctx, u)
		if err != nil {
			f.logDebug("url fetch failed, continuing", "url", u, "error", err.Error())
			continue
		}
		fmt.Fprintf(&b, "Referenced page %s", u)
		if title != "" {
			fmt.Fprintf(&b, " (%s)", title)
		}
		b.WriteString(":\n")
		if len(text) > 4000 {
			text = text[:4000]
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// ImplementRequest bundles one implementation-phase invocation's inputs.
type ImplementRequest struct {
	Workspace      *workspace.Workspace
	Description    string
	Feedback       string // already formatted via chatchannel.FeedbackPreamble, or ""
	WebContext     string
	SearchContext  string
	ImagePaths     []string
	AllowNoChanges bool
}

// Implement invokes the black-box editing agent, then checks for an empty
// diff, then drives the Validation Gate's single-repair loop, then commits
// on success (spec §4.10). This is the one façade method both the
// implementation and self-review/testing phases funnel through with
// different AllowNoChanges settings (spec §9 redesign note).
func (f *Facade) Implement(ctx context.Context, req ImplementRequest) (*EditOutcome, error) {
	prompt := f.buildImplementPrompt(req)

	outcome, err := f.editor.Edit(ctx, EditRequest{
		RepoDir:    req.Workspace.Dir,
		Prompt:     prompt,
		Model:      EditorModel,
		ImagePaths: req.ImagePaths,
	})
	if err != nil {
		return nil, fmt.Errorf("invoking editing agent: %w", err)
	}
	f.recordEditCost(outcome)

	dirty, err := req.Workspace.HasUncommittedChanges(ctx, f.gitRun)
	if err != nil {
		return nil, err
	}
	if !dirty {
		if req.AllowNoChanges {
			return outcome, nil
		}
		return nil, errkind.Logic(fmt.Errorf(
			"editing agent reported completion but made no changes to the working tree (task: %q, raw response: %q)",
			req.Description, truncate(outcome.RawMessage, 500)))
	}

	changedFiles, err := req.Workspace.ChangedFiles(ctx, f.gitRun)
	if err != nil {
		return nil, err
	}

	gate := validate.New(req.Workspace.Dir, f.validRun)
	result := gate.Validate(ctx, changedFiles)
	if !result.OK {
		f.logDebug("validation failed, attempting one repair pass", "errors", result.Errors)
		repairOutcome, err := f.editor.Edit(ctx, EditRequest{
			RepoDir: req.Workspace.Dir,
			Prompt:  validate.RepairPrompt(result.Errors),
			Model:   EditorModel,
		})
		if err != nil {
			return nil, fmt.Errorf("invoking editing agent for repair: %w", err)
		}
		f.recordEditCost(repairOutcome)
		outcome = repairOutcome

		changedFiles, err = req.Workspace.ChangedFiles(ctx, f.gitRun)
		if err != nil {
			return nil, err
		}
		result = gate.Validate(ctx, changedFiles)
		if !result.OK {
			return nil, errkind.Logic(fmt.Errorf("validation failed after one repair attempt: %s", truncate(result.Errors, 2000)))
		}
	}

	if _, err := req.Workspace.CommitAll(ctx, f.gitRun, commitMessage(req.Description)); err != nil {
		return nil, err
	}
	return outcome, nil
}

func commitMessage(description string) string {
	first := strings.SplitN(strings.TrimSpace(description), "\n", 2)[0]
	if len(first) > 72 {
		first = first[:72]
	}
	return first
}

func (f *Facade) buildImplementPrompt(req ImplementRequest) string {
	var b strings.Builder
	b.WriteString(commitPreamble)
	b.WriteString(req.Description)
	if req.WebContext != "" {
		b.WriteString("\n\n")
		b.WriteString(req.WebContext)
	}
	if req.SearchContext != "" {
		b.WriteString("\n\n")
		b.WriteString(req.SearchContext)
	}
	if req.Feedback != "" {
		b.WriteString("\n\n")
		b.WriteString(req.Feedback)
	}
	return b.String()
}

func (f *Facade) recordEditCost(outcome *EditOutcome) {
	if outcome == nil || f.ledger == nil {
		return
	}
	usd := cost.EstimateCost(nil, EditorModel, outcome.PromptTokens, outcome.CompletionTokens)
	f.ledger.Add(cost.CategoryImplementation, usd)
}

// SelfReview re-invokes the editing agent with the changed-files list pinned
// into its context and a review prompt (spec §4.10). Changes are allowed
// (AllowNoChanges=true): a review pass may legitimately conclude nothing
// needs fixing.
func (f *Facade) SelfReview(ctx context.Context, ws *workspace.Workspace, changedFiles []string, feedback string) (*EditOutcome, error) {
	prompt := fmt.Sprintf(
		"Review your own recent changes to these files and fix any issues you find (bugs, inconsistent style, missed edge cases):\n%s",
		strings.Join(changedFiles, "\n"))
	outcome, err := f.Implement(ctx, ImplementRequest{
		Workspace:      ws,
		Description:    prompt,
		Feedback:       feedback,
		AllowNoChanges: true,
	})
	if err != nil {
		return nil, err
	}
	if f.ledger != nil && outcome != nil {
		usd := cost.EstimateCost(nil, EditorModel, outcome.PromptTokens, outcome.CompletionTokens)
		f.ledger.Add(cost.CategorySelfReview, usd)
	}
	return outcome, nil
}

// Tests re-invokes the editing agent to write and run tests for the changed
// files (spec §4.11 testing phase). A test failure is terminal
// (AllowNoChanges=false): testing must produce a working test suite or the
// pipeline fails.
func (f *Facade) Tests(ctx context.Context, ws *workspace.Workspace, changedFiles []string, feedback string) (*EditOutcome, error) {
	prompt := fmt.Sprintf(
		"Write and run tests covering the changes to these files. If tests fail, fix the implementation or the tests until they pass:\n%s",
		strings.Join(changedFiles, "\n"))
	outcome, err := f.Implement(ctx, ImplementRequest{
		Workspace:      ws,
		Description:    prompt,
		Feedback:       feedback,
		AllowNoChanges: false,
	})
	if err != nil {
		return nil, err
	}
	if f.ledger != nil && outcome != nil {
		usd := cost.EstimateCost(nil, EditorModel, outcome.PromptTokens, outcome.CompletionTokens)
		f.ledger.Add(cost.CategoryTesting, usd)
	}
	return outcome, nil
}

// devServerLaunch is the fixed command used to boot the project's dev
// server: always `npm run dev`. No other npm script is probed, and neither
// the plan nor the changed files influence the choice.
var devServerLaunch = struct {
	Cmd  string
	Args []string
}{Cmd: "npm", Args: []string{"run", "dev"}}

const devServerPort = 3000
const devServerPollTimeout = 60 * time.Second

// CaptureBefore starts the dev server, captures screenshots for the plan's
// extracted URLs, then stops the server so the implementation phase's
// multi-file edits don't fight a hot reloader (spec §4.8's "before"
// sequence).
func (f *Facade) CaptureBefore(ctx context.Context, ws *workspace.Workspace, plan string, changedFiles []string) ([]visualdiff.Shot, error) {
	if f.browser == nil || f.media == nil {
		return nil, nil
	}
	if !visualdiff.IsFrontend(plan, changedFiles) {
		return nil, nil
	}

	srv, err := devserver.Start(ctx, ws.Dir, devServerLaunch.Cmd, devServerLaunch.Args, devServerPort)
	if err != nil {
		f.logDebug("before-capture dev server failed to start, skipping screenshots", "error", err.Error())
		return nil, nil
	}
	defer srv.Stop()

	if failure, err := srv.WaitReady(ctx, devServerPollTimeout); err != nil || failure != nil {
		f.logDebug("before-capture dev server not ready, skipping screenshots")
		return nil, nil
	}

	urls := visualdiff.ExtractURLs(plan)
	shots, err := visualdiff.Capture(ctx, f.browser, f.media, fmt.Sprintf("http://127.0.0.1:%d", srv.Port()), "before", urls)
	if err != nil {
		f.logDebug("before-capture screenshot pass failed, continuing without it", "error", err.Error())
		return nil, nil
	}
	return shots, nil
}

// CaptureAfter starts a fresh dev server with cache clear and captures
// "after" screenshots for the same URL set as the "before" pass. On a
// compile-hang it drives the one allowed repair-and-retry detour (spec
// §4.7, §4.10): one repair prompt to the editing agent, one retry of start
// with cache clear. Any other failure mode, or a second compile-hang, is
// terminal only for screenshots — the PR simply lacks "after" shots.
func (f *Facade) CaptureAfter(ctx context.Context, ws *workspace.Workspace, plan string, beforeURLs []string) ([]visualdiff.Shot, error) {
	if f.browser == nil || f.media == nil || len(beforeURLs) == 0 {
		return nil, nil
	}

	if err := devserver.ClearCache(ws.Dir); err != nil {
		f.logDebug("after-capture cache clear failed, continuing", "error", err.Error())
	}

	srv, failure, err := f.startAndWaitDevServer(ctx, ws.Dir)
	if err != nil {
		return nil, nil
	}
	if failure != nil {
		if failure.Kind != devserver.FailureCompileHang {
			f.logDebug("after-capture dev server failed, skipping screenshots", "kind", string(failure.Kind))
			return nil, nil
		}

		f.logDebug("after-capture hit a compile hang, attempting one repair pass")
		if _, err := f.editor.Edit(ctx, EditRequest{
			RepoDir: ws.Dir,
			Prompt:  validate.RepairPrompt(strings.Join(failure.Lines, "\n")),
			Model:   EditorModel,
		}); err != nil {
			return nil, nil
		}
		if err := devserver.ClearCache(ws.Dir); err != nil {
			f.logDebug("after-capture retry cache clear failed, continuing", "error", err.Error())
		}

		srv, failure, err = f.startAndWaitDevServer(ctx, ws.Dir)
		if err != nil || failure != nil {
			f.logDebug("after-capture still failing after repair retry, skipping screenshots")
			return nil, nil
		}
	}
	defer srv.Stop()

	shots, err := visualdiff.Capture(ctx, f.browser, f.media, fmt.Sprintf("http://127.0.0.1:%d", srv.Port()), "after", beforeURLs)
	if err != nil {
		f.logDebug("after-capture screenshot pass failed, continuing without it", "error", err.Error())
		return nil, nil
	}
	return shots, nil
}

func (f *Facade) startAndWaitDevServer(ctx context.Context, dir string) (*devserver.Server, *devserver.Failure, error) {
	srv, err := devserver.Start(ctx, dir, devServerLaunch.Cmd, devServerLaunch.Args, devServerPort)
	if err != nil {
		return nil, nil, err
	}
	failure, err := srv.WaitReady(ctx, devServerPollTimeout)
	if err != nil {
		srv.Stop()
		return nil, nil, err
	}
	if failure != nil {
		srv.Stop()
		return nil, failure, nil
	}
	return srv, nil, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
