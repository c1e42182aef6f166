// Package pipeline implements the Pipeline state machine (spec §4.11): the
// component that binds every other collaborator — Coordination Store, Dog
// Selector, Cancellation Manager, Thread Channel, Repo Workspace,
// Validation Gate, Agent Façade, and the forge adapter — into one task's
// end-to-end run, from init through finalization or an early cancelled/
// failed exit.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BryanOwens012/dogwalker/internal/agentfacade"
	"github.com/BryanOwens012/dogwalker/internal/cancel"
	"github.com/BryanOwens012/dogwalker/internal/chatadapter"
	"github.com/BryanOwens012/dogwalker/internal/chatchannel"
	"github.com/BryanOwens012/dogwalker/internal/config"
	"github.com/BryanOwens012/dogwalker/internal/cost"
	"github.com/BryanOwens012/dogwalker/internal/dog"
	"github.com/BryanOwens012/dogwalker/internal/errkind"
	"github.com/BryanOwens012/dogwalker/internal/forge"
	"github.com/BryanOwens012/dogwalker/internal/selector"
	"github.com/BryanOwens012/dogwalker/internal/store"
	"github.com/BryanOwens012/dogwalker/internal/task"
	"github.com/BryanOwens012/dogwalker/internal/visualdiff"
	"github.com/BryanOwens012/dogwalker/internal/workspace"
)

const (
	prTitlePrefix = "[Walker] "
	prTitleCap    = 70
	mediaBranch   = "walker-media"
)

// Dependencies are every collaborator the Pipeline is constructed around
// (spec §9's redesign note: explicit interface-typed dependencies injected
// at construction, not implicit module-load wiring).
type Dependencies struct {
	Config        *config.Config
	Forge         forge.Client
	Editor        agentfacade.EditorClient
	FacadeOptions []agentfacade.FacadeOption
	Coordination  *store.Coordination
	Selector      *selector.Selector
	ChatAdapter   chatadapter.Adapter
	WorkspaceRoot string
	GitRunner     workspace.Runner
	Log           *zap.Logger
}

// Pipeline runs one task at a time to completion when Run is called; it
// holds no per-task mutable state itself (that lives in the run value
// built fresh inside Run), so one Pipeline value is safe to reuse across
// sequential tasks within a worker (spec §5: "each worker runs one
// pipeline at a time").
type Pipeline struct {
	cfg           *config.Config
	forge         forge.Client
	editor        agentfacade.EditorClient
	facadeOpts    []agentfacade.FacadeOption
	coord         *store.Coordination
	sel           *selector.Selector
	chatAdapter   chatadapter.Adapter
	workspaceRoot string
	gitRunner     workspace.Runner
	log           *zap.Logger
}

// New builds a Pipeline from deps, applying the production defaults for any
// field deps leaves zero.
func New(deps Dependencies) *Pipeline {
	runner := deps.GitRunner
	if runner == nil {
		runner = workspace.DefaultRunner
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		cfg:           deps.Config,
		forge:         deps.Forge,
		editor:        deps.Editor,
		facadeOpts:    deps.FacadeOptions,
		coord:         deps.Coordination,
		sel:           deps.Selector,
		chatAdapter:   deps.ChatAdapter,
		workspaceRoot: deps.WorkspaceRoot,
		gitRunner:     runner,
		log:           log,
	}
}

// Result is the terminal outcome of one Run call.
type Result struct {
	TaskID string
	Phase  task.Phase
	PR     *forge.PullRequest
	Cost   map[string]float64
}

// run holds everything mutable about one in-flight task. A fresh run is
// built inside every Pipeline.Run call.
type run struct {
	pipeline *Pipeline
	payload  task.Payload
	dog      dog.Dog
	owner    string
	repo     string

	facade    *agentfacade.Facade
	ledger    *cost.Ledger
	channel   *chatchannel.Channel
	cancelMgr *cancel.Manager
	ws        *workspace.Workspace

	state         task.State
	startTime     time.Time
	feedbackSeen  int
	searchContext string
	imagePaths    []string
	beforeURLs    []string
	prBody        string
	busy          bool
}

// Run drives payload through every phase to a terminal outcome (spec
// §4.11). A non-nil error means a transient-transport failure escaped a
// phase boundary and the Job Runtime should retry the whole call with
// backoff; any other phase error goes through the failed path. A nil error
// with Result.Phase in {done, cancelled, failed} means
// the task reached a fully-handled terminal state (failed/cancelled are
// already annotated and posted — they are not retried).
func (p *Pipeline) Run(ctx context.Context, payload task.Payload, d dog.Dog) (*Result, error) {
	owner, repo, err := splitRepo(p.cfg.ForgeRepo)
	if err != nil {
		return nil, errkind.Logic(err)
	}

	ledger := cost.New()
	media := &forgeMediaStore{client: p.forge, owner: owner, repo: repo, mediaBranch: mediaBranch, baseBranch: p.cfg.BaseBranch}
	opts := append(append([]agentfacade.FacadeOption{}, p.facadeOpts...), agentfacade.WithMediaStore(media))

	r := &run{
		pipeline:  p,
		payload:   payload,
		dog:       d,
		owner:     owner,
		repo:      repo,
		facade:    agentfacade.NewFacade(p.editor, p.cfg.LLMAPIKey, ledger, opts...),
		ledger:    ledger,
		channel:   chatchannel.New(p.chatAdapter, p.coord, payload.ChannelRef, payload.ThreadRef, payload.TaskID),
		cancelMgr: cancel.New(p.coord),
		state:     task.State{},
		startTime: time.UnixMilli(payload.StartTime),
	}
	defer r.channel.Close()

	defer func() {
		if r.busy {
			if err := p.sel.MarkFree(context.Background(), d.Name, payload.TaskID); err != nil {
				p.log.Warn("marking dog free failed", zap.String("dog", d.Name), zap.String("task_id", payload.TaskID), zap.Error(err))
			}
		}
		if r.ws != nil {
			if err := r.ws.Cleanup(); err != nil {
				p.log.Warn("workspace cleanup failed", zap.String("task_id", payload.TaskID), zap.Error(err))
			}
		}
	}()

	type step struct {
		phase task.Phase
		fn    func(context.Context) error
	}
	steps := []step{
		{task.PhaseInit, r.runInit},
		{task.PhasePlanning, r.runPlanning},
		{task.PhaseImplementation, r.runImplementation},
		{task.PhaseSelfReview, r.runSelfReview},
		{task.PhaseTesting, r.runTesting},
		{task.PhaseFinalization, r.runFinalization},
	}

	for i, s := range steps {
		if i > 0 {
			if info := r.cancelledInfo(ctx); info != nil {
				return r.finishCancelled(ctx, s.phase, info), nil
			}
		}
		if err := s.fn(ctx); err != nil {
			if errkind.IsLogic(err) || !errkind.IsTransient(err) {
				return r.finishFailed(ctx, s.phase, err), nil
			}
			return r.partialResult(s.phase), err
		}
		r.state.Phase = s.phase
	}

	return r.finishDone(ctx), nil
}

func (r *run) partialResult(phase task.Phase) *Result {
	return &Result{TaskID: r.payload.TaskID, Phase: phase, PR: r.currentPR(), Cost: r.ledger.Report()}
}

func (r *run) finishDone(ctx context.Context) *Result {
	r.state.Phase = task.PhaseDone
	r.unbindThread(ctx)
	return &Result{TaskID: r.payload.TaskID, Phase: task.PhaseDone, PR: r.currentPR(), Cost: r.ledger.Report()}
}

// unbindThread removes the thread->task binding now that the pipeline has
// reached a terminal state, closing the live window spec invariant 2
// requires (thread_task:{thread_ts} present iff a pipeline is still active).
func (r *run) unbindThread(ctx context.Context) {
	if err := r.pipeline.coord.UnbindThread(ctx, r.payload.ThreadRef); err != nil {
		r.pipeline.log.Warn("unbinding thread failed", zap.String("task_id", r.payload.TaskID), zap.Error(err))
	}
}

func (r *run) currentPR() *forge.PullRequest {
	if r.state.PRInfo == nil {
		return nil
	}
	return &forge.PullRequest{Number: r.state.PRInfo.Number, URL: r.state.PRInfo.URL, Title: r.state.PRInfo.Title}
}

// cancelledInfo checks the cancellation flag, logging and degrading to "not
// cancelled" on store trouble (spec §4.3) since Manager.IsCancelled already
// does that; Info additionally fetches who/when for the annotation.
func (r *run) cancelledInfo(ctx context.Context) *cancel.Info {
	if !r.cancelMgr.IsCancelled(ctx, r.payload.TaskID) {
		return nil
	}
	info, err := r.cancelMgr.Info(ctx, r.payload.TaskID)
	if err != nil || info == nil {
		return &cancel.Info{CancelledBy: "unknown"}
	}
	return info
}

func (r *run) finishCancelled(ctx context.Context, duringPhase task.Phase, info *cancel.Info) *Result {
	elapsed := time.Since(r.startTime)
	by := info.CancelledBy
	if by == "" {
		by = "unknown"
	}

	if r.state.PRInfo != nil {
		body := r.prBody + "\n\n" + cancelledPRBody(r.state.Phase, duringPhase, by, elapsed)
		if err := r.pipeline.forge.EditPR(ctx, r.owner, r.repo, r.state.PRInfo.Number, "", body); err != nil {
			r.pipeline.log.Warn("annotating cancelled PR failed", zap.Error(err))
		}
	}
	if err := r.channel.Post(ctx, cancelledThreadMessage(duringPhase, by)); err != nil {
		r.pipeline.log.Warn("posting cancellation message failed", zap.Error(err))
	}
	if err := r.cancelMgr.Clear(ctx, r.payload.TaskID); err != nil {
		r.pipeline.log.Warn("clearing cancellation flag failed", zap.Error(err))
	}
	r.unbindThread(ctx)

	r.state.Phase = task.PhaseCancelled
	return &Result{TaskID: r.payload.TaskID, Phase: task.PhaseCancelled, PR: r.currentPR(), Cost: r.ledger.Report()}
}

func (r *run) finishFailed(ctx context.Context, duringPhase task.Phase, reason error) *Result {
	elapsed := time.Since(r.startTime)

	if r.state.PRInfo != nil {
		body := r.prBody + "\n\n" + failedPRBody(duringPhase, reason, elapsed)
		if err := r.pipeline.forge.EditPR(ctx, r.owner, r.repo, r.state.PRInfo.Number, "", body); err != nil {
			r.pipeline.log.Warn("annotating failed PR failed", zap.Error(err))
		}
	}
	if err := r.channel.Post(ctx, failedThreadMessage(duringPhase, reason)); err != nil {
		r.pipeline.log.Warn("posting failure message failed", zap.Error(err))
	}
	r.unbindThread(ctx)

	r.state.Phase = task.PhaseFailed
	return &Result{TaskID: r.payload.TaskID, Phase: task.PhaseFailed, PR: r.currentPR(), Cost: r.ledger.Report()}
}

// drainFeedbackText advances the task's feedback pointer and returns a
// ready-to-splice prompt block for anything new (spec glossary "Feedback
// drain"), or "" if nothing arrived since the last drain.
func (r *run) drainFeedbackText(ctx context.Context) string {
	msgs, err := r.channel.DrainNew(ctx)
	if err != nil {
		r.pipeline.log.Warn("draining thread feedback failed, continuing without it", zap.Error(err))
		return ""
	}
	if len(msgs) <= r.feedbackSeen {
		return ""
	}
	fresh := msgs[r.feedbackSeen:]
	r.feedbackSeen = len(msgs)
	for _, m := range fresh {
		r.state.ThreadFeedback = append(r.state.ThreadFeedback, strings.TrimSpace(m.Text))
	}
	return chatchannel.FeedbackPreamble(chatchannel.CombinedFeedbackText(fresh))
}

// runInit implements the init phase's action list (spec §4.11): clone,
// branch, save images, fetch web URLs, placeholder commit + push (folded
// into CreateBranch), bind thread to task, mark the dog busy.
func (r *run) runInit(ctx context.Context) error {
	repoURL := fmt.Sprintf("https://github.com/%s/%s.git", r.owner, r.repo)
	ws, err := workspace.Clone(ctx, r.pipeline.gitRunner, r.pipeline.workspaceRoot, r.payload.TaskID, repoURL, r.pipeline.cfg.BaseBranch)
	if err != nil {
		return err
	}
	r.ws = ws

	date := r.startTime.Format("2006-01-02")
	slug := workspace.TaskSlug(r.payload.Description)
	branch := workspace.BranchNameFor(r.dog.Slug(), date, slug, func(candidate string) bool {
		exists, err := r.pipeline.forge.BranchExists(ctx, r.owner, r.repo, candidate)
		return err == nil && exists
	})
	if err := ws.CreateBranch(ctx, r.pipeline.gitRunner, branch); err != nil {
		return err
	}

	if err := r.saveImages(ctx); err != nil {
		r.pipeline.log.Warn("saving attached images failed, continuing without them", zap.Error(err))
	}

	if urls := extractURLs(r.payload.Description); len(urls) > 0 {
		r.state.ImageURLs = urls
		r.state.WebContext = r.facade.FetchURLContext(ctx, urls)
	}

	if err := r.pipeline.coord.BindThread(ctx, r.payload.ThreadRef, r.payload.TaskID); err != nil {
		return err
	}
	if err := r.pipeline.sel.MarkBusy(ctx, r.dog.Name, r.payload.TaskID); err != nil {
		return err
	}
	r.busy = true
	return nil
}

// saveImages writes every attached image to the workspace's .images/
// subdirectory, recording the relative paths the Agent Façade stages into
// the editing agent's context (spec §3 working-tree layout).
func (r *run) saveImages(ctx context.Context) error {
	for _, img := range r.payload.Images {
		if img.Filename == "" || len(img.Bytes) == 0 {
			continue
		}
		rel := filepath.Join(".images", img.Filename)
		abs := filepath.Join(r.ws.Dir, rel)
		if err := os.WriteFile(abs, img.Bytes, 0o644); err != nil {
			return fmt.Errorf("writing attached image %s: %w", img.Filename, err)
		}
		r.imagePaths = append(r.imagePaths, rel)
	}
	return nil
}

var urlRe = regexp.MustCompile(`https?://[^\s)\]]+`)

// extractURLs pulls http(s) links out of a task description for context
// fetching (spec §4.11 init: "fetch web URLs").
func extractURLs(description string) []string {
	matches := urlRe.FindAllString(description, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// runPlanning implements the planning phase (spec §4.11): title + plan,
// draft PR with plan body, plan preview post, before-screenshots. Feedback
// that arrives during planning stays in the inbox: implementation's first
// drain picks it up and absorbs it.
func (r *run) runPlanning(ctx context.Context) error {
	bareTitle, err := r.facade.Title(ctx, r.payload.Description, prTitleCap-len(prTitlePrefix))
	if err != nil {
		return err
	}
	title := truncateTitle(prTitlePrefix + bareTitle)

	if searchCtx, err := r.facade.SearchContext(ctx, r.payload.Description); err != nil {
		r.pipeline.log.Warn("search-context check failed, continuing without it", zap.Error(err))
	} else {
		r.searchContext = searchCtx
	}

	plan, err := r.facade.Plan(ctx, r.payload.Description, r.state.WebContext)
	if err != nil {
		return err
	}
	r.state.Plan = plan

	draftBody, err := r.facade.DraftBody(ctx, r.payload.Description, plan)
	if err != nil {
		return err
	}
	r.prBody = draftBody

	pr, err := r.pipeline.forge.CreateDraftPR(ctx, r.owner, r.repo, r.ws.BranchName, r.pipeline.cfg.BaseBranch, title, draftBody, r.dog.Name)
	if err != nil {
		return errkind.Transient(err)
	}
	r.state.PRInfo = &task.PRInfo{Number: pr.Number, URL: pr.URL, Title: pr.Title}

	if _, err := r.channel.PostWithCancel(ctx, agentfacade.PlanPreview(plan)); err != nil {
		r.pipeline.log.Warn("posting plan preview failed", zap.Error(err))
	}

	before, err := r.facade.CaptureBefore(ctx, r.ws, plan, nil)
	if err != nil {
		r.pipeline.log.Warn("before-screenshot capture failed, continuing without it", zap.Error(err))
	} else if len(before) > 0 {
		r.state.BeforeScreenshots = toTaskShots(before)
		r.beforeURLs = shotURLs(before)
	}

	return nil
}

// runImplementation implements the implementation phase (spec §4.11):
// implement absorbing any drained feedback, then drain again and
// optionally fold a late arrival into one more pass.
func (r *run) runImplementation(ctx context.Context) error {
	feedback := r.drainFeedbackText(ctx)
	_, err := r.facade.Implement(ctx, agentfacade.ImplementRequest{
		Workspace:      r.ws,
		Description:    r.payload.Description,
		Feedback:       feedback,
		WebContext:     r.state.WebContext,
		SearchContext:  r.searchContext,
		ImagePaths:     r.imagePaths,
		AllowNoChanges: false,
	})
	if err != nil {
		return err
	}

	if late := r.drainFeedbackText(ctx); late != "" {
		if _, err := r.facade.Implement(ctx, agentfacade.ImplementRequest{
			Workspace:      r.ws,
			Description:    "Incorporate the additional feedback below into the change just made.",
			Feedback:       late,
			AllowNoChanges: true,
		}); err != nil {
			return err
		}
	}
	return nil
}

// runSelfReview implements the self_review phase (spec §4.11): a review
// pass where changes are allowed but not required, then the same
// drain/optional-reimplement pattern.
func (r *run) runSelfReview(ctx context.Context) error {
	changedFiles, err := r.ws.ChangedFiles(ctx, r.pipeline.gitRunner)
	if err != nil {
		return err
	}
	feedback := r.drainFeedbackText(ctx)
	if _, err := r.facade.SelfReview(ctx, r.ws, changedFiles, feedback); err != nil {
		return err
	}

	if late := r.drainFeedbackText(ctx); late != "" {
		if _, err := r.facade.Implement(ctx, agentfacade.ImplementRequest{
			Workspace:      r.ws,
			Description:    "Incorporate the additional feedback below.",
			Feedback:       late,
			AllowNoChanges: true,
		}); err != nil {
			return err
		}
	}
	return nil
}

// runTesting implements the testing phase (spec §4.11): write and run
// tests (terminal on failure), then drain once more and, on new feedback,
// re-implement and re-test exactly once.
func (r *run) runTesting(ctx context.Context) error {
	changedFiles, err := r.ws.ChangedFiles(ctx, r.pipeline.gitRunner)
	if err != nil {
		return err
	}
	feedback := r.drainFeedbackText(ctx)
	if _, err := r.facade.Tests(ctx, r.ws, changedFiles, feedback); err != nil {
		return err
	}

	late := r.drainFeedbackText(ctx)
	if late == "" {
		return nil
	}
	if _, err := r.facade.Implement(ctx, agentfacade.ImplementRequest{
		Workspace:      r.ws,
		Description:    "Incorporate the additional feedback below.",
		Feedback:       late,
		AllowNoChanges: true,
	}); err != nil {
		return err
	}
	changedFiles, err = r.ws.ChangedFiles(ctx, r.pipeline.gitRunner)
	if err != nil {
		return err
	}
	_, err = r.facade.Tests(ctx, r.ws, changedFiles, "")
	return err
}

// runFinalization implements the finalization phase (spec §4.11): remove
// placeholder, push, after-screenshots, duration, critical-review bullets,
// final PR body, update PR, mark ready, post completion.
func (r *run) runFinalization(ctx context.Context) error {
	if err := r.ws.RemovePlaceholder(ctx, r.pipeline.gitRunner); err != nil {
		return err
	}
	if err := r.ws.Push(ctx, r.pipeline.gitRunner); err != nil {
		return err
	}

	after, err := r.facade.CaptureAfter(ctx, r.ws, r.state.Plan, r.beforeURLs)
	if err != nil {
		r.pipeline.log.Warn("after-screenshot capture failed, continuing without it", zap.Error(err))
	} else if len(after) > 0 {
		r.state.AfterScreenshots = toTaskShots(after)
	}

	changedFiles, err := r.ws.ChangedFiles(ctx, r.pipeline.gitRunner)
	if err != nil {
		return err
	}
	summary := strings.Join(changedFiles, "\n")

	bullets, err := r.facade.CriticalReviewBullets(ctx, r.payload.Description, summary)
	if err != nil {
		r.pipeline.log.Warn("critical-review bullets failed, omitting from PR body", zap.Error(err))
		bullets = ""
	}

	feedbackMsgs, err := r.channel.DrainNew(ctx)
	if err != nil {
		feedbackMsgs = nil
	}
	feedbackSummary := chatchannel.FormatMessagesForPR(feedbackMsgs)

	finalBody, err := r.facade.FinalBody(ctx, r.payload.Description, r.state.Plan, summary, feedbackSummary, r.ledger.Report())
	if err != nil {
		return err
	}
	finalBody = appendScreenshots(finalBody, r.state.BeforeScreenshots, r.state.AfterScreenshots)
	if bullets != "" {
		finalBody += "\n\n### Worth a careful look\n" + bullets
	}
	r.prBody = finalBody

	if r.state.PRInfo != nil {
		if err := r.pipeline.forge.EditPR(ctx, r.owner, r.repo, r.state.PRInfo.Number, r.state.PRInfo.Title, finalBody); err != nil {
			return errkind.Transient(err)
		}
		if err := r.pipeline.forge.MarkReady(ctx, r.owner, r.repo, r.state.PRInfo.Number); err != nil {
			return errkind.Transient(err)
		}
	}

	if r.state.PRInfo != nil {
		if err := r.channel.Post(ctx, completedThreadMessage(r.state.PRInfo.URL, time.Since(r.startTime))); err != nil {
			r.pipeline.log.Warn("posting completion message failed", zap.Error(err))
		}
	}
	return nil
}

func toTaskShots(shots []visualdiff.Shot) []task.Screenshot {
	out := make([]task.Screenshot, len(shots))
	for i, s := range shots {
		out[i] = task.Screenshot{URL: s.URL, LocalPath: s.LocalPath, MediaURL: s.MediaURL}
	}
	return out
}

func shotURLs(shots []visualdiff.Shot) []string {
	out := make([]string, len(shots))
	for i, s := range shots {
		out[i] = s.URL
	}
	return out
}

func appendScreenshots(body string, before, after []task.Screenshot) string {
	if len(before) == 0 && len(after) == 0 {
		return body
	}
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\n### Screenshots\n")
	for _, s := range before {
		fmt.Fprintf(&b, "**Before** `%s`\n\n![before](%s)\n\n", s.URL, s.MediaURL)
	}
	for _, s := range after {
		fmt.Fprintf(&b, "**After** `%s`\n\n![after](%s)\n\n", s.URL, s.MediaURL)
	}
	return b.String()
}

// truncateTitle enforces the 70-char PR title cap, trimming at the last
// word boundary before the limit rather than mid-word (spec §8 boundary
// behavior).
func truncateTitle(title string) string {
	if len(title) <= prTitleCap {
		return title
	}
	cut := title[:prTitleCap]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ")
}

func splitRepo(forgeRepo string) (owner, repo string, err error) {
	parts := strings.SplitN(forgeRepo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("forge repo %q is not in owner/repo form", forgeRepo)
	}
	return parts[0], parts[1], nil
}
