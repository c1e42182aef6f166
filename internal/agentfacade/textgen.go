package agentfacade

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/BryanOwens012/dogwalker/internal/cost"
)

// TextModel is the model used for the façade's own text-generation calls
// (title, plan, PR bodies, search-criticality check) — distinct from
// whatever model the black-box editing agent itself is configured to run.
const TextModel = anthropic.ModelClaudeSonnet4_5

// TextGenerator is the façade's own text-generation boundary (title, plan,
// PR bodies, search-criticality), satisfied by textClient in production and
// substitutable in tests so callers never need a live API key to exercise
// the Pipeline (spec §9 redesign note: explicit interface-typed
// dependencies, not a concrete SDK client reached for directly).
type TextGenerator interface {
	Title(ctx context.Context, description string, maxLen int) (string, error)
	Plan(ctx context.Context, description, webContext string) (string, error)
	DraftBody(ctx context.Context, description, plan string) (string, error)
	FinalBody(ctx context.Context, description, plan, changedFilesSummary, feedbackSummary string, costReport map[string]float64) (string, error)
	CriticalReviewBullets(ctx context.Context, description, changedFilesSummary string) (string, error)
	SearchCriticality(ctx context.Context, description string) ([]string, error)
}

// textClient wraps the anthropic SDK client with cost-ledger bookkeeping.
type textClient struct {
	client anthropic.Client
	ledger *cost.Ledger
}

func newTextClient(apiKey string, ledger *cost.Ledger) *textClient {
	return &textClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		ledger: ledger,
	}
}

func (t *textClient) generate(ctx context.Context, category, systemPrompt, userPrompt string, maxTokens int64) (string, error) {
	msg, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     TextModel,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s generation: %w", category, err)
	}

	if t.ledger != nil {
		usd := cost.EstimateCost(nil, string(TextModel), int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens))
		t.ledger.Add(category, usd)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(tb.Text)
		}
	}
	return out.String(), nil
}

// Title generates a PR title capped at maxLen characters (spec §4.10). The
// "[Walker] " prefix and the overall 70-char cap are applied by the caller
// (Pipeline), since the façade only produces the bare title text.
func (t *textClient) Title(ctx context.Context, description string, maxLen int) (string, error) {
	system := "You write short, specific pull request titles. Respond with the title only, no quotes, no punctuation at the end."
	user := fmt.Sprintf("Task: %s\n\nWrite a PR title, at most %d characters.", description, maxLen)
	title, err := t.generate(ctx, cost.CategoryPlanning, system, user, 64)
	if err != nil {
		return "", err
	}
	title = strings.TrimSpace(strings.Trim(title, `"`))
	if len(title) > maxLen {
		title = strings.TrimSpace(title[:maxLen])
	}
	return title, nil
}

// Plan generates an implementation plan for description (spec §4.10).
func (t *textClient) Plan(ctx context.Context, description, webContext string) (string, error) {
	system := "You are planning a code change before any editing happens. " +
		"Describe the approach and files likely to change. NO commands (no mkdir, npm install, etc.) — this is a plan, not a script."
	user := description
	if webContext != "" {
		user += "\n\n" + webContext
	}
	return t.generate(ctx, cost.CategoryPlanning, system, user, 1024)
}

// PlanPreview truncates a plan to at most 350 characters for posting to the
// thread, appending "..." when truncation occurs (spec invariant: truncates
// at 347 + "..." iff len(plan) > 350).
func PlanPreview(plan string) string {
	const limit = 350
	if len(plan) <= limit {
		return plan
	}
	return plan[:limit-3] + "..."
}

// DraftBody generates the draft PR body posted when the branch is first
// opened, before any implementation work has landed.
func (t *textClient) DraftBody(ctx context.Context, description, plan string) (string, error) {
	system := "Write a concise draft pull request description. The work has not started yet; describe intent and plan."
	user := fmt.Sprintf("Task: %s\n\nPlan:\n%s", description, plan)
	return t.generate(ctx, cost.CategoryPRDescription, system, user, 1024)
}

// FinalBody generates the completion PR body, including a summary of
// changed files, cost report, and any feedback absorbed along the way.
func (t *textClient) FinalBody(ctx context.Context, description, plan, changedFilesSummary, feedbackSummary string, costReport map[string]float64) (string, error) {
	system := "Write a final pull request description summarizing what changed and why. Be specific about the files touched."
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nOriginal plan:\n%s\n\nFiles changed:\n%s\n", description, plan, changedFilesSummary)
	if feedbackSummary != "" {
		fmt.Fprintf(&b, "\nFeedback incorporated along the way:\n%s\n", feedbackSummary)
	}
	return t.generate(ctx, cost.CategoryPRDescription, system, b.String(), 1536)
}

// CriticalReviewBullets asks the façade's own model for a short bullet list
// summarizing what a careful reviewer should double-check, used in
// finalization (spec §4.11: "ask agent for critical-review bullets").
func (t *textClient) CriticalReviewBullets(ctx context.Context, description, changedFilesSummary string) (string, error) {
	system := "Given a completed change, list 2-5 short bullet points a human reviewer should pay close attention to. Be concrete, not generic."
	user := fmt.Sprintf("Task: %s\n\nFiles changed:\n%s", description, changedFilesSummary)
	return t.generate(ctx, cost.CategorySelfReview, system, user, 512)
}

// SearchNone is the model's answer in the two-step "is search critical?"
// check (spec §4.10): NONE means skip search entirely.
const (
	SearchNone = "NONE"
)

// SearchCriticality asks whether description needs external research before
// implementation, returning nil when the model answers SearchNone (or
// nothing) and otherwise at most 2 scoped queries; the cap of 2 is applied
// here.
func (t *textClient) SearchCriticality(ctx context.Context, description string) ([]string, error) {
	system := `Decide whether this coding task requires looking up external documentation or API references before implementing.
Respond with exactly "NONE" if no search is needed, or up to 2 short search queries, one per line, if search would materially help.`
	resp, err := t.generate(ctx, cost.CategorySearch, system, description, 128)
	if err != nil {
		return nil, err
	}
	resp = strings.TrimSpace(resp)
	if resp == "" || strings.EqualFold(resp, SearchNone) {
		return nil, nil
	}
	var queries []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.EqualFold(line, SearchNone) {
			queries = append(queries, line)
		}
		if len(queries) == 2 {
			break
		}
	}
	return queries, nil
}
