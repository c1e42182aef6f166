package chatchannel

import (
	"strings"

	"github.com/BryanOwens012/dogwalker/internal/store"
)

// FeedbackPreamble formats drained messages for injection into an
// agent-facing implementation prompt: an imperative instruction to
// incorporate the feedback, distinct from QuestionAcknowledgement's
// register because the agent is mid-task here, not being asked something.
func FeedbackPreamble(feedback string) string {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return ""
	}
	return "IMPORTANT - feedback from the requester:\n\n" + feedback +
		"\n\nIncorporate this into the current work. Adjust the implementation to " +
		"match the request while keeping the rest of the change intact."
}

// QuestionAcknowledgement formats the dog's own outgoing question for the
// thread: a direct ask, not a feedback-incorporation instruction, since the
// dog is the one requesting input here rather than receiving it.
func QuestionAcknowledgement(question string) string {
	question = strings.TrimSpace(question)
	return "Question: " + question + "\n\nReply in this thread; I'll check back shortly."
}

// CombinedFeedbackText joins drained thread messages into one block,
// oldest first, attributed by display name — the shape the Agent Façade's
// prompts expect (spec §4.10).
func CombinedFeedbackText(msgs []store.ThreadMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		name := m.UserName
		if name == "" {
			name = "user"
		}
		parts = append(parts, name+": "+strings.TrimSpace(m.Text))
	}
	return strings.Join(parts, "\n\n")
}

// FormatMessagesForPR renders every message in the thread's inbox as a
// markdown bullet list for the final PR description's feedback summary.
// Returns "" if there are no messages, so callers can omit the section.
func FormatMessagesForPR(msgs []store.ThreadMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, m := range msgs {
		name := m.UserName
		if name == "" {
			name = "Unknown User"
		}
		text := strings.NewReplacer("*", "\\*", "_", "\\_").Replace(m.Text)
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- **" + name + ":** " + text)
	}
	return b.String()
}
