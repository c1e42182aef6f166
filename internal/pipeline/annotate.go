package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/BryanOwens012/dogwalker/internal/task"
)

// uncompletedPhases lists every linearly-ordered phase strictly after
// reached, in order, for the cancelled/failed annotation's "uncompleted
// phases" section (spec §4.11: "annotated PR body listing completed phase,
// uncompleted phases, and elapsed time").
func uncompletedPhases(reached task.Phase) []task.Phase {
	all := []task.Phase{
		task.PhaseInit, task.PhasePlanning, task.PhaseImplementation,
		task.PhaseSelfReview, task.PhaseTesting, task.PhaseFinalization,
	}
	rank := task.Rank(reached)
	var out []task.Phase
	for _, p := range all {
		if task.Rank(p) > rank {
			out = append(out, p)
		}
	}
	return out
}

func phaseList(phases []task.Phase) string {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

// cancelledPRBody builds the annotation appended to a draft PR's body when
// a task is cancelled mid-flight (spec §4.11).
func cancelledPRBody(reachedPhase, cancelledDuringPhase task.Phase, cancelledBy string, elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "---\n\n**Cancelled** during `%s` by %s.\n\n", cancelledDuringPhase, cancelledBy)
	fmt.Fprintf(&b, "- Last completed phase: `%s`\n", reachedPhase)
	if rest := uncompletedPhases(reachedPhase); len(rest) > 0 {
		fmt.Fprintf(&b, "- Uncompleted phases: %s\n", phaseList(rest))
	}
	fmt.Fprintf(&b, "- Elapsed time: %s\n", elapsed.Round(time.Second))
	return b.String()
}

// cancelledThreadMessage is the short-form completion post for a cancelled
// task (spec §7: "exactly one final thread post").
func cancelledThreadMessage(cancelledDuringPhase task.Phase, cancelledBy string) string {
	return fmt.Sprintf("Cancelled during %s by %s.", cancelledDuringPhase, cancelledBy)
}

// failedPRBody builds the annotation appended to a draft PR's body when a
// task terminates with a logic error.
func failedPRBody(reachedPhase task.Phase, reason error, elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "---\n\n**Failed** during `%s`.\n\n", reachedPhase)
	fmt.Fprintf(&b, "- Reason: %s\n", reason.Error())
	fmt.Fprintf(&b, "- Elapsed time: %s\n", elapsed.Round(time.Second))
	return b.String()
}

// failedThreadMessage is the short-form completion post for a failed task.
func failedThreadMessage(reachedPhase task.Phase, reason error) string {
	return fmt.Sprintf("Failed during %s: %s", reachedPhase, reason.Error())
}

// completedThreadMessage is the short-form completion post for a
// successfully finished task, referencing the PR URL (spec §7).
func completedThreadMessage(prURL string, elapsed time.Duration) string {
	return fmt.Sprintf("Done in %s. %s", elapsed.Round(time.Second), prURL)
}
