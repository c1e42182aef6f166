package task

import "testing"

func TestTaskIDFormat(t *testing.T) {
	got := TaskID("C123", "1700000000.000100")
	want := "C123_1700000000.000100"
	if got != want {
		t.Errorf("TaskID() = %q, want %q", got, want)
	}
}

func TestRankOrdering(t *testing.T) {
	phases := []Phase{PhaseInit, PhasePlanning, PhaseImplementation, PhaseSelfReview, PhaseTesting, PhaseFinalization, PhaseDone}
	for i := 1; i < len(phases); i++ {
		if Rank(phases[i]) <= Rank(phases[i-1]) {
			t.Errorf("expected Rank(%s) > Rank(%s)", phases[i], phases[i-1])
		}
	}
}

func TestRankTerminalPhasesUnranked(t *testing.T) {
	for _, p := range []Phase{PhaseCancelled, PhaseFailed, Phase("unknown")} {
		if Rank(p) != -1 {
			t.Errorf("Rank(%s) = %d, want -1", p, Rank(p))
		}
	}
}
