// Package selector implements the Dog Selector (spec §4.2): a least-busy
// pick over the static roster, with load counters living in the
// Coordination Store.
package selector

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BryanOwens012/dogwalker/internal/dog"
	"github.com/BryanOwens012/dogwalker/internal/store"
)

// Selector picks the least-busy dog from the roster.
type Selector struct {
	roster *dog.Roster
	coord  *store.Coordination
	log    *zap.Logger

	// roundRobinMu/roundRobinIdx back the store-unavailable fallback: plain
	// roster-order round-robin, kept in-process since the store that would
	// normally hold this state is the thing that's down (spec §4.2, §9 open
	// question: acceptable in multi-dog mode with store outage).
	roundRobinMu  sync.Mutex
	roundRobinIdx int
}

// New builds a Selector over roster, backed by coord for load counters.
func New(roster *dog.Roster, coord *store.Coordination, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{roster: roster, coord: coord, log: log}
}

// Select returns the least-busy dog. A single-dog roster always returns that
// dog. Ties break by roster order. If the coordination store is unreachable
// for a load query, Select cannot compare loads and falls back to
// NextRoundRobin rather than silently treating every dog as idle (spec §4.2).
func (s *Selector) Select(ctx context.Context) dog.Dog {
	dogs := s.roster.All()
	if len(dogs) == 1 {
		return dogs[0]
	}

	best := dogs[0]
	bestLoad, err := s.coord.ActiveTaskCountChecked(ctx, best.Name)
	if err != nil {
		s.log.Warn("coordination store unavailable for dog selection, falling back to round robin", zap.Error(err))
		return s.NextRoundRobin()
	}
	for _, d := range dogs[1:] {
		load, err := s.coord.ActiveTaskCountChecked(ctx, d.Name)
		if err != nil {
			s.log.Warn("coordination store unavailable for dog selection, falling back to round robin", zap.Error(err))
			return s.NextRoundRobin()
		}
		if load < bestLoad {
			best = d
			bestLoad = load
		}
	}
	return best
}

// MarkBusy records that taskID is now running on dogName.
func (s *Selector) MarkBusy(ctx context.Context, dogName, taskID string) error {
	return s.coord.MarkBusy(ctx, dogName, taskID)
}

// MarkFree records that taskID is no longer running on dogName. Idempotent.
func (s *Selector) MarkFree(ctx context.Context, dogName, taskID string) error {
	return s.coord.MarkFree(ctx, dogName, taskID)
}

// NextRoundRobin returns the next dog in roster order, used only as a
// fallback when the coordination store itself is unavailable for load
// queries and Select cannot compare loads.
func (s *Selector) NextRoundRobin() dog.Dog {
	dogs := s.roster.All()
	if len(dogs) == 1 {
		return dogs[0]
	}
	s.roundRobinMu.Lock()
	defer s.roundRobinMu.Unlock()
	d := dogs[s.roundRobinIdx%len(dogs)]
	s.roundRobinIdx++
	return d
}
