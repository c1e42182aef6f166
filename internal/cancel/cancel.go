// Package cancel implements the Cancellation Manager (spec §4.3): a cheap,
// availability-favoring check of a per-task cancellation flag, consulted at
// every pipeline checkpoint.
package cancel

import (
	"context"
	"time"

	"github.com/BryanOwens012/dogwalker/internal/store"
)

// Manager is a thin façade over the Coordination Store's cancellation keys.
type Manager struct {
	coord *store.Coordination
}

// New builds a Manager backed by coord.
func New(coord *store.Coordination) *Manager {
	return &Manager{coord: coord}
}

// IsCancelled reports whether taskID has an active cancellation flag.
// Returns false on store failure (spec §4.3).
func (m *Manager) IsCancelled(ctx context.Context, taskID string) bool {
	return m.coord.IsCancelled(ctx, taskID)
}

// Info is the cancellation metadata: who asked, and when.
type Info struct {
	CancelledBy   string
	CancelledByID string
	Timestamp     time.Time
}

// Info returns cancellation metadata for taskID, or nil if not cancelled.
func (m *Manager) Info(ctx context.Context, taskID string) (*Info, error) {
	info, err := m.coord.GetCancellation(ctx, taskID)
	if err != nil || info == nil {
		return nil, err
	}
	return &Info{
		CancelledBy:   info.CancelledBy,
		CancelledByID: info.CancelledByID,
		Timestamp:     info.Timestamp,
	}, nil
}

// Set records a cancellation request, written by the cancel-button handler.
func (m *Manager) Set(ctx context.Context, taskID, cancelledBy, cancelledByID string) error {
	return m.coord.SetCancellation(ctx, taskID, store.CancelInfo{
		CancelledBy:   cancelledBy,
		CancelledByID: cancelledByID,
		Timestamp:     time.Now(),
	})
}

// Clear removes the cancellation flag, idempotently, after the pipeline has
// handled it.
func (m *Manager) Clear(ctx context.Context, taskID string) error {
	return m.coord.ClearCancellation(ctx, taskID)
}
