package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	keyActiveTasks    = "walker:active_tasks:"
	keyCancel         = "walker:cancel:"
	keyThreadTask     = "walker:thread_task:"
	keyThreadMessages = "walker:thread_messages:"

	cancelTTL  = 1 * time.Hour
	messageTTL = 24 * time.Hour
)

// CancelInfo is the cancellation flag payload: who cancelled, and when
// (spec §3, walker:cancel:{task_id}).
type CancelInfo struct {
	CancelledBy   string    `json:"cancelled_by"`
	CancelledByID string    `json:"cancelled_by_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// ThreadMessage is one entry in a thread's feedback inbox.
type ThreadMessage struct {
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	Text     string    `json:"text"`
	Ts       time.Time `json:"ts"`
}

// Coordination is the typed accessor layer over KV implementing spec §4.1
// and the key layout in §6. All keys are namespaced "walker:".
type Coordination struct {
	kv  KV
	log *zap.Logger
}

// NewCoordination wraps kv with the typed Walker accessors.
func NewCoordination(kv KV, log *zap.Logger) *Coordination {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordination{kv: kv, log: log}
}

// ActiveTaskCount returns |active_tasks:{dog}|. Connection failure degrades
// to 0 (status queries tolerate store unavailability per spec §4.1).
func (c *Coordination) ActiveTaskCount(ctx context.Context, dogName string) int {
	n, err := c.kv.SetCard(ctx, keyActiveTasks+dogName)
	if err != nil {
		c.log.Warn("coordination store unavailable for load query, degrading to 0",
			zap.String("dog", dogName), zap.Error(err))
		return 0
	}
	return n
}

// ActiveTaskCountChecked is ActiveTaskCount without the degrade-to-0
// swallow, for the one caller (Dog Selector) that must distinguish "store
// says 0" from "store is unreachable" to decide whether to fall back to
// round robin (spec §4.2).
func (c *Coordination) ActiveTaskCountChecked(ctx context.Context, dogName string) (int, error) {
	n, err := c.kv.SetCard(ctx, keyActiveTasks+dogName)
	if err != nil {
		return 0, fmt.Errorf("reading active task count for %s: %w", dogName, err)
	}
	return n, nil
}

// MarkBusy adds taskID to the dog's active-task set.
func (c *Coordination) MarkBusy(ctx context.Context, dogName, taskID string) error {
	if err := c.kv.SetAdd(ctx, keyActiveTasks+dogName, taskID); err != nil {
		return fmt.Errorf("marking %s busy with %s: %w", dogName, taskID, err)
	}
	return nil
}

// MarkFree removes taskID from the dog's active-task set. Idempotent: a
// non-member removal logs a warning and is a no-op, so pipeline retries on
// the finally arm are always safe (spec §4.2).
func (c *Coordination) MarkFree(ctx context.Context, dogName, taskID string) error {
	members, err := c.kv.SetMembers(ctx, keyActiveTasks+dogName)
	if err == nil {
		found := false
		for _, m := range members {
			if m == taskID {
				found = true
				break
			}
		}
		if !found {
			c.log.Warn("mark_free called for task not in active set, no-op",
				zap.String("dog", dogName), zap.String("task_id", taskID))
		}
	}
	if err := c.kv.SetRemove(ctx, keyActiveTasks+dogName, taskID); err != nil {
		return fmt.Errorf("marking %s free of %s: %w", dogName, taskID, err)
	}
	return nil
}

// SetCancellation writes the cancellation flag. Fatal on store failure: the
// cancellation-signal write path must not silently degrade (spec §4.1).
func (c *Coordination) SetCancellation(ctx context.Context, taskID string, info CancelInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding cancellation for %s: %w", taskID, err)
	}
	if err := c.kv.StringSet(ctx, keyCancel+taskID, string(data), cancelTTL); err != nil {
		return fmt.Errorf("writing cancellation for %s: %w", taskID, err)
	}
	return nil
}

// IsCancelled reports whether taskID has a live cancellation flag. Returns
// false on store failure (availability over correctness per spec §4.3 — the
// user sees the task continue and can click Cancel again).
func (c *Coordination) IsCancelled(ctx context.Context, taskID string) bool {
	info, err := c.GetCancellation(ctx, taskID)
	if err != nil {
		c.log.Warn("coordination store unavailable for cancellation check, degrading to not-cancelled",
			zap.String("task_id", taskID), zap.Error(err))
		return false
	}
	return info != nil
}

// GetCancellation returns the cancellation info for taskID, or nil if none.
func (c *Coordination) GetCancellation(ctx context.Context, taskID string) (*CancelInfo, error) {
	raw, ok, err := c.kv.StringGet(ctx, keyCancel+taskID)
	if err != nil {
		return nil, fmt.Errorf("reading cancellation for %s: %w", taskID, err)
	}
	if !ok {
		return nil, nil
	}
	var info CancelInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("decoding cancellation for %s: %w", taskID, err)
	}
	return &info, nil
}

// ClearCancellation clears the cancellation flag. Idempotent.
func (c *Coordination) ClearCancellation(ctx context.Context, taskID string) error {
	if err := c.kv.Del(ctx, keyCancel+taskID); err != nil {
		return fmt.Errorf("clearing cancellation for %s: %w", taskID, err)
	}
	return nil
}

// BindThread writes thread_task:{threadTS} -> taskID. Fatal on store
// failure: thread-binding is on the write path that must not silently
// degrade (spec §4.1, invariant 2).
func (c *Coordination) BindThread(ctx context.Context, threadTS, taskID string) error {
	if err := c.kv.StringSet(ctx, keyThreadTask+threadTS, taskID, 0); err != nil {
		return fmt.Errorf("binding thread %s to task %s: %w", threadTS, taskID, err)
	}
	return nil
}

// TaskIDForThread returns the task bound to a thread, if any.
func (c *Coordination) TaskIDForThread(ctx context.Context, threadTS string) (string, bool, error) {
	v, ok, err := c.kv.StringGet(ctx, keyThreadTask+threadTS)
	if err != nil {
		return "", false, fmt.Errorf("reading thread binding for %s: %w", threadTS, err)
	}
	return v, ok, nil
}

// UnbindThread removes the thread->task binding, ending a thread's live window.
func (c *Coordination) UnbindThread(ctx context.Context, threadTS string) error {
	if err := c.kv.Del(ctx, keyThreadTask+threadTS); err != nil {
		return fmt.Errorf("unbinding thread %s: %w", threadTS, err)
	}
	return nil
}

// AppendThreadMessage appends to the thread's feedback inbox (list append is
// atomic, preserving chat ordering per spec §5).
func (c *Coordination) AppendThreadMessage(ctx context.Context, threadTS string, msg ThreadMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding thread message for %s: %w", threadTS, err)
	}
	if err := c.kv.ListAppend(ctx, keyThreadMessages+threadTS, string(data), messageTTL); err != nil {
		return fmt.Errorf("appending thread message for %s: %w", threadTS, err)
	}
	return nil
}

// ThreadMessages returns every message currently in the thread's inbox, in
// arrival order.
func (c *Coordination) ThreadMessages(ctx context.Context, threadTS string) ([]ThreadMessage, error) {
	raws, err := c.kv.ListRange(ctx, keyThreadMessages+threadTS)
	if err != nil {
		return nil, fmt.Errorf("reading thread messages for %s: %w", threadTS, err)
	}
	out := make([]ThreadMessage, 0, len(raws))
	for _, raw := range raws {
		var m ThreadMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue // skip malformed entries rather than fail the whole read
		}
		out = append(out, m)
	}
	return out, nil
}
