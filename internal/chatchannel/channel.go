// Package chatchannel implements the Thread Channel (spec §4.4): the
// pipeline's one door onto a task's chat thread. It posts status updates,
// asks yes/no questions, and drains feedback messages accumulated in the
// Coordination Store's thread inbox while the pipeline was heads-down.
package chatchannel

import (
	"context"
	"fmt"
	"time"

	"github.com/BryanOwens012/dogwalker/internal/chatadapter"
	"github.com/BryanOwens012/dogwalker/internal/store"
)

// Channel is bound to one thread for the lifetime of one task.
type Channel struct {
	adapter   chatadapter.Adapter
	coord     *store.Coordination
	channelID string
	threadTS  string
	taskID    string

	lastPostID string
}

// New binds a Channel to channelID/threadTS, backed by adapter for posting
// and coord for the durable feedback inbox.
func New(adapter chatadapter.Adapter, coord *store.Coordination, channelID, threadTS, taskID string) *Channel {
	return &Channel{
		adapter:   adapter,
		coord:     coord,
		channelID: channelID,
		threadTS:  threadTS,
		taskID:    taskID,
	}
}

// Post sends a plain status update to the thread.
func (c *Channel) Post(ctx context.Context, text string) error {
	id, err := c.adapter.Post(ctx, chatadapter.OutgoingMessage{
		ChannelID: c.channelID,
		ThreadTS:  c.threadTS,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("posting to thread %s: %w", c.threadTS, err)
	}
	c.lastPostID = id
	return nil
}

// PostWithCancel sends a status update carrying the single Cancel button
// (spec §6), returning the post ID so callers can swap its reaction later.
func (c *Channel) PostWithCancel(ctx context.Context, text string) (string, error) {
	id, err := c.adapter.Post(ctx, chatadapter.OutgoingMessage{
		ChannelID:    c.channelID,
		ThreadTS:     c.threadTS,
		Text:         text,
		CancelButton: true,
		CancelValue:  c.taskID,
	})
	if err != nil {
		return "", fmt.Errorf("posting cancellable message to thread %s: %w", c.threadTS, err)
	}
	c.lastPostID = id
	return id, nil
}

// Ask posts a question to the thread. The answer arrives asynchronously as a
// later thread message; callers use DrainNew or WaitForReply to collect it
// (spec §4.4 — the pipeline never blocks a phase indefinitely on chat input).
func (c *Channel) Ask(ctx context.Context, question string) error {
	return c.Post(ctx, question)
}

// DrainNew returns every feedback message appended to this thread's inbox
// since the task began, then leaves the inbox intact (messages are
// append-only and TTL'd, never consumed destructively, so a crash mid-phase
// never loses feedback).
func (c *Channel) DrainNew(ctx context.Context) ([]store.ThreadMessage, error) {
	msgs, err := c.coord.ThreadMessages(ctx, c.threadTS)
	if err != nil {
		return nil, fmt.Errorf("draining thread %s: %w", c.threadTS, err)
	}
	return msgs, nil
}

// WaitForReply polls the thread inbox for at least minMessages new messages
// (counted from the inbox length at call time), up to timeout, sleeping
// poll between checks. Returns whatever arrived, which may be fewer than
// minMessages if the timeout elapses first — callers proceed with a partial
// or empty answer rather than block a phase forever (spec §4.4).
func (c *Channel) WaitForReply(ctx context.Context, timeout, poll time.Duration, minMessages int) ([]store.ThreadMessage, error) {
	baseline, err := c.DrainNew(ctx)
	if err != nil {
		return nil, err
	}
	start := len(baseline)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		all, err := c.DrainNew(ctx)
		if err != nil {
			return nil, err
		}
		if len(all) >= start+minMessages {
			return all[start:], nil
		}
		if time.Now().After(deadline) {
			return all[start:], nil
		}
		select {
		case <-ctx.Done():
			return all[start:], ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close severs the binding. The thread itself and its stored messages
// outlive the Channel; this only releases the in-process handle.
func (c *Channel) Close() {
	c.adapter = nil
}
