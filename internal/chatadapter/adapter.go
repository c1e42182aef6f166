// Package chatadapter defines the interface boundary to the chat platform
// (spec §1: "out of scope, external collaborator, interface only"). The
// core pipeline depends only on this interface; WebsocketAdapter is a
// concrete, minimal implementation of a Socket-Mode-style event stream for
// a runnable binary, grounded on the coder/websocket client used elsewhere
// in the retrieval pack.
package chatadapter

import "context"

// OutgoingMessage is a chat message to post, optionally with an emoji
// reaction request and a single "Cancel" interactive button (spec §6).
type OutgoingMessage struct {
	ChannelID     string
	ThreadTS      string // empty means start a new thread
	Text          string
	ReactionEmoji string
	CancelButton  bool // attach a single "cancel_task" block action
	CancelValue   string
}

// IncomingEvent is a normalized chat platform event: an app mention, a
// plain thread message, or a block action (e.g. the Cancel button).
type IncomingEvent struct {
	Kind       EventKind
	ChannelID  string
	ThreadTS   string
	UserID     string
	UserName   string
	Text       string
	ActionID   string // set for Kind == EventBlockAction
	ActionVal  string
	AttachURLs []string // any URLs found in the raw message
}

// EventKind distinguishes the three incoming event types named in spec §6.
type EventKind string

const (
	EventAppMention  EventKind = "app_mention"
	EventMessage     EventKind = "message"
	EventBlockAction EventKind = "block_actions"
)

// Adapter is the chat platform boundary: post/react, and a channel of
// normalized incoming events. The intake process consumes Events(); the
// worker process only ever calls Post (it talks to the store for
// feedback, not the live event stream — see Thread Channel, spec §4.4).
type Adapter interface {
	// Post sends a message, returning the platform's post ID.
	Post(ctx context.Context, msg OutgoingMessage) (postID string, err error)

	// AddReaction adds an emoji reaction to an existing post.
	AddReaction(ctx context.Context, postID, emoji string) error

	// SwapReaction removes `from` and adds `to` on postID, best-effort.
	SwapReaction(ctx context.Context, postID, from, to string) error

	// UpdatePost replaces the text/attachment content of an existing post
	// in place. Nothing in this repository calls it.
	UpdatePost(ctx context.Context, postID, text string) error

	// Events returns the channel of normalized incoming events. Closed when
	// the adapter's connection is torn down.
	Events() <-chan IncomingEvent

	// Close tears down the adapter's connection.
	Close() error
}
