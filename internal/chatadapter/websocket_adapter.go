package chatadapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// wireEvent is the JSON envelope the chat gateway sends for every inbound
// event over the socket, decoded straight into IncomingEvent's shape.
type wireEvent struct {
	Kind       EventKind `json:"kind"`
	ChannelID  string    `json:"channel_id"`
	ThreadTS   string    `json:"thread_ts"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	Text       string    `json:"text"`
	ActionID   string    `json:"action_id,omitempty"`
	ActionVal  string    `json:"action_val,omitempty"`
	AttachURLs []string  `json:"attach_urls,omitempty"`
}

// wireCommand is the JSON envelope for outbound commands (post/react/update).
type wireCommand struct {
	Op            string `json:"op"` // "post" | "add_reaction" | "swap_reaction" | "update_post"
	ChannelID     string `json:"channel_id,omitempty"`
	ThreadTS      string `json:"thread_ts,omitempty"`
	Text          string `json:"text,omitempty"`
	ReactionEmoji string `json:"reaction_emoji,omitempty"`
	CancelButton  bool   `json:"cancel_button,omitempty"`
	CancelValue   string `json:"cancel_value,omitempty"`
	PostID        string `json:"post_id,omitempty"`
	FromEmoji     string `json:"from_emoji,omitempty"`
	ToEmoji       string `json:"to_emoji,omitempty"`
}

type wireReply struct {
	PostID string `json:"post_id"`
	Error  string `json:"error,omitempty"`
}

// WebsocketAdapter is a Socket-Mode-style Adapter: a single long-lived
// client connection to the chat gateway, with one JSON message per event or
// command. Reconnection and multiplexing across many real-time transports
// (Slack socket mode, Mattermost websocket, etc.) live behind the gateway;
// this adapter only speaks the normalized wire protocol above.
type WebsocketAdapter struct {
	conn   *websocket.Conn
	log    *zap.Logger
	events chan IncomingEvent

	writeMu sync.Mutex // serializes writes, mirrors wsClient.mu in the pack

	closed    atomic.Bool
	closeOnce sync.Once
}

// DialWebsocketAdapter connects to the chat gateway at url and starts the
// background read loop that feeds Events().
func DialWebsocketAdapter(ctx context.Context, url string, log *zap.Logger) (*WebsocketAdapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing chat gateway %q: %w", url, err)
	}
	a := &WebsocketAdapter{
		conn:   conn,
		log:    log,
		events: make(chan IncomingEvent, 64),
	}
	go a.readLoop(ctx)
	return a, nil
}

func (a *WebsocketAdapter) readLoop(ctx context.Context) {
	defer close(a.events)
	for {
		var ev wireEvent
		if err := wsjson.Read(ctx, a.conn, &ev); err != nil {
			if !a.closed.Load() {
				a.log.Warn("chat gateway read loop ended", zap.Error(err))
			}
			return
		}
		select {
		case a.events <- IncomingEvent{
			Kind:       ev.Kind,
			ChannelID:  ev.ChannelID,
			ThreadTS:   ev.ThreadTS,
			UserID:     ev.UserID,
			UserName:   ev.UserName,
			Text:       ev.Text,
			ActionID:   ev.ActionID,
			ActionVal:  ev.ActionVal,
			AttachURLs: ev.AttachURLs,
		}:
		case <-ctx.Done():
			return
		}
	}
}

func (a *WebsocketAdapter) roundTrip(ctx context.Context, cmd wireCommand) (wireReply, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, a.conn, cmd); err != nil {
		return wireReply{}, fmt.Errorf("writing %s command: %w", cmd.Op, err)
	}

	var reply wireReply
	if err := wsjson.Read(writeCtx, a.conn, &reply); err != nil {
		return wireReply{}, fmt.Errorf("reading %s reply: %w", cmd.Op, err)
	}
	if reply.Error != "" {
		return wireReply{}, fmt.Errorf("%s rejected by gateway: %s", cmd.Op, reply.Error)
	}
	return reply, nil
}

func (a *WebsocketAdapter) Post(ctx context.Context, msg OutgoingMessage) (string, error) {
	reply, err := a.roundTrip(ctx, wireCommand{
		Op:            "post",
		ChannelID:     msg.ChannelID,
		ThreadTS:      msg.ThreadTS,
		Text:          msg.Text,
		ReactionEmoji: msg.ReactionEmoji,
		CancelButton:  msg.CancelButton,
		CancelValue:   msg.CancelValue,
	})
	if err != nil {
		return "", err
	}
	return reply.PostID, nil
}

func (a *WebsocketAdapter) AddReaction(ctx context.Context, postID, emoji string) error {
	_, err := a.roundTrip(ctx, wireCommand{Op: "add_reaction", PostID: postID, ReactionEmoji: emoji})
	return err
}

// SwapReaction is best-effort: a failed reaction swap never blocks the
// pipeline (spec §6 — reactions are a status affordance, not state).
func (a *WebsocketAdapter) SwapReaction(ctx context.Context, postID, from, to string) error {
	_, err := a.roundTrip(ctx, wireCommand{Op: "swap_reaction", PostID: postID, FromEmoji: from, ToEmoji: to})
	if err != nil {
		a.log.Warn("reaction swap failed, continuing", zap.String("post_id", postID), zap.Error(err))
	}
	return nil
}

func (a *WebsocketAdapter) UpdatePost(ctx context.Context, postID, text string) error {
	_, err := a.roundTrip(ctx, wireCommand{Op: "update_post", PostID: postID, Text: text})
	return err
}

func (a *WebsocketAdapter) Events() <-chan IncomingEvent {
	return a.events
}

func (a *WebsocketAdapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		err = a.conn.Close(websocket.StatusNormalClosure, "adapter closed")
	})
	return err
}
