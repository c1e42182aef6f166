package chatadapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway accepts one connection, echoes a post-id reply for every
// "post" command, and lets the test push raw wireEvents down the socket.
func fakeGateway(t *testing.T) (srv *httptest.Server, push func(wireEvent)) {
	t.Helper()
	connCh := make(chan *websocket.Conn, 1)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
		ctx := r.Context()
		for {
			var cmd wireCommand
			if err := wsjson.Read(ctx, conn, &cmd); err != nil {
				return
			}
			if err := wsjson.Write(ctx, conn, wireReply{PostID: "post-1"}); err != nil {
				return
			}
		}
	})
	srv = httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv, func(ev wireEvent) {
		conn := <-connCh
		connCh <- conn
		_ = wsjson.Write(context.Background(), conn, ev)
	}
}

func dialTestAdapter(t *testing.T, srv *httptest.Server) *WebsocketAdapter {
	t.Helper()
	wsURL := "ws" + srv.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a, err := DialWebsocketAdapter(ctx, wsURL, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestWebsocketAdapterPostReturnsGatewayPostID(t *testing.T) {
	srv, _ := fakeGateway(t)
	a := dialTestAdapter(t, srv)

	id, err := a.Post(context.Background(), OutgoingMessage{ChannelID: "C1", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "post-1", id)
}

func TestWebsocketAdapterEventsDeliversIncoming(t *testing.T) {
	srv, push := fakeGateway(t)
	a := dialTestAdapter(t, srv)

	// establish the connection server-side before pushing an event
	_, err := a.Post(context.Background(), OutgoingMessage{ChannelID: "C1", Text: "hi"})
	require.NoError(t, err)

	push(wireEvent{Kind: EventAppMention, ChannelID: "C1", UserName: "bob", Text: "walker help"})

	select {
	case ev := <-a.Events():
		assert.Equal(t, EventAppMention, ev.Kind)
		assert.Equal(t, "bob", ev.UserName)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWebsocketAdapterCloseIsIdempotent(t *testing.T) {
	srv, _ := fakeGateway(t)
	a := dialTestAdapter(t, srv)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestWebsocketAdapterEventsClosedAfterTeardown(t *testing.T) {
	srv, _ := fakeGateway(t)
	a := dialTestAdapter(t, srv)
	require.NoError(t, a.Close())

	select {
	case _, ok := <-a.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel never closed")
	}
}
