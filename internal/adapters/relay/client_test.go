package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceMesh/internal/app/event"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// fakeRelay answers every join with roster-joined and drops the first
// connection right after it.
func fakeRelay(t *testing.T, dropFirst bool) (*httptest.Server, *atomic.Int32) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		n := conns.Add(1)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			if _, ok := msg.(protocol.Join); !ok {
				continue
			}
			reply, _ := protocol.Encode(protocol.RosterJoined{SelfID: "a", Role: domain.RoleHost})
			if err := ws.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
			if dropFirst && n == 1 {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// joiner plays the engine: it joins on every connect and records messages.
func joiner() (event.Poster, <-chan event.Event, func(c *Client)) {
	events := make(chan event.Event, 64)
	var client atomic.Pointer[Client]
	post := func(ev event.Event) {
		if _, ok := ev.(event.RelayConnected); ok {
			_ = client.Load().Send(protocol.Join{MeetingID: "m1", DisplayName: "Ann"})
		}
		events <- ev
	}
	return post, events, func(c *Client) { client.Store(c) }
}

func next[T event.Event](t *testing.T, events <-chan event.Event) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if v, ok := ev.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("no %T event", zero)
			return zero
		}
	}
}

func TestClient_JoinRoundTrip(t *testing.T) {
	req := require.New(t)
	srv, _ := fakeRelay(t, false)
	post, events, bind := joiner()
	c := NewClient(Config{URL: wsURL(srv), MinBackoff: 10 * time.Millisecond}, post, zerolog.Nop())
	bind(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	next[event.RelayConnected](t, events)
	in := next[event.Inbound](t, events)
	joined, ok := in.Msg.(protocol.RosterJoined)
	req.True(ok)
	req.Equal(domain.ParticipantID("a"), joined.SelfID)

	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		req.Fail("client did not stop")
	}
	req.ErrorIs(c.Send(protocol.Leave{MeetingID: "m1"}), ErrNotConnected)
}

func TestClient_RedialsAndRejoins(t *testing.T) {
	req := require.New(t)
	srv, conns := fakeRelay(t, true)
	post, events, bind := joiner()
	c := NewClient(Config{URL: wsURL(srv), MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}, post, zerolog.Nop())
	bind(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	next[event.RelayConnected](t, events)
	next[event.RelayDisconnected](t, events)
	next[event.RelayConnected](t, events)
	next[event.Inbound](t, events)
	req.GreaterOrEqual(conns.Load(), int32(2))
}

func TestClient_SendWithoutConnection(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1"}, func(event.Event) {}, zerolog.Nop())
	require.ErrorIs(t, c.Send(protocol.Leave{}), ErrNotConnected)
}

func TestWSConn_Backpressure(t *testing.T) {
	req := require.New(t)
	srv, _ := fakeRelay(t, false)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	req.NoError(err)

	conn := newWSConn(ws, 1)
	req.NoError(conn.TrySend([]byte(`{}`)))
	req.ErrorIs(conn.TrySend([]byte(`{}`)), ErrBackpressure)

	conn.Close()
	conn.Close()
	req.ErrorIs(conn.TrySend([]byte(`{}`)), ErrConnClosed)
}

func TestParseBackpressureAction(t *testing.T) {
	r := require.New(t)

	for in, want := range map[string]BackpressureAction{"redial": Redial, "drop": DropFrame, "": DropFrame} {
		got, err := ParseBackpressureAction(in)
		r.NoError(err)
		r.Equal(want, got, in)
	}
	_, err := ParseBackpressureAction("block")
	r.Error(err)
}
