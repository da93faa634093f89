package deckwire

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func TestPublish(t *testing.T) {
	// test note to be sent over websocket
	priv, pub := makeKeyPair(t)
	textNote := Event{
		Kind:      KindTextNote,
		Content:   "hello",
		CreatedAt: Timestamp(1672068534), // random fixed timestamp
		Tags:      Tags{[]string{"foo", "bar"}},
		PubKey:    pub,
	}
	err := textNote.Sign(priv)
	require.NoError(t, err)

	// fake relay server
	var mu sync.Mutex // guards published to satisfy go test -race
	var published bool
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		mu.Lock()
		published = true
		mu.Unlock()
		// verify the client sent exactly the textNote
		var raw []stdjson.RawMessage
		err := websocket.JSON.Receive(conn, &raw)
		require.NoError(t, err)

		event := parseEventMessage(t, raw)
		require.True(t, bytes.Equal(event.Serialize(), textNote.Serialize()))

		// send back an ok command result
		res := []any{"OK", textNote.ID, true, ""}
		err = websocket.JSON.Send(conn, res)
		require.NoError(t, err)
	})
	defer ws.Close()

	// connect a client and send the text note
	rl := mustRelayConnect(t, ws.URL)
	err = rl.Publish(context.Background(), textNote)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, published, "fake relay server saw no event")
}

func TestPublishBlocked(t *testing.T) {
	// test note to be sent over websocket
	textNote := Event{Kind: KindTextNote, Content: "hello"}
	textNote.ID = textNote.GetID()

	// fake relay server
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		// discard received message; not interested
		var raw []stdjson.RawMessage
		err := websocket.JSON.Receive(conn, &raw)
		require.NoError(t, err)

		// send back a not ok command result
		res := []any{"OK", textNote.ID, false, "blocked"}
		websocket.JSON.Send(conn, res)
	})
	defer ws.Close()

	// connect a client and send a text note
	rl := mustRelayConnect(t, ws.URL)
	err := rl.Publish(context.Background(), textNote)
	require.Error(t, err)
}

func TestConnectContext(t *testing.T) {
	// fake relay server
	var mu sync.Mutex // guards connected to satisfy go test -race
	var connected bool
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		mu.Lock()
		connected = true
		mu.Unlock()
		io.ReadAll(conn) // discard all input
	})
	defer ws.Close()

	// relay client
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r, err := RelayConnect(ctx, ws.URL, RelayOptions{})
	require.NoError(t, err)

	defer r.Close()

	mu.Lock()
	defer mu.Unlock()
	require.True(t, connected, "fake relay server saw no client connect")
}

func TestConnectContextCanceled(t *testing.T) {
	// fake relay server
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		io.ReadAll(conn) // discard all input
	})
	defer ws.Close()

	// relay client
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // make ctx expired
	_, err := RelayConnect(ctx, ws.URL, RelayOptions{})
	require.Error(t, err)
}

func TestConnectInvalidURL(t *testing.T) {
	_, err := RelayConnect(context.Background(), "", RelayOptions{})
	require.Error(t, err)
}

func TestConnectUnreachable(t *testing.T) {
	// grab a port that nothing is listening on
	ws := newWebsocketServer(func(conn *websocket.Conn) {})
	url := ws.URL
	ws.Close()

	_, err := RelayConnect(context.Background(), url, RelayOptions{HandshakeTimeout: time.Second})
	require.Error(t, err)
}

func TestReconnect(t *testing.T) {
	var connCount atomic.Int32
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		n := connCount.Add(1)
		if n == 1 {
			// kill the first connection right away to force a reconnect
			conn.Close()
			return
		}
		io.ReadAll(conn)
	})
	defer ws.Close()

	rl := mustRelayConnectWithOptions(t, ws.URL, RelayOptions{InitialBackoff: 20 * time.Millisecond})
	defer rl.Close()

	require.Eventually(t, func() bool {
		return connCount.Load() >= 2 && rl.IsConnected()
	}, 3*time.Second, 20*time.Millisecond, "relay never reconnected")
}

func TestWriteBufferedWhileDisconnected(t *testing.T) {
	var connCount atomic.Int32
	got := make(chan string, 4)
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		n := connCount.Add(1)
		if n == 1 {
			conn.Close()
			return
		}
		for {
			var msg string
			if err := websocket.Message.Receive(conn, &msg); err != nil {
				return
			}
			got <- msg
		}
	})
	defer ws.Close()

	rl := mustRelayConnectWithOptions(t, ws.URL, RelayOptions{InitialBackoff: 20 * time.Millisecond})
	defer rl.Close()

	// queue a frame; depending on timing it's either written to the dying
	// first connection's successor directly or held in the pending buffer
	// until the reconnect
	rl.Write([]byte(`["REQ","1:","{}"]`))

	select {
	case msg := <-got:
		require.Contains(t, msg, "REQ")
	case <-time.After(3 * time.Second):
		t.Fatal("buffered write never reached the relay")
	}
}

func TestAuthWithoutChallenge(t *testing.T) {
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		io.ReadAll(conn)
	})
	defer ws.Close()

	rl := mustRelayConnect(t, ws.URL)
	defer rl.Close()

	err := rl.Auth(context.Background(), func(ctx context.Context, evt *Event) error { return nil })
	require.ErrorIs(t, err, ErrNoChallenge)
}

func TestAuth(t *testing.T) {
	priv, pub := makeKeyPair(t)

	authReceived := make(chan Event, 1)
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		// present a challenge immediately
		err := websocket.Message.Send(conn, `["AUTH","challengestringhere"]`)
		require.NoError(t, err)

		var raw []stdjson.RawMessage
		err = websocket.JSON.Receive(conn, &raw)
		require.NoError(t, err)

		var typ string
		require.NoError(t, json.Unmarshal(raw[0], &typ))
		require.Equal(t, "AUTH", typ)

		var evt Event
		require.NoError(t, json.Unmarshal(raw[1], &evt))
		authReceived <- evt

		res := []any{"OK", evt.ID, true, ""}
		websocket.JSON.Send(conn, res)
	})
	defer ws.Close()

	rl := mustRelayConnect(t, ws.URL)
	defer rl.Close()

	// wait for the challenge to arrive
	require.Eventually(t, func() bool {
		return rl.challenge.Load() != nil
	}, 2*time.Second, 10*time.Millisecond)

	err := rl.Auth(context.Background(), func(ctx context.Context, evt *Event) error {
		return evt.Sign(priv)
	})
	require.NoError(t, err)

	evt := <-authReceived
	require.Equal(t, KindClientAuthentication, evt.Kind)
	require.Equal(t, pub, evt.PubKey)
	require.NotNil(t, evt.Tags.FindWithValue("challenge", "challengestringhere"))
	require.True(t, evt.VerifySignature())
}

func mustRelayConnectWithOptions(t *testing.T, url string, opts RelayOptions) *Relay {
	t.Helper()

	rl, err := RelayConnect(t.Context(), url, opts)
	require.NoError(t, err)

	return rl
}
