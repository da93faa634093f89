package deckwire

import (
	stdjson "encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newWebsocketServer(handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(&websocket.Server{
		Handshake: anyOriginHandshake,
		Handler:   handler,
	})
}

// anyOriginHandshake is an alternative to default in golang.org/x/net/websocket
// which checks for origin. the client sends no origin and it makes no difference
// for the tests here anyway.
var anyOriginHandshake = func(conf *websocket.Config, r *http.Request) error {
	return nil
}

func makeKeyPair(t *testing.T) (priv [32]byte, pub PubKey) {
	t.Helper()

	privkey := GeneratePrivateKey()
	pubkey := GetPublicKey(privkey)

	return privkey, pubkey
}

func mustRelayConnect(t *testing.T, url string) *Relay {
	t.Helper()

	rl, err := RelayConnect(t.Context(), url, RelayOptions{})
	require.NoError(t, err)

	return rl
}

func parseEventMessage(t *testing.T, raw []stdjson.RawMessage) Event {
	t.Helper()

	require.Condition(t, func() (success bool) {
		return len(raw) >= 2
	})

	var typ string
	err := json.Unmarshal(raw[0], &typ)
	require.NoError(t, err)
	require.Equal(t, "EVENT", typ)

	var event Event
	err = json.Unmarshal(raw[1], &event)
	require.NoError(t, err)

	return event
}

func parseSubscriptionMessage(t *testing.T, raw []stdjson.RawMessage) (subid string, filters []Filter) {
	t.Helper()

	require.Greater(t, len(raw), 2)

	var typ string
	err := json.Unmarshal(raw[0], &typ)
	require.NoError(t, err)
	require.Equal(t, "REQ", typ)

	var id string
	err = json.Unmarshal(raw[1], &id)
	require.NoError(t, err)

	var ff []Filter
	for _, b := range raw[2:] {
		var f Filter
		err := json.Unmarshal(b, &f)
		require.NoError(t, err)
		ff = append(ff, f)
	}
	return id, ff
}

// signedTextNote returns a distinct valid text note for each call.
func signedTextNote(t *testing.T, priv [32]byte, content string) Event {
	t.Helper()

	evt := Event{
		Kind:      KindTextNote,
		Content:   content,
		CreatedAt: Now(),
		Tags:      Tags{},
	}
	require.NoError(t, evt.Sign(priv))
	return evt
}

// eventFrame builds the raw "EVENT" frame a relay would send for a
// subscription.
func eventFrame(t *testing.T, subid string, evt Event) string {
	t.Helper()

	env := EventEnvelope{SubscriptionID: &subid, Event: evt}
	b, err := env.MarshalJSON()
	require.NoError(t, err)
	return string(b)
}

func eoseFrame(t *testing.T, subid string) string {
	t.Helper()

	env := EOSEEnvelope(subid)
	b, err := env.MarshalJSON()
	require.NoError(t, err)
	return string(b)
}
