package deckwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	for input, expected := range map[string]string{
		"wss://relay.example.com":   "wss://relay.example.com",
		"wss://relay.example.com/":  "wss://relay.example.com",
		"WSS://RELAY.EXAMPLE.COM":   "wss://relay.example.com",
		"http://relay.example.com":  "ws://relay.example.com",
		"https://relay.example.com": "wss://relay.example.com",
		"relay.example.com":         "wss://relay.example.com",
		"ws://127.0.0.1:4736":       "ws://127.0.0.1:4736",
		"":                          "",
	} {
		require.Equal(t, expected, NormalizeURL(input), "input: %q", input)
	}
}

func TestIsValidRelayURL(t *testing.T) {
	require.True(t, IsValidRelayURL("wss://relay.example.com"))
	require.True(t, IsValidRelayURL("ws://127.0.0.1:4736"))
	require.False(t, IsValidRelayURL("https://relay.example.com"))
	require.False(t, IsValidRelayURL("relay.example.com"))
	require.False(t, IsValidRelayURL(""))
}

func TestSubIdToSerial(t *testing.T) {
	require.Equal(t, int64(12), subIdToSerial("12:feed"))
	require.Equal(t, int64(3), subIdToSerial("3:"))
	require.Equal(t, int64(-1), subIdToSerial("nocolon"))
	require.Equal(t, int64(-1), subIdToSerial("abc:feed"))
	require.Equal(t, int64(-1), subIdToSerial(""))
}

func TestEscapeString(t *testing.T) {
	for input, expected := range map[string]string{
		`plain`:          `"plain"`,
		`with "quotes"`:  `"with \"quotes\""`,
		"tab\tnewline\n": `"tab\tnewline\n"`,
		"ctrl\x01char":   `"ctrl\u0001char"`,
	} {
		require.Equal(t, expected, string(escapeString(nil, input)))
	}
}

func TestNamedLock(t *testing.T) {
	// same name maps to the same mutex: the second lock must wait
	unlock := namedLock("wss://relay.example.com")
	acquired := make(chan struct{})
	go func() {
		u := namedLock("wss://relay.example.com")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	default:
	}

	unlock()
	<-acquired
}
