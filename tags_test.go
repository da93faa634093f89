package deckwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTags(t *testing.T) {
	tags := Tags{
		Tag{"e", "c0ffee"},
		Tag{"p", "dec0de", "wss://relay.example.com"},
		Tag{"d", "profile"},
		Tag{"expiration"},
	}

	require.True(t, tags.Has("e"))
	require.True(t, tags.Has("expiration"), "a bare key with no value still counts")
	require.False(t, tags.Has("t"))

	require.Equal(t, "profile", tags.GetD())
	require.Equal(t, "", Tags{}.GetD())

	require.Equal(t, Tag{"p", "dec0de", "wss://relay.example.com"}, tags.Find("p"))
	require.Nil(t, tags.Find("expiration"), "Find requires a value")
	require.Equal(t, Tag{"e", "c0ffee"}, tags.FindWithValue("e", "c0ffee"))
	require.Nil(t, tags.FindWithValue("e", "badbad"))

	require.True(t, tags.ContainsAny("p", []string{"nope", "dec0de"}))
	require.False(t, tags.ContainsAny("p", []string{"nope"}))

	clone := tags.Clone()
	clone[0] = Tag{"e", "changed"}
	require.Equal(t, "c0ffee", tags[0][1], "cloning must detach the outer array")
}
