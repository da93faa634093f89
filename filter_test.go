package deckwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterUnmarshal(t *testing.T) {
	raw := `{"ids": ["abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"],"since": 12345678,"limit":233,"#e":["aa","bb"],"search":"test"}`
	var f Filter
	err := json.Unmarshal([]byte(raw), &f)
	require.NoError(t, err)

	require.Equal(t, Timestamp(12345678), f.Since)
	require.Equal(t, Timestamp(0), f.Until)
	require.Equal(t, []string{"aa", "bb"}, f.Tags["e"])
	require.Len(t, f.IDs, 1)
	require.Equal(t, 233, f.Limit)
	require.Nil(t, f.Kinds)
}

func TestFilterMarshal(t *testing.T) {
	f := Filter{
		Kinds: []Kind{KindTextNote, KindRecommendServer, KindEncryptedDirectMessage},
		Tags:  TagMap{"fruit": {"banana", "mango"}},
		Until: Timestamp(12345678),
	}
	b, err := json.Marshal(f)
	require.NoError(t, err)

	var back Filter
	require.NoError(t, json.Unmarshal(b, &back))
	require.True(t, FilterEqual(f, back))
}

func TestFilterMatchingLive(t *testing.T) {
	var filter Filter
	var event Event

	json.Unmarshal([]byte(`{"kinds":[1],"authors":["a8171781fd9e90ede3ea44ddca5d3abf828fe8eedeb0f3abb0dd3e563562e1fc","1d80e5588de010d137a67c42b03717595f5f510e73e42cfc48f31bae91844d59","ed4ca520e9929dfe9efdadf4011b53d30afd0678a09aa026927e60e7a45d9244"],"since":1677033299}`), &filter)
	json.Unmarshal([]byte(`{"id":"5a127c9c931f392f6afc7fdb74e8be01c34035314735a6b97d2cf360d13cfb94","pubkey":"1d80e5588de010d137a67c42b03717595f5f510e73e42cfc48f31bae91844d59","created_at":1677033299,"kind":1,"tags":[["t","japan"]],"content":"If you like my art,I'd appreciate a comment or a zap.","sig":"300e9e871929773eb7cd7550a1a1d2742e38d2b75d6a6b7e1ee04e3b7a4ab4deaad3b1e5b1ef4e257f72e75979fe1e06e815b8220e9d28033890444086ed0"}`), &event)

	require.True(t, filter.Matches(event), "live event should match")

	event.CreatedAt = 1674930817
	require.False(t, filter.Matches(event), "should fail because of since")

	event.CreatedAt = 1677033299
	event.Kind = 30023
	require.False(t, filter.Matches(event), "should fail because of kind")
}

func TestFilterMatchingTags(t *testing.T) {
	evt := Event{
		Kind:      KindTextNote,
		CreatedAt: Timestamp(1000),
		Tags:      Tags{Tag{"t", "cooking"}, Tag{"p", "f8340b2bde651576b75af61aa26c80e13c65029f00f7f64004eece679bf7059f"}},
		Content:   "stew",
	}

	require.True(t, Filter{Tags: TagMap{"t": {"cooking", "reading"}}}.Matches(evt))
	require.False(t, Filter{Tags: TagMap{"t": {"reading"}}}.Matches(evt))
	require.False(t, Filter{Tags: TagMap{"q": {"cooking"}}}.Matches(evt))
}

func TestFilterEquality(t *testing.T) {
	require.True(t, FilterEqual(
		Filter{Kinds: []Kind{KindEncryptedDirectMessage, KindDeletion}},
		Filter{Kinds: []Kind{KindEncryptedDirectMessage, KindDeletion}},
	))

	require.True(t, FilterEqual(
		Filter{Kinds: []Kind{KindEncryptedDirectMessage, KindDeletion}, Tags: TagMap{"letter": {"a", "b"}}},
		Filter{Kinds: []Kind{KindDeletion, KindEncryptedDirectMessage}, Tags: TagMap{"letter": {"b", "a"}}},
	))

	require.False(t, FilterEqual(
		Filter{Kinds: []Kind{KindEncryptedDirectMessage, KindDeletion}},
		Filter{Kinds: []Kind{KindEncryptedDirectMessage, KindRepost}},
	))

	require.False(t, FilterEqual(
		Filter{Kinds: []Kind{KindTextNote}, Until: 100},
		Filter{Kinds: []Kind{KindTextNote}, Until: 200},
	))
}

func TestFilterClone(t *testing.T) {
	ts := Now() - 60*60
	flt := Filter{
		Kinds: []Kind{0, 1, 5},
		Tags:  TagMap{"letter": {"a", "b"}, "fruit": {"banana"}},
		Since: ts,
		IDs:   []ID{MustIDFromHex("9894b4b5cb5166d23ee8899a4151cf0c66aec00bde101982a13b8e8ceb972df9")},
	}
	clone := flt.Clone()
	require.True(t, FilterEqual(flt, clone), "clone is not equal to original")

	clone1 := flt.Clone()
	clone1.IDs = append(clone1.IDs, MustIDFromHex("f96f29008e4b74a1004ce8f2d8117d04544d2b616a2d031b94e3d0a61c0b3a4a"))
	require.False(t, FilterEqual(flt, clone1), "modifying the clone ids should cause it to not be equal anymore")

	clone2 := flt.Clone()
	clone2.Tags["letter"] = append(clone2.Tags["letter"], "c")
	require.False(t, FilterEqual(flt, clone2), "modifying the clone tag items should cause it to not be equal anymore")

	clone3 := flt.Clone()
	clone3.Tags["g"] = []string{"drt"}
	require.False(t, FilterEqual(flt, clone3), "modifying the clone tag map should cause it to not be equal anymore")

	clone4 := flt.Clone()
	clone4.Since++
	require.False(t, FilterEqual(flt, clone4), "modifying the clone since should cause it to not be equal anymore")
}

func TestFiltersMatch(t *testing.T) {
	ff := Filters{
		{Kinds: []Kind{KindTextNote}},
		{Authors: []PubKey{MustPubKeyFromHex("1d80e5588de010d137a67c42b03717595f5f510e73e42cfc48f31bae91844d59")}},
	}

	require.True(t, ff.Match(Event{Kind: KindTextNote}))
	require.True(t, ff.Match(Event{
		Kind:   KindRepost,
		PubKey: MustPubKeyFromHex("1d80e5588de010d137a67c42b03717595f5f510e73e42cfc48f31bae91844d59"),
	}))
	require.False(t, ff.Match(Event{Kind: KindRepost}))
}
