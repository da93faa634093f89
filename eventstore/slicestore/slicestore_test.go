package slicestore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deckwire/deckwire"
)

func TestBasicStuff(t *testing.T) {
	ss := &SliceStore{}
	ss.Init()
	defer ss.Close()

	for i := 0; i < 20; i++ {
		v := i + 1
		kind := deckwire.Kind(11)
		if i%2 == 0 {
			v = i + 10000
		}
		if i%3 == 0 {
			kind = 12
		}
		ss.SaveEvent(deckwire.Event{
			ID:        deckwire.ID{byte(i + 1)},
			CreatedAt: deckwire.Timestamp(v),
			Kind:      kind,
		})
	}

	list := make([]deckwire.Event, 0, 20)
	for event := range ss.QueryEvents(deckwire.Filter{}) {
		list = append(list, event)
	}

	require.Len(t, list, 20)
	require.Equal(t, deckwire.Timestamp(10018), list[0].CreatedAt)
	require.Equal(t, deckwire.Timestamp(10016), list[1].CreatedAt)
	require.Equal(t, deckwire.Timestamp(4), list[18].CreatedAt)
	require.Equal(t, deckwire.Timestamp(2), list[19].CreatedAt)

	list = list[:0]
	for event := range ss.QueryEvents(deckwire.Filter{Limit: 15, Until: 9999, Kinds: []deckwire.Kind{11}}) {
		list = append(list, event)
	}
	require.Len(t, list, 7)

	list = list[:0]
	for event := range ss.QueryEvents(deckwire.Filter{Since: 10009}) {
		list = append(list, event)
	}
	require.Len(t, list, 5)
}

func TestSaveDuplicate(t *testing.T) {
	ss := &SliceStore{}
	ss.Init()
	defer ss.Close()

	evt := deckwire.Event{ID: deckwire.ID{1}, CreatedAt: 100, Kind: 1}
	require.NoError(t, ss.SaveEvent(evt))
	require.ErrorIs(t, ss.SaveEvent(evt), deckwire.ErrDupEvent)

	n, err := ss.CountEvents(deckwire.Filter{})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestDelete(t *testing.T) {
	ss := &SliceStore{}
	ss.Init()
	defer ss.Close()

	evt := deckwire.Event{ID: deckwire.ID{1}, CreatedAt: 100, Kind: 1}
	require.NoError(t, ss.SaveEvent(evt))
	require.NoError(t, ss.DeleteEvent(evt.ID))
	require.NoError(t, ss.DeleteEvent(evt.ID)) // deleting a missing event is fine

	n, err := ss.CountEvents(deckwire.Filter{})
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestReplace(t *testing.T) {
	ss := &SliceStore{}
	ss.Init()
	defer ss.Close()

	pk := deckwire.PubKey{7}

	older := deckwire.Event{ID: deckwire.ID{1}, PubKey: pk, CreatedAt: 100, Kind: 0, Content: "old"}
	newer := deckwire.Event{ID: deckwire.ID{2}, PubKey: pk, CreatedAt: 200, Kind: 0, Content: "new"}

	require.NoError(t, ss.ReplaceEvent(older))
	require.NoError(t, ss.ReplaceEvent(newer))

	var got []deckwire.Event
	for evt := range ss.QueryEvents(deckwire.Filter{Kinds: []deckwire.Kind{0}}) {
		got = append(got, evt)
	}
	require.Len(t, got, 1)
	require.Equal(t, "new", got[0].Content)

	// replaying the older version must not bring it back
	require.NoError(t, ss.ReplaceEvent(older))
	got = got[:0]
	for evt := range ss.QueryEvents(deckwire.Filter{Kinds: []deckwire.Kind{0}}) {
		got = append(got, evt)
	}
	require.Len(t, got, 1)
	require.Equal(t, "new", got[0].Content)
}

func TestReplaceAddressable(t *testing.T) {
	ss := &SliceStore{}
	ss.Init()
	defer ss.Close()

	pk := deckwire.PubKey{7}

	a1 := deckwire.Event{ID: deckwire.ID{1}, PubKey: pk, CreatedAt: 100, Kind: 30023,
		Tags: deckwire.Tags{deckwire.Tag{"d", "post-a"}}, Content: "a v1"}
	b1 := deckwire.Event{ID: deckwire.ID{2}, PubKey: pk, CreatedAt: 150, Kind: 30023,
		Tags: deckwire.Tags{deckwire.Tag{"d", "post-b"}}, Content: "b v1"}
	a2 := deckwire.Event{ID: deckwire.ID{3}, PubKey: pk, CreatedAt: 200, Kind: 30023,
		Tags: deckwire.Tags{deckwire.Tag{"d", "post-a"}}, Content: "a v2"}

	require.NoError(t, ss.ReplaceEvent(a1))
	require.NoError(t, ss.ReplaceEvent(b1))
	require.NoError(t, ss.ReplaceEvent(a2))

	// different "d" values live side by side; same "d" gets replaced
	var contents []string
	for evt := range ss.QueryEvents(deckwire.Filter{Kinds: []deckwire.Kind{30023}}) {
		contents = append(contents, evt.Content)
	}
	require.ElementsMatch(t, []string{"a v2", "b v1"}, contents)
}
