package eventstore

import (
	"bytes"
	"iter"

	"github.com/deckwire/deckwire"
)

// Store is a full local persistence layer for events. The engine itself
// only needs the deckwire.EventStore subset; the extra methods exist for
// lifecycle management and direct use by applications.
type Store interface {
	// Init is called once before the store is used, allowing it to open
	// files, run migrations and so on.
	Init() error

	// Close must be called after you're done using the store, to free up resources and so on.
	Close()

	// QueryEvents returns events that match the filter, newest first.
	QueryEvents(deckwire.Filter) iter.Seq[deckwire.Event]

	// DeleteEvent deletes an event atomically by ID
	DeleteEvent(deckwire.ID) error

	// SaveEvent just saves an event, no side-effects.
	SaveEvent(deckwire.Event) error

	// ReplaceEvent atomically replaces a replaceable or addressable event.
	// Conceptually it is like a Query->Delete->Save, but streamlined.
	ReplaceEvent(deckwire.Event) error

	// CountEvents counts all events that match a given filter
	CountEvents(deckwire.Filter) (int64, error)
}

// IsOlder reports whether previous loses to next under replaceable-event
// rules: older created_at loses, ties are broken by the higher id.
func IsOlder(previous, next deckwire.Event) bool {
	return previous.CreatedAt < next.CreatedAt ||
		(previous.CreatedAt == next.CreatedAt && bytes.Compare(previous.ID[:], next.ID[:]) == 1)
}

// ReplacementFilter is the filter that selects the events a replaceable or
// addressable event is supposed to supersede.
func ReplacementFilter(evt deckwire.Event) deckwire.Filter {
	filter := deckwire.Filter{
		Limit:   1,
		Kinds:   []deckwire.Kind{evt.Kind},
		Authors: []deckwire.PubKey{evt.PubKey},
	}
	if deckwire.IsAddressableKind(evt.Kind) {
		filter.Tags = deckwire.TagMap{"d": []string{evt.Tags.GetD()}}
	}
	return filter
}
