package deckwire

import (
	"context"
	"errors"
	"iter"
)

// ErrDupEvent is returned by stores asked to save an event they already
// hold. Callers treat it as success.
var ErrDupEvent = errors.New("duplicate: event already exists")

type Publisher interface {
	Publish(context.Context, Event) error
}

var _ Publisher = (*Relay)(nil)

type Querier interface {
	QueryEvents(Filter) iter.Seq[Event]
}

// EventStore is what the engine needs from the local persistence
// collaborator. SaveEvent must be idempotent under the event id;
// QueryEvents must be lazy, finite and restartable. The eventstore
// subpackage provides implementations.
type EventStore interface {
	SaveEvent(Event) error
	ReplaceEvent(Event) error
	QueryEvents(Filter) iter.Seq[Event]
}
