package slicestore

import (
	"bytes"
	"cmp"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/deckwire/deckwire"
	"github.com/deckwire/deckwire/eventstore"
)

var _ eventstore.Store = (*SliceStore)(nil)

// SliceStore keeps everything in one sorted slice, newest first. It is
// meant for tests and small short-lived sessions, not as a real database.
type SliceStore struct {
	sync.Mutex
	internal []deckwire.Event

	MaxLimit int
}

func (b *SliceStore) Init() error {
	b.internal = make([]deckwire.Event, 0, 5000)
	if b.MaxLimit == 0 {
		b.MaxLimit = 500
	}
	return nil
}

func (b *SliceStore) Close() {}

func (b *SliceStore) QueryEvents(filter deckwire.Filter) iter.Seq[deckwire.Event] {
	return func(yield func(deckwire.Event) bool) {
		b.Lock()
		defer b.Unlock()

		if filter.Limit > b.MaxLimit || (filter.Limit == 0 && !filter.LimitZero) {
			filter.Limit = b.MaxLimit
		}

		// efficiently determine where to start and end
		start := 0
		end := len(b.internal)
		if filter.Until != 0 {
			start, _ = slices.BinarySearchFunc(b.internal, filter.Until, eventTimestampComparator)
		}
		if filter.Since != 0 {
			end, _ = slices.BinarySearchFunc(b.internal, filter.Since, eventTimestampComparator)
		}

		if end < start {
			return
		}

		count := 0
		for _, event := range b.internal[start:end] {
			if count == filter.Limit {
				break
			}

			if filter.Matches(event) {
				if !yield(event) {
					return
				}
				count++
			}
		}
	}
}

func (b *SliceStore) CountEvents(filter deckwire.Filter) (int64, error) {
	b.Lock()
	defer b.Unlock()

	var val int64
	for _, event := range b.internal {
		if filter.Matches(event) {
			val++
		}
	}
	return val, nil
}

func (b *SliceStore) SaveEvent(evt deckwire.Event) error {
	b.Lock()
	defer b.Unlock()
	return b.save(evt)
}

func (b *SliceStore) save(evt deckwire.Event) error {
	idx, found := slices.BinarySearchFunc(b.internal, evt, eventComparator)
	if found {
		return deckwire.ErrDupEvent
	}
	// let's insert at the correct place in the array
	b.internal = append(b.internal, evt) // bogus
	copy(b.internal[idx+1:], b.internal[idx:])
	b.internal[idx] = evt

	return nil
}

func (b *SliceStore) DeleteEvent(id deckwire.ID) error {
	b.Lock()
	defer b.Unlock()
	return b.delete(id)
}

func (b *SliceStore) delete(id deckwire.ID) error {
	idx := slices.IndexFunc(b.internal, func(evt deckwire.Event) bool { return evt.ID == id })
	if idx == -1 {
		// we don't have this event
		return nil
	}

	copy(b.internal[idx:], b.internal[idx+1:])
	b.internal = b.internal[0 : len(b.internal)-1]
	return nil
}

func (b *SliceStore) ReplaceEvent(evt deckwire.Event) error {
	b.Lock()
	defer b.Unlock()

	filter := eventstore.ReplacementFilter(evt)

	shouldStore := true
	idx, end := 0, len(b.internal)
	for ; idx < end; idx++ {
		previous := b.internal[idx]
		if !filter.Matches(previous) {
			continue
		}
		if eventstore.IsOlder(previous, evt) {
			if err := b.delete(previous.ID); err != nil {
				return fmt.Errorf("failed to delete event for replacing: %w", err)
			}
		} else {
			shouldStore = false
		}
		break
	}

	if shouldStore {
		if err := b.save(evt); err != nil && err != deckwire.ErrDupEvent {
			return fmt.Errorf("failed to save: %w", err)
		}
	}

	return nil
}

func eventTimestampComparator(e deckwire.Event, t deckwire.Timestamp) int {
	return int(t) - int(e.CreatedAt)
}

func eventComparator(a deckwire.Event, b deckwire.Event) int {
	c := cmp.Compare(b.CreatedAt, a.CreatedAt)
	if c != 0 {
		return c
	}
	return bytes.Compare(b.ID[:], a.ID[:])
}
