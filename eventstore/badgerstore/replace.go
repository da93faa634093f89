package badgerstore

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/deckwire/deckwire"
	"github.com/deckwire/deckwire/eventstore"
)

func (b *BadgerStore) ReplaceEvent(evt deckwire.Event) error {
	return b.Update(func(txn *badger.Txn) error {
		filter := eventstore.ReplacementFilter(evt)

		// now we fetch the past events, whatever they are, delete them and then save the new
		results, err := b.query(txn, filter, 10) // in theory limit could be just 1 and this should work
		if err != nil {
			return fmt.Errorf("failed to query past events with %s: %w", filter, err)
		}

		shouldStore := true
		for _, previous := range results {
			if eventstore.IsOlder(previous, evt) {
				if _, err := b.delete(txn, previous.ID); err != nil {
					return fmt.Errorf("failed to delete event %s for replacing: %w", previous.ID, err)
				}
			} else {
				// there is a newer event already stored, so we won't store this
				shouldStore = false
			}
		}
		if shouldStore {
			return b.save(txn, evt)
		}

		return nil
	})
}
