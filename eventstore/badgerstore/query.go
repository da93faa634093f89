package badgerstore

import (
	"iter"

	"github.com/dgraph-io/badger/v4"
	"github.com/mailru/easyjson"

	"github.com/deckwire/deckwire"
)

func (b *BadgerStore) QueryEvents(filter deckwire.Filter) iter.Seq[deckwire.Event] {
	return func(yield func(deckwire.Event) bool) {
		if filter.Limit > b.MaxLimit || (filter.Limit == 0 && !filter.LimitZero) {
			filter.Limit = b.MaxLimit
		}

		b.View(func(txn *badger.Txn) error {
			results, err := b.query(txn, filter, filter.Limit)
			if err != nil {
				return err
			}
			for _, evt := range results {
				if !yield(evt) {
					break
				}
			}
			return nil
		})
	}
}

// query scans raw events newest-serial-first and keeps the ones the filter
// matches, up to limit.
func (b *BadgerStore) query(txn *badger.Txn, filter deckwire.Filter, limit int) ([]deckwire.Event, error) {
	prefix := []byte{rawEventStorePrefix}
	it := txn.NewIterator(badger.IteratorOptions{
		PrefetchValues: true,
		PrefetchSize:   100,
		Reverse:        true,
		Prefix:         prefix,
	})
	defer it.Close()

	results := make([]deckwire.Event, 0, min(limit, 100))

	// with Reverse the seek key must sort after every raw key
	seek := []byte{rawEventStorePrefix, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		var evt deckwire.Event
		err := it.Item().Value(func(val []byte) error {
			return easyjson.Unmarshal(val, &evt)
		})
		if err != nil {
			return nil, err
		}

		if filter.Matches(evt) {
			results = append(results, evt)
			if len(results) == limit {
				break
			}
		}
	}

	return results, nil
}
