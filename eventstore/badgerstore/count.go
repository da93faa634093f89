package badgerstore

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/mailru/easyjson"

	"github.com/deckwire/deckwire"
)

func (b *BadgerStore) CountEvents(filter deckwire.Filter) (int64, error) {
	var count int64

	err := b.View(func(txn *badger.Txn) error {
		prefix := []byte{rawEventStorePrefix}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var evt deckwire.Event
				if err := easyjson.Unmarshal(val, &evt); err != nil {
					return err
				}
				if filter.Matches(evt) {
					count++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return count, err
}
