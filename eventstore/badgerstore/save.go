package badgerstore

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/mailru/easyjson"

	"github.com/deckwire/deckwire"
)

func (b *BadgerStore) SaveEvent(evt deckwire.Event) error {
	return b.Update(func(txn *badger.Txn) error {
		// query event by id to ensure we don't save duplicates
		prefix := make([]byte, 1+8)
		prefix[0] = indexIdPrefix
		copy(prefix[1:], evt.ID[0:8])
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		it.Seek(prefix)
		if it.ValidForPrefix(prefix) {
			// event exists
			return deckwire.ErrDupEvent
		}

		return b.save(txn, evt)
	})
}

func (b *BadgerStore) save(txn *badger.Txn, evt deckwire.Event) error {
	buf, err := easyjson.Marshal(evt)
	if err != nil {
		return err
	}

	idx := b.Serial()
	// raw event store
	if err := txn.Set(idx, buf); err != nil {
		return err
	}

	// id index, so deletes and duplicate checks don't have to scan
	idk := make([]byte, 1+8+8)
	idk[0] = indexIdPrefix
	copy(idk[1:], evt.ID[0:8])
	copy(idk[1+8:], idx[1:])
	return txn.Set(idk, nil)
}
