package badgerstore

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/deckwire/deckwire"
)

var serialDelete uint32 = 0

func (b *BadgerStore) DeleteEvent(id deckwire.ID) error {
	deletionHappened := false

	err := b.Update(func(txn *badger.Txn) error {
		var err error
		deletionHappened, err = b.delete(txn, id)
		return err
	})
	if err != nil {
		return err
	}

	// after deleting, run garbage collector (sometimes)
	if deletionHappened {
		serialDelete = (serialDelete + 1) % 256
		if serialDelete == 0 {
			if err := b.RunValueLogGC(0.8); err != nil && err != badger.ErrNoRewrite {
				return err
			}
		}
	}

	return nil
}

func (b *BadgerStore) delete(txn *badger.Txn, id deckwire.ID) (bool, error) {
	// query event by id to get its raw key
	prefix := make([]byte, 1+8)
	prefix[0] = indexIdPrefix
	copy(prefix[1:], id[0:8])

	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
	var idKey []byte
	it.Seek(prefix)
	if it.ValidForPrefix(prefix) {
		idKey = it.Item().KeyCopy(nil)
	}
	it.Close()

	// if nothing was found this event doesn't exist here
	if idKey == nil {
		return false, nil
	}

	raw := make([]byte, 1+8)
	raw[0] = rawEventStorePrefix
	copy(raw[1:], idKey[1+8:])

	if err := txn.Delete(raw); err != nil {
		return false, err
	}
	return true, txn.Delete(idKey)
}
