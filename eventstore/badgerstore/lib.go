package badgerstore

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"

	"github.com/deckwire/deckwire/eventstore"
)

const (
	rawEventStorePrefix byte = 0
	indexIdPrefix       byte = 1
)

var _ eventstore.Store = (*BadgerStore)(nil)

// BadgerStore persists events in a badger database. Events live under a
// monotonic serial, with an id index for duplicate detection and deletion.
// Queries scan serials in reverse, which approximates newest-first for the
// usual append-mostly workload.
type BadgerStore struct {
	Path string

	// MaxLimit is applied to queries that come with a higher or missing limit.
	MaxLimit int

	*badger.DB
	seq *badger.Sequence
}

func (b *BadgerStore) Init() error {
	db, err := badger.Open(badger.DefaultOptions(b.Path).WithLogger(nil))
	if err != nil {
		return err
	}
	b.DB = db

	b.seq, err = db.GetSequence([]byte("events"), 256)
	if err != nil {
		return err
	}

	if b.MaxLimit == 0 {
		b.MaxLimit = 500
	}
	return nil
}

func (b *BadgerStore) Close() {
	if b.seq != nil {
		b.seq.Release()
	}
	if b.DB != nil {
		b.DB.Close()
	}
}

// Serial returns the next raw event key.
func (b *BadgerStore) Serial() []byte {
	next, _ := b.seq.Next()
	k := make([]byte, 1+8)
	k[0] = rawEventStorePrefix
	binary.BigEndian.PutUint64(k[1:], next)
	return k
}
