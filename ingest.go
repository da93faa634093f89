package deckwire

import (
	"errors"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/deckwire/deckwire/cache"
)

const (
	seenDropTick    = time.Minute
	storeQueueDepth = 1024
	storeRetries    = 3
)

// ingest is the single-writer pipeline between the router and both the
// local store and the subscribers. All of accept/markSeen/prune run on the
// router goroutine; only the store writer runs apart, behind a bounded
// queue, so a slow store degrades throughput without ever stalling the
// router.
type ingest struct {
	pool *Pool

	// seen is the authoritative dedup record: synchronous, pruned by
	// recency. It holds a timestamp marker, never the event.
	seen *xsync.MapOf[ID, Timestamp]

	// seenFast is the shared bounded cache the relay actors consult before
	// even parsing a frame. It may lag behind seen; false negatives only
	// cost a parse.
	seenFast cache.Cache32[struct{}]

	storeQueue chan Event
}

func newIngest(pool *Pool, seenFast cache.Cache32[struct{}]) *ingest {
	return &ingest{
		pool:       pool,
		seen:       xsync.NewMapOf[ID, Timestamp](),
		seenFast:   seenFast,
		storeQueue: make(chan Event, storeQueueDepth),
	}
}

// accept takes one validated event and pushes it through dedup →
// persistence → fan-out.
func (ing *ingest) accept(evt Event, from *Relay) {
	if _, dup := ing.seen.LoadOrStore(evt.ID, Now()); dup {
		if mh := ing.pool.duplicateMiddleware; mh != nil {
			mh(from.URL, evt.ID)
		}
		return
	}
	if ing.seenFast != nil {
		ing.seenFast.Set(evt.ID, struct{}{})
	}

	if mh := ing.pool.eventMiddleware; mh != nil {
		mh(RelayEvent{Event: evt, Relay: from})
	}

	if ing.pool.store != nil && !IsEphemeralKind(evt.Kind) {
		select {
		case ing.storeQueue <- evt:
		default:
			// the store can't keep up; dropping here is the bounded
			// alternative to buffering forever
			ing.pool.Stats.StoreDrops.Inc()
			log.Warn().Stringer("id", evt.ID).Msg("store queue full, event not persisted")
		}
	}

	ing.pool.router.subs.Range(func(_ int64, sub *Subscription) bool {
		if sub.match(evt) {
			sub.dispatchEvent(evt)
		}
		return true
	})
}

// markSeen records an id as already forwarded (used when replaying the
// local store into a new subscription).
func (ing *ingest) markSeen(id ID) {
	ing.seen.Store(id, Now())
	if ing.seenFast != nil {
		ing.seenFast.Set(id, struct{}{})
	}
}

// prune drops seen markers older than a tick. An evicted-then-re-received
// event may be reprocessed; the store is idempotent under the id so that's
// only wasted work, not corruption.
func (ing *ingest) prune() {
	old := Timestamp(time.Now().Add(-seenDropTick).Unix())
	ing.seen.Range(func(id ID, value Timestamp) bool {
		if value < old {
			ing.seen.Delete(id)
		}
		return true
	})
}

// storeWriter drains the persistence queue. It is the only goroutine that
// talks to the store on the ingestion path.
func (ing *ingest) storeWriter() {
	for {
		select {
		case <-ing.pool.Context.Done():
			return
		case evt := <-ing.storeQueue:
			ing.persist(evt)
		}
	}
}

func (ing *ingest) persist(evt Event) {
	var err error
	for attempt := 1; attempt <= storeRetries; attempt++ {
		if IsReplaceableKind(evt.Kind) || IsAddressableKind(evt.Kind) {
			err = ing.pool.store.ReplaceEvent(evt)
		} else {
			err = ing.pool.store.SaveEvent(evt)
		}
		if err == nil || errors.Is(err, ErrDupEvent) {
			return
		}

		select {
		case <-ing.pool.Context.Done():
			return
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}

	// degraded ingestion: observable, never fatal
	ing.pool.Stats.StoreFailures.Inc()
	log.Warn().Stringer("id", evt.ID).Err(err).Msg("giving up persisting event")
}
