package deckwire

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/deckwire/deckwire/cache"
	cache_memory "github.com/deckwire/deckwire/cache/memory"
)

const defaultSeenCacheSize = 100_000

// Stats counts the conditions under which the engine sheds load instead of
// blocking. All counters only ever go up.
type Stats struct {
	// WriteOverflows counts outbound frames dropped because some relay's
	// bounded write buffer was full.
	WriteOverflows *xsync.Counter

	// SubscriberDrops counts events dropped because a consumer's Events
	// channel was full.
	SubscriberDrops *xsync.Counter

	// StoreDrops counts events not persisted because the store queue was full.
	StoreDrops *xsync.Counter

	// StoreFailures counts events abandoned after exhausting store retries.
	StoreFailures *xsync.Counter
}

func newStats() *Stats {
	return &Stats{
		WriteOverflows:  xsync.NewCounter(),
		SubscriberDrops: xsync.NewCounter(),
		StoreDrops:      xsync.NewCounter(),
		StoreFailures:   xsync.NewCounter(),
	}
}

// PublishResult is the per-relay outcome of a pool-wide Publish.
type PublishResult struct {
	Error    error
	RelayURL string
	Relay    *Relay
}

type PoolOptions struct {
	// Store, if given, receives every accepted non-ephemeral event and
	// powers IncludeStored replays and QueryStored.
	Store EventStore

	// AuthHandler, if given, is used to sign NIP-42 AUTH events whenever a
	// relay rejects a REQ with an auth-required CLOSED.
	AuthHandler func(context.Context, *Event) error

	// RelaySelector decides which relays a subscription is dispatched to,
	// both at Subscribe time and retroactively when relays join the pool.
	// Nil means every relay.
	RelaySelector func(*Subscription, *Relay) bool

	// EventMiddleware is called once for every event accepted into the
	// pipeline, before fan-out.
	EventMiddleware func(RelayEvent)

	// DuplicateMiddleware is called whenever an already-seen event id
	// arrives again, with the url of the relay that sent the copy.
	DuplicateMiddleware func(relay string, id ID)

	// RelayOptions is applied to every relay added to the pool.
	RelayOptions RelayOptions

	// SeenCacheSize bounds the preparse dedup cache. Defaults to 100k ids.
	SeenCacheSize int64
}

// Pool manages a set of relay connection actors and routes their combined
// traffic into logical subscriptions through a single ordering point.
type Pool struct {
	Context context.Context
	Stats   *Stats

	relays *xsync.MapOf[string, *Relay]
	router *router
	ingest *ingest

	cancel context.CancelCauseFunc

	store               EventStore
	authHandler         func(context.Context, *Event) error
	relaySelector       func(*Subscription, *Relay) bool
	eventMiddleware     func(RelayEvent)
	duplicateMiddleware func(relay string, id ID)
	relayOptions        RelayOptions

	seenFast cache.Cache32[struct{}]
}

// NewPool starts a pool with no relays. The pool lives until ctx is done or
// Close is called.
func NewPool(ctx context.Context, opts PoolOptions) *Pool {
	ctx, cancel := context.WithCancelCause(ctx)

	if opts.SeenCacheSize == 0 {
		opts.SeenCacheSize = defaultSeenCacheSize
	}

	pool := &Pool{
		Context:             ctx,
		Stats:               newStats(),
		relays:              xsync.NewMapOf[string, *Relay](),
		cancel:              cancel,
		store:               opts.Store,
		authHandler:         opts.AuthHandler,
		relaySelector:       opts.RelaySelector,
		eventMiddleware:     opts.EventMiddleware,
		duplicateMiddleware: opts.DuplicateMiddleware,
		relayOptions:        opts.RelayOptions,
		seenFast:            cache_memory.New[struct{}](opts.SeenCacheSize),
	}

	pool.ingest = newIngest(pool, pool.seenFast)
	pool.router = newRouter(pool, pool.ingest)

	go pool.router.run()
	go pool.ingest.storeWriter()
	go pool.pruneLoop()

	return pool
}

func (pool *Pool) pruneLoop() {
	ticker := time.NewTicker(seenDropTick)
	defer ticker.Stop()
	for {
		select {
		case <-pool.Context.Done():
			return
		case <-ticker.C:
			// prune rides the router queue so it never races the dedup writes
			pool.router.enqueue(inbound{ctl: pool.ingest.prune})
		}
	}
}

func (pool *Pool) checkSeen(id ID) bool {
	_, seen := pool.seenFast.Get(id)
	return seen
}

// AddRelay starts a connection actor for the given url and retroactively
// dispatches every live subscription the selector admits to it. Adding a
// url twice is a no-op returning the existing relay.
func (pool *Pool) AddRelay(url string) (*Relay, error) {
	nm := NormalizeURL(url)
	if !IsValidRelayURL(nm) {
		return nil, fmt.Errorf("invalid relay url %q", url)
	}

	defer namedLock(nm)()
	if r, ok := pool.relays.Load(nm); ok {
		return r, nil
	}

	r := newRelay(pool.Context, nm, pool.relayOptions, pool.router.enqueue, pool.checkSeen, pool.Stats)
	r.notify = func(connected bool) {
		pool.router.enqueue(inbound{ctl: func() {
			if connected {
				pool.router.relayConnected(r)
			} else {
				pool.router.relayDisconnected(r)
			}
		}})
	}
	pool.relays.Store(nm, r)

	// the relayAdded control is queued before the actor starts, so its
	// first connected notification always lands behind it
	pool.router.enqueue(inbound{ctl: func() { pool.router.relayAdded(r) }})
	go r.run()

	log.Debug().Str("relay", nm).Msg("relay added")
	return r, nil
}

// RemoveRelay shuts the relay's actor down and detaches it from every
// subscription. Events already inside the router queue from this relay are
// still delivered; nothing new enters after the removal is processed.
func (pool *Pool) RemoveRelay(url string) {
	nm := NormalizeURL(url)
	r, ok := pool.relays.LoadAndDelete(nm)
	if !ok {
		return
	}
	r.Close()
	pool.router.enqueue(inbound{ctl: func() { pool.router.relayRemoved(r) }})
	log.Debug().Str("relay", nm).Msg("relay removed")
}

// Relay returns the connection actor for a url, if the pool has one.
func (pool *Pool) Relay(url string) (*Relay, bool) {
	return pool.relays.Load(NormalizeURL(url))
}

// Relays returns a snapshot of the pool's current relays.
func (pool *Pool) Relays() []*Relay {
	relays := make([]*Relay, 0, pool.relays.Size())
	pool.relays.Range(func(_ string, r *Relay) bool {
		relays = append(relays, r)
		return true
	})
	return relays
}

// Publish sends the event to every relay in the pool and emits one
// PublishResult per relay as the acknowledgments come in. The returned
// channel is closed once every relay has answered or timed out; relays
// that are not currently connected fail immediately with a transport error.
func (pool *Pool) Publish(ctx context.Context, evt Event) <-chan PublishResult {
	relays := pool.Relays()
	results := make(chan PublishResult, len(relays))

	var wg sync.WaitGroup
	wg.Add(len(relays))
	for _, r := range relays {
		go func() {
			defer wg.Done()
			if !r.IsConnected() {
				results <- PublishResult{
					Error:    fmt.Errorf("not connected to %s (status %s)", r.URL, r.Status()),
					RelayURL: r.URL,
					Relay:    r,
				}
				return
			}
			err := r.Publish(ctx, evt)
			results <- PublishResult{Error: err, RelayURL: r.URL, Relay: r}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// Subscribe opens a logical subscription across the pool. It returns
// immediately; events start flowing on sub.Events as relays answer.
// Canceling ctx (or calling sub.Unsub) sends CLOSE everywhere and closes
// sub.Events.
func (pool *Pool) Subscribe(ctx context.Context, filters Filters, opts SubscriptionOptions) (*Subscription, error) {
	if pool.Context.Err() != nil {
		return nil, fmt.Errorf("pool is closed: %w", context.Cause(pool.Context))
	}

	sub := newSubscription(pool, ctx, filters, opts)
	if !pool.router.enqueue(inbound{ctl: func() { pool.router.subscribe(sub) }}) {
		return nil, fmt.Errorf("pool is closed: %w", context.Cause(pool.Context))
	}
	context.AfterFunc(sub.Context, func() {
		pool.router.enqueue(inbound{ctl: func() { pool.router.unsubscribe(sub) }})
	})

	return sub, nil
}

// FetchAll subscribes, collects everything up to EOSE and unsubscribes.
// It is for one-shot queries; use Subscribe for live feeds.
func (pool *Pool) FetchAll(ctx context.Context, filters Filters, opts SubscriptionOptions) ([]Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := pool.Subscribe(ctx, filters, opts)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return events, ctx.Err()
		case <-sub.EndOfStoredEvents:
			// drain whatever arrived before the last EOSE was processed
			for {
				select {
				case evt := <-sub.Events:
					events = append(events, evt)
				default:
					return events, nil
				}
			}
		case evt, ok := <-sub.Events:
			if !ok {
				return events, nil
			}
			events = append(events, evt)
		}
	}
}

// QueryStored queries the local store directly, bypassing relays entirely.
func (pool *Pool) QueryStored(filter Filter) iter.Seq[Event] {
	if pool.store == nil {
		return func(yield func(Event) bool) {}
	}
	return pool.store.QueryEvents(filter)
}

// Close shuts down every relay actor, the router and the store writer.
func (pool *Pool) Close(reason string) {
	pool.relays.Range(func(_ string, r *Relay) bool {
		r.Close()
		return true
	})
	pool.cancel(errors.New(reason))
}
