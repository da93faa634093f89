package deckwire

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
)

var subscriptionIDCounter atomic.Int64

type SubscriptionOptions struct {
	// Label is appended to the wire subscription id, purely for debugging.
	Label string

	// BufferSize is the capacity of the Events channel. A consumer that
	// falls further behind than this starts losing events (counted in
	// Stats.SubscriberDrops) rather than stalling ingestion. Defaults to 256.
	BufferSize int

	// IncludeStored replays matching events from the local store into the
	// stream before any live relay traffic arrives.
	IncludeStored bool
}

// Subscription is one consumer's standing request for events matching a
// set of filters, fanned out to every targeted relay in the pool.
type Subscription struct {
	Pool    *Pool
	Context context.Context

	// Filters is the ordered filter sequence sent in the REQ; an event
	// belongs to this subscription if it matches any of them.
	Filters Filters

	// Events delivers accepted, validated, deduplicated events. Closed on Unsub.
	Events chan Event

	// EndOfStoredEvents is closed exactly once, when every relay this
	// subscription targets has signaled EOSE: from then on the stream is live.
	EndOfStoredEvents chan struct{}

	// ClosedReason receives the reason whenever some relay terminates this
	// subscription on its side (best effort, buffered).
	ClosedReason chan string

	cancel  context.CancelCauseFunc
	counter int64
	id      string

	live          atomic.Bool
	includeStored bool

	// relay bookkeeping, touched only on the router goroutine. relays is
	// the full target set; eosePending holds only the targets that are
	// connected and still owe us an EOSE, so an unreachable relay never
	// holds the caught-up marker hostage.
	relays      map[string]struct{}
	eosePending map[string]struct{}

	eoseOnce  sync.Once
	closeOnce sync.Once
}

func newSubscription(pool *Pool, ctx context.Context, filters Filters, opts SubscriptionOptions) *Subscription {
	current := subscriptionIDCounter.Add(1)
	ctx, cancel := context.WithCancelCause(ctx)

	if opts.BufferSize == 0 {
		opts.BufferSize = 256
	}

	sub := &Subscription{
		Pool:              pool,
		Context:           ctx,
		cancel:            cancel,
		counter:           current,
		Filters:           filters,
		Events:            make(chan Event, opts.BufferSize),
		EndOfStoredEvents: make(chan struct{}),
		ClosedReason:      make(chan string, 1),
		relays:            make(map[string]struct{}),
		eosePending:       make(map[string]struct{}),
		includeStored:     opts.IncludeStored,
	}
	sub.id = strconv.FormatInt(current, 10) + ":" + opts.Label
	sub.live.Store(true)

	return sub
}

// ID returns the wire subscription id ("<serial>:<label>").
func (sub *Subscription) ID() string { return sub.id }

// Unsub cancels the subscription: CLOSE is sent to every relay still
// holding it and the Events channel is closed once bookkeeping is released.
func (sub *Subscription) Unsub() {
	sub.cancel(errors.New("Unsub() called"))
}

func (sub *Subscription) reqEnvelope() ReqEnvelope {
	return ReqEnvelope{SubscriptionID: sub.id, Filters: sub.Filters}
}

func (sub *Subscription) closeEnvelope() CloseEnvelope {
	return CloseEnvelope(sub.id)
}

func (sub *Subscription) match(evt Event) bool {
	return sub.Filters.Match(evt)
}

// dispatchEvent forwards one event without ever blocking: the buffer is the
// consumer's slack, past that the event is dropped for this consumer only.
func (sub *Subscription) dispatchEvent(evt Event) {
	if !sub.live.Load() {
		return
	}
	select {
	case sub.Events <- evt:
	default:
		if sub.Pool != nil {
			sub.Pool.Stats.SubscriberDrops.Inc()
		}
		log.Warn().Str("sub", sub.id).Stringer("id", evt.ID).Msg("slow consumer, dropped event")
	}
}

func (sub *Subscription) dispatchEose() {
	sub.eoseOnce.Do(func() { close(sub.EndOfStoredEvents) })
}

func (sub *Subscription) dispatchClosed(reason string) {
	select {
	case sub.ClosedReason <- reason:
	default:
	}
}

// closeEvents tears the event stream down exactly once. Runs on the
// router goroutine.
func (sub *Subscription) closeEvents() {
	sub.live.Store(false)
	sub.closeOnce.Do(func() { close(sub.Events) })
}

// the rest below runs on the router goroutine only

func (sub *Subscription) addRelayTarget(url string, connected bool) {
	sub.relays[url] = struct{}{}
	if connected {
		sub.eosePending[url] = struct{}{}
	}
}

func (sub *Subscription) dropRelayTarget(url string) {
	if _, targeted := sub.relays[url]; !targeted {
		return
	}
	delete(sub.relays, url)
	delete(sub.eosePending, url)
	sub.checkEoseCoverage()
}

func (sub *Subscription) markEose(url string) {
	if _, targeted := sub.relays[url]; !targeted {
		return
	}
	delete(sub.eosePending, url)
	sub.checkEoseCoverage()
}

// awaitEose puts a targeted relay (back) into the coverage set, after it
// (re)connected and got its REQ re-issued.
func (sub *Subscription) awaitEose(url string) {
	if _, targeted := sub.relays[url]; !targeted {
		return
	}
	sub.eosePending[url] = struct{}{}
}

// releaseEose stops waiting on a relay that went away without answering.
func (sub *Subscription) releaseEose(url string) {
	if _, targeted := sub.relays[url]; !targeted {
		return
	}
	delete(sub.eosePending, url)
	sub.checkEoseCoverage()
}

func (sub *Subscription) checkEoseCoverage() {
	if len(sub.eosePending) == 0 {
		sub.dispatchEose()
	}
}
