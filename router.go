package deckwire

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

// inbound is one unit of work for the router queue: either a decoded
// envelope from some relay or a control closure (relay added/removed,
// unsubscribe). Both kinds ride the same queue so every piece of
// subscription and dedup state is mutated in strict arrival order by a
// single goroutine.
type inbound struct {
	relay *Relay
	env   Envelope
	ctl   func()
}

// router maps logical subscriptions onto the live pool of relay actors and
// is the only writer of their fan-out/fan-in bookkeeping.
type router struct {
	pool   *Pool
	subs   *xsync.MapOf[int64, *Subscription]
	queue  chan inbound
	ingest *ingest
}

func newRouter(pool *Pool, ing *ingest) *router {
	return &router{
		pool:   pool,
		subs:   xsync.NewMapOf[int64, *Subscription](),
		queue:  make(chan inbound, 1024),
		ingest: ing,
	}
}

// enqueue funnels work into the router. The queue is bounded: when the
// router falls behind, relay actors block here, which is the backpressure
// we want instead of unbounded buffering. Returns false once the pool is
// shutting down.
func (rt *router) enqueue(in inbound) bool {
	select {
	case rt.queue <- in:
		return true
	case <-rt.pool.Context.Done():
		return false
	}
}

func (rt *router) run() {
	for {
		select {
		case <-rt.pool.Context.Done():
			rt.shutdown()
			return
		case in := <-rt.queue:
			if in.ctl != nil {
				in.ctl()
				continue
			}
			rt.route(in)
		}
	}
}

// shutdown is the router's last act: drain whatever made it into the
// queue, then close every live subscription so consumers ranging over
// sub.Events unblock when the pool dies.
func (rt *router) shutdown() {
	for {
		select {
		case in := <-rt.queue:
			if in.ctl != nil {
				in.ctl()
			}
		default:
			rt.subs.Range(func(_ int64, sub *Subscription) bool {
				rt.subs.Delete(sub.counter)
				sub.closeEvents()
				return true
			})
			return
		}
	}
}

func (rt *router) lookup(subid string) *Subscription {
	serial := subIdToSerial(subid)
	if serial < 0 {
		return nil
	}
	sub, _ := rt.subs.Load(serial)
	return sub
}

func (rt *router) route(in inbound) {
	switch env := in.env.(type) {
	case *EventEnvelope:
		sub := rt.lookup(*env.SubscriptionID)
		if sub == nil {
			return
		}
		if _, targeted := sub.relays[in.relay.URL]; !targeted {
			// in-flight frame from a relay that no longer serves this
			// subscription: discard without touching any state
			return
		}
		if !sub.match(env.Event) {
			log.Debug().Str("relay", in.relay.URL).Str("sub", sub.id).Msg("event does not match subscription filters")
			return
		}
		rt.ingest.accept(env.Event, in.relay)

	case *EOSEEnvelope:
		if sub := rt.lookup(string(*env)); sub != nil {
			sub.markEose(in.relay.URL)
		}

	case *ClosedEnvelope:
		rt.handleClosed(in.relay, env)

	default:
		// nothing else is ever enqueued; leave loudness to tests
		log.Error().Str("label", in.env.Label()).Msg("unroutable envelope reached the router")
	}
}

func (rt *router) handleClosed(r *Relay, env *ClosedEnvelope) {
	sub := rt.lookup(env.SubscriptionID)
	if sub == nil {
		return
	}

	if strings.HasPrefix(env.Reason, "auth-required:") && rt.pool.authHandler != nil &&
		r.authedOnce.CompareAndSwap(false, true) {
		// try to authenticate, once per connection, and re-issue the REQ
		go func() {
			if err := r.Auth(rt.pool.Context, rt.pool.authHandler); err != nil {
				log.Warn().Str("relay", r.URL).Err(err).Msg("auth failed")
				rt.enqueue(inbound{ctl: func() { rt.dropFromRelay(sub, r) }})
				sub.dispatchClosed(env.Reason)
				return
			}
			b, _ := sub.reqEnvelope().MarshalJSON()
			r.Write(b)
		}()
		return
	}

	// the relay refused or terminated this subscription: surface it and
	// re-evaluate coverage, never drop it silently
	sub.dispatchClosed(env.Reason)
	rt.dropFromRelay(sub, r)
}

func (rt *router) dropFromRelay(sub *Subscription, r *Relay) {
	r.subscriptions.Delete(sub.counter)
	sub.dropRelayTarget(r.URL)
}

// subscribe runs on the router goroutine. It registers the subscription,
// optionally replays the local store, and fans REQ out to the selected
// relays.
func (rt *router) subscribe(sub *Subscription) {
	rt.subs.Store(sub.counter, sub)

	if sub.includeStored && rt.pool.store != nil {
		// the scan runs off the router goroutine so a large store never
		// stalls live ingestion; REQs go out only once the replay is fully
		// queued, keeping stored events ahead of live traffic
		go rt.replayStored(sub)
		return
	}

	rt.fanout(sub)
}

// replayStored walks the local store and funnels each hit back through
// the queue, so the dedup bookkeeping stays single-writer.
func (rt *router) replayStored(sub *Subscription) {
	for _, filter := range sub.Filters {
		for evt := range rt.pool.store.QueryEvents(filter) {
			ok := rt.enqueue(inbound{ctl: func() {
				// mark replayed ids as seen so the live copies coming from
				// relays don't get forwarded twice
				rt.ingest.markSeen(evt.ID)
				sub.dispatchEvent(evt)
			}})
			if !ok {
				return
			}
		}
	}
	rt.enqueue(inbound{ctl: func() { rt.fanout(sub) }})
}

func (rt *router) fanout(sub *Subscription) {
	if !sub.live.Load() {
		return
	}

	selector := rt.pool.relaySelector
	rt.pool.relays.Range(func(_ string, r *Relay) bool {
		if selector != nil && !selector(sub, r) {
			return true
		}
		rt.assign(sub, r)
		return true
	})

	// nothing connected to wait on means the stream is already live
	sub.checkEoseCoverage()
}

func (rt *router) assign(sub *Subscription, r *Relay) {
	// only a connected relay joins the coverage set; it is added once its
	// actor reports the connection, so a dead endpoint can't stall EOSE
	sub.addRelayTarget(r.URL, r.IsConnected())
	r.subscriptions.Store(sub.counter, sub)
	b, err := sub.reqEnvelope().MarshalJSON()
	if err != nil {
		log.Error().Str("sub", sub.id).Err(err).Msg("unencodable filters")
		return
	}
	r.Write(b)
}

// unsubscribe runs on the router goroutine.
func (rt *router) unsubscribe(sub *Subscription) {
	if _, ok := rt.subs.LoadAndDelete(sub.counter); !ok {
		return
	}
	sub.live.Store(false)

	b, _ := sub.closeEnvelope().MarshalJSON()
	for url := range sub.relays {
		if r, ok := rt.pool.relays.Load(url); ok {
			r.subscriptions.Delete(sub.counter)
			r.Write(b)
		}
	}

	sub.closeEvents()
}

// relayAdded runs on the router goroutine: subscriptions opened before this
// relay joined the pool are retroactively dispatched to it, so long-lived
// feeds have no missed-relay gap.
func (rt *router) relayAdded(r *Relay) {
	selector := rt.pool.relaySelector
	rt.subs.Range(func(_ int64, sub *Subscription) bool {
		if selector != nil && !selector(sub, r) {
			return true
		}
		rt.assign(sub, r)
		return true
	})
}

// relayRemoved runs on the router goroutine.
func (rt *router) relayRemoved(r *Relay) {
	rt.subs.Range(func(_ int64, sub *Subscription) bool {
		sub.dropRelayTarget(r.URL)
		return true
	})
}

// relayConnected runs on the router goroutine, ordered before any frame
// from the new connection: the relay rejoins the coverage set of every
// subscription it serves (its actor re-issues the REQs itself).
func (rt *router) relayConnected(r *Relay) {
	rt.subs.Range(func(_ int64, sub *Subscription) bool {
		sub.awaitEose(r.URL)
		return true
	})
}

// relayDisconnected runs on the router goroutine: coverage stops waiting
// on a relay that dropped before answering, so one flapping or dead relay
// never blocks the caught-up marker for everybody.
func (rt *router) relayDisconnected(r *Relay) {
	rt.subs.Range(func(_ int64, sub *Subscription) bool {
		sub.releaseEose(r.URL)
		return true
	})
}
