package deckwire

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"lukechampine.com/frand"
)

// RelayStatus is the connection actor's externally visible state. Only the
// actor's own goroutine moves it.
type RelayStatus int32

const (
	RelayDisconnected RelayStatus = iota
	RelayConnecting
	RelayConnected
	RelayFailed
)

func (s RelayStatus) String() string {
	switch s {
	case RelayDisconnected:
		return "disconnected"
	case RelayConnecting:
		return "connecting"
	case RelayConnected:
		return "connected"
	case RelayFailed:
		return "failed"
	}
	return "unknown"
}

const (
	initialBackoff          = 3 * time.Second
	defaultMaxBackoff       = 10 * time.Minute
	defaultHandshakeTimeout = 7 * time.Second
	defaultMaxPendingWrites = 64
	outboxDepth             = 256
)

var (
	ErrWriteOverflow = errors.New("write dropped: outbound buffer overflow")
	ErrNoChallenge   = errors.New("relay has not sent an AUTH challenge")
)

type RelayOptions struct {
	// NoticeHandler just takes notices and is expected to do something with them.
	// When not given defaults to logging the notices.
	NoticeHandler func(notice string)

	// CustomHandler, if given, must be a function that handles any relay message
	// that couldn't be parsed as a standard envelope.
	CustomHandler func(data string)

	// RequestHeader sets the HTTP request header of the websocket preflight request
	RequestHeader http.Header

	// TLSConfig, if given, is used for the websocket dial.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds connection establishment; exceeding it counts
	// as a transport failure and feeds the backoff machine. Defaults to 7s.
	HandshakeTimeout time.Duration

	// InitialBackoff is the delay after the first failure; subsequent
	// failures grow it geometrically up to MaxBackoff. Defaults to 3s.
	InitialBackoff time.Duration

	// MaxBackoff caps the reconnection delay. Defaults to 10 minutes.
	MaxBackoff time.Duration

	// MaxPendingWrites bounds how many outbound frames are held while the
	// relay is unreachable; beyond it the oldest is dropped. Defaults to 64.
	MaxPendingWrites int

	// MaxClockSkew is how far in the future an event's created_at may be
	// before it is rejected. Defaults to 15 minutes; negative disables.
	MaxClockSkew time.Duration

	// AssumeValid skips id and signature verification for events received
	// from this relay. Only for relays you run yourself.
	AssumeValid bool
}

func (opts *RelayOptions) applyDefaults() {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = initialBackoff
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxPendingWrites == 0 {
		opts.MaxPendingWrites = defaultMaxPendingWrites
	}
	if opts.MaxClockSkew == 0 {
		opts.MaxClockSkew = 15 * time.Minute
	}
}

// Relay is the connection actor for one relay endpoint: a single goroutine
// owning the connect → auth → resubscribe → stream loop, with exponential
// backoff between attempts. All state transitions happen inside run().
type Relay struct {
	URL string

	opts RelayOptions

	ctx    context.Context
	cancel context.CancelCauseFunc

	status      atomic.Int32
	retryCount  atomic.Int32
	lastFailure atomic.Int64

	// outbox is drained by the actor in every state: while connected frames
	// go to the wire, otherwise they land in the bounded pending buffer.
	outbox  chan writeRequest
	pending []writeRequest // owned by run()

	// unconfirmed holds frames written to the current connection with no
	// inbound traffic after them. If the connection dies before the relay
	// says anything back, they may have landed on an already-dead socket
	// and are re-buffered for the next connection. Owned by run().
	unconfirmed    [][]byte
	framesReceived atomic.Int64

	// subscriptions still assigned to this relay; re-REQ'd after reconnect.
	subscriptions *xsync.MapOf[int64, *Subscription]

	okCallbacks *xsync.MapOf[ID, func(bool, string)]
	challenge   atomic.Pointer[string]
	authedOnce  atomic.Bool

	dialed   chan struct{}
	dialOnce sync.Once
	dialErr  error

	// deliver funnels decoded envelopes into the router queue. Nil for
	// standalone relays created with RelayConnect.
	deliver func(inbound) bool
	// checkSeen is the read-only fast path against the pool's dedup cache.
	checkSeen func(ID) bool
	// notify reports connect/disconnect transitions to the router so it can
	// keep EOSE coverage honest. Nil for standalone relays.
	notify func(connected bool)

	stats *Stats
}

func newRelay(ctx context.Context, url string, opts RelayOptions, deliver func(inbound) bool, checkSeen func(ID) bool, stats *Stats) *Relay {
	opts.applyDefaults()
	ctx, cancel := context.WithCancelCause(ctx)

	r := &Relay{
		URL:           NormalizeURL(url),
		opts:          opts,
		ctx:           ctx,
		cancel:        cancel,
		outbox:        make(chan writeRequest, outboxDepth),
		dialed:        make(chan struct{}),
		subscriptions: xsync.NewMapOf[int64, *Subscription](),
		okCallbacks:   xsync.NewMapOf[ID, func(bool, string)](),
		deliver:       deliver,
		checkSeen:     checkSeen,
		stats:         stats,
	}
	r.status.Store(int32(RelayDisconnected))
	return r
}

// RelayConnect starts a standalone connection actor for the given url,
// outside of any Pool, and waits for the first connection attempt to
// settle. If that attempt fails the actor is shut down and the dial error
// returned; after a successful connect the actor keeps reconnecting on its
// own until Close.
//
// Standalone relays can Publish and Auth; subscriptions require a Pool.
func RelayConnect(ctx context.Context, url string, opts RelayOptions) (*Relay, error) {
	nm := NormalizeURL(url)
	if !IsValidRelayURL(nm) {
		return nil, fmt.Errorf("invalid relay url %q", url)
	}

	r := newRelay(ctx, nm, opts, nil, nil, nil)
	go r.run()

	select {
	case <-ctx.Done():
		r.Close()
		return nil, ctx.Err()
	case <-r.dialed:
		if r.dialErr != nil {
			r.Close()
			return nil, fmt.Errorf("error opening websocket to '%s': %w", r.URL, r.dialErr)
		}
		return r, nil
	}
}

// String just returns the relay URL.
func (r *Relay) String() string { return r.URL }

// Status returns the actor's current connection state.
func (r *Relay) Status() RelayStatus { return RelayStatus(r.status.Load()) }

// IsConnected returns true if the connection to this relay seems to be active.
func (r *Relay) IsConnected() bool { return r.Status() == RelayConnected }

// RetryCount returns how many consecutive connection attempts have failed.
func (r *Relay) RetryCount() int { return int(r.retryCount.Load()) }

// LastFailure returns when the last transport failure happened, or zero.
func (r *Relay) LastFailure() Timestamp { return Timestamp(r.lastFailure.Load()) }

// Context is done when the actor has been shut down.
func (r *Relay) Context() context.Context { return r.ctx }

// Close shuts the actor down for good. Pending writes are failed.
func (r *Relay) Close() error {
	r.cancel(errors.New("Close() called"))
	return nil
}

// run is the actor loop. It never returns until the relay is removed from
// the pool or the pool dies.
func (r *Relay) run() {
	defer r.failRemaining()

	interval := r.opts.InitialBackoff

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		r.status.Store(int32(RelayConnecting))

		connCtx, connCancel := context.WithCancelCause(r.ctx)
		conn, err := newConnection(
			connCtx, connCancel, r.URL,
			r.opts.HandshakeTimeout, r.handleMessage,
			r.opts.RequestHeader, r.opts.TLSConfig,
		)
		if err != nil {
			connCancel(err)
			r.dialOnce.Do(func() { r.dialErr = err; close(r.dialed) })
			r.status.Store(int32(RelayFailed))
			r.lastFailure.Store(time.Now().Unix())
			r.retryCount.Add(1)
			log.Debug().Str("relay", r.URL).Err(err).Dur("retry-in", interval).Msg("connection failed")

			if !r.waitBackoff(interval) {
				return
			}
			interval = nextInterval(interval, r.opts.MaxBackoff)
			continue
		}

		r.status.Store(int32(RelayConnected))
		r.dialOnce.Do(func() { close(r.dialed) })
		r.challenge.Store(nil)
		r.authedOnce.Store(false)
		if r.notify != nil {
			r.notify(true)
		}

		lastSeen := r.framesReceived.Load()
		r.unconfirmed = r.unconfirmed[:0]

		// the relay may have lost all state across the reconnect: re-issue
		// REQ for every subscription still assigned here, then flush
		// whatever was queued while we were away.
		r.resubscribeAll(conn)
		r.flushPending(conn)

	stream:
		for {
			// any inbound frame proves the socket was alive when the frames
			// before it went out
			if seen := r.framesReceived.Load(); seen != lastSeen {
				lastSeen = seen
				r.unconfirmed = r.unconfirmed[:0]
			}

			select {
			case <-r.ctx.Done():
				conn.doClose(ws.StatusNormalClosure, "relay closed")
				return
			case <-conn.closedNotify:
				break stream
			case wr := <-r.outbox:
				if !conn.write(r.ctx, wr) {
					r.buffer(wr)
					break stream
				}
				if wr.answer == nil {
					r.unconfirmed = append(r.unconfirmed, wr.msg)
				}
			}
		}

		r.status.Store(int32(RelayDisconnected))
		r.lastFailure.Store(time.Now().Unix())
		if r.notify != nil {
			r.notify(false)
		}

		// frames the dead relay never acknowledged with any traffic go back
		// to the pending buffer instead of being lost on the corpse
		if r.framesReceived.Load() == lastSeen {
			for _, msg := range r.unconfirmed {
				r.buffer(writeRequest{msg: msg})
			}
		}
		r.unconfirmed = r.unconfirmed[:0]

		// a successful decode since the last reconnect means the relay was
		// actually healthy, so the failure streak starts over.
		if r.retryCount.Load() == 0 {
			interval = r.opts.InitialBackoff
		} else {
			r.retryCount.Add(1)
		}

		log.Debug().Str("relay", r.URL).Dur("retry-in", interval).Msg("disconnected, will reconnect")
		if !r.waitBackoff(interval) {
			return
		}
		interval = nextInterval(interval, r.opts.MaxBackoff)
	}
}

// waitBackoff sleeps for d plus jitter, still absorbing outbound writes into
// the pending buffer so callers never block on a dead relay. Returns false
// when the actor is shutting down.
func (r *Relay) waitBackoff(d time.Duration) bool {
	timer := time.NewTimer(jitter(d))
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return false
		case <-timer.C:
			return true
		case wr := <-r.outbox:
			r.buffer(wr)
		}
	}
}

// buffer holds an outbound write for the next successful connection,
// dropping the oldest once the bound is hit. Overflow is a reported
// backpressure condition, not a fatal error.
func (r *Relay) buffer(wr writeRequest) {
	if len(r.pending) >= r.opts.MaxPendingWrites {
		oldest := r.pending[0]
		r.pending = r.pending[1:]
		if oldest.answer != nil {
			oldest.answer <- ErrWriteOverflow
		}
		if r.stats != nil {
			r.stats.WriteOverflows.Inc()
		}
		log.Warn().Str("relay", r.URL).Msg("outbound buffer overflow, dropped oldest write")
	}
	r.pending = append(r.pending, wr)
}

func (r *Relay) flushPending(conn *connection) {
	for len(r.pending) > 0 {
		wr := r.pending[0]
		if !conn.write(r.ctx, wr) {
			return
		}
		r.pending = r.pending[1:]
		if wr.answer == nil {
			r.unconfirmed = append(r.unconfirmed, wr.msg)
		}
	}
}

func (r *Relay) resubscribeAll(conn *connection) {
	r.subscriptions.Range(func(_ int64, sub *Subscription) bool {
		b, err := sub.reqEnvelope().MarshalJSON()
		if err != nil {
			return true
		}
		return conn.write(r.ctx, writeRequest{msg: b})
	})
}

func (r *Relay) failRemaining() {
	cause := context.Cause(r.ctx)
	for _, wr := range r.pending {
		if wr.answer != nil {
			wr.answer <- fmt.Errorf("relay closed: %w", cause)
		}
	}
	r.pending = nil
	for {
		select {
		case wr := <-r.outbox:
			if wr.answer != nil {
				wr.answer <- fmt.Errorf("relay closed: %w", cause)
			}
		default:
			return
		}
	}
}

// handleMessage runs on the connection goroutine: one relay's frames are
// processed strictly in order, and a slow parse here never suspends any
// other actor.
func (r *Relay) handleMessage(message string) {
	// fast path: skip frames carrying an event id we have already
	// forwarded, without paying for a full decode
	if r.checkSeen != nil {
		if subid := extractSubID(message); subid != "" && 10+len(subid) < len(message) {
			if id := extractEventID(message[10+len(subid):]); id != ZeroID && r.checkSeen(id) {
				return
			}
		}
	}

	envelope, err := ParseMessage(message)
	if envelope == nil {
		if err == UnknownLabel && r.opts.CustomHandler != nil {
			r.opts.CustomHandler(message)
			return
		}
		// a malformed frame costs us that frame, never the connection
		log.Debug().Str("relay", r.URL).Err(err).Msg("dropped malformed frame")
		return
	}

	// any successful decode proves the relay is alive again
	r.retryCount.Store(0)
	r.framesReceived.Add(1)

	switch env := envelope.(type) {
	case *NoticeEnvelope:
		if r.opts.NoticeHandler != nil {
			r.opts.NoticeHandler(string(*env))
		} else {
			log.Warn().Str("relay", r.URL).Str("notice", string(*env)).Msg("NOTICE")
		}
	case *AuthEnvelope:
		if env.Challenge == nil {
			return
		}
		r.challenge.Store(env.Challenge)
	case *OKEnvelope:
		if okCallback, exist := r.okCallbacks.Load(env.EventID); exist {
			okCallback(env.OK, env.Reason)
		} else {
			log.Debug().Str("relay", r.URL).Stringer("id", env.EventID).Msg("unexpected OK")
		}
	case *EventEnvelope:
		if env.SubscriptionID == nil {
			return
		}
		// the trust boundary: nothing crosses into the router unvalidated
		if !r.opts.AssumeValid {
			if err := env.Event.Validate(r.opts.MaxClockSkew); err != nil {
				log.Debug().Str("relay", r.URL).Stringer("id", env.Event.ID).Err(err).Msg("dropped invalid event")
				return
			}
		}
		if r.deliver != nil {
			r.deliver(inbound{relay: r, env: envelope})
		}
	case *EOSEEnvelope, *ClosedEnvelope:
		if r.deliver != nil {
			r.deliver(inbound{relay: r, env: envelope})
		}
	}
}

// Write queues an arbitrary message to be sent to the relay. If the live
// queue is full the oldest queued message is evicted.
func (r *Relay) Write(msg []byte) {
	wr := writeRequest{msg: msg}
	for {
		select {
		case r.outbox <- wr:
			return
		case <-r.ctx.Done():
			return
		default:
		}

		select {
		case oldest := <-r.outbox:
			if oldest.answer != nil {
				oldest.answer <- ErrWriteOverflow
			}
			if r.stats != nil {
				r.stats.WriteOverflows.Inc()
			}
		default:
		}
	}
}

// WriteWithError is like Write, but waits until the message hits the wire
// (or is dropped) and reports how that went.
func (r *Relay) WriteWithError(msg []byte) error {
	ch := make(chan error, 1)
	select {
	case r.outbox <- writeRequest{msg: msg, answer: ch}:
	case <-r.ctx.Done():
		return fmt.Errorf("failed to write to %s: %w", r.URL, context.Cause(r.ctx))
	}
	return <-ch
}

// Publish sends an "EVENT" command to the relay and waits for an OK response.
func (r *Relay) Publish(ctx context.Context, event Event) error {
	return r.publish(ctx, event.ID, &EventEnvelope{Event: event})
}

// Auth sends an "AUTH" command in response to the relay's last challenge.
//
// You don't have to build the AUTH event yourself: sign receives the
// prepared event and only has to sign it.
func (r *Relay) Auth(ctx context.Context, sign func(context.Context, *Event) error) error {
	challenge := r.challenge.Load()
	if challenge == nil {
		return ErrNoChallenge
	}

	authEvent := Event{
		CreatedAt: Now(),
		Kind:      KindClientAuthentication,
		Tags: Tags{
			Tag{"relay", r.URL},
			Tag{"challenge", *challenge},
		},
		Content: "",
	}
	if err := sign(ctx, &authEvent); err != nil {
		return fmt.Errorf("error signing auth event: %w", err)
	}

	return r.publish(ctx, authEvent.ID, &AuthEnvelope{Event: authEvent})
}

// publish can be used both for EVENT and for AUTH
func (r *Relay) publish(ctx context.Context, id ID, env Envelope) error {
	var err error
	var cancel context.CancelFunc

	if _, ok := ctx.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		ctx, cancel = context.WithTimeoutCause(ctx, 7*time.Second, fmt.Errorf("given up waiting for an OK"))
		defer cancel()
	} else {
		// otherwise make the context cancellable so we can stop everything upon receiving an "OK"
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	// listen for an OK callback
	gotOk := false
	r.okCallbacks.Store(id, func(ok bool, reason string) {
		gotOk = true
		if !ok {
			err = fmt.Errorf("msg: %s", reason)
		}
		cancel()
	})
	defer r.okCallbacks.Delete(id)

	// publish event
	envb, _ := env.MarshalJSON()
	if werr := r.WriteWithError(envb); werr != nil {
		return werr
	}

	for {
		select {
		case <-ctx.Done():
			// this will be called when we get an OK or when the context has been canceled
			if gotOk {
				return err
			}
			return fmt.Errorf("publish: %w", context.Cause(ctx))
		case <-r.ctx.Done():
			// this is caused when we lose the relay
			return fmt.Errorf("relay: %w", context.Cause(r.ctx))
		}
	}
}

func nextInterval(current, max time.Duration) time.Duration {
	return min(max, current*17/10)
}

// jitter spreads reconnect attempts over [d/2, 3d/2) so a flapping relay
// doesn't see all clients stampede at once.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d/2 + time.Duration(frand.Uint64n(uint64(d)))
}
