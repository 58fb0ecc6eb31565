package signaling

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keastman/parley/internal/core"
	"github.com/keastman/parley/internal/domain"
)

// State of the connection state machine. Subscriber sub-flows run per feed
// and are not part of this single progression.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateSessionCreated
	StatePublisherAttached
	StatePublisherJoined
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateSessionCreated:
		return "session-created"
	case StatePublisherAttached:
		return "publisher-attached"
	case StatePublisherJoined:
		return "publisher-joined"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	// ErrNoSession is returned for requests issued before session-create
	// succeeded (or after disconnect).
	ErrNoSession = errors.New("signaling: no session")

	// ErrNotClosed is returned by Connect when a connection attempt is
	// already underway.
	ErrNotClosed = errors.New("signaling: client not closed")
)

// DefaultTransactionTimeout bounds how long a request may stay outstanding.
const DefaultTransactionTimeout = 30 * time.Second

// Options tune the client. Zero values pick the defaults.
type Options struct {
	KeepAlivePeriod    time.Duration
	TransactionTimeout time.Duration
}

// Events is the caller-facing callback surface. NewPublisher/NewSubscriber
// let the media engine hand back per-handle callbacks when a role comes up.
// Any field may be nil.
type Events struct {
	OnConnected    func()
	OnDisconnected func(reason string, code int)
	OnError        func(err error)
	NewPublisher   func(handleID int64) HandleCallbacks
	NewSubscriber  func(handleID int64, feed domain.Feed) HandleCallbacks
}

// Client orchestrates one signaling session against the gateway: session
// creation and keep-alive, publisher attach/join, one subscriber sub-flow
// per discovered feed, and routing of remote descriptions and trickled
// candidates. It implements core.TransportEvents for the transport's read
// loop and Sender for the plugin variants.
type Client struct {
	transport core.Transport
	variant   Variant
	events    Events
	timeout   time.Duration

	txns    *Correlator
	session *SessionState
	handles *HandleRegistry

	mu           sync.Mutex
	state        State
	publisherID  int64
	pendingFeeds map[domain.FeedID]bool
}

func NewClient(transport core.Transport, variant Variant, events Events, opts Options) *Client {
	c := &Client{
		transport:    transport,
		variant:      variant,
		events:       events,
		timeout:      opts.TransactionTimeout,
		txns:         NewCorrelator(),
		handles:      NewHandleRegistry(),
		pendingFeeds: make(map[domain.FeedID]bool),
	}
	if c.timeout == 0 {
		c.timeout = DefaultTransactionTimeout
	}
	c.session = NewSessionState(opts.KeepAlivePeriod, c.sendKeepalive)
	return c
}

// Connect asks the transport to open. Session creation starts once the
// transport reports connected.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return ErrNotClosed
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.transport.Connect(); err != nil {
		c.setState(StateClosed)
		return fmt.Errorf("signaling: connect: %w", err)
	}
	return nil
}

// Close tears the connection down. Outstanding transactions fail through
// OnDisconnected once the transport confirms.
func (c *Client) Close() {
	c.transport.Disconnect()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		log.Debug().Str("module", "signaling.client").Str("from", prev.String()).Str("to", s.String()).Msg("state change")
	}
}

// --- core.TransportEvents ---

func (c *Client) OnConnected() {
	c.setState(StateOpen)
	if c.events.OnConnected != nil {
		c.events.OnConnected()
	}
	c.openSession()
}

func (c *Client) OnDisconnected(reason string, code int) {
	log.Info().Str("module", "signaling.client").Str("reason", reason).Int("code", code).Msg("transport disconnected")
	c.session.Close()
	c.txns.FailAll(ErrorData{Code: CodeDisconnected, Reason: "transport disconnected"})

	for _, h := range c.handles.Snapshot() {
		if h.OnLeaving != nil {
			h.OnLeaving()
		}
		c.handles.Unregister(h.ID)
	}

	c.mu.Lock()
	c.state = StateClosed
	c.publisherID = 0
	c.pendingFeeds = make(map[domain.FeedID]bool)
	c.mu.Unlock()

	if c.events.OnDisconnected != nil {
		c.events.OnDisconnected(reason, code)
	}
}

func (c *Client) OnMessage(text []byte) {
	msg, err := Decode(text)
	if err != nil {
		log.Error().Err(err).Str("module", "signaling.client").Msg("dropping undecodable frame")
		return
	}
	switch msg.Kind {
	case KindSuccess:
		c.txns.Resolve(msg.Transaction, false, msg)
	case KindError:
		c.txns.Resolve(msg.Transaction, true, msg)
	case KindAck:
		log.Debug().Str("module", "signaling.client").Str("txn", msg.Transaction).Msg("ack")
	case KindEvent:
		c.handleEvent(msg)
	case KindDetached:
		c.handleDetached(msg)
	}
}

func (c *Client) OnError(err error) {
	log.Error().Err(err).Str("module", "signaling.client").Msg("transport error")
	c.reportError(err)
}

// --- session establishment ---

func (c *Client) openSession() {
	txn := c.txns.Create(func(msg Incoming) {
		c.session.Open(msg.ID)
		c.setState(StateSessionCreated)
		c.attachPublisher()
	}, func(e ErrorData) {
		// Terminal for this connection attempt; the caller reconnects.
		log.Error().Str("module", "signaling.client").Int("code", e.Code).Str("reason", e.Reason).Msg("session-create failed")
		c.reportError(e)
		c.transport.Disconnect()
	}, c.timeout)

	frame, err := encodeCreate(txn)
	if err != nil {
		c.txns.Discard(txn)
		c.reportError(err)
		return
	}
	c.sendFrame(frame)
}

func (c *Client) sendKeepalive(sessionID int64) {
	// Keep-alives are not correlated: the ack they produce resolves nothing
	// and an unmatched response is a no-op by design of the correlator.
	frame, err := encodeKeepalive(newTransactionID(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("module", "signaling.client").Msg("encode keep-alive")
		return
	}
	c.sendFrame(frame)
}

// --- publisher flow ---

func (c *Client) attachPublisher() {
	sid, ok := c.session.ID()
	if !ok {
		log.Warn().Str("module", "signaling.client").Msg("attach before session-create, skipped")
		return
	}
	txn := c.txns.Create(func(msg Incoming) {
		c.onPublisherAttached(msg.ID)
	}, func(e ErrorData) {
		log.Error().Str("module", "signaling.client").Int("code", e.Code).Str("reason", e.Reason).Msg("publisher attach failed")
		c.reportError(e)
	}, c.timeout)

	frame, err := encodeAttach(txn, sid, c.variant.Plugin())
	if err != nil {
		c.txns.Discard(txn)
		c.reportError(err)
		return
	}
	c.sendFrame(frame)
}

func (c *Client) onPublisherAttached(handleID int64) {
	var cbs HandleCallbacks
	if c.events.NewPublisher != nil {
		cbs = c.events.NewPublisher(handleID)
	}
	h := &Handle{ID: handleID, HandleCallbacks: cbs}
	if !c.handles.Register(h) {
		return
	}
	c.mu.Lock()
	c.publisherID = handleID
	c.mu.Unlock()
	c.setState(StatePublisherAttached)

	if err := c.variant.Attached(c, h); err != nil {
		log.Error().Err(err).Str("module", "signaling.client").Int64("handle_id", handleID).Msg("post-attach hook failed")
		c.reportError(err)
	}
}

// --- subscriber sub-flow, one per remote feed ---

func (c *Client) subscribeFeed(feed domain.Feed) {
	if _, taken := c.handles.ByFeed(feed.ID); taken {
		log.Warn().Str("module", "signaling.client").Int64("feed_id", int64(feed.ID)).Msg("feed already subscribed, attach skipped")
		return
	}
	c.mu.Lock()
	if c.pendingFeeds[feed.ID] {
		c.mu.Unlock()
		log.Warn().Str("module", "signaling.client").Int64("feed_id", int64(feed.ID)).Msg("subscription already in flight, attach skipped")
		return
	}
	c.pendingFeeds[feed.ID] = true
	c.mu.Unlock()

	sid, ok := c.session.ID()
	if !ok {
		c.clearPending(feed.ID)
		return
	}

	txn := c.txns.Create(func(msg Incoming) {
		c.clearPending(feed.ID)
		c.onSubscriberAttached(msg.ID, feed)
	}, func(e ErrorData) {
		c.clearPending(feed.ID)
		log.Error().Str("module", "signaling.client").Int64("feed_id", int64(feed.ID)).Int("code", e.Code).Str("reason", e.Reason).Msg("subscriber attach failed")
		c.reportError(e)
	}, c.timeout)

	frame, err := encodeAttach(txn, sid, c.variant.Plugin())
	if err != nil {
		c.txns.Discard(txn)
		c.clearPending(feed.ID)
		c.reportError(err)
		return
	}
	c.sendFrame(frame)
}

func (c *Client) onSubscriberAttached(handleID int64, feed domain.Feed) {
	var cbs HandleCallbacks
	if c.events.NewSubscriber != nil {
		cbs = c.events.NewSubscriber(handleID, feed)
	}
	h := &Handle{ID: handleID, FeedID: feed.ID, Display: feed.Display, HandleCallbacks: cbs}
	if !c.handles.Register(h) {
		// Lost a registration race; drop the spare handle remotely too.
		c.sendDetach(handleID)
		return
	}
	if err := c.variant.Attached(c, h); err != nil {
		log.Error().Err(err).Str("module", "signaling.client").Int64("handle_id", handleID).Msg("subscriber join failed")
		c.reportError(err)
	}
}

func (c *Client) clearPending(feed domain.FeedID) {
	c.mu.Lock()
	delete(c.pendingFeeds, feed)
	c.mu.Unlock()
}

// removeFeed leaves the room on behalf of the feed's subscriber handle. A
// leave the gateway rejects is logged and the handle evicted anyway:
// keeping it would permanently block resubscribing to that feed.
func (c *Client) removeFeed(feed domain.FeedID) {
	h, ok := c.handles.ByFeed(feed)
	if !ok {
		log.Warn().Str("module", "signaling.client").Int64("feed_id", int64(feed)).Msg("departure for unknown feed, dropped")
		return
	}
	sid, ok := c.session.ID()
	if !ok {
		return
	}

	evict := func() {
		if h.OnLeaving != nil {
			h.OnLeaving()
		}
		c.handles.Unregister(h.ID)
	}
	txn := c.txns.Create(func(Incoming) {
		evict()
	}, func(e ErrorData) {
		log.Warn().Str("module", "signaling.client").Int64("handle_id", h.ID).Int("code", e.Code).Str("reason", e.Reason).Msg("leave refused, evicting handle anyway")
		evict()
	}, c.timeout)

	frame, err := encodeMessage(txn, sid, h.ID, leaveBody{Request: "leave"}, nil)
	if err != nil {
		c.txns.Discard(txn)
		c.reportError(err)
		return
	}
	c.sendFrame(frame)
}

type leaveBody struct {
	Request string `json:"request"`
}

// --- inbound events ---

func (c *Client) handleEvent(msg Incoming) {
	// Events caused by a "message" request echo its transaction id; that is
	// the request's success resolution (the gateway only acks in between).
	if msg.Transaction != "" {
		c.txns.Resolve(msg.Transaction, false, msg)
	}

	h, ok := c.handles.ByID(msg.Sender)
	if !ok {
		log.Warn().Str("module", "signaling.client").Int64("sender", msg.Sender).Msg("event for unknown handle, dropped")
		return
	}

	if ev, decoded := c.variant.DecodeEvent(msg.PluginData); decoded {
		if ev.Joined {
			c.markJoined(h)
		}
		for _, f := range ev.Feeds {
			c.subscribeFeed(f)
		}
		if ev.Leaving != 0 {
			c.removeFeed(ev.Leaving)
		}
	}

	if !msg.JSEP.IsEmpty() && h.OnRemoteJSEP != nil {
		h.OnRemoteJSEP(msg.JSEP)
	}
}

func (c *Client) handleDetached(msg Incoming) {
	h, ok := c.handles.ByID(msg.Sender)
	if !ok {
		log.Warn().Str("module", "signaling.client").Int64("sender", msg.Sender).Msg("detached for unknown handle, dropped")
		return
	}
	// The remote side already tore the handle down; no leave request.
	if h.OnLeaving != nil {
		h.OnLeaving()
	}
	c.handles.Unregister(h.ID)
}

func (c *Client) markJoined(h *Handle) {
	if !h.joined.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	isPublisher := h.ID == c.publisherID
	c.mu.Unlock()
	if isPublisher {
		c.setState(StatePublisherJoined)
	}
	log.Info().Str("module", "signaling.client").Int64("handle_id", h.ID).Int64("feed_id", int64(h.FeedID)).Msg("handle joined")
	if h.OnJoined != nil {
		h.OnJoined()
	}
}

// --- Sender (used by plugin variants) ---

// Request issues a correlated plugin request for the handle. A nil onError
// falls back to logging and the client-level error callback.
func (c *Client) Request(handleID int64, body any, jsep *domain.JSEP, onSuccess func(Incoming), onError func(ErrorData)) error {
	sid, ok := c.session.ID()
	if !ok {
		return ErrNoSession
	}
	if onError == nil {
		onError = func(e ErrorData) {
			log.Error().Str("module", "signaling.client").Int64("handle_id", handleID).Int("code", e.Code).Str("reason", e.Reason).Msg("request failed")
			c.reportError(e)
		}
	}
	txn := c.txns.Create(onSuccess, onError, c.timeout)
	frame, err := encodeMessage(txn, sid, handleID, body, jsep)
	if err != nil {
		c.txns.Discard(txn)
		return err
	}
	return c.sendFrame(frame)
}

// Joined promotes a handle from a variant's own transaction flow (the
// record-play path, where no event marks the join).
func (c *Client) Joined(handleID int64) {
	if h, ok := c.handles.ByID(handleID); ok {
		c.markJoined(h)
	}
}

// --- media-engine-consumed surface ---

func (c *Client) SendOffer(handleID int64, jsep domain.JSEP) error {
	return c.variant.SendOffer(c, handleID, jsep)
}

func (c *Client) SendAnswer(handleID int64, jsep domain.JSEP) error {
	return c.variant.SendAnswer(c, handleID, jsep)
}

// Trickle forwards one locally gathered candidate. Fire-and-forget: the
// gateway does not correlate trickles.
func (c *Client) Trickle(handleID int64, candidate domain.Candidate) error {
	return c.trickle(handleID, candidate)
}

// TrickleComplete marks the end of local candidate gathering.
func (c *Client) TrickleComplete(handleID int64) error {
	return c.trickle(handleID, trickleDone)
}

func (c *Client) trickle(handleID int64, candidate domain.Candidate) error {
	sid, ok := c.session.ID()
	if !ok {
		return ErrNoSession
	}
	frame, err := encodeTrickle(newTransactionID(), sid, handleID, candidate)
	if err != nil {
		return err
	}
	return c.sendFrame(frame)
}

func (c *Client) sendDetach(handleID int64) {
	sid, ok := c.session.ID()
	if !ok {
		return
	}
	frame, err := encodeDetach(newTransactionID(), sid, handleID)
	if err != nil {
		log.Error().Err(err).Str("module", "signaling.client").Msg("encode detach")
		return
	}
	c.sendFrame(frame)
}

func (c *Client) sendFrame(frame []byte) error {
	if err := c.transport.Send(frame); err != nil {
		log.Error().Err(err).Str("module", "signaling.client").Msg("send failed")
		return err
	}
	return nil
}

func (c *Client) reportError(err error) {
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
}
