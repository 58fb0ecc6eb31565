package signaling

import (
	"sync"
	"time"

	"github.com/pion/randutil"
	"github.com/rs/zerolog/log"
)

const (
	txnIDLength = 12
	txnIDRunes  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// newTransactionID produces a collision-resistant id. Outstanding counts are
// small, so 12 alphanumeric characters is plenty.
func newTransactionID() string {
	id, err := randutil.GenerateCryptoRandomString(txnIDLength, txnIDRunes)
	if err != nil {
		// crypto/rand failure; fall back to the math generator rather than
		// stalling the whole signaling path.
		id = randutil.NewMathRandomGenerator().GenerateString(txnIDLength, txnIDRunes)
	}
	return id
}

type txnEntry struct {
	onSuccess func(Incoming)
	onError   func(ErrorData)
	timer     *time.Timer
}

// Correlator matches gateway responses to outstanding requests by their
// transaction id. Each id is registered until exactly one of success/error
// resolves it, then evicted. Mutation happens from both the transport read
// loop and caller goroutines, so everything runs under one mutex.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*txnEntry
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*txnEntry)}
}

// Create registers callbacks under a fresh id and returns the id. A deadline
// > 0 arms a timer that resolves the transaction with CodeTimeout if no
// response arrives first. Either callback may be nil.
func (c *Correlator) Create(onSuccess func(Incoming), onError func(ErrorData), deadline time.Duration) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var id string
	for {
		generated := newTransactionID()
		if _, taken := c.pending[generated]; !taken {
			id = generated
			break
		}
	}

	entry := &txnEntry{onSuccess: onSuccess, onError: onError}
	if deadline > 0 {
		entry.timer = time.AfterFunc(deadline, func() {
			c.Resolve(id, true, Incoming{
				Kind:        KindError,
				Transaction: id,
				Err:         ErrorData{Code: CodeTimeout, Reason: "transaction timed out"},
			})
		})
	}
	c.pending[id] = entry
	return id
}

// Resolve invokes exactly one of the registered callbacks and evicts the
// entry. An unknown id is a logged no-op: keep-alive and leave races, as
// well as reconnects, legitimately produce unmatched responses.
func (c *Correlator) Resolve(id string, isError bool, msg Incoming) bool {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		log.Warn().Str("module", "signaling.txn").Str("txn", id).Msg("response for unknown transaction, dropped")
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	if isError {
		if entry.onError != nil {
			entry.onError(msg.Err)
		}
		return true
	}
	if entry.onSuccess != nil {
		entry.onSuccess(msg)
	}
	return true
}

// FailAll evicts every outstanding transaction and fires its error callback
// with the given synthetic error. Used on transport disconnect so that
// mid-flight requests do not leak their callbacks.
func (c *Correlator) FailAll(errData ErrorData) {
	c.mu.Lock()
	evicted := c.pending
	c.pending = make(map[string]*txnEntry)
	c.mu.Unlock()

	for id, entry := range evicted {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		log.Warn().Str("module", "signaling.txn").Str("txn", id).Int("code", errData.Code).Msg("failing outstanding transaction")
		if entry.onError != nil {
			entry.onError(errData)
		}
	}
}

// Discard evicts an entry without firing either callback. Used when the
// request it belongs to could not be built or sent.
func (c *Correlator) Discard(id string) {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok && entry.timer != nil {
		entry.timer.Stop()
	}
}

// Outstanding reports the number of unresolved transactions.
func (c *Correlator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
