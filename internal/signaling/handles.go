package signaling

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/keastman/parley/internal/domain"
)

// HandleCallbacks is the per-role surface the media engine side provides.
// Any callback may be nil.
type HandleCallbacks struct {
	OnJoined     func()
	OnLeaving    func()
	OnRemoteJSEP func(domain.JSEP)
}

// Handle is one gateway plugin attachment: the publisher handle (FeedID
// zero) or a subscriber handle mirroring one remote feed.
type Handle struct {
	ID      int64
	FeedID  domain.FeedID
	Display string
	HandleCallbacks

	joined atomic.Bool
}

// HandleRegistry indexes handles by gateway id and, for subscribers, by the
// remote feed they mirror. At most one handle per feed may exist at a time.
type HandleRegistry struct {
	mu     sync.RWMutex
	byID   map[int64]*Handle
	byFeed map[domain.FeedID]*Handle
}

func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{
		byID:   make(map[int64]*Handle),
		byFeed: make(map[domain.FeedID]*Handle),
	}
}

// Register inserts h into the primary index and, when FeedID is set, the
// feed index. A duplicate id or feed is rejected and logged rather than
// overwritten, so the previous handle's media is never silently orphaned.
func (r *HandleRegistry) Register(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byID[h.ID]; taken {
		log.Warn().Str("module", "signaling.handles").Int64("handle_id", h.ID).Msg("duplicate handle id, ignored")
		return false
	}
	if h.FeedID != 0 {
		if _, taken := r.byFeed[h.FeedID]; taken {
			log.Warn().Str("module", "signaling.handles").Int64("feed_id", int64(h.FeedID)).Msg("feed already subscribed, ignored")
			return false
		}
		r.byFeed[h.FeedID] = h
	}
	r.byID[h.ID] = h
	log.Info().Str("module", "signaling.handles").Int64("handle_id", h.ID).Int64("feed_id", int64(h.FeedID)).Msg("registered handle")
	return true
}

func (r *HandleRegistry) ByID(id int64) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	return h, ok
}

func (r *HandleRegistry) ByFeed(feed domain.FeedID) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byFeed[feed]
	return h, ok
}

// Unregister removes the handle from both indices.
func (r *HandleRegistry) Unregister(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if h.FeedID != 0 {
		delete(r.byFeed, h.FeedID)
	}
	log.Info().Str("module", "signaling.handles").Int64("handle_id", id).Msg("unregistered handle")
}

// Snapshot returns the registered handles, in no particular order.
func (r *HandleRegistry) Snapshot() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.byID))
	for _, h := range r.byID {
		out = append(out, h)
	}
	return out
}
