package signaling

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultKeepAlivePeriod is the gateway's expected keep-alive cadence.
const DefaultKeepAlivePeriod = 30 * time.Second

// SessionState owns the single gateway-assigned session id and the
// keep-alive loop. The id is read from both the send path and the transport
// read loop, so access is mutex-guarded.
type SessionState struct {
	period    time.Duration
	keepalive func(sessionID int64)

	mu   sync.Mutex
	id   int64
	stop chan struct{}
}

// NewSessionState builds an unopened session. keepalive is invoked with the
// current session id on every tick once the session is open.
func NewSessionState(period time.Duration, keepalive func(sessionID int64)) *SessionState {
	if period <= 0 {
		period = DefaultKeepAlivePeriod
	}
	return &SessionState{period: period, keepalive: keepalive}
}

// ID returns the session id, false while no session exists.
func (s *SessionState) ID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.id != 0
}

// Open records the id assigned by a successful session-create, fires an
// immediate keep-alive and starts the periodic loop.
func (s *SessionState) Open(id int64) {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
	}
	s.id = id
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	log.Info().Str("module", "signaling.session").Int64("session_id", id).Msg("session open")
	s.tick()
	go s.loop(stop)
}

// Close halts the keep-alive loop and clears the id.
func (s *SessionState) Close() {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	cleared := s.id
	s.id = 0
	s.mu.Unlock()

	if cleared != 0 {
		log.Info().Str("module", "signaling.session").Int64("session_id", cleared).Msg("session closed")
	}
}

func (s *SessionState) loop(stop chan struct{}) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick sends one keep-alive. A tick with no session id is skipped; the loop
// only starts after Open, but the ordering is checked anyway.
func (s *SessionState) tick() {
	id, ok := s.ID()
	if !ok {
		log.Warn().Str("module", "signaling.session").Msg("keep-alive tick before session-create, skipped")
		return
	}
	s.keepalive(id)
}
