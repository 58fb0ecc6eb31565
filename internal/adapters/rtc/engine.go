// Package rtc is the local media engine: one pion PeerConnection per
// signaling handle, with offers, answers and trickled candidates flowing
// through the signaling client.
package rtc

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/keastman/parley/internal/domain"
	"github.com/keastman/parley/internal/signaling"
)

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

type Engine struct {
	cfg    webrtc.Configuration
	client *signaling.Client

	mu    sync.Mutex
	peers map[int64]*webrtc.PeerConnection
}

func NewEngine(cfg webrtc.Configuration) *Engine {
	return &Engine{cfg: cfg, peers: make(map[int64]*webrtc.PeerConnection)}
}

// Bind wires the signaling client the engine sends through. Must run before
// any handle comes up.
func (e *Engine) Bind(c *signaling.Client) {
	e.client = c
}

// Publisher returns the callbacks for the local publisher handle: on join,
// produce an offer; the gateway's answer comes back as remote JSEP. When the
// remote JSEP is itself an offer and no peer exists yet (playback, where the
// gateway streams the recording to us), it is answered instead.
func (e *Engine) Publisher(handleID int64) signaling.HandleCallbacks {
	return signaling.HandleCallbacks{
		OnJoined: func() {
			if err := e.publish(handleID); err != nil {
				log.Error().Err(err).Str("module", "rtc").Int64("handle_id", handleID).Msg("publish failed")
			}
		},
		OnRemoteJSEP: func(j domain.JSEP) {
			if _, ok := e.peer(handleID); !ok && j.Type == "offer" {
				if err := e.answer(handleID, j); err != nil {
					log.Error().Err(err).Str("module", "rtc").Int64("handle_id", handleID).Msg("answer remote offer failed")
				}
				return
			}
			if err := e.applyRemote(handleID, j); err != nil {
				log.Error().Err(err).Str("module", "rtc").Int64("handle_id", handleID).Msg("apply remote answer failed")
			}
		},
		OnLeaving: func() { e.closePeer(handleID) },
	}
}

// Subscriber returns the callbacks for one remote feed's handle: the remote
// offer arrives as JSEP and is answered locally.
func (e *Engine) Subscriber(handleID int64, feed domain.Feed) signaling.HandleCallbacks {
	return signaling.HandleCallbacks{
		OnRemoteJSEP: func(j domain.JSEP) {
			if err := e.answer(handleID, j); err != nil {
				log.Error().Err(err).Str("module", "rtc").Int64("handle_id", handleID).Int64("feed_id", int64(feed.ID)).Msg("answer failed")
			}
		},
		OnLeaving: func() { e.closePeer(handleID) },
	}
}

func (e *Engine) newPeer(handleID int64) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, err
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Int64("handle_id", handleID).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			if err := e.client.TrickleComplete(handleID); err != nil {
				log.Error().Err(err).Str("module", "rtc").Int64("handle_id", handleID).Msg("trickle complete")
			}
			return
		}
		raw, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("marshal candidate")
			return
		}
		if err := e.client.Trickle(handleID, domain.Candidate(raw)); err != nil {
			log.Error().Err(err).Str("module", "rtc").Int64("handle_id", handleID).Msg("trickle")
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Int64("handle_id", handleID).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
	})

	e.mu.Lock()
	e.peers[handleID] = pc
	e.mu.Unlock()
	return pc, nil
}

func (e *Engine) peer(handleID int64) (*webrtc.PeerConnection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.peers[handleID]
	return pc, ok
}

func (e *Engine) publish(handleID int64) error {
	pc, err := e.newPeer(handleID)
	if err != nil {
		return err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly}); err != nil {
		return err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return e.client.SendOffer(handleID, domain.JSEP{Type: offer.Type.String(), SDP: offer.SDP})
}

func (e *Engine) applyRemote(handleID int64, j domain.JSEP) error {
	pc, ok := e.peer(handleID)
	if !ok {
		log.Warn().Str("module", "rtc").Int64("handle_id", handleID).Msg("remote description for unknown peer, dropped")
		return nil
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(j.Type),
		SDP:  j.SDP,
	})
}

func (e *Engine) answer(handleID int64, offer domain.JSEP) error {
	pc, err := e.newPeer(handleID)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(offer.Type),
		SDP:  offer.SDP,
	}); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	return e.client.SendAnswer(handleID, domain.JSEP{Type: answer.Type.String(), SDP: answer.SDP})
}

func (e *Engine) closePeer(handleID int64) {
	e.mu.Lock()
	pc, ok := e.peers[handleID]
	if ok {
		delete(e.peers, handleID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if err := pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Int64("handle_id", handleID).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Int64("handle_id", handleID).Msg("peer closed")
	}
}

// Close tears down every remaining peer connection.
func (e *Engine) Close() {
	e.mu.Lock()
	peers := e.peers
	e.peers = make(map[int64]*webrtc.PeerConnection)
	e.mu.Unlock()
	for id, pc := range peers {
		if err := pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Int64("handle_id", id).Msg("close error")
		}
	}
}
