package signaling

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/keastman/parley/internal/domain"
)

// RecordPlayPlugin is the gateway's single-stream record/playback plugin.
const RecordPlayPlugin = "janus.plugin.recordplay"

// RecordPlay drives a single-stream recording or playback. Unlike the room
// variant it sends an AV configuration request right after attach; only then
// does the offer/answer exchange start.
type RecordPlay struct {
	RecordingID int64
	Name        string
	Filename    string
	AudioCodec  string
	VideoCodec  string

	VideoBitrateMax       int
	VideoKeyframeInterval int

	// Play requests playback of RecordingID instead of recording.
	Play bool
}

func (r *RecordPlay) Plugin() string { return RecordPlayPlugin }

type recordPlayConfigureBody struct {
	Request               string `json:"request"`
	VideoBitrateMax       int    `json:"video-bitrate-max"`
	VideoKeyframeInterval int    `json:"video-keyframe-interval"`
}

type recordBody struct {
	Request    string `json:"request"`
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Filename   string `json:"filename,omitempty"`
	AudioCodec string `json:"audiocodec,omitempty"`
	VideoCodec string `json:"videocodec,omitempty"`
}

type playBody struct {
	Request string `json:"request"`
	ID      int64  `json:"id"`
}

type startStopBody struct {
	Request string `json:"request"`
}

// Attached configures bitrate/keyframe limits first. Once the gateway
// confirms, playback asks for the recording (the remote offer arrives as an
// event) while recording promotes the handle to joined so the caller
// produces the local offer.
func (r *RecordPlay) Attached(s Sender, h *Handle) error {
	handleID := h.ID
	body := recordPlayConfigureBody{
		Request:               "configure",
		VideoBitrateMax:       r.VideoBitrateMax,
		VideoKeyframeInterval: r.VideoKeyframeInterval,
	}
	return s.Request(handleID, body, nil, func(Incoming) {
		if r.Play {
			if err := s.Request(handleID, playBody{Request: "play", ID: r.RecordingID}, nil, nil, nil); err != nil {
				log.Error().Err(err).Str("module", "signaling.recordplay").Int64("handle_id", handleID).Msg("play request failed")
			}
			return
		}
		s.Joined(handleID)
	}, nil)
}

func (r *RecordPlay) SendOffer(s Sender, handleID int64, jsep domain.JSEP) error {
	body := recordBody{
		Request:    "record",
		ID:         r.RecordingID,
		Name:       r.Name,
		Filename:   r.Filename,
		AudioCodec: r.AudioCodec,
		VideoCodec: r.VideoCodec,
	}
	return s.Request(handleID, body, &jsep, nil, nil)
}

func (r *RecordPlay) SendAnswer(s Sender, handleID int64, jsep domain.JSEP) error {
	return s.Request(handleID, startStopBody{Request: "start"}, &jsep, nil, nil)
}

// recordPlayData is the plugin's event payload. There are no feeds to
// discover; the status string is informational.
type recordPlayData struct {
	RecordPlay string `json:"recordplay"`
	Result     struct {
		Status string `json:"status"`
		ID     int64  `json:"id"`
	} `json:"result"`
}

func (r *RecordPlay) DecodeEvent(data json.RawMessage) (RoomEvent, bool) {
	if len(data) == 0 {
		return RoomEvent{}, false
	}
	var d recordPlayData
	if err := json.Unmarshal(data, &d); err != nil {
		log.Warn().Err(err).Str("module", "signaling.recordplay").Msg("unreadable plugin event, dropped")
		return RoomEvent{}, false
	}
	if d.Result.Status != "" {
		log.Info().Str("module", "signaling.recordplay").Str("status", d.Result.Status).Int64("recording_id", d.Result.ID).Msg("plugin status")
	}
	return RoomEvent{}, true
}
