package signaling

import (
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/keastman/parley/internal/domain"
)

// VideoRoomPlugin is the gateway's multi-party room plugin package.
const VideoRoomPlugin = "janus.plugin.videoroom"

const (
	ptypePublisher = "publisher"
	ptypeListener  = "listener"
)

// VideoRoom is the live multi-party room variant: the publisher handle joins
// the room directly after attach, subscriber handles join per remote feed.
type VideoRoom struct {
	Room    int64
	Display string
}

func (v *VideoRoom) Plugin() string { return VideoRoomPlugin }

// roomJoinBody is the join request for both roles. Feed is only set for the
// listener role.
type roomJoinBody struct {
	Request string        `json:"request"`
	Room    int64         `json:"room"`
	PType   string        `json:"ptype"`
	Feed    domain.FeedID `json:"feed,omitempty"`
	Display string        `json:"display,omitempty"`
}

type roomConfigureBody struct {
	Request string `json:"request"`
	Audio   bool   `json:"audio"`
	Video   bool   `json:"video"`
}

type roomStartBody struct {
	Request string `json:"request"`
	Room    int64  `json:"room"`
}

func (v *VideoRoom) Attached(s Sender, h *Handle) error {
	body := roomJoinBody{Request: "join", Room: v.Room}
	if h.FeedID == 0 {
		body.PType = ptypePublisher
		body.Display = v.Display
	} else {
		body.PType = ptypeListener
		body.Feed = h.FeedID
	}
	return s.Request(h.ID, body, nil, nil, nil)
}

func (v *VideoRoom) SendOffer(s Sender, handleID int64, jsep domain.JSEP) error {
	body := roomConfigureBody{Request: "configure", Audio: true, Video: true}
	return s.Request(handleID, body, &jsep, nil, nil)
}

func (v *VideoRoom) SendAnswer(s Sender, handleID int64, jsep domain.JSEP) error {
	body := roomStartBody{Request: "start", Room: v.Room}
	return s.Request(handleID, body, &jsep, nil, nil)
}

// videoRoomData is the sparse union inside plugindata.data. Leaving and
// Unpublished are raw because the gateway reports the leaver's feed id to
// others but the string "ok" to the leaver itself.
type videoRoomData struct {
	VideoRoom   string          `json:"videoroom"`
	Room        int64           `json:"room"`
	Publishers  []domain.Feed   `json:"publishers"`
	Leaving     json.RawMessage `json:"leaving"`
	Unpublished json.RawMessage `json:"unpublished"`
}

func (v *VideoRoom) DecodeEvent(data json.RawMessage) (RoomEvent, bool) {
	if len(data) == 0 {
		return RoomEvent{}, false
	}
	var d videoRoomData
	if err := json.Unmarshal(data, &d); err != nil {
		log.Warn().Err(err).Str("module", "signaling.videoroom").Msg("unreadable plugin event, dropped")
		return RoomEvent{}, false
	}

	ev := RoomEvent{Joined: d.VideoRoom == "joined" || d.VideoRoom == "attached"}
	for _, f := range d.Publishers {
		if f.Valid() {
			ev.Feeds = append(ev.Feeds, f)
		} else {
			log.Warn().Str("module", "signaling.videoroom").Int64("feed_id", int64(f.ID)).Str("display", f.Display).Msg("invalid feed descriptor, skipped")
		}
	}
	if id := feedIDFromRaw(d.Leaving); id != 0 {
		ev.Leaving = id
	} else if id := feedIDFromRaw(d.Unpublished); id != 0 {
		ev.Leaving = id
	}
	return ev, true
}

func feedIDFromRaw(raw json.RawMessage) domain.FeedID {
	if len(raw) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		// "ok" and other non-numeric markers refer to this handle, not a
		// remote feed.
		return 0
	}
	return domain.FeedID(n)
}
