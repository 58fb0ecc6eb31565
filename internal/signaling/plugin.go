package signaling

import (
	"encoding/json"

	"github.com/keastman/parley/internal/domain"
)

// RoomEvent is the variant-normalized content of one plugin event: a joined
// marker for the receiving handle, feeds now available for subscription,
// and/or a feed that left the room. Absent parts keep their zero values.
type RoomEvent struct {
	Joined  bool
	Feeds   []domain.Feed
	Leaving domain.FeedID
}

// Sender is the slice of the client a plugin variant uses to act: issuing
// correlated plugin requests and promoting a handle to joined when the
// variant learns that from a transaction rather than an event.
type Sender interface {
	Request(handleID int64, body any, jsep *domain.JSEP, onSuccess func(Incoming), onError func(ErrorData)) error
	Joined(handleID int64)
}

// Variant supplies the plugin-specific request bodies and event
// interpretation. Sessions, handles, transactions and keep-alive are shared;
// only these four points differ between gateway plugins.
type Variant interface {
	// Plugin names the gateway plugin package to attach to.
	Plugin() string

	// Attached runs after a handle attach succeeds, before any join/offer.
	// Room variants join immediately; record-play sends its AV
	// configuration first.
	Attached(s Sender, h *Handle) error

	// SendOffer forwards a local session description for the handle,
	// wrapped in the variant's publish/record body.
	SendOffer(s Sender, handleID int64, jsep domain.JSEP) error

	// SendAnswer forwards a local answer for the handle, wrapped in the
	// variant's start body.
	SendAnswer(s Sender, handleID int64, jsep domain.JSEP) error

	// DecodeEvent extracts the variant's event fields from a plugindata
	// payload. The second return is false when the payload is not this
	// variant's (or carries nothing actionable).
	DecodeEvent(data json.RawMessage) (RoomEvent, bool)
}
