// Wire codec for the gateway protocol.
//
// Every frame is a single JSON object whose "janus" field names the message
// kind. Requests carry a "transaction" id echoed on the matching response;
// unsolicited events instead carry a "sender" handle id. Optional fields are
// decoded tolerantly: a sparse event payload yields zero values, and only a
// broken top-level envelope is a hard decode error.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/keastman/parley/internal/domain"
)

// Outgoing request discriminators.
const (
	wireCreate    = "create"
	wireAttach    = "attach"
	wireMessage   = "message"
	wireTrickle   = "trickle"
	wireKeepalive = "keepalive"
	wireDetach    = "detach"
)

// Inbound discriminators.
const (
	wireSuccess  = "success"
	wireError    = "error"
	wireAck      = "ack"
	wireEvent    = "event"
	wireDetached = "detached"
)

// Kind classifies an inbound gateway frame.
type Kind int

const (
	KindSuccess Kind = iota
	KindError
	KindAck
	KindEvent
	KindDetached
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return wireSuccess
	case KindError:
		return wireError
	case KindAck:
		return wireAck
	case KindEvent:
		return wireEvent
	case KindDetached:
		return wireDetached
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ErrBadEnvelope is returned when a frame is not a recognizable gateway
// message. The frame is dropped; the session continues.
var ErrBadEnvelope = errors.New("signaling: malformed gateway envelope")

// ErrorData carries the gateway's {code, reason} pair for a failed request,
// or a synthetic pair for failures originating locally.
type ErrorData struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// Synthetic error codes. The gateway only ever reports positive codes.
const (
	CodeTimeout      = -1
	CodeDisconnected = -2
)

func (e ErrorData) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Reason)
}

// envelope is the superset wire shape shared by every gateway message.
type envelope struct {
	Janus       string           `json:"janus"`
	Transaction string           `json:"transaction,omitempty"`
	SessionID   int64            `json:"session_id,omitempty"`
	HandleID    int64            `json:"handle_id,omitempty"`
	Sender      int64            `json:"sender,omitempty"`
	Plugin      string           `json:"plugin,omitempty"`
	Body        json.RawMessage  `json:"body,omitempty"`
	Candidate   domain.Candidate `json:"candidate,omitempty"`
	JSEP        *domain.JSEP     `json:"jsep,omitempty"`
	Data        *successData     `json:"data,omitempty"`
	Error       *ErrorData       `json:"error,omitempty"`
	PluginData  *pluginData      `json:"plugindata,omitempty"`
}

type successData struct {
	ID int64 `json:"id"`
}

type pluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

// Incoming is one classified inbound frame with every optional field already
// defaulted to its absent sentinel.
type Incoming struct {
	Kind        Kind
	Transaction string
	Sender      int64
	ID          int64 // gateway-assigned id on success acks (session or handle)
	Err         ErrorData
	Plugin      string
	PluginData  json.RawMessage
	JSEP        domain.JSEP
}

// Decode classifies one inbound frame. Unknown "janus" values and envelopes
// missing the discriminator fail with ErrBadEnvelope.
func Decode(text []byte) (Incoming, error) {
	var env envelope
	if err := json.Unmarshal(text, &env); err != nil {
		return Incoming{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	in := Incoming{
		Transaction: env.Transaction,
		Sender:      env.Sender,
	}
	switch env.Janus {
	case wireSuccess:
		in.Kind = KindSuccess
		if env.Data != nil {
			in.ID = env.Data.ID
		}
	case wireError:
		in.Kind = KindError
		if env.Error != nil {
			in.Err = *env.Error
		}
	case wireAck:
		in.Kind = KindAck
	case wireEvent:
		in.Kind = KindEvent
		if env.PluginData != nil {
			in.Plugin = env.PluginData.Plugin
			in.PluginData = env.PluginData.Data
		}
		if env.JSEP != nil {
			in.JSEP = *env.JSEP
		}
	case wireDetached:
		in.Kind = KindDetached
	default:
		return Incoming{}, fmt.Errorf("%w: janus=%q", ErrBadEnvelope, env.Janus)
	}
	return in, nil
}

func encodeCreate(txn string) ([]byte, error) {
	return json.Marshal(envelope{Janus: wireCreate, Transaction: txn})
}

func encodeKeepalive(txn string, sessionID int64) ([]byte, error) {
	return json.Marshal(envelope{Janus: wireKeepalive, Transaction: txn, SessionID: sessionID})
}

func encodeAttach(txn string, sessionID int64, plugin string) ([]byte, error) {
	return json.Marshal(envelope{Janus: wireAttach, Transaction: txn, SessionID: sessionID, Plugin: plugin})
}

func encodeMessage(txn string, sessionID, handleID int64, body any, jsep *domain.JSEP) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("signaling: encode request body: %w", err)
	}
	env := envelope{
		Janus:       wireMessage,
		Transaction: txn,
		SessionID:   sessionID,
		HandleID:    handleID,
		Body:        raw,
	}
	if jsep != nil && !jsep.IsEmpty() {
		env.JSEP = jsep
	}
	return json.Marshal(env)
}

func encodeTrickle(txn string, sessionID, handleID int64, candidate domain.Candidate) ([]byte, error) {
	return json.Marshal(envelope{
		Janus:       wireTrickle,
		Transaction: txn,
		SessionID:   sessionID,
		HandleID:    handleID,
		Candidate:   candidate,
	})
}

func encodeDetach(txn string, sessionID, handleID int64) ([]byte, error) {
	return json.Marshal(envelope{Janus: wireDetach, Transaction: txn, SessionID: sessionID, HandleID: handleID})
}

// trickleDone is the candidate payload marking the end of local gathering.
var trickleDone = domain.Candidate(`{"completed":true}`)
