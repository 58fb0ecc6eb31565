package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keastman/parley/internal/domain"
)

func TestDecodeSuccess(t *testing.T) {
	in, err := Decode([]byte(`{"janus":"success","transaction":"abc123","data":{"id":42}}`))
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, in.Kind)
	assert.Equal(t, "abc123", in.Transaction)
	assert.Equal(t, int64(42), in.ID)
}

func TestDecodeSuccessWithoutData(t *testing.T) {
	in, err := Decode([]byte(`{"janus":"success","transaction":"abc123"}`))
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, in.Kind)
	assert.Equal(t, int64(0), in.ID)
}

func TestDecodeError(t *testing.T) {
	in, err := Decode([]byte(`{"janus":"error","transaction":"abc123","error":{"code":458,"reason":"No such room"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindError, in.Kind)
	assert.Equal(t, ErrorData{Code: 458, Reason: "No such room"}, in.Err)
}

func TestDecodeEventFull(t *testing.T) {
	raw := `{
		"janus": "event",
		"sender": 7,
		"transaction": "tx1",
		"plugindata": {
			"plugin": "janus.plugin.videoroom",
			"data": {"videoroom": "joined", "room": 1234, "publishers": [{"id": 9, "display": "alice"}]}
		},
		"jsep": {"type": "answer", "sdp": "v=0..."}
	}`
	in, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, KindEvent, in.Kind)
	assert.Equal(t, int64(7), in.Sender)
	assert.Equal(t, "tx1", in.Transaction)
	assert.Equal(t, VideoRoomPlugin, in.Plugin)
	assert.Equal(t, domain.JSEP{Type: "answer", SDP: "v=0..."}, in.JSEP)
	assert.NotEmpty(t, in.PluginData)
}

func TestDecodeEventSparseDefaults(t *testing.T) {
	// Gateway event payloads are sparse unions; absent fields must default,
	// not fail the decode.
	in, err := Decode([]byte(`{"janus":"event","sender":7}`))
	require.NoError(t, err)
	assert.Equal(t, KindEvent, in.Kind)
	assert.Empty(t, in.Transaction)
	assert.Empty(t, in.Plugin)
	assert.Empty(t, in.PluginData)
	assert.True(t, in.JSEP.IsEmpty())
}

func TestDecodeDetached(t *testing.T) {
	in, err := Decode([]byte(`{"janus":"detached","sender":7,"session_id":42}`))
	require.NoError(t, err)
	assert.Equal(t, KindDetached, in.Kind)
	assert.Equal(t, int64(7), in.Sender)
}

func TestDecodeAck(t *testing.T) {
	in, err := Decode([]byte(`{"janus":"ack","transaction":"abc123"}`))
	require.NoError(t, err)
	assert.Equal(t, KindAck, in.Kind)
}

func TestDecodeRejectsBrokenEnvelopes(t *testing.T) {
	for _, bad := range []string{
		`not json at all`,
		`[1,2,3]`,
		`{"transaction":"abc"}`,
		`{"janus":"warp"}`,
	} {
		_, err := Decode([]byte(bad))
		assert.ErrorIs(t, err, ErrBadEnvelope, "input %q", bad)
	}
}

func TestJoinRequestRoundTrip(t *testing.T) {
	body := roomJoinBody{Request: "join", Room: 1234, PType: ptypeListener, Feed: 9}
	frame, err := encodeMessage("tx9", 42, 8, body, nil)
	require.NoError(t, err)

	// What a gateway would read back out of the envelope.
	var env envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, wireMessage, env.Janus)
	assert.Equal(t, "tx9", env.Transaction)
	assert.Equal(t, int64(42), env.SessionID)
	assert.Equal(t, int64(8), env.HandleID)

	var got roomJoinBody
	require.NoError(t, json.Unmarshal(env.Body, &got))
	assert.Equal(t, body.Room, got.Room)
	assert.Equal(t, body.PType, got.PType)
	assert.Equal(t, body.Feed, got.Feed)
}

func TestEncodeMessageOmitsEmptyJSEP(t *testing.T) {
	frame, err := encodeMessage("tx1", 42, 8, leaveBody{Request: "leave"}, &domain.JSEP{})
	require.NoError(t, err)
	assert.NotContains(t, string(frame), "jsep")
}

func TestEncodeTrickle(t *testing.T) {
	frame, err := encodeTrickle("tx2", 42, 8, domain.Candidate(`{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}`))
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, wireTrickle, env.Janus)
	assert.JSONEq(t, `{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}`, string(env.Candidate))

	done, err := encodeTrickle("tx3", 42, 8, trickleDone)
	require.NoError(t, err)
	assert.Contains(t, string(done), `"completed":true`)
}

func TestEncodeSessionRequests(t *testing.T) {
	create, err := encodeCreate("tx1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"janus":"create","transaction":"tx1"}`, string(create))

	ka, err := encodeKeepalive("tx2", 42)
	require.NoError(t, err)
	assert.JSONEq(t, `{"janus":"keepalive","transaction":"tx2","session_id":42}`, string(ka))

	attach, err := encodeAttach("tx3", 42, VideoRoomPlugin)
	require.NoError(t, err)
	assert.JSONEq(t, `{"janus":"attach","transaction":"tx3","session_id":42,"plugin":"janus.plugin.videoroom"}`, string(attach))
}
