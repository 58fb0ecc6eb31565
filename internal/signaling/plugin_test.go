package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keastman/parley/internal/domain"
)

// fakeSender records variant requests without touching a transport.
type fakeSender struct {
	requests []fakeRequest
	joined   []int64
}

type fakeRequest struct {
	handleID  int64
	body      any
	jsep      *domain.JSEP
	onSuccess func(Incoming)
	onError   func(ErrorData)
}

func (s *fakeSender) Request(handleID int64, body any, jsep *domain.JSEP, onSuccess func(Incoming), onError func(ErrorData)) error {
	s.requests = append(s.requests, fakeRequest{handleID, body, jsep, onSuccess, onError})
	return nil
}

func (s *fakeSender) Joined(handleID int64) {
	s.joined = append(s.joined, handleID)
}

func TestVideoRoomJoinsPublisherOnAttach(t *testing.T) {
	v := &VideoRoom{Room: 1234, Display: "alice"}
	s := &fakeSender{}

	require.NoError(t, v.Attached(s, &Handle{ID: 7}))
	require.Len(t, s.requests, 1)
	body, ok := s.requests[0].body.(roomJoinBody)
	require.True(t, ok)
	assert.Equal(t, roomJoinBody{Request: "join", Room: 1234, PType: ptypePublisher, Display: "alice"}, body)
}

func TestVideoRoomJoinsListenerOnSubscriberAttach(t *testing.T) {
	v := &VideoRoom{Room: 1234, Display: "alice"}
	s := &fakeSender{}

	require.NoError(t, v.Attached(s, &Handle{ID: 8, FeedID: 9}))
	require.Len(t, s.requests, 1)
	body := s.requests[0].body.(roomJoinBody)
	assert.Equal(t, ptypeListener, body.PType)
	assert.Equal(t, domain.FeedID(9), body.Feed)
	assert.Empty(t, body.Display)
}

func TestVideoRoomOfferAndAnswerBodies(t *testing.T) {
	v := &VideoRoom{Room: 1234}
	s := &fakeSender{}
	jsep := domain.JSEP{Type: "offer", SDP: "v=0..."}

	require.NoError(t, v.SendOffer(s, 7, jsep))
	require.NoError(t, v.SendAnswer(s, 8, domain.JSEP{Type: "answer", SDP: "v=0..."}))
	require.Len(t, s.requests, 2)

	offer := s.requests[0]
	assert.Equal(t, roomConfigureBody{Request: "configure", Audio: true, Video: true}, offer.body)
	require.NotNil(t, offer.jsep)
	assert.Equal(t, "offer", offer.jsep.Type)

	answer := s.requests[1]
	assert.Equal(t, roomStartBody{Request: "start", Room: 1234}, answer.body)
	require.NotNil(t, answer.jsep)
}

func TestVideoRoomDecodeEvent(t *testing.T) {
	v := &VideoRoom{Room: 1234}
	tests := []struct {
		name string
		data string
		want RoomEvent
	}{
		{
			name: "joined with publishers",
			data: `{"videoroom":"joined","room":1234,"id":77,"publishers":[{"id":9,"display":"alice"}]}`,
			want: RoomEvent{Joined: true, Feeds: []domain.Feed{{ID: 9, Display: "alice"}}},
		},
		{
			name: "invalid publishers are skipped",
			data: `{"videoroom":"event","publishers":[{"id":0,"display":"ghost"},{"id":5,"display":""}]}`,
			want: RoomEvent{},
		},
		{
			name: "remote feed leaving",
			data: `{"videoroom":"event","leaving":9}`,
			want: RoomEvent{Leaving: 9},
		},
		{
			name: "unpublished feed",
			data: `{"videoroom":"event","unpublished":9}`,
			want: RoomEvent{Leaving: 9},
		},
		{
			name: "own leave confirmation is not a departure",
			data: `{"videoroom":"event","leaving":"ok"}`,
			want: RoomEvent{},
		},
		{
			name: "subscriber attached",
			data: `{"videoroom":"attached","room":1234,"id":9}`,
			want: RoomEvent{Joined: true},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ev, ok := v.DecodeEvent(json.RawMessage(test.data))
			require.True(t, ok)
			assert.Equal(t, test.want, ev)
		})
	}
}

func TestVideoRoomDecodeEventEmptyPayload(t *testing.T) {
	v := &VideoRoom{}
	_, ok := v.DecodeEvent(nil)
	assert.False(t, ok)
}

func TestRecordPlayConfiguresBeforeJoin(t *testing.T) {
	r := &RecordPlay{RecordingID: 55, Name: "demo", VideoBitrateMax: 1024 * 1024, VideoKeyframeInterval: 15000}
	s := &fakeSender{}

	require.NoError(t, r.Attached(s, &Handle{ID: 7}))
	require.Len(t, s.requests, 1)
	cfg := s.requests[0].body.(recordPlayConfigureBody)
	assert.Equal(t, "configure", cfg.Request)
	assert.Equal(t, 1024*1024, cfg.VideoBitrateMax)
	assert.Equal(t, 15000, cfg.VideoKeyframeInterval)
	assert.Empty(t, s.joined, "joined must wait for the configure confirmation")

	// Configure confirmed: recording promotes the handle so the caller
	// produces the local offer.
	s.requests[0].onSuccess(Incoming{})
	assert.Equal(t, []int64{7}, s.joined)
}

func TestRecordPlayPlaybackRequestsRecording(t *testing.T) {
	r := &RecordPlay{RecordingID: 55, Play: true}
	s := &fakeSender{}

	require.NoError(t, r.Attached(s, &Handle{ID: 7}))
	require.Len(t, s.requests, 1)
	s.requests[0].onSuccess(Incoming{})

	require.Len(t, s.requests, 2)
	assert.Equal(t, playBody{Request: "play", ID: 55}, s.requests[1].body)
	assert.Empty(t, s.joined, "playback never publishes")
}

func TestRecordPlayOfferAndAnswerBodies(t *testing.T) {
	r := &RecordPlay{RecordingID: 55, Name: "demo", Filename: "demo.mjr", AudioCodec: "opus", VideoCodec: "vp8"}
	s := &fakeSender{}

	require.NoError(t, r.SendOffer(s, 7, domain.JSEP{Type: "offer", SDP: "v=0..."}))
	rec := s.requests[0].body.(recordBody)
	assert.Equal(t, recordBody{
		Request: "record", ID: 55, Name: "demo", Filename: "demo.mjr",
		AudioCodec: "opus", VideoCodec: "vp8",
	}, rec)

	require.NoError(t, r.SendAnswer(s, 7, domain.JSEP{Type: "answer", SDP: "v=0..."}))
	assert.Equal(t, startStopBody{Request: "start"}, s.requests[1].body)
}
