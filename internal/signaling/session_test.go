package signaling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepAliveSkippedWithoutSession(t *testing.T) {
	sent := make(chan int64, 4)
	s := NewSessionState(time.Hour, func(id int64) { sent <- id })

	s.tick()
	select {
	case id := <-sent:
		t.Fatalf("keep-alive %d sent before session-create", id)
	default:
	}
}

func TestOpenFiresImmediateKeepAlive(t *testing.T) {
	sent := make(chan int64, 4)
	s := NewSessionState(time.Hour, func(id int64) { sent <- id })
	defer s.Close()

	s.Open(42)
	select {
	case id := <-sent:
		assert.Equal(t, int64(42), id)
	case <-time.After(time.Second):
		t.Fatal("no immediate keep-alive after open")
	}

	id, ok := s.ID()
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestKeepAliveLoopTicksAndStops(t *testing.T) {
	sent := make(chan int64, 16)
	s := NewSessionState(10*time.Millisecond, func(id int64) { sent <- id })

	s.Open(7)
	deadline := time.After(time.Second)
	for i := 0; i < 3; i++ {
		select {
		case id := <-sent:
			assert.Equal(t, int64(7), id)
		case <-deadline:
			t.Fatal("keep-alive loop stalled")
		}
	}

	s.Close()
	_, ok := s.ID()
	assert.False(t, ok, "id must clear on close")

	// Drain anything in flight, then confirm silence.
	time.Sleep(30 * time.Millisecond)
	for len(sent) > 0 {
		<-sent
	}
	select {
	case <-sent:
		t.Fatal("keep-alive after close")
	case <-time.After(50 * time.Millisecond):
	}
}
