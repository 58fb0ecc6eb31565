// Package gatewayws implements core.Transport over a gorilla websocket
// connection to the signaling gateway.
package gatewayws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/keastman/parley/internal/core"
)

// Subprotocol is the negotiation hint the gateway expects at connect time.
const Subprotocol = "janus-protocol"

const (
	writeDeadline = 5 * time.Second
	sendQueueSize = 32
)

var (
	ErrBackpressure = errors.New("gatewayws: send queue full")
	ErrClosed       = errors.New("gatewayws: connection closed")
)

// Transport is a single-connection websocket transport. Connect may be
// called again after the previous connection fully closed.
type Transport struct {
	url    string
	events core.TransportEvents

	mu     sync.RWMutex
	conn   *websocket.Conn
	send   chan []byte
	closed bool
}

func New(url string) *Transport {
	return &Transport{url: url}
}

// Bind sets the inbound event sink. Must be called before Connect.
func (t *Transport) Bind(events core.TransportEvents) {
	t.events = events
}

func (t *Transport) Connect() error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{Subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.Dial(t.url, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.send = make(chan []byte, sendQueueSize)
	t.closed = false
	t.mu.Unlock()

	log.Info().Str("module", "gatewayws").Str("url", t.url).Msg("connected")
	go t.writePump(conn, t.send)
	go t.readPump(conn)

	t.events.OnConnected()
	return nil
}

// Send queues one text frame. Backpressure is an error, not a block: the
// signaling path must never stall on a slow socket.
func (t *Transport) Send(text []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed || t.send == nil {
		return ErrClosed
	}
	select {
	case t.send <- text:
		return nil
	default:
		return ErrBackpressure
	}
}

func (t *Transport) Disconnect() {
	t.close()
}

func (t *Transport) close() {
	t.mu.Lock()
	if t.closed || t.conn == nil {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.send)
	_ = t.conn.Close()
	t.mu.Unlock()
}

func (t *Transport) writePump(conn *websocket.Conn, send chan []byte) {
	for data := range send {
		if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			log.Error().Err(err).Str("module", "gatewayws").Msg("writePump set deadline")
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "gatewayws").Msg("writePump write error")
			return
		}
	}
}

func (t *Transport) readPump(conn *websocket.Conn) {
	defer func() {
		t.close()
		reason, code := "connection closed", 0
		log.Info().Str("module", "gatewayws").Str("reason", reason).Msg("readPump closing")
		t.events.OnDisconnected(reason, code)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				log.Info().Str("module", "gatewayws").Int("code", closeErr.Code).Str("text", closeErr.Text).Msg("peer closed")
			} else if !t.isClosed() {
				log.Error().Err(err).Str("module", "gatewayws").Msg("readPump read error")
				t.events.OnError(err)
			}
			return
		}
		t.events.OnMessage(data)
	}
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
