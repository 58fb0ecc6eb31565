// gatewaysim is a toy videoroom gateway for local development: enough of
// the wire protocol (create/attach/message/trickle/keepalive/detach) for a
// parley client to run its whole join flow without a real deployment. SDP is
// relayed verbatim between publisher and subscribers, so media will not
// actually flow; the point is exercising the signaling path.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"janus-protocol"},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

type envelope struct {
	Janus       string          `json:"janus"`
	Transaction string          `json:"transaction,omitempty"`
	SessionID   int64           `json:"session_id,omitempty"`
	HandleID    int64           `json:"handle_id,omitempty"`
	Sender      int64           `json:"sender,omitempty"`
	Plugin      string          `json:"plugin,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	JSEP        json.RawMessage `json:"jsep,omitempty"`
	Data        map[string]any  `json:"data,omitempty"`
	Error       map[string]any  `json:"error,omitempty"`
	PluginData  map[string]any  `json:"plugindata,omitempty"`
}

type requestBody struct {
	Request string `json:"request"`
	Room    int64  `json:"room"`
	PType   string `json:"ptype"`
	Feed    int64  `json:"feed"`
	Display string `json:"display"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *client) enqueue(v envelope) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "sim").Msg("marshal")
		return
	}
	select {
	case c.send <- b:
	default:
		log.Warn().Str("module", "sim").Msg("send queue full, frame dropped")
	}
}

type handle struct {
	id      int64
	session *session
	room    int64
	feed    int64 // publisher: own feed id; subscriber: remote feed
	pub     bool
	display string
}

type session struct {
	id      int64
	client  *client
	handles map[int64]*handle
}

type room struct {
	id         int64
	publishers map[int64]*handle // feed id -> publishing handle
	offers     map[int64]json.RawMessage
}

type gateway struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*session
	rooms    map[int64]*room
}

func newGateway() *gateway {
	return &gateway{sessions: make(map[int64]*session), rooms: make(map[int64]*room)}
}

func (g *gateway) allocID() int64 {
	g.nextID++
	return g.nextID
}

func (g *gateway) roomByID(id int64) *room {
	r, ok := g.rooms[id]
	if !ok {
		r = &room{id: id, publishers: make(map[int64]*handle), offers: make(map[int64]json.RawMessage)}
		g.rooms[id] = r
	}
	return r
}

func (g *gateway) handleConn(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "sim").Msg("ws upgrade")
		return
	}
	cl := &client{conn: ws, send: make(chan []byte, 64)}
	go func() {
		for b := range cl.send {
			if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}()

	defer func() {
		g.dropClient(cl)
		close(cl.send)
		_ = ws.Close()
	}()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		g.dispatch(cl, data)
	}
}

func (g *gateway) dropClient(cl *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for sid, s := range g.sessions {
		if s.client != cl {
			continue
		}
		for _, h := range s.handles {
			if h.pub {
				g.unpublishLocked(h)
			}
		}
		delete(g.sessions, sid)
	}
}

func (g *gateway) dispatch(cl *client, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "sim").Msg("bad frame")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch env.Janus {
	case "create":
		s := &session{id: g.allocID(), client: cl, handles: make(map[int64]*handle)}
		g.sessions[s.id] = s
		cl.enqueue(envelope{Janus: "success", Transaction: env.Transaction, Data: map[string]any{"id": s.id}})
		log.Info().Str("module", "sim").Int64("session_id", s.id).Msg("session created")
	case "attach":
		s, ok := g.sessions[env.SessionID]
		if !ok {
			cl.enqueue(errorFrame(env.Transaction, 458, "no such session"))
			return
		}
		h := &handle{id: g.allocID(), session: s}
		s.handles[h.id] = h
		cl.enqueue(envelope{Janus: "success", Transaction: env.Transaction, Data: map[string]any{"id": h.id}})
	case "keepalive", "trickle":
		cl.enqueue(envelope{Janus: "ack", Transaction: env.Transaction})
	case "detach":
		if s, ok := g.sessions[env.SessionID]; ok {
			if h, ok := s.handles[env.HandleID]; ok {
				if h.pub {
					g.unpublishLocked(h)
				}
				delete(s.handles, env.HandleID)
			}
		}
		cl.enqueue(envelope{Janus: "success", Transaction: env.Transaction})
	case "message":
		g.pluginMessage(cl, env)
	default:
		cl.enqueue(errorFrame(env.Transaction, 490, "unknown request"))
	}
}

func (g *gateway) pluginMessage(cl *client, env envelope) {
	s, ok := g.sessions[env.SessionID]
	if !ok {
		cl.enqueue(errorFrame(env.Transaction, 458, "no such session"))
		return
	}
	h, ok := s.handles[env.HandleID]
	if !ok {
		cl.enqueue(errorFrame(env.Transaction, 459, "no such handle"))
		return
	}
	var body requestBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		cl.enqueue(errorFrame(env.Transaction, 456, "invalid body"))
		return
	}
	cl.enqueue(envelope{Janus: "ack", Transaction: env.Transaction})

	switch body.Request {
	case "join":
		if body.PType == "publisher" {
			g.joinPublisher(cl, env, h, body)
		} else {
			g.joinListener(cl, env, h, body)
		}
	case "configure":
		r := g.roomByID(h.room)
		if len(env.JSEP) > 0 {
			r.offers[h.feed] = env.JSEP
		}
		answer, _ := json.Marshal(map[string]string{"type": "answer", "sdp": "v=0\r\ns=sim\r\n"})
		cl.enqueue(envelope{
			Janus: "event", Transaction: env.Transaction, Sender: h.id,
			PluginData: videoroomData(map[string]any{"videoroom": "event", "room": h.room, "configured": "ok"}),
			JSEP:       answer,
		})
	case "start":
		cl.enqueue(envelope{
			Janus: "event", Transaction: env.Transaction, Sender: h.id,
			PluginData: videoroomData(map[string]any{"videoroom": "event", "room": h.room, "started": "ok"}),
		})
	case "leave":
		if h.pub {
			g.unpublishLocked(h)
		}
		cl.enqueue(envelope{
			Janus: "event", Transaction: env.Transaction, Sender: h.id,
			PluginData: videoroomData(map[string]any{"videoroom": "event", "room": h.room, "leaving": "ok"}),
		})
	default:
		cl.enqueue(errorFrame(env.Transaction, 423, "unknown videoroom request"))
	}
}

func (g *gateway) joinPublisher(cl *client, env envelope, h *handle, body requestBody) {
	r := g.roomByID(body.Room)
	h.room, h.pub, h.feed, h.display = r.id, true, h.id, body.Display

	existing := make([]map[string]any, 0, len(r.publishers))
	for _, p := range r.publishers {
		existing = append(existing, map[string]any{"id": p.feed, "display": p.display})
	}
	r.publishers[h.feed] = h

	cl.enqueue(envelope{
		Janus: "event", Transaction: env.Transaction, Sender: h.id,
		PluginData: videoroomData(map[string]any{
			"videoroom": "joined", "room": r.id, "id": h.feed, "publishers": existing,
		}),
	})
	g.fanoutLocked(r, h, map[string]any{
		"videoroom": "event", "room": r.id,
		"publishers": []map[string]any{{"id": h.feed, "display": h.display}},
	})
	log.Info().Str("module", "sim").Int64("room", r.id).Int64("feed", h.feed).Str("display", h.display).Msg("publisher joined")
}

func (g *gateway) joinListener(cl *client, env envelope, h *handle, body requestBody) {
	r := g.roomByID(body.Room)
	h.room, h.feed = r.id, body.Feed

	offer := r.offers[body.Feed]
	if len(offer) == 0 {
		offer, _ = json.Marshal(map[string]string{"type": "offer", "sdp": "v=0\r\ns=sim\r\n"})
	}
	cl.enqueue(envelope{
		Janus: "event", Transaction: env.Transaction, Sender: h.id,
		PluginData: videoroomData(map[string]any{"videoroom": "attached", "room": r.id, "id": body.Feed}),
		JSEP:       offer,
	})
}

// unpublishLocked removes a publisher and tells the rest of the room.
func (g *gateway) unpublishLocked(h *handle) {
	r, ok := g.rooms[h.room]
	if !ok {
		return
	}
	delete(r.publishers, h.feed)
	delete(r.offers, h.feed)
	g.fanoutLocked(r, h, map[string]any{"videoroom": "event", "room": r.id, "leaving": h.feed})
}

func (g *gateway) fanoutLocked(r *room, from *handle, data map[string]any) {
	for _, p := range r.publishers {
		if p == from {
			continue
		}
		p.session.client.enqueue(envelope{Janus: "event", Sender: p.id, PluginData: videoroomData(data)})
	}
}

func videoroomData(data map[string]any) map[string]any {
	return map[string]any{"plugin": "janus.plugin.videoroom", "data": data}
}

func errorFrame(txn string, code int, reason string) envelope {
	return envelope{Janus: "error", Transaction: txn, Error: map[string]any{"code": code, "reason": reason}}
}

func main() {
	addr := flag.String("addr", ":8188", "listen address")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	g := newGateway()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/janus", func(c *gin.Context) { g.handleConn(c) })
	r.GET("/rooms", func(c *gin.Context) {
		g.mu.Lock()
		out := make(map[int64]int, len(g.rooms))
		for id, rm := range g.rooms {
			out[id] = len(rm.publishers)
		}
		g.mu.Unlock()
		c.JSON(http.StatusOK, out)
	})

	log.Info().Str("module", "sim").Str("addr", *addr).Msg("gateway simulator started")
	if err := r.Run(*addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
