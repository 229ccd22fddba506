package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"lukechampine.com/blake3"
)

// isValidOrigin checks if the origin is allowed to connect
func isValidOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No origin header - could be a non-browser client
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == originURL.Host {
		return true
	}
	// Allow localhost connections for development
	if strings.HasPrefix(originURL.Host, "localhost:") ||
		strings.HasPrefix(originURL.Host, "127.0.0.1:") ||
		originURL.Host == "localhost" ||
		originURL.Host == "127.0.0.1" {
		return true
	}
	return false
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       isValidOrigin,
	EnableCompression: true,
}

const joinPrepareTimeout = 10 * time.Second

// Gateway accepts client sessions and routes them to rooms. Rooms are
// created on demand by the factory matching the room name's kind prefix and
// torn down when their disposal rules fire.
type Gateway struct {
	mu        sync.RWMutex
	rooms     map[string]*roomHandle
	sessions  map[string]*Session
	factories map[string]RoomFactory
	registry  *Registry
	secret    [32]byte
	log       zerolog.Logger
}

// NewGateway builds a gateway. factories maps a room-name prefix (the part
// before the first '-') to the factory that builds rooms of that kind.
func NewGateway(registry *Registry, factories map[string]RoomFactory, log zerolog.Logger) *Gateway {
	g := &Gateway{
		rooms:     make(map[string]*roomHandle),
		sessions:  make(map[string]*Session),
		factories: factories,
		registry:  registry,
		log:       log.With().Str("component", "gateway").Logger(),
	}
	rand.Read(g.secret[:])
	return g
}

// HandleWebSocket handles WebSocket connections
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	sess := &Session{
		ID:      uuid.NewString(),
		conn:    conn,
		send:    make(chan ServerMessage, sendBuffer),
		gateway: g,
	}
	sess.log = g.log.With().Str("sid", sess.ID).Logger()

	g.mu.Lock()
	g.sessions[sess.ID] = sess
	g.mu.Unlock()
	g.log.Info().Str("sid", sess.ID).Msg("session connected")

	go sess.writePump()
	go sess.readPump()
}

// handleMessage dispatches one inbound envelope. Join and ping are gateway
// concerns; everything else goes to the session's room in FIFO order.
func (g *Gateway) handleMessage(sess *Session, msg ClientMessage) {
	switch msg.Type {
	case MsgTypeJoin:
		g.handleJoin(sess, msg.Data)
	case MsgTypePing:
		var ping PingData
		if err := json.Unmarshal(msg.Data, &ping); err != nil {
			return
		}
		sess.Send(ServerMessage{Type: MsgTypePong, Data: PongData{T0: ping.T0, ServerTs: time.Now().UnixMilli()}})
	default:
		handle := sess.handle
		if handle == nil {
			sess.SendError("join a room first")
			return
		}
		handle.post(func() { handle.room.OnMessage(sess, msg) })
	}
}

func (g *Gateway) handleJoin(sess *Session, data json.RawMessage) {
	var opts JoinOptions
	if err := json.Unmarshal(data, &opts); err != nil {
		sess.Send(ServerMessage{Type: MsgTypeDenied, Data: map[string]string{"reason": "bad_join"}})
		return
	}
	if sess.handle != nil {
		sess.SendError("already in a room")
		return
	}
	opts.Room = sanitizeRoomName(opts.Room)
	if opts.Room == "" {
		sess.Send(ServerMessage{Type: MsgTypeDenied, Data: map[string]string{"reason": "bad_room"}})
		return
	}
	if opts.ReconnectToken != "" {
		opts.Reconnect = opts.ReconnectToken == g.ReconnectToken(opts.Room, opts.Address)
	}

	handle, err := g.roomFor(opts.Room)
	if err != nil {
		g.log.Warn().Err(err).Str("room", opts.Room).Msg("room create failed")
		sess.Send(ServerMessage{Type: MsgTypeDenied, Data: map[string]string{"reason": "room_unavailable"}})
		return
	}

	// Blocking part of the join (ticket checks, profile fetch) runs here on
	// the connection goroutine so room ticks never wait on RPC.
	ctx, cancel := context.WithTimeout(context.Background(), joinPrepareTimeout)
	prep, err := handle.room.PrepareJoin(ctx, opts)
	cancel()
	if err != nil {
		sess.Send(ServerMessage{Type: MsgTypeDenied, Data: map[string]string{"reason": err.Error()}})
		return
	}

	if err := handle.call(func() error { return handle.room.OnJoin(sess, opts, prep) }); err != nil {
		sess.Send(ServerMessage{Type: MsgTypeDenied, Data: map[string]string{"reason": err.Error()}})
		return
	}

	sess.handle = handle
	sess.Send(ServerMessage{Type: MsgTypeJoined, Data: map[string]interface{}{
		"sid":            sess.ID,
		"room":           opts.Room,
		"reconnectToken": g.ReconnectToken(opts.Room, opts.Address),
	}})
}

// roomFor returns the live room for a name, creating it if needed.
func (g *Gateway) roomFor(name string) (*roomHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.rooms[name]; ok {
		return h, nil
	}

	kind := name
	if i := strings.IndexByte(name, '-'); i > 0 {
		kind = name[:i]
	}
	factory, ok := g.factories[kind]
	if !ok {
		return nil, errUnknownKind(kind)
	}
	room, err := factory(name, name)
	if err != nil {
		return nil, err
	}
	h := newRoomHandle(room, g)
	g.rooms[name] = h
	go h.run()
	g.log.Info().Str("room", name).Str("kind", room.Kind()).Msg("room created")
	return h, nil
}

func (g *Gateway) removeRoom(h *roomHandle) {
	g.mu.Lock()
	delete(g.rooms, h.room.ID())
	g.mu.Unlock()
	g.log.Info().Str("room", h.room.ID()).Msg("room disposed")
}

func (g *Gateway) unregisterSession(sess *Session) {
	g.mu.Lock()
	if _, ok := g.sessions[sess.ID]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.sessions, sess.ID)
	g.mu.Unlock()

	// The send channel closes on the room loop, after OnLeave has finished
	// its farewell broadcasts; closing it here would panic those sends.
	posted := false
	if handle := sess.handle; handle != nil {
		posted = handle.post(func() {
			handle.room.OnLeave(sess)
			close(sess.send)
		})
	}
	if !posted {
		close(sess.send)
	}
	g.log.Info().Str("sid", sess.ID).Msg("session disconnected")
}

// ReconnectToken derives the token a client must present to re-bind a player
// slot after a disconnect. Stateless: the same room+address always yields the
// same token for this process lifetime.
func (g *Gateway) ReconnectToken(roomID, address string) string {
	h := blake3.New(32, g.secret[:])
	h.Write([]byte(roomID))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(address)))
	return hex.EncodeToString(h.Sum(nil))
}

// Shutdown disposes all rooms so pending replays flush.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	handles := make([]*roomHandle, 0, len(g.rooms))
	for _, h := range g.rooms {
		handles = append(handles, h)
	}
	g.mu.RUnlock()
	for _, h := range handles {
		h.stop()
	}
}

func sanitizeRoomName(name string) string {
	if len(name) > 64 {
		name = name[:64]
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return -1
	}, name)
}

type errUnknownKind string

func (e errUnknownKind) Error() string { return "unknown room kind: " + string(e) }
