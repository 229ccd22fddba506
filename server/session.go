package server

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const sendBuffer = 256

// Session is one client attachment: the websocket connection plus the
// identity it joined with. Identity fields are written once during join (on
// the room loop) and read afterwards.
type Session struct {
	ID      string
	Address string
	Name    string

	conn    *websocket.Conn
	send    chan ServerMessage
	gateway *Gateway
	handle  *roomHandle
	log     zerolog.Logger
}

// Send queues a message without blocking. A client that cannot keep up loses
// messages rather than stalling the room.
func (s *Session) Send(msg ServerMessage) {
	select {
	case s.send <- msg:
	default:
		s.log.Debug().Str("type", msg.Type).Msg("send buffer full, dropping message")
	}
}

// SendError is a convenience for the error event.
func (s *Session) SendError(text string) {
	s.Send(ServerMessage{Type: MsgTypeError, Data: map[string]string{"message": text}})
}

// Close tears down the connection; the read pump then unwinds the session.
func (s *Session) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// NewLocalSession builds a detached session whose outbound messages land in
// the returned channel instead of a socket. Room tests drive joins and
// inputs through it.
func NewLocalSession(id string) (*Session, <-chan ServerMessage) {
	s := &Session{ID: id, send: make(chan ServerMessage, sendBuffer), log: zerolog.Nop()}
	return s, s.send
}

// readPump handles incoming messages from the client
func (s *Session) readPump() {
	defer func() {
		s.gateway.unregisterSession(s)
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	s.conn.SetReadLimit(64 * 1024)

	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		s.gateway.handleMessage(s, msg)
	}
}

// writePump sends messages to the client
func (s *Session) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
