package server

import "encoding/json"

// Envelope message types handled by the gateway itself. Everything else is
// forwarded to the session's room.
const (
	MsgTypeJoin   = "join"
	MsgTypePing   = "ping"
	MsgTypePong   = "pong"
	MsgTypeJoined = "joined"
	MsgTypeDenied = "join_denied"
	MsgTypeState  = "state"
	MsgTypeError  = "error"
)

// ClientMessage represents a message from client to server
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ServerMessage represents a message from server to client
type ServerMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// JoinOptions is the payload of the "join" envelope.
type JoinOptions struct {
	Room           string  `json:"room"`
	Name           string  `json:"name"`
	Address        string  `json:"address"`
	TokenID        uint64  `json:"tokenId,omitempty"`
	ReconnectToken string  `json:"reconnectToken,omitempty"`
	Seed           *uint32 `json:"seed,omitempty"`

	// Set by the gateway after verifying ReconnectToken; never trusted from
	// the wire.
	Reconnect bool `json:"-"`
}

// PingData is the payload of the "ping" envelope.
type PingData struct {
	T0 int64 `json:"t0"`
}

// PongData echoes the client timestamp with the server clock.
type PongData struct {
	T0       int64 `json:"t0"`
	ServerTs int64 `json:"serverTs"`
}
