package server

import (
	"context"
	"time"
)

// Room kinds known to the registry.
const (
	KindCombat   = "combat"
	KindConquest = "conquest"
	KindPresence = "presence"
	KindChat     = "chat"
)

// Room is one live game room. All methods except PrepareJoin run on the
// room's own loop goroutine, so implementations need no internal locking;
// PrepareJoin runs on the joining connection's goroutine and is the only
// place blocking I/O (ticket checks, profile fetches) is allowed.
type Room interface {
	ID() string
	Kind() string
	TickInterval() time.Duration

	// PrepareJoin performs the blocking part of a join and returns an opaque
	// value handed to OnJoin. An error denies the join.
	PrepareJoin(ctx context.Context, opts JoinOptions) (interface{}, error)

	// OnJoin admits a session. An error denies the join (room full, locked).
	OnJoin(sess *Session, opts JoinOptions, prep interface{}) error

	OnMessage(sess *Session, msg ClientMessage)
	OnLeave(sess *Session)
	Tick(now time.Time)

	// Disposed reports that the room wants to be torn down; the loop then
	// calls Dispose exactly once and unregisters the room.
	Disposed() bool
	Dispose()
}

// RoomFactory builds a room for a name. Factories close over their service
// dependencies; the gateway picks the factory by the name's kind prefix
// ("pvp-...", "fun-...", "galaxy-...").
type RoomFactory func(id string, name string) (Room, error)
