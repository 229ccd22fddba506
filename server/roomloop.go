package server

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const inboxBuffer = 512

// roomHandle runs one room as an actor: a single goroutine owns the room
// state and interleaves inbox commands with tick steps. Nothing else ever
// touches the room.
type roomHandle struct {
	room    Room
	inbox   chan func()
	quit    chan struct{}
	gateway *Gateway
	log     zerolog.Logger

	// stopping is only touched on the loop goroutine, via a posted closure.
	stopping bool
}

func newRoomHandle(room Room, g *Gateway) *roomHandle {
	return &roomHandle{
		room:    room,
		inbox:   make(chan func(), inboxBuffer),
		quit:    make(chan struct{}),
		gateway: g,
		log:     g.log.With().Str("room", room.ID()).Logger(),
	}
}

// post queues fn onto the room loop without waiting for it. Returns false
// when the loop has already quit and fn will never run.
func (h *roomHandle) post(fn func()) bool {
	select {
	case h.inbox <- fn:
		return true
	case <-h.quit:
		return false
	}
}

// stop asks the loop to dispose the room and waits for it to exit. The
// Dispose itself runs on the loop goroutine like every other room call.
func (h *roomHandle) stop() {
	h.post(func() { h.stopping = true })
	<-h.quit
}

// call runs fn on the room loop and waits for its result.
func (h *roomHandle) call(fn func() error) error {
	done := make(chan error, 1)
	select {
	case h.inbox <- func() { done <- fn() }:
	case <-h.quit:
		return fmt.Errorf("room %s is shutting down", h.room.ID())
	}
	select {
	case err := <-done:
		return err
	case <-h.quit:
		return fmt.Errorf("room %s is shutting down", h.room.ID())
	}
}

func (h *roomHandle) run() {
	ticker := time.NewTicker(h.room.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-h.quit:
			return
		case fn := <-h.inbox:
			h.safely("handler", fn)
		case now := <-ticker.C:
			h.safely("tick", func() { h.room.Tick(now) })
		}

		if h.stopping || h.room.Disposed() {
			h.gateway.removeRoom(h)
			h.safely("dispose", h.room.Dispose)
			close(h.quit)
			return
		}
	}
}

// safely is the room fault boundary: a panic in a tick or handler is logged
// and the room keeps running.
func (h *roomHandle) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("in", what).Msg("recovered in room loop")
		}
	}()
	fn()
}
