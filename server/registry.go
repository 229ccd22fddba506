package server

import "sync"

// roomEntry tracks one live room's occupancy for the metrics snapshot.
type roomEntry struct {
	kind    string
	players int
}

// Registry is the server-wide room and player accounting table. Rooms call
// in from their loop goroutines, the health endpoint reads snapshots, so a
// single mutex guards everything.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*roomEntry
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*roomEntry)}
}

func (r *Registry) Register(roomID, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[roomID]; !ok {
		r.rooms[roomID] = &roomEntry{kind: kind}
	}
}

func (r *Registry) Unregister(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

func (r *Registry) AddPlayer(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.rooms[roomID]; ok {
		e.players++
	}
}

func (r *Registry) RemovePlayer(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.rooms[roomID]; ok && e.players > 0 {
		e.players--
	}
}

// Metrics is the health endpoint payload. Presence rooms are excluded from
// the room totals but their players are reported separately, so "players
// online" and "players in game" stay distinguishable.
type Metrics struct {
	TotalRooms      int `json:"totalRooms"`
	WaitingRooms    int `json:"waitingRooms"`
	ActiveRooms     int `json:"activeRooms"`
	TotalPlayers    int `json:"totalPlayers"`
	WaitingPlayers  int `json:"waitingPlayers"`
	PresencePlayers int `json:"presencePlayers"`
}

func (r *Registry) Snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	var m Metrics
	for _, e := range r.rooms {
		if e.kind == KindPresence {
			m.PresencePlayers += e.players
			continue
		}
		m.TotalRooms++
		m.TotalPlayers += e.players
		switch {
		case e.players == 1:
			m.WaitingRooms++
			m.WaitingPlayers++
		case e.players >= 2:
			m.ActiveRooms++
		}
	}
	return m
}
