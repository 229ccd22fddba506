package replay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version of the replay JSON layout.
const Version = 1

// Memory bounds. A spammed or very long match must not balloon the record.
const (
	MaxInputs    = 20000
	MaxSnapshots = 2000

	defaultSnapshotInterval = 2 * time.Second
)

// PlayerInfo is the per-session block in the replay header.
type PlayerInfo struct {
	Address        string `json:"address"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	TicketTokenID  uint64 `json:"ticketTokenId,omitempty"`
}

// Input is one recorded inbound packet, stored verbatim.
type Input struct {
	T   int64           `json:"t"`
	Sid string          `json:"sid"`
	Msg json.RawMessage `json:"msg"`
}

// SnapshotPlayer is the periodic positional/HP summary for one player.
type SnapshotPlayer struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	HP    int     `json:"hp"`
	Armor int     `json:"armor"`
}

// Snapshot is one periodic state summary.
type Snapshot struct {
	T       int64                     `json:"t"`
	Players map[string]SnapshotPlayer `json:"players"`
}

// Record is the full replay document.
type Record struct {
	Version   int    `json:"version"`
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	RoomName  string `json:"roomName"`
	CreatedAt int64  `json:"createdAt"`

	MatchStarted    int64  `json:"matchStarted,omitempty"`
	MatchPlannedEnd int64  `json:"matchPlannedEnd,omitempty"`
	MatchEnded      int64  `json:"matchEnded,omitempty"`
	EndReason       string `json:"endReason,omitempty"`
	WinnerSid       string `json:"winnerSid,omitempty"`

	Players    map[string]PlayerInfo  `json:"players"`
	Joins      []Input                `json:"joins"`
	Inputs     []Input                `json:"inputs"`
	Snapshots  []Snapshot             `json:"snapshots"`
	Settlement map[string]interface{} `json:"settlement,omitempty"`
}

// Recorder accumulates one room's replay and flushes it to the store exactly
// once on dispose. Safe for use from the room loop plus the async settlement
// callback.
type Recorder struct {
	mu        sync.Mutex
	record    Record
	store     *Store
	log       zerolog.Logger
	lastSnap  time.Time
	snapEvery time.Duration
	finalized bool
	dropped   int
}

// NewRecorder starts a recorder for a room.
func NewRecorder(store *Store, roomID, roomName string, log zerolog.Logger) *Recorder {
	createdAt := time.Now().UnixMilli()
	return &Recorder{
		record: Record{
			Version:   Version,
			ID:        fmt.Sprintf("%s_%d", SanitizeID(roomID), createdAt),
			RoomID:    roomID,
			RoomName:  roomName,
			CreatedAt: createdAt,
			Players:   make(map[string]PlayerInfo),
		},
		store:     store,
		log:       log.With().Str("component", "recorder").Str("room", roomID).Logger(),
		snapEvery: defaultSnapshotInterval,
	}
}

// ID returns the replay id (roomid_createdAt).
func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.ID
}

// RecordJoin registers a player and appends a join marker.
func (r *Recorder) RecordJoin(sid string, info PlayerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.Players[sid] = info
	raw, _ := json.Marshal(map[string]string{"event": "join", "address": info.Address})
	r.record.Joins = append(r.record.Joins, Input{T: time.Now().UnixMilli(), Sid: sid, Msg: raw})
}

// RecordLeave appends a leave marker.
func (r *Recorder) RecordLeave(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, _ := json.Marshal(map[string]string{"event": "leave"})
	r.record.Joins = append(r.record.Joins, Input{T: time.Now().UnixMilli(), Sid: sid, Msg: raw})
}

// RecordInput appends an inbound packet verbatim. Past the hard cap packets
// are dropped silently; the cap is load-bearing for memory.
func (r *Recorder) RecordInput(sid string, msg json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.record.Inputs) >= MaxInputs {
		r.dropped++
		return
	}
	stored := make(json.RawMessage, len(msg))
	copy(stored, msg)
	r.record.Inputs = append(r.record.Inputs, Input{T: time.Now().UnixMilli(), Sid: sid, Msg: stored})
}

// MaybeSnapshot appends a state summary when forced or when the snapshot
// interval has elapsed, up to the snapshot cap.
func (r *Recorder) MaybeSnapshot(players map[string]SnapshotPlayer, force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if !force && now.Sub(r.lastSnap) < r.snapEvery {
		return
	}
	if len(r.record.Snapshots) >= MaxSnapshots {
		return
	}
	copied := make(map[string]SnapshotPlayer, len(players))
	for sid, p := range players {
		copied[sid] = p
	}
	r.lastSnap = now
	r.record.Snapshots = append(r.record.Snapshots, Snapshot{T: now.UnixMilli(), Players: copied})
}

// StartMatch stamps the match phase header.
func (r *Recorder) StartMatch(startedAt, plannedEnd time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.MatchStarted = startedAt.UnixMilli()
	r.record.MatchPlannedEnd = plannedEnd.UnixMilli()
}

// EndMatch stamps the terminal state.
func (r *Recorder) EndMatch(reason, winnerSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.MatchEnded = time.Now().UnixMilli()
	r.record.EndReason = reason
	r.record.WinnerSid = winnerSid
}

// SetSettlement merges fields into the settlement block. Merging (not
// replacing) lets the async tx-hash update land without clobbering the
// loser/winner fields captured at match end.
func (r *Recorder) SetSettlement(fields map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record.Settlement == nil {
		r.record.Settlement = make(map[string]interface{})
	}
	for k, v := range fields {
		r.record.Settlement[k] = v
	}
}

// Finalize writes the replay to the store once. Storage errors are recorded
// inside the settlement block, never returned.
func (r *Recorder) Finalize() {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return
	}
	r.finalized = true
	if r.dropped > 0 {
		r.log.Warn().Int("dropped", r.dropped).Msg("input cap reached during match")
	}
	data, err := json.Marshal(r.record)
	id := r.record.ID
	r.mu.Unlock()

	if err == nil && r.store != nil {
		err = r.store.Write(id, data)
	}
	if err != nil {
		r.log.Error().Err(err).Msg("replay finalize failed")
		r.SetSettlement(map[string]interface{}{"error": err.Error()})
	}
}
