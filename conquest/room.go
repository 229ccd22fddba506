package conquest

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ronkeverse/ufo-server/galaxy"
	"github.com/ronkeverse/ufo-server/game"
	"github.com/ronkeverse/ufo-server/profile"
	"github.com/ronkeverse/ufo-server/server"
)

const (
	TickInterval = 100 * time.Millisecond // 10 Hz

	autosaveInterval = 15 * time.Second
	saveDebounce     = 2 * time.Second
	reconnectGrace   = 600 * time.Second
	fullSweepTicks   = 10

	revealRadius   = 1500.0
	homeStartUnits = 100.0
)

// playerColors are the slot color pairs, assigned round-robin.
var playerColors = [][2]string{
	{"#4fc3f7", "#01579b"},
	{"#ff8a65", "#bf360c"},
	{"#aed581", "#33691e"},
	{"#ba68c8", "#4a148c"},
	{"#ffd54f", "#ff6f00"},
	{"#f06292", "#880e4f"},
	{"#4db6ac", "#004d40"},
	{"#a1887f", "#3e2723"},
}

// Deps are the services a conquest room draws on.
type Deps struct {
	Registry   *server.Registry
	Profiles   *profile.Service
	SaveDir    string
	Difficulty string
	AIPlayers  int
	Log        zerolog.Logger
}

// Room is a persistent conquest galaxy. One room per galaxy id; state
// survives restarts through the save file.
type Room struct {
	id   string
	name string
	seed uint32

	deps Deps
	log  zerolog.Logger

	sim      *Sim
	rng      *game.Rand
	sessions map[string]*server.Session // sid -> session
	bySID    map[string]int             // sid -> player id

	tracker      *server.Tracker
	dirty        map[int]bool
	tickCount    int
	disposed     bool
	lastMutation time.Time
	lastSaveAt   time.Time
	saveDirty    bool
	emptySince   time.Time
}

// NewFactory returns the conquest RoomFactory for "galaxy-*" rooms.
func NewFactory(deps Deps) server.RoomFactory {
	return func(id, name string) (server.Room, error) {
		return newRoom(id, name, deps)
	}
}

// SeedForGalaxy derives the stable generation seed from a galaxy id via
// FNV-1a, so the same id always yields the same map.
func SeedForGalaxy(galaxyID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(galaxyID))
	return h.Sum32()
}

func newRoom(id, name string, deps Deps) (*Room, error) {
	if deps.Difficulty == "" {
		deps.Difficulty = "normal"
	}
	r := &Room{
		id:       id,
		name:     name,
		seed:     SeedForGalaxy(id),
		deps:     deps,
		log:      deps.Log.With().Str("room", id).Logger(),
		sessions: make(map[string]*server.Session),
		bySID:    make(map[string]int),
		tracker:  server.NewTracker(),
		dirty:    make(map[int]bool),
	}
	r.rng = game.NewRand(r.seed)
	planets := galaxy.Generate(r.seed)
	r.sim = NewSim(planets, deps.Difficulty, r.rng, r.events())

	st, err := LoadFile(deps.SaveDir, id)
	if err != nil {
		r.log.Warn().Err(err).Msg("save load failed, starting fresh")
	}
	if st != nil {
		if st.Seed != r.seed {
			r.log.Warn().Uint32("saved", st.Seed).Uint32("derived", r.seed).Msg("save seed mismatch, starting fresh")
		} else {
			st.Apply(r.sim)
			r.log.Info().Int("players", len(r.sim.Players)).Float64("gameTime", st.GameTime).Msg("galaxy restored")
		}
	}

	deps.Registry.Register(id, server.KindConquest)
	r.emptySince = time.Now()
	return r, nil
}

func (r *Room) ID() string                  { return r.id }
func (r *Room) Kind() string                { return server.KindConquest }
func (r *Room) TickInterval() time.Duration { return TickInterval }
func (r *Room) Disposed() bool              { return r.disposed }

func (r *Room) events() Events {
	return Events{
		PlanetChanged: func(id int) { r.dirty[id] = true },
		AttackLaunched: func(a *Attack) {
			r.broadcast("attack_launched", a)
		},
		AttackDestroyed: func(id int, reason string) {
			r.broadcast("attack_destroyed", map[string]interface{}{"id": id, "reason": reason})
		},
		BattleStarted: func(b *Battle) {
			r.broadcast("battle_started", b)
		},
		BattleResolved: func(b *Battle, captured bool) {
			r.broadcast("battle_resolved", map[string]interface{}{
				"planetId": b.PlanetID, "attackerId": b.AttackerID, "captured": captured,
			})
			r.markMutated()
		},
		TurretFired: func(m *Missile) {
			r.broadcast("turret_fired", m)
		},
		PlayerEliminated: func(p *Player) {
			r.broadcast("player_left", map[string]interface{}{"playerId": p.ID, "reason": "eliminated"})
			r.markMutated()
		},
	}
}

// markMutated arms the debounced save.
func (r *Room) markMutated() {
	r.saveDirty = true
	r.lastMutation = time.Now()
}

type joinPrep struct {
	profile profile.Profile
}

func (r *Room) PrepareJoin(ctx context.Context, opts server.JoinOptions) (interface{}, error) {
	if opts.Address == "" {
		return nil, errors.New("address_required")
	}
	pctx, cancel := context.WithTimeout(ctx, profile.FetchTimeout)
	prof := r.deps.Profiles.Fetch(pctx, opts.Address)
	cancel()
	return &joinPrep{profile: prof}, nil
}

func (r *Room) OnJoin(sess *server.Session, opts server.JoinOptions, prepv interface{}) error {
	prep := prepv.(*joinPrep)
	sess.Address = opts.Address
	sess.Name = opts.Name

	// An explicit seed from the very first joiner regenerates an untouched
	// galaxy; a restored or populated one keeps its map.
	if opts.Seed != nil && len(r.sim.Players) == 0 && r.sim.GameTime == 0 && *opts.Seed != r.seed {
		r.reseed(*opts.Seed)
	}

	r.sessions[sess.ID] = sess
	r.deps.Registry.AddPlayer(r.id)
	r.emptySince = time.Time{}

	if pl := r.sim.PlayerByAddress(opts.Address); pl != nil && pl.Alive {
		// A live slot can only be taken over with the gateway's reconnect
		// token; offline slots re-bind by address alone.
		if pl.Online() {
			if !opts.Reconnect {
				delete(r.sessions, sess.ID)
				r.deps.Registry.RemovePlayer(r.id)
				return errors.New("address_in_use")
			}
			if old := r.sessions[pl.SessionID]; old != nil {
				delete(r.bySID, old.ID)
				delete(r.sessions, old.ID)
				r.deps.Registry.RemovePlayer(r.id)
				old.Close()
			}
		}
		r.rebind(sess, pl)
		return nil
	}

	pl, err := r.spawnPlayer(opts, prep)
	if err != nil {
		delete(r.sessions, sess.ID)
		r.deps.Registry.RemovePlayer(r.id)
		return err
	}
	pl.SessionID = sess.ID
	r.bySID[sess.ID] = pl.ID

	r.broadcastExcept(sess.ID, "player_joined", r.publicPlayer(pl))
	r.sendWorld(sess, pl)
	r.markMutated()
	r.log.Info().Str("sid", sess.ID).Int("player", pl.ID).Int("home", pl.HomeID).Msg("player joined galaxy")
	return nil
}

func (r *Room) reseed(seed uint32) {
	r.seed = seed
	r.rng = game.NewRand(seed)
	r.sim = NewSim(galaxy.Generate(seed), r.deps.Difficulty, r.rng, r.events())
	r.log.Info().Uint32("seed", seed).Msg("galaxy regenerated from explicit seed")
}

// rebind reattaches a returning address to its existing slot: no new home,
// reveal and in-flight attacks replayed to the fresh client.
func (r *Room) rebind(sess *server.Session, pl *Player) {
	pl.SessionID = sess.ID
	r.bySID[sess.ID] = pl.ID

	r.broadcastExcept(sess.ID, "player_online", map[string]interface{}{"playerId": pl.ID})
	r.broadcast("reconnected", map[string]interface{}{"playerId": pl.ID})
	r.sendWorld(sess, pl)
	r.log.Info().Str("sid", sess.ID).Int("player", pl.ID).Msg("player reconnected")
}

// sendWorld ships the full galaxy view a fresh client needs: planet
// summaries, players, the home reveal zone and the in-flight attacks.
func (r *Room) sendWorld(sess *server.Session, pl *Player) {
	planets := make([]map[string]interface{}, 0, len(r.sim.Planets))
	for _, p := range r.sim.Planets {
		planets = append(planets, r.planetSummary(p))
	}
	players := make([]map[string]interface{}, 0, len(r.sim.Players))
	for _, q := range r.sim.Players {
		players = append(players, r.publicPlayer(q))
	}
	sess.Send(server.ServerMessage{Type: server.MsgTypeState, Data: map[string]interface{}{
		"galaxyId": r.id, "seed": r.seed, "difficulty": r.sim.Difficulty,
		"gameTime": r.sim.GameTime, "planets": planets, "players": players,
	}})

	if home := r.sim.PlanetByID(pl.HomeID); home != nil {
		sess.Send(server.ServerMessage{Type: "reveal_zone", Data: map[string]interface{}{
			"x": home.X, "y": home.Y, "radius": revealRadius, "permanent": true,
		}})
	}
	attacks := make([]*Attack, 0, len(r.sim.Attacks))
	for _, a := range r.sim.Attacks {
		attacks = append(attacks, a)
	}
	sess.Send(server.ServerMessage{Type: "active_attacks", Data: map[string]interface{}{"attacks": attacks}})
}

// spawnPlayer creates a fresh slot: pick a home, seed the AI roster on the
// first human join, claim the planet.
func (r *Room) spawnPlayer(opts server.JoinOptions, prep *joinPrep) (*Player, error) {
	if len(r.sim.Players) == 0 {
		defer r.spawnAIPlayers()
	}

	homes := r.currentHomes()
	home := galaxy.PickStartingPlanet(r.sim.Planets, homes, r.rng)
	if home == nil {
		return nil, errors.New("galaxy_full")
	}

	name := opts.Name
	if name == "" {
		name = prep.profile.Name
	}
	pl := &Player{
		ID:      r.nextPlayerID(),
		Address: opts.Address,
		Name:    name,
		HomeID:  home.ID,
		Alive:   true,
	}
	pl.Color, pl.ColorDark = colorFor(pl.ID)
	r.sim.Players = append(r.sim.Players, pl)
	r.claimHome(pl, home)
	return pl, nil
}

func (r *Room) spawnAIPlayers() {
	for i := 0; i < r.deps.AIPlayers; i++ {
		home := galaxy.PickStartingPlanet(r.sim.Planets, r.currentHomes(), r.rng)
		if home == nil {
			return
		}
		pl := &Player{
			ID:     r.nextPlayerID(),
			Name:   "AI " + strconv.Itoa(i+1),
			HomeID: home.ID,
			Alive:  true,
			IsAI:   true,
		}
		pl.Color, pl.ColorDark = colorFor(pl.ID)
		r.sim.Players = append(r.sim.Players, pl)
		r.claimHome(pl, home)
	}
}

func (r *Room) claimHome(pl *Player, home *galaxy.Planet) {
	home.OwnerID = pl.ID
	home.Units = homeStartUnits
	home.Stability = 100
	home.Connected = true
	home.Generating = true
	r.dirty[home.ID] = true
}

func (r *Room) currentHomes() []*galaxy.Planet {
	var homes []*galaxy.Planet
	for _, pl := range r.sim.Players {
		if h := r.sim.PlanetByID(pl.HomeID); h != nil {
			homes = append(homes, h)
		}
	}
	return homes
}

func (r *Room) nextPlayerID() int {
	next := 0
	for _, pl := range r.sim.Players {
		if pl.ID >= next {
			next = pl.ID + 1
		}
	}
	return next
}

func colorFor(playerID int) (string, string) {
	c := playerColors[playerID%len(playerColors)]
	return c[0], c[1]
}

// OnLeave marks the slot offline; the player persists for reconnection.
func (r *Room) OnLeave(sess *server.Session) {
	pid, ok := r.bySID[sess.ID]
	if !ok {
		delete(r.sessions, sess.ID)
		return
	}
	delete(r.bySID, sess.ID)
	delete(r.sessions, sess.ID)
	r.deps.Registry.RemovePlayer(r.id)

	if pl := r.sim.PlayerByID(pid); pl != nil {
		pl.SessionID = ""
		r.broadcast("player_offline", map[string]interface{}{"playerId": pl.ID})
	}
	if len(r.sessions) == 0 {
		r.emptySince = time.Now()
	}
	r.markMutated()
}

func (r *Room) Tick(now time.Time) {
	r.tickCount++
	r.sim.Tick(TickInterval.Seconds())

	// Flush dirty planets every tick, the whole board on the slow sweep.
	if len(r.dirty) > 0 {
		updates := make([]map[string]interface{}, 0, len(r.dirty))
		for id := range r.dirty {
			if p := r.sim.PlanetByID(id); p != nil {
				updates = append(updates, r.planetSummary(p))
			}
			delete(r.dirty, id)
		}
		r.broadcast("planets_update", map[string]interface{}{"planets": updates})
	}
	if r.tickCount%fullSweepTicks == 0 {
		if delta := r.tracker.Diff(r.flatten()); delta != nil {
			r.broadcast("state_delta", delta)
		}
	}

	r.maybeSave(now)

	// An empty galaxy holds on through the reconnect grace, then unloads.
	if len(r.sessions) == 0 && !r.emptySince.IsZero() && now.Sub(r.emptySince) > reconnectGrace {
		r.disposed = true
	}
}

func (r *Room) maybeSave(now time.Time) {
	due := now.Sub(r.lastSaveAt) >= autosaveInterval
	if r.saveDirty && now.Sub(r.lastSaveAt) >= saveDebounce {
		due = true
	}
	if !due {
		return
	}
	r.lastSaveAt = now
	r.saveDirty = false
	if err := SaveFile(r.deps.SaveDir, r.id, Snapshot(r.sim, r.id, r.seed)); err != nil {
		r.log.Error().Err(err).Msg("galaxy save failed")
	}
}

func (r *Room) Dispose() {
	if err := SaveFile(r.deps.SaveDir, r.id, Snapshot(r.sim, r.id, r.seed)); err != nil {
		r.log.Error().Err(err).Msg("final galaxy save failed")
	}
	for _, sess := range r.sessions {
		r.deps.Registry.RemovePlayer(r.id)
		sess.Close()
	}
	r.deps.Registry.Unregister(r.id)
	r.log.Info().Msg("galaxy unloaded")
}

func (r *Room) broadcast(msgType string, data interface{}) {
	for _, sess := range r.sessions {
		sess.Send(server.ServerMessage{Type: msgType, Data: data})
	}
}

func (r *Room) broadcastExcept(sid, msgType string, data interface{}) {
	for id, sess := range r.sessions {
		if id != sid {
			sess.Send(server.ServerMessage{Type: msgType, Data: data})
		}
	}
}

func (r *Room) publicPlayer(pl *Player) map[string]interface{} {
	return map[string]interface{}{
		"id": pl.ID, "address": pl.Address, "name": pl.Name,
		"color": pl.Color, "colorDark": pl.ColorDark,
		"homeId": pl.HomeID, "alive": pl.Alive, "isAI": pl.IsAI,
		"online": pl.Online(),
	}
}

func (r *Room) planetSummary(p *galaxy.Planet) map[string]interface{} {
	return map[string]interface{}{
		"id": p.ID, "ownerId": p.OwnerID, "units": p.Units, "maxUnits": p.MaxUnits,
		"stability": p.Stability, "connected": p.Connected, "generating": p.Generating,
		"hasShield": p.HasShield, "buildings": p.Buildings, "deposits": p.Deposits,
	}
}

// flatten feeds the slow full-sweep delta: the fields that drift without
// battles (growth, stability, mining) plus player liveness.
func (r *Room) flatten() map[string]interface{} {
	out := make(map[string]interface{})
	for _, p := range r.sim.Planets {
		if p.OwnerID == galaxy.NeutralOwner && p.Units == 0 {
			continue
		}
		key := "planets." + strconv.Itoa(p.ID)
		out[key+".owner"] = p.OwnerID
		out[key+".units"] = float64(int(p.Units))
		out[key+".stability"] = float64(int(p.Stability))
		out[key+".connected"] = p.Connected
	}
	for _, pl := range r.sim.Players {
		key := "players." + strconv.Itoa(pl.ID)
		out[key+".alive"] = pl.Alive
		out[key+".online"] = pl.Online()
	}
	return out
}

type launchMsg struct {
	FromID  int     `json:"fromId"`
	ToID    int     `json:"toId"`
	Percent float64 `json:"percent"`
	Blitz   bool    `json:"blitz"`
}

type buildMsg struct {
	PlanetID     int    `json:"planetId"`
	Slot         int    `json:"slot"`
	BuildingType string `json:"buildingType"`
}

type toggleGenMsg struct {
	PlanetID int `json:"planetId"`
}

type abilityMsg struct {
	AbilityID      string `json:"abilityId"`
	TargetPlanetID int    `json:"targetPlanetId"`
}

func (r *Room) OnMessage(sess *server.Session, msg server.ClientMessage) {
	pid, ok := r.bySID[sess.ID]
	if !ok {
		return
	}
	pl := r.sim.PlayerByID(pid)
	if pl == nil || !pl.Alive {
		return
	}

	switch msg.Type {
	case "launch_attack":
		var m launchMsg
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return
		}
		if _, err := r.sim.LaunchAttack(pid, m.FromID, m.ToID, m.Percent, m.Blitz); err != nil {
			sess.SendError(err.Error())
		}
	case "build":
		var m buildMsg
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return
		}
		err := r.sim.Build(pid, m.PlanetID, m.Slot, m.BuildingType)
		result := map[string]interface{}{"planetId": m.PlanetID, "slot": m.Slot, "success": err == nil}
		if err != nil {
			result["reason"] = err.Error()
		} else {
			r.markMutated()
		}
		sess.Send(server.ServerMessage{Type: "build_result", Data: result})
	case "toggle_gen":
		var m toggleGenMsg
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return
		}
		if err := r.sim.ToggleGenerator(pid, m.PlanetID); err != nil {
			sess.SendError(err.Error())
		}
	case "ability":
		var m abilityMsg
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return
		}
		r.handleAbility(sess, pl, m)
	case "player_ready":
		// Conquest has no lobby gate; acknowledged for protocol symmetry.
	}
}

// handleAbility runs targeted abilities. Only the scan is server-resolved;
// everything else fails closed.
func (r *Room) handleAbility(sess *server.Session, pl *Player, m abilityMsg) {
	switch m.AbilityID {
	case "scan":
		target := r.sim.PlanetByID(m.TargetPlanetID)
		if target == nil {
			sess.Send(server.ServerMessage{Type: "ability_result", Data: map[string]interface{}{
				"abilityId": m.AbilityID, "success": false, "reason": "no such planet",
			}})
			return
		}
		r.broadcast("ability_used", map[string]interface{}{
			"abilityId": m.AbilityID, "playerId": pl.ID, "targetPlanetId": target.ID,
		})
		sess.Send(server.ServerMessage{Type: "reveal_zone", Data: map[string]interface{}{
			"x": target.X, "y": target.Y, "radius": revealRadius / 2, "permanent": false,
		}})
		sess.Send(server.ServerMessage{Type: "ability_result", Data: map[string]interface{}{
			"abilityId": m.AbilityID, "success": true,
		}})
	default:
		sess.Send(server.ServerMessage{Type: "ability_result", Data: map[string]interface{}{
			"abilityId": m.AbilityID, "success": false, "reason": "unknown ability",
		}})
	}
}
