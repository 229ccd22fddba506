package combat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ronkeverse/ufo-server/profile"
	"github.com/ronkeverse/ufo-server/replay"
	"github.com/ronkeverse/ufo-server/server"
	"github.com/ronkeverse/ufo-server/ticket"
)

const (
	TickInterval = 33 * time.Millisecond // 30 Hz

	lobbyWait     = 90 * time.Second
	readyWait     = 35 * time.Second
	matchDuration = 90 * time.Second
	endGrace      = 5 * time.Second

	maxPlayers = 2
)

type phase int

const (
	phaseLobby phase = iota
	phasePlaying
	phaseEnded
	phaseDisposed
)

// Deps are the services a combat room draws on. Rooms never construct
// services themselves; the factory closes over one shared set.
type Deps struct {
	Registry *server.Registry
	Tickets  *ticket.Service
	Bonuses  *ticket.BonusService
	Profiles *profile.Service
	Replays  *replay.Store
	Log      zerolog.Logger
}

// Room is a 1v1 combat room. All fields are owned by the room loop.
type Room struct {
	id   string
	name string
	fun  bool // "fun-" rooms skip ticket gating and settlement

	deps Deps
	log  zerolog.Logger

	players  map[string]*Player
	sessions map[string]*server.Session
	limits   map[string]*limiters

	projectiles []*Projectile
	nextProjID  int

	tracker  *server.Tracker
	recorder *replay.Recorder

	phase    phase
	locked   bool
	disposed bool

	lobbyDeadline time.Time
	readyDeadline time.Time
	matchStart    time.Time
	matchDeadline time.Time
	disposeAt     time.Time

	endReason string
	winnerSID string

	roll     rollFn
	lastTick time.Time
}

// NewFactory returns the combat RoomFactory. Room names decide behavior:
// "pvp-*" rooms settle tickets on match end, "fun-*" rooms never touch the
// chain.
func NewFactory(deps Deps) server.RoomFactory {
	return func(id, name string) (server.Room, error) {
		return newRoom(id, name, deps), nil
	}
}

func newRoom(id, name string, deps Deps) *Room {
	r := &Room{
		id:       id,
		name:     name,
		fun:      strings.HasPrefix(name, "fun-"),
		deps:     deps,
		log:      deps.Log.With().Str("room", id).Logger(),
		players:  make(map[string]*Player),
		sessions: make(map[string]*server.Session),
		limits:   make(map[string]*limiters),
		tracker:  server.NewTracker(),
		recorder: replay.NewRecorder(deps.Replays, id, name, deps.Log),
		roll:     cryptoRoll,
	}
	deps.Registry.Register(id, server.KindCombat)
	return r
}

func (r *Room) ID() string                  { return r.id }
func (r *Room) Kind() string                { return server.KindCombat }
func (r *Room) TickInterval() time.Duration { return TickInterval }
func (r *Room) Disposed() bool              { return r.disposed }

// joinPrep carries the results of the blocking join pipeline into OnJoin.
type joinPrep struct {
	ticket  ticket.JoinResult
	stats   *ticket.Stats
	profile profile.Profile
	bonuses ticket.Bonuses
}

// PrepareJoin runs the blocking half of the join: ticket gate, on-chain
// stats, profile fetch, NFT bonus snapshot. Runs off the room loop.
func (r *Room) PrepareJoin(ctx context.Context, opts server.JoinOptions) (interface{}, error) {
	if opts.Address == "" {
		return nil, errors.New("address_required")
	}

	prep := &joinPrep{}
	if !r.fun {
		prep.ticket = r.deps.Tickets.CheckJoin(ctx, opts.Address, opts.TokenID)
		if !prep.ticket.OK {
			return nil, errors.New(prep.ticket.Reason)
		}
		if r.deps.Tickets.UseOnchainStats() && prep.ticket.TokenID != 0 {
			if st, err := r.deps.Tickets.StatsOf(ctx, prep.ticket.TokenID); err == nil {
				prep.stats = &st
			}
		}
	}
	if prep.stats == nil {
		pctx, cancel := context.WithTimeout(ctx, profile.FetchTimeout)
		prep.profile = r.deps.Profiles.Fetch(pctx, opts.Address)
		cancel()
	}
	prep.bonuses = r.deps.Bonuses.BonusesOf(ctx, opts.Address)
	return prep, nil
}

// OnJoin admits the prepared session on the room loop.
func (r *Room) OnJoin(sess *server.Session, opts server.JoinOptions, prepv interface{}) error {
	if r.phase != phaseLobby || r.locked {
		return errors.New("room_locked")
	}
	if len(r.players) >= maxPlayers {
		return errors.New("room_full")
	}
	prep := prepv.(*joinPrep)

	sess.Address = opts.Address
	sess.Name = opts.Name

	p := newPlayer(sess.ID, opts.Address, opts.Name)
	if prep.stats != nil {
		p.MaxHP = float64(prep.stats.MaxHP)
		p.HP = p.MaxHP
		p.MaxArmor = float64(prep.stats.MaxArmor)
		p.Armor = p.MaxArmor
		p.Damage = float64(prep.stats.Dmg)
		p.CritChance = float64(prep.stats.CritChance)
		p.Accuracy = float64(prep.stats.Accuracy)
		p.MaxFuel = float64(prep.stats.MaxFuel)
		p.Fuel = p.MaxFuel
	} else {
		if prep.profile.Name != "" && p.Name == "" {
			p.Name = prep.profile.Name
		}
		p.ProfilePicture = prep.profile.ProfilePicture
	}
	p.applyBonuses(prep.bonuses)
	p.TicketTokenID = prep.ticket.TokenID
	if len(r.players) == 1 {
		// Second player spawns on the far side.
		p.X = ArenaWidth * 3 / 4
	}

	r.players[sess.ID] = p
	r.sessions[sess.ID] = sess
	r.limits[sess.ID] = newLimiters()
	r.deps.Registry.AddPlayer(r.id)
	r.recorder.RecordJoin(sess.ID, replay.PlayerInfo{
		Address:        p.Address,
		ProfilePicture: p.ProfilePicture,
		TicketTokenID:  p.TicketTokenID,
	})

	switch len(r.players) {
	case 1:
		r.lobbyDeadline = time.Now().Add(lobbyWait)
	case 2:
		r.lobbyDeadline = time.Time{}
		r.readyDeadline = time.Now().Add(readyWait)
	}

	r.broadcastExcept(sess.ID, server.ServerMessage{Type: "player_joined", Data: r.publicPlayer(p)})
	sess.Send(server.ServerMessage{Type: server.MsgTypeState, Data: r.fullState()})
	r.log.Info().Str("sid", sess.ID).Str("address", p.Address).Int("players", len(r.players)).Msg("player joined")
	return nil
}

// OnLeave ends an active match in the remaining player's favor. Settlement
// is queued before the leaver's ticket reference is dropped.
func (r *Room) OnLeave(sess *server.Session) {
	p, ok := r.players[sess.ID]
	if !ok {
		return
	}
	r.recorder.RecordLeave(sess.ID)

	if r.phase == phasePlaying {
		var winner string
		for sid := range r.players {
			if sid != sess.ID {
				winner = sid
			}
		}
		r.endMatch("player_left", winner)
	}

	delete(r.players, sess.ID)
	delete(r.sessions, sess.ID)
	delete(r.limits, sess.ID)
	r.deps.Registry.RemovePlayer(r.id)
	r.broadcastExcept(sess.ID, server.ServerMessage{Type: "player_left", Data: map[string]string{"sid": sess.ID}})
	r.log.Info().Str("sid", sess.ID).Str("address", p.Address).Msg("player left")

	// A lobby back down to one player waits for a fresh opponent; the stale
	// ready gate no longer applies.
	if r.phase == phaseLobby && len(r.players) == 1 {
		r.readyDeadline = time.Time{}
		r.lobbyDeadline = time.Now().Add(lobbyWait)
		for _, q := range r.players {
			q.Ready = false
		}
	}

	if len(r.players) == 0 && r.phase != phaseEnded {
		r.disposed = true
	}
}

func (r *Room) Tick(now time.Time) {
	dt := TickInterval.Seconds()
	if !r.lastTick.IsZero() {
		if d := now.Sub(r.lastTick).Seconds(); d > 0 && d < 0.5 {
			dt = d
		}
	}
	r.lastTick = now

	switch r.phase {
	case phaseLobby:
		if !r.lobbyDeadline.IsZero() && now.After(r.lobbyDeadline) {
			r.broadcast(server.ServerMessage{Type: "lobby_timeout", Data: map[string]interface{}{
				"reason": "no_opponent", "timeoutMs": lobbyWait.Milliseconds(),
			}})
			r.disposed = true
			return
		}
		if !r.readyDeadline.IsZero() && now.After(r.readyDeadline) {
			r.broadcast(server.ServerMessage{Type: "match_cancelled", Data: map[string]interface{}{
				"reason": "ready_timeout", "timeoutMs": readyWait.Milliseconds(),
			}})
			r.disposed = true
			return
		}
	case phasePlaying:
		r.stepProjectiles(dt, now)
		r.recorder.MaybeSnapshot(r.snapshotPlayers(), false)
		if now.After(r.matchDeadline) {
			r.endMatch("timeout", r.leaderByHP())
		}
	case phaseEnded:
		if now.After(r.disposeAt) {
			r.disposed = true
		}
	}

	if delta := r.tracker.Diff(r.flatten()); delta != nil {
		r.broadcast(server.ServerMessage{Type: server.MsgTypeState, Data: delta})
	}
}

// Dispose flushes the replay and tears down the room. Called exactly once
// by the room loop.
func (r *Room) Dispose() {
	if r.phase == phaseDisposed {
		return
	}
	r.phase = phaseDisposed
	r.recorder.Finalize()
	for _, sess := range r.sessions {
		r.deps.Registry.RemovePlayer(r.id)
		sess.Close()
	}
	r.deps.Registry.Unregister(r.id)
	r.log.Info().Msg("combat room disposed")
}

func (r *Room) startMatch(now time.Time) {
	r.phase = phasePlaying
	r.locked = true
	r.readyDeadline = time.Time{}
	r.matchStart = now
	r.matchDeadline = now.Add(matchDuration)
	r.recorder.StartMatch(now, r.matchDeadline)
	r.broadcast(server.ServerMessage{Type: "match_ready", Data: map[string]interface{}{}})
	r.broadcast(server.ServerMessage{Type: "match_timer", Data: map[string]interface{}{
		"startAt":    now.UnixMilli(),
		"endAt":      r.matchDeadline.UnixMilli(),
		"durationMs": matchDuration.Milliseconds(),
	}})
	r.log.Info().Msg("match started")
}

// endMatch settles and announces the result. winnerSID may be empty for a
// draw. Safe to call at most once per match; later calls are ignored.
func (r *Room) endMatch(reason, winnerSID string) {
	if r.phase != phasePlaying {
		return
	}
	r.phase = phaseEnded
	r.endReason = reason
	r.winnerSID = winnerSID
	r.disposeAt = time.Now().Add(endGrace)
	r.recorder.EndMatch(reason, winnerSID)

	if winnerSID != "" && !r.fun {
		r.settle(winnerSID)
	}

	players := make(map[string]interface{}, len(r.players))
	for sid, p := range r.players {
		players[sid] = r.publicPlayer(p)
	}
	r.broadcast(server.ServerMessage{Type: "match_end", Data: map[string]interface{}{
		"reason":    reason,
		"winnerSid": winnerSID,
		"players":   players,
		"replayId":  r.recorder.ID(),
	}})
	r.log.Info().Str("reason", reason).Str("winner", winnerSID).Msg("match ended")
}

// settle queues the burn-and-payout for the loser's ticket. Runs while the
// loser's player record is still present so the token id is intact.
func (r *Room) settle(winnerSID string) {
	winner := r.players[winnerSID]
	if winner == nil {
		return
	}
	var loser *Player
	for sid, p := range r.players {
		if sid != winnerSID {
			loser = p
		}
	}
	if loser == nil || loser.TicketTokenID == 0 {
		return
	}
	r.recorder.SetSettlement(map[string]interface{}{
		"loserTokenId":  loser.TicketTokenID,
		"winnerAddress": winner.Address,
	})
	rec := r.recorder
	r.deps.Tickets.ResolveMatchBurnAndPayout(loser.TicketTokenID, winner.Address, func(txHash string) {
		rec.SetSettlement(map[string]interface{}{"txHash": txHash})
	})
}

// leaderByHP picks the timeout winner; empty on a tie.
func (r *Room) leaderByHP() string {
	var best *Player
	tie := false
	for _, p := range r.players {
		switch {
		case best == nil || p.HP > best.HP:
			best, tie = p, false
		case p.HP == best.HP:
			tie = true
		}
	}
	if best == nil || tie {
		return ""
	}
	return best.SID
}

func (r *Room) stepProjectiles(dt float64, now time.Time) {
	hooks := projectileHooks{
		onStoneBounce: func(p *Projectile) {
			r.broadcast(server.ServerMessage{Type: "player_input", Data: map[string]interface{}{
				"type": "stone_bounce", "sid": p.ShooterSID, "projId": p.ID,
				"x": p.X, "y": p.Y, "vx": p.VX, "vy": p.VY,
			}})
		},
		onTNTStick: func(p *Projectile, target string) {
			if tp := r.players[target]; tp != nil {
				tp.HasStuckTNT = true
			}
			r.broadcast(server.ServerMessage{Type: "player_input", Data: map[string]interface{}{
				"type": "tnt_stick", "sid": p.ShooterSID, "projId": p.ID, "targetSid": target,
			}})
		},
		onTNTExplode: func(p *Projectile, target string) {
			r.explodeTNT(p, target, now)
		},
		targetAt: func(sid string) (float64, float64, bool) {
			if p, ok := r.players[sid]; ok {
				return p.X, p.Y, true
			}
			return 0, 0, false
		},
		hasStuckTNT: func(sid string) bool {
			p, ok := r.players[sid]
			return ok && p.HasStuckTNT
		},
		opponents: func(shooter string) []string {
			out := make([]string, 0, 1)
			for sid := range r.players {
				if sid != shooter {
					out = append(out, sid)
				}
			}
			return out
		},
	}

	live := r.projectiles[:0]
	for _, p := range r.projectiles {
		if p.step(dt, now, hooks) {
			live = append(live, p)
		}
	}
	r.projectiles = live
}

func (r *Room) explodeTNT(p *Projectile, targetSID string, now time.Time) {
	target := r.players[targetSID]
	if target != nil {
		target.HasStuckTNT = false
	}
	r.broadcast(server.ServerMessage{Type: "player_input", Data: map[string]interface{}{
		"type": "tnt_explode", "sid": p.ShooterSID, "projId": p.ID, "targetSid": targetSID,
	}})
	shooter := r.players[p.ShooterSID]
	if r.phase != phasePlaying || shooter == nil || target == nil {
		return
	}
	dmg, isCrit := computeDamage(shooter, WeaponTNT, r.roll)
	r.applyHit(shooter, target, WeaponTNT, dmg, isCrit, now)
}

// applyHit runs the shared damage pipeline and checks the death win
// condition.
func (r *Room) applyHit(shooter, target *Player, weapon Weapon, dmg float64, isCrit bool, now time.Time) {
	target.takeDamage(dmg, now)
	shooter.DamageDealt += dmg
	r.broadcast(server.ServerMessage{Type: "player_input", Data: map[string]interface{}{
		"type": "hit", "sid": shooter.SID, "targetSid": target.SID,
		"projType": string(weapon), "damage": dmg, "isCrit": isCrit,
		"hp": target.HP, "armor": target.Armor,
	}})
	if target.dead() {
		r.endMatch("player_died", shooter.SID)
	}
}

func (r *Room) broadcast(msg server.ServerMessage) {
	for _, sess := range r.sessions {
		sess.Send(msg)
	}
}

func (r *Room) broadcastExcept(sid string, msg server.ServerMessage) {
	for id, sess := range r.sessions {
		if id != sid {
			sess.Send(msg)
		}
	}
}

func (r *Room) publicPlayer(p *Player) map[string]interface{} {
	return map[string]interface{}{
		"sid": p.SID, "address": p.Address, "name": p.Name,
		"x": p.X, "y": p.Y,
		"hp": p.HP, "maxHp": p.MaxHP, "armor": p.Armor, "maxArmor": p.MaxArmor,
		"ready": p.Ready, "profilePicture": p.ProfilePicture, "nftCount": p.NFTCount,
		"damageDealt": p.DamageDealt,
	}
}

// flatten projects the shared state into the dotted scalar keys the delta
// tracker diffs. The ticket token id never appears here.
func (r *Room) flatten() map[string]interface{} {
	out := make(map[string]interface{}, len(r.players)*8)
	for sid, p := range r.players {
		out["players."+sid+".name"] = p.Name
		out["players."+sid+".hp"] = p.HP
		out["players."+sid+".maxHp"] = p.MaxHP
		out["players."+sid+".armor"] = p.Armor
		out["players."+sid+".maxArmor"] = p.MaxArmor
		out["players."+sid+".ready"] = p.Ready
		out["players."+sid+".nftCount"] = p.NFTCount
	}
	return out
}

func (r *Room) fullState() map[string]interface{} {
	// The tracker baseline may lag a tick; send a fresh projection.
	return r.flatten()
}

func (r *Room) snapshotPlayers() map[string]replay.SnapshotPlayer {
	out := make(map[string]replay.SnapshotPlayer, len(r.players))
	for sid, p := range r.players {
		out[sid] = replay.SnapshotPlayer{X: p.X, Y: p.Y, HP: int(p.HP), Armor: int(p.Armor)}
	}
	return out
}
