package combat

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/ronkeverse/ufo-server/game"
	"github.com/ronkeverse/ufo-server/server"
)

// inputPacket is the loose inner payload of a player_input envelope.
// Pointers distinguish absent fields from zero values.
type inputPacket struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`

	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
	VX    *float64 `json:"vx"`
	VY    *float64 `json:"vy"`
	Angle *float64 `json:"angle"`

	TargetX *float64 `json:"targetX"`
	TargetY *float64 `json:"targetY"`

	HP       *float64 `json:"hp"`
	Armor    *float64 `json:"armor"`
	MaxHP    *float64 `json:"maxHp"`
	MaxArmor *float64 `json:"maxArmor"`

	ProjType  string `json:"projType"`
	ProjID    string `json:"projId"`
	TargetSid string `json:"targetSid"`
}

type readyPacket struct {
	Ready bool `json:"ready"`
}

func (r *Room) OnMessage(sess *server.Session, msg server.ClientMessage) {
	p, ok := r.players[sess.ID]
	if !ok {
		return
	}
	switch msg.Type {
	case "player_input":
		r.handleInput(sess, p, msg.Data)
	case "player_ready":
		var rp readyPacket
		if err := json.Unmarshal(msg.Data, &rp); err != nil {
			return
		}
		r.handleReady(p, rp.Ready)
	case "plan_submit", "plan_lock":
		// Turn-based planning is not enabled for live rooms.
	}
}

func (r *Room) handleReady(p *Player, ready bool) {
	if r.phase != phaseLobby {
		return
	}
	p.Ready = ready
	r.broadcast(server.ServerMessage{Type: "player_ready", Data: map[string]interface{}{
		"sid": p.SID, "ready": ready,
	}})
	if len(r.players) < maxPlayers {
		return
	}
	for _, q := range r.players {
		if !q.Ready {
			return
		}
	}
	r.startMatch(time.Now())
}

// handleInput validates, records and dispatches one player_input packet.
// Every packet is recorded verbatim before validation so rejected packets
// stay auditable in the replay.
func (r *Room) handleInput(sess *server.Session, p *Player, raw json.RawMessage) {
	r.recorder.RecordInput(sess.ID, raw)

	var in inputPacket
	if err := json.Unmarshal(raw, &in); err != nil {
		r.log.Debug().Err(err).Str("sid", sess.ID).Msg("malformed input dropped")
		return
	}
	now := time.Now()
	lim := r.limits[sess.ID]

	switch {
	case in.Type == "position":
		r.handlePosition(sess, p, &in, now, false)
	case in.Type == "arrow_position" || in.Type == "projectile_position":
		r.handlePosition(sess, p, &in, now, true)
	case in.Type == "stats":
		if !lim.stats.Allow() {
			return
		}
		r.handleStats(sess, p, &in, now)
	case in.Type == "hit":
		if !lim.hit.Allow() {
			return
		}
		r.handleHit(p, &in, now)
	case isAction(in.Type):
		if !checkAction(p, now) {
			return
		}
		r.handleAction(sess, p, &in, raw, now)
	case in.Type == "stone_hit":
		// Client-side stone feedback; relay only.
		r.relay(sess.ID, raw)
	default:
		r.log.Debug().Str("type", in.Type).Msg("unknown input type dropped")
	}
}

func (r *Room) handlePosition(sess *server.Session, p *Player, in *inputPacket, now time.Time, withAngle bool) {
	if in.X != nil {
		p.X = game.Clamp(*in.X, 0, ArenaWidth)
	}
	if in.Y != nil {
		p.Y = game.Clamp(*in.Y, 0, ArenaHeight)
	}
	if in.VX != nil {
		p.VX = *in.VX
	}
	if in.VY != nil {
		p.VY = *in.VY
	}
	if in.Angle != nil {
		p.Angle = game.NormalizeAngle(*in.Angle)
	}
	p.X, p.Y, _ = ResolveStone(p.X, p.Y, hitboxBodyRadius)

	if !shouldForwardPosition(p, now, withAngle) {
		return
	}
	r.broadcastExcept(sess.ID, server.ServerMessage{Type: "player_input", Data: map[string]interface{}{
		"type": in.Type, "sid": sess.ID,
		"x": p.X, "y": p.Y, "vx": p.VX, "vy": p.VY, "angle": p.Angle,
	}})
}

func (r *Room) handleStats(sess *server.Session, p *Player, in *inputPacket, now time.Time) {
	// maxHp/maxArmor are fixed at join; client raises are ignored.
	p.applyStats(in.HP, in.Armor, now, r.deps.Tickets.UseOnchainStats())
	if !shouldForwardStats(p, now) {
		return
	}
	r.broadcastExcept(sess.ID, server.ServerMessage{Type: "player_input", Data: map[string]interface{}{
		"type": "stats", "sid": sess.ID,
		"hp": p.HP, "armor": p.Armor, "maxHp": p.MaxHP, "maxArmor": p.MaxArmor,
	}})
}

// handleHit validates a client-reported hit against the shooter's fire
// history and recomputes the damage server-side.
func (r *Room) handleHit(shooter *Player, in *inputPacket, now time.Time) {
	if r.phase != phasePlaying {
		return
	}
	weapon := Weapon(in.ProjType)
	window, known := hitWindows[weapon]
	if !known {
		return
	}
	target, ok := r.players[in.TargetSid]
	if !ok || target.SID == shooter.SID {
		return
	}
	fired, ok := shooter.LastFire[weapon]
	if !ok || now.Sub(fired) > window {
		r.log.Debug().Str("sid", shooter.SID).Str("weapon", string(weapon)).Msg("hit without matching fire dropped")
		return
	}
	if weapon == WeaponTNT {
		// TNT damage only flows through the fuse pipeline.
		return
	}
	dmg, isCrit := computeDamage(shooter, weapon, r.roll)
	r.applyHit(shooter, target, weapon, dmg, isCrit, now)
}

// handleAction registers a fire event, spawns the server-owned projectile
// where the weapon has one, and relays the action.
func (r *Room) handleAction(sess *server.Session, p *Player, in *inputPacket, raw json.RawMessage, now time.Time) {
	switch in.Type {
	case "dash":
		if in.TargetX != nil && in.TargetY != nil {
			p.X, p.Y = ResolveDash(p.X, p.Y, *in.TargetX, *in.TargetY, hitboxBodyRadius)
		}
		r.broadcastExcept(sess.ID, server.ServerMessage{Type: "player_input", Data: map[string]interface{}{
			"type": "dash", "sid": sess.ID, "x": p.X, "y": p.Y,
		}})
		return
	case "click":
		r.relay(sess.ID, raw)
		return
	}

	weapon := Weapon(in.Type)
	p.LastFire[weapon] = now
	if r.phase == phasePlaying {
		r.spawnProjectile(p, weapon, in, now)
	}
	r.relay(sess.ID, raw)
}

func (r *Room) spawnProjectile(p *Player, weapon Weapon, in *inputPacket, now time.Time) {
	proj := &Projectile{
		Weapon:        weapon,
		ShooterSID:    p.SID,
		X:             p.X,
		Y:             p.Y,
		DamageEnabled: true,
		SpawnedAt:     now,
	}
	if in.VX != nil {
		proj.VX = *in.VX
	}
	if in.VY != nil {
		proj.VY = *in.VY
	}
	switch weapon {
	case WeaponBullet:
		proj.Bounces = bulletMaxBounces
		proj.Travel = bulletTravelBudget
	case WeaponArrow:
		proj.Travel = arrowTravelBudget
	case WeaponHeavy:
		proj.Travel = 1e9 // bounded by gravity and arena exit
	case WeaponTNT:
		proj.VX, proj.VY = 0, 0
	default:
		// Mines, spikes and lines are client-resolved.
		return
	}
	r.nextProjID++
	proj.ID = p.SID + "-" + strconv.Itoa(r.nextProjID)
	r.projectiles = append(r.projectiles, proj)
}

// relay rebroadcasts a raw client packet to the other player with the
// sender stamped in.
func (r *Room) relay(sid string, raw json.RawMessage) {
	r.broadcastExcept(sid, server.ServerMessage{Type: "player_input", Data: map[string]interface{}{
		"sid": sid, "raw": raw,
	}})
}
