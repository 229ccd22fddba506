package combat

import (
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/ronkeverse/ufo-server/game"
)

const (
	actionCooldown = 1 * time.Second
	lockoutPenalty = 2 * time.Second

	statsInterval = 180 * time.Millisecond
	hitInterval   = 140 * time.Millisecond
)

// limiters holds the per-session packet throttles. Action packets use the
// shared cooldown with a lockout penalty instead of a token bucket because
// spamming must get punished, not just dropped.
type limiters struct {
	stats *rate.Limiter
	hit   *rate.Limiter
}

func newLimiters() *limiters {
	return &limiters{
		stats: rate.NewLimiter(rate.Every(statsInterval), 1),
		hit:   rate.NewLimiter(rate.Every(hitInterval), 1),
	}
}

// isAction reports whether an input type belongs to the shared-cooldown
// high-impact set.
func isAction(t string) bool {
	switch Weapon(t) {
	case WeaponBullet, WeaponArrow, WeaponHeavy, WeaponTNT, WeaponMine, WeaponLine:
		return true
	}
	return t == "dash" || t == "click" || t == "spike"
}

// checkAction enforces the shared 1 s action cooldown. A packet during
// cooldown both drops and extends the lockout.
func checkAction(p *Player, now time.Time) bool {
	if now.Before(p.LockedOutUntil) {
		return false
	}
	if !p.LastActionAt.IsZero() && now.Sub(p.LastActionAt) < actionCooldown {
		p.LockedOutUntil = now.Add(lockoutPenalty)
		return false
	}
	p.LastActionAt = now
	return true
}

// Broadcast throttling thresholds for continuous streams.
const (
	posDisplacement = 8.0
	velocityDelta   = 1.0
	posHeartbeat    = 400 * time.Millisecond
	arrowAngleDelta = 0.12
	statsHeartbeat  = 1500 * time.Millisecond
)

// shouldForwardPosition decides whether a position packet is worth
// rebroadcasting, and records the new baseline when it is.
func shouldForwardPosition(p *Player, now time.Time, withAngle bool) bool {
	moved := game.Distance(p.X, p.Y, p.lastSentX, p.lastSentY) > posDisplacement
	accel := math.Abs(p.VX-p.lastSentVX) > velocityDelta || math.Abs(p.VY-p.lastSentVY) > velocityDelta
	stale := now.Sub(p.lastPosBroadcast) > posHeartbeat
	turned := withAngle && math.Abs(game.AngleDiff(p.Angle, p.lastSentAngle)) > arrowAngleDelta
	if !moved && !accel && !stale && !turned {
		return false
	}
	p.lastSentX, p.lastSentY = p.X, p.Y
	p.lastSentVX, p.lastSentVY = p.VX, p.VY
	p.lastSentAngle = p.Angle
	p.lastPosBroadcast = now
	return true
}

// shouldForwardStats passes only meaningful hp/armor changes, with a slow
// heartbeat so late observers converge.
func shouldForwardStats(p *Player, now time.Time) bool {
	changed := p.HP != p.lastSentHP || p.Armor != p.lastSentArmor
	stale := now.Sub(p.lastStatsBroadcast) > statsHeartbeat
	if !changed && !stale {
		return false
	}
	p.lastSentHP, p.lastSentArmor = p.HP, p.Armor
	p.lastStatsBroadcast = now
	return true
}
