package combat

import (
	"math"
	"time"
)

// Weapon identifies a fire action. Mine, spike and line are resolved on the
// client and only validated server-side through the fire-window check;
// arrow, bullet, heavy and TNT are also simulated as server-owned
// projectiles.
type Weapon string

const (
	WeaponArrow  Weapon = "arrow"
	WeaponBullet Weapon = "bullet"
	WeaponHeavy  Weapon = "heavy"
	WeaponTNT    Weapon = "tnt"
	WeaponMine   Weapon = "mine"
	WeaponSpike  Weapon = "spike"
	WeaponLine   Weapon = "line"
)

// Per-weapon acceptance window for client hit packets, measured from the
// shooter's matching fire action.
var hitWindows = map[Weapon]time.Duration{
	WeaponBullet: 3500 * time.Millisecond,
	WeaponHeavy:  5200 * time.Millisecond,
	WeaponArrow:  3500 * time.Millisecond,
	WeaponMine:   12000 * time.Millisecond,
	WeaponSpike:  1500 * time.Millisecond,
	WeaponTNT:    8000 * time.Millisecond,
}

const (
	bulletMaxBounces   = 3
	bulletBounceDamp   = 0.7
	bulletTravelBudget = 2600.0
	arrowTravelBudget  = 2200.0
	arrowAfterBounce   = 200.0
	heavyGravity       = 900.0 // px/s^2
	tntFallSpeed       = 260.0 // px/s
	tntFuse            = 3 * time.Second
	tntLifetime        = 8 * time.Second
	boundsMargin       = 60.0
)

var weaponRadius = map[Weapon]float64{
	WeaponArrow:  6,
	WeaponBullet: 5,
	WeaponHeavy:  10,
	WeaponTNT:    12,
}

// Projectile is a server-owned live shot.
type Projectile struct {
	ID         string
	Weapon     Weapon
	ShooterSID string

	X, Y   float64
	VX, VY float64

	Bounces       int     // remaining stone bounces
	Travel        float64 // remaining travel budget in px
	DamageEnabled bool

	StuckTo   string // TNT: session id it is stuck to, "" while falling
	FuseAt    time.Time
	SpawnedAt time.Time
}

func (p *Projectile) radius() float64 { return weaponRadius[p.Weapon] }

// projectileHooks are the sim's reactions to projectile lifecycle events.
// All run on the room loop.
type projectileHooks struct {
	onStoneBounce func(p *Projectile)
	onTNTStick    func(p *Projectile, targetSID string)
	onTNTExplode  func(p *Projectile, targetSID string)
	// targetAt returns the position of a candidate TNT stick target, or
	// ok=false when the session has no live player.
	targetAt func(sid string) (x, y float64, ok bool)
	// hasStuckTNT reports whether a TNT is already stuck to the session.
	hasStuckTNT func(sid string) bool
	opponents   func(shooterSID string) []string
}

// step advances one projectile by dt and reports whether it stays alive.
func (p *Projectile) step(dt float64, now time.Time, h projectileHooks) bool {
	switch p.Weapon {
	case WeaponTNT:
		return p.stepTNT(dt, now, h)
	case WeaponHeavy:
		p.VY += heavyGravity * dt
	}

	stepX, stepY := p.VX*dt, p.VY*dt
	p.X += stepX
	p.Y += stepY
	p.Travel -= math.Hypot(stepX, stepY)
	if p.Travel <= 0 || !InBounds(p.X, p.Y, boundsMargin) {
		return false
	}

	if nx, ny, depth, hit := stonePenetration(p.X, p.Y, p.radius()); hit {
		switch p.Weapon {
		case WeaponHeavy:
			// Heavy shells shatter on the stone.
			return false
		case WeaponBullet:
			if p.Bounces <= 0 {
				return false
			}
			p.Bounces--
			p.X += nx * depth
			p.Y += ny * depth
			p.VX, p.VY = reflect(p.VX, p.VY, nx, ny)
			p.VX *= bulletBounceDamp
			p.VY *= bulletBounceDamp
			h.onStoneBounce(p)
		case WeaponArrow:
			if !p.DamageEnabled {
				return false
			}
			// One bounce, then the arrow is visual only for a short tail.
			p.DamageEnabled = false
			p.Travel = arrowAfterBounce
			p.X += nx * depth
			p.Y += ny * depth
			p.VX, p.VY = reflect(p.VX, p.VY, nx, ny)
			h.onStoneBounce(p)
		}
	}
	return true
}

func (p *Projectile) stepTNT(dt float64, now time.Time, h projectileHooks) bool {
	if p.StuckTo != "" {
		if x, y, ok := h.targetAt(p.StuckTo); ok {
			p.X, p.Y = x, y
		}
		if now.After(p.FuseAt) {
			h.onTNTExplode(p, p.StuckTo)
			return false
		}
		return true
	}

	p.Y += tntFallSpeed * dt
	if p.Y > ArenaHeight+boundsMargin || now.Sub(p.SpawnedAt) > tntLifetime {
		return false
	}
	for _, sid := range h.opponents(p.ShooterSID) {
		x, y, ok := h.targetAt(sid)
		if !ok || h.hasStuckTNT(sid) {
			continue
		}
		if HitsPlayer(p.X, p.Y, p.radius(), x, y) {
			p.StuckTo = sid
			p.FuseAt = now.Add(tntFuse)
			h.onTNTStick(p, sid)
			return true
		}
	}
	return true
}

func reflect(vx, vy, nx, ny float64) (float64, float64) {
	dot := vx*nx + vy*ny
	return vx - 2*dot*nx, vy - 2*dot*ny
}
