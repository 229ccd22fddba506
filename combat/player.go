package combat

import (
	"time"

	"github.com/ronkeverse/ufo-server/game"
	"github.com/ronkeverse/ufo-server/ticket"
)

// Player is one combatant's authoritative state. Mutated only on the room
// loop, by the sim or by validated stats packets.
type Player struct {
	SID     string
	Address string
	Name    string

	X, Y   float64
	VX, VY float64
	Angle  float64

	HP       float64
	MaxHP    float64
	Armor    float64
	MaxArmor float64

	Damage     float64
	CritChance float64 // percent
	Accuracy   float64
	Fuel       float64
	MaxFuel    float64

	Ready          bool
	ProfilePicture string
	NFTCount       int
	Bonuses        ticket.Bonuses

	// Server-only; never broadcast. Kept alive through settlement.
	TicketTokenID uint64

	LastFire       map[Weapon]time.Time
	LastDamageAt   time.Time
	LastArmorRegen time.Time
	LockedOutUntil time.Time
	LastActionAt   time.Time
	HasStuckTNT    bool
	DamageDealt    float64

	// Broadcast throttling baselines.
	lastSentX, lastSentY   float64
	lastSentVX, lastSentVY float64
	lastSentAngle          float64
	lastPosBroadcast       time.Time
	lastStatsBroadcast     time.Time
	lastSentHP             float64
	lastSentArmor          float64
}

func newPlayer(sid, address, name string) *Player {
	return &Player{
		SID:      sid,
		Address:  address,
		Name:     name,
		HP:       100,
		MaxHP:    100,
		Armor:    50,
		MaxArmor: 50,
		Damage:   10,
		Accuracy: 100,
		Fuel:     100,
		MaxFuel:  100,
		X:        ArenaWidth / 4,
		Y:        ArenaHeight / 2,
		LastFire: make(map[Weapon]time.Time),
	}
}

// applyBonuses folds the NFT holder bonuses into the join-time stat
// snapshot. The snapshot is immutable for the match.
func (p *Player) applyBonuses(b ticket.Bonuses) {
	p.Bonuses = b
	p.NFTCount = b.Count
	p.MaxHP += float64(b.MaxHPBonus)
	p.HP = p.MaxHP
	p.CritChance += float64(b.CritBonus)
	p.Damage += float64(b.DmgBonus)
}

// takeDamage applies final damage armor-first and returns the split.
func (p *Player) takeDamage(dmg float64, now time.Time) (toArmor, toHP float64) {
	toArmor = dmg
	if toArmor > p.Armor {
		toArmor = p.Armor
	}
	p.Armor -= toArmor
	toHP = dmg - toArmor
	p.HP = game.Clamp(p.HP-toHP, 0, p.MaxHP)
	p.LastDamageAt = now
	return toArmor, toHP
}

func (p *Player) dead() bool { return p.HP <= 0 }

const (
	regenInterval = 2 * time.Second
	// Caps applied to client stats packets when on-chain enforcement is
	// off: room for client-side healthpacks without open-ended healing.
	looseArmorCap = 5.0
	looseHPCap    = 20.0
)

// maxRegenPerTick is how much armor a stats packet may restore when
// enforcement is on. Holding any UFO grants the faster regen.
func (p *Player) maxRegenPerTick() float64 {
	if p.Bonuses.ArmorRegen > 0 {
		return float64(p.Bonuses.ArmorRegen)
	}
	return 1
}

// applyStats folds a client stats packet into the player under the regen
// rules. enforced selects the on-chain-stats regime. Decreases always pass
// (the client reporting self-damage); increases are gated.
func (p *Player) applyStats(hp, armor *float64, now time.Time, enforced bool) {
	if armor != nil {
		next := game.Clamp(*armor, 0, p.MaxArmor)
		if next > p.Armor {
			if enforced {
				allowed := now.Sub(p.LastDamageAt) >= regenInterval &&
					now.Sub(p.LastArmorRegen) >= regenInterval
				if !allowed {
					next = p.Armor
				} else {
					if next > p.Armor+p.maxRegenPerTick() {
						next = p.Armor + p.maxRegenPerTick()
					}
					p.LastArmorRegen = now
				}
			} else if next > p.Armor+looseArmorCap {
				next = p.Armor + looseArmorCap
			}
		}
		p.Armor = next
	}
	if hp != nil {
		next := game.Clamp(*hp, 0, p.MaxHP)
		if next > p.HP {
			if enforced {
				next = p.HP
			} else if next > p.HP+looseHPCap {
				next = p.HP + looseHPCap
			}
		}
		p.HP = next
	}
}
