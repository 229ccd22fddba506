package combat

import (
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/ronkeverse/ufo-server/game"
)

// Per-weapon base damage multipliers. The TNT never crits.
var baseMult = map[Weapon]float64{
	WeaponArrow:  2.0,
	WeaponBullet: 0.5,
	WeaponHeavy:  2.0,
	WeaponTNT:    2.5,
	WeaponMine:   1.5,
	WeaponSpike:  1.0,
}

var critMult = map[Weapon]float64{
	WeaponArrow:  3.0,
	WeaponBullet: 1.0,
	WeaponHeavy:  3.0,
}

const (
	varianceMin = 0.5
	varianceMax = 1.0
	damageCap   = 300.0
)

// rollFn yields uniform floats in [0,1). Live rooms use the crypto source;
// tests substitute fixed sequences.
type rollFn func() float64

func cryptoRoll() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0.5
	}
	return float64(binary.LittleEndian.Uint64(buf[:])>>11) / (1 << 53)
}

// computeDamage resolves one hit server-side. Client-supplied damage and
// crit flags are never trusted; everything derives from the shooter's stats
// and two rolls.
func computeDamage(shooter *Player, weapon Weapon, roll rollFn) (dmg float64, isCrit bool) {
	mult, ok := baseMult[weapon]
	if !ok {
		return 0, false
	}
	if cm, canCrit := critMult[weapon]; canCrit {
		if roll()*100 < shooter.CritChance {
			mult = cm
			isCrit = true
		}
	}
	dmg = shooter.Damage * mult
	dmg *= varianceMin + roll()*(varianceMax-varianceMin)
	dmg = math.Round(dmg)
	return game.Clamp(dmg, 0, damageCap), isCrit
}
