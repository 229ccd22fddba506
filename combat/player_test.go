package combat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ronkeverse/ufo-server/ticket"
)

func TestTakeDamageArmorFirst(t *testing.T) {
	p := newPlayer("a", "0xA", "a")
	p.Armor = 10

	toArmor, toHP := p.takeDamage(25, time.Now())
	assert.Equal(t, 10.0, toArmor)
	assert.Equal(t, 15.0, toHP)
	assert.Equal(t, 0.0, p.Armor)
	assert.Equal(t, 85.0, p.HP)
}

func TestTakeDamageHPClampsAtZero(t *testing.T) {
	p := newPlayer("a", "0xA", "a")
	p.Armor = 0
	p.takeDamage(5000, time.Now())
	assert.Equal(t, 0.0, p.HP)
	assert.True(t, p.dead())
}

func TestArmorRegenGatedByDamage(t *testing.T) {
	base := time.Now()
	p := newPlayer("b", "0xB", "b")
	p.takeDamage(5, base) // armor 50 -> 45

	// Too soon after damage: the increase is dropped.
	armor := 48.0
	p.applyStats(nil, &armor, base.Add(1*time.Second), true)
	assert.Equal(t, 45.0, p.Armor)

	// Past the regen interval: allowed, but only +1 per packet.
	armor = 47.0
	p.applyStats(nil, &armor, base.Add(3*time.Second), true)
	assert.Equal(t, 46.0, p.Armor)

	// The regen cooldown now gates the next packet.
	armor = 48.0
	p.applyStats(nil, &armor, base.Add(4*time.Second), true)
	assert.Equal(t, 46.0, p.Armor)
}

func TestArmorRegenFasterWithNFT(t *testing.T) {
	base := time.Now()
	p := newPlayer("b", "0xB", "b")
	p.applyBonuses(ticket.BonusesForCount(1))
	p.takeDamage(10, base)
	before := p.Armor

	armor := before + 10
	p.applyStats(nil, &armor, base.Add(3*time.Second), true)
	assert.Equal(t, before+2, p.Armor)
}

func TestStatsDecreaseAlwaysPasses(t *testing.T) {
	p := newPlayer("b", "0xB", "b")
	armor, hp := 20.0, 60.0
	p.applyStats(&hp, &armor, time.Now(), true)
	assert.Equal(t, 20.0, p.Armor)
	assert.Equal(t, 60.0, p.HP)
}

func TestLooseModeCaps(t *testing.T) {
	now := time.Now()
	p := newPlayer("b", "0xB", "b")
	p.Armor = 10
	p.HP = 50

	armor, hp := 100.0, 100.0
	p.applyStats(&hp, &armor, now, false)
	assert.Equal(t, 15.0, p.Armor, "armor raise capped at +5")
	assert.Equal(t, 70.0, p.HP, "hp raise capped at +20 (healthpack)")
}

func TestEnforcedModeNeverRaisesHP(t *testing.T) {
	p := newPlayer("b", "0xB", "b")
	p.HP = 50
	hp := 90.0
	p.applyStats(&hp, nil, time.Now(), true)
	assert.Equal(t, 50.0, p.HP)
}

func TestStatsClampToMax(t *testing.T) {
	p := newPlayer("b", "0xB", "b")
	armor, hp := 9999.0, 9999.0
	p.applyStats(&hp, &armor, time.Now(), false)
	assert.LessOrEqual(t, p.Armor, p.MaxArmor)
	assert.LessOrEqual(t, p.HP, p.MaxHP)
}

func TestApplyBonuses(t *testing.T) {
	p := newPlayer("a", "0xA", "a")
	p.applyBonuses(ticket.BonusesForCount(5))
	assert.Equal(t, 105.0, p.MaxHP)
	assert.Equal(t, 105.0, p.HP)
	assert.Equal(t, 2.0, p.CritChance)
	assert.Equal(t, 13.0, p.Damage)
	assert.Equal(t, 5, p.NFTCount)
}
