package combat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActionCooldownAndLockout(t *testing.T) {
	t0 := time.Now()
	p := newPlayer("a", "0xA", "a")

	assert.True(t, checkAction(p, t0))
	// Spam during cooldown: dropped and punished with a 2 s lockout.
	assert.False(t, checkAction(p, t0.Add(500*time.Millisecond)))
	assert.Equal(t, t0.Add(2500*time.Millisecond), p.LockedOutUntil)
	// Past the cooldown but still locked out.
	assert.False(t, checkAction(p, t0.Add(1600*time.Millisecond)))
	// Lockout expired, cooldown long since over.
	assert.True(t, checkAction(p, t0.Add(2600*time.Millisecond)))
}

func TestPositionThrottle(t *testing.T) {
	t0 := time.Now()
	p := newPlayer("a", "0xA", "a")
	p.X, p.Y = 400, 450

	assert.True(t, shouldForwardPosition(p, t0, false), "first packet always passes")

	// Sub-threshold jitter right after: suppressed.
	p.X += 3
	assert.False(t, shouldForwardPosition(p, t0.Add(50*time.Millisecond), false))

	// Real displacement passes.
	p.X += 20
	assert.True(t, shouldForwardPosition(p, t0.Add(100*time.Millisecond), false))

	// No movement, but the heartbeat fires.
	assert.True(t, shouldForwardPosition(p, t0.Add(600*time.Millisecond), false))

	// Velocity change alone passes.
	p.VX += 5
	assert.True(t, shouldForwardPosition(p, t0.Add(650*time.Millisecond), false))
}

func TestArrowAngleThreshold(t *testing.T) {
	t0 := time.Now()
	p := newPlayer("a", "0xA", "a")
	p.X, p.Y = 400, 450
	shouldForwardPosition(p, t0, true)

	p.Angle += 0.05
	assert.False(t, shouldForwardPosition(p, t0.Add(10*time.Millisecond), true))
	p.Angle += 0.10
	assert.True(t, shouldForwardPosition(p, t0.Add(20*time.Millisecond), true))
}

func TestStatsThrottle(t *testing.T) {
	t0 := time.Now()
	p := newPlayer("a", "0xA", "a")

	assert.True(t, shouldForwardStats(p, t0))
	assert.False(t, shouldForwardStats(p, t0.Add(100*time.Millisecond)), "unchanged stats suppressed")

	p.Armor -= 5
	assert.True(t, shouldForwardStats(p, t0.Add(200*time.Millisecond)))

	// Heartbeat passes even with no change.
	assert.True(t, shouldForwardStats(p, t0.Add(2*time.Second)))
}

func TestIsAction(t *testing.T) {
	for _, a := range []string{"bullet", "arrow", "heavy", "tnt", "mine", "line", "dash", "click", "spike"} {
		assert.True(t, isAction(a), a)
	}
	for _, a := range []string{"position", "stats", "hit", "stone_hit"} {
		assert.False(t, isAction(a), a)
	}
}
