package galaxy

import (
	"testing"

	"github.com/ronkeverse/ufo-server/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsPure(t *testing.T) {
	a := Generate(42)
	b := Generate(42)
	require.Equal(t, len(a), len(b))
	for i := range a {
		require.Equal(t, a[i].ID, b[i].ID)
		require.Equal(t, a[i].X, b[i].X, "planet %d x", i)
		require.Equal(t, a[i].Y, b[i].Y, "planet %d y", i)
		require.Equal(t, a[i].Radius, b[i].Radius, "planet %d radius", i)
		require.Equal(t, a[i].Size, b[i].Size, "planet %d size", i)
		require.Equal(t, a[i].Deposits, b[i].Deposits, "planet %d deposits", i)
	}
}

func TestGenerateDistribution(t *testing.T) {
	planets := Generate(42)

	counts := map[string]int{}
	moons := 0
	suns := 0
	blackHoles := 0
	for _, p := range planets {
		switch {
		case p.IsBlackHole:
			blackHoles++
		case p.IsSun():
			suns++
			assert.Equal(t, SunRadius, p.Radius)
		case p.IsMoon:
			moons++
		default:
			counts[p.Size]++
		}
	}

	assert.Equal(t, 250, counts[SizeAsteroid])
	assert.Equal(t, 280, counts[SizeSmall])
	assert.Equal(t, 220, counts[SizeMedium])
	assert.Equal(t, 100, counts[SizeLarge])
	assert.Equal(t, 50, counts[SizeHuge])
	assert.Equal(t, TotalPlanets, counts[SizeAsteroid]+counts[SizeSmall]+counts[SizeMedium]+counts[SizeLarge]+counts[SizeHuge])
	assert.Equal(t, 1, suns)
	assert.Equal(t, 1, blackHoles)
}

func TestGenerateDifferentSeedsDiffer(t *testing.T) {
	a := Generate(1)
	b := Generate(2)
	same := 0
	for i := range a {
		if i < len(b) && a[i].X == b[i].X && a[i].Y == b[i].Y {
			same++
		}
	}
	// The sun is always at the origin; nearly everything else should move.
	assert.Less(t, same, 10)
}

func TestMoonsFollowParents(t *testing.T) {
	planets := Generate(7)
	byID := map[int]*Planet{}
	for _, p := range planets {
		byID[p.ID] = p
	}
	moons := 0
	for _, p := range planets {
		if !p.IsMoon {
			continue
		}
		moons++
		parent, ok := byID[p.ParentID]
		require.True(t, ok, "moon %d has unknown parent %d", p.ID, p.ParentID)
		assert.Greater(t, p.ID, parent.ID, "moon stamped after its parent")
		assert.InDelta(t, p.OrbitRadius, game.Distance(p.X, p.Y, parent.X, parent.Y), 1e-6)
	}
	assert.Greater(t, moons, 0)
}

func TestDepositsSizeTiered(t *testing.T) {
	planets := Generate(99)
	for _, p := range planets {
		if p.IsMoon || p.IsSun() || p.IsBlackHole {
			continue
		}
		var want int
		switch p.Size {
		case SizeAsteroid, SizeSmall:
			want = 1
		case SizeMedium, SizeLarge:
			want = 2
		case SizeHuge:
			want = 3
		}
		require.Len(t, p.Deposits, want, "planet %d size %s", p.ID, p.Size)
		seen := map[string]bool{}
		for _, d := range p.Deposits {
			require.False(t, seen[d.Type], "duplicate deposit type on planet %d", p.ID)
			seen[d.Type] = true
		}
	}
}

func TestPickStartingPlanetFilters(t *testing.T) {
	planets := Generate(42)
	rng := game.NewRand(5)

	var homes []*Planet
	for i := 0; i < 4; i++ {
		home := PickStartingPlanet(planets, homes, rng)
		require.NotNil(t, home)
		assert.False(t, home.IsMoon)
		assert.False(t, home.IsSun())
		assert.False(t, home.IsBlackHole)
		assert.Contains(t, []string{SizeSmall, SizeMedium}, home.Size)
		assert.Equal(t, NeutralOwner, home.OwnerID)
		for _, h := range homes {
			assert.GreaterOrEqual(t, game.Distance(home.X, home.Y, h.X, h.Y), minHomeSeparation)
		}
		home.OwnerID = i
		homes = append(homes, home)
	}
}

func TestFirstHomeInOuterRing(t *testing.T) {
	planets := Generate(42)
	home := PickStartingPlanet(planets, nil, game.NewRand(1))
	require.NotNil(t, home)
	assert.GreaterOrEqual(t, sunDist(home), WorldRadius*OuterRingFraction)
}
