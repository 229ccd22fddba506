package galaxy

import (
	"math"

	"github.com/ronkeverse/ufo-server/game"
)

// World geometry. Shared with the client renderer.
const (
	WorldRadius   = 12000.0
	SunRadius     = 800.0
	SunNoSpawn    = 1600.0
	PlacementGap  = 150.0
	MaxplaceTries = 60

	// Outer ring used by the spawn picker
	OuterRingFraction = 0.6
)

// sizeTier describes one band of the fixed planet distribution.
type sizeTier struct {
	size       string
	count      int
	minRadius  float64
	maxRadius  float64
	maxUnits   float64
	defense    float64
	growthRate float64
	deposits   int
	minMoons   int
	maxMoons   int
}

// The tier table is stamped in order; totals must stay at 900 so client and
// server agree on the id sequence.
var sizeTiers = []sizeTier{
	{SizeAsteroid, 250, 20, 40, 50, 1.0, 0.5, 1, 0, 0},
	{SizeSmall, 280, 40, 70, 150, 1.0, 1.0, 1, 0, 0},
	{SizeMedium, 220, 70, 110, 300, 1.2, 1.5, 2, 0, 1},
	{SizeLarge, 100, 110, 160, 600, 1.4, 2.0, 2, 0, 2},
	{SizeHuge, 50, 160, 220, 1000, 1.5, 2.5, 3, 1, 3},
}

// TotalPlanets is the number of bodies in the size-tier distribution,
// excluding the sun, moons and the black hole.
const TotalPlanets = 900

var depositTypes = []string{"iron", "gold", "crystal", "uranium", "plasma"}

// Generate builds the full planet set for a seed. It is a pure function: the
// same seed always yields the same slice, element for element, which is what
// lets the client regenerate the static galaxy locally.
func Generate(seed uint32) []*Planet {
	rng := game.NewRand(seed)
	planets := make([]*Planet, 0, TotalPlanets+64)
	nextID := 0

	for _, tier := range sizeTiers {
		for i := 0; i < tier.count; i++ {
			p := placePlanet(rng, planets, tier)
			p.ID = nextID
			nextID++
			planets = append(planets, p)

			// Moons are stamped immediately after their parent so the id
			// assignment stays deterministic.
			moons := tier.minMoons
			if tier.maxMoons > tier.minMoons {
				moons = rng.IntInclusive(tier.minMoons, tier.maxMoons)
			}
			for m := 0; m < moons; m++ {
				moon := makeMoon(rng, p)
				moon.ID = nextID
				nextID++
				planets = append(planets, moon)
			}
		}
	}

	sun := &Planet{
		ID:        nextID,
		X:         0,
		Y:         0,
		Radius:    SunRadius,
		Size:      SizeSun,
		ParentID:  -1,
		OwnerID:   NeutralOwner,
		Stability: 100,
	}
	nextID++
	planets = append(planets, sun)

	// One black hole at a random heading from the sun, clamped inside the
	// world bounds.
	bhAngle := rng.Float(0, 2*math.Pi)
	bhDist := rng.Float(SunNoSpawn*2, WorldRadius)
	bhDist = game.Clamp(bhDist, SunNoSpawn*2, WorldRadius-300)
	planets = append(planets, &Planet{
		ID:          nextID,
		X:           bhDist * math.Cos(bhAngle),
		Y:           bhDist * math.Sin(bhAngle),
		Radius:      120,
		Size:        SizeMedium,
		ParentID:    -1,
		IsBlackHole: true,
		OwnerID:     NeutralOwner,
		Stability:   100,
	})

	return planets
}

// placePlanet rejection-samples a position keeping a minimum pairwise gap and
// staying out of the sun's exclusion zone. After MaxplaceTries the last
// candidate is accepted so generation always terminates.
func placePlanet(rng *game.Rand, placed []*Planet, tier sizeTier) *Planet {
	radius := rng.Float(tier.minRadius, tier.maxRadius)
	var x, y float64
	for try := 0; try < MaxplaceTries; try++ {
		angle := rng.Float(0, 2*math.Pi)
		dist := rng.Float(SunNoSpawn, WorldRadius)
		x = dist * math.Cos(angle)
		y = dist * math.Sin(angle)
		if !overlaps(placed, x, y, radius) {
			break
		}
	}

	p := &Planet{
		X:          x,
		Y:          y,
		Radius:     radius,
		Size:       tier.size,
		ParentID:   -1,
		OwnerID:    NeutralOwner,
		MaxUnits:   tier.maxUnits,
		Defense:    tier.defense,
		GrowthRate: tier.growthRate,
		Units:      rng.Float(0, tier.maxUnits*0.3),
		Stability:  100,
	}
	p.Deposits = drawDeposits(rng, tier.deposits)
	return p
}

func overlaps(placed []*Planet, x, y, radius float64) bool {
	for _, o := range placed {
		if o.IsMoon {
			continue
		}
		min := o.Radius + radius + PlacementGap
		if game.Dist2(o.X, o.Y, x, y) < min*min {
			return true
		}
	}
	return false
}

func makeMoon(rng *game.Rand, parent *Planet) *Planet {
	orbitRadius := parent.Radius + rng.Float(60, 150)
	angle := rng.Float(0, 2*math.Pi)
	return &Planet{
		X:           parent.X + orbitRadius*math.Cos(angle),
		Y:           parent.Y + orbitRadius*math.Sin(angle),
		Radius:      rng.Float(10, parent.Radius*0.25),
		Size:        SizeAsteroid,
		IsMoon:      true,
		ParentID:    parent.ID,
		OrbitRadius: orbitRadius,
		OrbitSpeed:  rng.Float(0.05, 0.25),
		OrbitAngle:  angle,
		OwnerID:     NeutralOwner,
		MaxUnits:    30,
		Defense:     1.0,
		GrowthRate:  0.2,
		Stability:   100,
	}
}

// drawDeposits shuffles the deposit type list and takes the first k.
func drawDeposits(rng *game.Rand, k int) []Deposit {
	types := make([]string, len(depositTypes))
	copy(types, depositTypes)
	game.Shuffle(rng, types)
	if k > len(types) {
		k = len(types)
	}
	deposits := make([]Deposit, 0, k)
	for i := 0; i < k; i++ {
		deposits = append(deposits, Deposit{
			Type:   types[i],
			Amount: float64(rng.IntInclusive(100, 1000)),
		})
	}
	return deposits
}
