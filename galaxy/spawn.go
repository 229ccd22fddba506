package galaxy

import (
	"math"
	"sort"

	"github.com/ronkeverse/ufo-server/game"
)

const (
	// Minimum distance between a new home and every existing home.
	minHomeSeparation = 1200.0

	// Neighbor sweet spot: the best new home sits between these distances
	// from its closest existing neighbor.
	sweetSpotMin = 1500.0
	sweetSpotMax = 3000.0
)

// PickStartingPlanet chooses a home planet for a joining player. The first
// player lands far out; later players are steered toward the sweet-spot band
// relative to existing homes so matches start contested but not cramped.
// Returns nil when no candidate survives the filters.
func PickStartingPlanet(planets []*Planet, homes []*Planet, rng *game.Rand) *Planet {
	candidates := make([]*Planet, 0, 64)
	for _, p := range planets {
		if p.OwnerID != NeutralOwner || p.IsMoon || p.IsSun() || p.IsBlackHole {
			continue
		}
		if p.Size != SizeSmall && p.Size != SizeMedium {
			continue
		}
		tooClose := false
		for _, h := range homes {
			if game.Distance(p.X, p.Y, h.X, h.Y) < minHomeSeparation {
				tooClose = true
				break
			}
		}
		if !tooClose {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	if len(homes) == 0 {
		return pickFirstHome(candidates, rng)
	}
	return pickNeighborHome(candidates, homes, rng)
}

// pickFirstHome selects uniformly from the top 20% farthest from the sun
// among outer-ring candidates.
func pickFirstHome(candidates []*Planet, rng *game.Rand) *Planet {
	outer := make([]*Planet, 0, len(candidates))
	for _, p := range candidates {
		if sunDist(p) >= WorldRadius*OuterRingFraction {
			outer = append(outer, p)
		}
	}
	if len(outer) == 0 {
		outer = candidates
	}
	sort.Slice(outer, func(i, j int) bool {
		return sunDist(outer[i]) > sunDist(outer[j])
	})
	top := len(outer) / 5
	if top < 1 {
		top = 1
	}
	return outer[rng.IntInclusive(0, top-1)]
}

// pickNeighborHome scores candidates by how close their nearest existing home
// is to the sweet-spot band, with a bonus for the outer ring, and picks from
// the top 10% by score.
func pickNeighborHome(candidates []*Planet, homes []*Planet, rng *game.Rand) *Planet {
	type scored struct {
		planet *Planet
		score  float64
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, p := range candidates {
		closest := math.MaxFloat64
		for _, h := range homes {
			if d := game.Distance(p.X, p.Y, h.X, h.Y); d < closest {
				closest = d
			}
		}

		var score float64
		switch {
		case closest >= sweetSpotMin && closest <= sweetSpotMax:
			score = 100
		case closest < sweetSpotMin:
			score = 100 * (closest / sweetSpotMin)
		default:
			score = 100 * (sweetSpotMax / closest)
		}
		if sunDist(p) >= WorldRadius*OuterRingFraction {
			score += 20
		}
		scoredList = append(scoredList, scored{p, score})
	}

	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		return scoredList[i].planet.ID < scoredList[j].planet.ID
	})
	top := len(scoredList) / 10
	if top < 1 {
		top = 1
	}
	return scoredList[rng.IntInclusive(0, top-1)].planet
}

func sunDist(p *Planet) float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y)
}
