package combat

import (
	"math"

	"github.com/ronkeverse/ufo-server/game"
)

// Arena dimensions in client pixels. The stone obstacle sits near the
// center; its hitbox is a compound of circles in normalized coordinates so
// the same shape survives any future resize.
const (
	ArenaWidth  = 1600.0
	ArenaHeight = 900.0
)

type stoneCircle struct {
	cx, cy, r float64 // normalized: cx,cy in [0,1], r as fraction of height
}

var stoneCircles = []stoneCircle{
	{0.500, 0.520, 0.085},
	{0.455, 0.545, 0.060},
	{0.545, 0.545, 0.060},
	{0.478, 0.492, 0.055},
	{0.522, 0.492, 0.055},
	{0.500, 0.572, 0.070},
}

func (c stoneCircle) world() (x, y, r float64) {
	return c.cx * ArenaWidth, c.cy * ArenaHeight, c.r * ArenaHeight
}

// stonePenetration returns the deepest penetrating stone circle for a body
// at (x,y) with radius br, or ok=false when the body is clear of the stone.
func stonePenetration(x, y, br float64) (nx, ny, depth float64, ok bool) {
	deepest := -1.0
	for _, c := range stoneCircles {
		cx, cy, cr := c.world()
		d := game.Distance(x, y, cx, cy)
		pen := (cr + br) - d
		if pen > deepest {
			deepest = pen
			if d > 1e-9 {
				nx, ny = (x-cx)/d, (y-cy)/d
			} else {
				nx, ny = 0, -1
			}
		}
	}
	if deepest <= 0 {
		return 0, 0, 0, false
	}
	return nx, ny, deepest, true
}

// ResolveStone pushes a body out of the stone along the deepest penetrating
// circle's normal. Returns the corrected position and whether a correction
// was applied.
func ResolveStone(x, y, br float64) (float64, float64, bool) {
	nx, ny, depth, hit := stonePenetration(x, y, br)
	if !hit {
		return x, y, false
	}
	return x + nx*depth, y + ny*depth, true
}

const (
	dashBackoff    = 0.5
	dashSampleStep = 8.0 // px; well under the smallest stone circle
)

// ResolveDash finds where a dash from (x0,y0) toward (x1,y1) actually ends.
// The segment is marched to the first colliding sample, bisected to the
// first stone contact, backed off slightly, and pushed out. A dash whose
// whole path is clear completes; a clear destination on the far side of the
// stone does not let the dash tunnel through.
func ResolveDash(x0, y0, x1, y1, br float64) (float64, float64) {
	dist := game.Distance(x0, y0, x1, y1)
	if dist < 1e-9 {
		fx, fy, _ := ResolveStone(x1, y1, br)
		return fx, fy
	}

	steps := int(math.Ceil(dist / dashSampleStep))
	lo, hi := 0.0, -1.0
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		if _, _, _, hit := stonePenetration(x0+(x1-x0)*t, y0+(y1-y0)*t, br); hit {
			hi = t
			break
		}
		lo = t
	}
	if hi < 0 {
		return x1, y1
	}

	for i := 0; i < 24; i++ {
		mid := (lo + hi) / 2
		mx := x0 + (x1-x0)*mid
		my := y0 + (y1-y0)*mid
		if _, _, _, hit := stonePenetration(mx, my, br); hit {
			hi = mid
		} else {
			lo = mid
		}
	}

	t := lo - dashBackoff/dist
	if t < 0 {
		t = 0
	}
	fx, fy := x0+(x1-x0)*t, y0+(y1-y0)*t
	fx, fy, _ = ResolveStone(fx, fy, br)
	return fx, fy
}

// Player hitbox: a top dome and a lower body circle offset from the
// player's anchor position.
const (
	hitboxTopOffsetY  = -14.0
	hitboxTopRadius   = 16.0
	hitboxBodyOffsetY = 10.0
	hitboxBodyRadius  = 20.0
)

// HitsPlayer tests a projectile at (px,py) with radius pr against the
// two-circle hitbox of a player anchored at (x,y).
func HitsPlayer(px, py, pr, x, y float64) bool {
	if game.Distance(px, py, x, y+hitboxTopOffsetY) <= pr+hitboxTopRadius {
		return true
	}
	return game.Distance(px, py, x, y+hitboxBodyOffsetY) <= pr+hitboxBodyRadius
}

// InBounds reports whether a point is inside the arena with a margin.
func InBounds(x, y, margin float64) bool {
	return x >= -margin && x <= ArenaWidth+margin && y >= -margin && y <= ArenaHeight+margin
}
