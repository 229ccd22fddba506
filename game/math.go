package game

import "math"

// Distance calculates distance between two points
func Distance(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}

// Dist2 returns the squared distance, for range checks that don't need a sqrt
func Dist2(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return dx*dx + dy*dy
}

// NormalizeAngle keeps angle between 0 and 2*PI
func NormalizeAngle(angle float64) float64 {
	for angle < 0 {
		angle += 2 * math.Pi
	}
	for angle >= 2*math.Pi {
		angle -= 2 * math.Pi
	}
	return angle
}

// AngleDiff returns the signed shortest rotation from a to b in [-PI, PI)
func AngleDiff(a, b float64) float64 {
	d := NormalizeAngle(b - a)
	if d >= math.Pi {
		d -= 2 * math.Pi
	}
	return d
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampInt limits v to [lo, hi]
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
