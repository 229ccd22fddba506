package game

// Rand is a Mulberry32 PRNG. The same seed produces the same sequence as the
// client-side JavaScript implementation, bit for bit, so galaxies and replay
// simulations can be regenerated on either end.
type Rand struct {
	state uint32
}

// NewRand creates a Mulberry32 generator from a 32-bit seed.
func NewRand(seed uint32) *Rand {
	return &Rand{state: seed}
}

// Next returns a float in [0, 1).
func (r *Rand) Next() float64 {
	r.state += 0x6D2B79F5
	t := r.state
	t = (t ^ (t >> 15)) * (t | 1)
	t += (t ^ (t >> 7)) * (t | 61)
	t ^= t >> 14
	return float64(t) / 4294967296.0
}

// IntInclusive returns an integer in [a, b].
func (r *Rand) IntInclusive(a, b int) int {
	return a + int(r.Next()*float64(b-a+1))
}

// Float returns a float in [a, b).
func (r *Rand) Float(a, b float64) float64 {
	return a + r.Next()*(b-a)
}

// Shuffle permutes list in place with a Fisher-Yates walk driven by Next,
// matching the client's shuffle exactly.
func Shuffle[T any](r *Rand, list []T) {
	for i := len(list) - 1; i > 0; i-- {
		j := int(r.Next() * float64(i+1))
		list[i], list[j] = list[j], list[i]
	}
}
