package server

// Tracker computes state deltas for a room. Rooms flatten their shared
// state into dotted scalar keys ("players.0.hp", "planets.12.owner"); the
// tracker remembers what was last broadcast and yields only the keys that
// changed since. Keys that disappear are sent with a nil value so clients
// drop them.
type Tracker struct {
	last map[string]interface{}
}

func NewTracker() *Tracker {
	return &Tracker{last: make(map[string]interface{})}
}

// Diff returns the changes between the last broadcast state and current,
// and remembers current as the new baseline. Returns nil when nothing
// changed so callers can skip the broadcast entirely.
func (t *Tracker) Diff(current map[string]interface{}) map[string]interface{} {
	var delta map[string]interface{}
	set := func(k string, v interface{}) {
		if delta == nil {
			delta = make(map[string]interface{})
		}
		delta[k] = v
	}

	for k, v := range current {
		if old, ok := t.last[k]; !ok || old != v {
			set(k, v)
		}
	}
	for k := range t.last {
		if _, ok := current[k]; !ok {
			set(k, nil)
		}
	}

	next := make(map[string]interface{}, len(current))
	for k, v := range current {
		next[k] = v
	}
	t.last = next
	return delta
}

// Full returns the complete baseline for late joiners, matching what the
// rest of the room has already been sent.
func (t *Tracker) Full() map[string]interface{} {
	out := make(map[string]interface{}, len(t.last))
	for k, v := range t.last {
		out[k] = v
	}
	return out
}
