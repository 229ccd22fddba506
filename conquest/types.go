package conquest

import "github.com/ronkeverse/ufo-server/galaxy"

// Player is one conquest participant, human or AI. Slots persist across
// disconnects; SessionID is empty while the player is offline.
type Player struct {
	ID        int    `json:"id"`
	Address   string `json:"address"`
	Name      string `json:"name"`
	SessionID string `json:"-"`
	Color     string `json:"color"`
	ColorDark string `json:"colorDark"`
	HomeID    int    `json:"homeId"`
	Alive     bool   `json:"alive"`
	IsAI      bool   `json:"isAI"`

	// Derived each tick; not persisted.
	PlanetCount int     `json:"-"`
	TotalUnits  float64 `json:"-"`

	Resources map[string]float64 `json:"resources,omitempty"`
}

func (p *Player) Online() bool { return p.SessionID != "" }

// Ship class tiers by unit count, largest threshold first.
var shipClasses = []struct {
	minUnits float64
	name     string
}{
	{400, "mothership"},
	{150, "startrek"},
	{50, "fighter"},
	{10, "cargo"},
	{0, "pod"},
}

func shipClassFor(units float64) string {
	for _, c := range shipClasses {
		if units >= c.minUnits {
			return c.name
		}
	}
	return "pod"
}

// Attack is an in-flight unit group homing on a target planet.
type Attack struct {
	ID         int     `json:"id"`
	FromID     int     `json:"fromId"`
	ToID       int     `json:"toId"`
	OwnerID    int     `json:"ownerId"`
	StartUnits float64 `json:"startUnits"`
	Units      float64 `json:"units"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Heading    float64 `json:"heading"`
	Traveled   float64 `json:"traveled"`
	DroneBonus int     `json:"droneBonus"`
	Blitz      bool    `json:"blitz"`
	ShieldHit  bool    `json:"shieldHit"`
	Class      string  `json:"class"`
}

// Battle is a pending pairwise resolution on a planet. At most one
// unresolved battle per (planet, attacker) pair; later arrivals merge.
type Battle struct {
	PlanetID      int     `json:"planetId"`
	AttackerID    int     `json:"attackerId"`
	AttackerUnits float64 `json:"attackerUnits"`
	DefenderUnits float64 `json:"defenderUnits"`
	StartedAt     float64 `json:"startedAt"` // game seconds
	Duration      float64 `json:"duration"`
	Blitz         bool    `json:"blitz"`
	Resolved      bool    `json:"resolved"`
}

// Missile is one turret shot closing on an attack.
type Missile struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	TargetAttack int     `json:"targetAttack"`
	Speed        float64 `json:"speed"`
	SourceID     int     `json:"sourceId"`
	Damage       float64 `json:"damage"`
	FireAt       float64 `json:"fireAt"` // game seconds; staggered per turret
}

// difficultySetting tunes growth and AI cadence per galaxy difficulty.
type difficultySetting struct {
	Growth     float64
	AIInterval float64 // seconds between AI decision passes
}

var difficultySettings = map[string]difficultySetting{
	"easy":   {Growth: 0.5, AIInterval: 4.0},
	"normal": {Growth: 1.0, AIInterval: 2.5},
	"hard":   {Growth: 1.5, AIInterval: 1.5},
}

func settingsFor(difficulty string) difficultySetting {
	if s, ok := difficultySettings[difficulty]; ok {
		return s
	}
	return difficultySettings["normal"]
}

// MaxGenerators is the per-player active generator cap: 5 up to five
// planets, then one more per five further planets.
func MaxGenerators(planetCount int) int {
	if planetCount <= 5 {
		return 5
	}
	return 5 + (planetCount-5)/5
}

// planetByID builds the id lookup the sim uses on every tick.
func planetByID(planets []*galaxy.Planet) map[int]*galaxy.Planet {
	m := make(map[int]*galaxy.Planet, len(planets))
	for _, p := range planets {
		m[p.ID] = p
	}
	return m
}
