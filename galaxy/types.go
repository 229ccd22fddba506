package galaxy

// Planet size tiers. The generator stamps tiers in this order so ids are
// stable across regenerations.
const (
	SizeAsteroid = "asteroid"
	SizeSmall    = "small"
	SizeMedium   = "medium"
	SizeLarge    = "large"
	SizeHuge     = "huge"
	SizeSun      = "sun"
)

// NeutralOwner marks a planet owned by nobody.
const NeutralOwner = -1

// Building slot types.
const (
	BuildingMine      = "mine"
	BuildingFactory   = "factory"
	BuildingTurret    = "turret"
	BuildingShieldGen = "shield_gen"
	BuildingDroneBay  = "drone_bay"
)

// BuildingSlots is the fixed number of building slots per planet.
const BuildingSlots = 3

// Deposit is a mineable resource vein on a planet.
type Deposit struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

// Building occupies one of a planet's three slots. A nil entry is an empty slot.
type Building struct {
	Type string `json:"type"`
	Slot int    `json:"slot"`
}

// Planet is one body in the galaxy. Static geometry comes from the seeded
// generator; dynamic fields (owner, units, buildings...) are mutated by the
// conquest simulation and overlaid from saves.
type Planet struct {
	ID          int     `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Radius      float64 `json:"radius"`
	Size        string  `json:"size"`
	IsMoon      bool    `json:"isMoon"`
	ParentID    int     `json:"parentId"`
	OrbitRadius float64 `json:"orbitRadius"`
	OrbitSpeed  float64 `json:"orbitSpeed"`
	OrbitAngle  float64 `json:"orbitAngle"`
	IsBlackHole bool    `json:"isBlackHole"`

	OwnerID            int                      `json:"ownerId"`
	Units              float64                  `json:"units"`
	MaxUnits           float64                  `json:"maxUnits"`
	Defense            float64                  `json:"defense"`
	GrowthRate         float64                  `json:"growthRate"`
	Stability          float64                  `json:"stability"`
	Connected          bool                     `json:"connected"`
	Generating         bool                     `json:"generating"`
	HasShield          bool                     `json:"hasShield"`
	Buildings          [BuildingSlots]*Building `json:"buildings"`
	Deposits           []Deposit                `json:"deposits"`
	NextMineTime       int64                    `json:"-"`
	NextTurretFireTime int64                    `json:"-"`
}

// IsSun reports whether p is the central star.
func (p *Planet) IsSun() bool { return p.Size == SizeSun }

// BuildingCount returns how many occupied slots hold the given type.
func (p *Planet) BuildingCount(buildingType string) int {
	n := 0
	for _, b := range p.Buildings {
		if b != nil && b.Type == buildingType {
			n++
		}
	}
	return n
}

// RemoveBuilding clears the first slot holding the given type and reports
// whether one was removed.
func (p *Planet) RemoveBuilding(buildingType string) bool {
	for i, b := range p.Buildings {
		if b != nil && b.Type == buildingType {
			p.Buildings[i] = nil
			return true
		}
	}
	return false
}
