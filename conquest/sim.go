package conquest

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/ronkeverse/ufo-server/galaxy"
	"github.com/ronkeverse/ufo-server/game"
)

const (
	attackSpeed    = 90.0 // units/s
	blitzSpeedMult = 1.6
	homingMaxTurn  = 5.0 // rad/s
	arrivalMargin  = 5.0

	// Distance decay: units start dying past the free range, one per
	// DistanceLossPer30 for every 30 units traveled beyond it.
	decayFreeDistance = 2000.0
	decayInterval     = 30.0
	DistanceLossPer30 = 1.0

	supplyRange    = 800.0
	supplyInterval = 2.0 // seconds

	turretRange        = 800.0
	turretMissileSpeed = 300.0
	turretStagger      = 0.15 // seconds between missiles of one volley

	battleDurationMin = 1.0
	battleDurationMax = 3.0
	battleMergeExtend = 0.5
	battleMergeCap    = 4.0

	empireUnitsThreshold  = 2000.0
	EmpireSlowThreshold   = 8
	EmpireDecayThreshold  = 20
	stabilityRampUp       = 5.0 // per second
	stabilityRampDown     = 2.0
	disconnectedStability = 20.0

	mineIntervalMs = 5000
	mineYield      = 1.0

	buildCost      = 50.0
	dronesPerBay   = 10.0
	factoryOverCap = 200.0
)

// Events are the sim's outward notifications. Nil members are skipped; the
// room wires them to broadcasts and the dirty-planet set.
type Events struct {
	PlanetChanged    func(id int)
	AttackLaunched   func(a *Attack)
	AttackDestroyed  func(id int, reason string)
	BattleStarted    func(b *Battle)
	BattleResolved   func(b *Battle, captured bool)
	TurretFired      func(m *Missile)
	PlayerEliminated func(p *Player)
}

func (e Events) planetChanged(id int) {
	if e.PlanetChanged != nil {
		e.PlanetChanged(id)
	}
}

// Sim is the conquest world state plus the tick pipeline. Owned by one room
// loop; never shared.
type Sim struct {
	Planets    []*galaxy.Planet
	Players    []*Player
	Attacks    map[int]*Attack
	Battles    []*Battle
	Missiles   []*Missile
	GameTime   float64 // seconds
	Difficulty string

	byID         map[int]*galaxy.Planet
	rng          *game.Rand
	ev           Events
	nextAttackID int
	lastSupplyAt float64
	lastAIAt     map[int]float64
}

func NewSim(planets []*galaxy.Planet, difficulty string, rng *game.Rand, ev Events) *Sim {
	return &Sim{
		Planets:    planets,
		Attacks:    make(map[int]*Attack),
		Difficulty: difficulty,
		byID:       planetByID(planets),
		rng:        rng,
		ev:         ev,
		lastAIAt:   make(map[int]float64),
	}
}

func (s *Sim) PlanetByID(id int) *galaxy.Planet { return s.byID[id] }

func (s *Sim) PlayerByID(id int) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Sim) PlayerByAddress(address string) *Player {
	for _, p := range s.Players {
		if p.Address != "" && strings.EqualFold(p.Address, address) {
			return p
		}
	}
	return nil
}

// Tick advances the world by dt seconds. Order matters: movement feeds
// combat, combat feeds supply, supply feeds elimination.
func (s *Sim) Tick(dt float64) {
	s.GameTime += dt
	s.stepMoons(dt)
	s.refreshDerived()
	s.stepMining()
	s.stepGrowth(dt)
	s.stepStability(dt)
	s.stepAttacks(dt)
	s.acquireTurrets()
	s.stepMissiles(dt)
	s.resolveBattles()
	if s.GameTime-s.lastSupplyAt >= supplyInterval {
		s.lastSupplyAt = s.GameTime
		s.RecalcSupply()
	}
	s.stepAI()
}

func (s *Sim) stepMoons(dt float64) {
	for _, p := range s.Planets {
		if !p.IsMoon {
			continue
		}
		parent := s.byID[p.ParentID]
		if parent == nil {
			continue
		}
		p.OrbitAngle = game.NormalizeAngle(p.OrbitAngle + p.OrbitSpeed*dt)
		p.X = parent.X + math.Cos(p.OrbitAngle)*p.OrbitRadius
		p.Y = parent.Y + math.Sin(p.OrbitAngle)*p.OrbitRadius
	}
}

// refreshDerived recomputes per-player planet counts and unit totals; both
// drive the empire penalties and generator caps.
func (s *Sim) refreshDerived() {
	for _, pl := range s.Players {
		pl.PlanetCount = 0
		pl.TotalUnits = 0
	}
	for _, p := range s.Planets {
		if pl := s.PlayerByID(p.OwnerID); pl != nil {
			pl.PlanetCount++
			pl.TotalUnits += p.Units
		}
	}
}

func (s *Sim) stepMining() {
	nowMs := int64(s.GameTime * 1000)
	for _, p := range s.Planets {
		if p.OwnerID == galaxy.NeutralOwner || len(p.Deposits) == 0 {
			continue
		}
		mines := p.BuildingCount(galaxy.BuildingMine)
		if mines == 0 || nowMs < p.NextMineTime {
			continue
		}
		p.NextMineTime = nowMs + mineIntervalMs
		owner := s.PlayerByID(p.OwnerID)
		if owner == nil {
			continue
		}
		if owner.Resources == nil {
			owner.Resources = make(map[string]float64)
		}
		mined := false
		for m := 0; m < mines; m++ {
			for i := range p.Deposits {
				if p.Deposits[i].Amount > 0 {
					take := math.Min(mineYield, p.Deposits[i].Amount)
					p.Deposits[i].Amount -= take
					owner.Resources[p.Deposits[i].Type] += take
					mined = true
					break
				}
			}
		}
		if mined {
			s.ev.planetChanged(p.ID)
		}
	}
}

func (s *Sim) stepGrowth(dt float64) {
	diffGrowth := settingsFor(s.Difficulty).Growth
	for _, p := range s.Planets {
		if p.OwnerID == galaxy.NeutralOwner || !p.Generating {
			continue
		}
		owner := s.PlayerByID(p.OwnerID)
		if owner == nil {
			continue
		}
		growth := diffGrowth * p.GrowthRate
		growth *= 1 + 0.25*float64(p.BuildingCount(galaxy.BuildingMine))

		if owner.TotalUnits >= empireUnitsThreshold {
			switch {
			case p.Stability < 30:
				growth = -1
			case p.Stability < 70:
				growth *= 0.3
			}
			if excess := owner.PlanetCount - EmpireSlowThreshold; excess > 0 {
				growth *= math.Max(0.1, 1-float64(excess)*0.08)
			}
			if owner.PlanetCount > EmpireDecayThreshold {
				growth -= 0.5
			}
			if !p.Connected {
				growth = math.Min(growth, -0.5)
			}
		}

		unitCap := p.MaxUnits + factoryOverCap*float64(p.BuildingCount(galaxy.BuildingFactory))
		p.Units = game.Clamp(p.Units+growth*dt, 0, unitCap)
		if p.Units <= 0 && growth < 0 {
			s.neutralize(p, 1.0)
		}
	}
}

func (s *Sim) stepStability(dt float64) {
	for _, p := range s.Planets {
		if p.OwnerID == galaxy.NeutralOwner {
			continue
		}
		owner := s.PlayerByID(p.OwnerID)
		if owner == nil {
			continue
		}
		target := 100.0
		if home := s.byID[owner.HomeID]; home != nil && p.ID != owner.HomeID {
			target -= game.Distance(p.X, p.Y, home.X, home.Y) / 200 * 3
		}
		if excess := owner.PlanetCount - EmpireSlowThreshold; excess > 0 {
			target -= 3 * float64(excess)
		}
		if !p.Connected && p.ID != owner.HomeID {
			target = math.Min(target, disconnectedStability)
		}
		target = game.Clamp(target, 0, 100)

		if target > p.Stability {
			p.Stability = math.Min(target, p.Stability+stabilityRampUp*dt)
		} else {
			p.Stability = math.Max(target, p.Stability-stabilityRampDown*dt)
		}
		if p.Stability <= 0 {
			s.neutralize(p, 0.3)
		}
	}
}

// neutralize releases a planet back to nobody, keeping unitFraction of its
// garrison and freeing the owner's generator slot.
func (s *Sim) neutralize(p *galaxy.Planet, unitFraction float64) {
	p.OwnerID = galaxy.NeutralOwner
	p.Units = math.Floor(p.Units * unitFraction)
	p.Generating = false
	p.HasShield = false
	p.Stability = 0
	s.ev.planetChanged(p.ID)
}

// ComputeArrivingUnits applies the distance decay to an attack's current
// strength.
func ComputeArrivingUnits(units, traveled float64) float64 {
	if traveled <= decayFreeDistance {
		return units
	}
	lost := math.Floor((traveled-decayFreeDistance)/decayInterval) * DistanceLossPer30
	return math.Max(0, units-lost)
}

func (s *Sim) stepAttacks(dt float64) {
	for id, a := range s.Attacks {
		target := s.byID[a.ToID]
		if target == nil {
			s.destroyAttack(id, "target_gone")
			continue
		}

		desired := math.Atan2(target.Y-a.Y, target.X-a.X)
		turn := game.AngleDiff(a.Heading, desired)
		maxTurn := homingMaxTurn * dt
		a.Heading = game.NormalizeAngle(a.Heading + game.Clamp(turn, -maxTurn, maxTurn))

		speed := attackSpeed
		if a.Blitz {
			speed *= blitzSpeedMult
		}
		step := speed * dt
		a.X += math.Cos(a.Heading) * step
		a.Y += math.Sin(a.Heading) * step
		a.Traveled += step

		dist := game.Distance(a.X, a.Y, target.X, target.Y)

		// Shields intercept hostile attacks once, then burn out.
		if target.HasShield && !a.ShieldHit && target.OwnerID != a.OwnerID &&
			dist <= target.Radius+shieldReach {
			blocked := math.Min(a.Units, target.Units)
			a.Units -= blocked
			a.ShieldHit = true
			target.HasShield = false
			target.RemoveBuilding(galaxy.BuildingShieldGen)
			s.ev.planetChanged(target.ID)
			if a.Units <= 0 {
				s.destroyAttack(id, "shielded")
				continue
			}
		}

		if dist <= target.Radius+arrivalMargin {
			s.arrive(a, target)
			delete(s.Attacks, id)
		}
	}
}

const shieldReach = 60.0

func (s *Sim) arrive(a *Attack, target *galaxy.Planet) {
	arriving := ComputeArrivingUnits(a.Units, a.Traveled)
	if arriving <= 0 {
		if s.ev.AttackDestroyed != nil {
			s.ev.AttackDestroyed(a.ID, "decayed")
		}
		return
	}

	if target.OwnerID == a.OwnerID {
		unitCap := target.MaxUnits + factoryOverCap*float64(target.BuildingCount(galaxy.BuildingFactory))
		target.Units = math.Min(unitCap, target.Units+arriving)
		s.ev.planetChanged(target.ID)
		return
	}

	// Merge into an unresolved battle from the same attacker, if any.
	for _, b := range s.Battles {
		if !b.Resolved && b.PlanetID == target.ID && b.AttackerID == a.OwnerID {
			b.AttackerUnits += arriving
			b.Duration = math.Min(b.Duration+battleMergeExtend, battleMergeCap)
			return
		}
	}

	duration := game.Clamp((arriving+target.Units)/80, battleDurationMin, battleDurationMax)
	if a.Blitz {
		duration = math.Max(0.5, duration/2)
	}
	b := &Battle{
		PlanetID:      target.ID,
		AttackerID:    a.OwnerID,
		AttackerUnits: arriving,
		DefenderUnits: target.Units,
		StartedAt:     s.GameTime,
		Duration:      duration,
		Blitz:         a.Blitz,
	}
	s.Battles = append(s.Battles, b)
	if s.ev.BattleStarted != nil {
		s.ev.BattleStarted(b)
	}
}

func (s *Sim) destroyAttack(id int, reason string) {
	delete(s.Attacks, id)
	if s.ev.AttackDestroyed != nil {
		s.ev.AttackDestroyed(id, reason)
	}
}

func (s *Sim) acquireTurrets() {
	nowMs := int64(s.GameTime * 1000)
	for _, p := range s.Planets {
		if p.OwnerID == galaxy.NeutralOwner {
			continue
		}
		turrets := p.BuildingCount(galaxy.BuildingTurret)
		if turrets == 0 || nowMs < p.NextTurretFireTime {
			continue
		}
		target := s.nearestHostileAttack(p)
		if target == nil {
			continue
		}
		damage := math.Floor(p.Units / 10)
		if damage <= 0 {
			continue
		}
		for i := 0; i < turrets; i++ {
			m := &Missile{
				X: p.X, Y: p.Y,
				TargetAttack: target.ID,
				Speed:        turretMissileSpeed,
				SourceID:     p.ID,
				Damage:       damage,
				FireAt:       s.GameTime + turretStagger*float64(i),
			}
			s.Missiles = append(s.Missiles, m)
			if s.ev.TurretFired != nil {
				s.ev.TurretFired(m)
			}
		}
		p.NextTurretFireTime = nowMs + 2000 + int64(s.rng.Float(0, 3000))
	}
}

// nearestHostileAttack finds the closest enemy attack within turret range
// that threatens this planet or another planet of the same owner.
func (s *Sim) nearestHostileAttack(p *galaxy.Planet) *Attack {
	var best *Attack
	bestDist := turretRange
	for _, a := range s.Attacks {
		if a.OwnerID == p.OwnerID {
			continue
		}
		target := s.byID[a.ToID]
		if target == nil || target.OwnerID != p.OwnerID {
			continue
		}
		if d := game.Distance(p.X, p.Y, a.X, a.Y); d <= bestDist {
			best, bestDist = a, d
		}
	}
	return best
}

func (s *Sim) stepMissiles(dt float64) {
	live := s.Missiles[:0]
	for _, m := range s.Missiles {
		if s.GameTime < m.FireAt {
			live = append(live, m)
			continue
		}
		a, ok := s.Attacks[m.TargetAttack]
		if !ok {
			continue
		}
		d := game.Distance(m.X, m.Y, a.X, a.Y)
		step := m.Speed * dt
		if d <= step+10 {
			a.Units -= m.Damage
			if a.Units <= 0 {
				s.destroyAttack(a.ID, "turret")
			}
			continue
		}
		m.X += (a.X - m.X) / d * step
		m.Y += (a.Y - m.Y) / d * step
		live = append(live, m)
	}
	s.Missiles = live
}

func (s *Sim) resolveBattles() {
	remaining := s.Battles[:0]
	for _, b := range s.Battles {
		if b.Resolved || s.GameTime < b.StartedAt+b.Duration {
			if !b.Resolved {
				remaining = append(remaining, b)
			}
			continue
		}
		b.Resolved = true
		s.resolveBattle(b)
	}
	s.Battles = remaining
}

func (s *Sim) resolveBattle(b *Battle) {
	p := s.byID[b.PlanetID]
	if p == nil {
		return
	}
	defStrength := b.DefenderUnits * p.Defense
	captured := b.AttackerUnits > defStrength
	if captured {
		p.OwnerID = b.AttackerID
		p.Units = math.Max(1, b.AttackerUnits-defStrength)
		p.Stability = 50
		p.Connected = false
		p.HasShield = false
		p.Generating = s.generatorSlotFree(b.AttackerID, true)
	} else {
		p.Units = (defStrength - b.AttackerUnits) / p.Defense
		if p.Units <= 0 {
			s.neutralize(p, 1.0)
		}
	}
	s.ev.planetChanged(p.ID)
	if s.ev.BattleResolved != nil {
		s.ev.BattleResolved(b, captured)
	}
}

// generatorSlotFree reports whether the player may activate one more
// generator. justCaptured accounts for a planet about to join the empire.
func (s *Sim) generatorSlotFree(playerID int, justCaptured bool) bool {
	pl := s.PlayerByID(playerID)
	if pl == nil {
		return false
	}
	active, count := 0, 0
	for _, p := range s.Planets {
		if p.OwnerID == playerID {
			count++
			if p.Generating {
				active++
			}
		}
	}
	if justCaptured {
		count++
	}
	return active < MaxGenerators(count)
}

// RecalcSupply runs the BFS reachability pass, eliminates players whose
// home fell, and enforces the generator cap.
func (s *Sim) RecalcSupply() {
	for _, pl := range s.Players {
		if !pl.Alive {
			continue
		}
		home := s.byID[pl.HomeID]
		if home == nil || home.OwnerID != pl.ID {
			pl.Alive = false
			if s.ev.PlayerEliminated != nil {
				s.ev.PlayerEliminated(pl)
			}
			continue
		}
		s.markConnected(pl, home)
		s.enforceGeneratorCap(pl)
	}
}

func (s *Sim) markConnected(pl *Player, home *galaxy.Planet) {
	owned := make([]*galaxy.Planet, 0, pl.PlanetCount)
	for _, p := range s.Planets {
		if p.OwnerID == pl.ID {
			owned = append(owned, p)
		}
	}
	reached := map[int]bool{home.ID: true}
	queue := []*galaxy.Planet{home}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range owned {
			if reached[p.ID] {
				continue
			}
			if game.Distance(cur.X, cur.Y, p.X, p.Y) <= supplyRange {
				reached[p.ID] = true
				queue = append(queue, p)
			}
		}
	}
	for _, p := range owned {
		if next := reached[p.ID]; next != p.Connected {
			p.Connected = next
			s.ev.planetChanged(p.ID)
		}
	}
}

// enforceGeneratorCap deactivates the smallest-radius generators first when
// a player exceeds their slot allowance.
func (s *Sim) enforceGeneratorCap(pl *Player) {
	var active []*galaxy.Planet
	count := 0
	for _, p := range s.Planets {
		if p.OwnerID == pl.ID {
			count++
			if p.Generating {
				active = append(active, p)
			}
		}
	}
	allowed := MaxGenerators(count)
	if len(active) <= allowed {
		return
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Radius < active[j].Radius })
	for _, p := range active[:len(active)-allowed] {
		p.Generating = false
		s.ev.planetChanged(p.ID)
	}
}

// LaunchAttack consumes units from a source planet and puts them in flight.
func (s *Sim) LaunchAttack(playerID, fromID, toID int, percent float64, blitz bool) (*Attack, error) {
	from := s.byID[fromID]
	to := s.byID[toID]
	if from == nil || to == nil || fromID == toID {
		return nil, errors.New("bad planet")
	}
	if from.OwnerID != playerID {
		return nil, errors.New("not your planet")
	}
	if to.IsSun() || to.IsBlackHole {
		return nil, errors.New("invalid target")
	}
	percent = game.Clamp(percent, 1, 100)
	units := math.Floor(from.Units * percent / 100)
	if units < 1 {
		return nil, errors.New("not enough units")
	}
	from.Units -= units
	s.ev.planetChanged(from.ID)

	drones := from.BuildingCount(galaxy.BuildingDroneBay)
	units += dronesPerBay * float64(drones)

	s.nextAttackID++
	a := &Attack{
		ID:         s.nextAttackID,
		FromID:     fromID,
		ToID:       toID,
		OwnerID:    playerID,
		StartUnits: units,
		Units:      units,
		X:          from.X,
		Y:          from.Y,
		Heading:    math.Atan2(to.Y-from.Y, to.X-from.X),
		DroneBonus: drones,
		Blitz:      blitz,
		Class:      shipClassFor(units),
	}
	s.Attacks[a.ID] = a
	if s.ev.AttackLaunched != nil {
		s.ev.AttackLaunched(a)
	}
	return a, nil
}

// Build places a building in an empty slot, paying the unit cost.
func (s *Sim) Build(playerID, planetID, slot int, buildingType string) error {
	p := s.byID[planetID]
	if p == nil || p.OwnerID != playerID {
		return errors.New("not your planet")
	}
	if slot < 0 || slot >= galaxy.BuildingSlots {
		return errors.New("bad slot")
	}
	if p.Buildings[slot] != nil {
		return errors.New("slot occupied")
	}
	switch buildingType {
	case galaxy.BuildingMine, galaxy.BuildingFactory, galaxy.BuildingTurret,
		galaxy.BuildingShieldGen, galaxy.BuildingDroneBay:
	default:
		return errors.New("unknown building")
	}
	if p.Units <= buildCost {
		return errors.New("not enough units")
	}
	p.Units -= buildCost
	p.Buildings[slot] = &galaxy.Building{Type: buildingType, Slot: slot}
	if buildingType == galaxy.BuildingShieldGen {
		p.HasShield = true
	}
	s.ev.planetChanged(p.ID)
	return nil
}

// ToggleGenerator flips a planet's generator, subject to the per-player cap
// when enabling.
func (s *Sim) ToggleGenerator(playerID, planetID int) error {
	p := s.byID[planetID]
	if p == nil || p.OwnerID != playerID {
		return errors.New("not your planet")
	}
	if p.Generating {
		p.Generating = false
	} else {
		if !s.generatorSlotFree(playerID, false) {
			return errors.New("generator cap reached")
		}
		p.Generating = true
	}
	s.ev.planetChanged(p.ID)
	return nil
}

