package conquest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ronkeverse/ufo-server/galaxy"
)

// SaveVersion guards the persisted galaxy format. Anything else is treated
// as "no save".
const SaveVersion = 1

// savedPlanet carries only the dynamic planet fields; static geometry is
// regenerated from the seed on load.
type savedPlanet struct {
	ID         int              `json:"id"`
	OwnerID    int              `json:"ownerId"`
	Units      float64          `json:"units"`
	MaxUnits   float64          `json:"maxUnits"`
	Defense    float64          `json:"defense"`
	GrowthRate float64          `json:"growthRate"`
	Stability  float64          `json:"stability"`
	Connected  bool             `json:"connected"`
	Generating bool             `json:"generating"`
	HasShield  bool             `json:"hasShield"`
	Radius     float64          `json:"radius"`
	Deposits   []galaxy.Deposit `json:"deposits"`

	Buildings [galaxy.BuildingSlots]*galaxy.Building `json:"buildings"`
}

type savedPlayer struct {
	ID        int    `json:"id"`
	Address   string `json:"address"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	ColorDark string `json:"colorDark"`
	HomeID    int    `json:"homeId"`
	Alive     bool   `json:"alive"`
	IsAI      bool   `json:"isAI"`
}

// SaveState is the persisted galaxy document.
type SaveState struct {
	Version    int           `json:"version"`
	GalaxyID   string        `json:"galaxyId"`
	Seed       uint32        `json:"seed"`
	GameTime   float64       `json:"gameTime"`
	Difficulty string        `json:"difficulty"`
	SavedAt    int64         `json:"savedAt"`
	Planets    []savedPlanet `json:"planets"`
	Players    []savedPlayer `json:"players"`
}

// Snapshot captures the sim's dynamic state for persistence.
func Snapshot(s *Sim, galaxyID string, seed uint32) *SaveState {
	st := &SaveState{
		Version:    SaveVersion,
		GalaxyID:   galaxyID,
		Seed:       seed,
		GameTime:   s.GameTime,
		Difficulty: s.Difficulty,
		SavedAt:    time.Now().UnixMilli(),
	}
	for _, p := range s.Planets {
		st.Planets = append(st.Planets, savedPlanet{
			ID: p.ID, OwnerID: p.OwnerID, Units: p.Units, MaxUnits: p.MaxUnits,
			Defense: p.Defense, GrowthRate: p.GrowthRate, Stability: p.Stability,
			Connected: p.Connected, Generating: p.Generating, HasShield: p.HasShield,
			Radius: p.Radius, Deposits: p.Deposits, Buildings: p.Buildings,
		})
	}
	for _, pl := range s.Players {
		st.Players = append(st.Players, savedPlayer{
			ID: pl.ID, Address: pl.Address, Name: pl.Name,
			Color: pl.Color, ColorDark: pl.ColorDark,
			HomeID: pl.HomeID, Alive: pl.Alive, IsAI: pl.IsAI,
		})
	}
	return st
}

// Apply overlays a save's dynamic fields onto regenerated static geometry
// and restores the player roster (all offline).
func (st *SaveState) Apply(s *Sim) {
	for _, sp := range st.Planets {
		p := s.byID[sp.ID]
		if p == nil {
			continue
		}
		p.OwnerID = sp.OwnerID
		p.Units = sp.Units
		p.MaxUnits = sp.MaxUnits
		p.Defense = sp.Defense
		p.GrowthRate = sp.GrowthRate
		p.Stability = sp.Stability
		p.Connected = sp.Connected
		p.Generating = sp.Generating
		p.HasShield = sp.HasShield
		p.Deposits = sp.Deposits
		p.Buildings = sp.Buildings
	}
	s.Players = s.Players[:0]
	for _, sp := range st.Players {
		s.Players = append(s.Players, &Player{
			ID: sp.ID, Address: sp.Address, Name: sp.Name,
			Color: sp.Color, ColorDark: sp.ColorDark,
			HomeID: sp.HomeID, Alive: sp.Alive, IsAI: sp.IsAI,
		})
	}
	s.GameTime = st.GameTime
	s.Difficulty = st.Difficulty
	s.refreshDerived()
}

// SaveFile writes the state atomically: tmp write, current copied to .bak,
// rename over the main file.
func SaveFile(dir, galaxyID string, st *SaveState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create save dir: %w", err)
	}
	main := savePath(dir, galaxyID)
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode save: %w", err)
	}
	tmp := main + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write save tmp: %w", err)
	}
	if prev, err := os.ReadFile(main); err == nil {
		os.WriteFile(main+".bak", prev, 0o644)
	}
	if err := os.Rename(tmp, main); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// LoadFile reads a persisted galaxy, trying the main file then the backup.
// A missing, corrupt or out-of-version save returns (nil, nil): the caller
// starts fresh rather than crashing the room.
func LoadFile(dir, galaxyID string) (*SaveState, error) {
	main := savePath(dir, galaxyID)
	for _, path := range []string{main, main + ".bak"} {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		var st SaveState
		if err := json.Unmarshal(data, &st); err != nil || st.Version != SaveVersion {
			continue
		}
		return &st, nil
	}
	return nil, nil
}

func savePath(dir, galaxyID string) string {
	return filepath.Join(dir, galaxyID+".json")
}
