package conquest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronkeverse/ufo-server/galaxy"
	"github.com/ronkeverse/ufo-server/game"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := twoPlayerWorld(Events{})
	p0 := s.PlanetByID(0)
	p0.Units = 123.5
	p0.Stability = 77
	p0.Buildings[1] = &galaxy.Building{Type: galaxy.BuildingTurret, Slot: 1}
	p0.Deposits = []galaxy.Deposit{{Type: "gold", Amount: 9}}
	s.GameTime = 42.5
	s.Players[0].Color, s.Players[0].ColorDark = "#4caf50", "#2e7d32"

	require.NoError(t, SaveFile(dir, "galaxy-test", Snapshot(s, "galaxy-test", 7)))

	st, err := LoadFile(dir, "galaxy-test")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, SaveVersion, st.Version)
	assert.Equal(t, uint32(7), st.Seed)

	// Apply onto a fresh world with the same geometry.
	fresh := twoPlayerWorld(Events{})
	fresh.Players = nil
	st.Apply(fresh)

	fp := fresh.PlanetByID(0)
	assert.Equal(t, 123.5, fp.Units)
	assert.Equal(t, 77.0, fp.Stability)
	assert.Equal(t, 0, fp.OwnerID)
	require.NotNil(t, fp.Buildings[1])
	assert.Equal(t, galaxy.BuildingTurret, fp.Buildings[1].Type)
	assert.Equal(t, 9.0, fp.Deposits[0].Amount)
	assert.Equal(t, 42.5, fresh.GameTime)

	require.Len(t, fresh.Players, 2)
	assert.Equal(t, "0xAA", fresh.Players[0].Address)
	assert.Equal(t, "#4caf50", fresh.Players[0].Color)
	assert.Equal(t, "#2e7d32", fresh.Players[0].ColorDark, "map tint survives the reload")
	assert.True(t, fresh.Players[0].Alive)
	assert.Empty(t, fresh.Players[0].SessionID, "restored players start offline")
}

func TestSaveKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	s := twoPlayerWorld(Events{})

	require.NoError(t, SaveFile(dir, "g", Snapshot(s, "g", 1)))
	s.GameTime = 99
	require.NoError(t, SaveFile(dir, "g", Snapshot(s, "g", 1)))

	_, err := os.Stat(filepath.Join(dir, "g.json.bak"))
	assert.NoError(t, err, "second save must leave a backup")

	// Corrupt main: load falls back to the backup.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "g.json"), []byte("{broken"), 0o644))
	st, err := LoadFile(dir, "g")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 0.0, st.GameTime, "backup holds the first save")
}

func TestLoadMissingReturnsNil(t *testing.T) {
	st, err := LoadFile(t.TempDir(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func TestLoadWrongVersionIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "g.json"), []byte(`{"version":99}`), 0o644))
	st, err := LoadFile(dir, "g")
	assert.NoError(t, err)
	assert.Nil(t, st, "out-of-version save treated as no save")
}

func TestSeedForGalaxyStable(t *testing.T) {
	a := SeedForGalaxy("galaxy-main")
	assert.Equal(t, a, SeedForGalaxy("galaxy-main"))
	assert.NotEqual(t, a, SeedForGalaxy("galaxy-other"))
}

func TestApplyOverlayKeepsStaticGeometry(t *testing.T) {
	// The save never moves planets: geometry comes from regeneration.
	planets := galaxy.Generate(11)
	s := NewSim(planets, "normal", game.NewRand(11), Events{})
	x, y := s.Planets[10].X, s.Planets[10].Y

	st := Snapshot(s, "g", 11)
	st.Planets[10].Units = 999
	st.Apply(s)
	assert.Equal(t, x, s.Planets[10].X)
	assert.Equal(t, y, s.Planets[10].Y)
	assert.Equal(t, 999.0, s.Planets[10].Units)
}
