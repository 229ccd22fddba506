package conquest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronkeverse/ufo-server/galaxy"
	"github.com/ronkeverse/ufo-server/game"
	"github.com/ronkeverse/ufo-server/profile"
	"github.com/ronkeverse/ufo-server/server"
)

func newTestGalaxy(t *testing.T, dir, id string) *Room {
	t.Helper()
	deps := Deps{
		Registry: server.NewRegistry(),
		Profiles: profile.NewService(profile.Config{}, zerolog.Nop()),
		SaveDir:  dir,
		Log:      zerolog.Nop(),
	}
	r, err := newRoom(id, id, deps)
	require.NoError(t, err)
	return r
}

func joinGalaxy(t *testing.T, r *Room, sid, address string) (*server.Session, <-chan server.ServerMessage) {
	t.Helper()
	sess, out := server.NewLocalSession(sid)
	opts := server.JoinOptions{Room: r.id, Name: sid, Address: address}
	prep, err := r.PrepareJoin(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, r.OnJoin(sess, opts, prep))
	return sess, out
}

func drain(ch <-chan server.ServerMessage) []server.ServerMessage {
	var out []server.ServerMessage
	for {
		select {
		case msg := <-ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestJoinAssignsHomeAndRevealZone(t *testing.T) {
	r := newTestGalaxy(t, t.TempDir(), "galaxy-join")
	_, out := joinGalaxy(t, r, "sid1", "0xCC")

	pl := r.sim.PlayerByAddress("0xCC")
	require.NotNil(t, pl)
	home := r.sim.PlanetByID(pl.HomeID)
	require.NotNil(t, home)
	assert.Equal(t, pl.ID, home.OwnerID)
	assert.Equal(t, homeStartUnits, home.Units)
	assert.True(t, home.Generating)

	var reveal map[string]interface{}
	for _, msg := range drain(out) {
		if msg.Type == "reveal_zone" {
			reveal = msg.Data.(map[string]interface{})
		}
	}
	require.NotNil(t, reveal, "join must send the home reveal zone")
	assert.Equal(t, home.X, reveal["x"])
	assert.Equal(t, revealRadius, reveal["radius"])
	assert.Equal(t, true, reveal["permanent"])
}

func TestReconnectByAddressRebindsSlot(t *testing.T) {
	r := newTestGalaxy(t, t.TempDir(), "galaxy-reconnect")
	first, _ := joinGalaxy(t, r, "sid1", "0xCC")

	pl := r.sim.PlayerByAddress("0xCC")
	require.NotNil(t, pl)
	slot, home := pl.ID, pl.HomeID

	r.OnLeave(first)
	assert.False(t, pl.Online())
	assert.True(t, pl.Alive, "offline players keep their empire")

	// A fresh session with the same address within the grace window.
	_, out := joinGalaxy(t, r, "sid2", "0xCC")

	assert.Equal(t, slot, pl.ID)
	assert.Equal(t, home, pl.HomeID, "no new home on reconnect")
	assert.Equal(t, "sid2", pl.SessionID)
	assert.Len(t, r.sim.Players, 1, "no duplicate slot created")

	var reconnected, reveal, attacks bool
	for _, msg := range drain(out) {
		switch msg.Type {
		case "reconnected":
			data := msg.Data.(map[string]interface{})
			assert.Equal(t, slot, data["playerId"])
			reconnected = true
		case "reveal_zone":
			h := r.sim.PlanetByID(home)
			assert.Equal(t, h.X, msg.Data.(map[string]interface{})["x"])
			reveal = true
		case "active_attacks":
			attacks = true
		}
	}
	assert.True(t, reconnected)
	assert.True(t, reveal, "reveal zone targets the original home")
	assert.True(t, attacks, "in-flight attacks replayed to the new client")
}

func TestLiveSlotTakeoverRequiresToken(t *testing.T) {
	r := newTestGalaxy(t, t.TempDir(), "galaxy-takeover")
	joinGalaxy(t, r, "sid1", "0xCC")
	pl := r.sim.PlayerByAddress("0xCC")
	require.NotNil(t, pl)

	// Same address from a second connection without the reconnect token.
	imposter, _ := server.NewLocalSession("sid2")
	opts := server.JoinOptions{Room: r.id, Address: "0xCC"}
	prep, err := r.PrepareJoin(context.Background(), opts)
	require.NoError(t, err)
	err = r.OnJoin(imposter, opts, prep)
	require.EqualError(t, err, "address_in_use")
	assert.Equal(t, "sid1", pl.SessionID, "live slot stays with its session")

	// The gateway-verified token takes the slot over.
	taker, _ := server.NewLocalSession("sid3")
	opts.Reconnect = true
	prep, err = r.PrepareJoin(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, r.OnJoin(taker, opts, prep))
	assert.Equal(t, "sid3", pl.SessionID)
	assert.Len(t, r.sim.Players, 1, "takeover never mints a second slot")
	_, stillMapped := r.bySID["sid1"]
	assert.False(t, stillMapped, "old session detached")
	assert.Equal(t, 1, r.deps.Registry.Snapshot().TotalPlayers)
}

func TestCaptureEliminationSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	r := newTestGalaxy(t, dir, "galaxy-war")
	sess, _ := joinGalaxy(t, r, "sid1", "0xAA")

	attacker := r.sim.PlayerByAddress("0xAA")
	require.NotNil(t, attacker)
	home := r.sim.PlanetByID(attacker.HomeID)
	home.Units = 800

	// Hand-place a rival on a planet near the attacker's home so the
	// assault stays inside the decay-free range.
	target := nearestCandidate(r.sim, home, 1800)
	require.NotNil(t, target, "generated galaxy must offer a nearby home")
	rival := &Player{ID: 50, Address: "0xDD", Name: "rival", HomeID: target.ID, Alive: true}
	r.sim.Players = append(r.sim.Players, rival)
	r.claimHome(rival, target)
	target.Units = 50

	launchFull(t, r, sess, target.ID)

	deadline := time.Now()
	for i := 0; i < 1200 && rival.Alive; i++ {
		deadline = deadline.Add(TickInterval)
		r.Tick(deadline)
	}
	require.False(t, rival.Alive, "rival must be eliminated after losing their home")
	assert.Equal(t, attacker.ID, target.OwnerID)

	r.Dispose()

	// Cold restart: same galaxy id regenerates geometry and overlays the save.
	r2 := newTestGalaxy(t, dir, "galaxy-war")
	restored := r2.sim.PlanetByID(target.ID)
	assert.Equal(t, attacker.ID, restored.OwnerID)
	rp := r2.sim.PlayerByID(50)
	require.NotNil(t, rp)
	assert.False(t, rp.Alive)
	ra := r2.sim.PlayerByAddress("0xAA")
	require.NotNil(t, ra)
	assert.True(t, ra.Alive)
}

// launchFull sends everything on the session owner's home at toID.
func launchFull(t *testing.T, r *Room, sess *server.Session, toID int) {
	t.Helper()
	pl := r.sim.PlayerByID(r.bySID[sess.ID])
	require.NotNil(t, pl)
	_, err := r.sim.LaunchAttack(pl.ID, pl.HomeID, toID, 100, false)
	require.NoError(t, err)
}

// nearestCandidate finds a regular planet within maxDist of from.
func nearestCandidate(s *Sim, from *galaxy.Planet, maxDist float64) *galaxy.Planet {
	var best *galaxy.Planet
	bestDist := maxDist
	for _, p := range s.Planets {
		if p.ID == from.ID || p.IsSun() || p.IsBlackHole || p.IsMoon || p.OwnerID != galaxy.NeutralOwner {
			continue
		}
		if d := game.Distance(from.X, from.Y, p.X, p.Y); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

func TestSeedOptionRegeneratesFreshGalaxy(t *testing.T) {
	r := newTestGalaxy(t, t.TempDir(), "galaxy-seeded")
	seed := uint32(12345)
	sess, _ := server.NewLocalSession("sid1")
	opts := server.JoinOptions{Room: r.id, Address: "0xEE", Seed: &seed}
	prep, err := r.PrepareJoin(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, r.OnJoin(sess, opts, prep))
	assert.Equal(t, seed, r.seed)
}

func TestEmptyGalaxyDisposesAfterGrace(t *testing.T) {
	r := newTestGalaxy(t, t.TempDir(), "galaxy-empty")
	sess, _ := joinGalaxy(t, r, "sid1", "0xCC")
	r.OnLeave(sess)

	r.Tick(time.Now())
	assert.False(t, r.Disposed())

	r.emptySince = time.Now().Add(-reconnectGrace - time.Second)
	r.Tick(time.Now())
	assert.True(t, r.Disposed())
}

func TestOfflinePlayersPersistAcrossReload(t *testing.T) {
	dir := t.TempDir()
	r := newTestGalaxy(t, dir, "galaxy-offline")
	sess, _ := joinGalaxy(t, r, "sid1", "0xCC")
	pl := r.sim.PlayerByAddress("0xCC")
	home := pl.HomeID
	r.OnLeave(sess)
	r.Dispose()

	r2 := newTestGalaxy(t, dir, "galaxy-offline")
	restored := r2.sim.PlayerByAddress("0xCC")
	require.NotNil(t, restored)
	assert.Equal(t, home, restored.HomeID)
	assert.True(t, restored.Alive)
	assert.False(t, restored.Online())
}
