package combat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronkeverse/ufo-server/profile"
	"github.com/ronkeverse/ufo-server/replay"
	"github.com/ronkeverse/ufo-server/server"
	"github.com/ronkeverse/ufo-server/ticket"
)

type resolveCall struct {
	loserTokenID  uint64
	winnerAddress string
}

// fakeTicketContract owns tokens in memory and records settlements.
type fakeTicketContract struct {
	mu       sync.Mutex
	owners   map[uint64]string
	resolved []resolveCall
}

func (f *fakeTicketContract) ActiveTokenIdOf(_ context.Context, owner string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, o := range f.owners {
		if strings.EqualFold(o, owner) {
			return id, nil
		}
	}
	return 0, nil
}

func (f *fakeTicketContract) OwnerOf(_ context.Context, tokenID uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owners[tokenID], nil
}

func (f *fakeTicketContract) IsDestroyed(context.Context, uint64) (bool, error) { return false, nil }

func (f *fakeTicketContract) StatsOf(context.Context, uint64) (ticket.Stats, error) {
	return ticket.Stats{MaxHP: 100, MaxArmor: 50, Dmg: 10, CritChance: 5, Accuracy: 100, MaxFuel: 100}, nil
}

func (f *fakeTicketContract) ResolveMatch(_ context.Context, loserTokenID uint64, winnerAddress string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, resolveCall{loserTokenID, winnerAddress})
	return "0xdeadbeef", nil
}

func (f *fakeTicketContract) resolveCalls() []resolveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resolveCall(nil), f.resolved...)
}

type testRoom struct {
	room     *Room
	contract *fakeTicketContract
	tickets  *ticket.Service
	store    *replay.Store
}

func newTestRoom(t *testing.T, name string) *testRoom {
	t.Helper()
	log := zerolog.Nop()
	contract := &fakeTicketContract{owners: map[uint64]string{1: "0xAA", 2: "0xBB"}}
	tickets := ticket.NewService(ticket.Config{RPCURL: "test", ContractAddress: "0x1"}, contract, log)
	t.Cleanup(tickets.Close)
	store := replay.NewStore(replay.StoreConfig{Mode: "local", Dir: t.TempDir()}, log)

	deps := Deps{
		Registry: server.NewRegistry(),
		Tickets:  tickets,
		Bonuses:  ticket.NewBonusService(ticket.BonusConfig{Enabled: false}, nil, log),
		Profiles: profile.NewService(profile.Config{}, log),
		Replays:  store,
		Log:      log,
	}
	r := newRoom(name, name, deps)
	r.roll = rollSeq(0.9, 0.5) // no crit, variance 0.75
	return &testRoom{room: r, contract: contract, tickets: tickets, store: store}
}

func (tr *testRoom) join(t *testing.T, sid, address string, tokenID uint64) (*server.Session, <-chan server.ServerMessage) {
	t.Helper()
	sess, out := server.NewLocalSession(sid)
	opts := server.JoinOptions{Room: tr.room.id, Name: sid, Address: address, TokenID: tokenID}
	prep, err := tr.room.PrepareJoin(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, tr.room.OnJoin(sess, opts, prep))
	return sess, out
}

func (tr *testRoom) input(sess *server.Session, payload string) {
	tr.room.OnMessage(sess, server.ClientMessage{Type: "player_input", Data: json.RawMessage(payload)})
}

func (tr *testRoom) ready(sess *server.Session) {
	tr.room.OnMessage(sess, server.ClientMessage{Type: "player_ready", Data: json.RawMessage(`{"ready":true}`)})
}

func drainTypes(ch <-chan server.ServerMessage) map[string]int {
	seen := map[string]int{}
	for {
		select {
		case msg := <-ch:
			seen[msg.Type]++
		default:
			return seen
		}
	}
}

func TestMatchClearWinnerWithSettlement(t *testing.T) {
	tr := newTestRoom(t, "pvp-arena1")
	a, outA := tr.join(t, "sidA", "0xAA", 1)
	b, outB := tr.join(t, "sidB", "0xBB", 2)

	tr.ready(a)
	tr.ready(b)
	require.Equal(t, phasePlaying, tr.room.phase)
	require.True(t, tr.room.locked)

	// A fires a bullet, then reports the hit within the window.
	tr.input(a, `{"type":"bullet","timestamp":1000,"vx":400,"vy":0}`)
	tr.room.players["sidB"].Armor = 0
	tr.input(a, `{"type":"hit","timestamp":1150,"projType":"bullet","targetSid":"sidB","damage":999,"isCrit":true}`)

	pa, pb := tr.room.players["sidA"], tr.room.players["sidB"]
	assert.Equal(t, 96.0, pb.HP, "server recomputes damage; client 999 ignored")
	assert.Equal(t, 100.0, pa.HP)

	// Force the 90 s timeout; A leads on HP.
	tr.room.matchDeadline = time.Now().Add(-time.Second)
	tr.room.Tick(time.Now())

	assert.Equal(t, phaseEnded, tr.room.phase)
	assert.Equal(t, "timeout", tr.room.endReason)
	assert.Equal(t, "sidA", tr.room.winnerSID)

	assert.Eventually(t, func() bool {
		calls := tr.contract.resolveCalls()
		return len(calls) == 1 && calls[0] == resolveCall{2, "0xAA"}
	}, 2*time.Second, 10*time.Millisecond, "settlement queued exactly once: burn loser token 2, pay 0xAA")

	typesA, typesB := drainTypes(outA), drainTypes(outB)
	assert.Positive(t, typesA["match_end"])
	assert.Positive(t, typesB["match_end"])
}

func TestHitWithoutFireDropped(t *testing.T) {
	tr := newTestRoom(t, "pvp-arena2")
	a, _ := tr.join(t, "sidA", "0xAA", 1)
	b, _ := tr.join(t, "sidB", "0xBB", 2)
	tr.ready(a)
	tr.ready(b)

	rejected := `{"type":"hit","projType":"bullet","targetSid":"sidB","damage":999}`
	tr.input(a, rejected)

	pb := tr.room.players["sidB"]
	assert.Equal(t, 100.0, pb.HP)
	assert.Equal(t, 50.0, pb.Armor)

	// The rejected packet is still in the replay, verbatim.
	id := tr.room.recorder.ID()
	tr.room.Dispose()
	data, err := tr.store.Read(id)
	require.NoError(t, err)
	var rec replay.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	found := false
	for _, in := range rec.Inputs {
		if string(in.Msg) == rejected {
			found = true
		}
	}
	assert.True(t, found, "rejected input must be recorded verbatim")
}

func TestLeaveDuringMatchSettlesForRemaining(t *testing.T) {
	tr := newTestRoom(t, "pvp-arena3")
	a, _ := tr.join(t, "sidA", "0xAA", 1)
	b, outB := tr.join(t, "sidB", "0xBB", 2)
	tr.ready(a)
	tr.ready(b)
	require.Equal(t, phasePlaying, tr.room.phase)

	tr.room.OnLeave(a)

	assert.Equal(t, phaseEnded, tr.room.phase)
	assert.Equal(t, "player_left", tr.room.endReason)
	assert.Equal(t, "sidB", tr.room.winnerSID)

	// The leaver's token id survived long enough to settle.
	assert.Eventually(t, func() bool {
		calls := tr.contract.resolveCalls()
		return len(calls) == 1 && calls[0] == resolveCall{1, "0xBB"}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Positive(t, drainTypes(outB)["match_end"])
}

func TestFunRoomSkipsTicketsAndSettlement(t *testing.T) {
	tr := newTestRoom(t, "fun-casual")
	a, _ := tr.join(t, "sidA", "0xAA", 0)
	b, _ := tr.join(t, "sidB", "0xBB", 0)
	tr.ready(a)
	tr.ready(b)

	assert.Zero(t, tr.room.players["sidA"].TicketTokenID)
	tr.room.OnLeave(b)
	assert.Equal(t, "sidA", tr.room.winnerSID)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, tr.contract.resolveCalls(), "fun rooms never settle")
}

func TestRoomFullAndLocked(t *testing.T) {
	tr := newTestRoom(t, "pvp-arena4")
	a, _ := tr.join(t, "sidA", "0xAA", 1)
	b, _ := tr.join(t, "sidB", "0xBB", 2)

	third, _ := server.NewLocalSession("sidC")
	opts := server.JoinOptions{Room: tr.room.id, Address: "0xAA"}
	prep, err := tr.room.PrepareJoin(context.Background(), opts)
	require.NoError(t, err)
	assert.EqualError(t, tr.room.OnJoin(third, opts, prep), "room_full")

	tr.ready(a)
	tr.ready(b)
	tr.room.OnLeave(b)
	// A seat opened, but the room is locked for the rest of the match.
	assert.EqualError(t, tr.room.OnJoin(third, opts, prep), "room_locked")
}

func TestJoinRequiresAddress(t *testing.T) {
	tr := newTestRoom(t, "pvp-arena5")
	_, err := tr.room.PrepareJoin(context.Background(), server.JoinOptions{Room: tr.room.id})
	assert.EqualError(t, err, "address_required")
}

func TestLobbyTimeoutDisposes(t *testing.T) {
	tr := newTestRoom(t, "pvp-arena6")
	_, out := tr.join(t, "sidA", "0xAA", 1)

	tr.room.lobbyDeadline = time.Now().Add(-time.Second)
	tr.room.Tick(time.Now())

	assert.True(t, tr.room.Disposed())
	assert.Positive(t, drainTypes(out)["lobby_timeout"])
}

func TestLobbyLeaveRestartsOpponentWait(t *testing.T) {
	tr := newTestRoom(t, "pvp-arena10")
	a, _ := tr.join(t, "sidA", "0xAA", 1)
	b, _ := tr.join(t, "sidB", "0xBB", 2)
	tr.ready(a) // B bails before readying

	staleReady := tr.room.readyDeadline
	require.False(t, staleReady.IsZero())
	tr.room.OnLeave(b)

	assert.True(t, tr.room.readyDeadline.IsZero())
	assert.False(t, tr.room.players["sidA"].Ready, "solo player re-readies against the next opponent")
	assert.Greater(t, tr.room.lobbyDeadline.Sub(time.Now()), readyWait,
		"remaining player gets a full opponent wait, not the stale ready window")

	// Ticking past the old ready deadline must not cancel the lobby.
	tr.room.Tick(staleReady.Add(time.Second))
	assert.False(t, tr.room.Disposed())
}

func TestReadyTimeoutCancelsMatch(t *testing.T) {
	tr := newTestRoom(t, "pvp-arena7")
	a, _ := tr.join(t, "sidA", "0xAA", 1)
	_, outB := tr.join(t, "sidB", "0xBB", 2)
	tr.ready(a) // B never readies

	tr.room.readyDeadline = time.Now().Add(-time.Second)
	tr.room.Tick(time.Now())

	assert.True(t, tr.room.Disposed())
	assert.Positive(t, drainTypes(outB)["match_cancelled"])
}

func TestPlayerDiedEndsMatch(t *testing.T) {
	tr := newTestRoom(t, "pvp-arena8")
	a, _ := tr.join(t, "sidA", "0xAA", 1)
	b, _ := tr.join(t, "sidB", "0xBB", 2)
	tr.ready(a)
	tr.ready(b)

	pb := tr.room.players["sidB"]
	pb.Armor = 0
	pb.HP = 1

	tr.input(a, `{"type":"bullet","vx":400,"vy":0}`)
	tr.input(a, `{"type":"hit","projType":"bullet","targetSid":"sidB"}`)

	assert.True(t, pb.dead())
	assert.Equal(t, phaseEnded, tr.room.phase)
	assert.Equal(t, "player_died", tr.room.endReason)
	assert.Equal(t, "sidA", tr.room.winnerSID)
}

func TestTimeoutTieHasNoWinner(t *testing.T) {
	tr := newTestRoom(t, "pvp-arena9")
	a, _ := tr.join(t, "sidA", "0xAA", 1)
	b, _ := tr.join(t, "sidB", "0xBB", 2)
	tr.ready(a)
	tr.ready(b)

	tr.room.matchDeadline = time.Now().Add(-time.Second)
	tr.room.Tick(time.Now())

	assert.Equal(t, "", tr.room.winnerSID)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, tr.contract.resolveCalls(), "draws never settle")
}
