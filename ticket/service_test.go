package ticket

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContract is a scripted in-memory ticket contract.
type fakeContract struct {
	mu           sync.Mutex
	activeTokens map[string]uint64
	owners       map[uint64]string
	destroyed    map[uint64]bool
	stats        map[uint64]Stats
	failReads    bool
	resolveDelay time.Duration
	resolved     []uint64
	failResolve  bool
}

func newFakeContract() *fakeContract {
	return &fakeContract{
		activeTokens: map[string]uint64{},
		owners:       map[uint64]string{},
		destroyed:    map[uint64]bool{},
		stats:        map[uint64]Stats{},
	}
}

func (f *fakeContract) ActiveTokenIdOf(_ context.Context, owner string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return 0, fmt.Errorf("rpc down")
	}
	return f.activeTokens[owner], nil
}

func (f *fakeContract) OwnerOf(_ context.Context, tokenID uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return "", fmt.Errorf("rpc down")
	}
	return f.owners[tokenID], nil
}

func (f *fakeContract) IsDestroyed(_ context.Context, tokenID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return false, fmt.Errorf("rpc down")
	}
	return f.destroyed[tokenID], nil
}

func (f *fakeContract) StatsOf(_ context.Context, tokenID uint64) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return Stats{}, fmt.Errorf("rpc down")
	}
	return f.stats[tokenID], nil
}

func (f *fakeContract) ResolveMatch(_ context.Context, loserTokenID uint64, _ string) (string, error) {
	if f.resolveDelay > 0 {
		time.Sleep(f.resolveDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failResolve {
		return "", fmt.Errorf("nonce too low")
	}
	f.resolved = append(f.resolved, loserTokenID)
	return fmt.Sprintf("0xhash%d", loserTokenID), nil
}

func newTestService(t *testing.T, cfg Config, contract Contract) *Service {
	t.Helper()
	s := NewService(cfg, contract, zerolog.Nop())
	t.Cleanup(s.Close)
	return s
}

func TestCheckJoinUnconfigured(t *testing.T) {
	s := newTestService(t, Config{}, nil)
	res := s.CheckJoin(context.Background(), "0xAA", 0)
	assert.True(t, res.OK)
	assert.Equal(t, uint64(0), res.TokenID)

	s2 := newTestService(t, Config{Required: true}, nil)
	res2 := s2.CheckJoin(context.Background(), "0xAA", 0)
	assert.False(t, res2.OK)
	assert.Equal(t, ReasonTicketError, res2.Reason)
}

func TestCheckJoinOwnedToken(t *testing.T) {
	fc := newFakeContract()
	fc.owners[7] = "0xaa"
	s := newTestService(t, Config{Required: true}, fc)

	res := s.CheckJoin(context.Background(), "0xAA", 7)
	assert.True(t, res.OK)
	assert.Equal(t, uint64(7), res.TokenID)
}

func TestCheckJoinFallsBackToActiveToken(t *testing.T) {
	fc := newFakeContract()
	fc.owners[7] = "0xBB" // stale client-supplied token, owned by someone else
	fc.activeTokens["0xAA"] = 9
	fc.owners[9] = "0xAA"
	s := newTestService(t, Config{Required: true}, fc)

	res := s.CheckJoin(context.Background(), "0xAA", 7)
	assert.True(t, res.OK)
	assert.Equal(t, uint64(9), res.TokenID)
}

func TestCheckJoinDestroyedTicketDenied(t *testing.T) {
	fc := newFakeContract()
	fc.activeTokens["0xAA"] = 3
	fc.owners[3] = "0xAA"
	fc.destroyed[3] = true
	s := newTestService(t, Config{Required: true}, fc)

	res := s.CheckJoin(context.Background(), "0xAA", 0)
	assert.False(t, res.OK)
}

func TestCheckJoinNoTicketRequired(t *testing.T) {
	fc := newFakeContract()
	s := newTestService(t, Config{Required: true}, fc)

	res := s.CheckJoin(context.Background(), "0xAA", 0)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonNoTicket, res.Reason)
}

func TestCheckJoinDegradesOpenWhenOptional(t *testing.T) {
	fc := newFakeContract()
	fc.failReads = true
	s := newTestService(t, Config{}, fc)

	res := s.CheckJoin(context.Background(), "0xAA", 0)
	assert.True(t, res.OK)
	assert.Equal(t, uint64(0), res.TokenID)
}

func TestCheckJoinDegradesClosedWhenRequired(t *testing.T) {
	fc := newFakeContract()
	fc.failReads = true
	s := newTestService(t, Config{Required: true}, fc)

	res := s.CheckJoin(context.Background(), "0xAA", 0)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonTicketError, res.Reason)
}

func TestStatsOfCaches(t *testing.T) {
	fc := newFakeContract()
	fc.stats[5] = Stats{MaxHP: 120, MaxArmor: 60, Dmg: 10, CritChance: 5, Accuracy: 90, MaxFuel: 100}
	s := newTestService(t, Config{}, fc)

	st, err := s.StatsOf(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 120, st.MaxHP)

	// Upstream dies; the cached value still serves.
	fc.mu.Lock()
	fc.failReads = true
	fc.mu.Unlock()
	st2, err := s.StatsOf(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, st, st2)
}

// Settlements queued from concurrent rooms must execute in submission order:
// the signer nonce sequence depends on it.
func TestResolveMatchFIFOOrder(t *testing.T) {
	fc := newFakeContract()
	fc.resolveDelay = 5 * time.Millisecond
	s := newTestService(t, Config{}, fc)

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 1; i <= n; i++ {
		s.ResolveMatchBurnAndPayout(uint64(i), "0xWIN", func(string) { wg.Done() })
	}
	wg.Wait()

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.resolved, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, uint64(i+1), fc.resolved[i])
	}
}

func TestResolveMatchErrorYieldsEmptyHash(t *testing.T) {
	fc := newFakeContract()
	fc.failResolve = true
	s := newTestService(t, Config{}, fc)

	got := make(chan string, 1)
	s.ResolveMatchBurnAndPayout(2, "0xAA", func(hash string) { got <- hash })
	select {
	case hash := <-got:
		assert.Equal(t, "", hash)
	case <-time.After(2 * time.Second):
		t.Fatal("settlement callback never fired")
	}
}
