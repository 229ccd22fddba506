package ticket

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Bonuses are the stat deltas granted by holding partner NFTs. They are
// snapshotted at join and immutable for the rest of the match.
type Bonuses struct {
	Count      int `json:"count"`
	ArmorRegen int `json:"armorRegen"`
	MaxHPBonus int `json:"maxHpBonus"`
	CritBonus  int `json:"critBonus"`
	DmgBonus   int `json:"dmgBonus"`
}

// BonusesForCount maps an NFT balance to stat deltas.
func BonusesForCount(count int) Bonuses {
	if count < 0 {
		count = 0
	}
	if count > 10000 {
		count = 10000
	}
	b := Bonuses{Count: count, ArmorRegen: 1}
	if count >= 1 {
		b.ArmorRegen = 2
	}
	if count >= 2 {
		b.MaxHPBonus = 5
	}
	if count >= 3 {
		b.CritBonus = 2
	}
	if count >= 5 {
		b.DmgBonus = 3
	}
	return b
}

// BalanceReader reads an ERC-721 balance. Tests substitute a fake.
type BalanceReader interface {
	BalanceOf(ctx context.Context, address string) (int, error)
}

const erc721ABI = `[{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`

type ethBalanceReader struct {
	client       *ethclient.Client
	abi          abi.ABI
	contractAddr common.Address
}

// DialBalanceReader connects to the NFT contract for balance reads.
func DialBalanceReader(ctx context.Context, rpcURL, contractAddress string) (BalanceReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial nft rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc721 abi: %w", err)
	}
	return &ethBalanceReader{client: client, abi: parsed, contractAddr: common.HexToAddress(contractAddress)}, nil
}

func (r *ethBalanceReader) BalanceOf(ctx context.Context, address string) (int, error) {
	data, err := r.abi.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return 0, fmt.Errorf("pack balanceOf: %w", err)
	}
	res, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.contractAddr, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("call balanceOf: %w", err)
	}
	out, err := r.abi.Unpack("balanceOf", res)
	if err != nil {
		return 0, fmt.Errorf("unpack balanceOf: %w", err)
	}
	return int(out[0].(*big.Int).Int64()), nil
}

// BonusConfig wires the NFT bonus service from the environment.
type BonusConfig struct {
	RPCURL          string
	ContractAddress string
	Enabled         bool
	TTL             time.Duration
}

const (
	bonusTTLDefault = 60 * time.Second
	bonusTTLMin     = 5 * time.Second
	bonusTTLMax     = 10 * time.Minute
)

type cachedBonus struct {
	bonuses Bonuses
	at      time.Time
}

// BonusService reads NFT balances with a bounded TTL cache. Concurrent
// lookups for the same address may race to the upstream; results are
// idempotent so the last write wins harmlessly.
type BonusService struct {
	reader  BalanceReader
	enabled bool
	ttl     time.Duration
	log     zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedBonus
}

// NewBonusService builds the service; reader may be nil when disabled.
func NewBonusService(cfg BonusConfig, reader BalanceReader, log zerolog.Logger) *BonusService {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = bonusTTLDefault
	}
	if ttl < bonusTTLMin {
		ttl = bonusTTLMin
	}
	if ttl > bonusTTLMax {
		ttl = bonusTTLMax
	}
	return &BonusService{
		reader:  reader,
		enabled: cfg.Enabled && reader != nil,
		ttl:     ttl,
		log:     log.With().Str("component", "nft_bonus").Logger(),
		cache:   make(map[string]cachedBonus),
	}
}

// BonusesOf returns the stat deltas for an address. Disabled service or
// upstream failure yields the zero-count bonuses.
func (s *BonusService) BonusesOf(ctx context.Context, address string) Bonuses {
	if !s.enabled {
		return BonusesForCount(0)
	}
	key := strings.ToLower(address)

	s.mu.Lock()
	if c, ok := s.cache[key]; ok && time.Since(c.at) < s.ttl {
		s.mu.Unlock()
		return c.bonuses
	}
	s.mu.Unlock()

	count, err := s.reader.BalanceOf(ctx, address)
	if err != nil {
		s.log.Warn().Err(err).Str("address", address).Msg("nft balance read failed")
		return BonusesForCount(0)
	}
	b := BonusesForCount(count)
	s.mu.Lock()
	s.cache[key] = cachedBonus{bonuses: b, at: time.Now()}
	s.mu.Unlock()
	return b
}
