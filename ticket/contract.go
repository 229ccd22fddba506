package ticket

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Stats are the on-chain combat stats of one ticket token.
type Stats struct {
	MaxHP      int `json:"maxHp"`
	MaxArmor   int `json:"maxArmor"`
	Dmg        int `json:"dmg"`
	CritChance int `json:"critChance"`
	Accuracy   int `json:"accuracy"`
	MaxFuel    int `json:"maxFuel"`
}

// Contract is the call surface of the ticket contract. The live
// implementation talks JSON-RPC; tests substitute a fake.
type Contract interface {
	ActiveTokenIdOf(ctx context.Context, owner string) (uint64, error)
	OwnerOf(ctx context.Context, tokenID uint64) (string, error)
	IsDestroyed(ctx context.Context, tokenID uint64) (bool, error)
	StatsOf(ctx context.Context, tokenID uint64) (Stats, error)
	ResolveMatch(ctx context.Context, loserTokenID uint64, winnerAddress string) (string, error)
}

const ticketABI = `[
  {"name":"activeTokenIdOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"ownerOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"name":"isDestroyed","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"statsOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[
    {"name":"maxHp","type":"uint256"},{"name":"maxArmor","type":"uint256"},{"name":"dmg","type":"uint256"},
    {"name":"critChance","type":"uint256"},{"name":"accuracy","type":"uint256"},{"name":"maxFuel","type":"uint256"}]},
  {"name":"resolveMatch","type":"function","stateMutability":"nonpayable","inputs":[{"name":"loserTokenId","type":"uint256"},{"name":"winner","type":"address"}],"outputs":[]}
]`

const resolveGasLimit = 300_000

// ethContract is the live Contract backed by an RPC node and a signer key.
type ethContract struct {
	client       *ethclient.Client
	abi          abi.ABI
	contractAddr common.Address
	signerKey    *ecdsa.PrivateKey
	signerAddr   common.Address
	chainID      *big.Int
}

// DialContract connects to the RPC node and prepares the signer. The private
// key is optional for read-only use; ResolveMatch then fails cleanly.
func DialContract(ctx context.Context, rpcURL, contractAddress, signerKeyHex string) (Contract, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ticket rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(ticketABI))
	if err != nil {
		return nil, fmt.Errorf("parse ticket abi: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}

	c := &ethContract{
		client:       client,
		abi:          parsed,
		contractAddr: common.HexToAddress(contractAddress),
		chainID:      chainID,
	}
	if signerKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(signerKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse signer key: %w", err)
		}
		c.signerKey = key
		c.signerAddr = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

func (c *ethContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.contractAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func (c *ethContract) ActiveTokenIdOf(ctx context.Context, owner string) (uint64, error) {
	out, err := c.call(ctx, "activeTokenIdOf", common.HexToAddress(owner))
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Uint64(), nil
}

func (c *ethContract) OwnerOf(ctx context.Context, tokenID uint64) (string, error) {
	out, err := c.call(ctx, "ownerOf", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return "", err
	}
	return out[0].(common.Address).Hex(), nil
}

func (c *ethContract) IsDestroyed(ctx context.Context, tokenID uint64) (bool, error) {
	out, err := c.call(ctx, "isDestroyed", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (c *ethContract) StatsOf(ctx context.Context, tokenID uint64) (Stats, error) {
	out, err := c.call(ctx, "statsOf", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return Stats{}, err
	}
	toInt := func(i int) int { return int(out[i].(*big.Int).Int64()) }
	return Stats{
		MaxHP:      toInt(0),
		MaxArmor:   toInt(1),
		Dmg:        toInt(2),
		CritChance: toInt(3),
		Accuracy:   toInt(4),
		MaxFuel:    toInt(5),
	}, nil
}

// ResolveMatch burns the loser's ticket and pays out the winner. Nonce
// management is manual; callers must serialize invocations (the Service FIFO
// does) so the signer's nonce sequence stays deterministic.
func (c *ethContract) ResolveMatch(ctx context.Context, loserTokenID uint64, winnerAddress string) (string, error) {
	if c.signerKey == nil {
		return "", fmt.Errorf("no signer key configured")
	}
	data, err := c.abi.Pack("resolveMatch", new(big.Int).SetUint64(loserTokenID), common.HexToAddress(winnerAddress))
	if err != nil {
		return "", fmt.Errorf("pack resolveMatch: %w", err)
	}
	nonce, err := c.client.PendingNonceAt(ctx, c.signerAddr)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, c.contractAddr, big.NewInt(0), resolveGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.signerKey)
	if err != nil {
		return "", fmt.Errorf("sign resolveMatch: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send resolveMatch: %w", err)
	}
	return signed.Hash().Hex(), nil
}
