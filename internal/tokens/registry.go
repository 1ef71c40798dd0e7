// Package tokens holds the static token reference data for the configured chain.
package tokens

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AccountantBot/coordinator/internal/models"
)

// ErrUnknownToken is returned when an address is not in the registry.
var ErrUnknownToken = errors.New("unknown token")

// Chain ids of the networks the coordinator ships defaults for.
const (
	ScrollChainID        uint64 = 534352
	ScrollSepoliaChainID uint64 = 534351
)

// DefaultTokens returns the stablecoins supported on Scroll mainnet.
func DefaultTokens() []models.Token {
	return []models.Token{
		{Address: "0x06eFdBFf2a14a7c8E15944D1F4A48F9F95F663A4", Symbol: "USDC", Decimals: 6, ChainID: ScrollChainID},
		{Address: "0xf55BEC9cafDbE8730f096Aa55dad6D22d44099Df", Symbol: "USDT", Decimals: 6, ChainID: ScrollChainID},
	}
}

// Registry is an immutable, case-insensitive lookup of tokens by address.
type Registry struct {
	tokens  []models.Token
	byAddr  map[string]models.Token
	chainID uint64
}

// NewRegistry validates tokens and indexes them. All tokens must belong to chainID.
func NewRegistry(chainID uint64, tokens []models.Token) (*Registry, error) {
	r := &Registry{
		byAddr:  make(map[string]models.Token, len(tokens)),
		chainID: chainID,
	}
	for _, t := range tokens {
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("token %s: invalid address %q", t.Symbol, t.Address)
		}
		if t.Symbol == "" {
			return nil, fmt.Errorf("token %s: symbol required", t.Address)
		}
		if t.ChainID != chainID {
			return nil, fmt.Errorf("token %s: chain id %d does not match %d", t.Symbol, t.ChainID, chainID)
		}
		key := models.AddressKey(t.Address)
		if _, dup := r.byAddr[key]; dup {
			return nil, fmt.Errorf("token %s: duplicate address %s", t.Symbol, t.Address)
		}
		t.Address = common.HexToAddress(t.Address).Hex()
		r.byAddr[key] = t
		r.tokens = append(r.tokens, t)
	}
	sort.Slice(r.tokens, func(i, j int) bool { return r.tokens[i].Symbol < r.tokens[j].Symbol })
	return r, nil
}

// ChainID returns the chain all tokens belong to.
func (r *Registry) ChainID() uint64 {
	return r.chainID
}

// List returns all tokens ordered by symbol.
func (r *Registry) List() []models.Token {
	out := make([]models.Token, len(r.tokens))
	copy(out, r.tokens)
	return out
}

// Lookup finds a token by address, ignoring case.
func (r *Registry) Lookup(address string) (models.Token, error) {
	t, ok := r.byAddr[models.AddressKey(address)]
	if !ok {
		return models.Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, address)
	}
	return t, nil
}
