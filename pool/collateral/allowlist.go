package collateral

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AllowlistGate admits only explicitly listed (token, tokenID) pairs.
type AllowlistGate struct {
	entries map[common.Address]map[string]struct{}
}

// NewAllowlistGate returns an empty allow-list gate.
func NewAllowlistGate() *AllowlistGate {
	return &AllowlistGate{entries: make(map[common.Address]map[string]struct{})}
}

// Add lists a collateral token. A nil tokenID is ignored.
func (g *AllowlistGate) Add(token common.Address, tokenID *big.Int) {
	if tokenID == nil {
		return
	}
	ids, ok := g.entries[token]
	if !ok {
		ids = make(map[string]struct{})
		g.entries[token] = ids
	}
	ids[tokenID.String()] = struct{}{}
}

// Remove delists a collateral token.
func (g *AllowlistGate) Remove(token common.Address, tokenID *big.Int) {
	if tokenID == nil {
		return
	}
	if ids, ok := g.entries[token]; ok {
		delete(ids, tokenID.String())
		if len(ids) == 0 {
			delete(g.entries, token)
		}
	}
}

// Name implements the Gate interface.
func (g *AllowlistGate) Name() string { return "allowlist" }

// Supported implements the Gate interface.
func (g *AllowlistGate) Supported(token common.Address, tokenID *big.Int, _ []byte) bool {
	if tokenID == nil {
		return false
	}
	ids, ok := g.entries[token]
	if !ok {
		return false
	}
	_, ok = ids[tokenID.String()]
	return ok
}
