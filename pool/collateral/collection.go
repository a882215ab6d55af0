package collateral

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollectionGate admits every token of a single collection.
type CollectionGate struct {
	collection common.Address
}

// NewCollectionGate returns a gate for the given collection contract.
func NewCollectionGate(collection common.Address) *CollectionGate {
	return &CollectionGate{collection: collection}
}

// Name implements the Gate interface.
func (g *CollectionGate) Name() string { return "collection" }

// Supported implements the Gate interface.
func (g *CollectionGate) Supported(token common.Address, tokenID *big.Int, _ []byte) bool {
	return tokenID != nil && token == g.collection
}

// CollectionSetGate admits every token of any collection in a fixed set.
type CollectionSetGate struct {
	collections map[common.Address]struct{}
}

// NewCollectionSetGate returns a gate admitting the given collections.
func NewCollectionSetGate(collections []common.Address) *CollectionSetGate {
	set := make(map[common.Address]struct{}, len(collections))
	for _, c := range collections {
		set[c] = struct{}{}
	}
	return &CollectionSetGate{collections: set}
}

// Name implements the Gate interface.
func (g *CollectionSetGate) Name() string { return "collection-set" }

// Supported implements the Gate interface.
func (g *CollectionSetGate) Supported(token common.Address, tokenID *big.Int, _ []byte) bool {
	if tokenID == nil {
		return false
	}
	_, ok := g.collections[token]
	return ok
}
