package collateral

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Gate decides whether a collateral token is eligible to back a loan. The
// context carries variant-specific proof material (e.g. merkle proof
// segments) and implementations must be pure: deterministic with no side
// effects, so quoting and origination always agree.
type Gate interface {
	Name() string
	Supported(token common.Address, tokenID *big.Int, context []byte) bool
}
