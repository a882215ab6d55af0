package rates

import (
	"errors"
	"math/big"
)

var (
	errInvalidPrincipal  = errors.New("rate model: principal must be positive")
	errInvalidInterest   = errors.New("rate model: interest must be non-negative")
	errEmptyAllocation   = errors.New("rate model: allocation must not be empty")
	errInvalidAllocation = errors.New("rate model: allocation node missing amounts")
)

const secondsPerYear = 31_536_000

var basisPoints = big.NewInt(10_000)

func ratFromBps(bps uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(bps), basisPoints)
}

// Node describes one tranche's contribution to a loan at pricing time. Depth
// identifies the tranche, Used is the principal sourced from it and Available
// is the liquidity it retains, so models can derive per-tranche utilisation.
type Node struct {
	Depth     *big.Int
	Used      *big.Int
	Available *big.Int
}

// Model prices a loan against an allocation and splits the resulting interest
// back across the contributing tranches. Implementations are pure functions
// of their parameters and the node state passed in.
type Model interface {
	Name() string
	// Price returns the total repayment for a loan of the given principal
	// and duration (seconds) sourced per the allocation. The repayment is
	// never below the principal and is non-decreasing in both principal and
	// duration. The utilisation argument is the pool-wide used/(used+available)
	// ratio computed by the caller at quote time.
	Price(principal *big.Int, duration uint64, allocation []Node, utilisation *big.Rat) (*big.Int, error)
	// Distribute splits totalInterest across the allocation. The returned
	// slice is positionally aligned with the allocation and sums exactly to
	// totalInterest; any rounding remainder is assigned to the first
	// (senior-most) node.
	Distribute(totalInterest *big.Int, allocation []Node) ([]*big.Int, error)
}

func validateAllocation(allocation []Node) error {
	if len(allocation) == 0 {
		return errEmptyAllocation
	}
	for _, node := range allocation {
		if node.Depth == nil || node.Used == nil {
			return errInvalidAllocation
		}
	}
	return nil
}

// simpleInterest computes floor(principal * rate * duration / secondsPerYear)
// with a zero floor so repayment never drops below principal.
func simpleInterest(principal *big.Int, rate *big.Rat, duration uint64) *big.Int {
	if rate == nil || rate.Sign() <= 0 || duration == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).Mul(rate, new(big.Rat).SetInt(principal))
	scaled.Mul(scaled, new(big.Rat).SetFrac(new(big.Int).SetUint64(duration), big.NewInt(secondsPerYear)))
	interest := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if interest.Sign() < 0 {
		return big.NewInt(0)
	}
	return interest
}

// distributeByWeight splits totalInterest proportionally to the given weights,
// assigning the rounding remainder to the first node. Nodes with a zero
// weight receive zero. The weights slice must align with the allocation.
func distributeByWeight(totalInterest *big.Int, weights []*big.Int) []*big.Int {
	shares := make([]*big.Int, len(weights))
	total := new(big.Int)
	for _, w := range weights {
		if w != nil && w.Sign() > 0 {
			total.Add(total, w)
		}
	}
	distributed := new(big.Int)
	for i, w := range weights {
		share := new(big.Int)
		if total.Sign() > 0 && w != nil && w.Sign() > 0 {
			share.Mul(totalInterest, w)
			share.Quo(share, total)
		}
		shares[i] = share
		distributed.Add(distributed, share)
	}
	if remainder := new(big.Int).Sub(totalInterest, distributed); remainder.Sign() > 0 {
		shares[0] = new(big.Int).Add(shares[0], remainder)
	}
	return shares
}
