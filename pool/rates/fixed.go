package rates

import "math/big"

// FixedRateModel charges a flat annual rate regardless of utilisation and
// splits interest in proportion to the principal each tranche contributed.
type FixedRateModel struct {
	rate *big.Rat
}

// NewFixedRateModel constructs a fixed model from an annual rate expressed in
// basis points, e.g. 200 for 2% APR.
func NewFixedRateModel(rateBps uint64) *FixedRateModel {
	return &FixedRateModel{rate: ratFromBps(rateBps)}
}

// Name implements the Model interface.
func (m *FixedRateModel) Name() string { return "fixed" }

// Price implements the Model interface.
func (m *FixedRateModel) Price(principal *big.Int, duration uint64, allocation []Node, _ *big.Rat) (*big.Int, error) {
	if principal == nil || principal.Sign() <= 0 {
		return nil, errInvalidPrincipal
	}
	if err := validateAllocation(allocation); err != nil {
		return nil, err
	}
	interest := simpleInterest(principal, m.rate, duration)
	return new(big.Int).Add(principal, interest), nil
}

// Distribute implements the Model interface. Interest is split proportionally
// to each node's used principal.
func (m *FixedRateModel) Distribute(totalInterest *big.Int, allocation []Node) ([]*big.Int, error) {
	if totalInterest == nil || totalInterest.Sign() < 0 {
		return nil, errInvalidInterest
	}
	if err := validateAllocation(allocation); err != nil {
		return nil, err
	}
	weights := make([]*big.Int, len(allocation))
	for i, node := range allocation {
		weights[i] = node.Used
	}
	return distributeByWeight(totalInterest, weights), nil
}
