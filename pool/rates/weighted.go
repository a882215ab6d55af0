package rates

import "math/big"

// WeightedRateModel charges a flat annual rate and splits interest across the
// contributing tranches by a configured per-depth weight. Tranches that
// contributed no principal receive no interest regardless of their weight.
type WeightedRateModel struct {
	rate          *big.Rat
	weights       map[string]*big.Int
	defaultWeight *big.Int
}

// NewWeightedRateModel constructs a weighted model with the given annual rate
// in basis points. Depths without an explicit weight use defaultWeight; a
// defaultWeight below one is treated as one.
func NewWeightedRateModel(rateBps, defaultWeight uint64) *WeightedRateModel {
	if defaultWeight == 0 {
		defaultWeight = 1
	}
	return &WeightedRateModel{
		rate:          ratFromBps(rateBps),
		weights:       make(map[string]*big.Int),
		defaultWeight: new(big.Int).SetUint64(defaultWeight),
	}
}

// SetWeight assigns the distribution weight for a depth.
func (m *WeightedRateModel) SetWeight(depth *big.Int, weight uint64) {
	if depth == nil {
		return
	}
	m.weights[depth.String()] = new(big.Int).SetUint64(weight)
}

func (m *WeightedRateModel) weightFor(depth *big.Int) *big.Int {
	if w, ok := m.weights[depth.String()]; ok {
		return w
	}
	return m.defaultWeight
}

// Name implements the Model interface.
func (m *WeightedRateModel) Name() string { return "weighted" }

// Price implements the Model interface.
func (m *WeightedRateModel) Price(principal *big.Int, duration uint64, allocation []Node, _ *big.Rat) (*big.Int, error) {
	if principal == nil || principal.Sign() <= 0 {
		return nil, errInvalidPrincipal
	}
	if err := validateAllocation(allocation); err != nil {
		return nil, err
	}
	interest := simpleInterest(principal, m.rate, duration)
	return new(big.Int).Add(principal, interest), nil
}

// Distribute implements the Model interface.
func (m *WeightedRateModel) Distribute(totalInterest *big.Int, allocation []Node) ([]*big.Int, error) {
	if totalInterest == nil || totalInterest.Sign() < 0 {
		return nil, errInvalidInterest
	}
	if err := validateAllocation(allocation); err != nil {
		return nil, err
	}
	weights := make([]*big.Int, len(allocation))
	for i, node := range allocation {
		if node.Used.Sign() > 0 {
			weights[i] = m.weightFor(node.Depth)
		} else {
			weights[i] = new(big.Int)
		}
	}
	return distributeByWeight(totalInterest, weights), nil
}
