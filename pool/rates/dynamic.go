package rates

import "math/big"

// DynamicRateModel interpolates the annual rate between a minimum and a
// maximum bound as pool-wide utilisation crosses a configured target. Below
// the target the rate climbs gently from the minimum to the midpoint; past
// the target it climbs steeply towards the maximum, discouraging
// over-utilisation without a hard cap.
type DynamicRateModel struct {
	minRate *big.Rat
	maxRate *big.Rat
	target  *big.Rat
}

// NewDynamicRateModel constructs a dynamic model from basis-point inputs,
// e.g. minBps 100, maxBps 2500, targetBps 8000. The target is clamped to
// (0, 10000].
func NewDynamicRateModel(minBps, maxBps, targetBps uint64) *DynamicRateModel {
	lo := ratFromBps(minBps)
	hi := ratFromBps(maxBps)
	if hi.Cmp(lo) < 0 {
		hi.Set(lo)
	}
	if targetBps == 0 || targetBps > 10_000 {
		targetBps = 10_000
	}
	return &DynamicRateModel{minRate: lo, maxRate: hi, target: ratFromBps(targetBps)}
}

// Name implements the Model interface.
func (m *DynamicRateModel) Name() string { return "dynamic" }

// RateAt returns the annual rate for the given pool-wide utilisation.
func (m *DynamicRateModel) RateAt(utilisation *big.Rat) *big.Rat {
	u := new(big.Rat)
	if utilisation != nil {
		u.Set(utilisation)
	}
	one := big.NewRat(1, 1)
	if u.Sign() < 0 {
		u.SetInt64(0)
	}
	if u.Cmp(one) > 0 {
		u.Set(one)
	}

	span := new(big.Rat).Sub(m.maxRate, m.minRate)
	mid := new(big.Rat).Add(m.minRate, new(big.Rat).Mul(span, big.NewRat(1, 2)))

	if u.Cmp(m.target) <= 0 {
		// min -> midpoint over [0, target].
		frac := new(big.Rat).Quo(u, m.target)
		step := new(big.Rat).Sub(mid, m.minRate)
		return new(big.Rat).Add(m.minRate, step.Mul(step, frac))
	}

	// midpoint -> max over (target, 1].
	headroom := new(big.Rat).Sub(one, m.target)
	if headroom.Sign() == 0 {
		return new(big.Rat).Set(m.maxRate)
	}
	frac := new(big.Rat).Sub(u, m.target)
	frac.Quo(frac, headroom)
	step := new(big.Rat).Sub(m.maxRate, mid)
	return new(big.Rat).Add(mid, step.Mul(step, frac))
}

// Price implements the Model interface.
func (m *DynamicRateModel) Price(principal *big.Int, duration uint64, allocation []Node, utilisation *big.Rat) (*big.Int, error) {
	if principal == nil || principal.Sign() <= 0 {
		return nil, errInvalidPrincipal
	}
	if err := validateAllocation(allocation); err != nil {
		return nil, err
	}
	interest := simpleInterest(principal, m.RateAt(utilisation), duration)
	return new(big.Int).Add(principal, interest), nil
}

// Distribute implements the Model interface. Each node's share is its used
// principal scaled by (1 + tranche utilisation), so heavily drawn tranches
// earn a larger cut of the interest.
func (m *DynamicRateModel) Distribute(totalInterest *big.Int, allocation []Node) ([]*big.Int, error) {
	if totalInterest == nil || totalInterest.Sign() < 0 {
		return nil, errInvalidInterest
	}
	if err := validateAllocation(allocation); err != nil {
		return nil, err
	}
	weights := make([]*big.Int, len(allocation))
	for i, node := range allocation {
		if node.Used.Sign() <= 0 {
			weights[i] = new(big.Int)
			continue
		}
		value := new(big.Int).Set(node.Used)
		if node.Available != nil {
			value.Add(value, node.Available)
		}
		// weight = used * (value + used) / value == used * (1 + used/value),
		// kept in integer arithmetic to stay deterministic.
		weight := new(big.Int).Add(value, node.Used)
		weight.Mul(weight, node.Used)
		weight.Quo(weight, value)
		weights[i] = weight
	}
	return distributeByWeight(totalInterest, weights), nil
}
