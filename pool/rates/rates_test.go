package rates

import (
	"math/big"
	"testing"
)

func node(depth, used, available int64) Node {
	return Node{Depth: big.NewInt(depth), Used: big.NewInt(used), Available: big.NewInt(available)}
}

func TestFixedRatePricesSimpleInterest(t *testing.T) {
	model := NewFixedRateModel(200)
	principal := big.NewInt(1_000_000_000_000_000_000) // 1 token at wei scale
	allocation := []Node{node(15, 1_000_000_000_000_000_000, 9_000_000_000_000_000_000)}

	repayment, err := model.Price(principal, secondsPerYear, allocation, nil)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	want := big.NewInt(1_020_000_000_000_000_000)
	if repayment.Cmp(want) != 0 {
		t.Fatalf("unexpected repayment: got %s want %s", repayment, want)
	}
}

func TestFixedRateNeverBelowPrincipal(t *testing.T) {
	model := NewFixedRateModel(0)
	principal := big.NewInt(777)
	allocation := []Node{node(10, 777, 0)}
	repayment, err := model.Price(principal, secondsPerYear, allocation, nil)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if repayment.Cmp(principal) < 0 {
		t.Fatalf("repayment %s below principal %s", repayment, principal)
	}
}

func TestFixedRateMonotonicInPrincipalAndDuration(t *testing.T) {
	model := NewFixedRateModel(1_000)
	allocation := []Node{node(100, 50, 50)}

	prev := big.NewInt(0)
	for _, p := range []int64{1_000, 10_000, 100_000} {
		repayment, err := model.Price(big.NewInt(p), secondsPerYear, allocation, nil)
		if err != nil {
			t.Fatalf("price principal %d: %v", p, err)
		}
		if repayment.Cmp(prev) < 0 {
			t.Fatalf("repayment decreased with principal: %s < %s", repayment, prev)
		}
		prev = repayment
	}

	prev = big.NewInt(0)
	for _, d := range []uint64{0, secondsPerYear / 12, secondsPerYear, 3 * secondsPerYear} {
		repayment, err := model.Price(big.NewInt(100_000), d, allocation, nil)
		if err != nil {
			t.Fatalf("price duration %d: %v", d, err)
		}
		if repayment.Cmp(prev) < 0 {
			t.Fatalf("repayment decreased with duration: %s < %s", repayment, prev)
		}
		prev = repayment
	}
}

func TestFixedDistributeProportionalToUsage(t *testing.T) {
	model := NewFixedRateModel(200)
	allocation := []Node{node(10, 100, 0), node(20, 300, 0)}
	shares, err := model.Distribute(big.NewInt(400), allocation)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if shares[0].Cmp(big.NewInt(100)) != 0 || shares[1].Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected shares: %s %s", shares[0], shares[1])
	}
}

func TestDistributeConservesTotalWithRemainder(t *testing.T) {
	model := NewFixedRateModel(200)
	allocation := []Node{node(10, 1, 0), node(20, 1, 0), node(30, 1, 0)}
	total := big.NewInt(100)
	shares, err := model.Distribute(total, allocation)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	sum := new(big.Int)
	for _, s := range shares {
		sum.Add(sum, s)
	}
	if sum.Cmp(total) != 0 {
		t.Fatalf("distribution does not conserve total: %s != %s", sum, total)
	}
	// 100/3 rounds to 33 each; the senior-most node takes the extra unit.
	if shares[0].Cmp(big.NewInt(34)) != 0 {
		t.Fatalf("expected remainder on senior node, got %s", shares[0])
	}
}

func TestWeightedDistributeEqualWeights(t *testing.T) {
	model := NewWeightedRateModel(200, 1)
	allocation := []Node{
		node(10, 1, 0),
		node(20, 4, 0),
		node(30, 5, 0),
		node(40, 2, 0),
	}
	total := big.NewInt(2_000_000_000_000_000_000) // 2 tokens
	shares, err := model.Distribute(total, allocation)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	half := big.NewInt(500_000_000_000_000_000)
	for i, s := range shares {
		if s.Cmp(half) != 0 {
			t.Fatalf("node %d: got %s want %s", i, s, half)
		}
	}
}

func TestWeightedDistributeSkipsUnusedNodes(t *testing.T) {
	model := NewWeightedRateModel(200, 1)
	model.SetWeight(big.NewInt(20), 3)
	allocation := []Node{node(10, 100, 0), node(20, 100, 0), node(30, 0, 50)}
	shares, err := model.Distribute(big.NewInt(400), allocation)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if shares[2].Sign() != 0 {
		t.Fatalf("unused node received interest: %s", shares[2])
	}
	if shares[0].Cmp(big.NewInt(100)) != 0 || shares[1].Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected weighted shares: %s %s", shares[0], shares[1])
	}
}

func TestDynamicRateBounds(t *testing.T) {
	model := NewDynamicRateModel(100, 2_500, 8_000)

	at := func(num, den int64) *big.Rat { return big.NewRat(num, den) }

	if got := model.RateAt(at(0, 1)); got.Cmp(big.NewRat(1, 100)) != 0 {
		t.Fatalf("rate at zero utilisation: %s", got.FloatString(6))
	}
	mid := big.NewRat(13, 100) // (0.01+0.25)/2
	if got := model.RateAt(at(4, 5)); got.Cmp(mid) != 0 {
		t.Fatalf("rate at target utilisation: %s", got.FloatString(6))
	}
	if got := model.RateAt(at(1, 1)); got.Cmp(big.NewRat(25, 100)) != 0 {
		t.Fatalf("rate at full utilisation: %s", got.FloatString(6))
	}

	// Strictly monotone across the target boundary.
	lo := model.RateAt(at(1, 2))
	hi := model.RateAt(at(9, 10))
	if lo.Cmp(hi) >= 0 {
		t.Fatalf("rate not increasing across target: %s >= %s", lo.FloatString(6), hi.FloatString(6))
	}
}

func TestDynamicDistributeConserves(t *testing.T) {
	model := NewDynamicRateModel(100, 2_500, 8_000)
	allocation := []Node{node(10, 50, 50), node(20, 100, 0), node(30, 25, 75)}
	total := big.NewInt(999)
	shares, err := model.Distribute(total, allocation)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	sum := new(big.Int)
	for _, s := range shares {
		sum.Add(sum, s)
	}
	if sum.Cmp(total) != 0 {
		t.Fatalf("distribution does not conserve total: %s != %s", sum, total)
	}
	// The fully drawn node carries the heaviest weight.
	if shares[1].Cmp(shares[0]) <= 0 || shares[1].Cmp(shares[2]) <= 0 {
		t.Fatalf("expected fully utilised node to earn most: %s %s %s", shares[0], shares[1], shares[2])
	}
}

func TestPriceRejectsBadInputs(t *testing.T) {
	model := NewFixedRateModel(200)
	if _, err := model.Price(big.NewInt(0), secondsPerYear, []Node{node(1, 1, 0)}, nil); err == nil {
		t.Fatal("expected error for zero principal")
	}
	if _, err := model.Price(big.NewInt(1), secondsPerYear, nil, nil); err == nil {
		t.Fatal("expected error for empty allocation")
	}
	if _, err := model.Distribute(big.NewInt(-1), []Node{node(1, 1, 0)}); err == nil {
		t.Fatal("expected error for negative interest")
	}
}
