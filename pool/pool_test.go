package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"tranchepool/core/events"
	"tranchepool/pool/collateral"
	"tranchepool/pool/rates"
)

const yearSeconds = 31_536_000

var (
	currency        = common.HexToAddress("0x0000000000000000000000000000000000001001")
	collateralToken = common.HexToAddress("0x0000000000000000000000000000000000002002")
	borrower        = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

type captureLiquidator struct {
	receipts [][]byte
}

func (l *captureLiquidator) Liquidate(encoded []byte) {
	l.receipts = append(l.receipts, encoded)
}

// newTestPool builds a pool with a 2% APR fixed model, a collection gate
// admitting collateralToken, and the standard two-tranche fixture: 600_000
// senior liquidity at depth 1_000_000 and 400_000 junior at depth 3_000_000.
func newTestPool(t *testing.T) *Pool {
	t.Helper()
	gate := collateral.NewCollectionGate(collateralToken)
	p := NewPool(currency, rates.NewFixedRateModel(200), gate)
	p.SetTimestamp(1_000)
	p.SetGracePeriod(3_600)
	if _, err := p.Deposit(alice, big.NewInt(1_000_000), big.NewInt(600_000)); err != nil {
		t.Fatalf("deposit senior: %v", err)
	}
	if _, err := p.Deposit(bob, big.NewInt(3_000_000), big.NewInt(400_000)); err != nil {
		t.Fatalf("deposit junior: %v", err)
	}
	return p
}

func originate(t *testing.T, p *Pool, principal int64) []byte {
	t.Helper()
	encoded, err := p.OriginateLoan(borrower, big.NewInt(principal), yearSeconds, collateralToken, big.NewInt(7), nil, nil)
	if err != nil {
		t.Fatalf("originate: %v", err)
	}
	return encoded
}

func TestPriceLoanFixedRate(t *testing.T) {
	p := newTestPool(t)
	repayment, err := p.PriceLoan(big.NewInt(1_000_000), yearSeconds, collateralToken, big.NewInt(7), nil)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if repayment.Cmp(big.NewInt(1_020_000)) != 0 {
		t.Fatalf("repayment: got %s, want 1020000", repayment)
	}
	// Quoting never commits liquidity.
	if got := trancheAt(t, p.Ledger(), 1_000_000).Available; got.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("quote mutated available: %s", got)
	}
}

func TestPriceLoanRejectsUnsupportedCollateral(t *testing.T) {
	p := newTestPool(t)
	other := common.HexToAddress("0x0000000000000000000000000000000000009009")
	if _, err := p.PriceLoan(big.NewInt(1), yearSeconds, other, big.NewInt(7), nil); !errors.Is(err, ErrCollateralNotSupported) {
		t.Fatalf("expected ErrCollateralNotSupported, got %v", err)
	}
}

func TestOriginateLoanBuildsReceipt(t *testing.T) {
	p := newTestPool(t)
	encoded := originate(t, p, 1_000_000)

	receipt, err := DecodeLoanReceipt(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if receipt.Borrower != borrower {
		t.Fatalf("borrower: got %s", receipt.Borrower.Hex())
	}
	if receipt.Repayment.Cmp(big.NewInt(1_020_000)) != 0 {
		t.Fatalf("repayment: got %s", receipt.Repayment)
	}
	if receipt.Maturity != 1_000+yearSeconds {
		t.Fatalf("maturity: got %d", receipt.Maturity)
	}
	if len(receipt.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(receipt.Nodes))
	}
	// 20_000 interest splits proportionally to the sourced principal.
	if receipt.Nodes[0].Used.Cmp(big.NewInt(600_000)) != 0 || receipt.Nodes[0].Interest.Cmp(big.NewInt(12_000)) != 0 {
		t.Fatalf("senior node: used %s interest %s", receipt.Nodes[0].Used, receipt.Nodes[0].Interest)
	}
	if receipt.Nodes[1].Used.Cmp(big.NewInt(400_000)) != 0 || receipt.Nodes[1].Interest.Cmp(big.NewInt(8_000)) != 0 {
		t.Fatalf("junior node: used %s interest %s", receipt.Nodes[1].Used, receipt.Nodes[1].Interest)
	}

	hash, err := receipt.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if status, ok := p.LoanStatus(hash); !ok || status != StatusActive {
		t.Fatalf("registry: status %d ok %v", status, ok)
	}
}

func TestOriginateLoanRepaymentCeiling(t *testing.T) {
	p := newTestPool(t)
	_, err := p.OriginateLoan(borrower, big.NewInt(1_000_000), yearSeconds, collateralToken, big.NewInt(7), nil, big.NewInt(1_019_999))
	if !errors.Is(err, ErrRepaymentTooHigh) {
		t.Fatalf("expected ErrRepaymentTooHigh, got %v", err)
	}
	// The failed origination must not have touched the ladder.
	if got := trancheAt(t, p.Ledger(), 1_000_000).Available; got.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("ceiling failure mutated available: %s", got)
	}
}

func TestRepayCreditsInterest(t *testing.T) {
	p := newTestPool(t)
	encoded := originate(t, p, 1_000_000)

	p.SetTimestamp(1_000 + yearSeconds)
	if err := p.OnLoanRepaid(encoded); err != nil {
		t.Fatalf("repay: %v", err)
	}
	senior := trancheAt(t, p.Ledger(), 1_000_000)
	junior := trancheAt(t, p.Ledger(), 3_000_000)
	if senior.Value().Cmp(big.NewInt(612_000)) != 0 {
		t.Fatalf("senior value: got %s, want 612000", senior.Value())
	}
	if junior.Value().Cmp(big.NewInt(408_000)) != 0 {
		t.Fatalf("junior value: got %s, want 408000", junior.Value())
	}
	// 612_000 value on 600_000 shares: the share price carries the yield.
	if got := senior.SharePrice(); got.Cmp(big.NewInt(1_020_000_000_000_000_000)) != 0 {
		t.Fatalf("senior share price: got %s", got)
	}

	// The receipt is single use.
	if err := p.OnLoanRepaid(encoded); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("replay: got %v", err)
	}
}

func TestRepayPastWindowFails(t *testing.T) {
	p := newTestPool(t)
	encoded := originate(t, p, 1_000_000)

	p.SetTimestamp(1_000 + yearSeconds + 3_600 + 1)
	if err := p.OnLoanRepaid(encoded); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("late repayment: got %v", err)
	}
}

func TestRepayWithinGracePeriod(t *testing.T) {
	p := newTestPool(t)
	encoded := originate(t, p, 1_000_000)

	p.SetTimestamp(1_000 + yearSeconds + 3_600)
	if err := p.OnLoanRepaid(encoded); err != nil {
		t.Fatalf("grace period repayment: %v", err)
	}
}

func TestRepayUncoveredLadderLeavesReceiptActive(t *testing.T) {
	p := newTestPool(t)
	encoded := originate(t, p, 1_000_000)
	receipt, err := DecodeLoanReceipt(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hash, err := receipt.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	// A write-down from another default drains the junior tranche below the
	// receipt's claim. Repayment must fail whole: no node credited, receipt
	// not consumed.
	if _, err := p.Ledger().WriteDown(big.NewInt(3_000_000), big.NewInt(100_000)); err != nil {
		t.Fatalf("write down: %v", err)
	}
	p.SetTimestamp(1_000 + yearSeconds)
	if err := p.OnLoanRepaid(encoded); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("uncovered ladder: got %v", err)
	}
	if status, ok := p.LoanStatus(hash); !ok || status != StatusActive {
		t.Fatalf("receipt should stay active: status %d ok %v", status, ok)
	}
	senior := trancheAt(t, p.Ledger(), 1_000_000)
	if senior.Used.Cmp(big.NewInt(600_000)) != 0 || senior.Available.Sign() != 0 {
		t.Fatalf("senior partially credited: used %s available %s", senior.Used, senior.Available)
	}
}

func TestExpireHandsCollateralToLiquidator(t *testing.T) {
	p := newTestPool(t)
	liq := &captureLiquidator{}
	p.SetLiquidator(liq)
	encoded := originate(t, p, 1_000_000)

	// Not yet past the window.
	p.SetTimestamp(1_000 + yearSeconds)
	if err := p.OnLoanExpired(encoded); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("early expiry: got %v", err)
	}

	p.SetTimestamp(1_000 + yearSeconds + 3_600 + 1)
	if err := p.OnLoanExpired(encoded); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(liq.receipts) != 1 {
		t.Fatalf("liquidator received %d receipts", len(liq.receipts))
	}
	// Repeat expiry and late repayment are both rejected.
	if err := p.OnLoanExpired(encoded); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("double expiry: got %v", err)
	}
	if err := p.OnLoanRepaid(encoded); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("repay after expiry: got %v", err)
	}
}

func expireLoan(t *testing.T, p *Pool, encoded []byte) {
	t.Helper()
	p.SetTimestamp(1_000 + yearSeconds + 3_600 + 1)
	if err := p.OnLoanExpired(encoded); err != nil {
		t.Fatalf("expire: %v", err)
	}
}

func TestLiquidationShortfallHitsJuniorFirst(t *testing.T) {
	p := newTestPool(t)
	encoded := originate(t, p, 1_000_000)
	expireLoan(t, p, encoded)

	// 700_000 recovers the senior node in full and 100_000 of the junior
	// node; the junior tranche eats the remaining 300_000.
	if err := p.OnCollateralLiquidated(encoded, big.NewInt(700_000)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	senior := trancheAt(t, p.Ledger(), 1_000_000)
	junior := trancheAt(t, p.Ledger(), 3_000_000)
	if senior.Value().Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("senior value: got %s, want 600000", senior.Value())
	}
	if junior.Value().Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("junior value: got %s, want 100000", junior.Value())
	}
	if err := p.OnCollateralLiquidated(encoded, big.NewInt(1)); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("double liquidation: got %v", err)
	}
}

func TestLiquidationSurplusGoesJunior(t *testing.T) {
	p := newTestPool(t)
	encoded := originate(t, p, 1_000_000)
	expireLoan(t, p, encoded)

	// Proceeds above the contracted repayment: principal and interest are
	// made whole, the 30_000 surplus lands on the junior-most node.
	if err := p.OnCollateralLiquidated(encoded, big.NewInt(1_050_000)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	senior := trancheAt(t, p.Ledger(), 1_000_000)
	junior := trancheAt(t, p.Ledger(), 3_000_000)
	if senior.Value().Cmp(big.NewInt(612_000)) != 0 {
		t.Fatalf("senior value: got %s, want 612000", senior.Value())
	}
	if junior.Value().Cmp(big.NewInt(438_000)) != 0 {
		t.Fatalf("junior value: got %s, want 438000", junior.Value())
	}
}

func TestLiquidationTotalLoss(t *testing.T) {
	p := newTestPool(t)
	encoded := originate(t, p, 1_000_000)
	expireLoan(t, p, encoded)

	recorder := &events.Recorder{}
	p.SetEmitter(recorder)
	if err := p.OnCollateralLiquidated(encoded, big.NewInt(0)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if got := trancheAt(t, p.Ledger(), 1_000_000).Value(); got.Sign() != 0 {
		t.Fatalf("senior should be wiped, value %s", got)
	}
	if got := trancheAt(t, p.Ledger(), 3_000_000).Value(); got.Sign() != 0 {
		t.Fatalf("junior should be wiped, value %s", got)
	}
	evts := recorder.Events()
	if len(evts) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evts))
	}
	liquidated, ok := evts[0].(CollateralLiquidatedEvent)
	if !ok {
		t.Fatalf("unexpected event %T", evts[0])
	}
	if liquidated.Shortfall.Cmp(big.NewInt(1_020_000)) != 0 {
		t.Fatalf("shortfall: got %s", liquidated.Shortfall)
	}
	if liquidated.UnabsorbedLoss.Sign() != 0 {
		t.Fatalf("the ladder covers the whole loss, unabsorbed %s", liquidated.UnabsorbedLoss)
	}
}

func TestTamperedReceiptRejected(t *testing.T) {
	p := newTestPool(t)
	encoded := originate(t, p, 1_000_000)
	p.SetTimestamp(1_000 + yearSeconds)

	tampered := make([]byte, len(encoded))
	copy(tampered, encoded)
	tampered[len(tampered)-1] ^= 0x01
	if err := p.OnLoanRepaid(tampered); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("tampered receipt: got %v", err)
	}
	// The genuine receipt still settles.
	if err := p.OnLoanRepaid(encoded); err != nil {
		t.Fatalf("repay: %v", err)
	}
}

func TestPoolEmitsLifecycleEvents(t *testing.T) {
	gate := collateral.NewCollectionGate(collateralToken)
	p := NewPool(currency, rates.NewFixedRateModel(200), gate)
	recorder := &events.Recorder{}
	p.SetEmitter(recorder)
	p.SetTimestamp(1_000)

	if _, err := p.Deposit(alice, big.NewInt(1_000_000), big.NewInt(500_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	encoded, err := p.OriginateLoan(borrower, big.NewInt(100_000), yearSeconds, collateralToken, big.NewInt(7), nil, nil)
	if err != nil {
		t.Fatalf("originate: %v", err)
	}
	p.SetTimestamp(1_000 + yearSeconds)
	if err := p.OnLoanRepaid(encoded); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := p.Redeem(alice, big.NewInt(1_000_000), big.NewInt(500_000)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := p.Withdraw(alice, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	want := []string{
		EventTypeDeposited,
		EventTypeLoanOriginated,
		EventTypeLoanRepaid,
		EventTypeRedeemed,
		EventTypeWithdrawn,
	}
	got := recorder.Events()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, evt := range got {
		if evt.EventType() != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, evt.EventType(), want[i])
		}
	}
}
