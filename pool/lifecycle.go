package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OnLoanRepaid settles an active loan at full repayment. The presented
// receipt must hash to an active registry entry and the clock must be within
// maturity plus the grace period; the entry is consumed before any tranche is
// credited, so a replayed receipt fails the registry lookup.
func (p *Pool) OnLoanRepaid(encodedReceipt []byte) error {
	receipt, hash, err := p.lookupReceipt(encodedReceipt, StatusActive)
	if err != nil {
		return err
	}
	if p.timestamp > receipt.Maturity+p.gracePeriod {
		return fmt.Errorf("%w: past repayment window", ErrInvalidReceipt)
	}
	if !p.ledger.Covers(receipt.Nodes) {
		return fmt.Errorf("%w: ladder does not cover receipt", ErrInvalidReceipt)
	}

	delete(p.receipts, hash)
	for _, node := range receipt.Nodes {
		if err := p.ledger.Release(node.Depth, node.Used, node.Interest); err != nil {
			return err
		}
	}
	p.emit(LoanRepaidEvent{LoanID: hash, Repayment: cloneInt(receipt.Repayment)})
	return nil
}

// OnLoanExpired moves a defaulted loan's collateral to the liquidator. The
// loan must be active and past its maturity plus grace period. The registry
// entry flips to expired before the liquidator is invoked, so a re-entrant
// expiry call on the same receipt fails.
func (p *Pool) OnLoanExpired(encodedReceipt []byte) error {
	receipt, hash, err := p.lookupReceipt(encodedReceipt, StatusActive)
	if err != nil {
		return err
	}
	if p.timestamp <= receipt.Maturity+p.gracePeriod {
		return fmt.Errorf("%w: not yet expired", ErrInvalidReceipt)
	}

	p.receipts[hash] = StatusExpired
	if p.liquidator != nil {
		p.liquidator.Liquidate(encodedReceipt)
	}
	p.emit(LoanExpiredEvent{
		LoanID:            hash,
		CollateralToken:   receipt.CollateralToken,
		CollateralTokenID: cloneInt(receipt.CollateralTokenID),
	})
	return nil
}

// OnCollateralLiquidated settles an expired loan with the liquidation
// proceeds. Proceeds repay principal senior-first, then interest senior-first;
// any surplus beyond the full repayment accrues to the loan's junior-most
// node. Unrecovered principal is written down against the node that lent it,
// so the shortfall lands on the junior nodes the proceeds never reached.
func (p *Pool) OnCollateralLiquidated(encodedReceipt []byte, proceeds *big.Int) error {
	if proceeds == nil || proceeds.Sign() < 0 {
		return ErrInvalidParameters
	}
	receipt, hash, err := p.lookupReceipt(encodedReceipt, StatusExpired)
	if err != nil {
		return err
	}
	if !p.ledger.Covers(receipt.Nodes) {
		return fmt.Errorf("%w: ladder does not cover receipt", ErrInvalidReceipt)
	}
	delete(p.receipts, hash)

	remaining := new(big.Int).Set(proceeds)
	recovered := make([]*big.Int, len(receipt.Nodes))
	interest := make([]*big.Int, len(receipt.Nodes))
	for i, node := range receipt.Nodes {
		take := new(big.Int).Set(remaining)
		if take.Cmp(node.Used) > 0 {
			take.Set(node.Used)
		}
		recovered[i] = take
		remaining.Sub(remaining, take)
	}
	for i, node := range receipt.Nodes {
		take := new(big.Int).Set(remaining)
		if take.Cmp(node.Interest) > 0 {
			take.Set(node.Interest)
		}
		interest[i] = take
		remaining.Sub(remaining, take)
	}
	if remaining.Sign() > 0 {
		// Auction surplus beyond the contracted repayment.
		last := len(interest) - 1
		interest[last] = new(big.Int).Add(interest[last], remaining)
	}

	unabsorbed := new(big.Int)
	for i, node := range receipt.Nodes {
		if err := p.ledger.Release(node.Depth, recovered[i], interest[i]); err != nil {
			return err
		}
		loss := new(big.Int).Sub(node.Used, recovered[i])
		if loss.Sign() == 0 {
			continue
		}
		left, err := p.ledger.WriteDown(node.Depth, loss)
		if err != nil {
			return err
		}
		unabsorbed.Add(unabsorbed, left)
	}

	shortfall := new(big.Int).Sub(receipt.Repayment, proceeds)
	if shortfall.Sign() < 0 {
		shortfall = new(big.Int)
	}
	p.emit(CollateralLiquidatedEvent{
		LoanID:         hash,
		Proceeds:       cloneInt(proceeds),
		Shortfall:      shortfall,
		UnabsorbedLoss: unabsorbed,
	})
	return nil
}

// lookupReceipt decodes the presented bytes and checks the registry holds the
// derived loan ID in the expected state.
func (p *Pool) lookupReceipt(encoded []byte, want ReceiptStatus) (*LoanReceipt, common.Hash, error) {
	receipt, err := DecodeLoanReceipt(encoded)
	if err != nil {
		return nil, common.Hash{}, err
	}
	hash, err := receipt.Hash()
	if err != nil {
		return nil, common.Hash{}, err
	}
	status, ok := p.receipts[hash]
	if !ok || status != want {
		return nil, common.Hash{}, fmt.Errorf("%w: unknown or wrong-state loan", ErrInvalidReceipt)
	}
	return receipt, hash, nil
}
