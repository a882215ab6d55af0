package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tranchepool/pool/adapters"
)

// PriceNote quotes the purchase of an externally originated promissory note.
// The pool buys notes at face value (outstanding principal); the quote is the
// repayment the pool itself would charge for the remaining term, which the
// note's contracted repayment must cover for a sale to go through.
func (p *Pool) PriceNote(noteToken common.Address, noteTokenID *big.Int, noteContext, gateContext []byte) (*big.Int, error) {
	terms, err := p.noteTerms(noteToken, noteTokenID, noteContext)
	if err != nil {
		return nil, err
	}
	repayment, _, err := p.quoteLoan(terms.Principal, terms.Maturity-p.timestamp, terms.CollateralToken, terms.CollateralTokenID, gateContext)
	if err != nil {
		return nil, err
	}
	return repayment, nil
}

// SellNote buys the note into the pool: principal is allocated across the
// ladder as if the loan had been originated here, and a pool receipt is
// minted carrying the note's collateral and remaining term. The sale fails
// ErrRepaymentTooHigh when the pool's own pricing exceeds the note's
// contracted repayment, since the note could then never cover the interest
// owed to the tranches. It returns the purchase price and the encoded
// receipt.
func (p *Pool) SellNote(noteToken common.Address, noteTokenID *big.Int, noteContext, gateContext []byte) (*big.Int, []byte, error) {
	terms, err := p.noteTerms(noteToken, noteTokenID, noteContext)
	if err != nil {
		return nil, nil, err
	}
	duration := terms.Maturity - p.timestamp
	repayment, nodes, err := p.quoteLoan(terms.Principal, duration, terms.CollateralToken, terms.CollateralTokenID, gateContext)
	if err != nil {
		return nil, nil, err
	}
	if repayment.Cmp(terms.Repayment) > 0 {
		return nil, nil, ErrRepaymentTooHigh
	}

	interest := new(big.Int).Sub(repayment, terms.Principal)
	shares, err := p.model.Distribute(interest, p.rateNodes(nodes))
	if err != nil {
		return nil, nil, err
	}
	committed, err := p.ledger.Allocate(terms.Principal)
	if err != nil {
		return nil, nil, err
	}
	for i := range committed {
		committed[i].Interest = shares[i]
	}

	encoded, hash, err := p.mintReceipt(common.Address{}, terms.CollateralToken, terms.CollateralTokenID, terms.Principal, repayment, duration, committed)
	if err != nil {
		return nil, nil, err
	}
	price := new(big.Int).Set(terms.Principal)
	p.emit(NotePurchasedEvent{
		LoanID:        hash,
		NoteToken:     noteToken,
		NoteTokenID:   cloneInt(noteTokenID),
		PurchasePrice: cloneInt(price),
		Repayment:     cloneInt(repayment),
	})
	return price, encoded, nil
}

// noteTerms resolves the adapter for the note token and rejects notes that
// are already settled or cannot run a further term.
func (p *Pool) noteTerms(noteToken common.Address, noteTokenID *big.Int, noteContext []byte) (*adapters.LoanTerms, error) {
	if noteTokenID == nil {
		return nil, ErrInvalidParameters
	}
	adapter, ok := p.adapters[noteToken]
	if !ok {
		return nil, ErrNoAdapter
	}
	terms, err := adapter.Terms(noteTokenID, noteContext)
	if err != nil {
		return nil, err
	}
	if terms.Repaid || terms.Liquidated {
		return nil, fmt.Errorf("%w: note already settled", ErrInvalidParameters)
	}
	if terms.Maturity <= p.timestamp {
		return nil, fmt.Errorf("%w: note past maturity", ErrInvalidParameters)
	}
	return terms, nil
}
