package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ray is the fixed-point scale used for share prices, matching wei-denominated
// token precision.
var ray = big.NewInt(1_000_000_000_000_000_000)

// Tranche is one liquidity bucket of the ladder. Depth is its unique ordering
// key and exposure ceiling: loans draw the senior (low) depths first, and the
// cumulative principal sourced up to and including a tranche never exceeds its
// depth. Losses are absorbed junior (high depth) first.
type Tranche struct {
	// Depth is the ordering key and cumulative exposure ceiling, in
	// currency units.
	Depth *big.Int
	// Shares is the total issued share supply for this tranche.
	Shares *big.Int
	// Available is the currency not currently lent.
	Available *big.Int
	// Used is the principal currently lent out of this tranche.
	Used *big.Int
	// PendingShares is the share supply sitting in unsettled redemptions.
	PendingShares *big.Int

	holders     map[common.Address]*big.Int
	redemptions []*RedemptionRecord
	nextTicket  uint64
}

// Value is the tranche's total backing: available plus lent currency. Cash
// already earmarked for settled redemptions has left both the value and the
// share supply, so the share price stays consistent.
func (t *Tranche) Value() *big.Int {
	return new(big.Int).Add(t.Available, t.Used)
}

// SharePrice is the ray-scaled price of one share. It is one (ray) while the
// tranche has no shares outstanding.
func (t *Tranche) SharePrice() *big.Int {
	if t.Shares.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	price := new(big.Int).Mul(t.Value(), ray)
	return price.Quo(price, t.Shares)
}

// RedemptionRecord is one account's outstanding redemption on a tranche.
// Records settle strictly FIFO by ticket as liquidity frees up.
type RedemptionRecord struct {
	Account common.Address
	// SharesRemaining is the portion of the redeemed shares not yet
	// converted to currency.
	SharesRemaining *big.Int
	// SharesSettled counts shares converted since the last withdrawal.
	SharesSettled *big.Int
	// Price is the ray-scaled share price recorded when the redemption was
	// requested; settlement converts shares at this price.
	Price *big.Int
	// Settled is the currency earmarked for the account, awaiting withdraw.
	Settled *big.Int
	// Ticket establishes FIFO order within the tranche.
	Ticket uint64
}

// NodeAllocation describes one tranche's slice of a loan: how much principal
// it contributed and the interest it is owed. Allocations are ordered by
// ascending depth.
type NodeAllocation struct {
	Depth    *big.Int
	Used     *big.Int
	Interest *big.Int
}

// ReceiptStatus tracks the lifecycle position of an outstanding loan receipt.
type ReceiptStatus uint8

const (
	// StatusActive marks a live loan awaiting repayment or expiry.
	StatusActive ReceiptStatus = iota + 1
	// StatusExpired marks a defaulted loan whose collateral is with the
	// liquidator, awaiting proceeds.
	StatusExpired
)
