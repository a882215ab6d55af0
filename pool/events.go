package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	EventTypeDeposited            = "pool.deposited"
	EventTypeRedeemed             = "pool.redeemed"
	EventTypeWithdrawn            = "pool.withdrawn"
	EventTypeLoanOriginated       = "pool.loan.originated"
	EventTypeNotePurchased        = "pool.note.purchased"
	EventTypeLoanRepaid           = "pool.loan.repaid"
	EventTypeLoanExpired          = "pool.loan.expired"
	EventTypeCollateralLiquidated = "pool.collateral.liquidated"
)

// DepositedEvent records a share mint on a tranche.
type DepositedEvent struct {
	Account common.Address
	Depth   *big.Int
	Amount  *big.Int
	Shares  *big.Int
}

func (DepositedEvent) EventType() string { return EventTypeDeposited }

// RedeemedEvent records a redemption request entering a tranche's queue.
type RedeemedEvent struct {
	Account common.Address
	Depth   *big.Int
	Shares  *big.Int
}

func (RedeemedEvent) EventType() string { return EventTypeRedeemed }

// WithdrawnEvent records a settled redemption payout.
type WithdrawnEvent struct {
	Account common.Address
	Depth   *big.Int
	Amount  *big.Int
}

func (WithdrawnEvent) EventType() string { return EventTypeWithdrawn }

// LoanOriginatedEvent records a freshly minted loan receipt.
type LoanOriginatedEvent struct {
	LoanID    common.Hash
	Borrower  common.Address
	Principal *big.Int
	Repayment *big.Int
	Maturity  uint64
}

func (LoanOriginatedEvent) EventType() string { return EventTypeLoanOriginated }

// NotePurchasedEvent records a third-party note bought into the pool.
type NotePurchasedEvent struct {
	LoanID        common.Hash
	NoteToken     common.Address
	NoteTokenID   *big.Int
	PurchasePrice *big.Int
	Repayment     *big.Int
}

func (NotePurchasedEvent) EventType() string { return EventTypeNotePurchased }

// LoanRepaidEvent records a loan settling at full repayment.
type LoanRepaidEvent struct {
	LoanID    common.Hash
	Repayment *big.Int
}

func (LoanRepaidEvent) EventType() string { return EventTypeLoanRepaid }

// LoanExpiredEvent records a defaulted loan whose collateral moved to the
// liquidator.
type LoanExpiredEvent struct {
	LoanID            common.Hash
	CollateralToken   common.Address
	CollateralTokenID *big.Int
}

func (LoanExpiredEvent) EventType() string { return EventTypeLoanExpired }

// CollateralLiquidatedEvent records the final liquidation outcome.
// UnabsorbedLoss is non-zero only when the shortfall exceeded the entire
// ladder's remaining value.
type CollateralLiquidatedEvent struct {
	LoanID         common.Hash
	Proceeds       *big.Int
	Shortfall      *big.Int
	UnabsorbedLoss *big.Int
}

func (CollateralLiquidatedEvent) EventType() string { return EventTypeCollateralLiquidated }
