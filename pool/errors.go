package pool

import "errors"

var (
	// ErrInvalidParameters rejects zero or malformed operation inputs.
	ErrInvalidParameters = errors.New("pool: invalid parameters")
	// ErrCollateralNotSupported rejects collateral the gate does not admit.
	ErrCollateralNotSupported = errors.New("pool: collateral not supported")
	// ErrInsufficientLiquidity means the tranche ladder cannot cover the
	// requested principal.
	ErrInsufficientLiquidity = errors.New("pool: insufficient liquidity")
	// ErrRepaymentTooHigh is the slippage guard: the priced repayment
	// exceeds the caller-supplied ceiling.
	ErrRepaymentTooHigh = errors.New("pool: repayment too high")
	// ErrInvalidReceipt rejects a tampered, replayed or wrong-state receipt.
	ErrInvalidReceipt = errors.New("pool: invalid receipt")
	// ErrAlreadyInitialized rejects re-initialising persisted pool state.
	ErrAlreadyInitialized = errors.New("pool: already initialized")
	// ErrNothingAvailable signals that a pending redemption has no settled
	// amount to withdraw yet.
	ErrNothingAvailable = errors.New("pool: nothing available")
	// ErrRedemptionPending rejects a second redemption request while one is
	// outstanding for the same account and depth.
	ErrRedemptionPending = errors.New("pool: redemption pending")
	// ErrUnknownTranche rejects operations against a depth that does not
	// exist in the ladder.
	ErrUnknownTranche = errors.New("pool: unknown tranche")
	// ErrNoAdapter means no loan adapter is registered for the note token.
	ErrNoAdapter = errors.New("pool: no adapter for note token")
)
