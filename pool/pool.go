package pool

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tranchepool/core/events"
	"tranchepool/pool/adapters"
	"tranchepool/pool/collateral"
	"tranchepool/pool/rates"
)

var errNotConfigured = errors.New("pool: engine not configured")

// Liquidator receives collateral custody plus the encoded loan receipt when a
// loan expires. It reports the auction outcome later through
// OnCollateralLiquidated; the handoff itself has no return value.
type Liquidator interface {
	Liquidate(encodedReceipt []byte)
}

// Pool is the collateralized-lending liquidity pool: the tranche ledger plus
// the loan origination and lifecycle engines, composed with an interest rate
// model and a collateral gate selected at configuration time.
//
// Every public operation is atomic: it either completes and leaves the
// solvency invariants intact or returns an error having changed nothing.
// Operations are not safe for concurrent use; the caller serializes them.
type Pool struct {
	currency    common.Address
	ledger      *TrancheLedger
	model       rates.Model
	gate        collateral.Gate
	liquidator  Liquidator
	adapters    map[common.Address]adapters.LoanAdapter
	receipts    map[common.Hash]ReceiptStatus
	gracePeriod uint64
	timestamp   uint64
	nonce       uint64
	emitter     events.Emitter
}

// NewPool constructs a pool for the given currency with the configured rate
// model and collateral gate.
func NewPool(currency common.Address, model rates.Model, gate collateral.Gate) *Pool {
	return &Pool{
		currency: currency,
		ledger:   NewTrancheLedger(),
		model:    model,
		gate:     gate,
		adapters: make(map[common.Address]adapters.LoanAdapter),
		receipts: make(map[common.Hash]ReceiptStatus),
		emitter:  events.NoopEmitter{},
	}
}

// Currency returns the pool's deposit currency.
func (p *Pool) Currency() common.Address { return p.currency }

// Ledger exposes the tranche ladder for read access and persistence.
func (p *Pool) Ledger() *TrancheLedger { return p.ledger }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (p *Pool) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

// SetLiquidator wires the external collateral liquidator.
func (p *Pool) SetLiquidator(liquidator Liquidator) { p.liquidator = liquidator }

// SetGracePeriod sets the window after maturity (seconds) during which a
// repayment is still accepted.
func (p *Pool) SetGracePeriod(seconds uint64) { p.gracePeriod = seconds }

// SetTimestamp records the external clock reference (unix seconds) that
// maturity deadlines are compared against. The substrate drives it forward;
// the pool never reads a wall clock itself.
func (p *Pool) SetTimestamp(ts uint64) {
	if ts > p.timestamp {
		p.timestamp = ts
	}
}

// Timestamp returns the current clock reference.
func (p *Pool) Timestamp() uint64 { return p.timestamp }

// RegisterAdapter wires a loan adapter for its note token. Registering a
// second adapter for the same token fails ErrAlreadyInitialized.
func (p *Pool) RegisterAdapter(adapter adapters.LoanAdapter) error {
	if adapter == nil {
		return ErrInvalidParameters
	}
	token := adapter.NoteToken()
	if _, ok := p.adapters[token]; ok {
		return ErrAlreadyInitialized
	}
	p.adapters[token] = adapter
	return nil
}

// LoanStatus reports the registry status for a loan ID. The second return is
// false once the loan has reached a terminal state (or never existed).
func (p *Pool) LoanStatus(loanID common.Hash) (ReceiptStatus, bool) {
	status, ok := p.receipts[loanID]
	return status, ok
}

// Deposit mints tranche shares for the account.
func (p *Pool) Deposit(account common.Address, depth, amount *big.Int) (*big.Int, error) {
	shares, err := p.ledger.Deposit(account, depth, amount)
	if err != nil {
		return nil, err
	}
	p.emit(DepositedEvent{Account: account, Depth: cloneInt(depth), Amount: cloneInt(amount), Shares: cloneInt(shares)})
	return shares, nil
}

// Redeem queues a redemption of the account's shares on a tranche.
func (p *Pool) Redeem(account common.Address, depth, shares *big.Int) error {
	if err := p.ledger.Redeem(account, depth, shares); err != nil {
		return err
	}
	p.emit(RedeemedEvent{Account: account, Depth: cloneInt(depth), Shares: cloneInt(shares)})
	return nil
}

// RedemptionAvailable reports the settled portion of the account's pending
// redemption without mutating state.
func (p *Pool) RedemptionAvailable(account common.Address, depth *big.Int) (*big.Int, *big.Int, error) {
	return p.ledger.RedemptionAvailable(account, depth)
}

// Withdraw pays out the settled portion of the account's redemption.
func (p *Pool) Withdraw(account common.Address, depth *big.Int) (*big.Int, error) {
	amount, err := p.ledger.Withdraw(account, depth)
	if err != nil {
		return amount, err
	}
	p.emit(WithdrawnEvent{Account: account, Depth: cloneInt(depth), Amount: cloneInt(amount)})
	return amount, nil
}

// PriceLoan quotes the total repayment for a loan without mutating state.
func (p *Pool) PriceLoan(principal *big.Int, duration uint64, token common.Address, tokenID *big.Int, gateContext []byte) (*big.Int, error) {
	repayment, _, err := p.quoteLoan(principal, duration, token, tokenID, gateContext)
	return repayment, err
}

// OriginateLoan prices and commits a loan: the allocation moves from
// available to used, a single-use receipt is minted and its encoding
// returned. maxRepayment is the caller's slippage ceiling; a nil ceiling
// disables the guard.
func (p *Pool) OriginateLoan(borrower common.Address, principal *big.Int, duration uint64, token common.Address, tokenID *big.Int, gateContext []byte, maxRepayment *big.Int) ([]byte, error) {
	repayment, nodes, err := p.quoteLoan(principal, duration, token, tokenID, gateContext)
	if err != nil {
		return nil, err
	}
	if maxRepayment != nil && repayment.Cmp(maxRepayment) > 0 {
		return nil, ErrRepaymentTooHigh
	}

	interest := new(big.Int).Sub(repayment, principal)
	shares, err := p.model.Distribute(interest, p.rateNodes(nodes))
	if err != nil {
		return nil, err
	}

	committed, err := p.ledger.Allocate(principal)
	if err != nil {
		return nil, err
	}
	for i := range committed {
		committed[i].Interest = shares[i]
	}

	encoded, hash, err := p.mintReceipt(borrower, token, tokenID, principal, repayment, duration, committed)
	if err != nil {
		return nil, err
	}
	p.emit(LoanOriginatedEvent{
		LoanID:    hash,
		Borrower:  borrower,
		Principal: cloneInt(principal),
		Repayment: cloneInt(repayment),
		Maturity:  p.timestamp + duration,
	})
	return encoded, nil
}

func (p *Pool) quoteLoan(principal *big.Int, duration uint64, token common.Address, tokenID *big.Int, gateContext []byte) (*big.Int, []NodeAllocation, error) {
	if p.model == nil || p.gate == nil {
		return nil, nil, errNotConfigured
	}
	if principal == nil || principal.Sign() <= 0 || duration == 0 || tokenID == nil {
		return nil, nil, ErrInvalidParameters
	}
	if !p.gate.Supported(token, tokenID, gateContext) {
		return nil, nil, ErrCollateralNotSupported
	}
	nodes, err := p.ledger.Source(principal)
	if err != nil {
		return nil, nil, err
	}
	repayment, err := p.model.Price(principal, duration, p.rateNodes(nodes), p.ledger.Utilisation())
	if err != nil {
		return nil, nil, err
	}
	return repayment, nodes, nil
}

// rateNodes projects an allocation into the rate model's view, pairing each
// node with its tranche's current available liquidity.
func (p *Pool) rateNodes(nodes []NodeAllocation) []rates.Node {
	out := make([]rates.Node, len(nodes))
	for i, node := range nodes {
		available := new(big.Int)
		if tranche, _ := p.ledger.find(node.Depth); tranche != nil {
			available.Set(tranche.Available)
		}
		out[i] = rates.Node{Depth: node.Depth, Used: node.Used, Available: available}
	}
	return out
}

func (p *Pool) mintReceipt(borrower, token common.Address, tokenID, principal, repayment *big.Int, duration uint64, nodes []NodeAllocation) ([]byte, common.Hash, error) {
	receiptNodes := make([]ReceiptNode, len(nodes))
	for i, node := range nodes {
		receiptNodes[i] = ReceiptNode{Depth: node.Depth, Used: node.Used, Interest: node.Interest}
	}
	receipt := &LoanReceipt{
		Version:           receiptVersion,
		Nonce:             p.nonce,
		Borrower:          borrower,
		CollateralToken:   token,
		CollateralTokenID: tokenID,
		Principal:         principal,
		Repayment:         repayment,
		Maturity:          p.timestamp + duration,
		Duration:          duration,
		Nodes:             receiptNodes,
	}
	encoded, err := receipt.Encode()
	if err != nil {
		return nil, common.Hash{}, err
	}
	hash, err := receipt.Hash()
	if err != nil {
		return nil, common.Hash{}, err
	}
	if _, ok := p.receipts[hash]; ok {
		return nil, common.Hash{}, ErrInvalidReceipt
	}
	p.nonce++
	p.receipts[hash] = StatusActive
	return encoded, hash, nil
}

func (p *Pool) emit(evt events.Event) {
	if p.emitter != nil {
		p.emitter.Emit(evt)
	}
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
