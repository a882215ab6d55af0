package pool

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// TrancheLedger owns the ordered tranche ladder, share issuance and the
// per-tranche redemption queues. Origination and lifecycle code never touch
// tranche state directly; they go through Allocate, Release and WriteDown so
// the solvency invariants live in one place.
type TrancheLedger struct {
	tranches []*Tranche
}

// NewTrancheLedger returns an empty ladder.
func NewTrancheLedger() *TrancheLedger {
	return &TrancheLedger{}
}

func (l *TrancheLedger) find(depth *big.Int) (*Tranche, int) {
	idx := sort.Search(len(l.tranches), func(i int) bool {
		return l.tranches[i].Depth.Cmp(depth) >= 0
	})
	if idx < len(l.tranches) && l.tranches[idx].Depth.Cmp(depth) == 0 {
		return l.tranches[idx], idx
	}
	return nil, idx
}

func (l *TrancheLedger) ensure(depth *big.Int) *Tranche {
	tranche, idx := l.find(depth)
	if tranche != nil {
		return tranche
	}
	tranche = &Tranche{
		Depth:         new(big.Int).Set(depth),
		Shares:        new(big.Int),
		Available:     new(big.Int),
		Used:          new(big.Int),
		PendingShares: new(big.Int),
		holders:       make(map[common.Address]*big.Int),
	}
	l.tranches = append(l.tranches, nil)
	copy(l.tranches[idx+1:], l.tranches[idx:])
	l.tranches[idx] = tranche
	return tranche
}

// Tranches returns the ladder in ascending depth order. The returned slice is
// a copy but the tranches are live; callers must treat them as read-only.
func (l *TrancheLedger) Tranches() []*Tranche {
	out := make([]*Tranche, len(l.tranches))
	copy(out, l.tranches)
	return out
}

// BalanceOf reports the account's share balance on a tranche. Shares sitting
// in a pending redemption are no longer part of the balance.
func (l *TrancheLedger) BalanceOf(account common.Address, depth *big.Int) *big.Int {
	tranche, _ := l.find(depth)
	if tranche == nil {
		return new(big.Int)
	}
	if balance, ok := tranche.holders[account]; ok {
		return new(big.Int).Set(balance)
	}
	return new(big.Int)
}

// Utilisation is the pool-wide used/(available+used) ratio across the ladder,
// zero when the ladder holds no value.
func (l *TrancheLedger) Utilisation() *big.Rat {
	used := new(big.Int)
	value := new(big.Int)
	for _, t := range l.tranches {
		used.Add(used, t.Used)
		value.Add(value, t.Value())
	}
	if value.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(used, value)
}

// Deposit mints shares on the tranche at depth, creating the tranche if it
// does not exist. Shares are minted at the current share price rounded down,
// so depositors never gain value from rounding. Deposits into a wiped tranche
// (shares outstanding but zero value) are rejected: its share price is no
// longer well defined.
func (l *TrancheLedger) Deposit(account common.Address, depth, amount *big.Int) (*big.Int, error) {
	if depth == nil || depth.Sign() <= 0 || amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidParameters
	}
	tranche := l.ensure(depth)
	if tranche.Shares.Sign() > 0 && tranche.Value().Sign() == 0 {
		return nil, ErrInvalidParameters
	}

	minted := new(big.Int)
	if tranche.Shares.Sign() == 0 {
		minted.Set(amount)
	} else {
		minted.Mul(amount, tranche.Shares)
		minted.Quo(minted, tranche.Value())
	}
	if minted.Sign() == 0 {
		return nil, ErrInvalidParameters
	}

	balance, ok := tranche.holders[account]
	if !ok {
		balance = new(big.Int)
		tranche.holders[account] = balance
	}
	balance.Add(balance, minted)
	tranche.Shares = new(big.Int).Add(tranche.Shares, minted)
	tranche.Available = new(big.Int).Add(tranche.Available, amount)

	// Fresh cash is earmarked to waiting redemptions before it becomes
	// borrowable.
	l.settle(tranche)
	return minted, nil
}

// Redeem moves shares out of the account's balance into the tranche's FIFO
// redemption queue at the current share price. At most one redemption per
// account and depth may be outstanding; a second request fails
// ErrRedemptionPending until the first is fully withdrawn.
func (l *TrancheLedger) Redeem(account common.Address, depth, shares *big.Int) error {
	if depth == nil || shares == nil || shares.Sign() <= 0 {
		return ErrInvalidParameters
	}
	tranche, _ := l.find(depth)
	if tranche == nil {
		return ErrUnknownTranche
	}
	for _, r := range tranche.redemptions {
		if r.Account == account {
			return ErrRedemptionPending
		}
	}
	balance, ok := tranche.holders[account]
	if !ok || balance.Cmp(shares) < 0 {
		return ErrInvalidParameters
	}

	balance.Sub(balance, shares)
	if balance.Sign() == 0 {
		delete(tranche.holders, account)
	}
	tranche.PendingShares = new(big.Int).Add(tranche.PendingShares, shares)
	tranche.redemptions = append(tranche.redemptions, &RedemptionRecord{
		Account:         account,
		SharesRemaining: new(big.Int).Set(shares),
		SharesSettled:   new(big.Int),
		Price:           tranche.SharePrice(),
		Settled:         new(big.Int),
		Ticket:          tranche.nextTicket,
	})
	tranche.nextTicket++

	l.settle(tranche)
	return nil
}

// RedemptionAvailable reports how much of the account's pending redemption
// has settled since the last withdrawal: the shares burned and the currency
// amount waiting. It never mutates state.
func (l *TrancheLedger) RedemptionAvailable(account common.Address, depth *big.Int) (*big.Int, *big.Int, error) {
	if depth == nil {
		return nil, nil, ErrInvalidParameters
	}
	tranche, _ := l.find(depth)
	if tranche == nil {
		return nil, nil, ErrUnknownTranche
	}
	for _, r := range tranche.redemptions {
		if r.Account == account {
			return new(big.Int).Set(r.SharesSettled), new(big.Int).Set(r.Settled), nil
		}
	}
	return new(big.Int), new(big.Int), nil
}

// Withdraw pays out the settled portion of the account's redemption and
// removes the record once it is fully settled. It fails ErrNothingAvailable
// while no settled amount is waiting.
func (l *TrancheLedger) Withdraw(account common.Address, depth *big.Int) (*big.Int, error) {
	if depth == nil {
		return nil, ErrInvalidParameters
	}
	tranche, _ := l.find(depth)
	if tranche == nil {
		return nil, ErrUnknownTranche
	}
	for i, r := range tranche.redemptions {
		if r.Account != account {
			continue
		}
		amount := r.Settled
		r.Settled = new(big.Int)
		r.SharesSettled = new(big.Int)
		// A record whose shares are all burned leaves the queue even when
		// they settled for nothing, so the account can redeem again.
		if r.SharesRemaining.Sign() == 0 {
			tranche.redemptions = append(tranche.redemptions[:i], tranche.redemptions[i+1:]...)
		}
		if amount.Sign() == 0 {
			return new(big.Int), ErrNothingAvailable
		}
		return amount, nil
	}
	return new(big.Int), ErrNothingAvailable
}

// settle applies the tranche's available liquidity to its redemption queue in
// strict FIFO order. Shares convert at the price recorded when the redemption
// was requested; converted cash leaves Available immediately so it can never
// be lent from under a waiting redeemer.
func (l *TrancheLedger) settle(tranche *Tranche) {
	for _, r := range tranche.redemptions {
		if r.SharesRemaining.Sign() == 0 {
			continue
		}
		needed := new(big.Int).Mul(r.SharesRemaining, r.Price)
		needed.Quo(needed, ray)
		if needed.Sign() == 0 {
			// Remaining shares are worth less than one currency unit
			// (or the tranche was wiped); burn them for nothing so the
			// record can complete.
			burnShares(tranche, r, r.SharesRemaining)
			continue
		}
		if tranche.Available.Sign() == 0 {
			break
		}
		take := new(big.Int).Set(needed)
		if take.Cmp(tranche.Available) > 0 {
			take.Set(tranche.Available)
		}
		var burned *big.Int
		if take.Cmp(needed) == 0 {
			burned = new(big.Int).Set(r.SharesRemaining)
		} else {
			burned = new(big.Int).Mul(take, ray)
			burned.Quo(burned, r.Price)
		}
		tranche.Available = new(big.Int).Sub(tranche.Available, take)
		r.Settled = new(big.Int).Add(r.Settled, take)
		burnShares(tranche, r, burned)
		if r.SharesRemaining.Sign() > 0 {
			// Liquidity exhausted; later records wait their turn.
			break
		}
	}
}

func burnShares(tranche *Tranche, r *RedemptionRecord, shares *big.Int) {
	r.SharesSettled = new(big.Int).Add(r.SharesSettled, shares)
	r.SharesRemaining = new(big.Int).Sub(r.SharesRemaining, shares)
	tranche.Shares = new(big.Int).Sub(tranche.Shares, shares)
	tranche.PendingShares = new(big.Int).Sub(tranche.PendingShares, shares)
}

// Covers reports whether every node's tranche exists and still carries the
// principal the node claims. Lifecycle code checks it before consuming a
// receipt, so a release loop never fails halfway through the ladder.
func (l *TrancheLedger) Covers(nodes []ReceiptNode) bool {
	for _, node := range nodes {
		tranche, _ := l.find(node.Depth)
		if tranche == nil || tranche.Used.Cmp(node.Used) < 0 {
			return false
		}
	}
	return true
}

// Source walks the ladder senior-to-junior and assembles the allocation for
// the requested principal without mutating state. Each tranche contributes at
// most its available liquidity, capped so the loan's cumulative principal
// through that tranche never exceeds its depth.
func (l *TrancheLedger) Source(principal *big.Int) ([]NodeAllocation, error) {
	if principal == nil || principal.Sign() <= 0 {
		return nil, ErrInvalidParameters
	}
	remaining := new(big.Int).Set(principal)
	cumulative := new(big.Int)
	var nodes []NodeAllocation
	for _, tranche := range l.tranches {
		if remaining.Sign() == 0 {
			break
		}
		headroom := new(big.Int).Sub(tranche.Depth, cumulative)
		if headroom.Sign() <= 0 {
			continue
		}
		take := new(big.Int).Set(remaining)
		if take.Cmp(tranche.Available) > 0 {
			take.Set(tranche.Available)
		}
		if take.Cmp(headroom) > 0 {
			take.Set(headroom)
		}
		if take.Sign() <= 0 {
			continue
		}
		nodes = append(nodes, NodeAllocation{
			Depth:    new(big.Int).Set(tranche.Depth),
			Used:     take,
			Interest: new(big.Int),
		})
		cumulative.Add(cumulative, take)
		remaining.Sub(remaining, take)
	}
	if remaining.Sign() > 0 {
		return nil, ErrInsufficientLiquidity
	}
	return nodes, nil
}

// Allocate commits the allocation Source produces, moving each contribution
// from available to used.
func (l *TrancheLedger) Allocate(principal *big.Int) ([]NodeAllocation, error) {
	nodes, err := l.Source(principal)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		tranche, _ := l.find(node.Depth)
		tranche.Available = new(big.Int).Sub(tranche.Available, node.Used)
		tranche.Used = new(big.Int).Add(tranche.Used, node.Used)
	}
	return nodes, nil
}

// Release returns repaid principal from used to available and credits the
// tranche's interest, which raises its share price. Freed liquidity settles
// the redemption queue before it becomes borrowable again.
func (l *TrancheLedger) Release(depth, principal, interest *big.Int) error {
	if depth == nil || principal == nil || principal.Sign() < 0 || interest == nil || interest.Sign() < 0 {
		return ErrInvalidParameters
	}
	tranche, _ := l.find(depth)
	if tranche == nil {
		return ErrUnknownTranche
	}
	if tranche.Used.Cmp(principal) < 0 {
		return ErrInvalidParameters
	}
	tranche.Used = new(big.Int).Sub(tranche.Used, principal)
	tranche.Available = new(big.Int).Add(tranche.Available, new(big.Int).Add(principal, interest))
	l.settle(tranche)
	return nil
}

// WriteDown absorbs a default loss starting at the given depth, draining used
// then available value. A loss exceeding the tranche's value cascades to the
// next-higher depth. The unabsorbed remainder, non-zero only when the loss
// exceeds everything from depth to the top of the ladder, is returned to the
// caller rather than failing the operation.
func (l *TrancheLedger) WriteDown(depth, loss *big.Int) (*big.Int, error) {
	if depth == nil || loss == nil || loss.Sign() < 0 {
		return nil, ErrInvalidParameters
	}
	tranche, idx := l.find(depth)
	if tranche == nil {
		return nil, ErrUnknownTranche
	}
	remaining := new(big.Int).Set(loss)
	for i := idx; i < len(l.tranches) && remaining.Sign() > 0; i++ {
		t := l.tranches[i]
		fromUsed := new(big.Int).Set(remaining)
		if fromUsed.Cmp(t.Used) > 0 {
			fromUsed.Set(t.Used)
		}
		t.Used = new(big.Int).Sub(t.Used, fromUsed)
		remaining.Sub(remaining, fromUsed)
		if remaining.Sign() == 0 {
			break
		}
		fromAvailable := new(big.Int).Set(remaining)
		if fromAvailable.Cmp(t.Available) > 0 {
			fromAvailable.Set(t.Available)
		}
		t.Available = new(big.Int).Sub(t.Available, fromAvailable)
		remaining.Sub(remaining, fromAvailable)
	}
	return remaining, nil
}
