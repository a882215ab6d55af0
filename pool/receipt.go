package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// receiptVersion is the canonical encoding version. Decoding any other
// version fails ErrInvalidReceipt.
const receiptVersion = 1

// ReceiptNode is one tranche's entry in a loan receipt: the principal drawn
// from the tranche and the interest it is owed at repayment.
type ReceiptNode struct {
	Depth    *big.Int
	Used     *big.Int
	Interest *big.Int
}

// LoanReceipt is the immutable record minted at origination. Its keccak-256
// hash over the canonical RLP encoding is the loan identifier; every
// lifecycle callback re-derives the hash from the presented bytes, so a
// tampered receipt simply fails the registry lookup.
type LoanReceipt struct {
	Version           uint8
	Nonce             uint64
	Borrower          common.Address
	CollateralToken   common.Address
	CollateralTokenID *big.Int
	Principal         *big.Int
	Repayment         *big.Int
	Maturity          uint64
	Duration          uint64
	Nodes             []ReceiptNode
}

// Encode returns the canonical RLP encoding of the receipt.
func (r *LoanReceipt) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(r)
}

// Hash returns the loan identifier: keccak-256 of the canonical encoding.
func (r *LoanReceipt) Hash() (common.Hash, error) {
	encoded, err := r.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(crypto.Keccak256(encoded)), nil
}

// TotalInterest sums the per-node interest allocations.
func (r *LoanReceipt) TotalInterest() *big.Int {
	total := new(big.Int)
	for _, node := range r.Nodes {
		total.Add(total, node.Interest)
	}
	return total
}

// DecodeLoanReceipt parses and validates an encoded receipt. Structural
// damage and unknown versions fail ErrInvalidReceipt.
func DecodeLoanReceipt(encoded []byte) (*LoanReceipt, error) {
	receipt := new(LoanReceipt)
	if err := rlp.DecodeBytes(encoded, receipt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	if receipt.Version != receiptVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidReceipt, receipt.Version)
	}
	if receipt.Principal == nil || receipt.Principal.Sign() <= 0 ||
		receipt.Repayment == nil || receipt.Repayment.Cmp(receipt.Principal) < 0 ||
		len(receipt.Nodes) == 0 {
		return nil, fmt.Errorf("%w: inconsistent amounts", ErrInvalidReceipt)
	}
	total := new(big.Int)
	prevDepth := new(big.Int)
	for _, node := range receipt.Nodes {
		if node.Depth == nil || node.Used == nil || node.Used.Sign() <= 0 || node.Interest == nil || node.Interest.Sign() < 0 {
			return nil, fmt.Errorf("%w: inconsistent nodes", ErrInvalidReceipt)
		}
		if node.Depth.Cmp(prevDepth) <= 0 {
			return nil, fmt.Errorf("%w: nodes out of order", ErrInvalidReceipt)
		}
		prevDepth = node.Depth
		total.Add(total, node.Used)
	}
	if total.Cmp(receipt.Principal) != 0 {
		return nil, fmt.Errorf("%w: nodes do not cover principal", ErrInvalidReceipt)
	}
	return receipt, nil
}
