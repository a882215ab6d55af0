package adapters

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// NoteAdapter resolves promissory notes whose token ID commits to the note's
// terms: the ID is the keccak-256 hash of the RLP-encoded terms, and the
// caller supplies the encoded terms as context. A note that does not hash to
// its claimed ID is rejected, so terms cannot be forged in transit.
type NoteAdapter struct {
	noteToken common.Address
}

// NewNoteAdapter returns an adapter for the given note token contract.
func NewNoteAdapter(noteToken common.Address) *NoteAdapter {
	return &NoteAdapter{noteToken: noteToken}
}

// Name implements the LoanAdapter interface.
func (a *NoteAdapter) Name() string { return "note" }

// NoteToken implements the LoanAdapter interface.
func (a *NoteAdapter) NoteToken() common.Address { return a.noteToken }

// Terms implements the LoanAdapter interface.
func (a *NoteAdapter) Terms(noteTokenID *big.Int, context []byte) (*LoanTerms, error) {
	if noteTokenID == nil || len(context) == 0 {
		return nil, ErrMalformedNote
	}
	terms := new(LoanTerms)
	if err := rlp.DecodeBytes(context, terms); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNote, err)
	}
	if terms.Principal == nil || terms.Principal.Sign() <= 0 ||
		terms.Repayment == nil || terms.Repayment.Cmp(terms.Principal) < 0 ||
		terms.CollateralTokenID == nil {
		return nil, ErrMalformedNote
	}
	id := new(big.Int).SetBytes(crypto.Keccak256(context))
	if id.Cmp(noteTokenID) != 0 {
		return nil, ErrUnknownNote
	}
	return terms, nil
}

// EncodeNote returns the RLP encoding of the terms plus the note token ID
// that commits to them. Counterparties mint notes with it and tests use it
// to fabricate valid paper.
func EncodeNote(terms *LoanTerms) ([]byte, *big.Int, error) {
	encoded, err := rlp.EncodeToBytes(terms)
	if err != nil {
		return nil, nil, err
	}
	return encoded, new(big.Int).SetBytes(crypto.Keccak256(encoded)), nil
}
