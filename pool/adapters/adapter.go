package adapters

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnknownNote is returned when the adapter cannot resolve the note.
	ErrUnknownNote = errors.New("loan adapter: unknown note")
	// ErrMalformedNote is returned when the note context does not decode.
	ErrMalformedNote = errors.New("loan adapter: malformed note context")
)

// LoanTerms is the canonical view of a third-party loan or promissory note.
// Adapters normalise platform-specific formats into it so the pool can reason
// about external paper uniformly.
type LoanTerms struct {
	Principal         *big.Int
	Repayment         *big.Int
	Maturity          uint64
	Duration          uint64
	CollateralToken   common.Address
	CollateralTokenID *big.Int
	Repaid            bool
	Liquidated        bool
}

// LoanAdapter resolves a note token into canonical loan terms. The context
// carries whatever auxiliary material the platform needs to prove the note's
// contents; resolution must be deterministic and side-effect free.
type LoanAdapter interface {
	Name() string
	// NoteToken is the token contract whose notes this adapter understands.
	NoteToken() common.Address
	Terms(noteTokenID *big.Int, context []byte) (*LoanTerms, error)
}
