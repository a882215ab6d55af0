package collateral

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MerkleGate admits tokens whose (token, tokenID) leaf is a member of a
// merkle tree committed to by its root. The proof travels in the context as
// concatenated 32-byte sibling hashes, leaf-to-root, using sorted-pair
// hashing so no direction bits are needed.
type MerkleGate struct {
	root common.Hash
}

// NewMerkleGate returns a gate verifying membership against the given root.
func NewMerkleGate(root common.Hash) *MerkleGate {
	return &MerkleGate{root: root}
}

// Leaf computes the canonical leaf hash for a collateral token:
// keccak256(token || tokenID as a 32-byte big-endian word).
func Leaf(token common.Address, tokenID *big.Int) common.Hash {
	id := common.BigToHash(tokenID)
	return common.BytesToHash(crypto.Keccak256(token.Bytes(), id.Bytes()))
}

// Name implements the Gate interface.
func (g *MerkleGate) Name() string { return "merkle" }

// Supported implements the Gate interface. A malformed proof (length not a
// multiple of 32) is simply unsupported, never an error.
func (g *MerkleGate) Supported(token common.Address, tokenID *big.Int, context []byte) bool {
	if tokenID == nil || len(context)%common.HashLength != 0 {
		return false
	}
	node := Leaf(token, tokenID)
	for offset := 0; offset < len(context); offset += common.HashLength {
		sibling := common.BytesToHash(context[offset : offset+common.HashLength])
		node = hashPair(node, sibling)
	}
	return node == g.root
}

func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return common.BytesToHash(crypto.Keccak256(a.Bytes(), b.Bytes()))
}

// BuildRoot computes the root of a sorted-pair merkle tree over the given
// leaves, duplicating the trailing leaf on odd levels. It mirrors the
// verification in Supported and backs tests and off-line tree builds.
func BuildRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return common.Hash{}
	}
	level := append([]common.Hash(nil), leaves...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// BuildProof returns the sibling path for the leaf at index, in the same
// shape Supported consumes.
func BuildProof(leaves []common.Hash, index int) []byte {
	if index < 0 || index >= len(leaves) {
		return nil
	}
	level := append([]common.Hash(nil), leaves...)
	var proof []byte
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		sibling := index ^ 1
		proof = append(proof, level[sibling].Bytes()...)
		next := make([]common.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
		index /= 2
	}
	return proof
}
