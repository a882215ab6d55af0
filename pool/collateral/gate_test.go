package collateral

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAllowlistGate(t *testing.T) {
	gate := NewAllowlistGate()
	token := common.HexToAddress("0x01")
	gate.Add(token, big.NewInt(42))

	if !gate.Supported(token, big.NewInt(42), nil) {
		t.Fatal("listed token rejected")
	}
	if gate.Supported(token, big.NewInt(43), nil) {
		t.Fatal("unlisted token id admitted")
	}
	if gate.Supported(common.HexToAddress("0x02"), big.NewInt(42), nil) {
		t.Fatal("unlisted token admitted")
	}

	gate.Remove(token, big.NewInt(42))
	if gate.Supported(token, big.NewInt(42), nil) {
		t.Fatal("removed token still admitted")
	}
}

func TestCollectionGates(t *testing.T) {
	collection := common.HexToAddress("0x0a")
	other := common.HexToAddress("0x0b")

	single := NewCollectionGate(collection)
	if !single.Supported(collection, big.NewInt(1), nil) {
		t.Fatal("collection token rejected")
	}
	if single.Supported(other, big.NewInt(1), nil) {
		t.Fatal("foreign collection admitted")
	}
	if single.Supported(collection, nil, nil) {
		t.Fatal("nil token id admitted")
	}

	set := NewCollectionSetGate([]common.Address{collection, other})
	if !set.Supported(other, big.NewInt(9), nil) {
		t.Fatal("set member rejected")
	}
	if set.Supported(common.HexToAddress("0x0c"), big.NewInt(9), nil) {
		t.Fatal("non-member admitted")
	}
}

func TestMerkleGateRoundTrip(t *testing.T) {
	token := common.HexToAddress("0x0a")
	leaves := make([]common.Hash, 0, 5)
	for i := int64(1); i <= 5; i++ {
		leaves = append(leaves, Leaf(token, big.NewInt(i)))
	}
	gate := NewMerkleGate(BuildRoot(leaves))

	for i := int64(1); i <= 5; i++ {
		proof := BuildProof(leaves, int(i-1))
		if !gate.Supported(token, big.NewInt(i), proof) {
			t.Fatalf("member %d rejected", i)
		}
	}

	// Proof for a different leaf must not admit this token.
	if gate.Supported(token, big.NewInt(6), BuildProof(leaves, 0)) {
		t.Fatal("non-member admitted")
	}
	// Truncated proof is unsupported, not a panic.
	proof := BuildProof(leaves, 0)
	if gate.Supported(token, big.NewInt(1), proof[:len(proof)-1]) {
		t.Fatal("malformed proof admitted")
	}
}

func TestMerkleGateSingleLeaf(t *testing.T) {
	token := common.HexToAddress("0x0a")
	leaves := []common.Hash{Leaf(token, big.NewInt(7))}
	gate := NewMerkleGate(BuildRoot(leaves))
	if !gate.Supported(token, big.NewInt(7), nil) {
		t.Fatal("single-leaf member rejected")
	}
	if gate.Supported(token, big.NewInt(8), nil) {
		t.Fatal("single-leaf non-member admitted")
	}
}
