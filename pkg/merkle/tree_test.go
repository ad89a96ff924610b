package merkle

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func leafOf(s string) []byte {
	h := crypto.Keccak256([]byte(s))
	return h
}

func TestBuildTree_SingleLeaf(t *testing.T) {
	leaf := leafOf("test data")
	tree, err := BuildTree([][]byte{leaf})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}
	if !bytes.Equal(tree.Root(), leaf) {
		t.Errorf("single leaf root mismatch: got %x, want %x", tree.Root(), leaf)
	}
	if tree.LeafCount() != 1 {
		t.Errorf("leaf count mismatch: got %d, want 1", tree.LeafCount())
	}
}

func TestBuildTree_TwoLeaves_SortPairFirst(t *testing.T) {
	leaf1 := leafOf("leaf 1")
	leaf2 := leafOf("leaf 2")

	tree, err := BuildTree([][]byte{leaf1, leaf2})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}

	left, right := leaf1, leaf2
	if bytes.Compare(leaf1, leaf2) > 0 {
		left, right = leaf2, leaf1
	}
	combined := make([]byte, 64)
	copy(combined[:32], left)
	copy(combined[32:], right)
	expectedRoot := crypto.Keccak256(combined)

	if !bytes.Equal(tree.Root(), expectedRoot) {
		t.Errorf("two leaf root mismatch: got %x, want %x", tree.Root(), expectedRoot)
	}
}

func TestBuildTree_OddLeaf_PromotedUnchanged(t *testing.T) {
	h1, h2, h3 := leafOf("a"), leafOf("b"), leafOf("c")
	// Sort so h1 < h2 < h3 by byte order, matching the spec's literal scenario.
	hashes := [][]byte{h1, h2, h3}
	for i := 0; i < len(hashes); i++ {
		for j := i + 1; j < len(hashes); j++ {
			if bytes.Compare(hashes[i], hashes[j]) > 0 {
				hashes[i], hashes[j] = hashes[j], hashes[i]
			}
		}
	}
	h1, h2, h3 = hashes[0], hashes[1], hashes[2]

	tree, err := BuildTree([][]byte{h1, h2, h3})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}

	innerCombined := make([]byte, 64)
	copy(innerCombined[:32], h1)
	copy(innerCombined[32:], h2)
	inner := crypto.Keccak256(innerCombined)

	// h3 is the odd leftover at level 0 and is promoted unchanged to level 1,
	// where it combines with `inner` (sorted, since both are 32-byte values).
	left, right := inner, h3
	if bytes.Compare(inner, h3) > 0 {
		left, right = h3, inner
	}
	finalCombined := make([]byte, 64)
	copy(finalCombined[:32], left)
	copy(finalCombined[32:], right)
	expectedRoot := crypto.Keccak256(finalCombined)

	if !bytes.Equal(tree.Root(), expectedRoot) {
		t.Errorf("odd-leaf root mismatch: got %x, want %x", tree.Root(), expectedRoot)
	}

	for i, leaf := range [][]byte{h1, h2, h3} {
		proof, err := tree.GenerateProof(i)
		if err != nil {
			t.Fatalf("leaf %d: %v", i, err)
		}
		valid, err := VerifyProof(leaf, proof, tree.Root())
		if err != nil {
			t.Fatalf("leaf %d: %v", i, err)
		}
		if !valid {
			t.Errorf("leaf %d: proof failed to verify", i)
		}
	}
}

func TestBuildTree_RejectsDuplicateLeaves(t *testing.T) {
	leaf := leafOf("dup")
	if _, err := BuildTree([][]byte{leaf, leaf}); err != ErrDuplicateLeaf {
		t.Fatalf("expected ErrDuplicateLeaf, got %v", err)
	}
}

func TestBuildTree_RejectsOverMaxLeaves(t *testing.T) {
	leaves := make([][]byte, MaxLeaves+1)
	for i := range leaves {
		leaves[i] = crypto.Keccak256([]byte{byte(i), byte(i >> 8)})
	}
	if _, err := BuildTree(leaves); err != ErrTooManyLeaves {
		t.Fatalf("expected ErrTooManyLeaves, got %v", err)
	}
}

func TestGenerateProof_FourLeaves(t *testing.T) {
	leaves := make([][]byte, 4)
	for i := 0; i < 4; i++ {
		leaves[i] = crypto.Keccak256([]byte{byte(i)})
	}
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}
	for i := 0; i < 4; i++ {
		proof, err := tree.GenerateProof(i)
		if err != nil {
			t.Fatalf("failed to generate proof for leaf %d: %v", i, err)
		}
		if len(proof.Path) != 2 {
			t.Errorf("leaf %d: proof path length mismatch: got %d, want 2", i, len(proof.Path))
		}
		valid, err := VerifyProof(leaves[i], proof, tree.Root())
		if err != nil {
			t.Fatalf("leaf %d: failed to verify proof: %v", i, err)
		}
		if !valid {
			t.Errorf("leaf %d: proof verification failed", i)
		}
	}
}

func TestGenerateProof_LargeTree(t *testing.T) {
	leaves := make([][]byte, 100)
	for i := 0; i < 100; i++ {
		leaves[i] = crypto.Keccak256([]byte{byte(i), byte(i >> 8)})
	}
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}
	for _, i := range []int{0, 1, 49, 50, 99} {
		proof, err := tree.GenerateProof(i)
		if err != nil {
			t.Fatalf("failed to generate proof for leaf %d: %v", i, err)
		}
		valid, err := VerifyProof(leaves[i], proof, tree.Root())
		if err != nil {
			t.Fatalf("leaf %d: failed to verify proof: %v", i, err)
		}
		if !valid {
			t.Errorf("leaf %d: proof verification failed", i)
		}
	}
}

func TestGenerateProof_MaxLeaves(t *testing.T) {
	leaves := make([][]byte, MaxLeaves)
	for i := range leaves {
		leaves[i] = crypto.Keccak256([]byte{byte(i), byte(i >> 8)})
	}
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("failed to build max-size tree: %v", err)
	}
	if tree.LeafCount() != MaxLeaves {
		t.Fatalf("leaf count mismatch: got %d, want %d", tree.LeafCount(), MaxLeaves)
	}
}

func TestVerifyProof_InvalidProof(t *testing.T) {
	leaf1, leaf2 := leafOf("leaf 1"), leafOf("leaf 2")
	tree, err := BuildTree([][]byte{leaf1, leaf2})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}
	proof, err := tree.GenerateProof(0)
	if err != nil {
		t.Fatalf("failed to generate proof: %v", err)
	}

	wrongLeaf := leafOf("wrong leaf")
	valid, err := VerifyProof(wrongLeaf, proof, tree.Root())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if valid {
		t.Error("proof should not be valid for wrong leaf")
	}

	wrongRoot := leafOf("wrong root")
	valid, err = VerifyProof(leaf1, proof, wrongRoot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if valid {
		t.Error("proof should not be valid for wrong root")
	}
}

func TestGenerateProofByHash(t *testing.T) {
	leaf1, leaf2 := leafOf("leaf 1"), leafOf("leaf 2")
	tree, err := BuildTree([][]byte{leaf1, leaf2})
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}
	proof, err := tree.GenerateProofByHash(leaf2)
	if err != nil {
		t.Fatalf("failed to generate proof by hash: %v", err)
	}
	if proof.LeafIndex != 1 {
		t.Errorf("leaf index mismatch: got %d, want 1", proof.LeafIndex)
	}
	valid, err := VerifyProof(leaf2, proof, tree.Root())
	if err != nil {
		t.Fatalf("failed to verify proof: %v", err)
	}
	if !valid {
		t.Error("proof verification failed")
	}
}

func TestProofSerialization(t *testing.T) {
	leaves := make([][]byte, 4)
	for i := 0; i < 4; i++ {
		leaves[i] = crypto.Keccak256([]byte{byte(i)})
	}
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("failed to build tree: %v", err)
	}
	proof, err := tree.GenerateProof(2)
	if err != nil {
		t.Fatalf("failed to generate proof: %v", err)
	}

	jsonData, err := proof.ToJSON()
	if err != nil {
		t.Fatalf("failed to serialize proof: %v", err)
	}
	restored, err := ProofFromJSON(jsonData)
	if err != nil {
		t.Fatalf("failed to deserialize proof: %v", err)
	}

	leafHash, _ := hex.DecodeString(stripHexPrefix(restored.LeafHash))
	rootHash, _ := hex.DecodeString(stripHexPrefix(restored.MerkleRoot))
	valid, err := VerifyProof(leafHash, restored, rootHash)
	if err != nil {
		t.Fatalf("failed to verify restored proof: %v", err)
	}
	if !valid {
		t.Error("restored proof verification failed")
	}
}

func TestEmptyTree(t *testing.T) {
	if _, err := BuildTree([][]byte{}); err != ErrEmptyTree {
		t.Errorf("expected ErrEmptyTree, got %v", err)
	}
}

func TestInvalidLeafHash(t *testing.T) {
	if _, err := BuildTree([][]byte{[]byte("not 32 bytes")}); err == nil {
		t.Error("expected error for invalid leaf hash")
	}
}

func TestHashLeaf_Deterministic(t *testing.T) {
	data := []byte("test data")
	h1 := HashLeaf(data)
	h2 := HashLeaf(data)
	if len(h1) != 32 {
		t.Errorf("hash length mismatch: got %d, want 32", len(h1))
	}
	if !bytes.Equal(h1, h2) {
		t.Error("hash is not deterministic")
	}
}
