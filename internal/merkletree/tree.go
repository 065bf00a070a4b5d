// Package merkletree implements the per-bucket, fixed-depth Poseidon Merkle
// trees backing the deposit pool (spec C4), using the incremental
// "filled subtree" / frontier technique: each insert only recomputes the
// O(depth) nodes on the path from the new leaf to the root, using a
// precomputed zero-subtree chain for the empty siblings.
package merkletree

import (
	"fmt"

	"github.com/privacy-proxy/relayer/internal/field"
)

// Depth is the fixed tree depth for every bucket (2^20 leaves per pool).
const Depth = 20

// zeroChain[0] is the zero leaf; zeroChain[i] = Poseidon(zeroChain[i-1], zeroChain[i-1]).
var zeroChain = buildZeroChain()

func buildZeroChain() [Depth + 1][32]byte {
	var chain [Depth + 1][32]byte
	for i := 1; i <= Depth; i++ {
		chain[i] = field.Poseidon(chain[i-1], chain[i-1])
	}
	return chain
}

// Proof is an inclusion proof: the sibling hash and path direction bit at
// each of the Depth levels from leaf to root.
type Proof struct {
	Siblings  [Depth][32]byte
	PathBits  [Depth]bool // false = leaf/node is the left child, true = right child
	LeafIndex uint64
}

// Tree is a single incremental Merkle tree of fixed depth.
type Tree struct {
	// filledSubtrees[level] holds the hash of the right-most *complete*
	// subtree at that level seen so far — the standard incremental-tree
	// frontier.
	filledSubtrees [Depth][32]byte
	leaves         [][32]byte
}

// New constructs an empty tree.
func New() *Tree {
	return &Tree{}
}

// Size returns the number of leaves inserted so far.
func (t *Tree) Size() uint64 {
	return uint64(len(t.leaves))
}

// Insert appends a new leaf and returns its index. The Depth-levels of the
// path from the new leaf to the root are recomputed; everything else is
// reused from the frontier.
func (t *Tree) Insert(leaf [32]byte) (uint64, error) {
	index := uint64(len(t.leaves))
	if index >= 1<<Depth {
		return 0, fmt.Errorf("merkletree: pool is full at depth %d", Depth)
	}

	current := leaf
	idx := index
	for level := 0; level < Depth; level++ {
		if idx%2 == 0 {
			// current is a left child; its right sibling is the zero subtree
			// unless a later leaf has filled it in, which cannot happen here
			// since we only ever insert the right-most leaf.
			t.filledSubtrees[level] = current
			current = field.Poseidon(current, zeroChain[level])
		} else {
			left := t.filledSubtrees[level]
			current = field.Poseidon(left, current)
		}
		idx /= 2
	}

	t.leaves = append(t.leaves, leaf)
	_ = current // root is recomputed on demand by Root(); see below.
	return index, nil
}

// Root recomputes the current root from the frontier and leaf count. It is
// O(depth), not O(size), since only the filled-subtree frontier is needed.
func (t *Tree) Root() [32]byte {
	if len(t.leaves) == 0 {
		return zeroChain[Depth]
	}

	// Walk the same path the last insert took, which is sufficient to
	// reconstruct the root from the frontier: at each level, an index of 0
	// residue means the root so far is (filledSubtrees[level], zero),
	// otherwise the tree must look further up using the parity of the
	// running index.
	idx := uint64(len(t.leaves) - 1)
	current := t.leaves[len(t.leaves)-1]
	for level := 0; level < Depth; level++ {
		if idx%2 == 0 {
			current = field.Poseidon(current, zeroChain[level])
		} else {
			current = field.Poseidon(t.filledSubtrees[level], current)
		}
		idx /= 2
	}
	return current
}

// Proof returns an inclusion proof for the leaf at leafIndex. This
// recomputes the full tree's sibling path from the stored leaves, which is
// O(size) — acceptable for the proof endpoint's request-time cost, unlike
// Insert/Root which must stay O(depth).
func (t *Tree) Proof(leafIndex uint64) (*Proof, error) {
	if leafIndex >= uint64(len(t.leaves)) {
		return nil, fmt.Errorf("merkletree: leaf index %d out of bounds (size %d)", leafIndex, len(t.leaves))
	}

	level := make([][32]byte, len(t.leaves))
	copy(level, t.leaves)

	proof := &Proof{LeafIndex: leafIndex}
	idx := leafIndex
	for d := 0; d < Depth; d++ {
		if len(level)%2 == 1 {
			level = append(level, zeroChain[d])
		}
		siblingIdx := idx ^ 1
		proof.Siblings[d] = level[siblingIdx]
		proof.PathBits[d] = idx%2 == 1

		next := make([][32]byte, len(level)/2)
		for i := range next {
			next[i] = field.Poseidon(level[2*i], level[2*i+1])
		}
		level = next
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root implied by leaf and proof, and compares
// it against root — the round-trip soundness property from spec §8.
func VerifyProof(root, leaf [32]byte, proof *Proof) bool {
	current := leaf
	for d := 0; d < Depth; d++ {
		if proof.PathBits[d] {
			current = field.Poseidon(proof.Siblings[d], current)
		} else {
			current = field.Poseidon(current, proof.Siblings[d])
		}
	}
	return current == root
}

// Leaves returns a copy of the leaves inserted so far, used by snapshot
// persistence and chain-reconciliation rebuilds.
func (t *Tree) Leaves() [][32]byte {
	out := make([][32]byte, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// Rebuild discards the current tree contents and re-inserts every leaf in
// commitments in order, used by SyncFromChain to replace the local tree with
// the on-chain commitment list.
func Rebuild(commitments [][32]byte) (*Tree, error) {
	t := New()
	for _, c := range commitments {
		if _, err := t.Insert(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}
