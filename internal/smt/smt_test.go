package smt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub003/internal/zkhash"
)

type testLeaf struct{ v uint64 }

func (l testLeaf) Bits() []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(l.v >> (8 * uint(7-i)))
	}
	return b
}

func newTestTree(depth int) *Tree[testLeaf] {
	return New[testLeaf](depth, zkhash.NewDomainHasher(), testLeaf{})
}

func TestInsertRemoveRoundTrip(t *testing.T) {
	tr := newTestTree(8)
	for i := uint64(0); i < 64; i++ {
		tr.Insert(i, testLeaf{v: i + 1})
	}
	for i := uint64(0); i < 64; i++ {
		v, ok := tr.Get(i)
		require.True(t, ok)
		require.Equal(t, i+1, v.v)
	}
	for i := uint64(0); i < 64; i += 2 {
		prev, had := tr.Remove(i)
		require.True(t, had)
		require.Equal(t, i+1, prev.v)
		_, ok := tr.Get(i)
		require.False(t, ok)
	}
	for i := uint64(1); i < 64; i += 2 {
		v, ok := tr.Get(i)
		require.True(t, ok)
		require.Equal(t, i+1, v.v)
	}
}

func TestRootHashDeterministicAcrossOrderings(t *testing.T) {
	depth := 16
	n := 200
	rng := rand.New(rand.NewSource(1))
	indices := make([]uint64, n)
	values := make([]testLeaf, n)
	seen := map[uint64]bool{}
	for i := 0; i < n; {
		idx := rng.Uint64() % (1 << uint(depth))
		if seen[idx] {
			continue
		}
		seen[idx] = true
		indices[i] = idx
		values[i] = testLeaf{v: idx + 7}
		i++
	}

	t1 := newTestTree(depth)
	for i := 0; i < n; i++ {
		t1.Insert(indices[i], values[i])
	}
	root1 := t1.RootHash()

	order := rng.Perm(n)
	t2 := newTestTree(depth)
	for _, i := range order {
		t2.Insert(indices[i], values[i])
	}
	root2 := t2.RootHash()

	require.Equal(t, root1, root2)
}

func TestMerklePathConsistency(t *testing.T) {
	depth := 10
	tr := newTestTree(depth)
	for i := uint64(0); i < 50; i++ {
		tr.Insert(i*3, testLeaf{v: i + 1})
	}
	root := tr.RootHash()
	for i := uint64(0); i < 50; i++ {
		idx := i * 3
		leaf, ok := tr.Get(idx)
		require.True(t, ok)
		path := tr.MerklePath(idx)
		require.Len(t, path, depth)
		require.True(t, VerifyPath(zkhash.NewDomainHasher(), leaf, idx, depth, path, root))
	}
	// Unpopulated slot folds to the default leaf and must still verify.
	path := tr.MerklePath(1)
	require.True(t, VerifyPath(zkhash.NewDomainHasher(), testLeaf{}, 1, depth, path, root))
}

func TestCloneHasIndependentCache(t *testing.T) {
	tr := newTestTree(8)
	tr.Insert(5, testLeaf{v: 42})
	root := tr.RootHash()

	clone := tr.Clone()
	clone.Insert(6, testLeaf{v: 99})

	require.Equal(t, root, tr.RootHash())
	require.NotEqual(t, root, clone.RootHash())
	_, ok := tr.Get(6)
	require.False(t, ok)
}
