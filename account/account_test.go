package account

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub003/internal/smt"
	"github.com/matter-labs/zksync-sub003/internal/zkhash"
)

func TestDefaultAccountHasZeroBalanceRoot(t *testing.T) {
	hasher := zkhash.NewDomainHasher()
	acc := NewDefaultAccount(hasher)
	require.True(t, acc.Nonce == 0)
	require.True(t, acc.PubKeyHash.IsZero())
	require.True(t, acc.Address.IsZero())

	empty := NewBalanceTree(hasher)
	require.Equal(t, empty.RootHash(), acc.Balances.RootHash())
}

func TestAccountBitsChangesWithBalance(t *testing.T) {
	hasher := zkhash.NewDomainHasher()
	acc := NewDefaultAccount(hasher)
	before := acc.Bits()

	acc.SetBalance(1, uint256.NewInt(1000))
	after := acc.Bits()
	require.NotEqual(t, before, after)
	require.Equal(t, uint256.NewInt(1000), acc.GetBalance(1))
	require.Equal(t, uint256.NewInt(0), acc.GetBalance(2))
}

func TestAccountTreeStoresPointers(t *testing.T) {
	hasher := zkhash.NewDomainHasher()
	tree := smt.New[*Account](AccountTreeDepth, hasher, NewDefaultAccount(hasher))

	a0 := NewDefaultAccount(hasher)
	a0.Nonce = 1
	a0.SetBalance(1, uint256.NewInt(500))
	tree.Insert(0, a0)

	got, ok := tree.Get(0)
	require.True(t, ok)
	require.Equal(t, uint32(1), got.Nonce)

	root1 := tree.RootHash()
	a0Clone := got.Clone()
	a0Clone.Nonce = 2
	tree.Insert(0, a0Clone)
	root2 := tree.RootHash()
	require.NotEqual(t, root1, root2)
}
