// Package account implements the account model (§4.B): the leaf record of
// the account SMT, its nested balance sub-tree, and the canonical bit
// serialization that is the sole input to the account leaf hash.
package account

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/matter-labs/zksync-sub003/internal/smt"
	"github.com/matter-labs/zksync-sub003/internal/zkhash"
	"github.com/matter-labs/zksync-sub003/types"
)

// BalanceTreeDepth is the depth of each account's balance sub-tree
// (2^11 = 2048 token/NFT slots).
const BalanceTreeDepth = 11

// AccountTreeDepth is the depth of the top-level account SMT.
const AccountTreeDepth = 32

// Balance is the leaf value of an account's balance sub-tree: the token
// amount held at a given token-id slot. Absent entries are zero (§3).
type Balance struct {
	Value *uint256.Int
}

// ZeroBalance is the default (never-populated) balance leaf.
var ZeroBalance = Balance{Value: uint256.NewInt(0)}

// Bits implements smt.Leaf: the canonical 32-byte big-endian value.
func (b Balance) Bits() []byte {
	v := b.Value
	if v == nil {
		v = uint256.NewInt(0)
	}
	be := v.Bytes32()
	out := make([]byte, 32)
	copy(out, be[:])
	return out
}

// BalanceTree is an account's sparse balance sub-tree, keyed by token-id.
type BalanceTree = smt.Tree[Balance]

// NewBalanceTree builds an empty balance tree using the given hasher.
func NewBalanceTree(hasher zkhash.Hasher) *BalanceTree {
	return smt.New[Balance](BalanceTreeDepth, hasher, ZeroBalance)
}

// Account is the leaf of the account SMT (§3, §4.B). AccountID is not part
// of the struct: it is the key under which the account is stored in the
// account tree.
type Account struct {
	Address    types.Address
	PubKeyHash types.PubKeyHash
	Nonce      uint32
	Balances   *BalanceTree
}

// NewDefaultAccount returns the canonical never-used account: zero nonce,
// zero pubkey-hash, zero address, and an empty balance subtree (§4.B).
func NewDefaultAccount(hasher zkhash.Hasher) *Account {
	return &Account{Balances: NewBalanceTree(hasher)}
}

// Bits implements smt.Leaf. Per §4.B: "get_bits_le serializes (nonce ∥
// pubkey-hash ∥ address ∥ balance-subtree-root) in a canonical fixed-width
// LE encoding; this is the only ingredient for leaf hashing." The nonce
// field is encoded little-endian; the remaining fixed-width byte strings
// are concatenated verbatim since LE/BE is only meaningful for the
// multi-byte nonce integer.
func (a *Account) Bits() []byte {
	out := make([]byte, 0, 4+types.PubKeyHashLength+types.AddressLength+zkhash.Size)
	var nonceLE [4]byte
	binary.LittleEndian.PutUint32(nonceLE[:], a.Nonce)
	out = append(out, nonceLE[:]...)
	out = append(out, a.PubKeyHash[:]...)
	out = append(out, a.Address[:]...)
	root := a.Balances.RootHash()
	out = append(out, root[:]...)
	return out
}

// Clone deep-copies the account, including an independent balance tree
// cache (mirrors smt.Tree.Clone's cache-is-logical-state rule).
func (a *Account) Clone() *Account {
	return &Account{
		Address:    a.Address,
		PubKeyHash: a.PubKeyHash,
		Nonce:      a.Nonce,
		Balances:   a.Balances.Clone(),
	}
}

// GetBalance returns the balance of token, or zero if unset.
func (a *Account) GetBalance(token types.TokenID) *uint256.Int {
	b, _ := a.Balances.Get(uint64(token))
	if b.Value == nil {
		return uint256.NewInt(0)
	}
	return b.Value.Clone()
}

// SetBalance writes the balance of token.
func (a *Account) SetBalance(token types.TokenID, value *uint256.Int) {
	a.Balances.Insert(uint64(token), Balance{Value: value})
}
