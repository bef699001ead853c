package statemachine

import (
	"github.com/holiman/uint256"

	"github.com/matter-labs/zksync-sub003/internal/smt"
	"github.com/matter-labs/zksync-sub003/internal/zkhash"
	"github.com/matter-labs/zksync-sub003/types"
)

// LeafSnapshot captures one (account, token) pair's full state at a point
// in time, including the audit paths the witness builder needs for both
// the account tree and the account's balance sub-tree (§4.D, §4.E).
type LeafSnapshot struct {
	AccountID types.AccountID
	Token     types.TokenID

	Nonce      uint32
	PubKeyHash types.PubKeyHash
	Address    types.Address
	Balance    *uint256.Int

	AccountRoot zkhash.Digest
	AccountPath []smt.PathStep
	BalancePath []smt.PathStep
}

// LeafOpTrace is one "read leaf, mutate, write back" step applied during
// execution (§4.D): the before/after snapshots of a single (account,
// token) pair. A multi-party op (Transfer, Swap) produces several of
// these in sequence; the After of one step is the Before of the next,
// giving the witness builder the "intermediate" captures §4.D requires.
type LeafOpTrace struct {
	AccountID types.AccountID
	Token     types.TokenID
	Before    LeafSnapshot
	After     LeafSnapshot
}

// ExecutionResult is everything Apply produces for one successfully
// executed op: the ordered leaf-operation trace and any fee collected.
type ExecutionResult struct {
	Steps     []LeafOpTrace
	Fee       *uint256.Int
	FeeToken  types.TokenID
	HasFee    bool
	NewAccountIDs []types.AccountID // accounts created by this op, in creation order
}
