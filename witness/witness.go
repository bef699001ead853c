// Package witness builds the per-operation proof inputs the prover needs
// (§4.E): audit paths before/after each leaf write, the packed
// amount/fee with a round-trip assertion, the range-proof scalars, and the
// op's public data sliced into chunk-sized fields.
package witness

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/matter-labs/zksync-sub003/internal/smt"
	"github.com/matter-labs/zksync-sub003/internal/zkhash"
	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/statemachine"
	"github.com/matter-labs/zksync-sub003/types"
)

// ErrRoundTrip is returned when a packed amount or fee does not decode back
// to the original value.
var ErrRoundTrip = errors.New("witness: packed value does not round-trip")

// BranchState is one (account, token) leaf's full witness data at a point
// in an op's execution.
type BranchState struct {
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

func fromSnapshot(s statemachine.LeafSnapshot) BranchState {
	return BranchState{
		AccountID:   s.AccountID,
		Token:       s.Token,
		Nonce:       s.Nonce,
		PubKeyHash:  s.PubKeyHash,
		Address:     s.Address,
		Balance:     s.Balance,
		AccountRoot: s.AccountRoot,
		AccountPath: s.AccountPath,
		BalancePath: s.BalancePath,
	}
}

// OperationBranch is one leaf-operation's before/after witness pair (§4.E).
// A multi-party op (Transfer, Swap) yields one OperationBranch per
// LeafOpTrace step, in application order, so the After of one branch is the
// Before of the next — the "intermediate state between debit and credit"
// the spec calls for.
type OperationBranch struct {
	Before BranchState
	After  BranchState
}

// Chunk is one CHUNK_BIT_WIDTH slice of an op's public data (§4.C),
// tagged with the account-tree root in effect once the op has fully
// applied. A real circuit binds each chunk to the precise intermediate
// root it was computed against; this node does not reprove circuits, so
// every chunk here is tagged with the op's final post-state root.
type Chunk struct {
	Index     int
	Data      [optypes.ChunkBytes]byte
	RootAfter zkhash.Digest
}

// Witness is everything the prover needs for one executed operation.
type Witness struct {
	OpCode   optypes.OpCode
	Branches []OperationBranch
	Chunks   []Chunk

	PackedAmount []byte
	PackedFee    []byte

	// RangeProofA and RangeProofB are the `a, b` scalars the range proof
	// checks (balance_before, amount+fee), per §4.E.
	RangeProofA *uint256.Int
	RangeProofB *uint256.Int

	Signature    optypes.Signature
	EthSignature optypes.EthSignature
}

// Build assembles a Witness for one executed op. amount/fee may be nil for
// ops that do not move a user-specified amount; the state keeper passes a
// nil amount for priority ops (Deposit, FullExit) and for ForcedExit.
func Build(op optypes.Op, res *statemachine.ExecutionResult, amount, fee *uint256.Int, sig optypes.Signature, ethSig optypes.EthSignature) (*Witness, error) {
	pubData := op.PublicData()
	if len(pubData)%optypes.ChunkBytes != 0 {
		return nil, fmt.Errorf("witness: public data length %d is not chunk-aligned", len(pubData))
	}

	var finalRoot zkhash.Digest
	if len(res.Steps) > 0 {
		finalRoot = res.Steps[len(res.Steps)-1].After.AccountRoot
	}
	chunks := make([]Chunk, len(pubData)/optypes.ChunkBytes)
	for i := range chunks {
		var c Chunk
		c.Index = i
		copy(c.Data[:], pubData[i*optypes.ChunkBytes:(i+1)*optypes.ChunkBytes])
		c.RootAfter = finalRoot
		chunks[i] = c
	}

	branches := make([]OperationBranch, len(res.Steps))
	for i, step := range res.Steps {
		branches[i] = OperationBranch{Before: fromSnapshot(step.Before), After: fromSnapshot(step.After)}
	}

	var packedAmount []byte
	if amount != nil {
		packed, err := optypes.PackAmount(amount)
		if err != nil {
			return nil, err
		}
		back, err := optypes.UnpackAmount(packed)
		if err != nil || back.Cmp(amount) != 0 {
			return nil, ErrRoundTrip
		}
		packedAmount = packed
	}

	var packedFee []byte
	if fee != nil {
		packed, err := optypes.PackFee(fee)
		if err != nil {
			return nil, err
		}
		back, err := optypes.UnpackFee(packed)
		if err != nil || back.Cmp(fee) != 0 {
			return nil, ErrRoundTrip
		}
		packedFee = packed
	}

	var a, b *uint256.Int
	if len(res.Steps) > 0 {
		a = res.Steps[0].Before.Balance
		total := uint256.NewInt(0)
		if amount != nil {
			total.Add(total, amount)
		}
		if fee != nil {
			total.Add(total, fee)
		}
		b = total
	}

	return &Witness{
		OpCode:       op.OpCode(),
		Branches:     branches,
		Chunks:       chunks,
		PackedAmount: packedAmount,
		PackedFee:    packedFee,
		RangeProofA:  a,
		RangeProofB:  b,
		Signature:    sig,
		EthSignature: ethSig,
	}, nil
}

// BlockWitness is the ordered collection of op witnesses for one sealed
// block, plus the roots bracketing the whole batch.
type BlockWitness struct {
	RootBefore zkhash.Digest
	RootAfter  zkhash.Digest
	Ops        []*Witness
}
