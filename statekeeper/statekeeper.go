// Package statekeeper owns the canonical account map and the pending block
// (§4.H): applying proposed ops in order, enforcing gas and chunk
// discipline, sealing on any of the documented triggers, and collecting
// fees into the fee account as the block's final synthetic leaf operation.
package statekeeper

import (
	"errors"
	"time"

	"github.com/holiman/uint256"

	"github.com/matter-labs/zksync-sub003/internal/zkhash"
	"github.com/matter-labs/zksync-sub003/internal/zklog"
	"github.com/matter-labs/zksync-sub003/mempool"
	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/proposer"
	"github.com/matter-labs/zksync-sub003/statemachine"
	"github.com/matter-labs/zksync-sub003/types"
	"github.com/matter-labs/zksync-sub003/witness"
)

// ErrTimestampRegression is returned when a proposed block's timestamp is
// lower than the previously sealed block's (§4.H "Timing").
var ErrTimestampRegression = errors.New("statekeeper: block timestamp must be non-decreasing")

// batchGasOverflowReason is the exact fail-reason string the spec names for
// a batch whose summed gas exceeds the per-block gas limit (§4.H "Batch
// atomicity"). A batch this big fails as a whole, consuming no gas or
// chunks, rather than sealing the block early the way a single oversized op
// would.
const batchGasOverflowReason = "Amount of gas required to process batch is too big"

// Config bounds a single block (§4.H).
type Config struct {
	TxGasLimit     uint64
	MaxBlockChunks int
	BlockTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{TxGasLimit: 15_000_000, MaxBlockChunks: 680, BlockTimeout: 2 * time.Second}
}

// Gas cost table, modeled on zkSync Lite's circuit commit/verify gas table:
// ops that create accounts or touch two parties cost more than simple
// single-leaf ops.
var txGasCost = map[optypes.TxKind]uint64{
	optypes.TxTransfer:     100_000,
	optypes.TxWithdraw:     120_000,
	optypes.TxChangePubKey: 150_000,
	optypes.TxForcedExit:   120_000,
	optypes.TxSwap:         200_000,
	optypes.TxMintNFT:      150_000,
	optypes.TxWithdrawNFT:  150_000,
}

var priorityGasCost = map[optypes.PriorityOpKind]uint64{
	optypes.PriorityDeposit:  50_000,
	optypes.PriorityFullExit: 100_000,
}

// SealReason records why a block was sealed.
type SealReason int

const (
	SealUnspecified SealReason = iota
	SealChunkCapacity
	SealGasLimit
	SealTimeout
	SealExternalRequest
)

// AppliedOp is one op's outcome within a (possibly still-pending) block.
type AppliedOp struct {
	Op         optypes.Op
	Witness    *witness.Witness
	TxHash     types.Hash     // zero for priority ops
	SerialID   types.SerialID // zero for txs
	Failed     bool
	FailReason string
}

// Block is a sealed block: every applied op (including failed slots) plus
// the root transition and fee-collection leaf op.
type Block struct {
	Number             uint64
	Timestamp          uint64
	RootBefore         zkhash.Digest
	RootAfter          zkhash.Digest
	Ops                []AppliedOp
	FeeAccountID       types.AccountID
	FeeTotals          map[types.TokenID]*uint256.Int
	FeeCollectionSteps []statemachine.LeafOpTrace
	SealReason         SealReason
}

// pendingBlock accumulates state for the block currently being built.
type pendingBlock struct {
	timestamp    uint64
	rootBefore   zkhash.Digest
	ops          []AppliedOp
	usedGas      uint64
	usedChunks   int
	feeTotals    map[types.TokenID]*uint256.Int
	feeAccountID types.AccountID
}

// Keeper applies proposed blocks against the account state.
type Keeper struct {
	cfg   Config
	state *statemachine.State
	log   *zklog.Logger

	blockNumber    uint64
	lastSealedTime uint64
	pending        *pendingBlock
}

// NewKeeper constructs a Keeper over state. The account that collects a
// block's fees is chosen per block, by BeginBlock's feeAccountID.
func NewKeeper(cfg Config, state *statemachine.State, log *zklog.Logger) *Keeper {
	if log == nil {
		log = zklog.Module("statekeeper")
	}
	return &Keeper{cfg: cfg, state: state, log: log}
}

// State exposes the underlying account state (read-mostly; mutated only via
// ApplyBlock).
func (k *Keeper) State() *statemachine.State { return k.state }

// BeginBlock opens a new pending block at timestamp, enforcing the
// non-decreasing-timestamp invariant.
func (k *Keeper) BeginBlock(timestamp uint64, feeAccountID types.AccountID) error {
	if timestamp < k.lastSealedTime {
		return ErrTimestampRegression
	}
	k.pending = &pendingBlock{
		timestamp:    timestamp,
		rootBefore:   k.state.RootHash(),
		feeTotals:    make(map[types.TokenID]*uint256.Int),
		feeAccountID: feeAccountID,
	}
	return nil
}

// ApplyBlock applies a proposer.ProposedBlock's ops in order (priority ops
// then txs), honoring gas/chunk discipline, and returns a sealed Block when
// a seal trigger fires. If the proposed ops run out first it returns a nil
// Block and leaves the pending block open.
func (k *Keeper) ApplyBlock(proposed *proposer.ProposedBlock) (*Block, error) {
	if k.pending == nil {
		if err := k.BeginBlock(proposed.Timestamp, 0); err != nil {
			return nil, err
		}
	}

	nextOpID := proposed.StartUnprocessedPriorityOpID
	for _, op := range proposed.PriorityOps {
		gas := priorityGasCost[op.Kind]
		if k.pending.usedGas+gas > k.cfg.TxGasLimit {
			return k.seal(SealGasLimit), nil
		}
		resultOp, res, err := k.state.Apply(statemachine.Instruction{Priority: op, Timestamp: proposed.Timestamp})
		applied := AppliedOp{SerialID: op.SerialID}
		nextOpID++
		if err != nil {
			applied.Failed = true
			applied.FailReason = err.Error()
			k.pending.ops = append(k.pending.ops, applied)
			continue
		}
		applied.Op = resultOp
		if w, werr := witness.Build(resultOp, res, nil, nil, optypes.Signature{}, optypes.EthSignature{}); werr == nil {
			applied.Witness = w
		}
		k.pending.ops = append(k.pending.ops, applied)
		k.pending.usedGas += gas
		k.pending.usedChunks += resultOp.Chunks()
		k.accumulateFee(res)
	}

	overflowedBatches := batchGasOverflow(proposed.Txs, k.cfg.TxGasLimit)

	for _, tx := range proposed.Txs {
		tx.NextPriorityOpID = nextOpID

		if tx.BatchID != (types.Hash{}) && overflowedBatches[tx.BatchID] {
			// Batch atomicity (§4.H): the batch's summed gas exceeds the
			// limit, so every tx in it fails as a whole. No gas or chunks
			// are consumed and the block is not sealed early.
			k.pending.ops = append(k.pending.ops, AppliedOp{
				TxHash:     mempool.TxHash(tx),
				Failed:     true,
				FailReason: batchGasOverflowReason,
			})
			continue
		}

		gas := txGasCost[tx.Kind]
		if k.pending.usedGas+gas > k.cfg.TxGasLimit {
			return k.seal(SealGasLimit), nil
		}
		hash := mempool.TxHash(tx)
		resultOp, res, err := k.state.Apply(statemachine.Instruction{Tx: tx, Timestamp: proposed.Timestamp, SigValid: true})
		applied := AppliedOp{TxHash: hash}
		if err != nil {
			applied.Failed = true
			applied.FailReason = err.Error()
			k.pending.ops = append(k.pending.ops, applied)
			continue
		}
		applied.Op = resultOp
		amount, fee := amountAndFee(tx)
		if w, werr := witness.Build(resultOp, res, amount, fee, tx.Signature, tx.EthSignature); werr == nil {
			applied.Witness = w
		}
		k.pending.ops = append(k.pending.ops, applied)
		k.pending.usedGas += gas
		k.pending.usedChunks += resultOp.Chunks()
		k.accumulateFee(res)
	}

	if k.pending.usedChunks >= k.cfg.MaxBlockChunks {
		return k.seal(SealChunkCapacity), nil
	}
	return nil, nil
}

// SealNow seals the current pending block regardless of whether a
// threshold was hit (external seal request, or timeout elapsed).
func (k *Keeper) SealNow(reason SealReason) *Block {
	return k.seal(reason)
}

func (k *Keeper) accumulateFee(res *statemachine.ExecutionResult) {
	if res == nil || !res.HasFee || res.Fee == nil {
		return
	}
	total, ok := k.pending.feeTotals[res.FeeToken]
	if !ok {
		total = uint256.NewInt(0)
	}
	k.pending.feeTotals[res.FeeToken] = new(uint256.Int).Add(total, res.Fee)
}

func (k *Keeper) seal(reason SealReason) *Block {
	feeSteps := k.state.CollectFees(k.pending.feeAccountID, k.pending.feeTotals)
	block := &Block{
		Number:             k.blockNumber,
		Timestamp:          k.pending.timestamp,
		RootBefore:         k.pending.rootBefore,
		RootAfter:          k.state.RootHash(),
		Ops:                k.pending.ops,
		FeeAccountID:       k.pending.feeAccountID,
		FeeTotals:          k.pending.feeTotals,
		FeeCollectionSteps: feeSteps,
		SealReason:         reason,
	}
	k.blockNumber++
	k.lastSealedTime = k.pending.timestamp
	k.pending = nil
	return block
}

// batchGasOverflow sums each batch's gas cost (by BatchID) across txs and
// reports which batches exceed limit — those fail as a whole (§4.H "Batch
// atomicity"), rather than triggering the usual per-op early-seal discipline.
func batchGasOverflow(txs []*optypes.SignedTx, limit uint64) map[types.Hash]bool {
	totals := make(map[types.Hash]uint64)
	for _, tx := range txs {
		if tx.BatchID == (types.Hash{}) {
			continue
		}
		totals[tx.BatchID] += txGasCost[tx.Kind]
	}
	overflowed := make(map[types.Hash]bool, len(totals))
	for batchID, sum := range totals {
		if sum > limit {
			overflowed[batchID] = true
		}
	}
	return overflowed
}

// amountAndFee extracts the witness-relevant (amount, fee) pair for a tx,
// or (nil, fee) for ops with no user-specified amount.
func amountAndFee(tx *optypes.SignedTx) (*uint256.Int, *uint256.Int) {
	switch tx.Kind {
	case optypes.TxTransfer:
		return tx.Transfer.Amount, tx.Fee
	case optypes.TxWithdraw:
		return tx.Withdraw.Amount, tx.Fee
	case optypes.TxSwap:
		return tx.Swap.Amount0, tx.Fee
	default:
		return nil, tx.Fee
	}
}
