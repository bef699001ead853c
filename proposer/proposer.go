// Package proposer implements block proposal (§4.G): a pure function of a
// mempool snapshot that selects which priority ops and txs go into the next
// block, honoring the reverted-first / priority-first / tx-phase ordering.
package proposer

import (
	"github.com/matter-labs/zksync-sub003/mempool"
	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/types"
)

// AccountLookup is the single DB read the proposer is permitted during
// proposal (§4.G): resolving whether a Transfer's counterparty account
// already exists, which changes its chunk cost (TransferToNew vs Transfer).
type AccountLookup interface {
	AccountIDByAddress(addr types.Address) (types.AccountID, bool)
}

// Config bounds a proposed block.
type Config struct {
	MaxBlockChunks int
}

func DefaultConfig() Config { return Config{MaxBlockChunks: 680} }

// ProposedBlock is the proposer's pure output: what the state keeper should
// attempt to apply next, in order (priority ops first, then txs).
type ProposedBlock struct {
	Timestamp   uint64
	PriorityOps []*optypes.PriorityOp
	Txs         []*optypes.SignedTx
	UsedChunks  int
	// RevertedReplay is set when this block's Txs came from the reverted
	// queue rather than the ordinary tx phase (§4.G step 1).
	RevertedReplay bool
	// StartUnprocessedPriorityOpID is the priority-op serial-id watermark
	// this block was proposed against. The state keeper seeds its own
	// running counter from this value to stamp each applied tx's
	// NextPriorityOpID (§4.G step 1, §8 property 10).
	StartUnprocessedPriorityOpID types.SerialID
}

// findPriorityOp looks up the single confirmed priority op with the exact
// given serial-id, the gap-fill step of the reverted-first phase needs.
func findPriorityOp(mp *mempool.Mempool, serial types.SerialID) *optypes.PriorityOp {
	ops := mp.PriorityOpsFrom(serial)
	if len(ops) == 0 || ops[0].SerialID != serial {
		return nil
	}
	return ops[0]
}

func priorityOpChunks(op *optypes.PriorityOp) int {
	switch op.Kind {
	case optypes.PriorityDeposit:
		return optypes.DepositOp{}.Chunks()
	case optypes.PriorityFullExit:
		return optypes.FullExitOp{}.Chunks()
	default:
		return 1
	}
}

// chunkCost resolves a tx's exact chunk cost, reading account existence for
// Transfer's counterparty.
func chunkCost(tx *optypes.SignedTx, accounts AccountLookup) int {
	switch tx.Kind {
	case optypes.TxTransfer:
		if _, exists := accounts.AccountIDByAddress(tx.Transfer.ToAddr); exists {
			return optypes.TransferOp{}.Chunks()
		}
		return optypes.TransferToNewOp{}.Chunks()
	case optypes.TxWithdraw:
		return optypes.WithdrawOp{}.Chunks()
	case optypes.TxChangePubKey:
		return optypes.ChangePubKeyOp{}.Chunks()
	case optypes.TxForcedExit:
		return optypes.ForcedExitOp{}.Chunks()
	case optypes.TxSwap:
		return optypes.SwapOp{}.Chunks()
	case optypes.TxMintNFT:
		return optypes.MintNFTOp{}.Chunks()
	case optypes.TxWithdrawNFT:
		return optypes.WithdrawNFTOp{}.Chunks()
	default:
		return 1
	}
}

// Propose runs the §4.G algorithm against a mempool snapshot. executedTxs
// marks hashes already included in an unsealed-but-applied pending block
// (so a re-proposal after a partial seal does not double-include them).
func Propose(cfg Config, mp *mempool.Mempool, accounts AccountLookup, currentUnprocessedPriorityOpID types.SerialID, blockTimestamp uint64, executedTxs map[types.Hash]struct{}) *ProposedBlock {
	block := &ProposedBlock{Timestamp: blockTimestamp, StartUnprocessedPriorityOpID: currentUnprocessedPriorityOpID}
	used := 0

	// Phase 1: reverted-first (§4.G step 1). A reverted tx remembers, in
	// NextPriorityOpID, how many priority ops had already been processed
	// when it originally ran. Replaying it before the counter has caught
	// back up to that mark would apply priority ops out of order, breaking
	// the gapless, strictly-increasing serial-id invariant (§8 property
	// 10) — so any missing priority ops are injected first, and the tx
	// waits if the one it needs hasn't been confirmed yet.
	reverted := mp.Reverted()
	nextSerialID := currentUnprocessedPriorityOpID
	for {
		tx, ok := reverted.Peek()
		if !ok {
			break
		}
		if nextSerialID < tx.NextPriorityOpID {
			op := findPriorityOp(mp, nextSerialID)
			if op == nil {
				break
			}
			cost := priorityOpChunks(op)
			if used+cost > cfg.MaxBlockChunks {
				break
			}
			block.PriorityOps = append(block.PriorityOps, op)
			used += cost
			nextSerialID++
			continue
		}
		cost := chunkCost(tx, accounts)
		if used+cost > cfg.MaxBlockChunks {
			break
		}
		reverted.PopFront()
		block.Txs = append(block.Txs, tx)
		used += cost
	}
	if len(block.Txs) > 0 || len(block.PriorityOps) > 0 {
		block.RevertedReplay = true
		block.UsedChunks = used
		return block
	}

	// Phase 2: priority-first, strict serial-id order.
	for _, op := range mp.PriorityOpsFrom(currentUnprocessedPriorityOpID) {
		cost := priorityOpChunks(op)
		if used+cost > cfg.MaxBlockChunks {
			break
		}
		block.PriorityOps = append(block.PriorityOps, op)
		used += cost
	}

	// Phase 3: tx phase, queue order, skipping already-executed and
	// not-yet-valid txs.
	for _, tx := range mp.Pending() {
		if executedTxs != nil {
			if _, done := executedTxs[mempool.TxHash(tx)]; done {
				continue
			}
		}
		if tx.TimeRange.ValidFrom > blockTimestamp {
			continue
		}
		cost := chunkCost(tx, accounts)
		if used+cost > cfg.MaxBlockChunks {
			break
		}
		block.Txs = append(block.Txs, tx)
		used += cost
	}

	block.UsedChunks = used
	return block
}
