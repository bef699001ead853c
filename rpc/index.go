package rpc

import (
	"sync"

	"github.com/matter-labs/zksync-sub003/statekeeper"
	"github.com/matter-labs/zksync-sub003/types"
)

// Status is the lifecycle stage of a tx or priority op as observed from
// outside the core, mirroring the committed/verified split the notifier
// and §6's pubsub action filters use.
type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusCommitted
	StatusVerified
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	case StatusVerified:
		return "verified"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// record is the sealed-block placement of one tx or priority op, before
// the verified high-water mark is consulted.
type record struct {
	blockNumber uint64
	rejected    bool
	failReason  string
}

// Index tracks sealed blocks well enough to answer tx_info/ethop_info:
// which block an op landed in, whether it failed, and whether that block
// has since been verified. It is deliberately out-of-core bookkeeping (§1
// excludes persisted chain storage from this node); a production
// deployment backs this with the same store the prover pipeline reads.
type Index struct {
	mu           sync.RWMutex
	txs          map[types.Hash]record
	ops          map[types.SerialID]record
	verifiedUpTo uint64
}

// NewIndex constructs an empty Index.
func NewIndex() *Index {
	return &Index{txs: make(map[types.Hash]record), ops: make(map[types.SerialID]record)}
}

// RecordBlock indexes every applied op of a freshly sealed block.
func (idx *Index) RecordBlock(block *statekeeper.Block) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, applied := range block.Ops {
		r := record{blockNumber: block.Number, rejected: applied.Failed, failReason: applied.FailReason}
		if !applied.TxHash.IsZero() {
			idx.txs[applied.TxHash] = r
		}
		if applied.SerialID != 0 {
			idx.ops[applied.SerialID] = r
		}
	}
}

// MarkVerified raises the verified high-water mark to blockNumber; every
// block at or below it is now reported as verified rather than committed.
func (idx *Index) MarkVerified(blockNumber uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if blockNumber > idx.verifiedUpTo {
		idx.verifiedUpTo = blockNumber
	}
}

// TxStatus reports the status, sealing block number (0 if not sealed) and
// failure reason (if rejected) for a tx hash. pending reports whether the
// mempool still carries it, used when the index itself has no record.
func (idx *Index) TxStatus(hash types.Hash, pending bool) (Status, uint64, string) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.txs[hash]
	return idx.resolve(r, ok, pending)
}

// OpStatus reports the status of a priority op by serial id.
func (idx *Index) OpStatus(serial types.SerialID, pending bool) (Status, uint64, string) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.ops[serial]
	return idx.resolve(r, ok, pending)
}

func (idx *Index) resolve(r record, sealed, pending bool) (Status, uint64, string) {
	if !sealed {
		if pending {
			return StatusPending, 0, ""
		}
		return StatusUnknown, 0, ""
	}
	if r.rejected {
		return StatusRejected, r.blockNumber, r.failReason
	}
	if r.blockNumber <= idx.verifiedUpTo {
		return StatusVerified, r.blockNumber, ""
	}
	return StatusCommitted, r.blockNumber, ""
}
