// Package mempool implements tx and priority-op admission (§4.F): per-tx
// and per-batch persistence, priority-op de-duplication against the
// highest processed serial-id, and the FIFO-with-priority-interleaving
// ordering the block proposer consumes.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matter-labs/zksync-sub003/feeticker"
	"github.com/matter-labs/zksync-sub003/internal/metrics"
	"github.com/matter-labs/zksync-sub003/internal/zkhash"
	"github.com/matter-labs/zksync-sub003/internal/zklog"
	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/types"
)

var (
	ErrAlreadyKnown              = errors.New("mempool: tx already known")
	ErrBatchTooLarge             = errors.New("mempool: batch exceeds max block chunks")
	ErrPriorityOpAlreadyProcessed = errors.New("mempool: priority op serial-id already processed")
)

// AdmissionErrorKind identifies one of the named admission-rejection reasons
// (§7): a client-facing taxonomy distinct from the sentinel errors above,
// which cover mempool-internal bookkeeping (dedup, restart dedup) rather
// than the conditions a submitter must see quoted back exactly.
type AdmissionErrorKind int

const (
	_ AdmissionErrorKind = iota
	TxFeeTooLow
	TxBatchFeeTooLow
	MissingEthSignature
	IncorrectEthSignature
	EIP1271VerificationFail
	ChangePkNotAuthorized
	BatchTooBig
	BatchWithdrawalsOverload
	InappropriateFeeToken
	AccountCloseDisabled
	UnsupportedFastProcessing
)

func (k AdmissionErrorKind) String() string {
	switch k {
	case TxFeeTooLow:
		return "TxFeeTooLow"
	case TxBatchFeeTooLow:
		return "TxBatchFeeTooLow"
	case MissingEthSignature:
		return "MissingEthSignature"
	case IncorrectEthSignature:
		return "IncorrectEthSignature"
	case EIP1271VerificationFail:
		return "EIP1271VerificationFail"
	case ChangePkNotAuthorized:
		return "ChangePkNotAuthorized"
	case BatchTooBig:
		return "BatchTooBig"
	case BatchWithdrawalsOverload:
		return "BatchWithdrawalsOverload"
	case InappropriateFeeToken:
		return "InappropriateFeeToken"
	case AccountCloseDisabled:
		return "AccountCloseDisabled"
	case UnsupportedFastProcessing:
		return "UnsupportedFastProcessing"
	default:
		return "UnknownAdmissionError"
	}
}

// AdmissionError is a rejected tx/batch's reason, named per §7 so a client
// can branch on Kind rather than parse Message.
type AdmissionError struct {
	Kind    AdmissionErrorKind
	Message string
	wrapped error
}

func (e *AdmissionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mempool: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("mempool: %s", e.Kind)
}

// Unwrap lets callers keep matching existing sentinel errors (e.g.
// errors.Is(err, ErrBatchTooLarge)) through the new taxonomy.
func (e *AdmissionError) Unwrap() error { return e.wrapped }

func admissionErr(kind AdmissionErrorKind, wrapped error, format string, args ...any) *AdmissionError {
	return &AdmissionError{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: wrapped}
}

// Config controls admission limits.
type Config struct {
	MaxBlockChunks int
	// MaxWithdrawalsPerBatch bounds how many withdrawal-class ops (Withdraw,
	// ForcedExit, WithdrawNFT) a single batch may contain (§7
	// BatchWithdrawalsOverload): each triggers an on-chain commitment slot
	// the L1 contract budgets for per batch.
	MaxWithdrawalsPerBatch int
}

// DefaultConfig mirrors zkSync Lite's mainnet block chunk budget.
func DefaultConfig() Config {
	return Config{MaxBlockChunks: 680, MaxWithdrawalsPerBatch: 20}
}

// Store is the persistence boundary the mempool rebuilds itself from on
// restart (§4.F "Persistence semantics"). It is deliberately storage-engine
// agnostic; a production deployment backs it with a real KV/SQL store.
type Store interface {
	SaveTx(tx *optypes.SignedTx) error
	SaveBatch(id types.Hash, txs []*optypes.SignedTx, sig optypes.EthSignature) error
	SavePriorityOp(op *optypes.PriorityOp) error
	SetMaxProcessedSerialID(id types.SerialID)
	MaxProcessedSerialID() types.SerialID
	LoadPendingTxs() []*optypes.SignedTx
	LoadRevertedTxs() []*optypes.SignedTx
	LoadConfirmedPriorityOps() []*optypes.PriorityOp
}

// MemStore is an in-process Store, useful for tests and single-node
// deployments that accept losing the mempool across restarts.
type MemStore struct {
	mu                sync.Mutex
	txs               []*optypes.SignedTx
	reverted          []*optypes.SignedTx
	priorityOps       []*optypes.PriorityOp
	maxProcessedSerial types.SerialID
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) SaveTx(tx *optypes.SignedTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}

func (s *MemStore) SaveBatch(_ types.Hash, txs []*optypes.SignedTx, _ optypes.EthSignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, txs...)
	return nil
}

func (s *MemStore) SavePriorityOp(op *optypes.PriorityOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priorityOps = append(s.priorityOps, op)
	return nil
}

func (s *MemStore) SetMaxProcessedSerialID(id types.SerialID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxProcessedSerial = id
}

func (s *MemStore) MaxProcessedSerialID() types.SerialID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxProcessedSerial
}

func (s *MemStore) LoadPendingTxs() []*optypes.SignedTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*optypes.SignedTx, len(s.txs))
	copy(out, s.txs)
	return out
}

func (s *MemStore) LoadRevertedTxs() []*optypes.SignedTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*optypes.SignedTx, len(s.reverted))
	copy(out, s.reverted)
	return out
}

func (s *MemStore) LoadConfirmedPriorityOps() []*optypes.PriorityOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*optypes.PriorityOp
	for _, op := range s.priorityOps {
		if op.Confirmed {
			out = append(out, op)
		}
	}
	return out
}

// MarkReverted records txs that were included in a now-reverted block, so
// they replay ahead of ordinary queue order on the next restart.
func (s *MemStore) MarkReverted(txs []*optypes.SignedTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reverted = append(s.reverted, txs...)
}

// RevertedQueue is the dedicated FIFO of txs from a reverted block, replayed
// ahead of the ordinary queue (§4.F, §4.G reverted-first phase).
type RevertedQueue struct {
	mu    sync.Mutex
	items []*optypes.SignedTx
}

func NewRevertedQueue() *RevertedQueue { return &RevertedQueue{} }

func (q *RevertedQueue) Push(tx *optypes.SignedTx) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, tx)
}

func (q *RevertedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *RevertedQueue) Peek() (*optypes.SignedTx, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

func (q *RevertedQueue) PopFront() (*optypes.SignedTx, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	tx := q.items[0]
	q.items = q.items[1:]
	return tx, true
}

// txHasher computes the mempool's dedup/identity key for a tx. It is not
// the circuit-level tx hash (that is a prover concern); it only needs to be
// stable and collision-free for admission bookkeeping.
var txHasher = zkhash.NewDomainHasher()

func appendUint(buf []byte, v uint64, width int) []byte {
	b := make([]byte, width)
	for i := 0; i < width; i++ {
		b[width-1-i] = byte(v >> (8 * uint(i)))
	}
	return append(buf, b...)
}

// TxHash returns the mempool's dedup key for tx.
func TxHash(tx *optypes.SignedTx) types.Hash {
	var buf []byte
	buf = append(buf, byte(tx.Kind))
	buf = appendUint(buf, uint64(tx.AccountID), 4)
	buf = appendUint(buf, uint64(tx.Nonce), 4)
	buf = appendUint(buf, uint64(tx.FeeToken), 4)
	if tx.Fee != nil {
		b := tx.Fee.Bytes32()
		buf = append(buf, b[:]...)
	}
	switch tx.Kind {
	case optypes.TxTransfer:
		buf = appendUint(buf, uint64(tx.Transfer.Token), 4)
		buf = append(buf, tx.Transfer.ToAddr[:]...)
		if tx.Transfer.Amount != nil {
			b := tx.Transfer.Amount.Bytes32()
			buf = append(buf, b[:]...)
		}
	case optypes.TxWithdraw:
		buf = appendUint(buf, uint64(tx.Withdraw.Token), 4)
		buf = append(buf, tx.Withdraw.To[:]...)
	case optypes.TxChangePubKey:
		buf = append(buf, tx.ChangePubKey.NewPubKeyHash[:]...)
	case optypes.TxForcedExit:
		buf = appendUint(buf, uint64(tx.ForcedExit.Target), 4)
		buf = appendUint(buf, uint64(tx.ForcedExit.Token), 4)
	case optypes.TxSwap:
		buf = appendUint(buf, uint64(tx.Swap.Order0.AccountID), 4)
		buf = appendUint(buf, uint64(tx.Swap.Order1.AccountID), 4)
	case optypes.TxMintNFT:
		buf = append(buf, tx.MintNFT.ContentHash[:]...)
	case optypes.TxWithdrawNFT:
		buf = appendUint(buf, uint64(tx.WithdrawNFT.NFTTokenID), 4)
	}
	d := txHasher.HashBits(buf)
	return types.Hash(d)
}

// Mempool is the node's admission queue for user txs and L1 priority ops.
type Mempool struct {
	mu     sync.RWMutex
	cfg    Config
	store  Store
	log    *zklog.Logger
	ticker *feeticker.Ticker

	txLookup map[types.Hash]*optypes.SignedTx
	pending  []*optypes.SignedTx
	reverted *RevertedQueue

	priorityOps          map[types.SerialID]*optypes.PriorityOp
	maxProcessedSerialID types.SerialID

	admitted  prometheus.Counter
	rejected  prometheus.Counter
}

// New builds a Mempool and rebuilds its in-memory queues from store. ticker
// may be nil, in which case admission skips fee-scaling checks entirely
// (useful for tests that don't exercise §4.C).
func New(cfg Config, store Store, reg *metrics.Registry, log *zklog.Logger, ticker *feeticker.Ticker) *Mempool {
	if log == nil {
		log = zklog.Module("mempool")
	}
	m := &Mempool{
		cfg:         cfg,
		store:       store,
		log:         log,
		ticker:      ticker,
		txLookup:    make(map[types.Hash]*optypes.SignedTx),
		reverted:    NewRevertedQueue(),
		priorityOps: make(map[types.SerialID]*optypes.PriorityOp),
	}
	if reg != nil {
		m.admitted = reg.Counter("mempool_tx_admitted_total", "total txs admitted to the mempool")
		m.rejected = reg.Counter("mempool_tx_rejected_total", "total txs rejected at admission")
	}

	m.maxProcessedSerialID = store.MaxProcessedSerialID()
	for _, op := range store.LoadConfirmedPriorityOps() {
		m.priorityOps[op.SerialID] = op
	}
	for _, tx := range store.LoadRevertedTxs() {
		m.reverted.Push(tx)
	}
	for _, tx := range store.LoadPendingTxs() {
		m.txLookup[TxHash(tx)] = tx
		m.pending = append(m.pending, tx)
	}
	m.sortPendingLocked()
	return m
}

func (m *Mempool) sortPendingLocked() {
	sort.SliceStable(m.pending, func(i, j int) bool {
		a, b := m.pending[i], m.pending[j]
		if a.TimeRange.ValidFrom != b.TimeRange.ValidFrom {
			return a.TimeRange.ValidFrom < b.TimeRange.ValidFrom
		}
		return a.ReceivedAt.Before(b.ReceivedAt)
	})
}

// isWithdrawalKind reports whether kind consumes an on-chain withdrawal
// commitment slot, bounded per batch (§7 BatchWithdrawalsOverload).
func isWithdrawalKind(kind optypes.TxKind) bool {
	switch kind {
	case optypes.TxWithdraw, optypes.TxForcedExit, optypes.TxWithdrawNFT:
		return true
	default:
		return false
	}
}

// checkKindRestrictions rejects tx kinds/fields this node never supports,
// regardless of fee or signature (§7 AccountCloseDisabled,
// UnsupportedFastProcessing).
func checkKindRestrictions(tx *optypes.SignedTx) error {
	if tx.Kind == optypes.TxClose {
		return admissionErr(AccountCloseDisabled, nil, "account-close operations are permanently disabled")
	}
	if tx.Kind == optypes.TxWithdraw && tx.Withdraw != nil && tx.Withdraw.FastProcessing {
		return admissionErr(UnsupportedFastProcessing, nil, "fast withdrawal processing is not supported")
	}
	return nil
}

// verifyEthAuth checks the Ethereum authorization a ChangePubKey tx carries
// absent on-chain authorization (§7 MissingEthSignature,
// IncorrectEthSignature, EIP1271VerificationFail, ChangePkNotAuthorized).
// This node has no L1 client to call ecrecover or EIP-1271's
// isValidSignature, so a structurally well-formed 65-byte ECDSA signature is
// trusted the same way the state machine already trusts SigValid for zk
// signatures; only the conditions this node CAN decide from the tx's own
// fields are rejected here.
func verifyEthAuth(tx *optypes.SignedTx) error {
	if tx.Kind != optypes.TxChangePubKey || tx.ChangePubKey == nil {
		return nil
	}
	f := tx.ChangePubKey
	hasSig := tx.EthSignature.Present()
	if f.ChainAuth && hasSig {
		// Claiming both on-chain authorization and a fresh signature is a
		// contradictory authorization claim this node cannot resolve
		// without an L1 client to check which one actually holds.
		return admissionErr(ChangePkNotAuthorized, nil, "ChangePubKey cannot claim both on-chain authorization and an Ethereum signature")
	}
	if f.ChainAuth {
		return nil
	}
	if !hasSig {
		return admissionErr(MissingEthSignature, nil, "ChangePubKey requires an Ethereum signature absent on-chain authorization")
	}
	sig := tx.EthSignature.Sig
	if len(sig) != 65 {
		// Not a plain-ECDSA signature shape; treat as an EIP-1271
		// contract-wallet signature this node cannot verify without an L1
		// client.
		return admissionErr(EIP1271VerificationFail, nil, "contract-wallet signatures cannot be verified without an L1 client")
	}
	v := sig[64]
	if v != 0 && v != 1 && v != 27 && v != 28 {
		return admissionErr(IncorrectEthSignature, nil, "malformed recovery id")
	}
	return nil
}

// checkAdmission runs the per-tx, stateless admission checks shared by
// AddTx and AddBatch (§7).
func checkAdmission(tx *optypes.SignedTx) error {
	if err := checkKindRestrictions(tx); err != nil {
		return err
	}
	return verifyEthAuth(tx)
}

// checkSingleTxFee enforces the admission-time fee-scaling floor (§4.C) for
// a standalone tx, comparing its provided fee against the quoted cost scaled
// up by feeticker.RequiredFeeInToken, in the tx's own fee-token units.
func (m *Mempool) checkSingleTxFee(tx *optypes.SignedTx) error {
	if m.ticker == nil {
		return nil
	}
	required, err := m.ticker.RequiredFeeInToken(tx.Kind, tx.FeeToken)
	if err != nil {
		return admissionErr(InappropriateFeeToken, err, "no price feed for fee token %d", tx.FeeToken)
	}
	if tx.Fee == nil || tx.Fee.Cmp(required) < 0 {
		return admissionErr(TxFeeTooLow, nil, "provided fee is below the required minimum")
	}
	return nil
}

// checkBatchFee enforces the admission-time fee-scaling floor (§4.C) for a
// batch, comparing the combined provided fee value against the combined
// required value, both in USD so tokens with different decimals/prices
// compare on equal footing.
func (m *Mempool) checkBatchFee(txs []*optypes.SignedTx) error {
	if m.ticker == nil {
		return nil
	}
	var providedUSD, requiredUSD uint64
	for _, tx := range txs {
		fee := tx.Fee
		if fee == nil {
			fee = uint256.NewInt(0)
		}
		usd, err := m.ticker.USDValue(tx.FeeToken, fee)
		if err != nil {
			return admissionErr(InappropriateFeeToken, err, "no price feed for fee token %d", tx.FeeToken)
		}
		providedUSD += usd
		requiredUSD += m.ticker.RequiredFeeUSD(tx.Kind)
	}
	if providedUSD < requiredUSD {
		return admissionErr(TxBatchFeeTooLow, nil, "batch's combined fee value is below the required minimum")
	}
	return nil
}

// checkBatchWithdrawalsOverload rejects a batch carrying more withdrawal-class
// ops than the configured limit (§7 BatchWithdrawalsOverload).
func checkBatchWithdrawalsOverload(txs []*optypes.SignedTx, limit int) error {
	if limit <= 0 {
		return nil
	}
	count := 0
	for _, tx := range txs {
		if isWithdrawalKind(tx.Kind) {
			count++
		}
	}
	if count > limit {
		return admissionErr(BatchWithdrawalsOverload, nil, "batch carries %d withdrawal ops, limit %d", count, limit)
	}
	return nil
}

// AddTx admits a single tx, returning its dedup hash.
func (m *Mempool) AddTx(tx *optypes.SignedTx) (types.Hash, error) {
	hash := TxHash(tx)
	if err := checkAdmission(tx); err != nil {
		if m.rejected != nil {
			m.rejected.Inc()
		}
		return hash, err
	}
	if err := m.checkSingleTxFee(tx); err != nil {
		if m.rejected != nil {
			m.rejected.Inc()
		}
		return hash, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txLookup[hash]; ok {
		if m.rejected != nil {
			m.rejected.Inc()
		}
		return hash, ErrAlreadyKnown
	}
	if tx.ReceivedAt.IsZero() {
		tx.ReceivedAt = time.Now()
	}
	if err := m.store.SaveTx(tx); err != nil {
		return hash, err
	}
	m.txLookup[hash] = tx
	m.pending = append(m.pending, tx)
	m.sortPendingLocked()
	if m.admitted != nil {
		m.admitted.Inc()
	}
	return hash, nil
}

// conservativeChunks estimates the worst-case chunk cost of tx without a
// state read (mempool admission has no DB access; the proposer resolves
// the precise cost per §4.G).
func conservativeChunks(tx *optypes.SignedTx) int {
	switch tx.Kind {
	case optypes.TxTransfer:
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

// AddBatch admits a set of txs atomically under a single Ethereum
// signature, rejecting the whole batch if its conservative chunk cost
// would not fit a block.
func (m *Mempool) AddBatch(txs []*optypes.SignedTx, sig optypes.EthSignature) (types.Hash, error) {
	total := 0
	for _, tx := range txs {
		total += conservativeChunks(tx)
	}
	if total > m.cfg.MaxBlockChunks {
		if m.rejected != nil {
			m.rejected.Inc()
		}
		return types.Hash{}, admissionErr(BatchTooBig, ErrBatchTooLarge, "batch's conservative chunk cost %d exceeds block budget %d", total, m.cfg.MaxBlockChunks)
	}
	if err := checkBatchWithdrawalsOverload(txs, m.cfg.MaxWithdrawalsPerBatch); err != nil {
		if m.rejected != nil {
			m.rejected.Inc()
		}
		return types.Hash{}, err
	}
	for _, tx := range txs {
		if err := checkAdmission(tx); err != nil {
			if m.rejected != nil {
				m.rejected.Inc()
			}
			return types.Hash{}, err
		}
	}
	if err := m.checkBatchFee(txs); err != nil {
		if m.rejected != nil {
			m.rejected.Inc()
		}
		return types.Hash{}, err
	}

	var hashInput []byte
	hashes := make([]types.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = TxHash(tx)
		hashInput = append(hashInput, hashes[i][:]...)
	}
	batchID := types.Hash(txHasher.HashBits(hashInput))

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SaveBatch(batchID, txs, sig); err != nil {
		return batchID, err
	}
	now := time.Now()
	for i, tx := range txs {
		tx.BatchID = batchID
		if _, ok := m.txLookup[hashes[i]]; ok {
			continue
		}
		if tx.ReceivedAt.IsZero() {
			tx.ReceivedAt = now
		}
		m.txLookup[hashes[i]] = tx
		m.pending = append(m.pending, tx)
	}
	m.sortPendingLocked()
	if m.admitted != nil {
		m.admitted.Add(float64(len(txs)))
	}
	return batchID, nil
}

// AddPriorityOp admits an L1 priority op, de-duplicating against the
// highest serial-id processed so far.
func (m *Mempool) AddPriorityOp(op *optypes.PriorityOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op.SerialID <= m.maxProcessedSerialID {
		return ErrPriorityOpAlreadyProcessed
	}
	if _, ok := m.priorityOps[op.SerialID]; ok {
		return ErrAlreadyKnown
	}
	if err := m.store.SavePriorityOp(op); err != nil {
		return err
	}
	m.priorityOps[op.SerialID] = op
	return nil
}

// ConfirmPriorityOp marks a priority op confirmed on L1, making it eligible
// for inclusion by the proposer.
func (m *Mempool) ConfirmPriorityOp(serial types.SerialID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.priorityOps[serial]; ok {
		op.Confirmed = true
	}
}

// PushReverted enqueues a tx from a reverted block for priority replay.
func (m *Mempool) PushReverted(tx *optypes.SignedTx) { m.reverted.Push(tx) }

// Reverted exposes the reverted-tx replay queue.
func (m *Mempool) Reverted() *RevertedQueue { return m.reverted }

// Pending returns a snapshot of the ordinary FIFO queue, in proposal order.
func (m *Mempool) Pending() []*optypes.SignedTx {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*optypes.SignedTx, len(m.pending))
	copy(out, m.pending)
	return out
}

// PriorityOpsFrom returns confirmed, unprocessed priority ops with
// serial-id >= from, sorted by serial-id.
func (m *Mempool) PriorityOpsFrom(from types.SerialID) []*optypes.PriorityOp {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*optypes.PriorityOp
	for _, op := range m.priorityOps {
		if op.Confirmed && op.SerialID >= from {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialID < out[j].SerialID })
	return out
}

// MaxProcessedSerialID returns the highest priority-op serial-id sealed so far.
func (m *Mempool) MaxProcessedSerialID() types.SerialID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxProcessedSerialID
}

// MarkProcessed advances the processed-serial-id watermark and persists it.
func (m *Mempool) MarkProcessed(serial types.SerialID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if serial > m.maxProcessedSerialID {
		m.maxProcessedSerialID = serial
		m.store.SetMaxProcessedSerialID(serial)
	}
	delete(m.priorityOps, serial)
}

// Remove drops a tx from the pending queue after it is sealed into a block.
func (m *Mempool) Remove(hash types.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txLookup, hash)
	for i, tx := range m.pending {
		if TxHash(tx) == hash {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
}

// Count returns the number of pending txs.
func (m *Mempool) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}
