package mempool

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub003/feeticker"
	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/types"
)

func newTestMempool(t *testing.T) *Mempool {
	t.Helper()
	return New(DefaultConfig(), NewMemStore(), nil, nil, nil)
}

func withdrawTx(account types.AccountID, nonce uint32) *optypes.SignedTx {
	return &optypes.SignedTx{
		Kind: optypes.TxWithdraw, AccountID: account, Nonce: nonce, FeeToken: 1, Fee: uint256.NewInt(1),
		Withdraw: &optypes.WithdrawFields{Token: 1, Amount: uint256.NewInt(10), To: types.Address{0x01}},
	}
}

func TestAddTxRejectsDuplicate(t *testing.T) {
	m := newTestMempool(t)
	tx := withdrawTx(1, 0)
	_, err := m.AddTx(tx)
	require.NoError(t, err)
	_, err = m.AddTx(tx)
	require.ErrorIs(t, err, ErrAlreadyKnown)
	require.Equal(t, 1, m.Count())
}

func TestAddBatchRejectsOversizedBatch(t *testing.T) {
	cfg := Config{MaxBlockChunks: 2}
	m := New(cfg, NewMemStore(), nil, nil, nil)
	txs := []*optypes.SignedTx{withdrawTx(1, 0), withdrawTx(2, 0)}
	_, err := m.AddBatch(txs, optypes.EthSignature{})
	require.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestAddBatchAdmitsAllOrNothing(t *testing.T) {
	m := newTestMempool(t)
	txs := []*optypes.SignedTx{withdrawTx(1, 0), withdrawTx(2, 0)}
	_, err := m.AddBatch(txs, optypes.EthSignature{Sig: []byte{0x01}})
	require.NoError(t, err)
	require.Equal(t, 2, m.Count())
}

func TestPriorityOpDedupAgainstProcessedWatermark(t *testing.T) {
	m := newTestMempool(t)
	m.MarkProcessed(5)

	err := m.AddPriorityOp(&optypes.PriorityOp{Kind: optypes.PriorityDeposit, SerialID: 5})
	require.ErrorIs(t, err, ErrPriorityOpAlreadyProcessed)

	err = m.AddPriorityOp(&optypes.PriorityOp{Kind: optypes.PriorityDeposit, SerialID: 6})
	require.NoError(t, err)

	m.ConfirmPriorityOp(6)
	ops := m.PriorityOpsFrom(0)
	require.Len(t, ops, 1)
	require.Equal(t, types.SerialID(6), ops[0].SerialID)
}

func TestPendingOrderedByValidFromThenArrival(t *testing.T) {
	m := newTestMempool(t)
	late := withdrawTx(1, 0)
	late.TimeRange.ValidFrom = 100
	early := withdrawTx(2, 0)
	early.TimeRange.ValidFrom = 10

	_, err := m.AddTx(late)
	require.NoError(t, err)
	_, err = m.AddTx(early)
	require.NoError(t, err)

	pending := m.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, early, pending[0])
	require.Equal(t, late, pending[1])
}

func TestRevertedQueueFIFO(t *testing.T) {
	q := NewRevertedQueue()
	require.Equal(t, 0, q.Len())
	a, b := withdrawTx(1, 0), withdrawTx(2, 0)
	q.Push(a)
	q.Push(b)
	require.Equal(t, 2, q.Len())

	got, ok := q.PopFront()
	require.True(t, ok)
	require.Equal(t, a, got)
	got, ok = q.PopFront()
	require.True(t, ok)
	require.Equal(t, b, got)
	_, ok = q.PopFront()
	require.False(t, ok)
}

func newTestTicker() *feeticker.Ticker {
	ticker := feeticker.New(feeticker.DefaultConfig())
	ticker.ReportPrice(1, 1_000_000, 0)
	return ticker
}

func TestAddTxRejectsFeeTooLow(t *testing.T) {
	m := New(DefaultConfig(), NewMemStore(), nil, nil, newTestTicker())
	tx := withdrawTx(1, 0)
	tx.Fee = uint256.NewInt(1) // required is 2 given the reported price
	_, err := m.AddTx(tx)
	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	require.Equal(t, TxFeeTooLow, admErr.Kind)
	require.Equal(t, 0, m.Count(), "rejected tx must not be persisted")
}

func TestAddTxAdmitsFeeAboveRequired(t *testing.T) {
	m := New(DefaultConfig(), NewMemStore(), nil, nil, newTestTicker())
	tx := withdrawTx(1, 0)
	tx.Fee = uint256.NewInt(2)
	_, err := m.AddTx(tx)
	require.NoError(t, err)
}

func TestAddTxRejectsInappropriateFeeToken(t *testing.T) {
	m := New(DefaultConfig(), NewMemStore(), nil, nil, newTestTicker())
	tx := withdrawTx(1, 0)
	tx.FeeToken = 99 // no price reported for this token
	_, err := m.AddTx(tx)
	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	require.Equal(t, InappropriateFeeToken, admErr.Kind)
}

func TestAddBatchRejectsBatchFeeTooLow(t *testing.T) {
	m := New(DefaultConfig(), NewMemStore(), nil, nil, newTestTicker())
	tx1, tx2 := withdrawTx(1, 0), withdrawTx(2, 0)
	tx1.Fee, tx2.Fee = uint256.NewInt(0), uint256.NewInt(0)
	_, err := m.AddBatch([]*optypes.SignedTx{tx1, tx2}, optypes.EthSignature{Sig: []byte{0x01}})
	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	require.Equal(t, TxBatchFeeTooLow, admErr.Kind)
}

func TestAddBatchRejectsWithdrawalsOverload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWithdrawalsPerBatch = 1
	m := New(cfg, NewMemStore(), nil, nil, nil)
	txs := []*optypes.SignedTx{withdrawTx(1, 0), withdrawTx(2, 0)}
	_, err := m.AddBatch(txs, optypes.EthSignature{Sig: []byte{0x01}})
	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	require.Equal(t, BatchWithdrawalsOverload, admErr.Kind)
}

func TestAddBatchRejectsOversizedBatchAsBatchTooBig(t *testing.T) {
	cfg := Config{MaxBlockChunks: 2}
	m := New(cfg, NewMemStore(), nil, nil, nil)
	txs := []*optypes.SignedTx{withdrawTx(1, 0), withdrawTx(2, 0)}
	_, err := m.AddBatch(txs, optypes.EthSignature{})
	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	require.Equal(t, BatchTooBig, admErr.Kind)
	require.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestAddBatchStampsBatchID(t *testing.T) {
	m := newTestMempool(t)
	tx1, tx2 := withdrawTx(1, 0), withdrawTx(2, 0)
	batchID, err := m.AddBatch([]*optypes.SignedTx{tx1, tx2}, optypes.EthSignature{Sig: []byte{0x01}})
	require.NoError(t, err)
	require.Equal(t, batchID, tx1.BatchID)
	require.Equal(t, batchID, tx2.BatchID)
}

func changePubKeyTx() *optypes.SignedTx {
	return &optypes.SignedTx{
		Kind: optypes.TxChangePubKey, AccountID: 1, FeeToken: 1, Fee: uint256.NewInt(1),
		ChangePubKey: &optypes.ChangePubKeyFields{NewPubKeyHash: types.PubKeyHash{0x01}},
	}
}

func TestChangePubKeyRejectsMissingEthSignature(t *testing.T) {
	m := newTestMempool(t)
	_, err := m.AddTx(changePubKeyTx())
	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	require.Equal(t, MissingEthSignature, admErr.Kind)
}

func TestChangePubKeyRejectsIncorrectRecoveryByte(t *testing.T) {
	m := newTestMempool(t)
	tx := changePubKeyTx()
	sig := make([]byte, 65)
	sig[64] = 99 // not a valid recovery id
	tx.EthSignature = optypes.EthSignature{Sig: sig}
	_, err := m.AddTx(tx)
	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	require.Equal(t, IncorrectEthSignature, admErr.Kind)
}

func TestChangePubKeyRejectsNonECDSAShapedSignature(t *testing.T) {
	m := newTestMempool(t)
	tx := changePubKeyTx()
	tx.EthSignature = optypes.EthSignature{Sig: []byte{0x01, 0x02, 0x03}}
	_, err := m.AddTx(tx)
	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	require.Equal(t, EIP1271VerificationFail, admErr.Kind)
}

func TestChangePubKeyRejectsConflictingAuthorizationClaim(t *testing.T) {
	m := newTestMempool(t)
	tx := changePubKeyTx()
	tx.ChangePubKey.ChainAuth = true
	sig := make([]byte, 65)
	sig[64] = 27
	tx.EthSignature = optypes.EthSignature{Sig: sig}
	_, err := m.AddTx(tx)
	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	require.Equal(t, ChangePkNotAuthorized, admErr.Kind)
}

func TestChangePubKeyAdmitsValidEthSignature(t *testing.T) {
	m := newTestMempool(t)
	tx := changePubKeyTx()
	sig := make([]byte, 65)
	sig[64] = 27
	tx.EthSignature = optypes.EthSignature{Sig: sig}
	_, err := m.AddTx(tx)
	require.NoError(t, err)
}

func TestChangePubKeyAdmitsChainAuthWithoutSignature(t *testing.T) {
	m := newTestMempool(t)
	tx := changePubKeyTx()
	tx.ChangePubKey.ChainAuth = true
	_, err := m.AddTx(tx)
	require.NoError(t, err)
}

func TestAddTxRejectsAccountClose(t *testing.T) {
	m := newTestMempool(t)
	tx := &optypes.SignedTx{Kind: optypes.TxClose, AccountID: 1, FeeToken: 1, Fee: uint256.NewInt(1)}
	_, err := m.AddTx(tx)
	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	require.Equal(t, AccountCloseDisabled, admErr.Kind)
}

func TestAddTxRejectsFastProcessingWithdrawal(t *testing.T) {
	m := newTestMempool(t)
	tx := withdrawTx(1, 0)
	tx.Withdraw.FastProcessing = true
	_, err := m.AddTx(tx)
	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	require.Equal(t, UnsupportedFastProcessing, admErr.Kind)
}

func TestMempoolRebuildsFromStore(t *testing.T) {
	store := NewMemStore()
	tx := withdrawTx(1, 0)
	require.NoError(t, store.SaveTx(tx))
	store.MarkReverted([]*optypes.SignedTx{withdrawTx(2, 0)})
	store.SetMaxProcessedSerialID(3)

	m := New(DefaultConfig(), store, nil, nil, nil)
	require.Equal(t, 1, m.Count())
	require.Equal(t, types.SerialID(3), m.MaxProcessedSerialID())
	require.Equal(t, 1, m.Reverted().Len())
}
