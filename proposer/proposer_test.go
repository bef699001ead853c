package proposer

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub003/internal/zkhash"
	"github.com/matter-labs/zksync-sub003/mempool"
	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/statemachine"
	"github.com/matter-labs/zksync-sub003/token"
	"github.com/matter-labs/zksync-sub003/types"
)

func withdrawTx(account types.AccountID, validFrom uint64) *optypes.SignedTx {
	return &optypes.SignedTx{
		Kind: optypes.TxWithdraw, AccountID: account, FeeToken: 1, Fee: uint256.NewInt(0),
		TimeRange: optypes.TimeRange{ValidFrom: validFrom},
		Withdraw:  &optypes.WithdrawFields{Token: 1, Amount: uint256.NewInt(1), To: types.Address{0x01}},
	}
}

func newHarness(t *testing.T) (*statemachine.State, *mempool.Mempool) {
	t.Helper()
	tokens := token.NewRegistry()
	require.NoError(t, tokens.RegisterFungible(1, "DAI", 18, types.Address{0x01}))
	state := statemachine.NewState(zkhash.NewDomainHasher(), tokens)
	mp := mempool.New(mempool.DefaultConfig(), mempool.NewMemStore(), nil, nil, nil)
	return state, mp
}

func TestProposeTxPhaseRespectsTimeRangeAndOrder(t *testing.T) {
	state, mp := newHarness(t)
	ready := withdrawTx(1, 0)
	future := withdrawTx(2, 1000)
	_, err := mp.AddTx(ready)
	require.NoError(t, err)
	_, err = mp.AddTx(future)
	require.NoError(t, err)

	block := Propose(DefaultConfig(), mp, state, 0, 500, nil)
	require.Len(t, block.Txs, 1)
	require.Equal(t, ready, block.Txs[0])
}

func TestProposePriorityOpsBeforeTxs(t *testing.T) {
	state, mp := newHarness(t)
	require.NoError(t, mp.AddPriorityOp(&optypes.PriorityOp{
		Kind: optypes.PriorityDeposit, SerialID: 1,
		Deposit: &optypes.DepositIntent{To: types.Address{0x02}, Token: 1, Amount: uint256.NewInt(5)},
	}))
	mp.ConfirmPriorityOp(1)
	_, err := mp.AddTx(withdrawTx(1, 0))
	require.NoError(t, err)

	block := Propose(DefaultConfig(), mp, state, 1, 100, nil)
	require.Len(t, block.PriorityOps, 1)
	require.Len(t, block.Txs, 1)
}

func TestProposeStopsAtChunkBudget(t *testing.T) {
	state, mp := newHarness(t)
	for i := 0; i < 5; i++ {
		_, err := mp.AddTx(withdrawTx(types.AccountID(i), 0))
		require.NoError(t, err)
	}
	cfg := Config{MaxBlockChunks: optypes.WithdrawOp{}.Chunks()*2 + 1}
	block := Propose(cfg, mp, state, 0, 100, nil)
	require.Len(t, block.Txs, 2)
}

func TestProposeRevertedQueueTakesPriorityAndIsExclusive(t *testing.T) {
	state, mp := newHarness(t)
	mp.PushReverted(withdrawTx(9, 0))
	require.NoError(t, mp.AddPriorityOp(&optypes.PriorityOp{Kind: optypes.PriorityDeposit, SerialID: 1, Deposit: &optypes.DepositIntent{To: types.Address{0x02}, Token: 1, Amount: uint256.NewInt(1)}}))
	mp.ConfirmPriorityOp(1)
	_, err := mp.AddTx(withdrawTx(1, 0))
	require.NoError(t, err)

	block := Propose(DefaultConfig(), mp, state, 1, 100, nil)
	require.True(t, block.RevertedReplay)
	require.Len(t, block.Txs, 1)
	require.Empty(t, block.PriorityOps)
}

func TestProposeRevertedTxWaitsForMissingPriorityOp(t *testing.T) {
	state, mp := newHarness(t)
	revertedTx := withdrawTx(9, 0)
	revertedTx.NextPriorityOpID = 2
	mp.PushReverted(revertedTx)

	// The priority op the reverted tx needs (serial-id 1) hasn't arrived
	// yet: the tx must stay queued rather than replay out of order.
	block := Propose(DefaultConfig(), mp, state, 1, 100, nil)
	require.False(t, block.RevertedReplay)
	require.Empty(t, block.Txs)
	require.Empty(t, block.PriorityOps)
	require.Equal(t, 1, mp.Reverted().Len())

	// Once it's confirmed, the gap is filled and the tx replays.
	require.NoError(t, mp.AddPriorityOp(&optypes.PriorityOp{
		Kind: optypes.PriorityDeposit, SerialID: 1,
		Deposit: &optypes.DepositIntent{To: types.Address{0x03}, Token: 1, Amount: uint256.NewInt(1)},
	}))
	mp.ConfirmPriorityOp(1)

	block = Propose(DefaultConfig(), mp, state, 1, 100, nil)
	require.True(t, block.RevertedReplay)
	require.Len(t, block.PriorityOps, 1)
	require.Equal(t, types.SerialID(1), block.PriorityOps[0].SerialID)
	require.Len(t, block.Txs, 1)
	require.Equal(t, 0, mp.Reverted().Len())
}

func TestProposeTransferChunkCostDependsOnAccountExistence(t *testing.T) {
	state, mp := newHarness(t)
	_, _, err := state.Apply(statemachine.Instruction{Priority: &optypes.PriorityOp{
		Kind: optypes.PriorityDeposit, Deposit: &optypes.DepositIntent{To: types.Address{0x01}, Token: 1, Amount: uint256.NewInt(1000)},
	}})
	require.NoError(t, err)
	existingID, _ := state.AccountIDByAddress(types.Address{0x01})

	tx := &optypes.SignedTx{
		Kind: optypes.TxTransfer, AccountID: existingID, FeeToken: 1, Fee: uint256.NewInt(0),
		Transfer: &optypes.TransferFields{ToAddr: types.Address{0x01}, Token: 1, Amount: uint256.NewInt(1)},
	}
	_, err = mp.AddTx(tx)
	require.NoError(t, err)

	block := Propose(DefaultConfig(), mp, state, 0, 100, nil)
	require.Equal(t, optypes.TransferOp{}.Chunks(), block.UsedChunks)
}
