package statekeeper

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub003/internal/zkhash"
	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/proposer"
	"github.com/matter-labs/zksync-sub003/statemachine"
	"github.com/matter-labs/zksync-sub003/token"
	"github.com/matter-labs/zksync-sub003/types"
)

func newHarness(t *testing.T) (*statemachine.State, *Keeper, types.AccountID) {
	t.Helper()
	tokens := token.NewRegistry()
	require.NoError(t, tokens.RegisterFungible(1, "DAI", 18, types.Address{0x01}))
	state := statemachine.NewState(zkhash.NewDomainHasher(), tokens)

	_, _, err := state.Apply(statemachine.Instruction{Priority: &optypes.PriorityOp{
		Kind: optypes.PriorityDeposit, Deposit: &optypes.DepositIntent{To: types.Address{0xFE}, Token: 1, Amount: uint256.NewInt(0)},
	}})
	require.NoError(t, err)
	feeAccount, _ := state.AccountIDByAddress(types.Address{0xFE})

	k := NewKeeper(DefaultConfig(), state, nil)
	require.NoError(t, k.BeginBlock(100, feeAccount))
	return state, k, feeAccount
}

func TestApplyBlockAppliesPriorityThenTxsAndCollectsFees(t *testing.T) {
	state, k, feeAccount := newHarness(t)

	depositOp := &optypes.PriorityOp{
		Kind: optypes.PriorityDeposit, SerialID: 1,
		Deposit: &optypes.DepositIntent{To: types.Address{0xAA}, Token: 1, Amount: uint256.NewInt(1000)},
	}
	proposed := &proposer.ProposedBlock{Timestamp: 100, PriorityOps: []*optypes.PriorityOp{depositOp}}
	sealed, err := k.ApplyBlock(proposed)
	require.NoError(t, err)
	require.Nil(t, sealed, "block not sealed until a trigger fires")

	depositAccount, ok := state.AccountIDByAddress(types.Address{0xAA})
	require.True(t, ok)

	withdrawTx := &optypes.SignedTx{
		Kind: optypes.TxWithdraw, AccountID: depositAccount, Nonce: 0, FeeToken: 1, Fee: uint256.NewInt(10),
		Withdraw: &optypes.WithdrawFields{Token: 1, Amount: uint256.NewInt(50), To: types.Address{0xBB}},
	}
	proposed2 := &proposer.ProposedBlock{Timestamp: 100, Txs: []*optypes.SignedTx{withdrawTx}}
	sealed, err = k.ApplyBlock(proposed2)
	require.NoError(t, err)
	require.Nil(t, sealed)

	block := k.SealNow(SealExternalRequest)
	require.Len(t, block.Ops, 2)
	require.False(t, block.Ops[0].Failed)
	require.False(t, block.Ops[1].Failed)

	feeAcc, _ := state.Accounts.Get(uint64(feeAccount))
	require.Equal(t, uint256.NewInt(10), feeAcc.GetBalance(1))
}

func TestApplyBlockRecordsFailedOpWithoutMutatingState(t *testing.T) {
	state, k, _ := newHarness(t)
	_, _, err := state.Apply(statemachine.Instruction{Priority: &optypes.PriorityOp{
		Kind: optypes.PriorityDeposit, Deposit: &optypes.DepositIntent{To: types.Address{0xCC}, Token: 1, Amount: uint256.NewInt(10)},
	}})
	require.NoError(t, err)
	acc, _ := state.AccountIDByAddress(types.Address{0xCC})
	rootBefore := state.RootHash()

	badTx := &optypes.SignedTx{
		Kind: optypes.TxWithdraw, AccountID: acc, Nonce: 0, FeeToken: 1, Fee: uint256.NewInt(0),
		Withdraw: &optypes.WithdrawFields{Token: 1, Amount: uint256.NewInt(999999), To: types.Address{0xBB}},
	}
	proposed := &proposer.ProposedBlock{Timestamp: 100, Txs: []*optypes.SignedTx{badTx}}
	sealed, err := k.ApplyBlock(proposed)
	require.NoError(t, err)
	require.Nil(t, sealed)
	block := k.SealNow(SealExternalRequest)
	require.Len(t, block.Ops, 1)
	require.True(t, block.Ops[0].Failed)
	require.Equal(t, rootBefore, state.RootHash())
}

func TestApplyBlockSealsOnGasLimit(t *testing.T) {
	tokens := token.NewRegistry()
	require.NoError(t, tokens.RegisterFungible(1, "DAI", 18, types.Address{0x01}))
	state := statemachine.NewState(zkhash.NewDomainHasher(), tokens)
	_, _, err := state.Apply(statemachine.Instruction{Priority: &optypes.PriorityOp{
		Kind: optypes.PriorityDeposit, Deposit: &optypes.DepositIntent{To: types.Address{0xAA}, Token: 1, Amount: uint256.NewInt(1_000_000)},
	}})
	require.NoError(t, err)
	acc, _ := state.AccountIDByAddress(types.Address{0xAA})

	cfg := Config{TxGasLimit: txGasCost[optypes.TxWithdraw], MaxBlockChunks: 680}
	k := NewKeeper(cfg, state, nil)
	require.NoError(t, k.BeginBlock(0, acc))

	tx1 := &optypes.SignedTx{Kind: optypes.TxWithdraw, AccountID: acc, Nonce: 0, FeeToken: 1, Fee: uint256.NewInt(0), Withdraw: &optypes.WithdrawFields{Token: 1, Amount: uint256.NewInt(1), To: types.Address{0xBB}}}
	tx2 := &optypes.SignedTx{Kind: optypes.TxWithdraw, AccountID: acc, Nonce: 1, FeeToken: 1, Fee: uint256.NewInt(0), Withdraw: &optypes.WithdrawFields{Token: 1, Amount: uint256.NewInt(1), To: types.Address{0xBB}}}

	proposed := &proposer.ProposedBlock{Timestamp: 0, Txs: []*optypes.SignedTx{tx1, tx2}}
	sealed, err := k.ApplyBlock(proposed)
	require.NoError(t, err)
	require.NotNil(t, sealed, "second tx should trip the gas limit and force a seal")
	require.Equal(t, SealGasLimit, sealed.SealReason)
	require.Len(t, sealed.Ops, 1)
}

func TestApplyBlockFailsWholeBatchOnGasOverflow(t *testing.T) {
	tokens := token.NewRegistry()
	require.NoError(t, tokens.RegisterFungible(1, "DAI", 18, types.Address{0x01}))
	state := statemachine.NewState(zkhash.NewDomainHasher(), tokens)
	_, _, err := state.Apply(statemachine.Instruction{Priority: &optypes.PriorityOp{
		Kind: optypes.PriorityDeposit, Deposit: &optypes.DepositIntent{To: types.Address{0xAA}, Token: 1, Amount: uint256.NewInt(1_000_000)},
	}})
	require.NoError(t, err)
	acc, _ := state.AccountIDByAddress(types.Address{0xAA})
	rootBefore := state.RootHash()

	// Two withdrawals whose combined gas exceeds a limit sized for just one.
	cfg := Config{TxGasLimit: txGasCost[optypes.TxWithdraw] + txGasCost[optypes.TxWithdraw]/2, MaxBlockChunks: 680}
	k := NewKeeper(cfg, state, nil)
	require.NoError(t, k.BeginBlock(0, acc))

	batchID := types.Hash{0x42}
	tx1 := &optypes.SignedTx{Kind: optypes.TxWithdraw, AccountID: acc, Nonce: 0, FeeToken: 1, Fee: uint256.NewInt(0), BatchID: batchID, Withdraw: &optypes.WithdrawFields{Token: 1, Amount: uint256.NewInt(1), To: types.Address{0xBB}}}
	tx2 := &optypes.SignedTx{Kind: optypes.TxWithdraw, AccountID: acc, Nonce: 1, FeeToken: 1, Fee: uint256.NewInt(0), BatchID: batchID, Withdraw: &optypes.WithdrawFields{Token: 1, Amount: uint256.NewInt(1), To: types.Address{0xBB}}}

	proposed := &proposer.ProposedBlock{Timestamp: 0, Txs: []*optypes.SignedTx{tx1, tx2}}
	sealed, err := k.ApplyBlock(proposed)
	require.NoError(t, err)
	require.Nil(t, sealed, "an over-gas batch fails whole rather than sealing the block early")

	block := k.SealNow(SealExternalRequest)
	require.Len(t, block.Ops, 2)
	for _, op := range block.Ops {
		require.True(t, op.Failed)
		require.Equal(t, batchGasOverflowReason, op.FailReason)
	}
	require.Equal(t, rootBefore, state.RootHash(), "no state mutation from a whole-batch failure")
}

func TestBeginBlockRejectsTimestampRegression(t *testing.T) {
	_, k, feeAccount := newHarness(t)
	k.SealNow(SealExternalRequest)
	err := k.BeginBlock(50, feeAccount)
	require.ErrorIs(t, err, ErrTimestampRegression)
}
