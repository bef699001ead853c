package witness

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub003/internal/zkhash"
	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/statemachine"
	"github.com/matter-labs/zksync-sub003/token"
	"github.com/matter-labs/zksync-sub003/types"
)

func newHarness(t *testing.T) (*statemachine.State, types.AccountID) {
	t.Helper()
	hasher := zkhash.NewDomainHasher()
	tokens := token.NewRegistry()
	require.NoError(t, tokens.RegisterFungible(1, "DAI", 18, types.Address{0x01}))
	s := statemachine.NewState(hasher, tokens)
	_, res, err := s.Apply(statemachine.Instruction{Priority: &optypes.PriorityOp{
		Kind:    optypes.PriorityDeposit,
		Deposit: &optypes.DepositIntent{To: types.Address{0xAA}, Token: 1, Amount: uint256.NewInt(1000)},
	}})
	require.NoError(t, err)
	return s, res.Steps[0].AccountID
}

func TestBuildWitnessChunksMatchPublicData(t *testing.T) {
	s, id := newHarness(t)

	tx := &optypes.SignedTx{
		Kind: optypes.TxWithdraw, AccountID: id, Nonce: 0, FeeToken: 1, Fee: uint256.NewInt(5),
		Withdraw: &optypes.WithdrawFields{Token: 1, Amount: uint256.NewInt(100), To: types.Address{0xBB}},
	}
	op, res, err := s.Apply(statemachine.Instruction{Tx: tx, SigValid: true})
	require.NoError(t, err)

	w, err := Build(op, res, uint256.NewInt(100), uint256.NewInt(5), optypes.Signature{Sig: []byte{0x01}}, optypes.EthSignature{})
	require.NoError(t, err)

	require.Equal(t, op.Chunks(), len(w.Chunks))
	var reassembled []byte
	for _, c := range w.Chunks {
		reassembled = append(reassembled, c.Data[:]...)
	}
	require.Equal(t, op.PublicData(), reassembled)
	require.Len(t, w.Branches, len(res.Steps))
}

func TestBuildWitnessRejectsUnpackableAmount(t *testing.T) {
	s, id := newHarness(t)
	tx := &optypes.SignedTx{
		Kind: optypes.TxWithdraw, AccountID: id, Nonce: 0, FeeToken: 1, Fee: uint256.NewInt(0),
		Withdraw: &optypes.WithdrawFields{Token: 1, Amount: uint256.NewInt(101), To: types.Address{0xBB}},
	}
	op, res, err := s.Apply(statemachine.Instruction{Tx: tx, SigValid: true})
	require.NoError(t, err)

	notPackable := new(uint256.Int).Lsh(uint256.NewInt(1), 40)
	_, err = Build(op, res, notPackable, uint256.NewInt(0), optypes.Signature{}, optypes.EthSignature{})
	require.ErrorIs(t, err, optypes.ErrNotPackable)
}

func TestBuildWitnessScalarsReflectPreStateAndTotal(t *testing.T) {
	s, id := newHarness(t)
	tx := &optypes.SignedTx{
		Kind: optypes.TxWithdraw, AccountID: id, Nonce: 0, FeeToken: 1, Fee: uint256.NewInt(10),
		Withdraw: &optypes.WithdrawFields{Token: 1, Amount: uint256.NewInt(200), To: types.Address{0xBB}},
	}
	op, res, err := s.Apply(statemachine.Instruction{Tx: tx, SigValid: true})
	require.NoError(t, err)

	w, err := Build(op, res, uint256.NewInt(200), uint256.NewInt(10), optypes.Signature{}, optypes.EthSignature{})
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(1000), w.RangeProofA)
	require.Equal(t, uint256.NewInt(210), w.RangeProofB)
}
