package optypes

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestPackAmountRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 10, 100, 1000, 999, 123450000, 1<<34 - 1}
	for _, c := range cases {
		v := uint256.NewInt(c)
		packed, err := PackAmount(v)
		require.NoError(t, err, c)
		require.Len(t, packed, 5)
		got, err := UnpackAmount(packed)
		require.NoError(t, err)
		require.True(t, v.Eq(got), "case %d: got %s", c, got.String())
	}
}

func TestPackFeeRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 5, 100, 2000, 1<<10 - 1}
	for _, c := range cases {
		v := uint256.NewInt(c)
		packed, err := PackFee(v)
		require.NoError(t, err)
		require.Len(t, packed, 2)
		got, err := UnpackFee(packed)
		require.NoError(t, err)
		require.True(t, v.Eq(got))
	}
}

func TestPackAmountRejectsNonPackable(t *testing.T) {
	// A value whose significant digits don't fit in the mantissa even
	// after stripping all possible trailing zeros is not packable.
	v, err := uint256.FromDecimal("34359738369") // 2^35 + 1, no trailing zero to strip
	require.NoError(t, err)
	require.False(t, IsAmountPackable(v))
	_, err = PackAmount(v)
	require.ErrorIs(t, err, ErrNotPackable)
}

func TestPackFeeRejectsNonPackable(t *testing.T) {
	v := uint256.NewInt(1 << 11) // no trailing decimal zero, exceeds 11-bit mantissa
	require.False(t, IsFeePackable(v))
}

func TestOpPublicDataChunkWidth(t *testing.T) {
	ops := []Op{
		NoopOp{},
		DepositOp{Amount: uint256.NewInt(1)},
		TransferOp{PackedAmount: make([]byte, 5), PackedFee: make([]byte, 2)},
		TransferToNewOp{PackedAmount: make([]byte, 5), PackedFee: make([]byte, 2)},
		WithdrawOp{Amount: uint256.NewInt(1), PackedFee: make([]byte, 2)},
		ForcedExitOp{Amount: uint256.NewInt(1), PackedFee: make([]byte, 2)},
		FullExitOp{Amount: uint256.NewInt(1)},
		ChangePubKeyOp{PackedFee: make([]byte, 2)},
		SwapOp{Order0: SwapOrder{PackedAmount: make([]byte, 5)}, Order1: SwapOrder{PackedAmount: make([]byte, 5)}, PackedFee: make([]byte, 2)},
		MintNFTOp{PackedFee: make([]byte, 2)},
		WithdrawNFTOp{PackedFee: make([]byte, 2)},
	}
	for _, op := range ops {
		pd := op.PublicData()
		require.Equal(t, op.Chunks()*ChunkBytes, len(pd), "opcode %d", op.OpCode())
		require.Equal(t, byte(op.OpCode()), pd[0])
	}
}
