package optypes

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/matter-labs/zksync-sub003/types"
)

// ChunkBytes is the width in bytes of one packing "chunk" (§4.C).
const ChunkBytes = 8

// OpCode identifies an operation kind. Values are arbitrary but stable: they
// are the first public-data byte of every op and therefore part of the
// on-chain wire format.
type OpCode byte

const (
	OpNoop OpCode = iota
	OpDeposit
	OpTransferToNew
	OpTransfer
	OpWithdraw
	OpForcedExit
	OpFullExit
	OpChangePubKey
	OpSwap
	OpMintNFT
	OpWithdrawNFT
)

// Op is any operation that can be packed into a block's public data.
type Op interface {
	OpCode() OpCode
	Chunks() int
	PublicData() []byte
}

// putUint writes the low `width` bytes of v, big-endian, into buf at offset.
func putUint(buf []byte, offset, width int, v uint64) {
	for i := 0; i < width; i++ {
		buf[offset+width-1-i] = byte(v >> (8 * uint(i)))
	}
}

func pad(buf []byte, chunks int) []byte {
	total := chunks * ChunkBytes
	if len(buf) > total {
		panic("optypes: public data overflows chunk budget")
	}
	out := make([]byte, total)
	copy(out, buf)
	return out
}

func fullAmountBytes(v *uint256.Int) []byte {
	b := make([]byte, 16)
	if v != nil {
		be := v.Bytes32()
		copy(b, be[16:32])
	}
	return b
}

// --- Noop -------------------------------------------------------------

// NoopOp occupies a chunk without affecting state; used as padding.
type NoopOp struct{}

func (NoopOp) OpCode() OpCode     { return OpNoop }
func (NoopOp) Chunks() int        { return 1 }
func (NoopOp) PublicData() []byte { return pad([]byte{byte(OpNoop)}, 1) }

// --- Deposit (priority) ------------------------------------------------

// DepositOp credits Amount of Token to the account owning To, creating the
// account if it does not yet exist.
type DepositOp struct {
	AccountID types.AccountID
	Token     types.TokenID
	Amount    *uint256.Int
	To        types.Address
}

func (DepositOp) OpCode() OpCode { return OpDeposit }
func (DepositOp) Chunks() int    { return 6 }
func (d DepositOp) PublicData() []byte {
	buf := make([]byte, 1+3+2+16+20)
	buf[0] = byte(OpDeposit)
	putUint(buf, 1, 3, uint64(d.AccountID))
	putUint(buf, 4, 2, uint64(d.Token))
	copy(buf[6:22], fullAmountBytes(d.Amount))
	copy(buf[22:42], d.To[:])
	return pad(buf, 6)
}

// --- Transfer / TransferToNew -------------------------------------------

// TransferOp debits From and credits an existing To account.
type TransferOp struct {
	From         types.AccountID
	To           types.AccountID
	Token        types.TokenID
	PackedAmount []byte // 5 bytes, see PackAmount
	PackedFee    []byte // 2 bytes, see PackFee
}

func (TransferOp) OpCode() OpCode { return OpTransfer }
func (TransferOp) Chunks() int    { return 2 }
func (t TransferOp) PublicData() []byte {
	buf := make([]byte, 1+3+2+5+3+2)
	buf[0] = byte(OpTransfer)
	putUint(buf, 1, 3, uint64(t.From))
	putUint(buf, 4, 2, uint64(t.Token))
	copy(buf[6:11], t.PackedAmount)
	putUint(buf, 11, 3, uint64(t.To))
	copy(buf[14:16], t.PackedFee)
	return pad(buf, 2)
}

// TransferToNewOp debits From and creates a fresh account for To.
type TransferToNewOp struct {
	From         types.AccountID
	Token        types.TokenID
	PackedAmount []byte
	To           types.Address
	PackedFee    []byte
	NewAccountID types.AccountID
}

func (TransferToNewOp) OpCode() OpCode { return OpTransferToNew }
func (TransferToNewOp) Chunks() int    { return 5 }
func (t TransferToNewOp) PublicData() []byte {
	buf := make([]byte, 1+3+2+5+20+2+3)
	buf[0] = byte(OpTransferToNew)
	putUint(buf, 1, 3, uint64(t.From))
	putUint(buf, 4, 2, uint64(t.Token))
	copy(buf[6:11], t.PackedAmount)
	copy(buf[11:31], t.To[:])
	copy(buf[31:33], t.PackedFee)
	putUint(buf, 33, 3, uint64(t.NewAccountID))
	return pad(buf, 5)
}

// --- Withdraw ------------------------------------------------------------

// WithdrawOp debits From and schedules an L1 payout of Amount to To.
type WithdrawOp struct {
	From      types.AccountID
	Token     types.TokenID
	Amount    *uint256.Int
	PackedFee []byte
	To        types.Address
}

func (WithdrawOp) OpCode() OpCode { return OpWithdraw }
func (WithdrawOp) Chunks() int    { return 6 }
func (w WithdrawOp) PublicData() []byte {
	buf := make([]byte, 1+3+2+16+2+20)
	buf[0] = byte(OpWithdraw)
	putUint(buf, 1, 3, uint64(w.From))
	putUint(buf, 4, 2, uint64(w.Token))
	copy(buf[6:22], fullAmountBytes(w.Amount))
	copy(buf[22:24], w.PackedFee)
	copy(buf[24:44], w.To[:])
	return pad(buf, 6)
}

// --- ForcedExit ------------------------------------------------------------

// ForcedExitOp debits Target's full balance of Token, charged to Initiator,
// and schedules an L1 payout to TargetAddress.
type ForcedExitOp struct {
	Initiator     types.AccountID
	Target        types.AccountID
	Token         types.TokenID
	Amount        *uint256.Int // full balance at execution time
	PackedFee     []byte
	TargetAddress types.Address
}

func (ForcedExitOp) OpCode() OpCode { return OpForcedExit }
func (ForcedExitOp) Chunks() int    { return 6 }
func (f ForcedExitOp) PublicData() []byte {
	buf := make([]byte, 1+3+3+2+16+2+20)
	buf[0] = byte(OpForcedExit)
	putUint(buf, 1, 3, uint64(f.Initiator))
	putUint(buf, 4, 3, uint64(f.Target))
	putUint(buf, 7, 2, uint64(f.Token))
	copy(buf[9:25], fullAmountBytes(f.Amount))
	copy(buf[25:27], f.PackedFee)
	copy(buf[27:47], f.TargetAddress[:])
	return pad(buf, 6)
}

// --- FullExit (priority) ----------------------------------------------

// FullExitOp pays out Account's full balance of Token on L1 and zeroes it.
type FullExitOp struct {
	AccountID types.AccountID
	Owner     types.Address
	Token     types.TokenID
	Amount    *uint256.Int // resolved balance at execution time
}

func (FullExitOp) OpCode() OpCode { return OpFullExit }
func (FullExitOp) Chunks() int    { return 6 }
func (f FullExitOp) PublicData() []byte {
	buf := make([]byte, 1+3+20+2+16)
	buf[0] = byte(OpFullExit)
	putUint(buf, 1, 3, uint64(f.AccountID))
	copy(buf[4:24], f.Owner[:])
	putUint(buf, 24, 2, uint64(f.Token))
	copy(buf[26:42], fullAmountBytes(f.Amount))
	return pad(buf, 6)
}

// --- ChangePubKey --------------------------------------------------------

// ChangePubKeyOp sets Account's pubkey-hash under signature and pays Fee.
type ChangePubKeyOp struct {
	AccountID types.AccountID
	NewPubKey types.PubKeyHash
	Nonce     uint32
	Token     types.TokenID
	PackedFee []byte
}

func (ChangePubKeyOp) OpCode() OpCode { return OpChangePubKey }
func (ChangePubKeyOp) Chunks() int    { return 6 }
func (c ChangePubKeyOp) PublicData() []byte {
	buf := make([]byte, 1+3+20+4+2+2)
	buf[0] = byte(OpChangePubKey)
	putUint(buf, 1, 3, uint64(c.AccountID))
	copy(buf[4:24], c.NewPubKey[:])
	binary.BigEndian.PutUint32(buf[24:28], c.Nonce)
	putUint(buf, 28, 2, uint64(c.Token))
	copy(buf[30:32], c.PackedFee)
	return pad(buf, 6)
}

// --- Swap ------------------------------------------------------------

// SwapOrder is one side of an atomic Swap.
type SwapOrder struct {
	AccountID    types.AccountID
	Token        types.TokenID
	PackedAmount []byte
}

// SwapOp atomically exchanges Order0's token for Order1's token; Submitter
// pays Fee.
type SwapOp struct {
	Submitter types.AccountID
	Order0    SwapOrder
	Order1    SwapOrder
	PackedFee []byte
}

func (SwapOp) OpCode() OpCode { return OpSwap }
func (SwapOp) Chunks() int    { return 5 }
func (s SwapOp) PublicData() []byte {
	buf := make([]byte, 1+3+3+3+2+2+5+5+2)
	buf[0] = byte(OpSwap)
	putUint(buf, 1, 3, uint64(s.Submitter))
	putUint(buf, 4, 3, uint64(s.Order0.AccountID))
	putUint(buf, 7, 3, uint64(s.Order1.AccountID))
	putUint(buf, 10, 2, uint64(s.Order0.Token))
	putUint(buf, 12, 2, uint64(s.Order1.Token))
	copy(buf[14:19], s.Order0.PackedAmount)
	copy(buf[19:24], s.Order1.PackedAmount)
	copy(buf[24:26], s.PackedFee)
	return pad(buf, 5)
}

// --- NFT -------------------------------------------------------------

// NFTToken is the metadata record created by a MintNFT op.
type NFTToken struct {
	ID          types.TokenID
	CreatorID   types.AccountID
	SerialID    uint32
	ContentHash types.Hash
}

// MintNFTOp increments Creator's mint-serial counter, creates the resulting
// NFTToken, and credits it to Recipient.
type MintNFTOp struct {
	Creator     types.AccountID
	Recipient   types.AccountID
	ContentHash types.Hash
	FeeToken    types.TokenID
	PackedFee   []byte
}

func (MintNFTOp) OpCode() OpCode { return OpMintNFT }
func (MintNFTOp) Chunks() int    { return 5 }
func (m MintNFTOp) PublicData() []byte {
	buf := make([]byte, 1+3+3+16+2+2)
	buf[0] = byte(OpMintNFT)
	putUint(buf, 1, 3, uint64(m.Creator))
	putUint(buf, 4, 3, uint64(m.Recipient))
	copy(buf[7:23], m.ContentHash[:16])
	putUint(buf, 23, 2, uint64(m.FeeToken))
	copy(buf[25:27], m.PackedFee)
	return pad(buf, 5)
}

// WithdrawNFTOp moves an NFT from off-chain state to an L1 withdrawal.
type WithdrawNFTOp struct {
	Initiator     types.AccountID
	Creator       types.AccountID
	ReceiverAddr  types.Address
	NFTTokenID    types.TokenID
	ContentHash   types.Hash
	FeeToken      types.TokenID
	PackedFee     []byte
}

func (WithdrawNFTOp) OpCode() OpCode { return OpWithdrawNFT }
func (WithdrawNFTOp) Chunks() int    { return 10 }
func (w WithdrawNFTOp) PublicData() []byte {
	buf := make([]byte, 1+3+3+20+4+32+2+2)
	buf[0] = byte(OpWithdrawNFT)
	putUint(buf, 1, 3, uint64(w.Initiator))
	putUint(buf, 4, 3, uint64(w.Creator))
	copy(buf[7:27], w.ReceiverAddr[:])
	putUint(buf, 27, 4, uint64(w.NFTTokenID))
	copy(buf[31:63], w.ContentHash[:])
	putUint(buf, 63, 2, uint64(w.FeeToken))
	copy(buf[65:67], w.PackedFee)
	return pad(buf, 10)
}
