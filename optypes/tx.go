package optypes

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/matter-labs/zksync-sub003/types"
)

// TxKind identifies which SignedTx variant a transaction carries.
type TxKind byte

const (
	TxTransfer TxKind = iota
	TxWithdraw
	TxChangePubKey
	TxForcedExit
	TxSwap
	TxMintNFT
	TxWithdrawNFT
	// TxClose identifies the legacy "close account" operation. The kind
	// still exists for wire compatibility with old clients, but admission
	// always rejects it (§7 AccountCloseDisabled) — it has no Fields
	// struct and no state-machine handling.
	TxClose
)

// TimeRange bounds when a tx is valid. A zero ValidUntil means "no upper
// bound". Present on every SignedTx per §3/original_source.
type TimeRange struct {
	ValidFrom  uint64
	ValidUntil uint64
}

// Contains reports whether timestamp falls within the range.
func (r TimeRange) Contains(timestamp uint64) bool {
	if timestamp < r.ValidFrom {
		return false
	}
	if r.ValidUntil != 0 && timestamp > r.ValidUntil {
		return false
	}
	return true
}

// Signature is a zkSync signature (schnorr-like, over the musig2/eddsa
// signing scheme used by the account's pubkey-hash); opaque to this node
// beyond "present or absent" and "bytes to feed the witness".
type Signature struct {
	PubKey []byte
	Sig    []byte
}

func (s Signature) Present() bool { return len(s.Sig) > 0 }

// EthSignature is an Ethereum ECDSA (or EIP-1271) signature accompanying a
// tx where mandated (e.g. ChangePubKey, or a batch's EIP-712 authorization).
type EthSignature struct {
	Sig []byte
}

func (s EthSignature) Present() bool { return len(s.Sig) > 0 }

// SignedTx is a user-originated operation admitted from the mempool. The
// Kind selects which of the variant-specific fields are meaningful.
type SignedTx struct {
	Kind TxKind

	AccountID types.AccountID
	Nonce     uint32
	FeeToken  types.TokenID
	Fee       *uint256.Int

	Signature    Signature
	EthSignature EthSignature
	TimeRange    TimeRange

	Transfer     *TransferFields
	Withdraw     *WithdrawFields
	ChangePubKey *ChangePubKeyFields
	ForcedExit   *ForcedExitFields
	Swap         *SwapFields
	MintNFT      *MintNFTFields
	WithdrawNFT  *WithdrawNFTFields

	// ReceivedAt is when the mempool first observed this tx; used for FIFO
	// ordering (§4.F "Fairness").
	ReceivedAt time.Time

	// BatchID is the admission-time batch identifier this tx was submitted
	// under (zero if submitted standalone). Links a tx back to its
	// mempool.AddBatch call so the state keeper can enforce batch gas
	// atomicity (§4.H "Batch atomicity").
	BatchID types.Hash

	// NextPriorityOpID records how many priority ops had already been
	// processed when this tx was originally applied. A reverted block's
	// txs carry this forward so the reverted-first proposal phase can
	// replay them only once the priority-op counter has caught back up,
	// preserving the gapless serial-id invariant (§4.G step 1, §8
	// property 10).
	NextPriorityOpID types.SerialID
}

// TransferFields carries Transfer-specific data.
type TransferFields struct {
	To     types.AccountID // resolved if the account already exists
	ToAddr types.Address   // always present; used to create the account if new
	Token  types.TokenID
	Amount *uint256.Int
}

// WithdrawFields carries Withdraw-specific data.
type WithdrawFields struct {
	Token  types.TokenID
	Amount *uint256.Int
	To     types.Address
	// FastProcessing requests expedited off-chain settlement ahead of the
	// normal proof-verification timeline, mirroring the original's
	// optional "fast" withdrawal flag. This node has no fast-withdrawal
	// path (§7 UnsupportedFastProcessing) and always rejects it.
	FastProcessing bool
}

// ChangePubKeyFields carries ChangePubKey-specific data.
type ChangePubKeyFields struct {
	NewPubKeyHash types.PubKeyHash
	// ChainAuth indicates the account authorized this key change on-chain
	// (e.g. via an on-chain ChangePubKeyAuth transaction), satisfying
	// ForbiddenForAccount absent an EthSignature.
	ChainAuth bool
}

// ForcedExitFields carries ForcedExit-specific data.
type ForcedExitFields struct {
	Target   types.AccountID
	TargetTo types.Address
	Token    types.TokenID
}

// SwapFields carries Swap-specific data: two independently-signed orders.
type SwapFields struct {
	Order0, Order1 SwapOrderIntent
	Amount0        *uint256.Int
	Amount1        *uint256.Int
}

// SwapOrderIntent is one signed side of a Swap, before settlement amounts
// are finalized by the submitter.
type SwapOrderIntent struct {
	AccountID   types.AccountID
	TokenSell   types.TokenID
	TokenBuy    types.TokenID
	RatioSell   *uint256.Int
	RatioBuy    *uint256.Int
	Nonce       uint32
	Signature   Signature
	TimeRange   TimeRange
}

// MintNFTFields carries MintNFT-specific data.
type MintNFTFields struct {
	Recipient   types.AccountID
	ContentHash types.Hash
	FeeToken    types.TokenID
}

// WithdrawNFTFields carries WithdrawNFT-specific data.
type WithdrawNFTFields struct {
	NFTTokenID types.TokenID
	To         types.Address
	FeeToken   types.TokenID
}

// Hash is the type of a tx's content hash, used as the mempool dedup key and
// notifier correlation key. mempool.TxHash computes it from the tx's fields
// on each call; the tx does not store it.
type Hash = types.Hash

// PriorityOpKind identifies which PriorityOp variant a priority operation carries.
type PriorityOpKind byte

const (
	PriorityDeposit PriorityOpKind = iota
	PriorityFullExit
)

// PriorityOp is an L1-originated operation (§3). SerialID is assigned by
// the L1 contract and must be strictly increasing with no gaps across
// sealed blocks (testable property 10).
type PriorityOp struct {
	Kind       PriorityOpKind
	SerialID   types.SerialID
	EthHash    types.Hash
	Deadline   uint64 // L1 block number after which the op expires unprocessed
	Confirmed  bool

	Deposit  *DepositIntent
	FullExit *FullExitIntent
}

// DepositIntent carries Deposit-specific data.
type DepositIntent struct {
	To     types.Address
	Token  types.TokenID
	Amount *uint256.Int
}

// FullExitIntent carries FullExit-specific data.
type FullExitIntent struct {
	AccountID types.AccountID
	Owner     types.Address
	Token     types.TokenID
}
