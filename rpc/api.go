package rpc

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/matter-labs/zksync-sub003/feeticker"
	"github.com/matter-labs/zksync-sub003/mempool"
	"github.com/matter-labs/zksync-sub003/notifier"
	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/statekeeper"
	"github.com/matter-labs/zksync-sub003/token"
	"github.com/matter-labs/zksync-sub003/types"
)

// Server implements the §6 JSON-RPC method set plus the pubsub
// subscription surface, wired against the core packages but holding none
// of their logic itself.
type Server struct {
	Mempool         *mempool.Mempool
	Keeper          *statekeeper.Keeper
	Tokens          *token.Registry
	FeeTicker       *feeticker.Ticker
	Notifier        *notifier.Notifier
	Index           *Index
	ContractAddress types.Address
}

// NewServer wires a Server over the already-constructed subsystems.
func NewServer(mp *mempool.Mempool, keeper *statekeeper.Keeper, tokens *token.Registry, ticker *feeticker.Ticker, n *notifier.Notifier, contractAddress types.Address) *Server {
	return &Server{
		Mempool:         mp,
		Keeper:          keeper,
		Tokens:          tokens,
		FeeTicker:       ticker,
		Notifier:        n,
		Index:           NewIndex(),
		ContractAddress: contractAddress,
	}
}

// SubmitTx admits a single signed tx into the mempool, returning its hash.
func (s *Server) SubmitTx(tx *optypes.SignedTx) (types.Hash, error) {
	return s.Mempool.AddTx(tx)
}

// SubmitTxsBatch admits an atomic batch of signed txs.
func (s *Server) SubmitTxsBatch(txs []*optypes.SignedTx, sig optypes.EthSignature) (types.Hash, error) {
	return s.Mempool.AddBatch(txs, sig)
}

// TxInfoResult answers tx_info.
type TxInfoResult struct {
	Hash        types.Hash `json:"hash"`
	Status      string     `json:"status"`
	BlockNumber uint64     `json:"blockNumber,omitempty"`
	FailReason  string     `json:"failReason,omitempty"`
}

// TxInfo reports a tx's lifecycle status by hash.
func (s *Server) TxInfo(hash types.Hash) TxInfoResult {
	pending := false
	for _, tx := range s.Mempool.Pending() {
		if mempool.TxHash(tx) == hash {
			pending = true
			break
		}
	}
	status, blockNum, reason := s.Index.TxStatus(hash, pending)
	return TxInfoResult{Hash: hash, Status: status.String(), BlockNumber: blockNum, FailReason: reason}
}

// EthOpInfoResult answers ethop_info.
type EthOpInfoResult struct {
	SerialID    types.SerialID `json:"serialId"`
	Status      string         `json:"status"`
	BlockNumber uint64         `json:"blockNumber,omitempty"`
	FailReason  string         `json:"failReason,omitempty"`
}

// EthOpInfo reports a priority op's lifecycle status by serial id.
func (s *Server) EthOpInfo(serial types.SerialID) EthOpInfoResult {
	pending := serial > s.Mempool.MaxProcessedSerialID()
	status, blockNum, reason := s.Index.OpStatus(serial, pending)
	return EthOpInfoResult{SerialID: serial, Status: status.String(), BlockNumber: blockNum, FailReason: reason}
}

// AccountInfoResult answers account_info.
type AccountInfoResult struct {
	AccountID  types.AccountID            `json:"accountId"`
	Address    types.Address              `json:"address"`
	Nonce      uint32                     `json:"nonce"`
	PubKeyHash types.PubKeyHash           `json:"pubKeyHash"`
	Balances   map[types.TokenID]string   `json:"balances"`
}

// AccountInfo resolves an account by address and reports its committed
// balances. Returns ok=false if no account exists at that address yet.
func (s *Server) AccountInfo(addr types.Address, knownTokens []types.TokenID) (AccountInfoResult, bool) {
	state := s.Keeper.State()
	accountID, ok := state.AccountIDByAddress(addr)
	if !ok {
		return AccountInfoResult{}, false
	}
	acc, ok := state.Accounts.Get(uint64(accountID))
	if !ok {
		return AccountInfoResult{}, false
	}
	balances := make(map[types.TokenID]string, len(knownTokens))
	for _, tok := range knownTokens {
		bal := acc.GetBalance(tok)
		if bal.Sign() != 0 {
			balances[tok] = bal.Dec()
		}
	}
	return AccountInfoResult{
		AccountID:  accountID,
		Address:    addr,
		Nonce:      acc.Nonce,
		PubKeyHash: acc.PubKeyHash,
		Balances:   balances,
	}, true
}

// ContractAddressResult answers contract_address.
type ContractAddressResult struct {
	MainContract types.Address `json:"mainContract"`
}

func (s *Server) GetContractAddress() ContractAddressResult {
	return ContractAddressResult{MainContract: s.ContractAddress}
}

// TokenInfo is one entry of the tokens response.
type TokenInfo struct {
	ID       types.TokenID `json:"id"`
	Symbol   string        `json:"symbol"`
	Decimals uint8         `json:"decimals"`
	Address  types.Address `json:"address"`
}

// TokenInfos reports the known fungible/NFT tokens requested by id.
func (s *Server) TokenInfos(ids []types.TokenID) ([]TokenInfo, error) {
	out := make([]TokenInfo, 0, len(ids))
	for _, id := range ids {
		tok, err := s.Tokens.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, TokenInfo{ID: tok.ID, Symbol: tok.Symbol, Decimals: tok.Decimals, Address: tok.L1Address})
	}
	return out, nil
}

// GetTxFee quotes the fee (token units + USD) for a single operation.
func (s *Server) GetTxFee(kind optypes.TxKind, feeToken types.TokenID) (*feeticker.Quote, error) {
	return s.FeeTicker.Quote(kind, feeToken)
}

// GetTxsBatchFeeInWei sums the fee quotes of every kind in a proposed
// batch, naming the method after zkSync Lite's historical "in wei" RPC
// even though this node's fee token need not be 18-decimal ether.
func (s *Server) GetTxsBatchFeeInWei(kinds []optypes.TxKind, feeToken types.TokenID) (*uint256.Int, error) {
	total := uint256.NewInt(0)
	for _, kind := range kinds {
		quote, err := s.FeeTicker.Quote(kind, feeToken)
		if err != nil {
			return nil, fmt.Errorf("rpc: quoting batch fee: %w", err)
		}
		total = new(uint256.Int).Add(total, quote.Amount)
	}
	return total, nil
}

// GetTokenPrice reports the ticker's median USD price for a token.
func (s *Server) GetTokenPrice(tok types.TokenID) (uint64, error) {
	price, ok := s.FeeTicker.MedianPrice(tok)
	if !ok {
		return 0, feeticker.ErrUnknownTokenPrice
	}
	return price, nil
}

// NotifyBlockSealed threads a freshly sealed block into both the tx/ethop
// index and the event notifier, the two pieces of §6 state this package
// owns. Callers (the node's block-sealing loop) invoke this once per
// seal, and NotifyBlockVerified once the (out-of-core) prover pipeline
// confirms a block.
func (s *Server) NotifyBlockSealed(block *statekeeper.Block) {
	s.Index.RecordBlock(block)

	ops := make([]notifier.SealedOp, 0, len(block.Ops))
	for _, applied := range block.Ops {
		if applied.Failed {
			continue
		}
		ops = append(ops, notifier.SealedOp{
			TxHash:     applied.TxHash,
			SerialID:   applied.SerialID,
			IsPriority: applied.SerialID != 0,
		})
	}
	s.Notifier.NotifyBlockCommitted(block.Number, ops)
}

// NotifyBlockVerified raises the verified high-water mark and fires the
// notifier's verified events for the same ops.
func (s *Server) NotifyBlockVerified(block *statekeeper.Block) {
	s.Index.MarkVerified(block.Number)

	ops := make([]notifier.SealedOp, 0, len(block.Ops))
	for _, applied := range block.Ops {
		if applied.Failed {
			continue
		}
		ops = append(ops, notifier.SealedOp{
			TxHash:     applied.TxHash,
			SerialID:   applied.SerialID,
			IsPriority: applied.SerialID != 0,
		})
	}
	s.Notifier.NotifyBlockVerified(block.Number, ops)
}
