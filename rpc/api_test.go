package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub003/feeticker"
	"github.com/matter-labs/zksync-sub003/internal/metrics"
	"github.com/matter-labs/zksync-sub003/internal/zkhash"
	"github.com/matter-labs/zksync-sub003/internal/zklog"
	"github.com/matter-labs/zksync-sub003/mempool"
	"github.com/matter-labs/zksync-sub003/notifier"
	"github.com/matter-labs/zksync-sub003/statekeeper"
	"github.com/matter-labs/zksync-sub003/statemachine"
	"github.com/matter-labs/zksync-sub003/token"
	"github.com/matter-labs/zksync-sub003/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hasher := zkhash.NewDomainHasher()
	tokens := token.NewRegistry()
	require.NoError(t, tokens.RegisterFungible(1, "DAI", 18, types.Address{0xaa}))

	state := statemachine.NewState(hasher, tokens)
	keeper := statekeeper.NewKeeper(statekeeper.DefaultConfig(), state, zklog.Module("test"))

	ticker := feeticker.New(feeticker.DefaultConfig())
	ticker.ReportPrice(1, 1_000_000, 0)

	store := mempool.NewMemStore()
	reg := metrics.NewRegistry(metrics.DefaultConfig())
	mp := mempool.New(mempool.DefaultConfig(), store, reg, zklog.Module("test"), ticker)

	n := notifier.New(0)

	return NewServer(mp, keeper, tokens, ticker, n, types.Address{0x01})
}

func rawParams(t *testing.T, v ...interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHandleRequestUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	resp := s.HandleRequest(&Request{JSONRPC: "2.0", Method: "no_such_method"})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestHandleSubmitTxThenTxInfo(t *testing.T) {
	s := newTestServer(t)
	dto := TxDTO{
		Type:      "Transfer",
		AccountID: 0,
		Nonce:     0,
		FeeToken:  1,
		Fee:       "1000",
		To:        "0x00000000000000000000000000000000000000bb",
		Token:     1,
		Amount:    "500",
	}
	resp := s.HandleRequest(&Request{JSONRPC: "2.0", Method: "submit_tx", Params: rawParams(t, dto)})
	require.Nil(t, resp.Error)
	hashHex, ok := resp.Result.(string)
	require.True(t, ok)
	require.NotEmpty(t, hashHex)

	infoResp := s.HandleRequest(&Request{JSONRPC: "2.0", Method: "tx_info", Params: rawParams(t, hashHex)})
	require.Nil(t, infoResp.Error)
}

func TestHandleSubmitTxInvalidKind(t *testing.T) {
	s := newTestServer(t)
	dto := TxDTO{Type: "NotAKind"}
	resp := s.HandleRequest(&Request{JSONRPC: "2.0", Method: "submit_tx", Params: rawParams(t, dto)})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestHandleAccountInfoUnknownAccountReturnsNil(t *testing.T) {
	s := newTestServer(t)
	resp := s.HandleRequest(&Request{JSONRPC: "2.0", Method: "account_info", Params: rawParams(t, "0x000000000000000000000000000000000000ff")})
	require.Nil(t, resp.Error)
	require.Nil(t, resp.Result)
}

func TestHandleGetTxFee(t *testing.T) {
	s := newTestServer(t)
	resp := s.HandleRequest(&Request{JSONRPC: "2.0", Method: "get_tx_fee", Params: rawParams(t, "Transfer", uint32(1))})
	require.Nil(t, resp.Error)
	q, ok := resp.Result.(quoteResponse)
	require.True(t, ok)
	require.Equal(t, types.TokenID(1), q.TokenID)
}

func TestHandleGetTxFeeUnknownTokenPrice(t *testing.T) {
	s := newTestServer(t)
	resp := s.HandleRequest(&Request{JSONRPC: "2.0", Method: "get_tx_fee", Params: rawParams(t, "Transfer", uint32(2))})
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrCodeExecutionRejected, resp.Error.Code)
}

func TestHandleGetTokenPrice(t *testing.T) {
	s := newTestServer(t)
	resp := s.HandleRequest(&Request{JSONRPC: "2.0", Method: "get_token_price", Params: rawParams(t, uint32(1))})
	require.Nil(t, resp.Error)
	require.EqualValues(t, 1_000_000, resp.Result)
}

func TestHandleTokens(t *testing.T) {
	s := newTestServer(t)
	resp := s.HandleRequest(&Request{JSONRPC: "2.0", Method: "tokens", Params: rawParams(t, []uint32{0, 1})})
	require.Nil(t, resp.Error)
	infos, ok := resp.Result.([]TokenInfo)
	require.True(t, ok)
	require.Len(t, infos, 2)
}

func TestHandleContractAddress(t *testing.T) {
	s := newTestServer(t)
	resp := s.HandleRequest(&Request{JSONRPC: "2.0", Method: "contract_address"})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(ContractAddressResult)
	require.True(t, ok)
	require.Equal(t, types.Address{0x01}, result.MainContract)
}

func TestNotifyBlockSealedAndVerified(t *testing.T) {
	s := newTestServer(t)
	txHash := types.Hash{0x42}
	sub := s.Notifier.SubscribeTx(txHash, notifier.Committed)

	block := &statekeeper.Block{
		Number: 1,
		Ops:    []statekeeper.AppliedOp{{TxHash: txHash}},
	}
	s.NotifyBlockSealed(block)

	select {
	case ev := <-sub.Chan():
		require.Equal(t, uint64(1), ev.BlockNum)
	default:
		t.Fatal("expected committed notification")
	}

	status, blockNum, _ := s.Index.TxStatus(txHash, false)
	require.Equal(t, StatusCommitted, status)
	require.Equal(t, uint64(1), blockNum)

	s.NotifyBlockVerified(block)
	status, _, _ = s.Index.TxStatus(txHash, false)
	require.Equal(t, StatusVerified, status)
}
