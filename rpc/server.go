package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/matter-labs/zksync-sub003/feeticker"
	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/types"
)

// HandleRequest dispatches a single JSON-RPC request to the matching
// §6 method, mirroring the teacher's EthAPI.HandleRequest method-name
// switch.
func (s *Server) HandleRequest(req *Request) *Response {
	var params []json.RawMessage
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, ErrCodeInvalidParams, "params must be a JSON array")
		}
	}

	switch req.Method {
	case "submit_tx":
		return s.handleSubmitTx(req.ID, params)
	case "submit_txs_batch":
		return s.handleSubmitTxsBatch(req.ID, params)
	case "tx_info":
		return s.handleTxInfo(req.ID, params)
	case "ethop_info":
		return s.handleEthOpInfo(req.ID, params)
	case "account_info":
		return s.handleAccountInfo(req.ID, params)
	case "contract_address":
		return successResponse(req.ID, s.GetContractAddress())
	case "tokens":
		return s.handleTokens(req.ID, params)
	case "get_tx_fee":
		return s.handleGetTxFee(req.ID, params)
	case "get_txs_batch_fee_in_wei":
		return s.handleGetTxsBatchFeeInWei(req.ID, params)
	case "get_token_price":
		return s.handleGetTokenPrice(req.ID, params)
	default:
		return errorResponse(req.ID, ErrCodeMethodNotFound, "unknown method "+req.Method)
	}
}

func decodeParam(params []json.RawMessage, i int, v interface{}) error {
	if i >= len(params) {
		return errMissingParam
	}
	return json.Unmarshal(params[i], v)
}

var errMissingParam = &RPCError{Code: ErrCodeInvalidParams, Message: "missing parameter"}

func (s *Server) handleSubmitTx(id json.RawMessage, params []json.RawMessage) *Response {
	var dto TxDTO
	if err := decodeParam(params, 0, &dto); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	tx, err := dto.ToSignedTx()
	if err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	hash, err := s.SubmitTx(tx)
	if err != nil {
		return errorResponse(id, ErrCodeAdmissionRejected, err.Error())
	}
	return successResponse(id, hash.Hex())
}

func (s *Server) handleSubmitTxsBatch(id json.RawMessage, params []json.RawMessage) *Response {
	var dtos []TxDTO
	if err := decodeParam(params, 0, &dtos); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	var ethSigHex string
	_ = decodeParam(params, 1, &ethSigHex)

	txs := make([]*optypes.SignedTx, 0, len(dtos))
	for i := range dtos {
		tx, err := dtos[i].ToSignedTx()
		if err != nil {
			return errorResponse(id, ErrCodeInvalidParams, err.Error())
		}
		txs = append(txs, tx)
	}
	var ethSig optypes.EthSignature
	if ethSigHex != "" {
		b, err := parseHexBytes(ethSigHex)
		if err != nil {
			return errorResponse(id, ErrCodeInvalidParams, err.Error())
		}
		ethSig.Sig = b
	}

	hash, err := s.SubmitTxsBatch(txs, ethSig)
	if err != nil {
		return errorResponse(id, ErrCodeAdmissionRejected, err.Error())
	}
	return successResponse(id, hash.Hex())
}

func (s *Server) handleTxInfo(id json.RawMessage, params []json.RawMessage) *Response {
	var hashHex string
	if err := decodeParam(params, 0, &hashHex); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	hash, err := parseHexHash(hashHex)
	if err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	return successResponse(id, s.TxInfo(hash))
}

func (s *Server) handleEthOpInfo(id json.RawMessage, params []json.RawMessage) *Response {
	var serial uint64
	if err := decodeParam(params, 0, &serial); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	return successResponse(id, s.EthOpInfo(types.SerialID(serial)))
}

func (s *Server) handleAccountInfo(id json.RawMessage, params []json.RawMessage) *Response {
	var addrHex string
	if err := decodeParam(params, 0, &addrHex); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	addr, err := parseAddress(addrHex)
	if err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	result, ok := s.AccountInfo(addr, s.Tokens.KnownIDs())
	if !ok {
		return successResponse(id, nil)
	}
	return successResponse(id, result)
}

func (s *Server) handleTokens(id json.RawMessage, params []json.RawMessage) *Response {
	var ids []uint32
	if err := decodeParam(params, 0, &ids); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	tokIDs := make([]types.TokenID, len(ids))
	for i, v := range ids {
		tokIDs[i] = types.TokenID(v)
	}
	result, err := s.TokenInfos(tokIDs)
	if err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	return successResponse(id, result)
}

func (s *Server) handleGetTxFee(id json.RawMessage, params []json.RawMessage) *Response {
	var txType string
	var feeToken uint32
	if err := decodeParam(params, 0, &txType); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	if err := decodeParam(params, 1, &feeToken); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	kind, err := parseTxKind(txType)
	if err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	quote, err := s.GetTxFee(kind, types.TokenID(feeToken))
	if err != nil {
		return errorResponse(id, ErrCodeExecutionRejected, err.Error())
	}
	return successResponse(id, quoteDTO(quote))
}

func (s *Server) handleGetTxsBatchFeeInWei(id json.RawMessage, params []json.RawMessage) *Response {
	var txTypes []string
	var feeToken uint32
	if err := decodeParam(params, 0, &txTypes); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	if err := decodeParam(params, 1, &feeToken); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	kinds := make([]optypes.TxKind, len(txTypes))
	for i, t := range txTypes {
		kind, err := parseTxKind(t)
		if err != nil {
			return errorResponse(id, ErrCodeInvalidParams, err.Error())
		}
		kinds[i] = kind
	}
	total, err := s.GetTxsBatchFeeInWei(kinds, types.TokenID(feeToken))
	if err != nil {
		return errorResponse(id, ErrCodeExecutionRejected, err.Error())
	}
	return successResponse(id, total.Dec())
}

func (s *Server) handleGetTokenPrice(id json.RawMessage, params []json.RawMessage) *Response {
	var tokenID uint32
	if err := decodeParam(params, 0, &tokenID); err != nil {
		return errorResponse(id, ErrCodeInvalidParams, err.Error())
	}
	price, err := s.GetTokenPrice(types.TokenID(tokenID))
	if err != nil {
		return errorResponse(id, ErrCodeExecutionRejected, err.Error())
	}
	return successResponse(id, price)
}

// quoteResponse is the wire shape of a feeticker.Quote.
type quoteResponse struct {
	TokenID  types.TokenID `json:"tokenId"`
	Amount   string        `json:"amount"`
	USDValue uint64        `json:"usdValue"`
}

func quoteDTO(q *feeticker.Quote) quoteResponse {
	return quoteResponse{TokenID: q.TokenID, Amount: q.Amount.Dec(), USDValue: q.USDValue}
}

// ServeHTTP handles a single JSON-RPC POST request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req Request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, errorResponse(nil, ErrCodeParse, "invalid JSON"))
		return
	}
	writeJSON(w, s.HandleRequest(&req))
}

func writeJSON(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// NewMux wires the JSON-RPC POST endpoint and the WebSocket pubsub
// endpoint onto a single http.ServeMux.
func NewMux(s *Server, pubsub *PubSubHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", s)
	mux.Handle("/ws", pubsub)
	return mux
}
