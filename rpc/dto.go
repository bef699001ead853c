package rpc

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/types"
)

// txKindNames maps the wire string used by submit_tx/submit_txs_batch to
// the internal TxKind, using CamelCase op names ("Transfer", "ChangePubKey")
// rather than exposing the TxKind byte value over the wire.
var txKindNames = map[string]optypes.TxKind{
	"Transfer":     optypes.TxTransfer,
	"Withdraw":     optypes.TxWithdraw,
	"ChangePubKey": optypes.TxChangePubKey,
	"ForcedExit":   optypes.TxForcedExit,
	"Swap":         optypes.TxSwap,
	"MintNFT":      optypes.TxMintNFT,
	"WithdrawNFT":  optypes.TxWithdrawNFT,
	"Close":        optypes.TxClose,
}

func parseTxKind(s string) (optypes.TxKind, error) {
	kind, ok := txKindNames[s]
	if !ok {
		return 0, fmt.Errorf("rpc: unknown tx type %q", s)
	}
	return kind, nil
}

func parseHexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func parseAddress(s string) (types.Address, error) {
	b, err := parseHexBytes(s)
	if err != nil {
		return types.Address{}, err
	}
	return types.BytesToAddress(b), nil
}

func parsePubKeyHash(s string) (types.PubKeyHash, error) {
	b, err := parseHexBytes(strings.TrimPrefix(s, "sync:"))
	if err != nil {
		return types.PubKeyHash{}, err
	}
	return types.BytesToPubKeyHash(b), nil
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	return uint256.FromDecimal(s)
}

// TxDTO is the wire representation of a SignedTx: every variant's fields
// are present but only those matching Type are populated, mirroring
// zkSync Lite's tagged-union JSON transaction encoding.
type TxDTO struct {
	Type      string `json:"type"`
	AccountID uint32 `json:"accountId"`
	Nonce     uint32 `json:"nonce"`
	FeeToken  uint32 `json:"feeToken"`
	Fee       string `json:"fee"`

	Signature    *SignatureDTO `json:"signature,omitempty"`
	EthSignature string        `json:"ethSignature,omitempty"`
	ValidFrom    uint64        `json:"validFrom,omitempty"`
	ValidUntil   uint64        `json:"validUntil,omitempty"`

	To          string `json:"to,omitempty"`
	Token       uint32 `json:"token,omitempty"`
	Amount      string `json:"amount,omitempty"`
	NewPubKeyHash string `json:"newPubKeyHash,omitempty"`
	ChainAuth   bool   `json:"chainAuth,omitempty"`
	Target      uint32 `json:"target,omitempty"`
	TargetTo    string `json:"targetTo,omitempty"`
	ContentHash string `json:"contentHash,omitempty"`
	Recipient   uint32 `json:"recipient,omitempty"`
	NFTTokenID  uint32 `json:"nftTokenId,omitempty"`
	FastProcessing bool `json:"fastProcessing,omitempty"`
}

// SignatureDTO is the wire representation of optypes.Signature.
type SignatureDTO struct {
	PubKey string `json:"pubKey"`
	Sig    string `json:"signature"`
}

func (d *SignatureDTO) toSignature() (optypes.Signature, error) {
	if d == nil {
		return optypes.Signature{}, nil
	}
	pk, err := parseHexBytes(d.PubKey)
	if err != nil {
		return optypes.Signature{}, err
	}
	sig, err := parseHexBytes(d.Sig)
	if err != nil {
		return optypes.Signature{}, err
	}
	return optypes.Signature{PubKey: pk, Sig: sig}, nil
}

// ToSignedTx converts the DTO into an optypes.SignedTx, the form the
// mempool and state machine operate on.
func (d *TxDTO) ToSignedTx() (*optypes.SignedTx, error) {
	kind, err := parseTxKind(d.Type)
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount(d.Fee)
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid fee: %w", err)
	}
	sig, err := d.Signature.toSignature()
	if err != nil {
		return nil, fmt.Errorf("rpc: invalid signature: %w", err)
	}
	var ethSig optypes.EthSignature
	if d.EthSignature != "" {
		b, err := parseHexBytes(d.EthSignature)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid eth signature: %w", err)
		}
		ethSig.Sig = b
	}

	tx := &optypes.SignedTx{
		Kind:         kind,
		AccountID:    types.AccountID(d.AccountID),
		Nonce:        d.Nonce,
		FeeToken:     types.TokenID(d.FeeToken),
		Fee:          fee,
		Signature:    sig,
		EthSignature: ethSig,
		TimeRange:    optypes.TimeRange{ValidFrom: d.ValidFrom, ValidUntil: d.ValidUntil},
	}

	switch kind {
	case optypes.TxTransfer:
		toAddr, err := parseAddress(d.To)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid to address: %w", err)
		}
		amount, err := parseAmount(d.Amount)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid amount: %w", err)
		}
		tx.Transfer = &optypes.TransferFields{ToAddr: toAddr, Token: types.TokenID(d.Token), Amount: amount}
	case optypes.TxWithdraw:
		toAddr, err := parseAddress(d.To)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid to address: %w", err)
		}
		amount, err := parseAmount(d.Amount)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid amount: %w", err)
		}
		tx.Withdraw = &optypes.WithdrawFields{To: toAddr, Token: types.TokenID(d.Token), Amount: amount, FastProcessing: d.FastProcessing}
	case optypes.TxChangePubKey:
		newHash, err := parsePubKeyHash(d.NewPubKeyHash)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid new pubkey hash: %w", err)
		}
		tx.ChangePubKey = &optypes.ChangePubKeyFields{NewPubKeyHash: newHash, ChainAuth: d.ChainAuth}
	case optypes.TxForcedExit:
		targetTo, err := parseAddress(d.TargetTo)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid target address: %w", err)
		}
		tx.ForcedExit = &optypes.ForcedExitFields{Target: types.AccountID(d.Target), TargetTo: targetTo, Token: types.TokenID(d.Token)}
	case optypes.TxMintNFT:
		hashBytes, err := parseHexBytes(d.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid content hash: %w", err)
		}
		tx.MintNFT = &optypes.MintNFTFields{Recipient: types.AccountID(d.Recipient), ContentHash: types.BytesToHash(hashBytes), FeeToken: types.TokenID(d.FeeToken)}
	case optypes.TxWithdrawNFT:
		toAddr, err := parseAddress(d.To)
		if err != nil {
			return nil, fmt.Errorf("rpc: invalid to address: %w", err)
		}
		tx.WithdrawNFT = &optypes.WithdrawNFTFields{NFTTokenID: types.TokenID(d.NFTTokenID), To: toAddr, FeeToken: types.TokenID(d.FeeToken)}
	case optypes.TxSwap:
		return nil, fmt.Errorf("rpc: swap submission requires two-sided order params, not yet wired over this transport")
	}

	return tx, nil
}
