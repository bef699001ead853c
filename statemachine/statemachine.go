// Package statemachine implements operation execution (§4.D): the
// deterministic application of each op kind to the account/balance SMTs,
// producing the leaf-operation trace the witness builder needs and any
// fee collected.
//
// Every Apply* function first performs all read-only validation (account
// existence, nonce, time range, token registration, packability, balance
// sufficiency) before mutating anything, so that a rejected op leaves the
// state exactly as it found it.
package statemachine

import (
	"github.com/holiman/uint256"

	"github.com/matter-labs/zksync-sub003/account"
	"github.com/matter-labs/zksync-sub003/internal/smt"
	"github.com/matter-labs/zksync-sub003/internal/zkhash"
	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/token"
	"github.com/matter-labs/zksync-sub003/types"
)

// mintSerialToken is a reserved balance-tree slot (just below the NFT id
// range) used to store each account's MintNFT serial counter as an
// ordinary balance leaf, keeping the counter part of committed state and
// witness-compatible without adding a field to the account leaf layout.
const mintSerialToken = token.MinNFTTokenID - 1

// State is the canonical account map (§3's "Account map is exclusively
// owned by the state keeper"): the account SMT plus the address index and
// token registry needed to resolve operations against it.
type State struct {
	Accounts     *smt.Tree[*account.Account]
	Hasher       zkhash.Hasher
	Tokens       *token.Registry
	addressIndex map[types.Address]types.AccountID
	nextID       types.AccountID
}

// NewState returns an empty State (all accounts default, account-id
// allocation starting at 0).
func NewState(hasher zkhash.Hasher, tokens *token.Registry) *State {
	return &State{
		Accounts:     smt.New[*account.Account](account.AccountTreeDepth, hasher, account.NewDefaultAccount(hasher)),
		Hasher:       hasher,
		Tokens:       tokens,
		addressIndex: make(map[types.Address]types.AccountID),
	}
}

// Clone deep-copies the state, including the account tree's cache.
func (s *State) Clone() *State {
	idx := make(map[types.Address]types.AccountID, len(s.addressIndex))
	for k, v := range s.addressIndex {
		idx[k] = v
	}
	return &State{
		Accounts:     s.Accounts.Clone(),
		Hasher:       s.Hasher,
		Tokens:       s.Tokens,
		addressIndex: idx,
		nextID:       s.nextID,
	}
}

// AccountIDByAddress resolves an address to its account id, if any.
func (s *State) AccountIDByAddress(addr types.Address) (types.AccountID, bool) {
	id, ok := s.addressIndex[addr]
	return id, ok
}

// RootHash returns the account tree's current root.
func (s *State) RootHash() zkhash.Digest { return s.Accounts.RootHash() }

func (s *State) getAccountCopy(id types.AccountID) (*account.Account, error) {
	acc, ok := s.Accounts.Get(uint64(id))
	if !ok {
		return nil, execErr(UnknownAccount, "account not found")
	}
	return acc.Clone(), nil
}

func (s *State) putAccount(id types.AccountID, acc *account.Account) {
	s.Accounts.Insert(uint64(id), acc)
}

// createAccount allocates the next account id, inserts a default account
// owned by addr, and indexes it by address.
func (s *State) createAccount(addr types.Address) types.AccountID {
	id := s.nextID
	s.nextID++
	acc := account.NewDefaultAccount(s.Hasher)
	acc.Address = addr
	s.putAccount(id, acc)
	s.addressIndex[addr] = id
	return id
}

func (s *State) snapshot(id types.AccountID, tok types.TokenID) LeafSnapshot {
	acc, ok := s.Accounts.Get(uint64(id))
	if !ok {
		acc = account.NewDefaultAccount(s.Hasher)
	}
	bal := acc.GetBalance(tok)
	return LeafSnapshot{
		AccountID:   id,
		Token:       tok,
		Nonce:       acc.Nonce,
		PubKeyHash:  acc.PubKeyHash,
		Address:     acc.Address,
		Balance:     bal,
		AccountRoot: s.Accounts.RootHash(),
		AccountPath: s.Accounts.MerklePath(uint64(id)),
		BalancePath: acc.Balances.MerklePath(uint64(tok)),
	}
}

// debit subtracts amount from (id, tok)'s balance, optionally incrementing
// the account's nonce, assuming the caller has already verified sufficient
// balance. It never fails arithmetically by construction; errors here
// indicate the account vanished between validation and application, which
// cannot happen within a single Apply call.
func (s *State) debit(id types.AccountID, tok types.TokenID, amount *uint256.Int, incrementNonce bool) LeafOpTrace {
	before := s.snapshot(id, tok)
	acc, _ := s.getAccountCopy(id)
	acc.SetBalance(tok, new(uint256.Int).Sub(acc.GetBalance(tok), amount))
	if incrementNonce {
		acc.Nonce++
	}
	s.putAccount(id, acc)
	after := s.snapshot(id, tok)
	return LeafOpTrace{AccountID: id, Token: tok, Before: before, After: after}
}

func (s *State) credit(id types.AccountID, tok types.TokenID, amount *uint256.Int) LeafOpTrace {
	before := s.snapshot(id, tok)
	acc, _ := s.getAccountCopy(id)
	acc.SetBalance(tok, new(uint256.Int).Add(acc.GetBalance(tok), amount))
	s.putAccount(id, acc)
	after := s.snapshot(id, tok)
	return LeafOpTrace{AccountID: id, Token: tok, Before: before, After: after}
}

// creditByAddress credits addr's balance, creating the account first if it
// does not yet exist.
func (s *State) creditByAddress(addr types.Address, tok types.TokenID, amount *uint256.Int) (types.AccountID, bool, LeafOpTrace) {
	id, exists := s.AccountIDByAddress(addr)
	if !exists {
		id = s.createAccount(addr)
	}
	return id, !exists, s.credit(id, tok, amount)
}

func sufficientBalance(acc *account.Account, tok types.TokenID, amount *uint256.Int) bool {
	return acc.GetBalance(tok).Cmp(amount) >= 0
}

// Instruction is one unit of work handed to Apply: exactly one of Tx or
// Priority is set.
type Instruction struct {
	Tx        *optypes.SignedTx
	Priority  *optypes.PriorityOp
	Timestamp uint64
	// SigValid reports whether the caller already verified the tx/order
	// signature(s) (signature recovery is out of scope here per §1; the
	// state machine only enforces that the check happened).
	SigValid bool
}

// Apply executes one instruction against state, returning its public-data
// op and execution trace, or an ExecutionError from the §4.D taxonomy.
// State is left untouched when an error is returned.
func (s *State) Apply(instr Instruction) (optypes.Op, *ExecutionResult, error) {
	if instr.Priority != nil {
		return s.applyPriorityOp(instr.Priority)
	}
	return s.applySignedTx(instr.Tx, instr.Timestamp, instr.SigValid)
}

func (s *State) applyPriorityOp(op *optypes.PriorityOp) (optypes.Op, *ExecutionResult, error) {
	switch op.Kind {
	case optypes.PriorityDeposit:
		return s.applyDeposit(op.Deposit)
	case optypes.PriorityFullExit:
		return s.applyFullExit(op.FullExit)
	default:
		return nil, nil, execErr(UnknownAccount, "unknown priority op kind")
	}
}

func (s *State) applySignedTx(tx *optypes.SignedTx, timestamp uint64, sigValid bool) (optypes.Op, *ExecutionResult, error) {
	if !sigValid {
		return nil, nil, execErr(InvalidSignature, "zkSync signature did not verify")
	}
	if !tx.TimeRange.Contains(timestamp) {
		return nil, nil, execErr(OutOfTimeRange, "")
	}
	switch tx.Kind {
	case optypes.TxTransfer:
		return s.applyTransfer(tx)
	case optypes.TxWithdraw:
		return s.applyWithdraw(tx)
	case optypes.TxChangePubKey:
		return s.applyChangePubKey(tx)
	case optypes.TxForcedExit:
		return s.applyForcedExit(tx)
	case optypes.TxSwap:
		return s.applySwap(tx)
	case optypes.TxMintNFT:
		return s.applyMintNFT(tx)
	case optypes.TxWithdrawNFT:
		return s.applyWithdrawNFT(tx)
	default:
		return nil, nil, execErr(ForbiddenForAccount, "unknown tx kind")
	}
}

// --- Deposit / FullExit (priority) --------------------------------------

func (s *State) applyDeposit(d *optypes.DepositIntent) (optypes.Op, *ExecutionResult, error) {
	if !s.Tokens.Exists(d.Token) {
		return nil, nil, execErr(UnknownToken, "")
	}
	id, created, step := s.creditByAddress(d.To, d.Token, d.Amount)
	op := optypes.DepositOp{AccountID: id, Token: d.Token, Amount: d.Amount, To: d.To}
	res := &ExecutionResult{Steps: []LeafOpTrace{step}}
	if created {
		res.NewAccountIDs = []types.AccountID{id}
	}
	return op, res, nil
}

func (s *State) applyFullExit(f *optypes.FullExitIntent) (optypes.Op, *ExecutionResult, error) {
	acc, ok := s.Accounts.Get(uint64(f.AccountID))
	if !ok || acc.Address != f.Owner {
		// Per §9/real-world behavior: an unresolvable FullExit still
		// consumes its chunk slot but moves nothing, rather than aborting
		// priority-op processing.
		op := optypes.FullExitOp{AccountID: f.AccountID, Owner: f.Owner, Token: f.Token, Amount: uint256.NewInt(0)}
		return op, &ExecutionResult{}, nil
	}
	full := acc.GetBalance(f.Token)
	step := s.debit(f.AccountID, f.Token, full, false)
	op := optypes.FullExitOp{AccountID: f.AccountID, Owner: f.Owner, Token: f.Token, Amount: full}
	return op, &ExecutionResult{Steps: []LeafOpTrace{step}}, nil
}

// --- Transfer / TransferToNew --------------------------------------------

func (s *State) applyTransfer(tx *optypes.SignedTx) (optypes.Op, *ExecutionResult, error) {
	f := tx.Transfer
	acc, err := s.getAccountCopy(tx.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if acc.Nonce != tx.Nonce {
		return nil, nil, execErr(NonceMismatch, "")
	}
	if !s.Tokens.Exists(f.Token) || !s.Tokens.Exists(tx.FeeToken) {
		return nil, nil, execErr(UnknownToken, "")
	}
	if !optypes.IsAmountPackable(f.Amount) {
		return nil, nil, execErr(AmountNotPackable, "")
	}
	if !optypes.IsFeePackable(tx.Fee) {
		return nil, nil, execErr(FeeNotPackable, "")
	}
	if f.Token == tx.FeeToken {
		total := new(uint256.Int).Add(f.Amount, tx.Fee)
		if !sufficientBalance(acc, f.Token, total) {
			return nil, nil, execErr(InsufficientBalance, "")
		}
	} else {
		if !sufficientBalance(acc, f.Token, f.Amount) || !sufficientBalance(acc, tx.FeeToken, tx.Fee) {
			return nil, nil, execErr(InsufficientBalance, "")
		}
	}

	var steps []LeafOpTrace
	if f.Token == tx.FeeToken {
		total := new(uint256.Int).Add(f.Amount, tx.Fee)
		steps = append(steps, s.debit(tx.AccountID, f.Token, total, true))
	} else {
		steps = append(steps, s.debit(tx.AccountID, f.Token, f.Amount, true))
		steps = append(steps, s.debit(tx.AccountID, tx.FeeToken, tx.Fee, false))
	}
	toID, created, creditStep := s.creditByAddress(f.ToAddr, f.Token, f.Amount)
	steps = append(steps, creditStep)

	packedAmount, _ := optypes.PackAmount(f.Amount)
	packedFee, _ := optypes.PackFee(tx.Fee)
	var op optypes.Op
	res := &ExecutionResult{Steps: steps, Fee: tx.Fee, FeeToken: tx.FeeToken, HasFee: true}
	if created {
		op = optypes.TransferToNewOp{From: tx.AccountID, Token: f.Token, PackedAmount: packedAmount, To: f.ToAddr, PackedFee: packedFee, NewAccountID: toID}
		res.NewAccountIDs = []types.AccountID{toID}
	} else {
		op = optypes.TransferOp{From: tx.AccountID, To: toID, Token: f.Token, PackedAmount: packedAmount, PackedFee: packedFee}
	}
	return op, res, nil
}

// --- Withdraw -------------------------------------------------------------

func (s *State) applyWithdraw(tx *optypes.SignedTx) (optypes.Op, *ExecutionResult, error) {
	f := tx.Withdraw
	acc, err := s.getAccountCopy(tx.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if acc.Nonce != tx.Nonce {
		return nil, nil, execErr(NonceMismatch, "")
	}
	if !s.Tokens.Exists(f.Token) || !s.Tokens.Exists(tx.FeeToken) {
		return nil, nil, execErr(UnknownToken, "")
	}
	if !optypes.IsFeePackable(tx.Fee) {
		return nil, nil, execErr(FeeNotPackable, "")
	}
	if f.Token == tx.FeeToken {
		total := new(uint256.Int).Add(f.Amount, tx.Fee)
		if !sufficientBalance(acc, f.Token, total) {
			return nil, nil, execErr(InsufficientBalance, "")
		}
	} else if !sufficientBalance(acc, f.Token, f.Amount) || !sufficientBalance(acc, tx.FeeToken, tx.Fee) {
		return nil, nil, execErr(InsufficientBalance, "")
	}

	var steps []LeafOpTrace
	if f.Token == tx.FeeToken {
		total := new(uint256.Int).Add(f.Amount, tx.Fee)
		steps = append(steps, s.debit(tx.AccountID, f.Token, total, true))
	} else {
		steps = append(steps, s.debit(tx.AccountID, f.Token, f.Amount, true))
		steps = append(steps, s.debit(tx.AccountID, tx.FeeToken, tx.Fee, false))
	}
	packedFee, _ := optypes.PackFee(tx.Fee)
	op := optypes.WithdrawOp{From: tx.AccountID, Token: f.Token, Amount: f.Amount, PackedFee: packedFee, To: f.To}
	return op, &ExecutionResult{Steps: steps, Fee: tx.Fee, FeeToken: tx.FeeToken, HasFee: true}, nil
}

// --- ForcedExit ------------------------------------------------------------

func (s *State) applyForcedExit(tx *optypes.SignedTx) (optypes.Op, *ExecutionResult, error) {
	f := tx.ForcedExit
	initiator, err := s.getAccountCopy(tx.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if initiator.Nonce != tx.Nonce {
		return nil, nil, execErr(NonceMismatch, "")
	}
	target, err := s.getAccountCopy(f.Target)
	if err != nil {
		return nil, nil, err
	}
	if !s.Tokens.Exists(f.Token) || !s.Tokens.Exists(tx.FeeToken) {
		return nil, nil, execErr(UnknownToken, "")
	}
	if !optypes.IsFeePackable(tx.Fee) {
		return nil, nil, execErr(FeeNotPackable, "")
	}
	if !sufficientBalance(initiator, tx.FeeToken, tx.Fee) {
		return nil, nil, execErr(InsufficientBalance, "")
	}

	full := target.GetBalance(f.Token)
	debitStep := s.debit(f.Target, f.Token, full, false)
	feeStep := s.debit(tx.AccountID, tx.FeeToken, tx.Fee, true)

	packedFee, _ := optypes.PackFee(tx.Fee)
	op := optypes.ForcedExitOp{Initiator: tx.AccountID, Target: f.Target, Token: f.Token, Amount: full, PackedFee: packedFee, TargetAddress: f.TargetTo}
	return op, &ExecutionResult{Steps: []LeafOpTrace{debitStep, feeStep}, Fee: tx.Fee, FeeToken: tx.FeeToken, HasFee: true}, nil
}

// --- ChangePubKey --------------------------------------------------------

func (s *State) applyChangePubKey(tx *optypes.SignedTx) (optypes.Op, *ExecutionResult, error) {
	f := tx.ChangePubKey
	acc, err := s.getAccountCopy(tx.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if acc.Nonce != tx.Nonce {
		return nil, nil, execErr(NonceMismatch, "")
	}
	if !tx.EthSignature.Present() && !f.ChainAuth {
		return nil, nil, execErr(ForbiddenForAccount, "ChangePubKey requires an Ethereum signature or on-chain authorization")
	}
	if !s.Tokens.Exists(tx.FeeToken) {
		return nil, nil, execErr(UnknownToken, "")
	}
	if !optypes.IsFeePackable(tx.Fee) {
		return nil, nil, execErr(FeeNotPackable, "")
	}
	if !sufficientBalance(acc, tx.FeeToken, tx.Fee) {
		return nil, nil, execErr(InsufficientBalance, "")
	}

	before := s.snapshot(tx.AccountID, tx.FeeToken)
	mutable, _ := s.getAccountCopy(tx.AccountID)
	mutable.SetBalance(tx.FeeToken, new(uint256.Int).Sub(mutable.GetBalance(tx.FeeToken), tx.Fee))
	mutable.PubKeyHash = f.NewPubKeyHash
	mutable.Nonce++
	s.putAccount(tx.AccountID, mutable)
	after := s.snapshot(tx.AccountID, tx.FeeToken)
	step := LeafOpTrace{AccountID: tx.AccountID, Token: tx.FeeToken, Before: before, After: after}

	packedFee, _ := optypes.PackFee(tx.Fee)
	op := optypes.ChangePubKeyOp{AccountID: tx.AccountID, NewPubKey: f.NewPubKeyHash, Nonce: tx.Nonce, Token: tx.FeeToken, PackedFee: packedFee}
	return op, &ExecutionResult{Steps: []LeafOpTrace{step}, Fee: tx.Fee, FeeToken: tx.FeeToken, HasFee: true}, nil
}

// --- Swap ------------------------------------------------------------

func (s *State) applySwap(tx *optypes.SignedTx) (optypes.Op, *ExecutionResult, error) {
	f := tx.Swap
	o0, o1 := f.Order0, f.Order1
	if o0.TokenSell != o1.TokenBuy || o1.TokenSell != o0.TokenBuy {
		return nil, nil, execErr(OrderIncompatible, "order token pairs do not match")
	}
	// Each order's accepted ratio must be respected by the settled amounts:
	// amount_sold * ratio_buy <= amount_bought * ratio_sell.
	lhs0 := new(uint256.Int).Mul(f.Amount0, o0.RatioBuy)
	rhs0 := new(uint256.Int).Mul(f.Amount1, o0.RatioSell)
	if lhs0.Cmp(rhs0) > 0 {
		return nil, nil, execErr(OrderIncompatible, "order0 price not respected")
	}
	lhs1 := new(uint256.Int).Mul(f.Amount1, o1.RatioBuy)
	rhs1 := new(uint256.Int).Mul(f.Amount0, o1.RatioSell)
	if lhs1.Cmp(rhs1) > 0 {
		return nil, nil, execErr(OrderIncompatible, "order1 price not respected")
	}

	acc0, err := s.getAccountCopy(o0.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if acc0.Nonce != o0.Nonce {
		return nil, nil, execErr(NonceMismatch, "")
	}
	acc1, err := s.getAccountCopy(o1.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if acc1.Nonce != o1.Nonce {
		return nil, nil, execErr(NonceMismatch, "")
	}
	submitter, err := s.getAccountCopy(tx.AccountID)
	if err != nil {
		return nil, nil, err
	}
	// The order debits below bump their accounts' nonces before the fee
	// debit, so a submitter that is also an order party signs the next one.
	expectedNonce := submitter.Nonce
	if tx.AccountID == o0.AccountID {
		expectedNonce++
	}
	if tx.AccountID == o1.AccountID {
		expectedNonce++
	}
	if expectedNonce != tx.Nonce {
		return nil, nil, execErr(NonceMismatch, "")
	}
	if !optypes.IsAmountPackable(f.Amount0) || !optypes.IsAmountPackable(f.Amount1) {
		return nil, nil, execErr(AmountNotPackable, "")
	}
	if !optypes.IsFeePackable(tx.Fee) {
		return nil, nil, execErr(FeeNotPackable, "")
	}
	if !sufficientBalance(acc0, o0.TokenSell, f.Amount0) || !sufficientBalance(acc1, o1.TokenSell, f.Amount1) {
		return nil, nil, execErr(InsufficientBalance, "")
	}
	if !sufficientBalance(submitter, tx.FeeToken, tx.Fee) {
		return nil, nil, execErr(InsufficientBalance, "")
	}

	var steps []LeafOpTrace
	steps = append(steps, s.debit(o0.AccountID, o0.TokenSell, f.Amount0, true))
	steps = append(steps, s.debit(o1.AccountID, o1.TokenSell, f.Amount1, true))
	steps = append(steps, s.credit(o1.AccountID, o0.TokenSell, f.Amount0))
	steps = append(steps, s.credit(o0.AccountID, o1.TokenSell, f.Amount1))
	steps = append(steps, s.debit(tx.AccountID, tx.FeeToken, tx.Fee, true))

	packedFee, _ := optypes.PackFee(tx.Fee)
	packedAmount0, _ := optypes.PackAmount(f.Amount0)
	packedAmount1, _ := optypes.PackAmount(f.Amount1)
	op := optypes.SwapOp{
		Submitter: tx.AccountID,
		Order0:    optypes.SwapOrder{AccountID: o0.AccountID, Token: o0.TokenSell, PackedAmount: packedAmount0},
		Order1:    optypes.SwapOrder{AccountID: o1.AccountID, Token: o1.TokenSell, PackedAmount: packedAmount1},
		PackedFee: packedFee,
	}
	return op, &ExecutionResult{Steps: steps, Fee: tx.Fee, FeeToken: tx.FeeToken, HasFee: true}, nil
}

// --- NFT -------------------------------------------------------------

func (s *State) applyMintNFT(tx *optypes.SignedTx) (optypes.Op, *ExecutionResult, error) {
	f := tx.MintNFT
	creator, err := s.getAccountCopy(tx.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if creator.Nonce != tx.Nonce {
		return nil, nil, execErr(NonceMismatch, "")
	}
	if !s.Tokens.Exists(f.FeeToken) {
		return nil, nil, execErr(UnknownToken, "")
	}
	if !optypes.IsFeePackable(tx.Fee) {
		return nil, nil, execErr(FeeNotPackable, "")
	}
	if !sufficientBalance(creator, f.FeeToken, tx.Fee) {
		return nil, nil, execErr(InsufficientBalance, "")
	}
	if _, err := s.getAccountCopy(f.Recipient); err != nil {
		return nil, nil, err
	}

	serial := uint32(creator.GetBalance(mintSerialToken).Uint64())

	before := s.snapshot(tx.AccountID, f.FeeToken)
	mutable, _ := s.getAccountCopy(tx.AccountID)
	mutable.SetBalance(f.FeeToken, new(uint256.Int).Sub(mutable.GetBalance(f.FeeToken), tx.Fee))
	mutable.SetBalance(mintSerialToken, uint256.NewInt(uint64(serial+1)))
	mutable.Nonce++
	s.putAccount(tx.AccountID, mutable)
	after := s.snapshot(tx.AccountID, f.FeeToken)
	feeStep := LeafOpTrace{AccountID: tx.AccountID, Token: f.FeeToken, Before: before, After: after}

	nftID := token.MinNFTTokenID + types.TokenID(uint32(tx.AccountID))*1_000_000 + types.TokenID(serial)
	_ = s.Tokens.RegisterNFT(nftID, token.NFTMetadata{
		CreatorID:   uint32(tx.AccountID),
		SerialID:    serial,
		ContentHash: f.ContentHash,
	})
	creditStep := s.credit(f.Recipient, nftID, uint256.NewInt(1))

	packedFee, _ := optypes.PackFee(tx.Fee)
	op := optypes.MintNFTOp{Creator: tx.AccountID, Recipient: f.Recipient, ContentHash: f.ContentHash, FeeToken: f.FeeToken, PackedFee: packedFee}
	return op, &ExecutionResult{Steps: []LeafOpTrace{feeStep, creditStep}, Fee: tx.Fee, FeeToken: f.FeeToken, HasFee: true}, nil
}

func (s *State) applyWithdrawNFT(tx *optypes.SignedTx) (optypes.Op, *ExecutionResult, error) {
	f := tx.WithdrawNFT
	acc, err := s.getAccountCopy(tx.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if acc.Nonce != tx.Nonce {
		return nil, nil, execErr(NonceMismatch, "")
	}
	tok, err := s.Tokens.Get(f.NFTTokenID)
	if err != nil || !tok.IsNFT {
		return nil, nil, execErr(UnknownToken, "")
	}
	if !sufficientBalance(acc, f.NFTTokenID, uint256.NewInt(1)) {
		return nil, nil, execErr(InsufficientBalance, "account does not hold this NFT")
	}
	if !s.Tokens.Exists(f.FeeToken) {
		return nil, nil, execErr(UnknownToken, "")
	}
	if !optypes.IsFeePackable(tx.Fee) {
		return nil, nil, execErr(FeeNotPackable, "")
	}
	if !sufficientBalance(acc, f.FeeToken, tx.Fee) {
		return nil, nil, execErr(InsufficientBalance, "")
	}

	burnStep := s.debit(tx.AccountID, f.NFTTokenID, uint256.NewInt(1), false)
	feeStep := s.debit(tx.AccountID, f.FeeToken, tx.Fee, true)

	packedFee, _ := optypes.PackFee(tx.Fee)
	var creatorID types.AccountID
	var contentHash types.Hash
	if tok.NFT != nil {
		creatorID = types.AccountID(tok.NFT.CreatorID)
		contentHash = tok.NFT.ContentHash
	}
	op := optypes.WithdrawNFTOp{
		Initiator:    tx.AccountID,
		Creator:      creatorID,
		ReceiverAddr: f.To,
		NFTTokenID:   f.NFTTokenID,
		ContentHash:  contentHash,
		FeeToken:     f.FeeToken,
		PackedFee:    packedFee,
	}
	return op, &ExecutionResult{Steps: []LeafOpTrace{burnStep, feeStep}, Fee: tx.Fee, FeeToken: f.FeeToken, HasFee: true}, nil
}

// --- Fee collection --------------------------------------------------

// CollectFees applies the block's final synthetic leaf operation (§4.H):
// crediting every collected (token, amount) pair to the fee account.
func (s *State) CollectFees(feeAccount types.AccountID, totals map[types.TokenID]*uint256.Int) []LeafOpTrace {
	steps := make([]LeafOpTrace, 0, len(totals))
	for tok, amount := range totals {
		if amount.IsZero() {
			continue
		}
		steps = append(steps, s.credit(feeAccount, tok, amount))
	}
	return steps
}
