// Package token implements the token data model (§3): fungible tokens
// identified by a small integer id bijective with an L1 address, and NFTs
// minted off-chain whose ids live in a disjoint range.
package token

import (
	"errors"
	"sync"

	"github.com/matter-labs/zksync-sub003/types"
)

// MinNFTTokenID is the first id reserved for NFTs; fungible token ids must
// stay below this, enforcing the "NFT ids are disjoint from fungible ids"
// invariant (§3).
const MinNFTTokenID types.TokenID = 1 << 20

// NativeTokenID is the chain's native coin (§3: "id 0 = the chain's native
// coin").
const NativeTokenID types.TokenID = 0

// ErrUnknownToken is returned when a token-id has no registered entry.
var ErrUnknownToken = errors.New("token: unknown token id")

// ErrDuplicateToken is returned when registering an id or address already in use.
var ErrDuplicateToken = errors.New("token: id or address already registered")

// NFTMetadata is present on tokens with IsNFT set.
type NFTMetadata struct {
	CreatorID   uint32
	SerialID    uint32
	ContentHash types.Hash
}

// Token describes a fungible or non-fungible token (§3).
type Token struct {
	ID         types.TokenID
	Symbol     string
	Decimals   uint8
	L1Address  types.Address
	IsNFT      bool
	NFT        *NFTMetadata
}

// Registry is the node's view of all known tokens, keyed both by id and by
// L1 address for fungible tokens.
type Registry struct {
	mu        sync.RWMutex
	byID      map[types.TokenID]Token
	byAddress map[types.Address]types.TokenID
}

// NewRegistry returns a Registry seeded with the native coin at id 0.
func NewRegistry() *Registry {
	r := &Registry{
		byID:      make(map[types.TokenID]Token),
		byAddress: make(map[types.Address]types.TokenID),
	}
	r.byID[NativeTokenID] = Token{ID: NativeTokenID, Symbol: "ETH", Decimals: 18}
	return r
}

// RegisterFungible adds a fungible token, enforcing the id<->address
// bijection invariant.
func (r *Registry) RegisterFungible(id types.TokenID, symbol string, decimals uint8, l1Address types.Address) error {
	if id >= MinNFTTokenID {
		return errors.New("token: fungible id must be below MinNFTTokenID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; ok {
		return ErrDuplicateToken
	}
	if _, ok := r.byAddress[l1Address]; ok {
		return ErrDuplicateToken
	}
	tok := Token{ID: id, Symbol: symbol, Decimals: decimals, L1Address: l1Address}
	r.byID[id] = tok
	r.byAddress[l1Address] = id
	return nil
}

// RegisterNFT adds an NFT token at or above MinNFTTokenID.
func (r *Registry) RegisterNFT(id types.TokenID, meta NFTMetadata) error {
	if id < MinNFTTokenID {
		return errors.New("token: NFT id must be at or above MinNFTTokenID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; ok {
		return ErrDuplicateToken
	}
	r.byID[id] = Token{ID: id, Symbol: "NFT", Decimals: 0, IsNFT: true, NFT: &meta}
	return nil
}

// Get returns the token registered under id.
func (r *Registry) Get(id types.TokenID) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return Token{}, ErrUnknownToken
	}
	return t, nil
}

// ByAddress returns the fungible token registered at l1Address.
func (r *Registry) ByAddress(l1Address types.Address) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAddress[l1Address]
	if !ok {
		return Token{}, ErrUnknownToken
	}
	return r.byID[id], nil
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id types.TokenID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// KnownIDs returns every registered token id, in no particular order.
// Used by read-only surfaces (e.g. account balance listings) that need to
// enumerate which token ids are worth probing.
func (r *Registry) KnownIDs() []types.TokenID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]types.TokenID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}
