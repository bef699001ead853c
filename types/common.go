// Package types defines the core zknode data structures used throughout the
// op catalog: hashes, addresses, and account/token identifiers (the packed
// amount/fee encoding lives in optypes). Modeled on the teacher's core/types/common.go
// conventions (fixed-width arrays with Bytes/Hex/IsZero helpers).
package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// decodeHexText strips an optional "0x" prefix and decodes the remainder.
func decodeHexText(text []byte) ([]byte, error) {
	s := strings.TrimPrefix(string(text), "0x")
	return hex.DecodeString(s)
}

const (
	// HashLength is the width in bytes of a tree/tx hash.
	HashLength = 32
	// AddressLength is the width in bytes of an Ethereum address.
	AddressLength = 20
	// PubKeyHashLength is the width in bytes of a zkSync pubkey-hash.
	PubKeyHashLength = 20
)

// Hash is a 32-byte digest (tx hash, batch id, state root, ...).
type Hash [HashLength]byte

// Address is a 20-byte Ethereum address.
type Address [AddressLength]byte

// PubKeyHash is a 20-byte hash of a zkSync signing public key. The all-zero
// value means the account has never had a key set, per §3.
type PubKeyHash [PubKeyHashLength]byte

// AccountID is the dense integer key of an account leaf in the account SMT.
type AccountID uint32

// TokenID is the dense integer key of a token; 0 is the chain's native coin.
type TokenID uint32

// SerialID is the strictly increasing identifier of a priority op (§3).
type SerialID uint64

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) IsZero() bool   { return h == Hash{} }
func (h Hash) Hex() string    { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash) String() string { return h.Hex() }

// MarshalText renders Hash as its hex string, so it encodes to JSON as a
// string rather than an array of byte values.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

// UnmarshalText parses a hex string (with or without the 0x prefix) into h.
func (h *Hash) UnmarshalText(text []byte) error {
	b, err := decodeHexText(text)
	if err != nil {
		return err
	}
	*h = BytesToHash(b)
	return nil
}

// BytesToHash left-pads (or truncates from the left) b into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func (a Address) Bytes() []byte  { return a[:] }
func (a Address) IsZero() bool   { return a == Address{} }
func (a Address) Hex() string    { return "0x" + hex.EncodeToString(a[:]) }
func (a Address) String() string { return a.Hex() }

// MarshalText renders Address as its hex string.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

// UnmarshalText parses a hex string (with or without the 0x prefix) into a.
func (a *Address) UnmarshalText(text []byte) error {
	b, err := decodeHexText(text)
	if err != nil {
		return err
	}
	*a = BytesToAddress(b)
	return nil
}

// BytesToAddress left-pads (or truncates from the left) b into an Address.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

func (p PubKeyHash) Bytes() []byte { return p[:] }
func (p PubKeyHash) IsZero() bool  { return p == PubKeyHash{} }
func (p PubKeyHash) Hex() string   { return "sync:" + hex.EncodeToString(p[:]) }

// MarshalText renders PubKeyHash in its "sync:"-prefixed hex form.
func (p PubKeyHash) MarshalText() ([]byte, error) { return []byte(p.Hex()), nil }

// UnmarshalText parses a "sync:"-prefixed (or bare) hex string into p.
func (p *PubKeyHash) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(string(text), "sync:")
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return err
	}
	*p = BytesToPubKeyHash(b)
	return nil
}

// BytesToPubKeyHash left-pads (or truncates from the left) b into a PubKeyHash.
func BytesToPubKeyHash(b []byte) PubKeyHash {
	var p PubKeyHash
	if len(b) > PubKeyHashLength {
		b = b[len(b)-PubKeyHashLength:]
	}
	copy(p[PubKeyHashLength-len(b):], b)
	return p
}

func (id AccountID) String() string { return fmt.Sprintf("%d", uint32(id)) }
func (id TokenID) String() string   { return fmt.Sprintf("%d", uint32(id)) }
