// Package optypes defines the rollup operation catalog (§4.C): the fixed
// set of op kinds, their chunk widths, the packed amount/fee float
// encoding, and the big-endian public-data bit layout each op produces.
package optypes

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// Packed amount/fee bit widths, matching the widths a zkSync-Lite-style
// circuit expects: amounts get more mantissa bits (they must represent up
// to ~2^35 * 10^31) while fees, always small relative to amounts, get a
// narrower mantissa.
const (
	AmountExponentBitWidth = 5
	AmountMantissaBitWidth = 35
	FeeExponentBitWidth    = 5
	FeeMantissaBitWidth    = 11
)

// ErrNotPackable is returned by PackAmount/PackFee when a value cannot be
// represented exactly as mantissa*10^exponent within the configured widths.
var ErrNotPackable = errors.New("optypes: value is not packable")

var ten = big.NewInt(10)

// packFloat encodes value as mantissa*10^exponent using the fewest possible
// trailing decimal digits folded into the exponent, then bit-packs
// exponent (exponentBits) followed by mantissa (mantissaBits), big-endian,
// into a byte slice of ceil((exponentBits+mantissaBits)/8) bytes.
func packFloat(value *uint256.Int, mantissaBits, exponentBits uint) ([]byte, error) {
	if value == nil {
		return nil, ErrNotPackable
	}
	maxExponent := uint64(1)<<exponentBits - 1
	maxMantissa := new(big.Int).Lsh(big.NewInt(1), mantissaBits)

	mantissa := value.ToBig()
	exponent := uint64(0)
	mod := new(big.Int)
	div := new(big.Int)
	for exponent < maxExponent {
		div.DivMod(mantissa, ten, mod)
		if mod.Sign() != 0 {
			break
		}
		mantissa = div
		exponent++
		div = new(big.Int)
	}
	if mantissa.Cmp(maxMantissa) >= 0 {
		return nil, ErrNotPackable
	}

	totalBits := mantissaBits + exponentBits
	totalBytes := int((totalBits + 7) / 8)
	packed := new(big.Int).Lsh(big.NewInt(int64(exponent)), mantissaBits)
	packed.Or(packed, mantissa)

	out := make([]byte, totalBytes)
	b := packed.Bytes()
	copy(out[totalBytes-len(b):], b)
	return out, nil
}

// unpackFloat inverts packFloat, reconstructing mantissa*10^exponent.
func unpackFloat(data []byte, mantissaBits, exponentBits uint) (*uint256.Int, error) {
	totalBits := mantissaBits + exponentBits
	totalBytes := int((totalBits + 7) / 8)
	if len(data) != totalBytes {
		return nil, ErrNotPackable
	}
	packed := new(big.Int).SetBytes(data)
	mantissaMask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), mantissaBits), big.NewInt(1))
	mantissa := new(big.Int).And(packed, mantissaMask)
	exponent := new(big.Int).Rsh(packed, mantissaBits).Uint64()

	value := new(big.Int).Set(mantissa)
	pow := new(big.Int).Exp(ten, new(big.Int).SetUint64(exponent), nil)
	value.Mul(value, pow)

	u, overflow := uint256.FromBig(value)
	if overflow {
		return nil, ErrNotPackable
	}
	return u, nil
}

// PackAmount encodes an amount using the amount mantissa/exponent widths.
func PackAmount(value *uint256.Int) ([]byte, error) {
	return packFloat(value, AmountMantissaBitWidth, AmountExponentBitWidth)
}

// UnpackAmount inverts PackAmount.
func UnpackAmount(data []byte) (*uint256.Int, error) {
	return unpackFloat(data, AmountMantissaBitWidth, AmountExponentBitWidth)
}

// PackFee encodes a fee using the fee mantissa/exponent widths.
func PackFee(value *uint256.Int) ([]byte, error) {
	return packFloat(value, FeeMantissaBitWidth, FeeExponentBitWidth)
}

// UnpackFee inverts PackFee.
func UnpackFee(data []byte) (*uint256.Int, error) {
	return unpackFloat(data, FeeMantissaBitWidth, FeeExponentBitWidth)
}

// IsAmountPackable reports whether value can be round-tripped through
// PackAmount/UnpackAmount without loss.
func IsAmountPackable(value *uint256.Int) bool {
	_, err := PackAmount(value)
	return err == nil
}

// IsFeePackable reports whether value can be round-tripped through
// PackFee/UnpackFee without loss.
func IsFeePackable(value *uint256.Int) bool {
	_, err := PackFee(value)
	return err == nil
}
