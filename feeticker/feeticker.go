// Package feeticker implements the fee quoting interface (§4.J): given an
// operation kind and a fee token, it quotes the required fee both in token
// units (rounded up to a value that survives the packed-fee encoding) and
// in USD, tracking a moving window of reported token prices the way the
// teacher's txpool.PriceOracle tracks a moving window of block base fees.
package feeticker

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/matter-labs/zksync-sub003/optypes"
	"github.com/matter-labs/zksync-sub003/types"
)

// ErrUnknownTokenPrice is returned when a quote is requested for a token
// with no reported price in the window.
var ErrUnknownTokenPrice = errors.New("feeticker: no price reported for token")

// ErrQuoteNotPackable is returned when even after rounding up, no packable
// fee could represent the quote (should not happen for any sane price).
var ErrQuoteNotPackable = errors.New("feeticker: quote could not be packed")

// USDScale is the fixed-point scale reported prices and quotes use: a price
// of 1_000_000 means $1.00.
const USDScale = 1_000_000

// MinMarkupUSD is the flat-dollar half of the admission-time fee-scaling
// floor (§4.C): a provided fee must cover the quoted cost scaled up by
// whichever is larger, a 5% markup or a flat $0.01.
const MinMarkupUSD = USDScale / 100

// DefaultWindowSize mirrors the teacher's PriceOracleDefaultWindow.
const DefaultWindowSize = 50

// Config bounds the ticker's price history and the approximate on-chain gas
// cost of each operation kind, used to size a USD-denominated quote before
// converting into the requested fee token.
type Config struct {
	WindowSize int
	// GasCostUSD is the approximate USD cost of settling one operation of
	// the given kind on L1 (proof verification amortized per-op), scaled by
	// USDScale. Operator-tunable; not derived from any live gas oracle
	// since this node has no L1 client (out of core scope per §1).
	GasCostUSD map[optypes.TxKind]uint64
}

func DefaultConfig() Config {
	return Config{
		WindowSize: DefaultWindowSize,
		GasCostUSD: map[optypes.TxKind]uint64{
			optypes.TxTransfer:     50_000,  // $0.05
			optypes.TxWithdraw:     200_000, // $0.20
			optypes.TxChangePubKey: 150_000,
			optypes.TxForcedExit:   200_000,
			optypes.TxSwap:         300_000,
			optypes.TxMintNFT:      150_000,
			optypes.TxWithdrawNFT:  200_000,
		},
	}
}

// priceWindow is a circular buffer of recently reported prices for one
// token, mirroring the teacher's BlockFeeRecord ring buffer.
type priceWindow struct {
	size   int
	prices []uint64
	head   int
	count  int
}

func newPriceWindow(size int) *priceWindow {
	return &priceWindow{size: size, prices: make([]uint64, size)}
}

func (w *priceWindow) add(price uint64) {
	w.prices[w.head] = price
	w.head = (w.head + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

func (w *priceWindow) median() (uint64, bool) {
	if w.count == 0 {
		return 0, false
	}
	vals := make([]uint64, w.count)
	for i := 0; i < w.count; i++ {
		idx := (w.head - w.count + i + w.size) % w.size
		vals[i] = w.prices[idx]
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	return vals[len(vals)/2], true
}

func (w *priceWindow) latest() (uint64, bool) {
	if w.count == 0 {
		return 0, false
	}
	idx := (w.head - 1 + w.size) % w.size
	return w.prices[idx], true
}

// Quote is the result of quoting an operation's required fee.
type Quote struct {
	TokenID  types.TokenID
	Amount   *uint256.Int // fee in token units, packable via optypes.PackFee
	USDValue uint64       // the quote's USD value, scaled by USDScale
}

// Ticker is the fee-quoting service.
type Ticker struct {
	mu     sync.RWMutex
	cfg    Config
	tokens map[types.TokenID]*tokenInfo
}

type tokenInfo struct {
	window   *priceWindow
	decimals uint8
}

// New constructs a Ticker.
func New(cfg Config) *Ticker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.GasCostUSD == nil {
		cfg.GasCostUSD = DefaultConfig().GasCostUSD
	}
	return &Ticker{cfg: cfg, tokens: make(map[types.TokenID]*tokenInfo)}
}

// ReportPrice records a new observed USD price (scaled by USDScale) for
// token, which has the given number of decimals.
func (t *Ticker) ReportPrice(token types.TokenID, usdPrice uint64, decimals uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.tokens[token]
	if !ok {
		info = &tokenInfo{window: newPriceWindow(t.cfg.WindowSize), decimals: decimals}
		t.tokens[token] = info
	}
	info.window.add(usdPrice)
}

// MedianPrice returns the median reported USD price (scaled by USDScale)
// across the tracked window for token.
func (t *Ticker) MedianPrice(token types.TokenID) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.tokens[token]
	if !ok {
		return 0, false
	}
	return info.window.median()
}

// gasCostUSD resolves the configured settlement cost for kind, falling back
// to Transfer's cost for kinds the operator hasn't priced explicitly.
func (t *Ticker) gasCostUSD(kind optypes.TxKind) uint64 {
	if cost, ok := t.cfg.GasCostUSD[kind]; ok {
		return cost
	}
	return t.cfg.GasCostUSD[optypes.TxTransfer]
}

// tokenAmountForUSD converts a USDScale-scaled USD cost into token units for
// token, using its median reported price and decimals, always rounding up so
// a quote never under-collects.
func (t *Ticker) tokenAmountForUSD(token types.TokenID, usdCost uint64) (*uint256.Int, error) {
	t.mu.RLock()
	info, ok := t.tokens[token]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownTokenPrice
	}
	price, ok := info.window.median()
	if !ok {
		return nil, ErrUnknownTokenPrice
	}

	// tokenAmount = usdCost / price * 10^decimals, in USDScale-normalized
	// fixed point: amount = usdCost * 10^decimals * USDScale / (price * USDScale)
	// price and usdCost are both already USDScale-scaled, so they cancel.
	numerator := new(big.Int).Mul(big.NewInt(int64(usdCost)), pow10(int(info.decimals)))
	amount := new(big.Int).Div(numerator, big.NewInt(int64(price)))
	amount.Add(amount, big.NewInt(1)) // round up: never under-quote

	u, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrQuoteNotPackable
	}
	return u, nil
}

// Quote computes the required fee for an operation of kind kind, paid in
// feeToken, using the token's median reported price. The returned amount is
// rounded up to the nearest value representable by optypes.PackFee so the
// quote always survives the packed-fee round trip (§4.C).
func (t *Ticker) Quote(kind optypes.TxKind, feeToken types.TokenID) (*Quote, error) {
	gasCostUSD := t.gasCostUSD(kind)
	amount, err := t.tokenAmountForUSD(feeToken, gasCostUSD)
	if err != nil {
		return nil, err
	}
	packable, err := roundUpToPackableFee(amount)
	if err != nil {
		return nil, err
	}
	return &Quote{TokenID: feeToken, Amount: packable, USDValue: gasCostUSD}, nil
}

// RequiredFeeInToken returns the minimum provided fee (in feeToken units) an
// admission-time single tx of kind kind must carry: the quoted cost scaled
// up by whichever floor is larger, a 5% markup or a flat MinMarkupUSD (§4.C).
func (t *Ticker) RequiredFeeInToken(kind optypes.TxKind, feeToken types.TokenID) (*uint256.Int, error) {
	quote, err := t.Quote(kind, feeToken)
	if err != nil {
		return nil, err
	}
	byPercent := new(uint256.Int).Add(quote.Amount, ceilPercent(quote.Amount, 5))
	flatMarkup, err := t.tokenAmountForUSD(feeToken, MinMarkupUSD)
	if err != nil {
		return nil, err
	}
	byFlat := new(uint256.Int).Add(quote.Amount, flatMarkup)
	if byPercent.Cmp(byFlat) >= 0 {
		return roundUpToPackableFee(byPercent)
	}
	return roundUpToPackableFee(byFlat)
}

// RequiredFeeUSD returns the minimum required fee for an operation of kind
// kind, in USDScale-scaled USD, scaled by the same §4.C floor as
// RequiredFeeInToken — used to compare a whole batch's fees in a single unit
// regardless of how many distinct fee tokens it spans.
func (t *Ticker) RequiredFeeUSD(kind optypes.TxKind) uint64 {
	cost := t.gasCostUSD(kind)
	byPercent := cost + ceilPercentUint64(cost, 5)
	byFlat := cost + MinMarkupUSD
	if byPercent > byFlat {
		return byPercent
	}
	return byFlat
}

// USDValue converts a token-unit amount into its USDScale-scaled USD value,
// using token's own reported price if available, else falling back to
// fee-token-0's price (§4.C: "non-popular tokens converted via fee-token-0").
func (t *Ticker) USDValue(token types.TokenID, amount *uint256.Int) (uint64, error) {
	t.mu.RLock()
	info, ok := t.tokens[token]
	if !ok {
		info, ok = t.tokens[types.TokenID(0)]
	}
	t.mu.RUnlock()
	if !ok {
		return 0, ErrUnknownTokenPrice
	}
	price, ok := info.window.median()
	if !ok {
		return 0, ErrUnknownTokenPrice
	}
	// usd = amount / 10^decimals * price
	numerator := new(big.Int).Mul(amount.ToBig(), big.NewInt(int64(price)))
	usd := new(big.Int).Div(numerator, pow10(int(info.decimals)))
	if !usd.IsUint64() {
		return 0, ErrQuoteNotPackable
	}
	return usd.Uint64(), nil
}

// ceilPercent returns ceil(amount * percent / 100).
func ceilPercent(amount *uint256.Int, percent uint64) *uint256.Int {
	num := new(big.Int).Mul(amount.ToBig(), big.NewInt(int64(percent)))
	div, rem := new(big.Int).QuoRem(num, big.NewInt(100), new(big.Int))
	if rem.Sign() != 0 {
		div.Add(div, big.NewInt(1))
	}
	u, overflow := uint256.FromBig(div)
	if overflow {
		return uint256.NewInt(0)
	}
	return u
}

// ceilPercentUint64 is ceilPercent for plain USD-scale integers.
func ceilPercentUint64(amount uint64, percent uint64) uint64 {
	num := amount * percent
	div := num / 100
	if num%100 != 0 {
		div++
	}
	return div
}

// feeMantissaLimit is 2^FeeMantissaBitWidth, the exclusive upper bound a
// packable fee's mantissa must stay under after stripping trailing zeros.
var feeMantissaLimit = new(big.Int).Lsh(big.NewInt(1), optypes.FeeMantissaBitWidth)

// roundUpToPackableFee returns the smallest value >= amount whose decimal
// representation fits mantissa*10^exponent within the packed-fee widths,
// since a quote must never under-collect relative to what the circuit will
// actually see once the fee is packed onto the wire.
func roundUpToPackableFee(amount *uint256.Int) (*uint256.Int, error) {
	if optypes.IsFeePackable(amount) {
		return amount, nil
	}
	value := amount.ToBig()
	for exponent := 0; exponent < (1<<optypes.FeeExponentBitWidth)-1; exponent++ {
		scale := pow10(exponent)
		mantissa := new(big.Int)
		rem := new(big.Int)
		mantissa.DivMod(value, scale, rem)
		if rem.Sign() != 0 {
			mantissa.Add(mantissa, big.NewInt(1)) // round this exponent's remainder up
		}
		if mantissa.Cmp(feeMantissaLimit) < 0 {
			rounded := new(big.Int).Mul(mantissa, scale)
			u, overflow := uint256.FromBig(rounded)
			if overflow {
				return nil, ErrQuoteNotPackable
			}
			return u, nil
		}
	}
	return nil, ErrQuoteNotPackable
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
