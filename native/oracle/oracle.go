package oracle

import (
	"errors"
	"math/big"
	"strings"
)

var (
	ErrNilSource      = errors.New("oracle: price source not configured")
	ErrUnknownFeed    = errors.New("oracle: unknown price feed")
	ErrStalePrice     = errors.New("oracle: price older than allowed age")
	ErrMalformedPrice = errors.New("oracle: malformed price reading")
)

// PriceData is a raw oracle reading. The effective price is
// Price * 10^Exponent; PublishTime is the unix timestamp the upstream oracle
// attached to the reading.
type PriceData struct {
	Price       int64
	Exponent    int32
	PublishTime int64
}

// Source resolves the latest reading for a feed identifier. Implementations
// should fail with ErrUnknownFeed when the feed is not registered; staleness
// is enforced by the adapter so that every caller applies the same bound.
type Source interface {
	Price(feedID string) (PriceData, error)
}

// Adapter converts raw oracle readings into USD-denominated amounts while
// enforcing per-asset staleness bounds. A stale or malformed reading is a
// hard failure, never a retry.
type Adapter struct {
	source Source
}

func NewAdapter(source Source) *Adapter {
	return &Adapter{source: source}
}

// PriceNoOlderThan returns the display price for the feed as an exact
// rational, rejecting readings older than maxAge seconds at ledger time now.
func (a *Adapter) PriceNoOlderThan(feedID string, maxAge uint64, now int64) (*big.Rat, error) {
	if a == nil || a.source == nil {
		return nil, ErrNilSource
	}
	if strings.TrimSpace(feedID) == "" {
		return nil, ErrUnknownFeed
	}
	reading, err := a.source.Price(feedID)
	if err != nil {
		return nil, err
	}
	if reading.Price <= 0 {
		return nil, ErrMalformedPrice
	}
	if reading.PublishTime > now {
		return nil, ErrMalformedPrice
	}
	if maxAge > 0 && now-reading.PublishTime > int64(maxAge) {
		return nil, ErrStalePrice
	}
	return displayPrice(reading), nil
}

// USDValue converts a native-unit amount with the given decimals into its USD
// value using the feed's current price. Both the USD value and the raw price
// are returned; the liquidation checker records the latter.
func (a *Adapter) USDValue(feedID string, maxAge uint64, now int64, amount *big.Int, decimals uint8) (*big.Rat, *big.Rat, error) {
	price, err := a.PriceNoOlderThan(feedID, maxAge, now)
	if err != nil {
		return nil, nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, nil, ErrMalformedPrice
	}
	scaled := new(big.Rat).SetFrac(new(big.Int).Set(amount), pow10(int32(decimals)))
	usd := new(big.Rat).Mul(scaled, price)
	return usd, price, nil
}

func displayPrice(reading PriceData) *big.Rat {
	price := big.NewInt(reading.Price)
	if reading.Exponent >= 0 {
		return new(big.Rat).SetInt(new(big.Int).Mul(price, pow10(reading.Exponent)))
	}
	return new(big.Rat).SetFrac(price, pow10(-reading.Exponent))
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
