package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidPrice covers NaN, Inf and non-positive price inputs. Any price
// failing this guard must be rejected before it can touch the ledger.
var ErrInvalidPrice = errors.New("invalid price")

// PriceFromFloat converts a raw float price into a decimal, rejecting NaN,
// Inf and non-positive values. decimal.NewFromFloat panics on NaN/Inf, so
// the guard has to run first.
func PriceFromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidPrice, v)
	}
	if v <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidPrice, v)
	}
	return decimal.NewFromFloat(v), nil
}

// PriceFromString parses an exchange-formatted price string with the same
// validation as PriceFromFloat.
func PriceFromString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return d, nil
}

// Tick is a top-of-book quote. Bid/Ask drive fill prices; Last is
// informational only.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"ts"`
}

// Valid reports whether the quote is usable for execution: both sides
// positive and not crossed.
func (t *Tick) Valid() bool {
	if t == nil {
		return false
	}
	if t.Bid.LessThanOrEqual(decimal.Zero) || t.Ask.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return t.Ask.GreaterThanOrEqual(t.Bid)
}

// Mid returns the quote midpoint.
func (t *Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Spread returns ask minus bid.
func (t *Tick) Spread() decimal.Decimal {
	return t.Ask.Sub(t.Bid)
}

// Candle is a single OHLCV bar. Closed marks a confirmed bar; strategies
// only ever see closed candles.
type Candle struct {
	Symbol   string          `json:"symbol"`
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
	Closed   bool            `json:"closed"`
}

// Valid checks the bar for non-positive prices and an inconsistent range.
func (c *Candle) Valid() bool {
	if c == nil {
		return false
	}
	for _, p := range []decimal.Decimal{c.Open, c.High, c.Low, c.Close} {
		if p.LessThanOrEqual(decimal.Zero) {
			return false
		}
	}
	if c.Volume.IsNegative() {
		return false
	}
	if c.High.LessThan(c.Low) {
		return false
	}
	return true
}

// IsBullish reports close > open.
func (c *Candle) IsBullish() bool { return c.Close.GreaterThan(c.Open) }

// IsBearish reports close < open.
func (c *Candle) IsBearish() bool { return c.Close.LessThan(c.Open) }
