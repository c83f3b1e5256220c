package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the single open position for the session's symbol. At most
// one exists at any instant; it is created on entry fill, mutated by exit
// checks, and destroyed on exit.
type Position struct {
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	StopLoss       decimal.Decimal `json:"stop_loss"`
	TakeProfit     decimal.Decimal `json:"take_profit"`
	EntryTime      time.Time       `json:"entry_time"`
	EntryFees      decimal.Decimal `json:"entry_fees"`
	BarsHeld       int             `json:"bars_held"`
	TrailingActive bool            `json:"trailing_active"`
	TrailingStop   decimal.Decimal `json:"trailing_stop"`
}

// SignedQuantity returns quantity with the side's sign applied.
func (p *Position) SignedQuantity() decimal.Decimal {
	return p.Quantity.Mul(p.Side.Sign())
}

// UnrealizedPnL marks the open position against the given price:
// (mark - entry) * signedQty. Fees already paid on entry are not
// re-subtracted here; they were deducted from equity at fill time.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return mark.Sub(p.EntryPrice).Mul(p.SignedQuantity())
}

// InitialRisk is the per-unit distance between entry and the initial stop.
// Zero when no stop is set; trailing-stop activation is keyed off this.
func (p *Position) InitialRisk() decimal.Decimal {
	if p == nil || p.StopLoss.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return p.EntryPrice.Sub(p.StopLoss).Abs()
}

// EquitySnapshot is a derived view of the ledger at one mark price. It is
// recomputed on demand, never stored.
type EquitySnapshot struct {
	StartingEquity decimal.Decimal `json:"starting_equity"`
	Equity         decimal.Decimal `json:"equity"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	MarkPrice      decimal.Decimal `json:"mark_price"`
	At             time.Time       `json:"at"`
}

// Total returns realized equity plus unrealized PnL.
func (e EquitySnapshot) Total() decimal.Decimal {
	return e.Equity.Add(e.UnrealizedPnL)
}
