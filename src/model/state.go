package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CircuitBreakerStatus is the serializable view of the breaker. Mutated
// only by the breaker's Update; Tripped is terminal for the session.
type CircuitBreakerStatus struct {
	DayStartEquity    decimal.Decimal `json:"day_start_equity"`
	PeakEquity        decimal.Decimal `json:"peak_equity"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	Tripped           bool            `json:"tripped"`
	TrippedReason     string          `json:"tripped_reason,omitempty"`
}

// SessionState is the unit of crash-safe persistence: everything needed to
// resume a session after a crash. Owned exclusively by the broker.
type SessionState struct {
	Symbol            string               `json:"symbol"`
	StartingEquity    decimal.Decimal      `json:"starting_equity"`
	Equity            decimal.Decimal      `json:"equity"`
	Position          *Position            `json:"position"`
	ProcessedOrderIDs []string             `json:"processed_order_ids"`
	Fills             []Fill               `json:"fills"`
	Exits             []ExitEvent          `json:"exits"`
	WorkingOrders     []WorkingOrder       `json:"working_orders"`
	Breaker           CircuitBreakerStatus `json:"breaker"`
	LastTradeAt       time.Time            `json:"last_trade_at"`
	SavedAt           time.Time            `json:"saved_at"`
}

// NewSessionState returns the documented default state for a fresh session.
func NewSessionState(symbol string, startingEquity decimal.Decimal) *SessionState {
	return &SessionState{
		Symbol:         symbol,
		StartingEquity: startingEquity,
		Equity:         startingEquity,
		Breaker: CircuitBreakerStatus{
			DayStartEquity: startingEquity,
			PeakEquity:     startingEquity,
		},
	}
}

// Validate rejects states that must never reach disk: corrupted equity or
// an open position with broken invariants.
func (s *SessionState) Validate() error {
	if s == nil {
		return fmt.Errorf("nil session state")
	}
	if s.Symbol == "" {
		return fmt.Errorf("session state missing symbol")
	}
	if s.Equity.IsNegative() {
		return fmt.Errorf("negative equity %s", s.Equity)
	}
	if s.StartingEquity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("non-positive starting equity %s", s.StartingEquity)
	}
	if p := s.Position; p != nil {
		if p.Side != SideLong && p.Side != SideShort {
			return fmt.Errorf("position has invalid side %q", p.Side)
		}
		if p.Quantity.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("position has non-positive quantity %s", p.Quantity)
		}
		if p.EntryPrice.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("position has non-positive entry price %s", p.EntryPrice)
		}
	}
	return nil
}
