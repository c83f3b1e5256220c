package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long, -1 for short.
func (s Side) Sign() decimal.Decimal {
	if s == SideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// Order is a request to open a position. ID is the client-assigned
// idempotency key: the broker executes a given ID at most once.
type Order struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Kind       OrderKind       `json:"kind"`
	Quantity   decimal.Decimal `json:"quantity"`
	Notional   decimal.Decimal `json:"notional"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// WorkingOrder is an enqueued-but-not-yet-executed order as persisted in
// SessionState. Stale entries are pruned on load.
type WorkingOrder struct {
	Order      Order     `json:"order"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Signal is the strategy engine's decision for one closed candle.
// Go=false means no action; the remaining fields are then meaningless.
type Signal struct {
	Go        bool            `json:"go"`
	Side      Side            `json:"side"`
	EntryHint decimal.Decimal `json:"entry_hint"`
	Reason    string          `json:"reason"`
}

// NoSignal is the inaction decision.
func NoSignal() Signal { return Signal{} }

// RejectKind distinguishes the recoverable ways an order can bounce off the
// broker. Rejections are normal flow; anything else returned by the broker
// is a fault.
type RejectKind string

const (
	RejectDuplicate      RejectKind = "duplicate"
	RejectThrottled      RejectKind = "throttled"
	RejectPositionOpen   RejectKind = "position_open"
	RejectBreakerTripped RejectKind = "breaker_tripped"
	RejectInvalidPrice   RejectKind = "invalid_price"
	RejectBadOrder       RejectKind = "bad_order"
)

// Rejection is a typed, recoverable refusal to execute. It satisfies error
// so it can travel through normal error returns; callers use errors.As to
// tell it apart from fatal faults.
type Rejection struct {
	Kind   RejectKind
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("order rejected (%s): %s", r.Kind, r.Detail)
}

// Rejectf builds a Rejection with a formatted detail message.
func Rejectf(kind RejectKind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
