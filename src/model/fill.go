package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitReasonSignal         ExitReason = "signal"
	ExitReasonStopLoss       ExitReason = "stop_loss"
	ExitReasonTakeProfit     ExitReason = "take_profit"
	ExitReasonTrailingStop   ExitReason = "trailing_stop"
	ExitReasonCircuitBreaker ExitReason = "circuit_breaker"
)

// Fill is the immutable record of a completed entry execution. Never
// mutated after creation; journaled when the database is enabled.
type Fill struct {
	JournalID uint            `gorm:"primaryKey" json:"-"`
	OrderID   string          `gorm:"size:64;index" json:"order_id"`
	Symbol    string          `gorm:"size:50;index" json:"symbol"`
	Side      Side            `gorm:"size:10" json:"side"`
	Price     decimal.Decimal `gorm:"type:decimal(30,10)" json:"price"`
	Quantity  decimal.Decimal `gorm:"type:decimal(30,10)" json:"quantity"`
	Fees      decimal.Decimal `gorm:"type:decimal(30,10)" json:"fees"`
	Slippage  decimal.Decimal `gorm:"type:decimal(30,10)" json:"slippage"`
	Reason    string          `gorm:"size:30" json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}

// ExitEvent is the immutable record of a completed position close.
type ExitEvent struct {
	JournalID uint            `gorm:"primaryKey" json:"-"`
	Symbol    string          `gorm:"size:50;index" json:"symbol"`
	Side      Side            `gorm:"size:10" json:"side"`
	Price     decimal.Decimal `gorm:"type:decimal(30,10)" json:"price"`
	Quantity  decimal.Decimal `gorm:"type:decimal(30,10)" json:"quantity"`
	Fees      decimal.Decimal `gorm:"type:decimal(30,10)" json:"fees"`
	PnL       decimal.Decimal `gorm:"type:decimal(30,10)" json:"pnl"`
	Reason    ExitReason      `gorm:"size:30;index" json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}
