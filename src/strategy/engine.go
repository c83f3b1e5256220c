package strategy

import (
	"github.com/shopspring/decimal"

	"papertrader/src/model"
)

// State is the symbol-level context handed to the engine alongside the
// candle history.
type State struct {
	HasOpenPosition bool
	PositionSide    model.Side
	Equity          decimal.Decimal
}

// Engine decides, once per closed candle, whether to act. Implementations
// must not block and must return NoSignal on missing or insufficient
// history instead of failing.
type Engine interface {
	Name() string
	Decide(history []model.Candle, st State) model.Signal
}
