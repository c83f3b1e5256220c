package tp_sl

import (
	"github.com/shopspring/decimal"

	"papertrader/src/model"
)

// Trigger is the outcome of an exit-level check. Price is the simulated
// fill price, already adjusted for gap-through-open when applicable.
type Trigger struct {
	Hit    bool
	Reason model.ExitReason
	Price  decimal.Decimal
}

// TrailingConfig expresses trailing-stop behaviour in R-multiples of the
// position's initial risk (entry-to-stop distance).
//
// - ActivateRMultiple: favorable move required before the trail arms.
// - TrailRMultiple: distance the trail follows behind price once armed.
type TrailingConfig struct {
	ActivateRMultiple decimal.Decimal
	TrailRMultiple    decimal.Decimal
}

// DefaultTrailingConfig arms the trail after a 1R move and trails at 1R.
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{
		ActivateRMultiple: decimal.NewFromInt(1),
		TrailRMultiple:    decimal.NewFromInt(1),
	}
}

// protectiveLevel returns the tightest active stop for the position and
// the reason an exit at that level should carry. The trailing stop only
// replaces the hard stop when it is strictly tighter; it never loosens.
func protectiveLevel(pos *model.Position) (decimal.Decimal, model.ExitReason) {
	level := pos.StopLoss
	reason := model.ExitReasonStopLoss

	if !pos.TrailingActive || pos.TrailingStop.LessThanOrEqual(decimal.Zero) {
		return level, reason
	}

	switch pos.Side {
	case model.SideLong:
		if pos.TrailingStop.GreaterThan(level) {
			return pos.TrailingStop, model.ExitReasonTrailingStop
		}
	case model.SideShort:
		if level.LessThanOrEqual(decimal.Zero) || pos.TrailingStop.LessThan(level) {
			return pos.TrailingStop, model.ExitReasonTrailingStop
		}
	}
	return level, reason
}

// CheckCandle evaluates stop, trailing stop and take profit against a
// confirmed bar. When the bar's open has already gapped through a level,
// the fill price is the open, not the level (gap slippage), symmetrically
// for long and short. The protective stop wins over take profit when both
// are breached inside one bar.
func CheckCandle(pos *model.Position, c *model.Candle) Trigger {
	if pos == nil || c == nil || !c.Valid() {
		return Trigger{}
	}

	stop, stopReason := protectiveLevel(pos)

	switch pos.Side {
	case model.SideLong:
		if stop.GreaterThan(decimal.Zero) {
			if c.Open.LessThanOrEqual(stop) {
				return Trigger{Hit: true, Reason: stopReason, Price: c.Open}
			}
			if c.Low.LessThanOrEqual(stop) {
				return Trigger{Hit: true, Reason: stopReason, Price: stop}
			}
		}
		if pos.TakeProfit.GreaterThan(decimal.Zero) {
			if c.Open.GreaterThanOrEqual(pos.TakeProfit) {
				return Trigger{Hit: true, Reason: model.ExitReasonTakeProfit, Price: c.Open}
			}
			if c.High.GreaterThanOrEqual(pos.TakeProfit) {
				return Trigger{Hit: true, Reason: model.ExitReasonTakeProfit, Price: pos.TakeProfit}
			}
		}

	case model.SideShort:
		if stop.GreaterThan(decimal.Zero) {
			if c.Open.GreaterThanOrEqual(stop) {
				return Trigger{Hit: true, Reason: stopReason, Price: c.Open}
			}
			if c.High.GreaterThanOrEqual(stop) {
				return Trigger{Hit: true, Reason: stopReason, Price: stop}
			}
		}
		if pos.TakeProfit.GreaterThan(decimal.Zero) {
			if c.Open.LessThanOrEqual(pos.TakeProfit) {
				return Trigger{Hit: true, Reason: model.ExitReasonTakeProfit, Price: c.Open}
			}
			if c.Low.LessThanOrEqual(pos.TakeProfit) {
				return Trigger{Hit: true, Reason: model.ExitReasonTakeProfit, Price: pos.TakeProfit}
			}
		}
	}

	return Trigger{}
}

// CheckTick evaluates exit levels against a live quote between candle
// closes. Longs exit at the bid, shorts at the ask, so the spread is paid
// on the way out too.
func CheckTick(pos *model.Position, t *model.Tick) Trigger {
	if pos == nil || !t.Valid() {
		return Trigger{}
	}

	stop, stopReason := protectiveLevel(pos)

	switch pos.Side {
	case model.SideLong:
		exitPx := t.Bid
		if stop.GreaterThan(decimal.Zero) && exitPx.LessThanOrEqual(stop) {
			return Trigger{Hit: true, Reason: stopReason, Price: exitPx}
		}
		if pos.TakeProfit.GreaterThan(decimal.Zero) && exitPx.GreaterThanOrEqual(pos.TakeProfit) {
			return Trigger{Hit: true, Reason: model.ExitReasonTakeProfit, Price: exitPx}
		}

	case model.SideShort:
		exitPx := t.Ask
		if stop.GreaterThan(decimal.Zero) && exitPx.GreaterThanOrEqual(stop) {
			return Trigger{Hit: true, Reason: stopReason, Price: exitPx}
		}
		if pos.TakeProfit.GreaterThan(decimal.Zero) && exitPx.LessThanOrEqual(pos.TakeProfit) {
			return Trigger{Hit: true, Reason: model.ExitReasonTakeProfit, Price: exitPx}
		}
	}

	return Trigger{}
}

// NextTrailing advances the trailing stop for the given mark price.
//
// The trail arms once price has moved ActivateRMultiple × initial risk in
// the position's favor, then follows price at TrailRMultiple × initial
// risk. The level only ever ratchets in the favorable direction.
//
// Returns the new level, whether the trail is (now) active, and whether
// the level moved. Positions without an initial stop have no defined R
// and never trail.
func NextTrailing(pos *model.Position, price decimal.Decimal, cfg TrailingConfig) (newLevel decimal.Decimal, active bool, moved bool) {
	if pos == nil {
		return decimal.Zero, false, false
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return pos.TrailingStop, pos.TrailingActive, false
	}

	r := pos.InitialRisk()
	if r.LessThanOrEqual(decimal.Zero) {
		return pos.TrailingStop, pos.TrailingActive, false
	}

	activateDist := r.Mul(cfg.ActivateRMultiple)
	trailDist := r.Mul(cfg.TrailRMultiple)

	switch pos.Side {
	case model.SideLong:
		if !pos.TrailingActive {
			if price.Sub(pos.EntryPrice).LessThan(activateDist) {
				return pos.TrailingStop, false, false
			}
		}
		candidate := price.Sub(trailDist)
		if !pos.TrailingActive || candidate.GreaterThan(pos.TrailingStop) {
			return candidate, true, true
		}
		return pos.TrailingStop, true, false

	case model.SideShort:
		if !pos.TrailingActive {
			if pos.EntryPrice.Sub(price).LessThan(activateDist) {
				return pos.TrailingStop, false, false
			}
		}
		candidate := price.Add(trailDist)
		if !pos.TrailingActive || candidate.LessThan(pos.TrailingStop) {
			return candidate, true, true
		}
		return pos.TrailingStop, true, false
	}

	return pos.TrailingStop, pos.TrailingActive, false
}
