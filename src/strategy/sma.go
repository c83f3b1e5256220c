package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"papertrader/src/model"
)

// SMACross is a simple moving-average crossover engine: fast crossing
// above slow signals a long entry, crossing below signals a short. Exits
// are the broker's job (stop / take-profit / trailing), so an open
// position always yields no-signal.
type SMACross struct {
	fast int
	slow int
}

// NewSMACross requires 0 < fast < slow; invalid periods are normalized to
// the 9/21 defaults.
func NewSMACross(fast, slow int) *SMACross {
	if fast <= 0 || slow <= fast {
		fast, slow = 9, 21
	}
	return &SMACross{fast: fast, slow: slow}
}

func (s *SMACross) Name() string {
	return fmt.Sprintf("sma_cross_%d_%d", s.fast, s.slow)
}

func (s *SMACross) Decide(history []model.Candle, st State) model.Signal {
	if st.HasOpenPosition {
		return model.NoSignal()
	}
	// One extra bar so the previous crossover state is defined.
	if len(history) < s.slow+1 {
		return model.NoSignal()
	}

	fastNow := sma(history, s.fast, 0)
	slowNow := sma(history, s.slow, 0)
	fastPrev := sma(history, s.fast, 1)
	slowPrev := sma(history, s.slow, 1)

	last := history[len(history)-1]

	if fastPrev.LessThanOrEqual(slowPrev) && fastNow.GreaterThan(slowNow) {
		return model.Signal{
			Go:        true,
			Side:      model.SideLong,
			EntryHint: last.Close,
			Reason:    fmt.Sprintf("%s cross up", s.Name()),
		}
	}
	if fastPrev.GreaterThanOrEqual(slowPrev) && fastNow.LessThan(slowNow) {
		return model.Signal{
			Go:        true,
			Side:      model.SideShort,
			EntryHint: last.Close,
			Reason:    fmt.Sprintf("%s cross down", s.Name()),
		}
	}

	return model.NoSignal()
}

// sma averages the closes of the n candles ending `offset` bars before
// the most recent one.
func sma(history []model.Candle, n, offset int) decimal.Decimal {
	end := len(history) - offset
	sum := decimal.Zero
	for _, c := range history[end-n : end] {
		sum = sum.Add(c.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
