package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/src/model"
)

var two = decimal.NewFromInt(2)

// candleFromStrings builds a validated candle from exchange-formatted
// price strings.
func candleFromStrings(symbol string, openTime time.Time, o, h, l, c, v string, closed bool) (*model.Candle, error) {
	open, err := model.PriceFromString(o)
	if err != nil {
		return nil, err
	}
	high, err := model.PriceFromString(h)
	if err != nil {
		return nil, err
	}
	low, err := model.PriceFromString(l)
	if err != nil {
		return nil, err
	}
	cls, err := model.PriceFromString(c)
	if err != nil {
		return nil, err
	}
	vol, err := decimal.NewFromString(v)
	if err != nil || vol.IsNegative() {
		return nil, model.ErrInvalidPrice
	}

	candle := &model.Candle{
		Symbol:   symbol,
		OpenTime: openTime,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   vol,
		Closed:   closed,
	}
	if !candle.Valid() {
		return nil, model.ErrInvalidPrice
	}
	return candle, nil
}

// sleepCtx sleeps unless the context is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextBackoff doubles the delay up to the cap.
func nextBackoff(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}
