package broker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/src/model"
)

var bpsDenominator = decimal.NewFromInt(10000)

// defaultJitter returns a goroutine-safe uniform [0,1) source.
func defaultJitter() func() float64 {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return rng.Float64()
	}
}

// fillPrice computes the simulated execution price and the slippage
// applied relative to the reference price.
//
// With a valid quote the order crosses the spread: buys fill at the ask,
// sells at the bid, and the spread is the only slippage. Without a quote
// the price is synthesized around the candle close: a configurable
// half-spread, a random slippage factor uniform in [0.5x, 1.5x] of the
// base slippage setting, and a market-impact penalty proportional to
// orderNotional / assumedLiquidityDepth.
func (b *Broker) fillPrice(order model.Order, candle *model.Candle, tick *model.Tick) (price, slippage decimal.Decimal, err error) {
	if tick.Valid() {
		mid := tick.Mid()
		if order.Side == model.SideLong {
			return tick.Ask, tick.Ask.Sub(mid), nil
		}
		return tick.Bid, mid.Sub(tick.Bid), nil
	}

	if candle == nil || !candle.Valid() {
		return decimal.Zero, decimal.Zero,
			model.Rejectf(model.RejectInvalidPrice, "no valid tick or candle to price order %s", order.ID)
	}

	base := candle.Close

	notional := order.Notional
	if notional.LessThanOrEqual(decimal.Zero) {
		notional = order.Quantity.Mul(base)
	}

	halfSpread := base.Mul(b.cfg.HalfSpreadBps).Div(bpsDenominator)

	jitter := decimal.NewFromFloat(0.5 + b.jitter())
	slip := base.Mul(b.cfg.SlippageBps).Div(bpsDenominator).Mul(jitter)

	impact := base.Mul(b.cfg.ImpactCoefficient).Mul(notional).Div(b.cfg.LiquidityDepth)

	adverse := halfSpread.Add(slip).Add(impact)

	if order.Side == model.SideLong {
		return base.Add(adverse), adverse, nil
	}
	return base.Sub(adverse), adverse, nil
}
