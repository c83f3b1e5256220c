package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/src/model"
)

// DisconnectError reports that the source gave up reconnecting after a
// bounded number of attempts.
type DisconnectError struct {
	Attempts int
	Last     error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("market data disconnected after %d attempts: %v", e.Attempts, e.Last)
}

func (e *DisconnectError) Unwrap() error { return e.Last }

// Event is one market update: a quote, a candle, or both. Candles with
// Closed=false are in-progress previews and must not trigger strategy
// decisions.
type Event struct {
	Tick   *model.Tick
	Candle *model.Candle
}

// Source produces a lazy, unbounded sequence of market events. The events
// channel closes on terminal failure or end-of-stream; Err then reports
// why (nil for a clean end of a finite stream).
type Source interface {
	Name() string
	Events(ctx context.Context) (<-chan Event, error)
	FetchGap(ctx context.Context, from, to time.Time) ([]model.Candle, error)
	Err() error
}

// FundingProvider is an optional capability of a Source. Absence is not
// an error; the funding task simply does not run.
type FundingProvider interface {
	FundingRate(ctx context.Context) (decimal.Decimal, error)
}
