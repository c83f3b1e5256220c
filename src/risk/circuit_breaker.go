package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
)

// BreakerState is the circuit breaker's lifecycle state. TRIPPED is
// terminal for the session; there is no automatic re-arm.
type BreakerState string

const (
	BreakerArmed   BreakerState = "ARMED"
	BreakerTripped BreakerState = "TRIPPED"
)

// BreakerConfig holds the trip thresholds.
type BreakerConfig struct {
	MaxDailyDrawdownPct  decimal.Decimal
	MaxConsecutiveLosses int
}

// DefaultBreakerConfig reasonable defaults, tweak per session.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxDailyDrawdownPct:  decimal.NewFromInt(5),
		MaxConsecutiveLosses: 5,
	}
}

// CircuitBreaker tracks peak equity, drawdown-from-peak and the
// consecutive-loss streak, and decides when trading must halt. It is a
// pure state machine: no I/O, no clock.
type CircuitBreaker struct {
	cfg    BreakerConfig
	status model.CircuitBreakerStatus
}

// NewCircuitBreaker arms a breaker with the given starting equity.
func NewCircuitBreaker(cfg BreakerConfig, startingEquity decimal.Decimal) *CircuitBreaker {
	return &CircuitBreaker{
		cfg: cfg,
		status: model.CircuitBreakerStatus{
			DayStartEquity: startingEquity,
			PeakEquity:     startingEquity,
		},
	}
}

// Restore rebuilds a breaker from persisted status, e.g. after a crash.
func Restore(cfg BreakerConfig, status model.CircuitBreakerStatus) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, status: status}
}

// Update recomputes peak equity and drawdown after a trade and advances the
// loss streak: a losing trade increments it, a winning trade resets it to
// zero, a flat trade leaves it untouched. Once tripped, Update is a no-op.
func (cb *CircuitBreaker) Update(currentEquity, lastTradePnL decimal.Decimal) {
	if cb.status.Tripped {
		return
	}

	if currentEquity.GreaterThan(cb.status.PeakEquity) {
		cb.status.PeakEquity = currentEquity
	}

	if lastTradePnL.IsNegative() {
		cb.status.ConsecutiveLosses++
	} else if lastTradePnL.IsPositive() {
		cb.status.ConsecutiveLosses = 0
	}

	dd := cb.DrawdownPct(currentEquity)

	switch {
	case dd.GreaterThanOrEqual(cb.cfg.MaxDailyDrawdownPct):
		cb.trip(fmt.Sprintf("drawdown %s%% >= limit %s%%", dd.StringFixed(2), cb.cfg.MaxDailyDrawdownPct))
	case cb.cfg.MaxConsecutiveLosses > 0 && cb.status.ConsecutiveLosses >= cb.cfg.MaxConsecutiveLosses:
		cb.trip(fmt.Sprintf("%d consecutive losses >= limit %d", cb.status.ConsecutiveLosses, cb.cfg.MaxConsecutiveLosses))
	}
}

// DrawdownPct returns the percentage drop from peak equity.
func (cb *CircuitBreaker) DrawdownPct(currentEquity decimal.Decimal) decimal.Decimal {
	if cb.status.PeakEquity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	dd := cb.status.PeakEquity.Sub(currentEquity).
		Div(cb.status.PeakEquity).
		Mul(decimal.NewFromInt(100))
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

func (cb *CircuitBreaker) trip(reason string) {
	cb.status.Tripped = true
	cb.status.TrippedReason = reason
	logger.WithFields(map[string]interface{}{
		"reason":             reason,
		"peak_equity":        cb.status.PeakEquity.String(),
		"consecutive_losses": cb.status.ConsecutiveLosses,
	}).Warn("circuit breaker tripped, trading halted for the session")
}

// IsTripped reports whether trading must halt.
func (cb *CircuitBreaker) IsTripped() bool { return cb.status.Tripped }

// State returns ARMED or TRIPPED.
func (cb *CircuitBreaker) State() BreakerState {
	if cb.status.Tripped {
		return BreakerTripped
	}
	return BreakerArmed
}

// Status returns a copy of the serializable breaker status.
func (cb *CircuitBreaker) Status() model.CircuitBreakerStatus { return cb.status }
