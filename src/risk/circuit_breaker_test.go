package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"papertrader/src/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBreakerStartsArmed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultBreakerConfig(), d("10000"))
	if cb.IsTripped() {
		t.Fatalf("fresh breaker must not be tripped")
	}
	if cb.State() != BreakerArmed {
		t.Fatalf("expected ARMED, got %s", cb.State())
	}
}

func TestBreakerTripsOnConsecutiveLosses(t *testing.T) {
	cfg := BreakerConfig{MaxDailyDrawdownPct: d("50"), MaxConsecutiveLosses: 5}
	cb := NewCircuitBreaker(cfg, d("10000"))

	equity := d("10000")
	for i := 0; i < 4; i++ {
		equity = equity.Sub(d("10"))
		cb.Update(equity, d("-10"))
		if cb.IsTripped() {
			t.Fatalf("tripped after %d losses, limit is 5", i+1)
		}
	}

	equity = equity.Sub(d("10"))
	cb.Update(equity, d("-10"))
	if !cb.IsTripped() {
		t.Fatalf("expected trip after 5th consecutive loss")
	}
	if cb.State() != BreakerTripped {
		t.Fatalf("expected TRIPPED, got %s", cb.State())
	}
}

func TestBreakerWinResetsStreak(t *testing.T) {
	cfg := BreakerConfig{MaxDailyDrawdownPct: d("50"), MaxConsecutiveLosses: 3}
	cb := NewCircuitBreaker(cfg, d("10000"))

	cb.Update(d("9990"), d("-10"))
	cb.Update(d("9980"), d("-10"))
	cb.Update(d("9995"), d("15"))
	cb.Update(d("9985"), d("-10"))
	cb.Update(d("9975"), d("-10"))

	if cb.IsTripped() {
		t.Fatalf("win must reset the loss streak")
	}
	if got := cb.Status().ConsecutiveLosses; got != 2 {
		t.Fatalf("expected streak 2, got %d", got)
	}
}

func TestBreakerFlatTradeKeepsStreak(t *testing.T) {
	cfg := BreakerConfig{MaxDailyDrawdownPct: d("50"), MaxConsecutiveLosses: 3}
	cb := NewCircuitBreaker(cfg, d("10000"))

	cb.Update(d("9990"), d("-10"))
	cb.Update(d("9990"), decimal.Zero)

	if got := cb.Status().ConsecutiveLosses; got != 1 {
		t.Fatalf("flat trade must not touch the streak, got %d", got)
	}
}

func TestBreakerTripsOnDrawdownFromPeak(t *testing.T) {
	cfg := BreakerConfig{MaxDailyDrawdownPct: d("5"), MaxConsecutiveLosses: 100}
	cb := NewCircuitBreaker(cfg, d("10000"))

	// equity climbs, peak follows
	cb.Update(d("11000"), d("1000"))
	if !cb.Status().PeakEquity.Equal(d("11000")) {
		t.Fatalf("peak not updated, got %s", cb.Status().PeakEquity)
	}

	// 4% off peak, still armed
	cb.Update(d("10560"), d("-440"))
	if cb.IsTripped() {
		t.Fatalf("4%% drawdown must not trip a 5%% limit")
	}

	// 5% off peak trips
	cb.Update(d("10450"), d("-110"))
	if !cb.IsTripped() {
		t.Fatalf("expected trip at 5%% drawdown from peak, dd=%s", cb.DrawdownPct(d("10450")))
	}
}

func TestBreakerTrippedIsTerminal(t *testing.T) {
	cfg := BreakerConfig{MaxDailyDrawdownPct: d("5"), MaxConsecutiveLosses: 1}
	cb := NewCircuitBreaker(cfg, d("10000"))

	cb.Update(d("9999"), d("-1"))
	if !cb.IsTripped() {
		t.Fatalf("expected trip on first loss with limit 1")
	}
	reason := cb.Status().TrippedReason

	// further wins do not re-arm
	cb.Update(d("20000"), d("10001"))
	if !cb.IsTripped() {
		t.Fatalf("tripped breaker must stay tripped")
	}
	if cb.Status().TrippedReason != reason {
		t.Fatalf("trip reason must not change after trip")
	}
	if cb.Status().ConsecutiveLosses != 1 {
		t.Fatalf("tripped breaker must stop counting")
	}
}

func TestBreakerRestoreKeepsTrippedState(t *testing.T) {
	status := model.CircuitBreakerStatus{
		DayStartEquity:    d("10000"),
		PeakEquity:        d("10500"),
		ConsecutiveLosses: 2,
		Tripped:           true,
		TrippedReason:     "drawdown 6.00% >= limit 5%",
	}
	cb := Restore(DefaultBreakerConfig(), status)
	if !cb.IsTripped() {
		t.Fatalf("restored breaker must keep tripped state")
	}
	if !cb.Status().PeakEquity.Equal(d("10500")) {
		t.Fatalf("restored peak wrong: %s", cb.Status().PeakEquity)
	}
}

func TestDrawdownPctNeverNegative(t *testing.T) {
	cb := NewCircuitBreaker(DefaultBreakerConfig(), d("10000"))
	if !cb.DrawdownPct(d("12000")).IsZero() {
		t.Fatalf("equity above peak must report zero drawdown")
	}
}
