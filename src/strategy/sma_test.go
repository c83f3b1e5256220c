package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/src/model"
)

func closes(values ...int64) []model.Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, 0, len(values))
	for i, v := range values {
		p := decimal.NewFromInt(v)
		out = append(out, model.Candle{
			Symbol:   "BTCUSDT",
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     p,
			High:     p,
			Low:      p,
			Close:    p,
			Volume:   decimal.NewFromInt(1),
			Closed:   true,
		})
	}
	return out
}

func TestSMACrossNormalizesBadPeriods(t *testing.T) {
	s := NewSMACross(21, 9)
	if s.Name() != "sma_cross_9_21" {
		t.Fatalf("bad periods must fall back to 9/21, got %s", s.Name())
	}
}

func TestSMACrossNotEnoughHistory(t *testing.T) {
	s := NewSMACross(2, 4)
	sig := s.Decide(closes(1, 2, 3, 4), State{})
	if sig.Go {
		t.Fatalf("must not signal with fewer than slow+1 candles")
	}
}

func TestSMACrossUpSignalsLong(t *testing.T) {
	s := NewSMACross(2, 4)
	// flat history, then a jump: fast SMA crosses above slow on the last bar
	sig := s.Decide(closes(100, 100, 100, 100, 100, 120), State{})
	if !sig.Go || sig.Side != model.SideLong {
		t.Fatalf("expected long signal, got %+v", sig)
	}
	if !sig.EntryHint.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("entry hint must be the last close, got %s", sig.EntryHint)
	}
}

func TestSMACrossDownSignalsShort(t *testing.T) {
	s := NewSMACross(2, 4)
	sig := s.Decide(closes(100, 100, 100, 100, 100, 80), State{})
	if !sig.Go || sig.Side != model.SideShort {
		t.Fatalf("expected short signal, got %+v", sig)
	}
}

func TestSMACrossNoRepeatWithoutNewCross(t *testing.T) {
	s := NewSMACross(2, 4)
	// fast already above slow on both bars: no fresh crossover
	sig := s.Decide(closes(100, 100, 100, 100, 120, 125), State{})
	if sig.Go {
		t.Fatalf("must not re-signal while fast stays above slow, got %+v", sig)
	}
}

func TestSMACrossSilentWhilePositionOpen(t *testing.T) {
	s := NewSMACross(2, 4)
	sig := s.Decide(closes(100, 100, 100, 100, 100, 120), State{HasOpenPosition: true})
	if sig.Go {
		t.Fatalf("open position must suppress entries")
	}
}
