package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"papertrader/src/model"
)

// MarketSnapshot is the shared "latest market state": one writer (the
// ingestion task), many readers. Readers get copies and must tolerate a
// one-event-stale view.
type MarketSnapshot struct {
	tick      atomic.Pointer[model.Tick]
	lastEvent atomic.Int64 // unix nanos of the last ingested event

	mu         sync.RWMutex
	candles    []model.Candle
	maxHistory int
}

// NewMarketSnapshot keeps at most maxHistory closed candles.
func NewMarketSnapshot(maxHistory int) *MarketSnapshot {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &MarketSnapshot{maxHistory: maxHistory}
}

// Touch records that a market event arrived, whatever its kind.
func (s *MarketSnapshot) Touch(at time.Time) {
	s.lastEvent.Store(at.UnixNano())
}

// LastEventAt returns when the last market event arrived, or zero.
func (s *MarketSnapshot) LastEventAt() time.Time {
	n := s.lastEvent.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SetTick publishes a new latest quote.
func (s *MarketSnapshot) SetTick(t *model.Tick) {
	cp := *t
	s.tick.Store(&cp)
}

// LatestTick returns a copy of the latest quote, or nil before the first.
func (s *MarketSnapshot) LatestTick() *model.Tick {
	t := s.tick.Load()
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// AppendCandle adds a closed candle, replacing any existing bar with the
// same open time, and trims history to the configured cap.
func (s *MarketSnapshot) AppendCandle(c model.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.candles {
		if s.candles[i].OpenTime.Equal(c.OpenTime) {
			s.candles[i] = c
			return
		}
	}
	s.candles = append(s.candles, c)
	s.trimLocked()
}

// InsertCandles merges backfilled bars into history, keeping it sorted by
// open time and deduplicated.
func (s *MarketSnapshot) InsertCandles(candles []model.Candle) {
	if len(candles) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool, len(s.candles))
	for _, c := range s.candles {
		seen[c.OpenTime.UnixMilli()] = true
	}
	for _, c := range candles {
		if !seen[c.OpenTime.UnixMilli()] {
			s.candles = append(s.candles, c)
			seen[c.OpenTime.UnixMilli()] = true
		}
	}
	sort.Slice(s.candles, func(i, j int) bool {
		return s.candles[i].OpenTime.Before(s.candles[j].OpenTime)
	})
	s.trimLocked()
}

func (s *MarketSnapshot) trimLocked() {
	if len(s.candles) > s.maxHistory {
		s.candles = append(s.candles[:0:0], s.candles[len(s.candles)-s.maxHistory:]...)
	}
}

// History returns a copy of the closed-candle history.
func (s *MarketSnapshot) History() []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Candle(nil), s.candles...)
}

// LastCandleTime returns the open time of the newest candle, or zero.
func (s *MarketSnapshot) LastCandleTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return time.Time{}
	}
	return s.candles[len(s.candles)-1].OpenTime
}
