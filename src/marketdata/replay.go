package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
)

// ReplaySource replays candles from a CSV file through the same Source
// interface as the live feed, so the whole session can run offline.
//
// Expected columns: unix_ms,open,high,low,close,volume. A header row is
// skipped automatically. For each candle the source first emits
// open/low/high/close ticks (zero spread) so the watchdog sees intrabar
// movement, then the closed candle itself.
type ReplaySource struct {
	path     string
	symbol   string
	interval time.Duration
	// delay between candles; zero replays at full speed
	pace time.Duration

	mu  sync.Mutex
	err error
}

// NewReplaySource replays the given file. speed <= 0 replays at full
// speed; otherwise one candle is emitted every interval/speed.
func NewReplaySource(path, symbol string, interval time.Duration, speed float64) *ReplaySource {
	var pace time.Duration
	if speed > 0 {
		pace = time.Duration(float64(interval) / speed)
	}
	return &ReplaySource{path: path, symbol: symbol, interval: interval, pace: pace}
}

func (s *ReplaySource) Name() string { return "replay" }

func (s *ReplaySource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ReplaySource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// FetchGap is a no-op for replays: the file is the whole universe.
func (s *ReplaySource) FetchGap(ctx context.Context, from, to time.Time) ([]model.Candle, error) {
	return nil, nil
}

func (s *ReplaySource) Events(ctx context.Context) (<-chan Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}

	out := make(chan Event, 64)
	go s.replay(ctx, f, out)
	return out, nil
}

func (s *ReplaySource) replay(ctx context.Context, f *os.File, out chan<- Event) {
	defer close(out)
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	emitted := 0
	for {
		if ctx.Err() != nil {
			return
		}

		record, err := r.Read()
		if err == io.EOF {
			logger.WithField("candles", emitted).Info("replay complete")
			return
		}
		if err != nil {
			s.setErr(fmt.Errorf("replay read failed: %w", err))
			return
		}

		candle, err := s.parseRecord(record)
		if err != nil {
			// Header rows and junk lines are dropped, the replay continues.
			logger.WithError(err).Debug("skipping unparsable replay row")
			continue
		}

		for _, px := range []decimal.Decimal{candle.Open, candle.Low, candle.High, candle.Close} {
			t := tickAt(s.symbol, px, candle.OpenTime)
			if !emit(ctx, out, Event{Tick: &t}) {
				return
			}
		}

		if !emit(ctx, out, Event{Candle: candle}) {
			return
		}
		emitted++

		if s.pace > 0 && !sleepCtx(ctx, s.pace) {
			return
		}
	}
}

func (s *ReplaySource) parseRecord(record []string) (*model.Candle, error) {
	if len(record) < 6 {
		return nil, fmt.Errorf("expected 6 columns, got %d", len(record))
	}
	ms, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return nil, err
	}
	return candleFromStrings(s.symbol, time.UnixMilli(ms).UTC(),
		record[1], record[2], record[3], record[4], record[5], true)
}

func tickAt(symbol string, price decimal.Decimal, ts time.Time) model.Tick {
	return model.Tick{
		Symbol:    symbol,
		Bid:       price,
		Ask:       price,
		Last:      price,
		Timestamp: ts,
	}
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
