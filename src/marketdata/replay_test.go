package marketdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeReplayFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing replay file: %v", err)
	}
	return path
}

func TestReplayEmitsTicksThenCandle(t *testing.T) {
	path := writeReplayFile(t,
		"unix_ms,open,high,low,close,volume\n"+
			"1717243200000,100,105,99,104,12.5\n")

	src := NewReplaySource(path, "BTCUSDT", time.Minute, 0)
	events, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("events: %v", err)
	}

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}

	// open/low/high/close ticks, then the closed candle
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	wantTicks := []string{"100", "99", "105", "104"}
	for i, want := range wantTicks {
		tick := got[i].Tick
		if tick == nil {
			t.Fatalf("event %d should be a tick", i)
		}
		if !tick.Bid.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("tick %d: want %s got %s", i, want, tick.Bid)
		}
		if !tick.Bid.Equal(tick.Ask) {
			t.Fatalf("replay ticks carry zero spread")
		}
	}

	candle := got[4].Candle
	if candle == nil || !candle.Closed {
		t.Fatalf("last event must be the closed candle, got %+v", got[4])
	}
	if !candle.Close.Equal(decimal.RequireFromString("104")) {
		t.Fatalf("candle close wrong: %s", candle.Close)
	}
	if candle.OpenTime.UnixMilli() != 1717243200000 {
		t.Fatalf("candle open time wrong: %d", candle.OpenTime.UnixMilli())
	}

	if src.Err() != nil {
		t.Fatalf("clean EOF must leave Err nil, got %v", src.Err())
	}
}

func TestReplaySkipsJunkRows(t *testing.T) {
	path := writeReplayFile(t,
		"unix_ms,open,high,low,close,volume\n"+
			"not,a,candle,row,at,all\n"+
			"1717243200000,100,105,99,104,1\n"+
			"1717243260000,104,106,103,105,1\n")

	src := NewReplaySource(path, "BTCUSDT", time.Minute, 0)
	events, err := src.Events(context.Background())
	if err != nil {
		t.Fatalf("events: %v", err)
	}

	candles := 0
	for ev := range events {
		if ev.Candle != nil {
			candles++
		}
	}
	if candles != 2 {
		t.Fatalf("expected 2 candles after skipping junk, got %d", candles)
	}
	if src.Err() != nil {
		t.Fatalf("junk rows are not stream errors, got %v", src.Err())
	}
}

func TestReplayMissingFile(t *testing.T) {
	src := NewReplaySource(filepath.Join(t.TempDir(), "nope.csv"), "BTCUSDT", time.Minute, 0)
	if _, err := src.Events(context.Background()); err == nil {
		t.Fatalf("missing file must fail Events up front")
	}
}

func TestReplayStopsOnCancel(t *testing.T) {
	path := writeReplayFile(t,
		"1717243200000,100,105,99,104,1\n"+
			"1717243260000,104,106,103,105,1\n")

	ctx, cancel := context.WithCancel(context.Background())
	src := NewReplaySource(path, "BTCUSDT", time.Minute, 1) // paced, one candle per minute
	events, err := src.Events(ctx)
	if err != nil {
		t.Fatalf("events: %v", err)
	}

	// drain the first candle's worth of events, then cancel mid-replay
	for i := 0; i < 5; i++ {
		<-events
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("replay did not stop after cancellation")
		}
	}
}
