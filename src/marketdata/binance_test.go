package marketdata

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/src/config"
)

func testSource() *BinanceSource {
	return NewBinanceSource(config.Config{
		Symbol:         "BTCUSDT",
		CandleInterval: time.Minute,
		RESTBaseURL:    "https://api.binance.com",
		WSBaseURL:      "wss://stream.binance.com:9443",
	})
}

func TestParseBookTicker(t *testing.T) {
	s := testSource()
	payload := []byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"99.5","a":"100.5"}}`)

	ev, ok := s.parse(payload)
	if !ok || ev.Tick == nil {
		t.Fatalf("expected a tick event, got %+v ok=%v", ev, ok)
	}
	if !ev.Tick.Bid.Equal(decimal.RequireFromString("99.5")) {
		t.Fatalf("bid wrong: %s", ev.Tick.Bid)
	}
	if !ev.Tick.Ask.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("ask wrong: %s", ev.Tick.Ask)
	}
	if !ev.Tick.Last.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("last should be the mid, got %s", ev.Tick.Last)
	}
}

func TestParseDropsCrossedQuote(t *testing.T) {
	s := testSource()
	payload := []byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"101","a":"99"}}`)
	if _, ok := s.parse(payload); ok {
		t.Fatalf("crossed quote must be dropped")
	}
}

func TestParseDropsInvalidPrices(t *testing.T) {
	s := testSource()
	for _, payload := range []string{
		`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"0","a":"100"}}`,
		`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"abc","a":"100"}}`,
		`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"-5","a":"100"}}`,
		`not json at all`,
	} {
		if _, ok := s.parse([]byte(payload)); ok {
			t.Fatalf("payload must be dropped: %s", payload)
		}
	}
}

func TestParseKline(t *testing.T) {
	s := testSource()
	payload := []byte(`{"stream":"btcusdt@kline_1m","data":{"E":1717243260000,"k":{"t":1717243200000,"o":"100","h":"105","l":"99","c":"104","v":"12.5","x":true}}}`)

	ev, ok := s.parse(payload)
	if !ok || ev.Candle == nil {
		t.Fatalf("expected a candle event, got %+v ok=%v", ev, ok)
	}
	if !ev.Candle.Closed {
		t.Fatalf("closed flag lost")
	}
	if !ev.Candle.Close.Equal(decimal.RequireFromString("104")) {
		t.Fatalf("close wrong: %s", ev.Candle.Close)
	}
	if got := ev.Candle.OpenTime.UnixMilli(); got != 1717243200000 {
		t.Fatalf("open time wrong: %d", got)
	}
}

func TestParseKlineRejectsBrokenRange(t *testing.T) {
	s := testSource()
	// high below low
	payload := []byte(`{"stream":"btcusdt@kline_1m","data":{"k":{"t":1717243200000,"o":"100","h":"95","l":"99","c":"98","v":"1","x":true}}}`)
	if _, ok := s.parse(payload); ok {
		t.Fatalf("inconsistent kline must be dropped")
	}
}

func TestParseIgnoresUnknownStream(t *testing.T) {
	s := testSource()
	payload := []byte(`{"stream":"btcusdt@depth","data":{}}`)
	if _, ok := s.parse(payload); ok {
		t.Fatalf("unknown stream must be ignored")
	}
}

func TestStreamURL(t *testing.T) {
	s := testSource()
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@bookTicker/btcusdt@kline_1m"
	if got := s.streamURL(); got != want {
		t.Fatalf("stream url\nwant %s\ngot  %s", want, got)
	}
}

func TestNextBackoffDoublesUpToCap(t *testing.T) {
	d := time.Second
	d = nextBackoff(d, 5*time.Second)
	if d != 2*time.Second {
		t.Fatalf("expected 2s, got %s", d)
	}
	d = nextBackoff(d, 5*time.Second)
	if d != 4*time.Second {
		t.Fatalf("expected 4s, got %s", d)
	}
	d = nextBackoff(d, 5*time.Second)
	if d != 5*time.Second {
		t.Fatalf("expected cap at 5s, got %s", d)
	}
}

func TestCandleFromStringsValidation(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := candleFromStrings("BTCUSDT", at, "100", "105", "99", "104", "1", true); err != nil {
		t.Fatalf("valid candle rejected: %v", err)
	}
	if _, err := candleFromStrings("BTCUSDT", at, "0", "105", "99", "104", "1", true); err == nil {
		t.Fatalf("zero open must be rejected")
	}
	if _, err := candleFromStrings("BTCUSDT", at, "100", "95", "99", "98", "1", true); err == nil {
		t.Fatalf("high below low must be rejected")
	}
	if _, err := candleFromStrings("BTCUSDT", at, "100", "105", "99", "104", "-1", true); err == nil {
		t.Fatalf("negative volume must be rejected")
	}
}
