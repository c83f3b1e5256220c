package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/config"
	"papertrader/src/model"
	"papertrader/src/utils"
)

// BinanceSource streams the combined bookTicker + kline websocket feed
// and backfills gaps over REST. Reconnects use a bounded retry loop with
// exponential backoff; after the attempt budget is spent the events
// channel closes and Err reports a DisconnectError.
type BinanceSource struct {
	cfg  config.Config
	http *resty.Client

	mu  sync.Mutex
	err error
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code == 408 || code == 429 || (code >= 500 && code <= 599)
}

// NewBinanceSource builds a source for the configured symbol/interval.
func NewBinanceSource(cfg config.Config) *BinanceSource {
	httpClient := resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(isRetryableResp)

	return &BinanceSource{cfg: cfg, http: httpClient}
}

func (s *BinanceSource) Name() string { return "binance" }

// Err returns the terminal stream error, if any.
func (s *BinanceSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *BinanceSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *BinanceSource) streamURL() string {
	sym := strings.ToLower(s.cfg.Symbol)
	return fmt.Sprintf("%s/stream?streams=%s@bookTicker/%s@kline_%s",
		s.cfg.WSBaseURL, sym, sym, utils.IntervalToBinance(s.cfg.CandleInterval))
}

// Events starts the stream. The returned channel is closed when the
// context is cancelled or the reconnect budget is exhausted.
func (s *BinanceSource) Events(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, 256)
	go s.stream(ctx, out)
	return out, nil
}

// stream is the bounded reconnect loop. Consecutive failed attempts count
// against the budget; a successful connection that delivers at least one
// message resets it.
func (s *BinanceSource) stream(ctx context.Context, out chan<- Event) {
	defer close(out)

	attempts := 0
	delay := s.cfg.ReconnectBaseDelay

	for {
		if ctx.Err() != nil {
			return
		}

		if attempts >= s.cfg.MaxReconnectAttempts {
			err := &DisconnectError{Attempts: attempts, Last: s.Err()}
			s.setErr(err)
			logger.WithError(err).Error("market data reconnect budget exhausted")
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.streamURL(), nil)
		if err != nil {
			attempts++
			s.setErr(err)
			logger.WithError(err).WithField("attempt", attempts).Warn("websocket dial failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = nextBackoff(delay, s.cfg.ReconnectMaxDelay)
			continue
		}

		logger.WithField("url", s.streamURL()).Info("market data stream connected")
		delivered := s.consume(ctx, conn, out)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		if delivered {
			attempts = 0
			delay = s.cfg.ReconnectBaseDelay
		} else {
			attempts++
		}
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = nextBackoff(delay, s.cfg.ReconnectMaxDelay)
	}
}

// consume reads messages until the connection breaks. Returns whether at
// least one event was delivered on this connection.
func (s *BinanceSource) consume(ctx context.Context, conn *websocket.Conn, out chan<- Event) bool {
	delivered := false

	// Unblock ReadMessage when the session shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.setErr(err)
				logger.WithError(err).Warn("websocket read failed, reconnecting")
			}
			return delivered
		}

		ev, ok := s.parse(payload)
		if !ok {
			continue
		}

		select {
		case out <- ev:
			delivered = true
		case <-ctx.Done():
			return delivered
		}
	}
}

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type bookTickerPayload struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

type klinePayload struct {
	EventTime int64 `json:"E"`
	Kline     struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// parse decodes one combined-stream frame. Malformed or invalid data is
// dropped with a log line; the stream keeps going.
func (s *BinanceSource) parse(payload []byte) (Event, bool) {
	var frame combinedFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		logger.WithError(err).Debug("dropping malformed stream frame")
		return Event{}, false
	}

	switch {
	case strings.HasSuffix(frame.Stream, "@bookTicker"):
		var bt bookTickerPayload
		if err := json.Unmarshal(frame.Data, &bt); err != nil {
			logger.WithError(err).Debug("dropping malformed bookTicker payload")
			return Event{}, false
		}
		bid, err := model.PriceFromString(bt.Bid)
		if err != nil {
			logger.WithError(err).Debug("dropping tick with invalid bid")
			return Event{}, false
		}
		ask, err := model.PriceFromString(bt.Ask)
		if err != nil {
			logger.WithError(err).Debug("dropping tick with invalid ask")
			return Event{}, false
		}
		tick := &model.Tick{
			Symbol:    bt.Symbol,
			Bid:       bid,
			Ask:       ask,
			Last:      bid.Add(ask).Div(two),
			Timestamp: time.Now().UTC(),
		}
		if !tick.Valid() {
			logger.Debug("dropping crossed tick")
			return Event{}, false
		}
		return Event{Tick: tick}, true

	case strings.Contains(frame.Stream, "@kline_"):
		var kp klinePayload
		if err := json.Unmarshal(frame.Data, &kp); err != nil {
			logger.WithError(err).Debug("dropping malformed kline payload")
			return Event{}, false
		}
		candle, err := candleFromStrings(s.cfg.Symbol,
			time.UnixMilli(kp.Kline.OpenTime).UTC(),
			kp.Kline.Open, kp.Kline.High, kp.Kline.Low, kp.Kline.Close, kp.Kline.Volume,
			kp.Kline.Closed)
		if err != nil {
			logger.WithError(err).Debug("dropping invalid kline")
			return Event{}, false
		}
		return Event{Candle: candle}, true
	}

	return Event{}, false
}

// FetchGap pulls closed klines for the missing window over REST.
func (s *BinanceSource) FetchGap(ctx context.Context, from, to time.Time) ([]model.Candle, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":    strings.ToUpper(s.cfg.Symbol),
			"interval":  utils.IntervalToBinance(s.cfg.CandleInterval),
			"startTime": fmt.Sprintf("%d", from.UnixMilli()),
			"endTime":   fmt.Sprintf("%d", to.UnixMilli()),
			"limit":     "1000",
		}).
		Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("kline backfill request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("kline backfill HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("kline backfill parse failed: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		fields := make([]string, 5)
		ok := true
		for i := range fields {
			if err := json.Unmarshal(row[i+1], &fields[i]); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		candle, err := candleFromStrings(s.cfg.Symbol, time.UnixMilli(openTime).UTC(),
			fields[0], fields[1], fields[2], fields[3], fields[4], true)
		if err != nil {
			logger.WithError(err).Debug("skipping invalid backfill kline")
			continue
		}
		candles = append(candles, *candle)
	}

	return candles, nil
}
