package session

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/broker"
	"papertrader/src/config"
	"papertrader/src/marketdata"
	"papertrader/src/model"
	"papertrader/src/strategy"
)

// taskGracePeriod bounds how long Run waits for tasks after cancellation.
const taskGracePeriod = 2 * time.Second

// Orchestrator supervises the session's fixed set of concurrent tasks
// against the shared market snapshot and the broker, and owns the single
// race-free shutdown path.
type Orchestrator struct {
	cfg     config.Config
	broker  *broker.Broker
	source  marketdata.Source
	engine  strategy.Engine
	journal ExceptionJournal

	market *MarketSnapshot
	queue  *ExecQueue

	stopping   atomic.Bool
	stopMu     sync.Mutex
	stopReason string
	cancel     context.CancelFunc

	errorCount atomic.Int64
	// last equity observed outside the broker, for the timeout report
	lastEquity atomic.Pointer[decimal.Decimal]
	startedAt  time.Time

	// ingestion-goroutine-local
	lastBackfill      time.Time
	consecutiveErrors int
}

// New wires an orchestrator. journal may be nil.
func New(cfg config.Config, b *broker.Broker, source marketdata.Source, engine strategy.Engine, journal ExceptionJournal) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		broker:  b,
		source:  source,
		engine:  engine,
		journal: journal,
		market:  NewMarketSnapshot(1000),
		queue:   NewExecQueue(cfg.ExecQueueCapacity),
	}
}

// Run executes the session until its duration elapses or a shutdown
// trigger fires, then performs the final flush and writes the report.
// The returned report is also written to cfg.ReportPath.
func (o *Orchestrator) Run(ctx context.Context) (model.FinalReport, error) {
	sessCtx, cancel := context.WithTimeout(ctx, o.cfg.SessionDuration)
	defer cancel()
	o.cancel = cancel
	o.startedAt = time.Now()
	o.noteEquity(o.broker.Equity())

	events, err := o.source.Events(sessCtx)
	if err != nil {
		report := o.buildReport(model.SessionStatusFeedLost)
		o.writeReport(report)
		return report, err
	}

	logger.WithFields(map[string]interface{}{
		"symbol":   o.cfg.Symbol,
		"source":   o.source.Name(),
		"strategy": o.engine.Name(),
		"duration": o.cfg.SessionDuration.String(),
	}).Info("session started")

	var wg sync.WaitGroup
	tasks := []func(context.Context){
		o.runConsumer,
		o.runWatchdog,
		o.runHeartbeat,
		o.runStaleMonitor,
		o.runKillSwitch,
	}
	if _, ok := o.source.(marketdata.FundingProvider); ok {
		tasks = append(tasks, o.runFunding)
	}
	for _, task := range tasks {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(sessCtx)
		}(task)
	}

	// Ingestion runs on this goroutine; it returns when the stream closes
	// or the session context ends.
	o.ingest(sessCtx, events)

	// Duration elapsed without another trigger means a normal completion.
	o.initiateShutdown(model.SessionStatusCompleted)
	cancel()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(taskGracePeriod):
		logger.Warn("tasks did not exit within grace period, continuing shutdown")
	}

	return o.finalFlush(), nil
}

// ingest consumes market events: validates them, maintains the snapshot,
// detects candle gaps, and drives candle-close handling.
func (o *Orchestrator) ingest(ctx context.Context, events <-chan marketdata.Event) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				if srcErr := o.source.Err(); srcErr != nil {
					o.capture(ctx, "ingestion", "Events", srcErr, nil)
					o.initiateShutdown(model.SessionStatusFeedLost)
				} else {
					// Finite stream (replay) ran out.
					o.initiateShutdown(model.SessionStatusCompleted)
				}
				return
			}

			o.market.Touch(time.Now())

			if ev.Tick != nil {
				if !ev.Tick.Valid() {
					o.consecutiveErrors++
					logger.WithField("consecutive", o.consecutiveErrors).Debug("dropping invalid tick")
					continue
				}
				o.market.SetTick(ev.Tick)
				o.consecutiveErrors = 0
			}

			if ev.Candle != nil {
				if !ev.Candle.Valid() {
					o.consecutiveErrors++
					logger.WithField("consecutive", o.consecutiveErrors).Warn("dropping invalid candle")
					continue
				}
				o.consecutiveErrors = 0
				if ev.Candle.Closed {
					o.maybeBackfill(ctx, ev.Candle)
					o.market.AppendCandle(*ev.Candle)
					o.onCandleClose(ctx, ev.Candle)
				}
			}
		}
	}
}

// maybeBackfill requests missing candles when the elapsed time since the
// previous bar exceeds 1.5x the expected interval, rate-limited to one
// request per BackfillMinInterval.
func (o *Orchestrator) maybeBackfill(ctx context.Context, candle *model.Candle) {
	last := o.market.LastCandleTime()
	if last.IsZero() {
		return
	}

	gap := candle.OpenTime.Sub(last)
	threshold := time.Duration(float64(o.cfg.CandleInterval) * 1.5)
	if gap <= threshold {
		return
	}
	if !o.lastBackfill.IsZero() && time.Since(o.lastBackfill) < o.cfg.BackfillMinInterval {
		return
	}
	o.lastBackfill = time.Now()

	from := last.Add(o.cfg.CandleInterval)
	to := candle.OpenTime

	logger.WithFields(map[string]interface{}{
		"gap":  gap.String(),
		"from": last,
		"to":   to,
	}).Warn("candle gap detected, requesting backfill")

	// Fetched off the ingestion goroutine: a slow REST call must not
	// stall tick consumption.
	go func() {
		filled, err := o.source.FetchGap(ctx, from, to)
		if err != nil {
			o.capture(ctx, "ingestion", "FetchGap", err, map[string]interface{}{
				"from": from, "to": to,
			})
			return
		}
		o.market.InsertCandles(filled)
	}()
}

// onCandleClose asks the strategy for a decision and enqueues any
// actionable order. Runs exit checks for the closed bar first so stops
// are honored before new entries.
func (o *Orchestrator) onCandleClose(ctx context.Context, candle *model.Candle) {
	o.broker.CheckExitCandle(ctx, candle)

	history := o.market.History()
	if len(history) < 2 {
		return
	}

	if o.broker.BreakerTripped() {
		o.initiateShutdown(model.SessionStatusBreaker)
		return
	}

	equity := o.broker.Equity()
	o.noteEquity(equity)

	sig := o.engine.Decide(history, strategy.State{
		HasOpenPosition: o.broker.HasPosition(),
		Equity:          equity,
	})
	if !sig.Go {
		return
	}

	order := o.buildOrder(sig, candle)
	req := ExecRequest{
		Order:   order,
		Candle:  *candle,
		Latency: o.simulatedLatency(),
	}

	if !o.queue.TryEnqueue(req) {
		// Recorded, never raised, and never charged against the error
		// budget: an overflow drop is an event, not a task fault.
		o.recordDrop(ctx, order)
		return
	}
	o.broker.OrderEnqueued(order)

	logger.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"side":     order.Side,
		"reason":   sig.Reason,
	}).Info("order enqueued")
}

// buildOrder sizes an order off realized equity and attaches stop and
// take-profit levels relative to the signal candle's close.
func (o *Orchestrator) buildOrder(sig model.Signal, candle *model.Candle) model.Order {
	equity := o.broker.Equity()
	notional := equity.Mul(decimal.NewFromInt(int64(o.cfg.OrderEquityPct))).Div(decimal.NewFromInt(100))

	hundred := decimal.NewFromInt(100)
	slFrac := o.cfg.StopLossPct.Div(hundred)
	tpFrac := o.cfg.TakeProfitPct.Div(hundred)

	var stop, take decimal.Decimal
	if sig.Side == model.SideLong {
		stop = candle.Close.Mul(decimal.NewFromInt(1).Sub(slFrac))
		take = candle.Close.Mul(decimal.NewFromInt(1).Add(tpFrac))
	} else {
		stop = candle.Close.Mul(decimal.NewFromInt(1).Add(slFrac))
		take = candle.Close.Mul(decimal.NewFromInt(1).Sub(tpFrac))
	}

	return model.Order{
		ID:         uuid.NewString(),
		Symbol:     o.cfg.Symbol,
		Side:       sig.Side,
		Kind:       model.OrderKindMarket,
		Notional:   notional,
		StopLoss:   stop,
		TakeProfit: take,
		CreatedAt:  time.Now(),
	}
}

func (o *Orchestrator) simulatedLatency() time.Duration {
	span := o.cfg.SimLatencyMax - o.cfg.SimLatencyMin
	if span <= 0 {
		return o.cfg.SimLatencyMin
	}
	return o.cfg.SimLatencyMin + time.Duration(rand.Int63n(int64(span)))
}

// initiateShutdown transitions the session to stopping exactly once. The
// compare-and-swap guards against concurrent triggers (stale-data monitor
// racing a feed failure, for instance).
func (o *Orchestrator) initiateShutdown(reason string) {
	if !o.stopping.CompareAndSwap(false, true) {
		return
	}
	o.stopMu.Lock()
	o.stopReason = reason
	o.stopMu.Unlock()

	logger.WithField("reason", reason).Info("session shutdown initiated")
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) shutdownReason() string {
	o.stopMu.Lock()
	defer o.stopMu.Unlock()
	if o.stopReason == "" {
		return model.SessionStatusCompleted
	}
	return o.stopReason
}

// finalFlush performs the last broker save and report write under a
// timeout, shielded from the session context: a stuck save must never
// hang the exit.
func (o *Orchestrator) finalFlush() model.FinalReport {
	flushCtx, cancel := context.WithTimeout(context.Background(), o.cfg.ShutdownTimeout)
	defer cancel()

	reason := o.shutdownReason()

	done := make(chan model.FinalReport, 1)
	go func() {
		if reason == model.SessionStatusBreaker {
			if tick := o.market.LatestTick(); tick.Valid() && o.broker.HasPosition() {
				o.broker.Flatten(flushCtx, tick.Mid(), model.ExitReasonCircuitBreaker)
			}
		}
		if err := o.broker.Shutdown(); err != nil {
			logger.WithError(err).Error("final state save failed")
		}
		report := o.buildReport(reason)
		o.writeReport(report)
		done <- report
	}()

	select {
	case report := <-done:
		logger.WithFields(map[string]interface{}{
			"status": report.Status,
			"pnl":    report.PnLAbsolute.String(),
		}).Info("session finished")
		return report
	case <-flushCtx.Done():
		logger.Warn("final flush timed out, exiting anyway")
		report := o.fallbackReport(reason)
		o.writeReport(report)
		return report
	}
}

func (o *Orchestrator) buildReport(status string) model.FinalReport {
	snapshot := o.broker.Snapshot()
	return model.FinalReport{
		Status:          status,
		ExitCode:        exitCodeFor(status),
		PnLAbsolute:     snapshot.Equity.Sub(snapshot.StartingEquity),
		ErrorCount:      o.errorCount.Load(),
		DurationSeconds: time.Since(o.startedAt).Seconds(),
	}
}

func (o *Orchestrator) noteEquity(equity decimal.Decimal) {
	o.lastEquity.Store(&equity)
}

// fallbackReport never touches the broker: when the flush is stuck inside
// a save, taking the ledger lock here would hang the exit. It reports the
// last equity observed before the stall.
func (o *Orchestrator) fallbackReport(status string) model.FinalReport {
	equity := o.cfg.StartingEquity
	if last := o.lastEquity.Load(); last != nil {
		equity = *last
	}
	return model.FinalReport{
		Status:          status,
		ExitCode:        exitCodeFor(status),
		PnLAbsolute:     equity.Sub(o.cfg.StartingEquity),
		ErrorCount:      o.errorCount.Load(),
		DurationSeconds: time.Since(o.startedAt).Seconds(),
	}
}

func exitCodeFor(status string) int {
	switch status {
	case model.SessionStatusCompleted:
		return 0
	case model.SessionStatusKilled:
		return 2
	case model.SessionStatusStale:
		return 3
	case model.SessionStatusBreaker:
		return 4
	case model.SessionStatusErrors:
		return 5
	case model.SessionStatusFeedLost:
		return 6
	default:
		return 1
	}
}

func (o *Orchestrator) writeReport(report model.FinalReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.WithError(err).Error("failed to marshal final report")
		return
	}
	if err := os.WriteFile(o.cfg.ReportPath, data, 0o644); err != nil {
		logger.WithError(err).Error("failed to write final report")
	}
}

// Status is the read-only session view served by the ops endpoint.
type Status struct {
	Symbol         string          `json:"symbol"`
	Strategy       string          `json:"strategy"`
	Equity         decimal.Decimal `json:"equity"`
	Position       *model.Position `json:"position"`
	BreakerTripped bool            `json:"breaker_tripped"`
	ErrorCount     int64           `json:"error_count"`
	DroppedOrders  int64           `json:"dropped_orders"`
	LastEventAt    time.Time       `json:"last_event_at"`
	ElapsedSec     float64         `json:"elapsed_sec"`
}

// Status snapshots the running session for the ops server.
func (o *Orchestrator) Status() Status {
	return Status{
		Symbol:         o.cfg.Symbol,
		Strategy:       o.engine.Name(),
		Equity:         o.broker.Equity(),
		Position:       o.broker.Position(),
		BreakerTripped: o.broker.BreakerTripped(),
		ErrorCount:     o.errorCount.Load(),
		DroppedOrders:  o.queue.Dropped(),
		LastEventAt:    o.market.LastEventAt(),
		ElapsedSec:     time.Since(o.startedAt).Seconds(),
	}
}
