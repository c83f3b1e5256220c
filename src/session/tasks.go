package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	logger "github.com/sirupsen/logrus"

	"papertrader/src/marketdata"
	"papertrader/src/model"
	"papertrader/src/utils"
)

// runConsumer is the execution-queue consumer: strictly one order at a
// time, in enqueue order. The simulated latency elapses before the
// latest tick is re-read, so fills always use the post-latency price,
// never the price the signal was generated on.
func (o *Orchestrator) runConsumer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case req := <-o.queue.C():
			if !sleepCtx(ctx, req.Latency) {
				return
			}

			tick := o.market.LatestTick()
			_, err := o.broker.OnOrder(ctx, req.Order, &req.Candle, tick)

			var rej *model.Rejection
			switch {
			case err == nil:
			case errors.As(err, &rej):
				logger.WithFields(map[string]interface{}{
					"order_id": req.Order.ID,
					"kind":     rej.Kind,
				}).Info("order rejected")
			default:
				o.capture(ctx, "consumer", "OnOrder", err, map[string]interface{}{
					"order_id": req.Order.ID,
				})
			}
		}
	}
}

// runWatchdog polls stop/take-profit/trailing levels against the latest
// tick between candle closes; intrabar moves can breach levels long
// before the bar confirms. Panics are caught and counted, never allowed
// to kill the task.
func (o *Orchestrator) runWatchdog(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.watchdogPass(ctx)
		}
	}
}

func (o *Orchestrator) watchdogPass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.capture(ctx, "watchdog", "CheckExitTick", fmt.Errorf("panic: %v", r), nil)
		}
	}()

	if !o.broker.HasPosition() {
		return
	}
	tick := o.market.LatestTick()
	if tick == nil {
		return
	}
	o.broker.CheckExitTick(ctx, tick)
}

// runHeartbeat overwrites the liveness file every interval.
func (o *Orchestrator) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			equity := o.broker.Equity()
			o.noteEquity(equity)
			hb := model.Heartbeat{
				TS:         now.UTC().Format(time.RFC3339),
				UnixTS:     now.Unix(),
				Equity:     equity,
				Symbol:     o.cfg.Symbol,
				ElapsedSec: now.Sub(o.startedAt).Seconds(),
			}
			data, err := json.Marshal(hb)
			if err != nil {
				o.capture(ctx, "heartbeat", "Marshal", err, nil)
				continue
			}
			if err := os.WriteFile(o.cfg.HeartbeatPath, data, 0o644); err != nil {
				// Persistence failure: log and keep running.
				logger.WithError(err).Warn("heartbeat write failed")
			}
		}
	}
}

// runStaleMonitor shuts the session down when no market event has
// arrived within the configured timeout. One-shot: the CAS inside
// initiateShutdown makes racing triggers harmless.
func (o *Orchestrator) runStaleMonitor(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.stopping.Load() {
				return
			}
			last := o.market.LastEventAt()
			if last.IsZero() {
				// No events yet; measure from session start.
				last = o.startedAt
			}
			if time.Since(last) > o.cfg.StaleDataTimeout {
				logger.WithField("timeout", o.cfg.StaleDataTimeout.String()).
					Warn("no market data within stale timeout")
				o.initiateShutdown(model.SessionStatusStale)
				return
			}
		}
	}
}

// runKillSwitch polls for the external sentinel file; when present it is
// consumed (deleted) and the session halts.
func (o *Orchestrator) runKillSwitch(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(o.cfg.KillSwitchPath); err != nil {
				continue
			}
			if err := os.Remove(o.cfg.KillSwitchPath); err != nil {
				logger.WithError(err).Warn("failed to delete kill-switch file")
			}
			logger.Warn("kill switch detected")
			o.initiateShutdown(model.SessionStatusKilled)
			return
		}
	}
}

// runFunding applies the funding rate once per 8h wall-clock window when
// the data source exposes one. Sources without the capability never get
// this task.
func (o *Orchestrator) runFunding(ctx context.Context) {
	fp, ok := o.source.(marketdata.FundingProvider)
	if !ok {
		return
	}

	const window = 8 * time.Hour

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastApplied time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := utils.FloorToInterval(time.Now().UTC(), window)
			if !current.After(lastApplied) {
				continue
			}
			tick := o.market.LatestTick()
			if !tick.Valid() {
				continue
			}
			rate, err := fp.FundingRate(ctx)
			if err != nil {
				o.capture(ctx, "funding", "FundingRate", err, nil)
				continue
			}
			o.broker.ApplyFunding(tick.Mid(), rate)
			lastApplied = current
		}
	}
}

// sleepCtx sleeps unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
