package broker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/config"
	"papertrader/src/model"
	"papertrader/src/risk"
	"papertrader/src/statestore"
	"papertrader/src/tp_sl"
)

// Journal optionally persists fills, exits and captured exceptions to the
// database. A nil journal disables it; the session never depends on it.
// Hooks are invoked after the ledger lock is released, so a stalled
// database cannot block trading or shutdown.
type Journal interface {
	RecordFill(ctx context.Context, fill *model.Fill) error
	RecordExit(ctx context.Context, exit *model.ExitEvent) error
}

// ExecutionResult carries what a broker call produced. Rejections arrive
// as *model.Rejection errors, fatal faults as anything else.
type ExecutionResult struct {
	Fills []model.Fill
	Exits []model.ExitEvent
}

// Broker owns the position/equity ledger and simulates fills against
// market data. It is the only component allowed to mutate SessionState.
// The execution consumer and the watchdog call in from different
// goroutines, so every public method takes the mutex: the idempotency
// check, the fill, and the persist must be atomic as a unit.
type Broker struct {
	mu  sync.Mutex
	cfg config.Config

	state     *model.SessionState
	processed map[string]struct{}
	breaker   *risk.CircuitBreaker
	store     *statestore.Store
	journal   Journal
	trailCfg  tp_sl.TrailingConfig

	jitter       func() float64 // uniform in [0,1)
	now          func() time.Time
	shutdownDone bool
}

// New builds a broker around a loaded (or fresh) session state. The
// circuit breaker resumes from the persisted status, so a tripped breaker
// stays tripped across a crash.
func New(cfg config.Config, state *model.SessionState, store *statestore.Store, journal Journal) *Broker {
	processed := make(map[string]struct{}, len(state.ProcessedOrderIDs))
	for _, id := range state.ProcessedOrderIDs {
		processed[id] = struct{}{}
	}

	breakerCfg := risk.BreakerConfig{
		MaxDailyDrawdownPct:  cfg.MaxDailyDrawdownPct,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
	}

	return &Broker{
		cfg:       cfg,
		state:     state,
		processed: processed,
		breaker:   risk.Restore(breakerCfg, state.Breaker),
		store:     store,
		journal:   journal,
		trailCfg: tp_sl.TrailingConfig{
			ActivateRMultiple: cfg.TrailActivateR,
			TrailRMultiple:    cfg.TrailDistanceR,
		},
		jitter: defaultJitter(),
		now:    time.Now,
	}
}

// OnOrder executes one order against the supplied market data. The fill
// price comes from the tick when one is available (post-latency, supplied
// by the caller) and is synthesized around the candle close otherwise.
//
// Only reject-and-return paths leave the ledger untouched. A second entry
// while a position is open is rejected outright: this broker does not
// average into positions (documented config decision).
func (b *Broker) OnOrder(ctx context.Context, order model.Order, candle *model.Candle, tick *model.Tick) (ExecutionResult, error) {
	b.mu.Lock()
	res, err := b.onOrderLocked(order, candle, tick)
	b.mu.Unlock()

	if err == nil {
		for i := range res.Fills {
			b.journalFill(ctx, res.Fills[i])
		}
	}
	return res, err
}

func (b *Broker) onOrderLocked(order model.Order, candle *model.Candle, tick *model.Tick) (ExecutionResult, error) {
	// The order is consumed regardless of outcome.
	b.removeWorkingLocked(order.ID)

	if order.ID == "" || (order.Side != model.SideLong && order.Side != model.SideShort) {
		return ExecutionResult{}, model.Rejectf(model.RejectBadOrder, "order missing id or side")
	}

	if b.breaker.IsTripped() {
		return ExecutionResult{}, model.Rejectf(model.RejectBreakerTripped, "circuit breaker is tripped")
	}

	if _, dup := b.processed[order.ID]; dup {
		logger.WithField("order_id", order.ID).Warn("duplicate order suppressed")
		return ExecutionResult{}, model.Rejectf(model.RejectDuplicate, "order %s already processed", order.ID)
	}

	if !b.state.LastTradeAt.IsZero() {
		if elapsed := b.now().Sub(b.state.LastTradeAt); elapsed < b.cfg.MinTradeInterval {
			return ExecutionResult{}, model.Rejectf(model.RejectThrottled,
				"only %s since last trade, minimum is %s", elapsed, b.cfg.MinTradeInterval)
		}
	}

	if b.state.Position != nil {
		return ExecutionResult{}, model.Rejectf(model.RejectPositionOpen,
			"position already open on %s", b.state.Position.Symbol)
	}

	price, slippage, err := b.fillPrice(order, candle, tick)
	if err != nil {
		return ExecutionResult{}, err
	}

	qty := order.Quantity
	if qty.LessThanOrEqual(decimal.Zero) {
		if order.Notional.LessThanOrEqual(decimal.Zero) {
			return ExecutionResult{}, model.Rejectf(model.RejectBadOrder, "order has neither quantity nor notional")
		}
		qty = order.Notional.Div(price)
	}

	fees := price.Mul(qty).Mul(b.cfg.FeeBps).Div(bpsDenominator)

	pos := &model.Position{
		Symbol:     order.Symbol,
		Side:       order.Side,
		EntryPrice: price,
		Quantity:   qty,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
		EntryTime:  b.now(),
		EntryFees:  fees,
	}

	fill := model.Fill{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     price,
		Quantity:  qty,
		Fees:      fees,
		Slippage:  slippage,
		Reason:    string(model.ExitReasonSignal),
		CreatedAt: b.now(),
	}

	b.state.Position = pos
	b.state.Equity = b.state.Equity.Sub(fees)
	b.state.LastTradeAt = b.now()
	b.state.Fills = append(b.state.Fills, fill)
	b.processed[order.ID] = struct{}{}
	b.state.ProcessedOrderIDs = append(b.state.ProcessedOrderIDs, order.ID)

	b.persistLocked()

	logger.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"side":     order.Side,
		"price":    price.String(),
		"qty":      qty.String(),
		"fees":     fees.String(),
		"slippage": slippage.String(),
	}).Info("order filled")

	return ExecutionResult{Fills: []model.Fill{fill}}, nil
}

// CheckExitCandle runs exit logic for one confirmed bar: advances the
// bars-held counter, evaluates stop / take-profit / trailing levels with
// gap-through-open handling, then ratchets the trailing stop. Idempotent
// when no position is open, so it can race with the tick watchdog.
func (b *Broker) CheckExitCandle(ctx context.Context, candle *model.Candle) ExecutionResult {
	b.mu.Lock()
	res := b.checkExitCandleLocked(candle)
	b.mu.Unlock()
	b.journalExits(ctx, res.Exits)
	return res
}

func (b *Broker) checkExitCandleLocked(candle *model.Candle) ExecutionResult {
	pos := b.state.Position
	if pos == nil || candle == nil || !candle.Valid() {
		return ExecutionResult{}
	}

	pos.BarsHeld++

	// The bar is judged against the trail level as it stood before the
	// bar; its own close must not tighten the level it is checked
	// against. The ratchet advances only after the bar survives.
	trigger := tp_sl.CheckCandle(pos, candle)
	if !trigger.Hit {
		b.advanceTrailingLocked(candle.Close)
		return ExecutionResult{}
	}

	exit := b.closePositionLocked(trigger.Price, trigger.Reason)
	return ExecutionResult{Exits: []model.ExitEvent{exit}}
}

// CheckExitTick runs exit logic for a live quote between candle closes.
func (b *Broker) CheckExitTick(ctx context.Context, tick *model.Tick) ExecutionResult {
	b.mu.Lock()
	res := b.checkExitTickLocked(tick)
	b.mu.Unlock()
	b.journalExits(ctx, res.Exits)
	return res
}

func (b *Broker) checkExitTickLocked(tick *model.Tick) ExecutionResult {
	pos := b.state.Position
	if pos == nil || !tick.Valid() {
		return ExecutionResult{}
	}

	trigger := tp_sl.CheckTick(pos, tick)
	if !trigger.Hit {
		b.advanceTrailingLocked(tick.Mid())
		return ExecutionResult{}
	}

	exit := b.closePositionLocked(trigger.Price, trigger.Reason)
	return ExecutionResult{Exits: []model.ExitEvent{exit}}
}

// Flatten closes any open position at the given mark price. Used when the
// session halts (circuit breaker) and the book must not stay open.
func (b *Broker) Flatten(ctx context.Context, mark decimal.Decimal, reason model.ExitReason) ExecutionResult {
	b.mu.Lock()
	if b.state.Position == nil || mark.LessThanOrEqual(decimal.Zero) {
		b.mu.Unlock()
		return ExecutionResult{}
	}
	exit := b.closePositionLocked(mark, reason)
	b.mu.Unlock()

	b.journalExit(ctx, exit)
	return ExecutionResult{Exits: []model.ExitEvent{exit}}
}

// ApplyFunding charges a funding payment against the open position at the
// given mark price. Longs pay when the rate is positive, shorts receive,
// and vice versa. No position means no-op.
func (b *Broker) ApplyFunding(mark, rate decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.state.Position
	if pos == nil || mark.LessThanOrEqual(decimal.Zero) {
		return
	}

	payment := pos.SignedQuantity().Mul(mark).Mul(rate)
	b.state.Equity = b.state.Equity.Sub(payment)

	logger.WithFields(map[string]interface{}{
		"rate":    rate.String(),
		"payment": payment.String(),
	}).Info("funding applied")
}

// OrderEnqueued records a working order in the persisted state so a crash
// between enqueue and execution is visible after restart.
func (b *Broker) OrderEnqueued(order model.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.WorkingOrders = append(b.state.WorkingOrders, model.WorkingOrder{
		Order:      order,
		EnqueuedAt: b.now(),
	})
	b.persistLocked()
}

// EquityNow returns the derived equity view at the given mark price.
func (b *Broker) EquityNow(mark decimal.Decimal) model.EquitySnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return model.EquitySnapshot{
		StartingEquity: b.state.StartingEquity,
		Equity:         b.state.Equity,
		UnrealizedPnL:  b.state.Position.UnrealizedPnL(mark),
		MarkPrice:      mark,
		At:             b.now(),
	}
}

// Equity returns realized equity.
func (b *Broker) Equity() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Equity
}

// HasPosition reports whether a position is open.
func (b *Broker) HasPosition() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Position != nil
}

// Position returns a copy of the open position, or nil.
func (b *Broker) Position() *model.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Position == nil {
		return nil
	}
	cp := *b.state.Position
	return &cp
}

// BreakerTripped reports whether the circuit breaker has halted trading.
func (b *Broker) BreakerTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.breaker.IsTripped()
}

// Snapshot returns a copy of the session state for read-only consumers
// (status endpoint, final report).
func (b *Broker) Snapshot() model.SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *b.state
	if b.state.Position != nil {
		pos := *b.state.Position
		cp.Position = &pos
	}
	cp.ProcessedOrderIDs = append([]string(nil), b.state.ProcessedOrderIDs...)
	cp.Fills = append([]model.Fill(nil), b.state.Fills...)
	cp.Exits = append([]model.ExitEvent(nil), b.state.Exits...)
	cp.WorkingOrders = append([]model.WorkingOrder(nil), b.state.WorkingOrders...)
	return cp
}

// Persist flushes the current state to disk. Persistence failures are
// logged and swallowed: the session keeps running on in-memory state and
// the next successful save recovers.
func (b *Broker) Persist() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.persistLocked()
}

// Shutdown flushes state one final time. Idempotent: once a flush has
// succeeded, further calls return immediately.
func (b *Broker) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.shutdownDone {
		return nil
	}
	if err := b.store.Save(b.state); err != nil {
		return err
	}
	b.shutdownDone = true
	return nil
}

// closePositionLocked realizes an exit at the given price. Realized PnL
// recorded on the event is (exit-entry)*signedQty minus both legs' fees;
// equity moves by the gross PnL minus exit fees only, since entry fees
// were already deducted at fill time.
func (b *Broker) closePositionLocked(price decimal.Decimal, reason model.ExitReason) model.ExitEvent {
	pos := b.state.Position

	exitFees := price.Mul(pos.Quantity).Mul(b.cfg.FeeBps).Div(bpsDenominator)
	gross := price.Sub(pos.EntryPrice).Mul(pos.SignedQuantity())
	tradePnL := gross.Sub(exitFees).Sub(pos.EntryFees)

	exit := model.ExitEvent{
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Price:     price,
		Quantity:  pos.Quantity,
		Fees:      exitFees,
		PnL:       tradePnL,
		Reason:    reason,
		CreatedAt: b.now(),
	}

	b.state.Equity = b.state.Equity.Add(gross).Sub(exitFees)
	b.state.Position = nil
	b.state.Exits = append(b.state.Exits, exit)
	b.state.LastTradeAt = b.now()

	b.breaker.Update(b.state.Equity, tradePnL)
	b.state.Breaker = b.breaker.Status()

	b.persistLocked()

	logger.WithFields(map[string]interface{}{
		"reason": reason,
		"price":  price.String(),
		"pnl":    tradePnL.String(),
		"equity": b.state.Equity.String(),
	}).Info("position closed")

	return exit
}

// advanceTrailingLocked ratchets the trailing stop for the open position.
func (b *Broker) advanceTrailingLocked(mark decimal.Decimal) {
	pos := b.state.Position
	level, active, moved := tp_sl.NextTrailing(pos, mark, b.trailCfg)
	if !moved && active == pos.TrailingActive {
		return
	}
	pos.TrailingActive = active
	pos.TrailingStop = level
	if moved {
		logger.WithFields(map[string]interface{}{
			"trail": level.String(),
			"mark":  mark.String(),
		}).Debug("trailing stop advanced")
	}
}

func (b *Broker) removeWorkingLocked(orderID string) {
	for i, wo := range b.state.WorkingOrders {
		if wo.Order.ID == orderID {
			b.state.WorkingOrders = append(b.state.WorkingOrders[:i], b.state.WorkingOrders[i+1:]...)
			return
		}
	}
}

func (b *Broker) persistLocked() {
	if b.store == nil {
		return
	}
	if err := b.store.Save(b.state); err != nil {
		logger.WithError(err).Warn("state save failed, continuing with in-memory state")
	}
}

func (b *Broker) journalFill(ctx context.Context, fill model.Fill) {
	if b.journal == nil {
		return
	}
	if err := b.journal.RecordFill(ctx, &fill); err != nil {
		logger.WithError(err).Warn("failed to journal fill")
	}
}

func (b *Broker) journalExit(ctx context.Context, exit model.ExitEvent) {
	if b.journal == nil {
		return
	}
	if err := b.journal.RecordExit(ctx, &exit); err != nil {
		logger.WithError(err).Warn("failed to journal exit")
	}
}

func (b *Broker) journalExits(ctx context.Context, exits []model.ExitEvent) {
	for i := range exits {
		b.journalExit(ctx, exits[i])
	}
}
