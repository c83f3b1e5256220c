package session

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
)

// ExceptionJournal optionally persists captured task errors.
type ExceptionJournal interface {
	RecordException(ctx context.Context, exc *model.Exception) error
}

// capture records a task-boundary error: logs it, counts it against the
// session error budget, and optionally journals it. Exceeding the budget
// initiates shutdown. Nothing captured here is allowed to propagate.
func (o *Orchestrator) capture(ctx context.Context, task, method string, err error, contextData map[string]interface{}) {
	if err == nil {
		return
	}

	count := o.errorCount.Add(1)

	logger.WithFields(map[string]interface{}{
		"task":        task,
		"method":      method,
		"error_count": count,
	}).WithError(err).Error("task error captured")

	if o.journal != nil {
		var ctxJSON string
		if contextData != nil {
			if b, e := json.Marshal(contextData); e == nil {
				ctxJSON = string(b)
			}
		}
		exc := &model.Exception{
			Task:      task,
			Method:    method,
			Message:   err.Error(),
			Stack:     string(debug.Stack()),
			Level:     "error",
			Context:   ctxJSON,
			CreatedAt: time.Now(),
		}
		if e := o.journal.RecordException(ctx, exc); e != nil {
			logger.WithError(e).Warn("failed to journal exception")
		}
	}

	if count >= o.cfg.ErrorBudget {
		o.initiateShutdown(model.SessionStatusErrors)
	}
}

// recordDrop records an order lost to execution-queue overflow. The queue
// already counted it; here it is logged and journaled. Drops do not touch
// the error budget, so a burst of signals cannot end the session.
func (o *Orchestrator) recordDrop(ctx context.Context, order model.Order) {
	logger.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"dropped":  o.queue.Dropped(),
	}).Warn("execution queue full, order dropped")

	if o.journal == nil {
		return
	}
	exc := &model.Exception{
		Task:      "candle_close",
		Method:    "TryEnqueue",
		Message:   fmt.Sprintf("order %s dropped: execution queue full", order.ID),
		Level:     "warn",
		CreatedAt: time.Now(),
	}
	if err := o.journal.RecordException(ctx, exc); err != nil {
		logger.WithError(err).Warn("failed to journal dropped order")
	}
}
