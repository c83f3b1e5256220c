package session

import (
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
)

// ExecRequest is one enqueued execution: the order, the candle that
// produced it, and the simulated latency to apply before filling.
type ExecRequest struct {
	Order   model.Order
	Candle  model.Candle
	Latency time.Duration
}

// ExecQueue is the bounded execution queue between the candle-close
// handler and the execution consumer. Enqueue never blocks: on overflow
// the order is dropped and counted, never silently lost.
type ExecQueue struct {
	ch      chan ExecRequest
	dropped atomic.Int64
}

func NewExecQueue(capacity int) *ExecQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &ExecQueue{ch: make(chan ExecRequest, capacity)}
}

// TryEnqueue attempts a non-blocking enqueue. Returns false when the
// queue is full; the drop is recorded.
func (q *ExecQueue) TryEnqueue(req ExecRequest) bool {
	select {
	case q.ch <- req:
		return true
	default:
		q.dropped.Add(1)
		logger.WithFields(map[string]interface{}{
			"order_id": req.Order.ID,
			"dropped":  q.dropped.Load(),
		}).Warn("execution queue full, order dropped")
		return false
	}
}

// C is the consumer side: orders arrive strictly in enqueue order and are
// meant to be processed one at a time.
func (q *ExecQueue) C() <-chan ExecRequest { return q.ch }

// Dropped returns how many orders overflowed.
func (q *ExecQueue) Dropped() int64 { return q.dropped.Load() }
