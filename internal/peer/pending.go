package peer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"flock/internal/logger"
)

// pendingMessage is one queued outgoing message awaiting redelivery.
// ID lets a log line refer to "which queued message" without printing
// plaintext, and lets Flush check that the head it delivered is still
// the head before popping it.
type pendingMessage struct {
	ID        string
	Plaintext []byte
	QueuedAt  time.Time
}

// PendingQueue holds, per recipient, the ordered list of messages that
// failed delivery and are waiting for a retry.
type PendingQueue struct {
	mu    sync.Mutex
	lgr   logger.Logger
	queue map[string][]pendingMessage
}

// NewPendingQueue builds an empty pending-delivery queue.
func NewPendingQueue(lgr logger.Logger) *PendingQueue {
	if lgr == nil {
		lgr = &logger.NopLogger{}
	}
	return &PendingQueue{lgr: lgr.Named("pending"), queue: make(map[string][]pendingMessage)}
}

// Enqueue appends plaintext to recipient's pending list.
func (q *PendingQueue) Enqueue(recipient string, plaintext []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg := pendingMessage{ID: uuid.New().String(), Plaintext: append([]byte(nil), plaintext...), QueuedAt: time.Now()}
	q.queue[recipient] = append(q.queue[recipient], msg)
	q.lgr.Debug("enqueued pending message", logger.F("recipient", recipient), logger.F("id", msg.ID))
}

// Recipients lists every recipient with at least one pending message.
func (q *PendingQueue) Recipients() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.queue))
	for r, msgs := range q.queue {
		if len(msgs) > 0 {
			out = append(out, r)
		}
	}
	return out
}

// Flush attempts head-of-queue delivery for recipient repeatedly via
// deliver, popping the head on each success, stopping at the first
// failure (or an empty queue) so per-recipient order is preserved.
func (q *PendingQueue) Flush(recipient string, deliver func(plaintext []byte) bool) {
	for {
		q.mu.Lock()
		msgs := q.queue[recipient]
		if len(msgs) == 0 {
			q.mu.Unlock()
			return
		}
		head := msgs[0]
		q.mu.Unlock()

		if !deliver(head.Plaintext) {
			return
		}

		q.mu.Lock()
		msgs = q.queue[recipient]
		if len(msgs) > 0 && msgs[0].ID == head.ID {
			q.queue[recipient] = msgs[1:]
		}
		if len(q.queue[recipient]) == 0 {
			delete(q.queue, recipient)
		}
		q.mu.Unlock()
		q.lgr.Debug("delivered pending message", logger.F("recipient", recipient), logger.F("id", head.ID))
	}
}
