package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed signals Dispatch was called after Close.
var ErrClosed = errors.New("notify: dispatcher closed")

// LiveChannel pushes to a recipient's live connection. Delivery is
// best-effort: the recipient may simply be offline.
type LiveChannel interface {
	Push(ctx context.Context, recipientID int64, payload PushPayload) error
}

// RecordStore persists durable notification records.
type RecordStore interface {
	Insert(ctx context.Context, params Params) (Record, error)
}

const deliverTimeout = 5 * time.Second

// Dispatcher fans alerts out to connected parties and persists a durable
// record of each. It runs off the critical path of its callers: Dispatch
// only enqueues onto a bounded queue drained by a fixed worker pool, and
// every delivery failure is contained here.
type Dispatcher struct {
	channel LiveChannel
	store   RecordStore
	logger  *slog.Logger

	tasks chan Params
	wg    sync.WaitGroup

	// mu guards closed and, read-held, spans the enqueue itself: Close can
	// only close tasks once no Dispatch is parked in the send.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines draining a queue of queueSize.
func NewDispatcher(channel LiveChannel, store RecordStore, logger *slog.Logger, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 128
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		channel: channel,
		store:   store,
		logger:  logger,
		tasks:   make(chan Params, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch validates and enqueues one alert. The caller is not blocked on
// delivery; a full queue applies backpressure until a worker frees a slot
// or the caller's context ends.
func (d *Dispatcher) Dispatch(ctx context.Context, params Params) error {
	if params.RecipientID <= 0 {
		return fmt.Errorf("notify: recipient required")
	}
	if params.ConversationID == "" {
		return fmt.Errorf("notify: conversation id required")
	}
	if !params.Type.Valid() {
		return fmt.Errorf("notify: invalid type %q", params.Type)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.tasks <- params:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify: enqueue: %w", ctx.Err())
	}
}

// Close stops accepting new alerts and drains the queue before returning. It
// waits for in-flight Dispatch calls, so closing the channel cannot race a
// pending send.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.tasks)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for params := range d.tasks {
		d.deliver(params)
	}
}

// deliver performs the two independent effects. The push and the durable
// insert are deliberately not one all-or-nothing unit: a missed push must
// not prevent the record, and a failed insert must not suppress the push.
func (d *Dispatcher) deliver(params Params) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	if d.channel != nil {
		err := d.channel.Push(ctx, params.RecipientID, PushPayload{
			Type:    params.Type,
			Message: params.Message,
			RoomID:  params.ConversationID,
		})
		if err != nil {
			d.logger.Warn("notify: live push failed",
				"recipient_id", params.RecipientID,
				"conversation_id", params.ConversationID,
				"type", string(params.Type),
				"error", err,
			)
		}
	}

	if _, err := d.store.Insert(ctx, params); err != nil {
		d.logger.Error("notify: persist record failed",
			"recipient_id", params.RecipientID,
			"conversation_id", params.ConversationID,
			"type", string(params.Type),
			"error", err,
		)
	}
}
