package fraudscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// Fetcher is the subset of kafka.Reader the consumer uses. Commit is the
// acknowledgement: messages fetched but not committed are redelivered.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// BatchProcessor is satisfied by Processor.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch []ScanCandidate) ([]string, error)
}

// drainWait bounds how long a worker waits for additional messages after the
// first one, so batches fill without stalling a quiet topic.
const drainWait = 250 * time.Millisecond

// Consumer pulls scan-candidate batches off the queue and owns the
// ack-or-retry decision: a batch commits only when the processor reports
// success, otherwise the queue redelivers the whole batch. Separate workers
// run separate batches concurrently; one batch is always sequential.
type Consumer struct {
	reader    Fetcher
	processor BatchProcessor
	batchSize int
	workers   int
	logger    *slog.Logger
}

func NewConsumer(reader Fetcher, processor BatchProcessor, batchSize, workers int, logger *slog.Logger) *Consumer {
	if batchSize <= 0 {
		batchSize = 10
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader:    reader,
		processor: processor,
		batchSize: batchSize,
		workers:   workers,
		logger:    logger,
	}
}

// NewReader builds the kafka group reader the consumer is normally wired
// with in production.
func NewReader(brokers []string, groupID, topic string) (*kafka.Reader, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("fraudscan: at least one broker required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("fraudscan: consumer group id required")
	}
	if topic == "" {
		return nil, fmt.Errorf("fraudscan: topic required")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	}), nil
}

// Run blocks until ctx is cancelled, fanning batches across the worker pool.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			return c.runWorker(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) runWorker(ctx context.Context) error {
	for {
		msgs, err := c.fetchBatch(ctx)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			continue
		}
		c.handleBatch(ctx, msgs)
	}
}

// fetchBatch blocks for the first message, then drains whatever else arrives
// within drainWait, up to the batch size.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	msgs := []kafka.Message{first}
	for len(msgs) < c.batchSize {
		drainCtx, cancel := context.WithTimeout(ctx, drainWait)
		msg, err := c.reader.FetchMessage(drainCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if errors.Is(err, context.Canceled) {
				// Process what we already hold; the outer loop then stops.
				break
			}
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// handleBatch decodes, processes, and decides acknowledgement. Undecodable
// payloads are structurally invalid: logged, dropped, and still committed,
// because retrying them can never succeed.
func (c *Consumer) handleBatch(ctx context.Context, msgs []kafka.Message) {
	batch := make([]ScanCandidate, 0, len(msgs))
	for _, msg := range msgs {
		var candidate ScanCandidate
		if err := json.Unmarshal(msg.Value, &candidate); err != nil {
			c.logger.Warn("fraudscan: dropping undecodable message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		batch = append(batch, candidate)
	}

	handled, err := c.processor.ProcessBatch(ctx, batch)
	if err != nil {
		// No commit: the queue redelivers the whole batch, including the
		// groups that already succeeded. Coarse, but redelivery-safe.
		c.logger.Error("fraudscan: batch failed, withholding ack",
			"messages", len(msgs),
			"handled_groups", len(handled),
			"error", err,
		)
		return
	}

	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		c.logger.Error("fraudscan: commit failed, batch will redeliver",
			"messages", len(msgs),
			"error", err,
		)
	}
}
