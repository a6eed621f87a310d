package fraudscan

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeFetcher struct {
	msgs      []kafka.Message
	next      int
	committed [][]kafka.Message
	commitErr error
}

func (f *fakeFetcher) FetchMessage(_ context.Context) (kafka.Message, error) {
	if f.next >= len(f.msgs) {
		return kafka.Message{}, context.DeadlineExceeded
	}
	msg := f.msgs[f.next]
	f.next++
	return msg, nil
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, msgs)
	return nil
}

type stubProcessor struct {
	batches [][]ScanCandidate
	err     error
}

func (s *stubProcessor) ProcessBatch(_ context.Context, batch []ScanCandidate) ([]string, error) {
	s.batches = append(s.batches, batch)
	if s.err != nil {
		return nil, s.err
	}
	keys := make([]string, 0, len(batch))
	for _, c := range batch {
		keys = append(keys, c.RoomID)
	}
	return keys, nil
}

func encode(t *testing.T, c ScanCandidate) kafka.Message {
	t.Helper()
	body, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal candidate: %v", err)
	}
	return kafka.Message{Value: body}
}

func TestHandleBatch_CommitsOnSuccess(t *testing.T) {
	fetcher := &fakeFetcher{}
	processor := &stubProcessor{}
	c := NewConsumer(fetcher, processor, 10, 1, nil)

	msgs := []kafka.Message{
		encode(t, candidate("room-1", 1, 14, 11, "hello")),
		encode(t, candidate("room-1", 2, 11, 14, "hi")),
	}
	c.handleBatch(context.Background(), msgs)

	if len(processor.batches) != 1 || len(processor.batches[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %+v", processor.batches)
	}
	if len(fetcher.committed) != 1 || len(fetcher.committed[0]) != 2 {
		t.Fatalf("expected all fetched messages committed, got %+v", fetcher.committed)
	}
}

func TestHandleBatch_WithholdsAckOnProcessorError(t *testing.T) {
	fetcher := &fakeFetcher{}
	processor := &stubProcessor{err: errors.New("scorer down")}
	c := NewConsumer(fetcher, processor, 10, 1, nil)

	c.handleBatch(context.Background(), []kafka.Message{
		encode(t, candidate("room-1", 1, 14, 11, "hello")),
	})

	if len(fetcher.committed) != 0 {
		t.Fatalf("ack must be withheld on failure, got commits %+v", fetcher.committed)
	}
}

func TestHandleBatch_UndecodableMessageDroppedButAcked(t *testing.T) {
	fetcher := &fakeFetcher{}
	processor := &stubProcessor{}
	c := NewConsumer(fetcher, processor, 10, 1, nil)

	msgs := []kafka.Message{
		{Value: []byte("{not json")},
		encode(t, candidate("room-1", 1, 14, 11, "hello")),
	}
	c.handleBatch(context.Background(), msgs)

	if len(processor.batches) != 1 || len(processor.batches[0]) != 1 {
		t.Fatalf("expected only the decodable candidate processed, got %+v", processor.batches)
	}
	// Retrying a malformed payload can never succeed; the batch still acks.
	if len(fetcher.committed) != 1 || len(fetcher.committed[0]) != 2 {
		t.Fatalf("expected both messages committed, got %+v", fetcher.committed)
	}
}

func TestFetchBatch_DrainsUpToBatchSize(t *testing.T) {
	fetcher := &fakeFetcher{msgs: []kafka.Message{
		encode(t, candidate("room-1", 1, 14, 11, "a")),
		encode(t, candidate("room-1", 2, 14, 11, "b")),
		encode(t, candidate("room-2", 1, 21, 22, "c")),
		encode(t, candidate("room-2", 2, 21, 22, "d")),
	}}
	c := NewConsumer(fetcher, &stubProcessor{}, 3, 1, nil)

	msgs, err := c.fetchBatch(context.Background())
	if err != nil {
		t.Fatalf("fetch batch: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected batch capped at 3, got %d", len(msgs))
	}
}

func TestFetchBatch_StopsWhenQuiet(t *testing.T) {
	fetcher := &fakeFetcher{msgs: []kafka.Message{
		encode(t, candidate("room-1", 1, 14, 11, "a")),
	}}
	c := NewConsumer(fetcher, &stubProcessor{}, 10, 1, nil)

	msgs, err := c.fetchBatch(context.Background())
	if err != nil {
		t.Fatalf("fetch batch: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected partial batch on quiet topic, got %d", len(msgs))
	}
}
