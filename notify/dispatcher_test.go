package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeChannel struct {
	mu     sync.Mutex
	pushes []PushPayload
	err    error
}

func (f *fakeChannel) Push(_ context.Context, _ int64, payload PushPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, payload)
	return f.err
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

type fakeStore struct {
	mu      sync.Mutex
	records []Params
	err     error
}

func (f *fakeStore) Insert(_ context.Context, params Params) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Record{}, f.err
	}
	f.records = append(f.records, params)
	return Record{ID: "n1", RecipientID: params.RecipientID}, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func validParams() Params {
	return Params{
		RecipientID:    11,
		SenderID:       14,
		ConversationID: "room-42",
		Type:           TypeFraudWarning,
		Message:        "This conversation looks like a wire fraud attempt.",
		AIRationale:    "requests payment outside the platform",
	}
}

func TestDispatch_PushFailureStillPersists(t *testing.T) {
	channel := &fakeChannel{err: errors.New("connection reset")}
	store := &fakeStore{}
	d := NewDispatcher(channel, store, nil, 1, 4)

	if err := d.Dispatch(context.Background(), validParams()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	if store.count() != 1 {
		t.Fatalf("expected durable record despite push failure, got %d", store.count())
	}
}

func TestDispatch_PersistFailureStillPushes(t *testing.T) {
	channel := &fakeChannel{}
	store := &fakeStore{err: errors.New("db down")}
	d := NewDispatcher(channel, store, nil, 1, 4)

	if err := d.Dispatch(context.Background(), validParams()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	if channel.count() != 1 {
		t.Fatalf("expected push despite persist failure, got %d", channel.count())
	}
}

func TestDispatch_ValidatesParams(t *testing.T) {
	d := NewDispatcher(&fakeChannel{}, &fakeStore{}, nil, 1, 4)
	defer d.Close()

	bad := []Params{
		{RecipientID: 0, ConversationID: "room-42", Type: TypeSignRequest},
		{RecipientID: 11, ConversationID: "", Type: TypeSignRequest},
		{RecipientID: 11, ConversationID: "room-42", Type: "PIGEON"},
	}
	for _, params := range bad {
		if err := d.Dispatch(context.Background(), params); err == nil {
			t.Errorf("expected validation error for %+v", params)
		}
	}
}

func TestDispatch_DoesNotRunEffectsSynchronously(t *testing.T) {
	block := make(chan struct{})
	channel := &blockingChannel{release: block}
	store := &fakeStore{}
	d := NewDispatcher(channel, store, nil, 1, 8)

	done := make(chan struct{})
	go func() {
		// Two dispatches: worker blocks on the first, second sits queued.
		_ = d.Dispatch(context.Background(), validParams())
		_ = d.Dispatch(context.Background(), validParams())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch blocked on delivery instead of enqueueing")
	}

	close(block)
	d.Close()

	if store.count() != 2 {
		t.Fatalf("expected 2 records after drain, got %d", store.count())
	}
}

func TestClose_DrainsQueueAndRejectsNewWork(t *testing.T) {
	channel := &fakeChannel{}
	store := &fakeStore{}
	d := NewDispatcher(channel, store, nil, 2, 16)

	for i := 0; i < 10; i++ {
		if err := d.Dispatch(context.Background(), validParams()); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	d.Close()

	if store.count() != 10 {
		t.Fatalf("expected all 10 queued alerts drained, got %d", store.count())
	}
	if err := d.Dispatch(context.Background(), validParams()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestClose_DoesNotPanicPendingDispatch(t *testing.T) {
	block := make(chan struct{})
	channel := &blockingChannel{release: block}
	store := &fakeStore{}
	d := NewDispatcher(channel, store, nil, 1, 1)

	// Worker blocks on the first push; the second fills the queue; the third
	// parks inside the enqueue.
	if err := d.Dispatch(context.Background(), validParams()); err != nil {
		t.Fatalf("dispatch 1: %v", err)
	}
	if err := d.Dispatch(context.Background(), validParams()); err != nil {
		t.Fatalf("dispatch 2: %v", err)
	}

	pendingErr := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("dispatch panicked during close: %v", r)
			}
		}()
		pendingErr <- d.Dispatch(context.Background(), validParams())
	}()

	closed := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		d.Close()
		close(closed)
	}()

	// Let the shutdown race the pending send before freeing the worker.
	time.Sleep(100 * time.Millisecond)
	close(block)

	select {
	case err := <-pendingErr:
		if err != nil {
			t.Fatalf("pending dispatch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending dispatch never returned")
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("close never returned")
	}

	if store.count() != 3 {
		t.Fatalf("expected all 3 alerts drained, got %d", store.count())
	}
	if err := d.Dispatch(context.Background(), validParams()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

type blockingChannel struct {
	release chan struct{}
}

func (b *blockingChannel) Push(_ context.Context, _ int64, _ PushPayload) error {
	<-b.release
	return nil
}
