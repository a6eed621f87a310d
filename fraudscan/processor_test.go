package fraudscan

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dealchain/conversation"
	"dealchain/notify"
	"dealchain/tracking"
)

type fakeScorer struct {
	calls   [][]ScanCandidate
	results map[string]ScoreResult
	errs    map[string]error
}

func (f *fakeScorer) Score(_ context.Context, candidates []ScanCandidate) (ScoreResult, error) {
	f.calls = append(f.calls, candidates)
	room := candidates[0].RoomID
	if err := f.errs[room]; err != nil {
		return ScoreResult{}, err
	}
	return f.results[room], nil
}

type fakeConvReader struct {
	missing map[string]bool
	err     error
}

func (f *fakeConvReader) GetByID(_ context.Context, id string) (conversation.Conversation, error) {
	if f.missing[id] {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return conversation.Conversation{ID: id}, f.err
}

func (f *fakeConvReader) Exists(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.missing[id], nil
}

type fakeNotifier struct {
	dispatched []notify.Params
	err        error
}

func (f *fakeNotifier) Dispatch(_ context.Context, params notify.Params) error {
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, params)
	return nil
}

type fakeAudit struct {
	records []string
	err     error
}

func (f *fakeAudit) RecordSystem(_ context.Context, _ tracking.DBTX, actionType, conversationID string, _ int64, _ string) (tracking.Record, error) {
	if f.err != nil {
		return tracking.Record{}, f.err
	}
	f.records = append(f.records, conversationID+"/"+actionType)
	return tracking.Record{}, nil
}

func candidate(room string, seq int64, sender, receiver int64, text string) ScanCandidate {
	return ScanCandidate{
		Message:    text,
		SenderID:   sender,
		ReceiverID: receiver,
		RoomID:     room,
		MessageID:  seq,
	}
}

func newTestProcessor(scorer *fakeScorer, convs *fakeConvReader, audit *fakeAudit, notifier *fakeNotifier) *Processor {
	return NewProcessor(scorer, convs, audit, nil, notifier, 0.8, nil)
}

func TestProcessBatch_OneScorerCallPerConversation(t *testing.T) {
	scorer := &fakeScorer{results: map[string]ScoreResult{}}
	p := newTestProcessor(scorer, &fakeConvReader{}, &fakeAudit{}, &fakeNotifier{})

	batch := []ScanCandidate{
		candidate("room-1", 1, 14, 11, "hi"),
		candidate("room-2", 1, 21, 22, "hello"),
		candidate("room-1", 2, 11, 14, "is this still available"),
		candidate("room-1", 3, 14, 11, "yes"),
		candidate("room-2", 2, 22, 21, "pay me off-platform"),
	}

	handled, err := p.ProcessBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(handled) != 2 {
		t.Fatalf("expected 2 handled groups, got %v", handled)
	}
	if len(scorer.calls) != 2 {
		t.Fatalf("expected exactly 2 scorer calls, got %d", len(scorer.calls))
	}

	// Each call receives only its own conversation's messages in arrival order.
	for _, call := range scorer.calls {
		room := call[0].RoomID
		var lastSeq int64
		for _, c := range call {
			if c.RoomID != room {
				t.Errorf("scorer call for %s contained message from %s", room, c.RoomID)
			}
			if c.MessageID <= lastSeq {
				t.Errorf("messages out of arrival order in %s: %d after %d", room, c.MessageID, lastSeq)
			}
			lastSeq = c.MessageID
		}
	}
	if len(scorer.calls[0]) != 3 || len(scorer.calls[1]) != 2 {
		t.Fatalf("unexpected group sizes: %d and %d", len(scorer.calls[0]), len(scorer.calls[1]))
	}
}

func TestProcessBatch_DropsInvalidWithoutRetry(t *testing.T) {
	scorer := &fakeScorer{results: map[string]ScoreResult{}}
	p := newTestProcessor(scorer, &fakeConvReader{}, &fakeAudit{}, &fakeNotifier{})

	batch := []ScanCandidate{
		candidate("room-1", 1, 14, 11, "fine"),
		candidate("room-1", 2, -3, 11, "negative sender"),
		candidate("room-1", 3, 14, 11, "fine too"),
		candidate("", 4, 14, 11, "missing room"),
		candidate("room-1", 5, 14, 11, strings.Repeat("x", MaxMessageLen+1)),
		candidate("room-1", 6, 14, 11, "last"),
	}

	handled, err := p.ProcessBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("expected invalid units dropped, not a batch failure: %v", err)
	}
	if len(handled) != 1 || handled[0] != "room-1" {
		t.Fatalf("expected room-1 handled, got %v", handled)
	}
	if len(scorer.calls) != 1 || len(scorer.calls[0]) != 3 {
		t.Fatalf("expected 3 valid messages scored, got %+v", scorer.calls)
	}
}

func TestProcessBatch_ScorerErrorWithholdsAck(t *testing.T) {
	scorer := &fakeScorer{
		results: map[string]ScoreResult{},
		errs:    map[string]error{"room-2": errors.New("model timeout")},
	}
	p := newTestProcessor(scorer, &fakeConvReader{}, &fakeAudit{}, &fakeNotifier{})

	batch := []ScanCandidate{
		candidate("room-1", 1, 14, 11, "ok"),
		candidate("room-2", 1, 21, 22, "bad"),
		candidate("room-3", 1, 31, 32, "never reached"),
	}

	handled, err := p.ProcessBatch(context.Background(), batch)
	if err == nil {
		t.Fatalf("expected error to propagate so the batch is redelivered")
	}
	if len(handled) != 1 || handled[0] != "room-1" {
		t.Fatalf("expected only room-1 handled before failure, got %v", handled)
	}
	if len(scorer.calls) != 2 {
		t.Fatalf("expected processing to stop at the failing group, got %d calls", len(scorer.calls))
	}
}

func TestProcessBatch_MissingConversationSkipped(t *testing.T) {
	scorer := &fakeScorer{results: map[string]ScoreResult{}}
	convs := &fakeConvReader{missing: map[string]bool{"room-gone": true}}
	p := newTestProcessor(scorer, convs, &fakeAudit{}, &fakeNotifier{})

	batch := []ScanCandidate{
		candidate("room-gone", 1, 14, 11, "hello"),
		candidate("room-1", 1, 14, 11, "hello"),
	}

	handled, err := p.ProcessBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("deleted conversation must not fail the batch: %v", err)
	}
	if len(handled) != 2 {
		t.Fatalf("expected both groups handled, got %v", handled)
	}
	if len(scorer.calls) != 1 || scorer.calls[0][0].RoomID != "room-1" {
		t.Fatalf("expected only the live conversation scored, got %+v", scorer.calls)
	}
}

func TestProcessBatch_PositiveSignalNotifiesAndAudits(t *testing.T) {
	scorer := &fakeScorer{results: map[string]ScoreResult{
		"room-42": {FraudScore: 0.95, FraudType: "wire fraud", Reason: "asks to pay outside the platform"},
	}}
	audit := &fakeAudit{}
	notifier := &fakeNotifier{}
	p := newTestProcessor(scorer, &fakeConvReader{}, audit, notifier)

	batch := []ScanCandidate{
		candidate("room-42", 1, 11, 14, "interested?"),
		candidate("room-42", 2, 14, 11, "wire me the deposit first"),
	}

	if _, err := p.ProcessBatch(context.Background(), batch); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	if len(notifier.dispatched) != 1 {
		t.Fatalf("expected one fraud warning, got %d", len(notifier.dispatched))
	}
	warn := notifier.dispatched[0]
	if warn.Type != notify.TypeFraudWarning {
		t.Errorf("expected fraud-warning type, got %s", warn.Type)
	}
	if warn.RecipientID != 11 || warn.SenderID != 14 {
		t.Errorf("warning should target the receiver of the flagged message: %+v", warn)
	}
	if warn.AIRationale != "asks to pay outside the platform" {
		t.Errorf("expected scorer rationale carried through, got %q", warn.AIRationale)
	}
	if len(audit.records) != 1 || audit.records[0] != "room-42/"+tracking.ActionFraudFlag {
		t.Errorf("expected fraud-flag audit record, got %v", audit.records)
	}
}

func TestProcessBatch_BelowThresholdStaysQuiet(t *testing.T) {
	scorer := &fakeScorer{results: map[string]ScoreResult{
		"room-1": {FraudScore: 0.2},
	}}
	notifier := &fakeNotifier{}
	p := newTestProcessor(scorer, &fakeConvReader{}, &fakeAudit{}, notifier)

	if _, err := p.ProcessBatch(context.Background(), []ScanCandidate{
		candidate("room-1", 1, 14, 11, "all good here"),
	}); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(notifier.dispatched) != 0 {
		t.Fatalf("expected no notification below threshold, got %d", len(notifier.dispatched))
	}
}

func TestProcessBatch_AuditFailureDoesNotFailBatch(t *testing.T) {
	scorer := &fakeScorer{results: map[string]ScoreResult{
		"room-1": {FraudScore: 0.99, FraudType: "phishing"},
	}}
	audit := &fakeAudit{err: errors.New("db briefly away")}
	notifier := &fakeNotifier{}
	p := newTestProcessor(scorer, &fakeConvReader{}, audit, notifier)

	handled, err := p.ProcessBatch(context.Background(), []ScanCandidate{
		candidate("room-1", 1, 14, 11, "click this link"),
	})
	if err != nil {
		t.Fatalf("audit failure must not withhold the batch: %v", err)
	}
	if len(handled) != 1 {
		t.Fatalf("expected group handled, got %v", handled)
	}
	if len(notifier.dispatched) != 1 {
		t.Fatalf("notification is mandatory even when audit fails, got %d", len(notifier.dispatched))
	}
}
