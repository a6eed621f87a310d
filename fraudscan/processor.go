package fraudscan

import (
	"context"
	"fmt"
	"log/slog"

	"dealchain/conversation"
	"dealchain/notify"
	"dealchain/tracking"
)

// Scorer is the external fraud classifier. It receives one conversation's
// messages in arrival order and returns a likelihood with rationale.
type Scorer interface {
	Score(ctx context.Context, candidates []ScanCandidate) (ScoreResult, error)
}

// SystemRecorder is the audit hook; satisfied by tracking.Recorder.
type SystemRecorder interface {
	RecordSystem(ctx context.Context, db tracking.DBTX, actionType, conversationID string, subjectUserID int64, deviceInfo string) (tracking.Record, error)
}

// Notifier fans fraud warnings out; satisfied by notify.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, params notify.Params) error
}

// Processor turns one delivered batch into per-conversation scorer calls and
// the follow-up notification and audit writes. Groups within a batch are
// processed sequentially to keep failure semantics simple and auditable.
type Processor struct {
	scorer        Scorer
	conversations conversation.Reader
	recorder      SystemRecorder
	db            tracking.DBTX
	notifier      Notifier
	threshold     float64
	logger        *slog.Logger
}

func NewProcessor(scorer Scorer, conversations conversation.Reader, recorder SystemRecorder, db tracking.DBTX, notifier Notifier, threshold float64, logger *slog.Logger) *Processor {
	if threshold <= 0 {
		threshold = 0.8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		scorer:        scorer,
		conversations: conversations,
		recorder:      recorder,
		db:            db,
		notifier:      notifier,
		threshold:     threshold,
		logger:        logger,
	}
}

// ProcessBatch validates, groups by conversation, and scores each group once.
// It returns the keys of the groups handled so far. A non-nil error means
// the caller must withhold acknowledgement so the whole batch redelivers;
// partial acknowledgement is deliberately not offered.
func (p *Processor) ProcessBatch(ctx context.Context, batch []ScanCandidate) ([]string, error) {
	order, groups := p.groupValid(batch)

	handled := make([]string, 0, len(order))
	for _, roomID := range order {
		if err := p.processGroup(ctx, roomID, groups[roomID], &handled); err != nil {
			return handled, err
		}
	}
	return handled, nil
}

// groupValid drops structurally invalid candidates and groups the rest by
// room, preserving arrival order both across first-seen rooms and within
// each group.
func (p *Processor) groupValid(batch []ScanCandidate) ([]string, map[string][]ScanCandidate) {
	order := make([]string, 0, len(batch))
	groups := make(map[string][]ScanCandidate, len(batch))

	for _, c := range batch {
		if err := c.Validate(); err != nil {
			p.logger.Warn("fraudscan: dropping invalid candidate",
				"room_id", c.RoomID,
				"message_id", c.MessageID,
				"error", err,
			)
			continue
		}
		if _, seen := groups[c.RoomID]; !seen {
			order = append(order, c.RoomID)
		}
		groups[c.RoomID] = append(groups[c.RoomID], c)
	}
	return order, groups
}

func (p *Processor) processGroup(ctx context.Context, roomID string, group []ScanCandidate, handled *[]string) error {
	exists, err := p.conversations.Exists(ctx, roomID)
	if err != nil {
		return fmt.Errorf("fraudscan: check conversation %s: %w", roomID, err)
	}
	if !exists {
		// Raced with a deletion; the group is unscoreable but not a failure.
		p.logger.Warn("fraudscan: conversation gone, skipping group",
			"room_id", roomID,
			"messages", len(group),
		)
		*handled = append(*handled, roomID)
		return nil
	}

	result, err := p.scorer.Score(ctx, group)
	if err != nil {
		return fmt.Errorf("fraudscan: score conversation %s: %w", roomID, err)
	}

	if result.FraudScore >= p.threshold {
		p.flag(ctx, roomID, group, result)
	}

	*handled = append(*handled, roomID)
	return nil
}

// flag audits and notifies on a positive signal. The audit append is
// best-effort; the notification is mandatory but its delivery failures are
// contained by the dispatcher, so neither can fail the batch.
func (p *Processor) flag(ctx context.Context, roomID string, group []ScanCandidate, result ScoreResult) {
	last := group[len(group)-1]

	p.logger.Info("fraudscan: fraud signal detected",
		"room_id", roomID,
		"score", result.FraudScore,
		"fraud_type", result.FraudType,
		"sender_id", last.SenderID,
	)

	if p.recorder != nil {
		if _, err := p.recorder.RecordSystem(ctx, p.db, tracking.ActionFraudFlag, roomID, last.SenderID, ""); err != nil {
			p.logger.Warn("fraudscan: audit append failed",
				"room_id", roomID,
				"error", err,
			)
		}
	}

	message := "Warning: this conversation shows signs of fraud."
	if result.FraudType != "" {
		message = fmt.Sprintf("Warning: this conversation shows signs of %s.", result.FraudType)
	}
	err := p.notifier.Dispatch(ctx, notify.Params{
		RecipientID:    last.ReceiverID,
		SenderID:       last.SenderID,
		ConversationID: roomID,
		Type:           notify.TypeFraudWarning,
		Message:        message,
		AIRationale:    result.Reason,
	})
	if err != nil {
		p.logger.Warn("fraudscan: warning enqueue failed",
			"room_id", roomID,
			"error", err,
		)
	}
}
