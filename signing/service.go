package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"dealchain/conversation"
	"dealchain/notify"
	"dealchain/tracking"
)

var (
	// ErrNotParty signals the principal is not the claimed party of the
	// conversation. Surfaced to the caller; nothing is signed or recorded.
	ErrNotParty = errors.New("signing: principal is not the claimed party")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB is what the service needs from the pool: transactions for writes and
// direct reads for status lookups.
type DB interface {
	TxBeginner
	Querier
}

// CaseRepository defines the data access the service relies on.
type CaseRepository interface {
	GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, conversationID string, itemID int64) (Case, error)
	UpdateSignatures(ctx context.Context, tx pgx.Tx, c Case) (Case, error)
	FindLatestByConversation(ctx context.Context, q Querier, conversationID string) (Case, error)
}

// EventRecorder appends audit records; satisfied by tracking.Recorder.
type EventRecorder interface {
	Record(ctx context.Context, db tracking.DBTX, params tracking.RecordParams) (tracking.Record, error)
}

// Notifier fans alerts out to the counterparty; satisfied by notify.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, params notify.Params) error
}

// ActionParams carries one signing workflow action. PrincipalID is the
// server-resolved authenticated user, threaded explicitly through every call.
type ActionParams struct {
	ConversationID string
	ItemID         int64
	Role           conversation.Role
	DeviceInfo     string
	PrincipalID    int64
}

// Service coordinates the per-deal signing state machine. All read-modify-
// write sequences run in one transaction with the case row locked, so
// concurrent sign and undo calls for the same case serialize while separate
// cases proceed independently.
type Service struct {
	db            DB
	repo          CaseRepository
	conversations conversation.Reader
	recorder      EventRecorder
	notifier      Notifier
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(db DB, repo CaseRepository, conversations conversation.Reader, recorder EventRecorder, notifier Notifier, logger *slog.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:            db,
		repo:          repo,
		conversations: conversations,
		recorder:      recorder,
		notifier:      notifier,
		logger:        logger,
		now:           time.Now,
	}
}

// GetOrCreate returns the case for the key pair, creating it if absent.
func (s *Service) GetOrCreate(ctx context.Context, conversationID string, itemID int64) (Case, error) {
	if err := validateKey(conversationID, itemID); err != nil {
		return Case{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Case{}, fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetOrCreateForUpdate(ctx, tx, conversationID, itemID)
	if err != nil {
		return Case{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Case{}, fmt.Errorf("signing: commit tx: %w", err)
	}
	return c, nil
}

// Sign applies one party's signature. Re-signing by the same party is a
// no-op: the original timestamp is preserved, which makes redelivery and
// double clicks safe.
func (s *Service) Sign(ctx context.Context, params ActionParams) (Case, error) {
	conv, err := s.authorize(ctx, params)
	if err != nil {
		return Case{}, err
	}

	c, err := s.mutateCase(ctx, params, tracking.ActionSign, func(c *Case) {
		signedAt := s.now().UTC()
		switch params.Role {
		case conversation.RoleSeller:
			if c.SellerSignedAt == nil {
				c.SellerSignedAt = &signedAt
			}
		case conversation.RoleBuyer:
			if c.BuyerSignedAt == nil {
				c.BuyerSignedAt = &signedAt
			}
		}
	})
	if err != nil {
		return Case{}, err
	}

	if c.Status == StatusPendingBuyer || c.Status == StatusPendingSeller {
		s.notifyCounterparty(ctx, conv, params, notify.TypeSignRequest,
			"The other party signed the contract. Your signature is requested.")
	}
	return c, nil
}

// Undo invalidates the case after an edit. Both signatures are cleared, not
// just the acting party's: a changed contract voids prior consent from both
// sides, so the case always lands back on PENDING_BOTH.
func (s *Service) Undo(ctx context.Context, params ActionParams) (Case, error) {
	conv, err := s.authorize(ctx, params)
	if err != nil {
		return Case{}, err
	}

	c, err := s.mutateCase(ctx, params, tracking.ActionUnsign, func(c *Case) {
		c.SellerSignedAt = nil
		c.BuyerSignedAt = nil
	})
	if err != nil {
		return Case{}, err
	}

	s.notifyCounterparty(ctx, conv, params, notify.TypeSignRequest,
		"The contract changed and both signatures were reset. Please review and sign again.")
	return c, nil
}

// StatusOf reports the most recent case status for a conversation.
// ErrCaseNotFound means signing was never started, which callers must not
// conflate with PENDING_BOTH.
func (s *Service) StatusOf(ctx context.Context, conversationID string) (Status, error) {
	c, err := s.repo.FindLatestByConversation(ctx, s.db, conversationID)
	if err != nil {
		return "", err
	}
	return c.Status, nil
}

// RequestContract asks the counterparty to enter the signing flow.
func (s *Service) RequestContract(ctx context.Context, params ActionParams) error {
	return s.contractAction(ctx, params, tracking.ActionContractRequest, notify.TypeContractRequest,
		"You received a contract request for this deal.")
}

// RejectContract declines a pending contract request.
func (s *Service) RejectContract(ctx context.Context, params ActionParams) error {
	return s.contractAction(ctx, params, tracking.ActionContractReject, notify.TypeContractReject,
		"The contract request for this deal was declined.")
}

func (s *Service) contractAction(ctx context.Context, params ActionParams, action string, nt notify.Type, message string) error {
	conv, err := s.authorize(ctx, params)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.recorder.Record(ctx, tx, tracking.RecordParams{
		ActionType:     action,
		ConversationID: params.ConversationID,
		Role:           params.Role,
		DeviceInfo:     params.DeviceInfo,
		PrincipalID:    params.PrincipalID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("signing: commit tx: %w", err)
	}

	s.notifyCounterparty(ctx, conv, params, nt, message)
	return nil
}

// mutateCase runs the locked read-modify-write cycle shared by Sign and
// Undo, appending the audit record in the same transaction.
func (s *Service) mutateCase(ctx context.Context, params ActionParams, action string, mutate func(*Case)) (Case, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Case{}, fmt.Errorf("signing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetOrCreateForUpdate(ctx, tx, params.ConversationID, params.ItemID)
	if err != nil {
		return Case{}, err
	}

	mutate(&c)

	c, err = s.repo.UpdateSignatures(ctx, tx, c)
	if err != nil {
		return Case{}, err
	}

	if _, err := s.recorder.Record(ctx, tx, tracking.RecordParams{
		ActionType:     action,
		ConversationID: params.ConversationID,
		Role:           params.Role,
		DeviceInfo:     params.DeviceInfo,
		PrincipalID:    params.PrincipalID,
	}); err != nil {
		return Case{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Case{}, fmt.Errorf("signing: commit tx: %w", err)
	}
	return c, nil
}

func (s *Service) authorize(ctx context.Context, params ActionParams) (conversation.Conversation, error) {
	if err := validateKey(params.ConversationID, params.ItemID); err != nil {
		return conversation.Conversation{}, err
	}
	if !params.Role.Valid() {
		return conversation.Conversation{}, fmt.Errorf("signing: invalid role %q", params.Role)
	}
	if params.PrincipalID <= 0 {
		return conversation.Conversation{}, fmt.Errorf("signing: principal required")
	}

	conv, err := s.conversations.GetByID(ctx, params.ConversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}

	role, ok := conv.PartyRole(params.PrincipalID)
	if !ok || role != params.Role {
		return conversation.Conversation{}, ErrNotParty
	}
	return conv, nil
}

// notifyCounterparty runs off the critical path: the signing action already
// committed, so a failed enqueue is logged and swallowed.
func (s *Service) notifyCounterparty(ctx context.Context, conv conversation.Conversation, params ActionParams, nt notify.Type, message string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Dispatch(ctx, notify.Params{
		RecipientID:    conv.Counterparty(params.PrincipalID),
		SenderID:       params.PrincipalID,
		ConversationID: conv.ID,
		Type:           nt,
		Message:        message,
	})
	if err != nil {
		s.logger.Warn("signing: notification enqueue failed",
			"conversation_id", conv.ID,
			"type", string(nt),
			"error", err,
		)
	}
}

func validateKey(conversationID string, itemID int64) error {
	if conversationID == "" {
		return fmt.Errorf("signing: conversation id required")
	}
	if itemID <= 0 {
		return fmt.Errorf("signing: item id required")
	}
	return nil
}
