package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dealchain/conversation"
	"dealchain/integrity"
)

var (
	// ErrNotParticipant signals the resolved principal is not a party to the
	// named conversation. Nothing is recorded in that case.
	ErrNotParticipant = errors.New("tracking: principal is not a party to the conversation")
	// ErrRoleMismatch signals the principal is a party but not the role the
	// caller claimed.
	ErrRoleMismatch = errors.New("tracking: principal does not hold the claimed role")
)

// DBTX is the subset of pgxpool.Pool and pgx.Tx the recorder writes through,
// so signing can append records inside its own transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RecordParams carries one audit append. PrincipalID must come from the
// authenticated principal resolved upstream, never from client input.
type RecordParams struct {
	ActionType     string
	ConversationID string
	Role           conversation.Role
	DeviceInfo     string
	PrincipalID    int64
}

// Recorder appends tamper-evident tracking records. Appends are independent
// inserts, so concurrent writers need no coordination.
type Recorder struct {
	conversations conversation.Reader
	now           func() time.Time
}

// NewRecorder builds a Recorder that verifies party membership through the
// given conversation reader.
func NewRecorder(conversations conversation.Reader) *Recorder {
	return &Recorder{
		conversations: conversations,
		now:           time.Now,
	}
}

// Record verifies the principal is the claimed party of the conversation and
// appends one audit entry. The timestamp is taken server-side at the moment
// of recording and anchors record ordering within the conversation.
func (r *Recorder) Record(ctx context.Context, db DBTX, params RecordParams) (Record, error) {
	if params.ConversationID == "" {
		return Record{}, fmt.Errorf("tracking: conversation id required")
	}
	if params.ActionType == "" {
		return Record{}, fmt.Errorf("tracking: action type required")
	}
	if !params.Role.Valid() {
		return Record{}, fmt.Errorf("tracking: invalid role %q", params.Role)
	}

	conv, err := r.conversations.GetByID(ctx, params.ConversationID)
	if err != nil {
		return Record{}, err
	}

	role, ok := conv.PartyRole(params.PrincipalID)
	if !ok {
		return Record{}, ErrNotParticipant
	}
	if role != params.Role {
		return Record{}, ErrRoleMismatch
	}

	return r.append(ctx, db, params.ConversationID, params.PrincipalID, params.DeviceInfo, params.ActionType)
}

// RecordSystem appends an audit entry on behalf of the pipeline itself, with
// the flagged user as subject. No party check: the actor is the server.
func (r *Recorder) RecordSystem(ctx context.Context, db DBTX, actionType, conversationID string, subjectUserID int64, deviceInfo string) (Record, error) {
	if conversationID == "" {
		return Record{}, fmt.Errorf("tracking: conversation id required")
	}
	if actionType == "" {
		return Record{}, fmt.Errorf("tracking: action type required")
	}
	return r.append(ctx, db, conversationID, subjectUserID, deviceInfo, actionType)
}

func (r *Recorder) append(ctx context.Context, db DBTX, conversationID string, userID int64, deviceInfo, actionType string) (Record, error) {
	// timestamptz keeps microseconds; hashing anything finer would make the
	// fingerprint unverifiable against the stored row.
	recordedAt := r.now().UTC().Truncate(time.Microsecond)
	fingerprint := integrity.Fingerprint(
		conversationID,
		strconv.FormatInt(userID, 10),
		deviceInfo,
		recordedAt.Format(time.RFC3339Nano),
		actionType,
	)

	const insertSQL = `
		INSERT INTO tracking_records (conversation_id, user_id, recorded_at, device_info, action_type, fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	rec := Record{
		ConversationID: conversationID,
		UserID:         userID,
		RecordedAt:     recordedAt,
		DeviceInfo:     deviceInfo,
		ActionType:     actionType,
		Fingerprint:    fingerprint,
	}
	if err := db.QueryRow(ctx, insertSQL,
		rec.ConversationID,
		rec.UserID,
		rec.RecordedAt,
		rec.DeviceInfo,
		rec.ActionType,
		rec.Fingerprint,
	).Scan(&rec.ID); err != nil {
		return Record{}, fmt.Errorf("tracking: insert record: %w", err)
	}

	return rec, nil
}
