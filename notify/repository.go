package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists notification records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes one durable notification record.
func (r *Repository) Insert(ctx context.Context, params Params) (Record, error) {
	const insertSQL = `
		INSERT INTO notifications (id, recipient_id, sender_id, conversation_id, type, message, ai_rationale)
		VALUES ($1, $2, $3, $4, $5::notification_type, $6, $7)
		RETURNING id, recipient_id, sender_id, conversation_id, type::text, message, ai_rationale, created_at
	`

	var rationale *string
	if params.AIRationale != "" {
		rationale = &params.AIRationale
	}

	var rec Record
	if err := r.pool.QueryRow(ctx, insertSQL,
		uuid.NewString(),
		params.RecipientID,
		params.SenderID,
		params.ConversationID,
		params.Type,
		params.Message,
		rationale,
	).Scan(
		&rec.ID,
		&rec.RecipientID,
		&rec.SenderID,
		&rec.ConversationID,
		&rec.Type,
		&rec.Message,
		&rec.AIRationale,
		&rec.CreatedAt,
	); err != nil {
		return Record{}, fmt.Errorf("notify: insert record: %w", err)
	}

	return rec, nil
}

// ListForRecipient returns the newest notifications for a user, so missed
// pushes can be retrieved later.
func (r *Repository) ListForRecipient(ctx context.Context, recipientID int64, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, recipient_id, sender_id, conversation_id, type::text, message, ai_rationale, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID,
			&rec.RecipientID,
			&rec.SenderID,
			&rec.ConversationID,
			&rec.Type,
			&rec.Message,
			&rec.AIRationale,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("notify: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate records: %w", err)
	}

	return records, nil
}
