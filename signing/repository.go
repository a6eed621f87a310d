package signing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrCaseNotFound signals no signing case exists for the lookup key. It is
// deliberately distinct from StatusPendingBoth: "not started" is not a state.
var ErrCaseNotFound = errors.New("signing: case not found")

// Querier is the read subset shared by pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository owns signing_cases persistence. Transactional methods take the
// caller's pgx.Tx so the surrounding lock scope is the caller's to control.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const caseColumns = `id, conversation_id, item_id, status::text, seller_signed_at, buyer_signed_at, created_at`

// GetOrCreateForUpdate returns the case for (conversationID, itemID), creating
// it atomically if absent, and leaves the row locked in the caller's
// transaction. The unique constraint on the key pair guarantees concurrent
// first callers converge on a single row.
func (r *Repository) GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, conversationID string, itemID int64) (Case, error) {
	if conversationID == "" {
		return Case{}, fmt.Errorf("signing: conversation id required")
	}
	if itemID <= 0 {
		return Case{}, fmt.Errorf("signing: item id required")
	}

	const insertSQL = `
		INSERT INTO signing_cases (conversation_id, item_id)
		VALUES ($1, $2)
		ON CONFLICT (conversation_id, item_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insertSQL, conversationID, itemID); err != nil {
		return Case{}, fmt.Errorf("signing: ensure case: %w", err)
	}

	const selectSQL = `
		SELECT ` + caseColumns + `
		FROM signing_cases
		WHERE conversation_id = $1 AND item_id = $2
		FOR UPDATE
	`
	c, err := scanCase(tx.QueryRow(ctx, selectSQL, conversationID, itemID))
	if err != nil {
		return Case{}, fmt.Errorf("signing: load case: %w", err)
	}
	return c, nil
}

// UpdateSignatures persists the timestamps and the status derived from them
// in one atomic statement, keeping the stored enum in sync with its source
// of truth.
func (r *Repository) UpdateSignatures(ctx context.Context, tx pgx.Tx, c Case) (Case, error) {
	status := DeriveStatus(c.SellerSignedAt, c.BuyerSignedAt)

	const updateSQL = `
		UPDATE signing_cases
		SET status = $1::signing_status,
		    seller_signed_at = $2,
		    buyer_signed_at = $3
		WHERE id = $4
		RETURNING ` + caseColumns + `
	`
	out, err := scanCase(tx.QueryRow(ctx, updateSQL, status, c.SellerSignedAt, c.BuyerSignedAt, c.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrCaseNotFound
		}
		return Case{}, fmt.Errorf("signing: update signatures: %w", err)
	}
	return out, nil
}

// FindLatestByConversation returns the most recent case for a conversation.
func (r *Repository) FindLatestByConversation(ctx context.Context, q Querier, conversationID string) (Case, error) {
	if conversationID == "" {
		return Case{}, fmt.Errorf("signing: conversation id required")
	}

	const query = `
		SELECT ` + caseColumns + `
		FROM signing_cases
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	c, err := scanCase(q.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrCaseNotFound
		}
		return Case{}, fmt.Errorf("signing: find latest case: %w", err)
	}
	return c, nil
}

func scanCase(row pgx.Row) (Case, error) {
	var c Case
	if err := row.Scan(
		&c.ID,
		&c.ConversationID,
		&c.ItemID,
		&c.Status,
		&c.SellerSignedAt,
		&c.BuyerSignedAt,
		&c.CreatedAt,
	); err != nil {
		return Case{}, err
	}
	return c, nil
}
