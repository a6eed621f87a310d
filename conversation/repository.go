package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested conversation does not exist (or no
// longer exists, e.g. it raced with a deletion).
var ErrNotFound = errors.New("conversation: not found")

// Reader provides read access to conversations for callers that only need
// lookups, keeping fakes small in tests.
type Reader interface {
	GetByID(ctx context.Context, id string) (Conversation, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// Repository provides read access to conversation rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a conversation by its room identifier.
func (r *Repository) GetByID(ctx context.Context, id string) (Conversation, error) {
	const query = `
		SELECT id, item_id, seller_id, buyer_id, created_at
		FROM conversations
		WHERE id = $1
	`

	var conv Conversation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&conv.ID,
		&conv.ItemID,
		&conv.SellerID,
		&conv.BuyerID,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("conversation: query by id: %w", err)
	}

	return conv, nil
}

// Exists reports whether a conversation row is present.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("conversation: check existence: %w", err)
	}
	return exists, nil
}

// Create inserts a conversation row. Used by bootstrap fixtures and tests;
// rooms themselves originate in the chat system, which is out of scope here.
func (r *Repository) Create(ctx context.Context, conv Conversation) (Conversation, error) {
	if conv.ID == "" {
		return Conversation{}, fmt.Errorf("conversation: room id required")
	}
	if conv.SellerID <= 0 || conv.BuyerID <= 0 {
		return Conversation{}, fmt.Errorf("conversation: seller and buyer ids required")
	}

	const insertSQL = `
		INSERT INTO conversations (id, item_id, seller_id, buyer_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, item_id, seller_id, buyer_id, created_at
	`

	var out Conversation
	if err := r.pool.QueryRow(ctx, insertSQL, conv.ID, conv.ItemID, conv.SellerID, conv.BuyerID).Scan(
		&out.ID,
		&out.ItemID,
		&out.SellerID,
		&out.BuyerID,
		&out.CreatedAt,
	); err != nil {
		return Conversation{}, fmt.Errorf("conversation: insert: %w", err)
	}

	return out, nil
}
