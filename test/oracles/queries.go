package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against the live database while the
// actors are mutating it. Each query must return zero rows.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_unique_case_per_key",
			SQL: `SELECT conversation_id, item_id, COUNT(*) FROM signing_cases
                  GROUP BY conversation_id, item_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_status_matches_timestamps",
			SQL: `SELECT id, status, seller_signed_at, buyer_signed_at FROM signing_cases
                  WHERE status <> (CASE
                      WHEN seller_signed_at IS NOT NULL AND buyer_signed_at IS NOT NULL THEN 'COMPLETED'
                      WHEN seller_signed_at IS NOT NULL THEN 'PENDING_BUYER'
                      WHEN buyer_signed_at IS NOT NULL THEN 'PENDING_SELLER'
                      ELSE 'PENDING_BOTH'
                  END)::signing_status`,
		},
		{
			Name: "O3_tracking_fingerprint_present",
			SQL: `SELECT id FROM tracking_records
                  WHERE fingerprint IS NULL OR length(fingerprint) <> 64`,
		},
		{
			Name: "O4_tracking_actor_is_party",
			SQL: `SELECT t.id, t.user_id FROM tracking_records t
                  JOIN conversations c ON c.id = t.conversation_id
                  WHERE t.user_id NOT IN (c.seller_id, c.buyer_id)`,
		},
		{
			Name: "O5_notification_recipient_is_party",
			SQL: `SELECT n.id, n.recipient_id FROM notifications n
                  JOIN conversations c ON c.id = n.conversation_id
                  WHERE n.recipient_id NOT IN (c.seller_id, c.buyer_id)`,
		},
		{
			Name: "O6_signature_not_backdated",
			SQL: `SELECT id FROM signing_cases
                  WHERE seller_signed_at > now() + interval '5 seconds'
                     OR buyer_signed_at > now() + interval '5 seconds'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
