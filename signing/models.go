package signing

import "time"

// Status describes how far a signing case has progressed. The two signed-at
// timestamps are the source of truth; DeriveStatus is the only place that
// maps them to the enum, and the stored column is refreshed from it inside
// the same UPDATE that touches the timestamps.
type Status string

const (
	StatusPendingBoth   Status = "PENDING_BOTH"
	StatusPendingBuyer  Status = "PENDING_BUYER"
	StatusPendingSeller Status = "PENDING_SELLER"
	StatusCompleted     Status = "COMPLETED"
)

// DeriveStatus computes the case status from the two signature timestamps.
func DeriveStatus(sellerSignedAt, buyerSignedAt *time.Time) Status {
	switch {
	case sellerSignedAt != nil && buyerSignedAt != nil:
		return StatusCompleted
	case sellerSignedAt != nil:
		return StatusPendingBuyer
	case buyerSignedAt != nil:
		return StatusPendingSeller
	default:
		return StatusPendingBoth
	}
}

// Case is the signature-coordination record for one (conversation, item)
// pair. Mutations go through the repository only; there are no setters.
type Case struct {
	ID             int64
	ConversationID string
	ItemID         int64
	Status         Status
	SellerSignedAt *time.Time
	BuyerSignedAt  *time.Time
	CreatedAt      time.Time
}
