package conversation

import "time"

// Role identifies which side of a negotiation a user occupies.
type Role string

const (
	RoleSeller Role = "SELLER"
	RoleBuyer  Role = "BUYER"
)

// Valid reports whether the role is one of the two negotiation sides.
func (r Role) Valid() bool {
	return r == RoleSeller || r == RoleBuyer
}

// Conversation is one buyer-seller negotiation thread (a room). It is the
// primary grouping key for fraud scanning and contract signing.
type Conversation struct {
	ID        string
	ItemID    int64
	SellerID  int64
	BuyerID   int64
	CreatedAt time.Time
}

// PartyRole returns the role the user holds in the conversation, or false
// if the user is not a party to it.
func (c Conversation) PartyRole(userID int64) (Role, bool) {
	switch userID {
	case c.SellerID:
		return RoleSeller, true
	case c.BuyerID:
		return RoleBuyer, true
	default:
		return "", false
	}
}

// Counterparty returns the other side of the conversation relative to userID.
func (c Conversation) Counterparty(userID int64) int64 {
	if userID == c.SellerID {
		return c.BuyerID
	}
	return c.SellerID
}
