package tracking

import "time"

// Record is one immutable audit entry proving which party performed which
// action in a conversation and when. No update path exists once written.
type Record struct {
	ID             int64
	ConversationID string
	UserID         int64
	RecordedAt     time.Time
	DeviceInfo     string
	ActionType     string
	Fingerprint    string
}

// Common action codes. ActionType is a free-form short code; these are the
// ones the signing and fraud pipelines emit.
const (
	ActionSign            = "SIGN"
	ActionUnsign          = "UNSIGN"
	ActionContractRequest = "CONTRACT_REQUEST"
	ActionContractReject  = "CONTRACT_REJECT"
	ActionFraudFlag       = "FRAUD_FLAG"
)
