package notify

import "time"

// Type enumerates the alerts the marketplace emits. The values match the
// notification_type enum in the schema.
type Type string

const (
	TypeFraudWarning    Type = "FRAUD_WARNING"
	TypeContractRequest Type = "CONTRACT_REQUEST"
	TypeContractReject  Type = "CONTRACT_REJECT"
	TypeSignRequest     Type = "SIGN_REQUEST"
)

// Valid reports whether the type belongs to the closed enum.
func (t Type) Valid() bool {
	switch t {
	case TypeFraudWarning, TypeContractRequest, TypeContractReject, TypeSignRequest:
		return true
	default:
		return false
	}
}

// Params describes one alert to fan out.
type Params struct {
	RecipientID    int64
	SenderID       int64
	ConversationID string
	Type           Type
	Message        string
	AIRationale    string
}

// Record is the durable copy of a dispatched alert, retrievable later by
// recipients that were offline when the push went out.
type Record struct {
	ID             string
	RecipientID    int64
	SenderID       int64
	ConversationID string
	Type           Type
	Message        string
	AIRationale    *string
	CreatedAt      time.Time
}

// PushPayload is the wire shape delivered to a connected recipient.
type PushPayload struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
	RoomID  string `json:"roomId"`
}
