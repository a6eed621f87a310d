package fraudscan

import "fmt"

// MaxMessageLen bounds the text accepted for scoring. Longer payloads are
// structurally invalid and dropped, never retried.
const MaxMessageLen = 2000

// ScanCandidate is one inbound chat line eligible for fraud scoring. It is
// transient: consumed once per delivery attempt.
type ScanCandidate struct {
	Message    string `json:"message"`
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	RoomID     string `json:"roomId"`
	MessageID  int64  `json:"messageId"`
}

// Validate reports whether the candidate is structurally sound.
func (c ScanCandidate) Validate() error {
	if c.RoomID == "" {
		return fmt.Errorf("fraudscan: missing room id")
	}
	if c.SenderID <= 0 {
		return fmt.Errorf("fraudscan: non-positive sender id %d", c.SenderID)
	}
	if c.Message == "" {
		return fmt.Errorf("fraudscan: empty message")
	}
	if len(c.Message) > MaxMessageLen {
		return fmt.Errorf("fraudscan: message exceeds %d bytes", MaxMessageLen)
	}
	return nil
}

// ScoreResult is the scorer's verdict for one conversation group.
type ScoreResult struct {
	FraudScore float64 `json:"fraudScore"`
	FraudType  string  `json:"fraudType"`
	Reason     string  `json:"reason"`
}
