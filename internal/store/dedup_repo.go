package store

import (
	"time"
)

// DedupRecord represents an inbound chat message that has been seen.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	UserID      string     `json:"user_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo drops inbound messages the transport redelivers.
type DedupRepo interface {
	// IsDuplicate reports whether the message ID was already recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound records a new inbound message. It returns false when the
	// message was already recorded.
	RecordInbound(messageID, userID string) (bool, error)

	// MarkProcessed stamps processed_at once the bot has replied.
	MarkProcessed(messageID string) error

	// IsProcessed reports whether the message was recorded and replied to.
	// A recorded message without processed_at may be handled again.
	IsProcessed(messageID string) (bool, error)
}
