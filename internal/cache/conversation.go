package cache

import (
	"time"

	"github.com/commdesk/commsync/internal/contactkey"
)

// Direction of a message relative to the CRM user.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Status of an outbound message. Inbound messages carry no status.
// The only forward path is pending → sent → delivered; pending → failed
// is the rollback path. Delivered and failed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Message is one communication event owned by its conversation.
type Message struct {
	ID        string
	Direction Direction
	Body      string
	CreatedAt time.Time
	Status    Status
}

// Terminal reports whether the message status can no longer change.
func (m Message) Terminal() bool {
	return m.Status == StatusDelivered || m.Status == StatusFailed
}

// Conversation holds the ordered message history for one contact key.
// Messages are chronological, oldest first.
type Conversation struct {
	Key                contactkey.Key
	ContactName        string
	ContactID          string
	UnreadCount        int
	LastMessagePreview string
	LastMessageTime    time.Time
	Messages           []Message
}

func statusRank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusFailed:
		return 3
	default:
		return 0
	}
}
