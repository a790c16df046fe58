package gateway

import (
	"time"

	"github.com/commdesk/commsync/internal/contactkey"
)

// Message direction on the wire.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Outbound message statuses reported by the gateway.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// ConversationSummary is one row of the gateway's conversation list.
type ConversationSummary struct {
	Key             contactkey.Key `json:"contact_key"`
	ContactName     string         `json:"contact_name,omitempty"`
	ContactID       string         `json:"contact_id,omitempty"`
	LastMessage     string         `json:"last_message"`
	LastMessageTime time.Time      `json:"last_message_time"`
	// UnreadCount is a pointer so a payload that omits the field is
	// distinguishable from an explicit zero: absent means "keep what
	// you have", zero means "nothing unread".
	UnreadCount *int `json:"unread_count"`
}

// RemoteMessage is a single message as returned by the gateway.
type RemoteMessage struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status,omitempty"`
}

// RemoteConversation is the gateway's full view of one thread.
type RemoteConversation struct {
	Key         contactkey.Key  `json:"contact_key"`
	ContactName string          `json:"contact_name,omitempty"`
	ContactID   string          `json:"contact_id,omitempty"`
	UnreadCount *int            `json:"unread_count"`
	Messages    []RemoteMessage `json:"messages"`
}

// SendReceipt is the gateway's acknowledgement of an accepted send.
type SendReceipt struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
}

// ContactDetails is the payload for creating a CRM contact record.
type ContactDetails struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Organization string `json:"organization,omitempty"`
}
