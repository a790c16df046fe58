package api

import (
	"time"

	"github.com/commdesk/commsync/internal/cache"
	"github.com/commdesk/commsync/internal/store"
)

// ConversationSummary is the list-view wire shape.
type ConversationSummary struct {
	Key                string    `json:"key"`
	ContactName        string    `json:"contact_name,omitempty"`
	ContactID          string    `json:"contact_id,omitempty"`
	UnreadCount        int       `json:"unread_count"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
	LastMessageTime    time.Time `json:"last_message_time"`
	MessageCount       int       `json:"message_count"`
}

// Message is the wire shape of one cached message.
type Message struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status,omitempty"`
}

// ConversationDetail is the full conversation wire shape.
type ConversationDetail struct {
	ConversationSummary
	Messages []Message `json:"messages"`
}

// SendRequest is the body of POST .../messages.
type SendRequest struct {
	Body string `json:"body"`
}

// SendResponse acknowledges an accepted optimistic send.
type SendResponse struct {
	ClientMsgID string `json:"client_msg_id"`
}

// ContactRequest is the body of POST /v1/contacts.
type ContactRequest struct {
	Key          string `json:"key"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Organization string `json:"organization,omitempty"`
}

// ContactResponse carries the CRM record id of a saved contact.
type ContactResponse struct {
	ContactID string `json:"contact_id"`
}

// SearchHit is one full-text search result.
type SearchHit struct {
	Key       string    `json:"key"`
	MsgID     string    `json:"msg_id"`
	Body      string    `json:"body"`
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusResponse reports daemon health.
type StatusResponse struct {
	Session string `json:"session"`
	State   string `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func summaryFromCache(c *cache.Conversation) ConversationSummary {
	return ConversationSummary{
		Key:                c.Key.String(),
		ContactName:        c.ContactName,
		ContactID:          c.ContactID,
		UnreadCount:        c.UnreadCount,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageTime:    c.LastMessageTime,
		MessageCount:       len(c.Messages),
	}
}

func detailFromCache(c *cache.Conversation) ConversationDetail {
	d := ConversationDetail{ConversationSummary: summaryFromCache(c), Messages: make([]Message, 0, len(c.Messages))}
	for _, m := range c.Messages {
		d.Messages = append(d.Messages, Message{
			ID:        m.ID,
			Direction: string(m.Direction),
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
			Status:    string(m.Status),
		})
	}
	return d
}

func hitFromStore(r store.SearchResult) SearchHit {
	return SearchHit{
		Key:       r.Message.ContactKey,
		MsgID:     r.Message.MsgID,
		Body:      r.Message.Body,
		Snippet:   r.Snippet,
		CreatedAt: time.UnixMilli(r.Message.CreatedAt).UTC(),
	}
}
