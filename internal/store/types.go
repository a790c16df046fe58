package store

// Conversation is a persisted conversation snapshot row.
type Conversation struct {
	ContactKey         string
	ContactName        string
	ContactID          string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is a persisted message row.
type Message struct {
	ID         int64
	ContactKey string
	MsgID      string
	Direction  string
	Body       string
	Status     string
	CreatedAt  int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
