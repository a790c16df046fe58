package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ReplaceConversation writes a full conversation snapshot in one
// transaction: the conversation row is upserted and the message set is
// replaced wholesale. The cache never regresses, so replacing rather
// than merging keeps the mirror exact (a committed send swaps its
// client id for the server id, which an upsert would leave behind as a
// stale row).
func (db *DB) ReplaceConversation(conv *Conversation, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO conversations (contact_key, contact_name, contact_id, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_key) DO UPDATE SET
			contact_name = excluded.contact_name,
			contact_id = excluded.contact_id,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at`,
		conv.ContactKey, conv.ContactName, conv.ContactID, conv.UnreadCount,
		conv.LastMessageAt, conv.LastMessagePreview, now); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE contact_key = ?`, conv.ContactKey); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (contact_key, msg_id, direction, body, status, created_at, inserted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			conv.ContactKey, m.MsgID, m.Direction, m.Body, m.Status, m.CreatedAt, now); err != nil {
			return fmt.Errorf("insert message %q: %w", m.MsgID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// ListConversations returns conversation rows sorted by last activity
// descending.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT contact_key, contact_name, contact_id, unread_count, last_message_at, last_message_preview
		FROM conversations
		ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ContactKey, &c.ContactName, &c.ContactID, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation row by contact key.
func (db *DB) GetConversation(contactKey string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT contact_key, contact_name, contact_id, unread_count, last_message_at, last_message_preview
		FROM conversations
		WHERE contact_key = ?`, contactKey).
		Scan(&c.ContactKey, &c.ContactName, &c.ContactID, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteConversation removes a conversation and its messages.
func (db *DB) DeleteConversation(contactKey string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE contact_key = ?`, contactKey); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE contact_key = ?`, contactKey); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// ConversationCount returns the total number of persisted conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
