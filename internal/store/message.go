package store

import "time"

// ListMessages returns messages for a conversation using keyset
// pagination by creation time, newest first.
func (db *DB) ListMessages(contactKey string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, contact_key, msg_id, direction, body, status, created_at
		FROM messages
		WHERE contact_key = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, contactKey, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ContactKey, &m.MsgID, &m.Direction, &m.Body, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AllMessages returns every message for a conversation in chronological
// order, for priming the cache at startup.
func (db *DB) AllMessages(contactKey string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, contact_key, msg_id, direction, body, status, created_at
		FROM messages
		WHERE contact_key = ?
		ORDER BY created_at ASC`, contactKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ContactKey, &m.MsgID, &m.Direction, &m.Body, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of persisted messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
