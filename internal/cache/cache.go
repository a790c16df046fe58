package cache

import (
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/commdesk/commsync/internal/bus"
	"github.com/commdesk/commsync/internal/contactkey"
	"github.com/commdesk/commsync/internal/gateway"
	"go.uber.org/zap"
)

const previewLen = 100

// Cache is the single in-memory authority for all conversation state
// visible to presentation surfaces within one daemon session. Every
// mutation publishes a bus event so attached surfaces stay consistent
// without refetching. One instance per daemon run; tests construct their
// own.
type Cache struct {
	mu     sync.RWMutex
	convs  map[contactkey.Key]*Conversation
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an empty cache.
func New(b *bus.Bus, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		convs:  make(map[contactkey.Key]*Conversation),
		bus:    b,
		logger: logger,
	}
}

// Get returns a copy of the cached conversation, or nil if unknown.
// Synchronous read, no network access.
func (c *Cache) Get(key contactkey.Key) *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.convs[key]
	if !ok {
		return nil
	}
	return copyConversation(conv)
}

// List returns all cached conversations ordered by last activity, newest
// first.
func (c *Cache) List() []Conversation {
	c.mu.RLock()
	out := make([]Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		out = append(out, *copyConversation(conv))
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out
}

// MergeFetchResult reconciles a gateway conversation response into the
// cache. Messages are deduplicated by id; a local pending outbound whose
// body matches an arriving remote outbound is replaced by the remote
// version, which is what stops optimistic sends and poll refreshes from
// duplicating the same message. Remote unread counts, when present, are
// authoritative; a payload that omits the field keeps the cached count.
// Partial or malformed payloads only add information, they never remove
// cached messages or blank out known metadata.
func (c *Cache) MergeFetchResult(key contactkey.Key, remote *gateway.RemoteConversation) {
	if remote == nil {
		return
	}

	c.mu.Lock()
	conv := c.ensureLocked(key)

	if remote.ContactName != "" {
		conv.ContactName = remote.ContactName
	}
	if remote.ContactID != "" {
		conv.ContactID = remote.ContactID
	}
	if remote.UnreadCount != nil {
		conv.UnreadCount = *remote.UnreadCount
	}

	byID := make(map[string]int, len(conv.Messages))
	for i, m := range conv.Messages {
		if m.ID != "" {
			byID[m.ID] = i
		}
	}

	skipped := 0
	for _, rm := range remote.Messages {
		if rm.ID == "" || rm.Body == "" && rm.CreatedAt.IsZero() {
			skipped++
			continue
		}
		if i, ok := byID[rm.ID]; ok {
			applyRemote(&conv.Messages[i], rm)
			continue
		}
		if rm.Direction == gateway.DirectionOutbound {
			if i, ok := findPendingByBody(conv.Messages, rm.Body); ok {
				// The optimistic placeholder for this send; adopt the
				// server copy in place.
				conv.Messages[i].ID = rm.ID
				applyRemote(&conv.Messages[i], rm)
				byID[rm.ID] = i
				continue
			}
		}
		conv.Messages = append(conv.Messages, fromRemote(rm))
		byID[rm.ID] = len(conv.Messages) - 1
	}
	if skipped > 0 {
		c.logger.Warn("skipped malformed remote messages",
			zap.String("key", key.String()), zap.Int("count", skipped))
	}

	c.finishLocked(conv)
	c.mu.Unlock()

	c.bus.Emit(bus.KindConversationUpdated, bus.ConversationChange{Key: key.String()})
}

// MergeSummaries folds the gateway's conversation list into the cache:
// metadata only, message histories are untouched. Unknown keys get a new
// entry so the contact table can show threads never opened locally.
func (c *Cache) MergeSummaries(summaries []gateway.ConversationSummary) {
	changed := make([]contactkey.Key, 0, len(summaries))

	c.mu.Lock()
	for _, s := range summaries {
		if s.Key == "" {
			continue
		}
		conv := c.ensureLocked(s.Key)
		if s.ContactName != "" {
			conv.ContactName = s.ContactName
		}
		if s.ContactID != "" {
			conv.ContactID = s.ContactID
		}
		if s.UnreadCount != nil {
			conv.UnreadCount = *s.UnreadCount
		}
		// A pending local send can be ahead of the server's view; keep
		// the speculative preview in that case.
		if s.LastMessageTime.After(conv.LastMessageTime) {
			conv.LastMessageTime = s.LastMessageTime
			conv.LastMessagePreview = truncate(s.LastMessage, previewLen)
		}
		changed = append(changed, s.Key)
	}
	c.mu.Unlock()

	for _, key := range changed {
		c.bus.Emit(bus.KindConversationUpdated, bus.ConversationChange{Key: key.String()})
	}
}

// AppendPending inserts an optimistic outbound message at the tail of the
// conversation and updates preview metadata speculatively. Synchronous,
// no network wait.
func (c *Cache) AppendPending(key contactkey.Key, msg Message) {
	msg.Direction = Outbound
	msg.Status = StatusPending
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	c.mu.Lock()
	conv := c.ensureLocked(key)
	conv.Messages = append(conv.Messages, msg)
	conv.LastMessagePreview = truncate(msg.Body, previewLen)
	conv.LastMessageTime = msg.CreatedAt
	c.mu.Unlock()

	c.bus.Emit(bus.KindConversationUpdated, bus.ConversationChange{Key: key.String(), MsgID: msg.ID})
}

// Commit replaces the pending placeholder with gateway-confirmed data:
// the server-issued id, timestamp, and status. If a concurrent poll
// already merged the server copy the placeholder is simply retired.
func (c *Cache) Commit(key contactkey.Key, tempID string, receipt *gateway.SendReceipt) {
	c.mu.Lock()
	conv, ok := c.convs[key]
	if !ok {
		c.mu.Unlock()
		return
	}

	serverIdx := indexByID(conv.Messages, receipt.ID)
	tempIdx := indexByID(conv.Messages, tempID)

	switch {
	case tempIdx >= 0 && serverIdx >= 0 && tempIdx != serverIdx:
		// Poll merged the server copy by id before the send response
		// arrived; drop the now-redundant placeholder.
		conv.Messages = append(conv.Messages[:tempIdx], conv.Messages[tempIdx+1:]...)
	case tempIdx >= 0:
		m := &conv.Messages[tempIdx]
		m.ID = receipt.ID
		if !receipt.CreatedAt.IsZero() {
			m.CreatedAt = receipt.CreatedAt
		}
		if s := Status(receipt.Status); s != "" && !m.Terminal() && statusRank(s) > statusRank(m.Status) {
			m.Status = s
		} else if m.Status == StatusPending {
			m.Status = StatusSent
		}
	}

	c.finishLocked(conv)
	c.mu.Unlock()

	c.bus.Emit(bus.KindSendAck, bus.SendResult{Key: key.String(), ClientMsgID: tempID, ServerMsgID: receipt.ID})
}

// Rollback marks the placeholder failed. The message is retained so the
// surface can show the failure inline with a retry affordance.
func (c *Cache) Rollback(key contactkey.Key, tempID string, reason string) {
	c.mu.Lock()
	if conv, ok := c.convs[key]; ok {
		if i := indexByID(conv.Messages, tempID); i >= 0 {
			conv.Messages[i].Status = StatusFailed
		}
	}
	c.mu.Unlock()

	c.bus.Emit(bus.KindSendFailed, bus.SendResult{Key: key.String(), ClientMsgID: tempID, Error: reason})
}

// MarkRead zeroes the unread count locally. The paired gateway call is
// best-effort and this local zeroing is never reverted.
func (c *Cache) MarkRead(key contactkey.Key) {
	c.mu.Lock()
	if conv, ok := c.convs[key]; ok {
		conv.UnreadCount = 0
	}
	c.mu.Unlock()

	c.bus.Emit(bus.KindConversationUpdated, bus.ConversationChange{Key: key.String()})
}

// Remove evicts a conversation after an explicit user deletion.
func (c *Cache) Remove(key contactkey.Key) {
	c.mu.Lock()
	delete(c.convs, key)
	c.mu.Unlock()

	c.bus.Emit(bus.KindConversationRemoved, bus.ConversationChange{Key: key.String()})
}

// Prime loads a persisted snapshot into an empty cache at startup. No
// events are published; nothing is attached yet.
func (c *Cache) Prime(convs []Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range convs {
		conv := convs[i]
		c.convs[conv.Key] = &conv
	}
}

func (c *Cache) ensureLocked(key contactkey.Key) *Conversation {
	conv, ok := c.convs[key]
	if !ok {
		conv = &Conversation{Key: key}
		c.convs[key] = conv
	}
	return conv
}

// finishLocked restores chronological order and recomputes the preview
// metadata from the newest message.
func (c *Cache) finishLocked(conv *Conversation) {
	sort.SliceStable(conv.Messages, func(i, j int) bool {
		return conv.Messages[i].CreatedAt.Before(conv.Messages[j].CreatedAt)
	})
	if n := len(conv.Messages); n > 0 {
		last := conv.Messages[n-1]
		conv.LastMessagePreview = truncate(last.Body, previewLen)
		conv.LastMessageTime = last.CreatedAt
	}
}

func applyRemote(m *Message, rm gateway.RemoteMessage) {
	if rm.Body != "" {
		m.Body = rm.Body
	}
	if !rm.CreatedAt.IsZero() {
		m.CreatedAt = rm.CreatedAt
	}
	if rm.Direction != "" {
		m.Direction = Direction(rm.Direction)
	}
	// The server copy always wins over an optimistic placeholder, but a
	// terminal local status never regresses.
	if s := Status(rm.Status); s != "" && !m.Terminal() {
		m.Status = s
	}
}

func fromRemote(rm gateway.RemoteMessage) Message {
	return Message{
		ID:        rm.ID,
		Direction: Direction(rm.Direction),
		Body:      rm.Body,
		CreatedAt: rm.CreatedAt,
		Status:    Status(rm.Status),
	}
}

func findPendingByBody(msgs []Message, body string) (int, bool) {
	for i, m := range msgs {
		if m.Status == StatusPending && m.Direction == Outbound && m.Body == body {
			return i, true
		}
	}
	return 0, false
}

func indexByID(msgs []Message, id string) int {
	if id == "" {
		return -1
	}
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func copyConversation(conv *Conversation) *Conversation {
	out := *conv
	out.Messages = make([]Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return &out
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
