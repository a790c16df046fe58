package hub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/commdesk/commsync/internal/bus"
	"github.com/commdesk/commsync/internal/cache"
	"github.com/commdesk/commsync/internal/contactkey"
	"github.com/commdesk/commsync/internal/gateway"
	"github.com/commdesk/commsync/internal/pipeline"
	"github.com/commdesk/commsync/internal/scheduler"
	"github.com/commdesk/commsync/internal/status"
	"github.com/commdesk/commsync/internal/store"
	"go.uber.org/zap"
)

// Hub is the single entry point presentation surfaces use: reads come
// from the cache, sends go through the optimistic pipeline, refreshes
// through the scheduler. Surfaces never talk to the gateway directly.
type Hub struct {
	gw      gateway.Client
	cache   *cache.Cache
	sched   *scheduler.Scheduler
	sender  *pipeline.Sender
	db      *store.DB
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
}

// New creates the hub facade over the assembled sync components.
func New(gw gateway.Client, c *cache.Cache, s *scheduler.Scheduler, snd *pipeline.Sender, db *store.DB, b *bus.Bus, m *status.Machine, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{gw: gw, cache: c, sched: s, sender: snd, db: db, bus: b, machine: m, logger: logger}
}

// Subscribe attaches a surface to cache-change notifications. The
// namespace is a kind prefix: "" for everything, "conversation." for
// cache mutations, "message." for send outcomes.
func (h *Hub) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return h.bus.Subscribe(namespace, bufSize)
}

// Get returns the cached conversation for a raw contact identifier.
// Synchronous, never touches the network.
func (h *Hub) Get(rawKey string) (*cache.Conversation, error) {
	key, err := contactkey.Normalize(rawKey)
	if err != nil {
		return nil, err
	}
	return h.cache.Get(key), nil
}

// List returns all cached conversations, newest activity first.
func (h *Hub) List() []cache.Conversation {
	return h.cache.List()
}

// Send is the optimistic send pipeline entry point.
func (h *Hub) Send(ctx context.Context, rawRecipient, body string) (string, error) {
	return h.sender.Send(ctx, rawRecipient, body)
}

// Refresh triggers a fetch for one conversation, or for the summary
// list when rawKey is empty. Duplicate triggers while a fetch is in
// flight are dropped.
func (h *Hub) Refresh(ctx context.Context, rawKey string) error {
	if strings.TrimSpace(rawKey) == "" {
		h.sched.RefreshList(ctx, scheduler.TriggerManual)
		return nil
	}
	key, err := contactkey.Normalize(rawKey)
	if err != nil {
		return err
	}
	h.sched.Refresh(ctx, key, scheduler.TriggerManual)
	return nil
}

// Focus marks a conversation as actively displayed: it refreshes now and
// joins the background poll until Blur.
func (h *Hub) Focus(ctx context.Context, rawKey string) error {
	key, err := contactkey.Normalize(rawKey)
	if err != nil {
		return err
	}
	h.sched.Focus(ctx, key)
	return nil
}

// Blur releases the focused conversation.
func (h *Hub) Blur(rawKey string) error {
	key, err := contactkey.Normalize(rawKey)
	if err != nil {
		return err
	}
	h.sched.Blur(key)
	return nil
}

// MarkRead zeroes the unread count locally and notifies the gateway in
// the background. Read state is best-effort: the local zeroing is never
// reverted even if the gateway call fails.
func (h *Hub) MarkRead(rawKey string) error {
	key, err := contactkey.Normalize(rawKey)
	if err != nil {
		return err
	}
	h.cache.MarkRead(key)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.gw.MarkRead(ctx, key); err != nil {
			h.logger.Warn("gateway mark-read failed", zap.String("key", key.String()), zap.Error(err))
		}
	}()
	return nil
}

// Delete removes a conversation server-side and then locally. Local
// state survives a failed gateway delete so history is never lost to a
// transient error.
func (h *Hub) Delete(ctx context.Context, rawKey string) error {
	key, err := contactkey.Normalize(rawKey)
	if err != nil {
		return err
	}
	if err := h.gw.DeleteConversation(ctx, key); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	h.cache.Remove(key)
	return nil
}

// SaveContact creates a CRM contact record for the endpoint and links it
// to the cached conversation.
func (h *Hub) SaveContact(ctx context.Context, rawKey string, details gateway.ContactDetails) (string, error) {
	key, err := contactkey.Normalize(rawKey)
	if err != nil {
		return "", err
	}
	contactID, err := h.gw.SaveContact(ctx, key, details)
	if err != nil {
		return "", fmt.Errorf("save contact: %w", err)
	}

	name := strings.TrimSpace(details.FirstName + " " + details.LastName)
	// UnreadCount stays nil: unknown here, so the cached count is kept.
	h.cache.MergeFetchResult(key, &gateway.RemoteConversation{
		Key:         key,
		ContactName: name,
		ContactID:   contactID,
	})
	return contactID, nil
}

// Search runs a full-text search over persisted message history,
// optionally scoped to one conversation.
func (h *Hub) Search(query, rawKey string, limit int) ([]store.SearchResult, error) {
	scope := ""
	if strings.TrimSpace(rawKey) != "" {
		key, err := contactkey.Normalize(rawKey)
		if err != nil {
			return nil, err
		}
		scope = key.String()
	}
	return h.db.SearchMessages(query, scope, limit)
}

// Status reports the daemon's view of gateway health.
func (h *Hub) Status() status.State {
	return h.machine.Current()
}
