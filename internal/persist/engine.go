package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/commdesk/commsync/internal/bus"
	"github.com/commdesk/commsync/internal/cache"
	"github.com/commdesk/commsync/internal/contactkey"
	"github.com/commdesk/commsync/internal/status"
	"github.com/commdesk/commsync/internal/store"
	"go.uber.org/zap"
)

// errorAfterStoreFails is the number of consecutive store write failures
// before the daemon escalates to the Error state.
const errorAfterStoreFails = 3

// Engine mirrors cache mutations into the sqlite store. It subscribes to
// "conversation." events on the bus and writes the affected conversation
// snapshot through, so the mirror is eventually exact without the cache
// knowing the store exists.
type Engine struct {
	db      *store.DB
	cache   *cache.Cache
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	cancel  context.CancelFunc

	// storeFails counts consecutive failed writes. Only touched from the
	// event goroutine.
	storeFails int
}

// NewEngine creates a persistence engine. A run of store write failures
// moves the machine into the Error state; machine may be nil.
func NewEngine(db *store.DB, c *cache.Cache, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, cache: c, bus: b, machine: machine, logger: logger}
}

// Start subscribes to conversation events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("conversation.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	change, ok := evt.Payload.(bus.ConversationChange)
	if !ok {
		return
	}
	key := contactkey.Key(change.Key)

	switch evt.Kind {
	case bus.KindConversationRemoved:
		err := e.db.DeleteConversation(key.String())
		if err != nil {
			e.logger.Error("failed to delete persisted conversation", zap.Error(err), zap.String("key", key.String()))
		}
		e.recordStoreResult(err)
	default:
		err := e.Snapshot(key)
		if err != nil {
			e.logger.Error("failed to persist conversation", zap.Error(err), zap.String("key", key.String()))
		}
		e.recordStoreResult(err)
	}
}

func (e *Engine) recordStoreResult(err error) {
	if err == nil {
		e.storeFails = 0
		return
	}
	e.storeFails++
	if e.storeFails < errorAfterStoreFails || e.machine == nil {
		return
	}
	if terr := e.machine.Transition(status.Error); terr == nil {
		e.logger.Error("store writes keep failing, entering error state", zap.Int("failures", e.storeFails))
	}
}

// Snapshot writes the current cached state of one conversation to the store.
func (e *Engine) Snapshot(key contactkey.Key) error {
	conv := e.cache.Get(key)
	if conv == nil {
		return nil
	}

	row := &store.Conversation{
		ContactKey:         conv.Key.String(),
		ContactName:        conv.ContactName,
		ContactID:          conv.ContactID,
		UnreadCount:        conv.UnreadCount,
		LastMessageAt:      conv.LastMessageTime.UnixMilli(),
		LastMessagePreview: conv.LastMessagePreview,
	}
	msgs := make([]store.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		msgs = append(msgs, store.Message{
			ContactKey: conv.Key.String(),
			MsgID:      m.ID,
			Direction:  string(m.Direction),
			Body:       m.Body,
			Status:     string(m.Status),
			CreatedAt:  m.CreatedAt.UnixMilli(),
		})
	}

	if err := e.db.ReplaceConversation(row, msgs); err != nil {
		return fmt.Errorf("replace conversation: %w", err)
	}
	return nil
}

// Load reads the persisted snapshot for priming a fresh cache at startup.
func Load(db *store.DB) ([]cache.Conversation, error) {
	rows, err := db.ListConversations()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]cache.Conversation, 0, len(rows))
	for _, row := range rows {
		msgs, err := db.AllMessages(row.ContactKey)
		if err != nil {
			return nil, fmt.Errorf("load messages for %q: %w", row.ContactKey, err)
		}

		conv := cache.Conversation{
			Key:                contactkey.Key(row.ContactKey),
			ContactName:        row.ContactName,
			ContactID:          row.ContactID,
			UnreadCount:        row.UnreadCount,
			LastMessageTime:    time.UnixMilli(row.LastMessageAt),
			LastMessagePreview: row.LastMessagePreview,
		}
		for _, m := range msgs {
			conv.Messages = append(conv.Messages, cache.Message{
				ID:        m.MsgID,
				Direction: cache.Direction(m.Direction),
				Body:      m.Body,
				CreatedAt: time.UnixMilli(m.CreatedAt),
				Status:    cache.Status(m.Status),
			})
		}
		out = append(out, conv)
	}
	return out, nil
}
