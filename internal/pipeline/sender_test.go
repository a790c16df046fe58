package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/commdesk/commsync/internal/bus"
	"github.com/commdesk/commsync/internal/cache"
	"github.com/commdesk/commsync/internal/contactkey"
	"github.com/commdesk/commsync/internal/gateway"
	"github.com/commdesk/commsync/internal/scheduler"
)

// mockGateway records sends and returns configurable results.
type mockGateway struct {
	sends   []sendCall
	err     error
	receipt *gateway.SendReceipt
	delay   time.Duration
}

type sendCall struct {
	Key  contactkey.Key
	Body string
}

func (m *mockGateway) SendMessage(ctx context.Context, key contactkey.Key, body string) (*gateway.SendReceipt, error) {
	m.sends = append(m.sends, sendCall{Key: key, Body: body})
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.receipt != nil {
		return m.receipt, nil
	}
	return &gateway.SendReceipt{ID: "srv-1", Status: gateway.StatusSent, CreatedAt: time.Now()}, nil
}

func (m *mockGateway) ListConversations(context.Context) ([]gateway.ConversationSummary, error) {
	return nil, nil
}

func (m *mockGateway) GetConversation(context.Context, contactkey.Key) (*gateway.RemoteConversation, error) {
	return nil, nil
}

func (m *mockGateway) MarkRead(context.Context, contactkey.Key) error { return nil }

func (m *mockGateway) DeleteConversation(context.Context, contactkey.Key) error { return nil }

func (m *mockGateway) SaveContact(context.Context, contactkey.Key, gateway.ContactDetails) (string, error) {
	return "", nil
}

type mockRefresher struct {
	keys []contactkey.Key
}

func (m *mockRefresher) Refresh(_ context.Context, key contactkey.Key, _ scheduler.Trigger) bool {
	m.keys = append(m.keys, key)
	return true
}

func newSender(gw gateway.Client, r Refresher) (*Sender, *cache.Cache) {
	c := cache.New(bus.New(), nil)
	return NewSender(gw, c, r, nil, time.Second), c
}

// User types a formatted number and sends; the cache shows one pending
// message immediately, then the committed server copy.
func TestSendCommitsServerReceipt(t *testing.T) {
	gw := &mockGateway{}
	r := &mockRefresher{}
	s, c := newSender(gw, r)

	_, err := s.Send(context.Background(), "(260) 555-0123", "hello")
	if err != nil {
		t.Fatal(err)
	}

	key := contactkey.MustNormalize("2605550123")
	conv := c.Get(key)
	if conv == nil || len(conv.Messages) != 1 {
		t.Fatalf("conversation = %+v, want 1 message", conv)
	}
	m := conv.Messages[0]
	if m.ID != "srv-1" || m.Status != cache.StatusSent {
		t.Errorf("message = %+v, want srv-1/sent", m)
	}

	if len(gw.sends) != 1 || gw.sends[0].Key != key {
		t.Errorf("sends = %+v, want one to %q", gw.sends, key)
	}
	if len(r.keys) != 1 || r.keys[0] != key {
		t.Errorf("post-send refresh keys = %v, want [%q]", r.keys, key)
	}
}

func TestSendValidatesBeforeNetwork(t *testing.T) {
	gw := &mockGateway{}
	s, c := newSender(gw, nil)

	var ve *ValidationError
	if _, err := s.Send(context.Background(), "", "hello"); !errors.As(err, &ve) {
		t.Errorf("empty recipient: err = %v, want ValidationError", err)
	}
	if _, err := s.Send(context.Background(), "5551234567", "   "); !errors.As(err, &ve) {
		t.Errorf("blank body: err = %v, want ValidationError", err)
	}

	if len(gw.sends) != 0 {
		t.Errorf("gateway called %d times, want 0", len(gw.sends))
	}
	if len(c.List()) != 0 {
		t.Error("cache mutated by rejected send")
	}
}

// Gateway timeout: message stays visible as failed, and a retry is a new
// pending message distinct from the failed one.
func TestSendFailureRollsBackAndRetryIsDistinct(t *testing.T) {
	gw := &mockGateway{err: errors.New("network down")}
	s, c := newSender(gw, nil)

	failedID, err := s.Send(context.Background(), "5551234567", "hello")
	if err == nil {
		t.Fatal("expected send error")
	}

	key := contactkey.MustNormalize("5551234567")
	conv := c.Get(key)
	if len(conv.Messages) != 1 || conv.Messages[0].Status != cache.StatusFailed {
		t.Fatalf("messages = %+v, want single failed", conv.Messages)
	}

	gw.err = nil
	retryID, err := s.Send(context.Background(), "5551234567", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if retryID == failedID {
		t.Error("retry reused the failed client id")
	}

	conv = c.Get(key)
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d messages, want 2 (failed + retried)", len(conv.Messages))
	}
	if conv.Messages[0].Status != cache.StatusFailed && conv.Messages[1].Status != cache.StatusFailed {
		t.Error("failed message was silently removed")
	}
}

func TestSendTimeoutRollsBack(t *testing.T) {
	gw := &mockGateway{delay: 5 * time.Second}
	c := cache.New(bus.New(), nil)
	s := NewSender(gw, c, nil, nil, 50*time.Millisecond)

	_, err := s.Send(context.Background(), "5551234567", "slow")
	if err == nil {
		t.Fatal("expected timeout error")
	}

	conv := c.Get(contactkey.MustNormalize("5551234567"))
	if len(conv.Messages) != 1 || conv.Messages[0].Status != cache.StatusFailed {
		t.Errorf("messages = %+v, want single failed after timeout", conv.Messages)
	}
}
