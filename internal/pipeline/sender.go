package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/commdesk/commsync/internal/cache"
	"github.com/commdesk/commsync/internal/contactkey"
	"github.com/commdesk/commsync/internal/gateway"
	"github.com/commdesk/commsync/internal/metrics"
	"github.com/commdesk/commsync/internal/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ValidationError rejects a send before any network call or cache
// mutation. It is surfaced synchronously to the initiating surface.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid send: " + e.Reason }

// Refresher triggers a conversation refresh after a confirmed send, to
// pick up delivery confirmations the gateway only reports on reads.
type Refresher interface {
	Refresh(ctx context.Context, key contactkey.Key, trigger scheduler.Trigger) bool
}

// Sender makes sends feel instantaneous: the message appears in the
// cache as pending before the gateway call, then is committed with the
// server identity or rolled back to failed. Failed sends are never
// retried automatically; a user retry is a brand-new send with a fresh
// client id, so a duplicate can never be produced by this layer.
type Sender struct {
	gw        gateway.Client
	cache     *cache.Cache
	refresher Refresher
	logger    *zap.Logger
	timeout   time.Duration
}

// NewSender creates a send pipeline. A zero timeout defaults to 10s.
func NewSender(gw gateway.Client, c *cache.Cache, r Refresher, logger *zap.Logger, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{gw: gw, cache: c, refresher: r, logger: logger, timeout: timeout}
}

// Send validates, appends an optimistic pending message, submits to the
// gateway, and reconciles. Returns the client message id of the
// placeholder (also on failure, so the surface can point at the failed
// message inline) and the send error, if any.
func (s *Sender) Send(ctx context.Context, rawRecipient, body string) (string, error) {
	key, err := contactkey.Normalize(rawRecipient)
	if err != nil {
		return "", &ValidationError{Reason: err.Error()}
	}
	if strings.TrimSpace(body) == "" {
		return "", &ValidationError{Reason: "empty message body"}
	}

	clientMsgID := "local-" + uuid.New().String()
	s.cache.AppendPending(key, cache.Message{
		ID:        clientMsgID,
		Body:      body,
		CreatedAt: time.Now(),
	})

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	receipt, err := s.gw.SendMessage(sctx, key, body)
	if err != nil {
		s.cache.Rollback(key, clientMsgID, err.Error())
		metrics.Sends.WithLabelValues("error").Inc()
		s.logger.Warn("send failed",
			zap.String("key", key.String()),
			zap.String("client_msg_id", clientMsgID),
			zap.Error(err))
		return clientMsgID, fmt.Errorf("send message: %w", err)
	}

	s.cache.Commit(key, clientMsgID, receipt)
	metrics.Sends.WithLabelValues("ok").Inc()
	s.logger.Info("message sent",
		zap.String("key", key.String()),
		zap.String("client_msg_id", clientMsgID),
		zap.String("server_msg_id", receipt.ID))

	// Some gateways report delivery only on the next read, not in the
	// send response.
	if s.refresher != nil {
		s.refresher.Refresh(ctx, key, scheduler.TriggerPostSend)
	}
	return clientMsgID, nil
}
