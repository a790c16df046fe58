package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/commdesk/commsync/internal/cache"
	"github.com/commdesk/commsync/internal/contactkey"
	"github.com/commdesk/commsync/internal/gateway"
	"github.com/commdesk/commsync/internal/metrics"
	"github.com/commdesk/commsync/internal/status"
	"go.uber.org/zap"
)

// Trigger identifies what caused a refresh, for logging and metrics.
type Trigger string

const (
	TriggerInterval Trigger = "interval"
	TriggerManual   Trigger = "manual"
	TriggerFocus    Trigger = "focus"
	TriggerPostSend Trigger = "post_send"
)

// guardGrace extends the in-flight guard slightly past the fetch timeout
// so a fetch that is just finishing is not raced by its replacement.
const guardGrace = 2 * time.Second

// Options configures the scheduler.
type Options struct {
	// Interval between background polls of the summary list and the
	// focused conversation.
	Interval time.Duration
	// FetchTimeout bounds every gateway call. A guard older than
	// FetchTimeout+grace is treated as expired, so a hung call can
	// never permanently disable polling for its key.
	FetchTimeout time.Duration
}

// Scheduler decides when to refresh which conversation and enforces at
// most one outstanding fetch per contact key. Duplicate triggers are
// dropped, not queued. Background failures are logged and reported to
// the health machine; they never surface to users and never leave a key
// in a stuck state.
type Scheduler struct {
	gw      gateway.Client
	cache   *cache.Cache
	machine *status.Machine
	logger  *zap.Logger

	interval     time.Duration
	fetchTimeout time.Duration

	mu        sync.Mutex
	inflight  map[contactkey.Key]time.Time
	listStart time.Time
	active    contactkey.Key

	cancel context.CancelFunc
}

// New creates a scheduler. Zero option fields get defaults (5s interval,
// 10s fetch timeout).
func New(gw gateway.Client, c *cache.Cache, m *status.Machine, logger *zap.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		gw:           gw,
		cache:        c,
		machine:      m,
		logger:       logger,
		interval:     opts.Interval,
		fetchTimeout: opts.FetchTimeout,
		inflight:     make(map[contactkey.Key]time.Time),
	}
}

// Start begins the background poll loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the poll loop. Fetches already in flight run on to their
// timeout and release their guards normally.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Prime the cache as soon as the daemon is up.
	s.RefreshList(ctx, TriggerInterval)

	for {
		select {
		case <-ticker.C:
			s.RefreshList(ctx, TriggerInterval)
			if key := s.activeKey(); key != "" {
				s.Refresh(ctx, key, TriggerInterval)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Focus marks a conversation as the one a surface is showing and
// refreshes it immediately.
func (s *Scheduler) Focus(ctx context.Context, key contactkey.Key) {
	s.mu.Lock()
	s.active = key
	s.mu.Unlock()
	s.Refresh(ctx, key, TriggerFocus)
}

// Blur clears the focused conversation if it is still key. The summary
// list keeps polling; only the per-conversation refresh stops.
func (s *Scheduler) Blur(key contactkey.Key) {
	s.mu.Lock()
	if s.active == key {
		s.active = ""
	}
	s.mu.Unlock()
}

func (s *Scheduler) activeKey() contactkey.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Refresh fetches one conversation unless a fetch for the key is already
// in flight. Returns whether a fetch was started.
func (s *Scheduler) Refresh(ctx context.Context, key contactkey.Key, trigger Trigger) bool {
	if key == "" {
		return false
	}
	stamp, ok := s.acquire(key)
	if !ok {
		metrics.DroppedTriggers.Inc()
		return false
	}

	go func() {
		defer s.release(key, stamp)
		// The fetch must outlive its trigger: an HTTP refresh handler
		// returns 202 immediately and its request context dies with it.
		// Keep the trigger's values, drop its cancellation.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()

		start := time.Now()
		conv, err := s.gw.GetConversation(fctx, key)
		metrics.GatewayLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			s.handleFetchError("get_conversation", key, trigger, err)
			return
		}
		s.cache.MergeFetchResult(key, conv)
		s.machine.ReportPoll(true)
		metrics.Fetches.WithLabelValues(string(trigger), "ok").Inc()
	}()
	return true
}

// RefreshList fetches the summary list of all conversations unless one
// is already in flight. Returns whether a fetch was started.
func (s *Scheduler) RefreshList(ctx context.Context, trigger Trigger) bool {
	stamp, ok := s.acquireList()
	if !ok {
		metrics.DroppedTriggers.Inc()
		return false
	}

	go func() {
		defer s.releaseList(stamp)
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()

		start := time.Now()
		summaries, err := s.gw.ListConversations(fctx)
		metrics.GatewayLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			s.handleFetchError("list_conversations", "", trigger, err)
			return
		}
		s.cache.MergeSummaries(summaries)
		s.machine.ReportPoll(true)
		metrics.Fetches.WithLabelValues(string(trigger), "ok").Inc()
	}()
	return true
}

func (s *Scheduler) handleFetchError(op string, key contactkey.Key, trigger Trigger, err error) {
	switch {
	case gateway.IsMalformed(err):
		// The gateway answered; only the payload was unusable.
		s.machine.ReportPoll(true)
		metrics.Fetches.WithLabelValues(string(trigger), "malformed").Inc()
		s.logger.Warn("malformed gateway response", zap.String("op", op), zap.String("key", key.String()), zap.Error(err))
	default:
		s.machine.ReportPoll(false)
		metrics.Fetches.WithLabelValues(string(trigger), "error").Inc()
		s.logger.Info("background fetch failed", zap.String("op", op), zap.String("key", key.String()), zap.Error(err))
	}
}

// acquire takes the per-key in-flight guard. A stale guard (older than
// the fetch timeout plus grace) is replaced rather than honoured. The
// returned stamp identifies the acquisition so a superseded fetch cannot
// release its successor's guard.
func (s *Scheduler) acquire(key contactkey.Key) (time.Time, bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if start, ok := s.inflight[key]; ok && now.Sub(start) < s.fetchTimeout+guardGrace {
		return time.Time{}, false
	}
	s.inflight[key] = now
	return now, true
}

func (s *Scheduler) release(key contactkey.Key, stamp time.Time) {
	s.mu.Lock()
	if s.inflight[key].Equal(stamp) {
		delete(s.inflight, key)
	}
	s.mu.Unlock()
}

func (s *Scheduler) acquireList() (time.Time, bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listStart.IsZero() && now.Sub(s.listStart) < s.fetchTimeout+guardGrace {
		return time.Time{}, false
	}
	s.listStart = now
	return now, true
}

func (s *Scheduler) releaseList(stamp time.Time) {
	s.mu.Lock()
	if s.listStart.Equal(stamp) {
		s.listStart = time.Time{}
	}
	s.mu.Unlock()
}
