package daemon

import (
	"context"

	"github.com/commdesk/commsync/internal/api"
	"github.com/commdesk/commsync/internal/bus"
	"github.com/commdesk/commsync/internal/cache"
	"github.com/commdesk/commsync/internal/config"
	"github.com/commdesk/commsync/internal/gateway"
	"github.com/commdesk/commsync/internal/hub"
	"github.com/commdesk/commsync/internal/lock"
	"github.com/commdesk/commsync/internal/logging"
	"github.com/commdesk/commsync/internal/metrics"
	"github.com/commdesk/commsync/internal/persist"
	"github.com/commdesk/commsync/internal/pipeline"
	"github.com/commdesk/commsync/internal/scheduler"
	"github.com/commdesk/commsync/internal/session"
	"github.com/commdesk/commsync/internal/status"
	"github.com/commdesk/commsync/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRegistry,
			provideGateway,
			provideCache,
			provideScheduler,
			provideSender,
			provideHub,
			providePersistEngine,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.NewDaemon(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	return reg
}

func provideGateway(p Params, logger *zap.Logger) (gateway.Client, error) {
	return gateway.NewRESTClient(gateway.Options{
		BaseURL: p.Config.Gateway.BaseURL,
		Token:   p.Config.Gateway.Token,
		Timeout: p.Config.Gateway.Timeout,
		RPS:     p.Config.Gateway.RatePerSecond,
	}, logger)
}

func provideCache(b *bus.Bus, logger *zap.Logger) *cache.Cache {
	return cache.New(b, logger)
}

func provideScheduler(p Params, gw gateway.Client, c *cache.Cache, m *status.Machine, logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.New(gw, c, m, logger, scheduler.Options{
		Interval:     p.Config.Sync.PollInterval,
		FetchTimeout: p.Config.Sync.FetchTimeout,
	})
}

func provideSender(p Params, gw gateway.Client, c *cache.Cache, s *scheduler.Scheduler, logger *zap.Logger) *pipeline.Sender {
	return pipeline.NewSender(gw, c, s, logger, p.Config.Sync.SendTimeout)
}

func provideHub(gw gateway.Client, c *cache.Cache, s *scheduler.Scheduler, snd *pipeline.Sender, db *store.DB, b *bus.Bus, m *status.Machine, logger *zap.Logger) *hub.Hub {
	return hub.New(gw, c, s, snd, db, b, m, logger)
}

func providePersistEngine(db *store.DB, c *cache.Cache, b *bus.Bus, m *status.Machine, logger *zap.Logger) *persist.Engine {
	return persist.NewEngine(db, c, b, m, logger)
}

func provideHandler(p Params, h *hub.Hub, logger *zap.Logger) *api.Handler {
	return api.NewHandler(p.SessionName, h, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, c *cache.Cache, engine *persist.Engine, sched *scheduler.Scheduler, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Warm the cache from persisted history so surfaces have
			// data before the first poll lands.
			convs, err := persist.Load(db)
			if err != nil {
				return err
			}
			c.Prime(convs)
			logger.Info("cache primed", zap.Int("conversations", len(convs)))

			engine.Start(context.Background())
			sched.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sched.Stop()
			engine.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
