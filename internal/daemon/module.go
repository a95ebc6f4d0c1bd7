package daemon

import (
	"context"

	"github.com/matheus3301/ims/internal/api"
	"github.com/matheus3301/ims/internal/bus"
	"github.com/matheus3301/ims/internal/config"
	"github.com/matheus3301/ims/internal/lock"
	"github.com/matheus3301/ims/internal/logging"
	"github.com/matheus3301/ims/internal/rpc"
	"github.com/matheus3301/ims/internal/session"
	"github.com/matheus3301/ims/internal/status"
	"github.com/matheus3301/ims/internal/store"
	intsync "github.com/matheus3301/ims/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
	Debug       bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideGateway,
			provideEngine,
			providePoller,
			provideServices,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Debug)
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
	l, err := lock.Acquire(session.LockPath(p.SessionName), p.SessionName)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the archive is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.StatePath(p.SessionName)
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
	if last, err := db.LastSave(); err == nil {
		logger.Info("previous state archived",
			zap.String("user", last.User),
			zap.Int64("taken_at", last.TakenAt),
			zap.Int("chats", last.Chats))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGateway(p Params, logger *zap.Logger) (*rpc.Client, error) {
	logger.Info("using ims server", zap.String("address", p.Config.ServerAddress))
	return rpc.Dial(p.Config.ServerAddress, logger.Named("rpc"))
}

func provideEngine(client *rpc.Client, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(client, b, logger.Named("sync"))
}

func providePoller(p Params, engine *intsync.Engine, machine *status.Machine, logger *zap.Logger) *intsync.Poller {
	return intsync.NewPoller(engine, machine, intsync.PollerConfig{
		Interval:      p.Config.PollInterval.Duration,
		FetchNewChats: p.Config.FetchNewChats,
	}, logger.Named("poller"))
}

func provideServices(p Params, machine *status.Machine, engine *intsync.Engine, db *store.DB, b *bus.Bus, logger *zap.Logger) api.Services {
	return api.Services{
		Session: api.NewSessionService(p.SessionName, machine, engine, db, logger),
		Friend:  api.NewFriendService(engine),
		Chat:    api.NewChatService(engine, logger),
		Event:   api.NewEventService(p.SessionName, b, logger),
	}
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, client *rpc.Client, engine *intsync.Engine, poller *intsync.Poller, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// Credentials are never persisted; every daemon starts logged out.
			_ = machine.Transition(status.AuthRequired)
			poller.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			poller.Stop()
			if _, ok := engine.User(); ok {
				if info, err := api.SaveState(engine, db); err != nil {
					logger.Warn("final state save failed", zap.Error(err))
				} else {
					logger.Info("state saved", zap.Int64("save_id", info.ID), zap.Int("chats", info.Chats))
				}
			}
			srv.Stop(ctx)
			if err := client.Close(); err != nil {
				logger.Warn("error closing ims connection", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
