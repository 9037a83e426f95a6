package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/complaintfeed/internal/api"
	"github.com/matheus3301/complaintfeed/internal/backend"
	"github.com/matheus3301/complaintfeed/internal/bus"
	"github.com/matheus3301/complaintfeed/internal/cache"
	"github.com/matheus3301/complaintfeed/internal/channel"
	"github.com/matheus3301/complaintfeed/internal/config"
	"github.com/matheus3301/complaintfeed/internal/feedview"
	"github.com/matheus3301/complaintfeed/internal/lock"
	"github.com/matheus3301/complaintfeed/internal/logging"
	"github.com/matheus3301/complaintfeed/internal/outbox"
	"github.com/matheus3301/complaintfeed/internal/profile"
	"github.com/matheus3301/complaintfeed/internal/status"
	"github.com/matheus3301/complaintfeed/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile string
	// Optional overrides, mainly for tests.
	SocketPath string
	HTTPAddr   string
	Config     *config.Config
	Logger     *zap.Logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideCache,
			provideBackend,
			provideChannel,
			provideFeed,
			provideHandler,
			provideHTTPServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(logging.Options{
		Path:    profile.LogPath(p.Profile),
		Profile: p.Profile,
		Level:   logging.ParseLevel(cfg.Server.LogLevel),
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func openStore(path string, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if db.Schema.Changed {
		logger.Info("migrations applied", zap.Uint("version", db.Schema.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", db.Schema.Version))
	}
	logger.Info("store initialized", zap.String("path", path))
	return db, nil
}

// provideCache builds the configured backing store and wraps it so cache
// failures never reach the feed. Requires the profile lock.
func provideCache(lc fx.Lifecycle, p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (cache.Store, error) {
	maxAge := cfg.Cache.MaxAge.Duration
	var (
		inner cache.Store
		codec *cache.Codec
		db    *store.DB
		err   error
	)
	if cfg.Cache.Driver != config.CacheMemory {
		if codec, err = cache.NewCodec(); err != nil {
			return nil, err
		}
	}
	switch cfg.Cache.Driver {
	case config.CacheMemory:
		inner = cache.NewMemory(cfg.Cache.MemorySize, maxAge)
	case config.CacheRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if inner, err = cache.NewRedis(ctx, cfg.Cache.RedisURL, codec, maxAge); err != nil {
			codec.Close()
			return nil, err
		}
	default:
		if db, err = openStore(profile.CacheDBPath(p.Profile), logger); err != nil {
			codec.Close()
			return nil, err
		}
		sq := cache.NewSQLite(db, codec, maxAge)
		if n, err := sq.Prune(context.Background()); err != nil {
			logger.Warn("cache prune failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("expired cache entries pruned", zap.Int64("count", n))
		}
		if n, err := db.CountCacheRecords(context.Background()); err == nil {
			logger.Info("cache opened", zap.Int("entries", n))
		}
		inner = sq
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			err := inner.Close()
			if codec != nil {
				codec.Close()
			}
			if db != nil {
				if cerr := db.Close(); err == nil {
					err = cerr
				}
			}
			return err
		},
	})
	logger.Info("cache ready", zap.String("driver", cfg.Cache.Driver), zap.Duration("max_age", maxAge))
	return cache.NewTolerant(inner, logger), nil
}

func provideBackend(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.New(cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.Timeout.Duration, logger)
}

// provideChannel returns nil when no push endpoint is configured, which runs
// the feed pull-only.
func provideChannel(cfg *config.Config, client *backend.Client, b *bus.Bus, logger *zap.Logger) *channel.Client {
	if cfg.Backend.WSURL == "" {
		logger.Info("no ws_url configured, running pull-only")
		return nil
	}
	dialer := channel.WSDialer{BaseURL: cfg.Backend.WSURL, Token: cfg.Backend.Token}
	return channel.NewClient(dialer, client, b, logger, channel.Options{
		BaseDelay:        cfg.Channel.BaseDelay.Duration,
		MaxDelay:         cfg.Channel.MaxDelay.Duration,
		MaxAttempts:      cfg.Channel.MaxAttempts,
		HeartbeatTimeout: cfg.Channel.HeartbeatTimeout.Duration,
		PollInterval:     cfg.Channel.PollInterval.Duration,
	})
}

func provideFeed(cfg *config.Config, client *backend.Client, cacheStore cache.Store, ch *channel.Client, b *bus.Bus, logger *zap.Logger) *feedview.Feed {
	return feedview.New(client, cacheStore, ch, b, logger, feedview.Options{
		Role:          cfg.Feed.Role,
		PageSize:      cfg.Feed.PageSize,
		Estimator:     cfg.Layout,
		Overscan:      cfg.Feed.Overscan,
		ViewportWidth: cfg.Feed.ViewportWidth,
		GlobalTopics:  cfg.Channel.GlobalTopics,
		Outbox: outbox.Options{
			MaxRetries: cfg.Feed.MutationRetries,
			RetryDelay: cfg.Feed.RetryDelay.Duration,
		},
	})
}

func provideHandler(f *feedview.Feed, logger *zap.Logger) *api.Handler {
	return api.NewHandler(f, logger)
}

func provideHTTPServer(p Params, cfg *config.Config, h *api.Handler, logger *zap.Logger) (*api.Server, error) {
	addr := p.HTTPAddr
	if addr == "" {
		addr = cfg.Server.HTTPAddr
	}
	return api.NewServer(addr, h, logger)
}

// watchChannels mirrors channel state changes into the health server until
// ctx is done.
func watchChannels(ctx context.Context, b *bus.Bus, srv *Server) {
	events, unsub := b.Subscribe(bus.KindChannelStatus, 64)
	defer unsub()
	for {
		select {
		case evt := <-events:
			if change, ok := evt.Payload.(status.StatusChange); ok {
				srv.SetChannel(change.Topic, change.To)
			}
		case <-ctx.Done():
			return
		}
	}
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, cfg *config.Config, srv *Server, httpSrv *api.Server, f *feedview.Feed, b *bus.Bus, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go watchChannels(ctx, b, srv)

			f.Start(ctx)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("health server error", zap.Error(err))
				}
			}()
			go func() {
				if err := httpSrv.Start(); err != nil {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()

			if cat := cfg.Feed.DefaultCategory; cat != "" {
				go func() {
					if err := f.SetCategory(ctx, cat); err != nil {
						logger.Warn("initial load failed", zap.String("category", cat), zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if err := httpSrv.Stop(stopCtx); err != nil {
				logger.Warn("HTTP shutdown", zap.Error(err))
			}
			f.Stop()
			cancel()
			srv.Stop(stopCtx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
