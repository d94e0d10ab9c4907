// Package app wires configuration, storage, cache, bus, service and the
// HTTP server into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/userforge/userhub/internal/bus"
	"github.com/userforge/userhub/internal/cache"
	"github.com/userforge/userhub/internal/config"
	"github.com/userforge/userhub/internal/httpapi"
	"github.com/userforge/userhub/internal/logging"
	"github.com/userforge/userhub/internal/metrics"
	"github.com/userforge/userhub/internal/repo"
	"github.com/userforge/userhub/internal/service"
	"github.com/userforge/userhub/internal/tasks"
)

// App is the composition root. Init and Shutdown are idempotent.
type App struct {
	Cfg      *config.Config
	Log      *zap.Logger
	Cache    *cache.Client
	DB       *gorm.DB
	Bus      bus.Bus
	Service  *service.UserService
	Registry *prometheus.Registry
	Server   *http.Server
	Tasks    *tasks.Runner

	initOnce     sync.Once
	shutdownOnce sync.Once
	closers      []func() error
}

// New returns an uninitialized App for the given configuration.
func New(cfg *config.Config) *App {
	return &App{Cfg: cfg}
}

// Init builds every component. Calling it again is a no-op returning
// the first result.
func (a *App) Init(ctx context.Context) error {
	var err error
	a.initOnce.Do(func() { err = a.init(ctx) })
	return err
}

func (a *App) init(ctx context.Context) error {
	log, err := logging.New(a.Cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("app: logger: %w", err)
	}
	a.Log = log

	a.Registry = metrics.NewRegistry()
	metrics.RegisterHTTPMetrics(a.Registry)

	a.Cache, err = cache.New(cache.Options{
		URL:         a.Cfg.RedisURL,
		DialTimeout: a.Cfg.RedisDialTimeout,
		ReadTimeout: a.Cfg.RedisReadTimeout,
		PoolSize:    a.Cfg.RedisPoolSize,
		MaxRetries:  a.Cfg.RedisMaxRetries,
		Logger:      log.Named("cache"),
	}, cache.WithMetrics(a.Registry), cache.WithTracing())
	if err != nil {
		return fmt.Errorf("app: cache: %w", err)
	}
	a.closers = append(a.closers, a.Cache.Close)

	a.DB, err = openDB(a.Cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("app: database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	a.Bus, err = a.openBus()
	if err != nil {
		return fmt.Errorf("app: bus: %w", err)
	}

	userRepo := repo.NewUserRepository(a.DB)
	a.Service, err = service.NewUserService(userRepo, a.Cache, a.Bus, log.Named("service"), a.Cfg.CacheTTL)
	if err != nil {
		return fmt.Errorf("app: service: %w", err)
	}
	a.closers = append(a.closers, func() error { a.Service.Close(); return nil })

	api := httpapi.NewServer(a.Service, a.Bus, log.Named("http"), a.Registry,
		httpapi.PingFunc(func(ctx context.Context) error {
			if !a.Cache.Ping(ctx) {
				return errors.New("redis unreachable")
			}
			return nil
		}),
		httpapi.PingFunc(func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
	a.Server = &http.Server{
		Addr:              a.Cfg.HTTPAddr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.Tasks = tasks.NewRunner(a.Cache, log.Named("tasks"))
	a.Tasks.Add(tasks.SweepNamespace(a.Cache, "session-sweep", "session:*", time.Hour))

	return nil
}

func openDB(url string) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch {
	case url == "":
		return gorm.Open(sqlite.Open("userhub.db"), gcfg)
	case strings.HasPrefix(url, "sqlite://"):
		return gorm.Open(sqlite.Open(strings.TrimPrefix(url, "sqlite://")), gcfg)
	default:
		return gorm.Open(mysql.Open(url), gcfg)
	}
}

func (a *App) openBus() (bus.Bus, error) {
	switch a.Cfg.BusBackend {
	case "", "memory":
		return bus.NewInMemoryBus(), nil
	case "redis":
		ro, err := redis.ParseURL(a.Cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(ro)
		a.closers = append(a.closers, client.Close)
		return bus.NewRedisBus(client), nil
	case "nats":
		conn, err := nats.Connect(a.Cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { conn.Close(); return nil })
		return bus.NewNATSBus(conn), nil
	case "kafka":
		kb, err := bus.NewKafkaBus(a.Cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { kb.Close(); return nil })
		return kb, nil
	default:
		return nil, fmt.Errorf("app: unknown bus backend %q", a.Cfg.BusBackend)
	}
}

// Migrate creates or updates the database schema.
func (a *App) Migrate() error {
	return repo.NewUserRepository(a.DB).Migrate()
}

// Run serves HTTP and drives the background jobs until ctx is canceled,
// then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Log.Info("app: http server listening", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.Tasks.Start(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops the HTTP server and releases every component, once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.shutdownOnce.Do(func() {
		if a.Server != nil {
			err = a.Server.Shutdown(ctx)
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if cerr := a.closers[i](); cerr != nil && err == nil {
				err = cerr
			}
		}
		if a.Log != nil {
			_ = a.Log.Sync()
		}
	})
	return err
}
