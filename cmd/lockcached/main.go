// Command lockcached subscribes to the cache event channel and applies
// invalidation events to the shared cache.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/lockcache"
	"github.com/unkn0wn-root/lockcache/codec"
	"github.com/unkn0wn-root/lockcache/config"
	"github.com/unkn0wn-root/lockcache/dispatch"
	asynchook "github.com/unkn0wn-root/lockcache/hooks/async"
	lczap "github.com/unkn0wn-root/lockcache/log/zap"
	nearr "github.com/unkn0wn-root/lockcache/near/ristretto"
	"github.com/unkn0wn-root/lockcache/pubsub"
	"github.com/unkn0wn-root/lockcache/registry"
	"github.com/unkn0wn-root/lockcache/sloghooks"
	promstats "github.com/unkn0wn-root/lockcache/stats/prometheus"
	rstore "github.com/unkn0wn-root/lockcache/store/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ./config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "lockcached: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	zl, err := newZap(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := lczap.New(zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis %s: %w", cfg.Redis.Address, err)
	}

	factory, err := rstore.New(rstore.Config{Client: rdb, CloseClient: true})
	if err != nil {
		return err
	}
	defer func() { _ = factory.Close(context.Background()) }()

	raw := sloghooks.New(newSlog(cfg.Logging), sloghooks.Options{LockWaitedEvery: 10, DroppedEvery: 100})
	hooks := asynchook.New(raw, raw, 1, 1024)
	defer hooks.Close()

	var stats lockcache.StatisticsCollector = lockcache.NewStatistics()
	if cfg.Metrics.Enabled {
		pc, err := promstats.New(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		stats = pc
		srv := serveMetrics(cfg.Metrics.Address, zl)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	w, err := lockcache.NewWriter(lockcache.Options{
		Factory:     factory,
		LockWait:    cfg.Writer.LockWait,
		LockTTL:     cfg.Writer.LockTTL,
		MaxLockWait: cfg.Writer.MaxLockWait,
		ScanCount:   cfg.Writer.ScanCount,
		DeleteBatch: cfg.Writer.DeleteBatch,
		WorkerID:    cfg.Writer.WorkerID,
		Logger:      logger,
		Hooks:       hooks,
		Statistics:  stats,
	})
	if err != nil {
		return err
	}

	format, _ := cfg.Caches.CodecFormat()
	poly, err := codec.NewPolymorphic(codec.NewTypeRegistry(), format)
	if err != nil {
		return err
	}
	var values codec.Codec[any] = poly
	if cfg.Caches.MaxDecode > 0 {
		values = codec.Limit[any]{Inner: poly, MaxDecode: cfg.Caches.MaxDecode}
	}
	reg, err := registry.New(registry.Options{
		DefaultTTL: cfg.Caches.DefaultTTL,
		Prefix:     cfg.Caches.KeyPrefix(),
		Codec:      values,
		Initial:    cfg.Caches.Initial(),
	})
	if err != nil {
		return err
	}

	eventFormat, _ := codec.ParseFormat(cfg.Events.Format)
	msgCodec, err := pubsub.CodecFor(eventFormat)
	if err != nil {
		return err
	}

	mopts := lockcache.ManagerOptions{Writer: w, Registry: reg, Logger: logger, NearTTL: cfg.Near.TTL}
	if cfg.Near.Enabled {
		// other nodes drop their near copies when this one changes the store
		if mopts.Notifier, err = pubsub.NewPublisher(rdb, cfg.Events.Channel, pubsub.WithCodec(msgCodec)); err != nil {
			return err
		}
		nc := nearr.DefaultConfig()
		nc.MaxCost = cfg.Near.MaxEntries
		nc.NumCounters = cfg.Near.MaxEntries * 10
		if mopts.Near, err = nearr.New(nc); err != nil {
			return fmt.Errorf("near cache: %w", err)
		}
	}
	mgr, err := lockcache.NewManager(mopts)
	if err != nil {
		return err
	}
	defer mgr.Close()

	dispatch.Init()
	defer dispatch.Shutdown()
	if err := dispatch.Register(lockcache.InvalidationHandlerName, lockcache.NewInvalidationHandler(mgr)); err != nil {
		return err
	}

	sub, err := pubsub.NewSubscriber(rdb, cfg.Events.Channel,
		dispatch.NewDispatcher(nil, dispatch.WithLogger(logger), dispatch.WithHooks(hooks)), logger,
		pubsub.WithCodec(msgCodec))
	if err != nil {
		return err
	}

	zl.Info("lockcached started",
		zap.String("redis", cfg.Redis.Address),
		zap.String("channel", cfg.Events.Channel),
		zap.Bool("locking", w.Locking()),
		zap.Strings("caches", reg.Names()))

	err = sub.Run(ctx)
	zl.Info("lockcached stopping")
	return err
}

func newZap(lc config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = lvl
	return zc.Build()
}

// newSlog builds the hooks logger with the level and format the zap logger
// uses, writing to stderr like zap's production config.
func newSlog(lc config.LoggingConfig) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(lc.Level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if lc.Format == "console" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func serveMetrics(addr string, zl *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
