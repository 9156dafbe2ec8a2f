// Package botd wires the bot daemon: storage, cache, broker, the domain
// services and the HTTP surface, composed into one runnable unit.
package botd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fok-catalog/go-backend/internal/authz"
	"fok-catalog/go-backend/internal/conversation"
	"fok-catalog/go-backend/internal/lifecycle"
	"fok-catalog/go-backend/internal/notify"
	"fok-catalog/go-backend/internal/platform/config"
	"fok-catalog/go-backend/internal/platform/ratelimiter"
	"fok-catalog/go-backend/internal/router"
	"fok-catalog/go-backend/internal/session"
	"fok-catalog/go-backend/internal/storage"
	"fok-catalog/go-backend/internal/web"
)

// Runtime owns every long-lived component of the bot daemon.
type Runtime struct {
	web     *web.Server
	sweeper *notify.Sweeper
	log     *slog.Logger

	closers []func(context.Context) error
}

// Build connects the backing services and assembles the event pipeline.
// On failure everything already connected is torn down before returning.
func Build(ctx context.Context, cfg config.Config, addr, version string, log *slog.Logger) (rt *Runtime, err error) {
	if log == nil {
		log = slog.Default()
	}
	var closers []func(context.Context) error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](context.Background())
		}
	}()

	store, disconnect, err := storage.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, disconnect)
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	closers = append(closers, func(context.Context) error { return rdb.Close() })
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	pub, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	closers = append(closers, func(context.Context) error { return pub.Close() })

	dispatcher := notify.NewDispatcher(pub, log)
	flusher := notify.NewFlusher(pub, store.Applications(), log)
	sweeper := notify.NewSweeper(flusher, store.Applications(), cfg.Notify.SweepEvery, log)

	limiter := ratelimiter.New(
		ratelimiter.NewRedisCounter(rdb), cfg.RateLimit.Requests, cfg.RateLimit.Window, log)
	sessions := session.NewStore(session.NewRedisKV(rdb), cfg.Session.TTL, cfg.Session.Secret)

	roles := authz.NewService(store.Users(), cfg.Bot.IsSuperAdmin, log)
	apps := lifecycle.NewService(lifecycle.Deps{
		Users:      store.Users(),
		Facilities: store.Facilities(),
		Apps:       store.Applications(),
		Roles:      roles,
		Drain:      flusher,
		PageSize:   cfg.Bot.MaxItemsPerPage,
		Log:        log,
	})
	engine := conversation.NewEngine(sessions, store.Users(), store.Facilities(), apps, dispatcher, log)

	rtr := router.New(router.Deps{
		Users:   store.Users(),
		Limiter: limiter,
		Engine:  engine,
		Apps:    apps,
		Roles:   roles,
		Mod:     roles,
		Notify:  dispatcher,
		Log:     log,
	})

	srv := web.NewServer(addr, web.Deps{
		Handler: rtr,
		Secret:  cfg.Bot.WebhookSecret,
		Checks: map[string]web.Pinger{
			"mongo": web.PingerFunc(store.Ping),
			"redis": web.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		},
		Version: version,
		Log:     log,
	})

	return &Runtime{
		web:     srv,
		sweeper: sweeper,
		log:     log,
		closers: closers,
	}, nil
}

// Run serves HTTP and keeps the outbox sweeper going until ctx is
// cancelled or the server fails.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.sweeper.Run(ctx)
	}()

	err := r.web.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// Close releases connections in reverse acquisition order.
func (r *Runtime) Close(ctx context.Context) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			r.log.Warn("shutdown step failed", "error", err.Error())
		}
	}
}
