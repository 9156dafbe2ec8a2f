// Package notifyd wires the delivery worker: the queue consumer, the
// rendering worker and the messaging platform client.
package notifyd

import (
	"context"
	"log/slog"
	"time"

	"fok-catalog/go-backend/internal/notify"
	"fok-catalog/go-backend/internal/platform/config"
	"fok-catalog/go-backend/internal/storage"
)

// Runtime owns the delivery worker and its storage handle. The broker
// connection is made per consume cycle so an outage turns into a reconnect,
// not a restart.
type Runtime struct {
	cfg    config.Config
	worker *notify.Worker
	log    *slog.Logger

	disconnect func(context.Context) error
}

func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*Runtime, error) {
	if log == nil {
		log = slog.Default()
	}
	store, disconnect, err := storage.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, log)
	if err != nil {
		return nil, err
	}

	channel := notify.NewTelegramChannel(cfg.Bot.APIBaseURL, cfg.Bot.Token, nil)
	worker := notify.NewWorker(channel, store.Users(), notify.WorkerOptions{
		AdminChatID:   cfg.Bot.AdminChatID,
		SuperAdminIDs: cfg.Bot.SuperAdminIDs,
		SendRate:      cfg.Notify.SendRate,
		Log:           log,
	})

	return &Runtime{
		cfg:        cfg,
		worker:     worker,
		log:        log,
		disconnect: disconnect,
	}, nil
}

// Run consumes the notification queue until ctx is cancelled. A dropped
// broker connection or closed delivery stream is retried after the
// configured delay.
func (r *Runtime) Run(ctx context.Context) error {
	for {
		err := r.consumeOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.log.Error("consumer stopped", "error", err.Error())
		} else {
			r.log.Warn("delivery stream closed, reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.cfg.Notify.RetryDelay):
		}
	}
}

func (r *Runtime) consumeOnce(ctx context.Context) error {
	consumer, err := notify.NewAMQPConsumer(
		r.cfg.AMQP.URL, r.cfg.AMQP.Exchange, r.cfg.AMQP.Queue, r.cfg.AMQP.Prefetch)
	if err != nil {
		return err
	}
	defer consumer.Close()

	deliveries, err := consumer.Deliveries(ctx)
	if err != nil {
		return err
	}
	r.log.Info("consuming notifications", "queue", r.cfg.AMQP.Queue)
	return r.worker.Run(ctx, deliveries)
}

// Close releases the storage connection.
func (r *Runtime) Close(ctx context.Context) {
	if err := r.disconnect(ctx); err != nil {
		r.log.Warn("shutdown step failed", "error", err.Error())
	}
}
