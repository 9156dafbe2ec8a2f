package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fok-catalog/go-backend/internal/platform/metrics"
	"fok-catalog/go-backend/pkg/models"
)

// Publisher is the broker write port. *AMQPPublisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, key string, n models.Notification) error
}

// Dispatcher publishes notifications straight to the broker. It carries the
// ephemeral traffic: prompts, cooldown notices and flow confirmations, where
// losing one on a broker outage costs a re-ask rather than a missed fact.
// Status changes ride the application outbox instead and go through Flusher.
type Dispatcher struct {
	pub Publisher
	log *slog.Logger
}

func NewDispatcher(pub Publisher, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{pub: pub, log: log}
}

func (d *Dispatcher) Enqueue(ctx context.Context, n models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := d.pub.Publish(ctx, RoutingKey(n.Kind), n); err != nil {
		metrics.ErrorsTotal.WithLabelValues("dispatch").Inc()
		return fmt.Errorf("enqueue %s: %w", n.Kind, err)
	}
	metrics.NotificationsPublishedTotal.WithLabelValues(n.Kind).Inc()
	return nil
}
