package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/time/rate"

	"fok-catalog/go-backend/internal/platform/metrics"
	"fok-catalog/go-backend/pkg/models"
)

// AdminDirectory lists the users who receive admin broadcasts.
type AdminDirectory interface {
	ListAdmins(ctx context.Context) ([]models.User, error)
}

// WorkerOptions carries the delivery policy. SendRate is messages per
// second across all recipients, matching the platform's global limit rather
// than the per-chat one.
type WorkerOptions struct {
	AdminChatID   int64
	SuperAdminIDs []int64
	SendRate      int
	Log           *slog.Logger
}

// Worker turns queued notifications into outbound messages. Delivery is
// at-least-once: a transient send failure requeues the message once, a
// second failure dead-letters it. Per-recipient rejections inside a
// broadcast skip that recipient without failing the rest.
type Worker struct {
	channel     Channel
	admins      AdminDirectory
	adminChatID int64
	superAdmins []int64
	limiter     *rate.Limiter
	log         *slog.Logger
}

func NewWorker(channel Channel, admins AdminDirectory, opts WorkerOptions) *Worker {
	sendRate := opts.SendRate
	if sendRate <= 0 {
		sendRate = 25
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		channel:     channel,
		admins:      admins,
		adminChatID: opts.AdminChatID,
		superAdmins: opts.SuperAdminIDs,
		limiter:     rate.NewLimiter(rate.Limit(sendRate), sendRate),
		log:         log,
	}
}

// Run consumes deliveries until the context ends or the channel closes.
// A closed channel means the connection dropped; the caller reconnects and
// calls Run again.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var n models.Notification
	if err := json.Unmarshal(d.Body, &n); err != nil {
		w.discard(d, "malformed notification payload", err)
		return
	}
	text, err := Render(n.Kind, n.Params)
	if err != nil {
		w.discard(d, "unrenderable notification", err)
		return
	}

	recipients := w.recipients(ctx, n)
	if len(recipients) == 0 {
		w.log.Warn("notification has no recipients", "kind", n.Kind, "id", n.ID)
		_ = d.Ack(false)
		return
	}

	for _, chatID := range recipients {
		if err := w.limiter.Wait(ctx); err != nil {
			// Shutting down mid-broadcast: hand the whole message back.
			_ = d.Nack(false, true)
			return
		}
		err := w.channel.Send(ctx, chatID, text)
		if err == nil {
			metrics.NotificationsDeliveredTotal.Inc()
			continue
		}
		if errors.Is(err, ErrRejected) {
			w.log.Warn("recipient rejected notification", "kind", n.Kind, "chat_id", chatID, "error", err.Error())
			continue
		}

		w.log.Warn("notification send failed", "kind", n.Kind, "chat_id", chatID, "redelivered", d.Redelivered, "error", err.Error())
		if d.Redelivered {
			metrics.NotificationsFailedTotal.Inc()
			_ = d.Nack(false, false)
		} else {
			_ = d.Nack(false, true)
		}
		return
	}
	_ = d.Ack(false)
}

// discard dead-letters a delivery that can never succeed.
func (w *Worker) discard(d amqp.Delivery, msg string, err error) {
	w.log.Error(msg, "error", err.Error(), "message_id", d.MessageId)
	metrics.NotificationsFailedTotal.Inc()
	_ = d.Nack(false, false)
}

// recipients resolves the audience: the addressed chat for direct messages,
// or the admin chat plus every admin user plus the configured super admins
// for broadcasts, deduplicated.
func (w *Worker) recipients(ctx context.Context, n models.Notification) []int64 {
	if !n.AdminBroadcast {
		if n.RecipientChatID == 0 {
			return nil
		}
		return []int64{n.RecipientChatID}
	}

	seen := make(map[int64]bool)
	var out []int64
	add := func(id int64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	add(w.adminChatID)
	admins, err := w.admins.ListAdmins(ctx)
	if err != nil {
		w.log.Warn("admin list unavailable for broadcast", "error", err.Error())
	}
	for _, a := range admins {
		add(a.TelegramID)
	}
	for _, id := range w.superAdmins {
		add(id)
	}
	return out
}
