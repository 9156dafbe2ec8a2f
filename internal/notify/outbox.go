package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fok-catalog/go-backend/internal/platform/metrics"
	"fok-catalog/go-backend/pkg/models"
)

// sweepBatch caps how many stale documents one sweep iteration reloads.
const sweepBatch = 100

// OutboxStore is the slice of the application store the outbox machinery
// needs: removing published entries and finding documents whose entries
// never made it to the broker.
type OutboxStore interface {
	PullOutbox(ctx context.Context, id string, notificationIDs []string) error
	ListStaleOutbox(ctx context.Context, olderThan time.Time, limit int64) ([]models.Application, error)
}

// Flusher moves an application's queued notifications into the broker and
// removes them from the document. Publishing is at-least-once: a crash
// between publish and pull redelivers on the next flush, and the worker
// tolerates duplicates. Entries that fail to publish stay in the document
// for the sweeper.
type Flusher struct {
	pub   Publisher
	store OutboxStore
	log   *slog.Logger
}

func NewFlusher(pub Publisher, store OutboxStore, log *slog.Logger) *Flusher {
	if log == nil {
		log = slog.Default()
	}
	return &Flusher{pub: pub, store: store, log: log}
}

func (f *Flusher) Flush(ctx context.Context, app models.Application) error {
	if len(app.Outbox) == 0 {
		return nil
	}

	published := make([]string, 0, len(app.Outbox))
	var pubErr error
	for _, n := range app.Outbox {
		if err := f.pub.Publish(ctx, RoutingKey(n.Kind), n); err != nil {
			pubErr = err
			break
		}
		metrics.NotificationsPublishedTotal.WithLabelValues(n.Kind).Inc()
		published = append(published, n.ID)
	}

	if len(published) > 0 {
		if err := f.store.PullOutbox(ctx, app.ID, published); err != nil {
			// Published but not pulled: the sweeper will republish these,
			// which the delivery side absorbs as duplicates.
			f.log.Warn("outbox pull failed after publish", "ref", app.Ref, "error", err.Error())
		}
	}
	if pubErr != nil {
		return fmt.Errorf("flush outbox %s: published %d of %d: %w", app.Ref, len(published), len(app.Outbox), pubErr)
	}
	return nil
}

// Sweeper periodically re-flushes outbox entries old enough that their
// inline flush has clearly failed. It is the recovery path behind the
// at-least-once guarantee: every queued notification eventually reaches the
// broker as long as one sweeper is running.
type Sweeper struct {
	flusher *Flusher
	store   OutboxStore
	every   time.Duration
	log     *slog.Logger

	now func() time.Time
}

func NewSweeper(flusher *Flusher, store OutboxStore, every time.Duration, log *slog.Logger) *Sweeper {
	if every <= 0 {
		every = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		flusher: flusher,
		store:   store,
		every:   every,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps until the context ends. Multiple replicas may run sweepers
// concurrently; the worst case is duplicate publishes, never loss.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	// Entries younger than one interval are usually mid-flush on another
	// replica; only older ones count as stuck.
	cutoff := s.now().Add(-s.every)
	apps, err := s.store.ListStaleOutbox(ctx, cutoff, sweepBatch)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("sweeper").Inc()
		s.log.Warn("stale outbox scan failed", "error", err.Error())
		return
	}
	if len(apps) == 0 {
		return
	}

	flushed := 0
	for _, app := range apps {
		if err := s.flusher.Flush(ctx, app); err != nil {
			s.log.Warn("stale outbox flush failed", "ref", app.Ref, "error", err.Error())
			continue
		}
		flushed++
	}
	s.log.Info("swept stale outboxes", "found", len(apps), "flushed", flushed)
}
