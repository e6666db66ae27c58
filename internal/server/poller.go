package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/internal/async"
)

// PendingLister finds documents that can still progress.
type PendingLister interface {
	ListBelowLevel(ctx context.Context, level int, limit uint64) ([]uuid.UUID, error)
}

// Poller feeds documents below the target level into the queue.
type Poller struct {
	docs     PendingLister
	queue    async.Queue
	target   int
	batch    int
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(docs PendingLister, queue async.Queue, target, batch int, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 50
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{docs: docs, queue: queue, target: target, batch: batch, interval: interval, logger: logger}
}

// Tick enqueues one batch and returns how many jobs were accepted. A full
// queue ends the tick early; the rest is picked up on the next one.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	ids, err := p.docs.ListBelowLevel(ctx, p.target, uint64(p.batch))
	if err != nil {
		p.logger.Error("poller.list.failed", "error", err)
		return 0, err
	}
	enqCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	accepted := 0
	for _, id := range ids {
		ok, err := p.queue.Enqueue(enqCtx, async.Job{
			DocumentID:  id,
			Target:      p.target,
			SubmittedAt: time.Now().UTC(),
			TraceID:     uuid.NewString(),
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				p.logger.Warn("poller.queue_full", "accepted", accepted, "found", len(ids))
				break
			}
			return accepted, err
		}
		if ok {
			accepted++
		}
	}
	if len(ids) > 0 {
		p.logger.Info("poller.tick", "found", len(ids), "accepted", accepted, "target", p.target)
	}
	return accepted, nil
}

// Run ticks immediately and then every interval until ctx ends. before, when
// set, runs ahead of each tick; a non-nil error skips that tick.
func (p *Poller) Run(ctx context.Context, before func(context.Context) error) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		if before == nil || before(ctx) == nil {
			if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, async.ErrClosed) {
				p.logger.Warn("poller.tick.failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
