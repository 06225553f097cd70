package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/queue"
	"github.com/rcliao/memtier/internal/tier"
)

// Start launches the push worker. It is a no-op if already running.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.shutdown {
		return errors.New("orchestrator: already shut down")
	}
	if o.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true

	go o.run(ctx, o.done)
	o.logger.Info("push worker started",
		zap.Int("queue_capacity", o.queue.Cap()),
		zap.Int64("batch_size", o.batch),
	)
	return nil
}

func (o *Orchestrator) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	// Tier writes outlive the stop signal so an item already taken off the
	// queue is always pushed.
	writeCtx := context.WithoutCancel(ctx)

	spilled, err := o.queue.ReplaySpill()
	if err != nil {
		o.logger.Error("spill replay failed", zap.Error(err))
	}
	if len(spilled) > 0 {
		o.logger.Info("replaying spilled records", zap.Int("records", len(spilled)))
	}
	var failed []*model.Record
	for _, r := range spilled {
		if err := o.push(writeCtx, r, true); err != nil {
			failed = append(failed, r)
		}
	}
	o.respill(failed, "tier write failed during spill replay")

	for {
		if ctx.Err() != nil {
			return
		}
		r, ok := o.queue.Dequeue(ctx, o.poll)
		if !ok {
			continue
		}
		_ = o.push(writeCtx, r, true)
	}
}

// push sends r to the local tier and, when batched is false or the drained
// counter hits the batch size, to the permanent tier. Each write is isolated;
// the returned error joins the failures.
func (o *Orchestrator) push(ctx context.Context, r *model.Record, batched bool) error {
	var errs []error
	if o.tiers[tier.Local].enabled.Load() {
		errs = append(errs, o.writeTier(ctx, tier.Local, r))
	}

	n := o.drained.Add(1)
	if batched && n%o.batch != 0 {
		return errors.Join(errs...)
	}
	if o.tiers[tier.Permanent].enabled.Load() {
		errs = append(errs, o.writeTier(ctx, tier.Permanent, r))
	}
	return errors.Join(errs...)
}

// respill returns records that left the queue without being pushed to the
// spill file, so the next replay retries them. Without a spill file they
// remain only in the record store and need a backfill.
func (o *Orchestrator) respill(records []*model.Record, reason string) {
	if len(records) == 0 {
		return
	}
	err := o.queue.Respill(records)
	switch {
	case err == nil:
		o.logger.Warn("records returned to spill",
			zap.Int("records", len(records)),
			zap.String("reason", reason),
		)
	case errors.Is(err, queue.ErrNoSpill):
		o.logger.Error("records not pushed to slower tiers, backfill required",
			zap.Int("records", len(records)),
			zap.String("reason", reason),
		)
	default:
		o.logger.Error("respill failed, backfill required",
			zap.Int("records", len(records)),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// FlushQueue synchronously drains the queue and any spilled records to the
// local and permanent tiers without batching. When ctx ends first, the
// records not yet pushed go back to the spill file and ctx's error is
// returned. Spilled records whose push fails are spilled again.
func (o *Orchestrator) FlushQueue(ctx context.Context) error {
	queued := o.queue.Drain()
	if err := ctx.Err(); err != nil {
		// The spill file already holds its records; only the queue needs saving.
		o.respill(queued, "flush cancelled")
		return err
	}

	spilled, err := o.queue.ReplaySpill()
	if err != nil {
		o.logger.Error("spill replay failed", zap.Error(err))
	}
	records := append(queued, spilled...)

	var failed []*model.Record
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			failed = append(failed, records[i:]...)
			o.respill(failed, "flush cancelled")
			return err
		}
		if err := o.push(ctx, r, false); err != nil && i >= len(queued) {
			failed = append(failed, r)
		}
	}
	o.respill(failed, "tier write failed during spill replay")

	if len(records) > 0 {
		o.logger.Info("flushed push queue", zap.Int("records", len(records)))
	}
	return nil
}

// Shutdown stops accepting records, stops the worker, drains the queue, and
// closes the backends. The caller's context bounds the drain; records left
// undrained are spilled. Backends are closed regardless.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return nil
	}
	o.shutdown = true
	running := o.running
	cancel, done := o.cancel, o.done
	o.running = false
	o.mu.Unlock()

	o.queue.Close()

	if running {
		// The worker exits after at most one in-flight push.
		cancel()
		<-done
	}

	err := o.FlushQueue(ctx)

	var g errgroup.Group
	for _, t := range tier.All {
		st := o.tiers[t]
		c, ok := st.backend.(tier.Closer)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := c.Close(); err != nil {
				o.logger.Error("closing tier failed", zap.String("tier", t.String()), zap.Error(err))
				return err
			}
			return nil
		})
	}
	closeErr := g.Wait()

	o.logger.Info("orchestrator shut down")
	return errors.Join(err, closeErr)
}
