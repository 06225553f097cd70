// Package orchestrator coordinates the fast, local, and permanent tiers. It
// writes the fast tier inline, fans the slower tiers out through the push
// queue, and resolves reads in tier priority order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/queue"
	"github.com/rcliao/memtier/internal/tier"
)

const (
	DefaultBatchSize    = 10
	DefaultPollInterval = time.Second
)

var (
	// ErrNotFound is a definitive miss across the readable tiers.
	ErrNotFound = errors.New("orchestrator: record not found")

	// ErrTierDisabled is returned for writes to a disabled or unconfigured tier.
	ErrTierDisabled = errors.New("orchestrator: tier disabled")

	// ErrTierUnavailable is returned when a backend reports itself unavailable.
	ErrTierUnavailable = errors.New("orchestrator: tier unavailable")
)

// RecordCounter reports the size of the in-process record store.
type RecordCounter interface {
	Len() int
	TotalEverStored() int64
}

// Options configures an Orchestrator.
type Options struct {
	// Backends may hold at most one backend per tier. Missing tiers are
	// reported as unconfigured and start disabled.
	Backends []tier.Backend

	Queue   *queue.Queue
	Records RecordCounter

	// BatchSize sends every Nth drained record to the permanent tier.
	BatchSize int

	// PollInterval bounds how long the worker waits before rechecking for
	// shutdown.
	PollInterval time.Duration

	Logger         *zap.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Result is a successful read.
type Result struct {
	Record *model.Record `json:"record"`
	Tier   tier.Tier     `json:"-"`
	Source string        `json:"tier"`

	// Partial marks a record reconstructed from a fast-tier payload, whose
	// content may be truncated and whose origin and metadata are absent.
	Partial bool `json:"partial"`
}

type tierState struct {
	backend  tier.Backend
	enabled  atomic.Bool
	writes   atomic.Int64
	failures atomic.Int64
}

// Orchestrator owns the push queue worker and the per-tier state.
type Orchestrator struct {
	tiers   map[tier.Tier]*tierState
	queue   *queue.Queue
	records RecordCounter
	batch   int64
	poll    time.Duration
	drained atomic.Int64
	logger  *zap.Logger
	tel     *telemetry

	mu       sync.Mutex
	running  bool
	shutdown bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an orchestrator. Call Start to run the push worker.
func New(opts Options) (*Orchestrator, error) {
	if opts.Queue == nil {
		return nil, errors.New("orchestrator: queue is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	tel, err := newTelemetry(opts.MeterProvider, opts.TracerProvider)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		tiers:   make(map[tier.Tier]*tierState, len(tier.All)),
		queue:   opts.Queue,
		records: opts.Records,
		batch:   int64(opts.BatchSize),
		poll:    opts.PollInterval,
		logger:  opts.Logger,
		tel:     tel,
	}
	for _, t := range tier.All {
		o.tiers[t] = &tierState{}
	}
	for _, b := range opts.Backends {
		if b == nil {
			continue
		}
		st, ok := o.tiers[b.Tier()]
		if !ok {
			return nil, fmt.Errorf("orchestrator: %w: %d", tier.ErrUnknownTier, int(b.Tier()))
		}
		if st.backend != nil {
			return nil, fmt.Errorf("orchestrator: duplicate backend for %s tier", b.Tier())
		}
		st.backend = b
		st.enabled.Store(true)
	}
	return o, nil
}

// StoreWithSequencedPush writes the fast tier inline and queues the record
// for the local and permanent tiers. Fast-tier failures are logged, never
// returned; the only error is queue backpressure.
func (o *Orchestrator) StoreWithSequencedPush(ctx context.Context, r *model.Record) error {
	if o.tiers[tier.Fast].enabled.Load() {
		_ = o.writeTier(ctx, tier.Fast, r)
	}

	if err := o.queue.Enqueue(ctx, r); err != nil {
		o.tel.rejected(ctx, err)
		return fmt.Errorf("orchestrator: queue %s: %w", r.ID, err)
	}
	return nil
}

// StoreToTier writes r directly to one tier, bypassing the queue. It is the
// repair and backfill path, so the write error is returned.
func (o *Orchestrator) StoreToTier(ctx context.Context, t tier.Tier, r *model.Record) error {
	if !t.Valid() {
		return fmt.Errorf("orchestrator: %w: %d", tier.ErrUnknownTier, int(t))
	}
	return o.writeTier(ctx, t, r)
}

// writeTier performs one isolated tier write, recording counters, a span,
// and a log entry on failure.
func (o *Orchestrator) writeTier(ctx context.Context, t tier.Tier, r *model.Record) error {
	st := o.tiers[t]
	if st.backend == nil || !st.enabled.Load() {
		return fmt.Errorf("%w: %s", ErrTierDisabled, t)
	}

	ctx, span := o.tel.startWrite(ctx, t, r)
	defer span.End()

	var err error
	if !st.backend.Available() {
		err = fmt.Errorf("%w: %s", ErrTierUnavailable, t)
	} else {
		err = st.backend.Write(ctx, r)
	}

	if err != nil {
		st.failures.Add(1)
		o.tel.endWrite(ctx, span, t, err)
		o.logger.Error("tier write failed",
			zap.String("tier", t.String()),
			zap.String("record_id", r.ID),
			zap.Error(err),
		)
		return err
	}

	st.writes.Add(1)
	o.tel.endWrite(ctx, span, t, nil)
	return nil
}

// Retrieve resolves a record by ID from the fast tier, then the local tier.
// The permanent tier is not indexed by ID, so a miss on both is definitive.
func (o *Orchestrator) Retrieve(ctx context.Context, id string) (Result, error) {
	for _, t := range []tier.Tier{tier.Fast, tier.Local} {
		st := o.tiers[t]
		if st.backend == nil || !st.enabled.Load() {
			continue
		}
		reader, ok := st.backend.(tier.Reader)
		if !ok {
			continue
		}

		r, found, err := reader.Lookup(ctx, id)
		if err != nil {
			o.logger.Warn("tier lookup failed",
				zap.String("tier", t.String()),
				zap.String("record_id", id),
				zap.Error(err),
			)
			continue
		}
		if found {
			return Result{Record: r, Tier: t, Source: t.String(), Partial: t == tier.Fast}, nil
		}
	}
	return Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// SetTierEnabled toggles a tier. It applies to the next write.
func (o *Orchestrator) SetTierEnabled(t tier.Tier, enabled bool) error {
	st, ok := o.tiers[t]
	if !ok {
		return fmt.Errorf("orchestrator: %w: %d", tier.ErrUnknownTier, int(t))
	}
	if enabled && st.backend == nil {
		return fmt.Errorf("orchestrator: %s tier is not configured", t)
	}
	st.enabled.Store(enabled)
	o.logger.Info("tier toggled", zap.String("tier", t.String()), zap.Bool("enabled", enabled))
	return nil
}

// TierEnabled reports whether writes to t are attempted.
func (o *Orchestrator) TierEnabled(t tier.Tier) bool {
	st, ok := o.tiers[t]
	return ok && st.enabled.Load()
}
