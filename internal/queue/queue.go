// Package queue implements the bounded push queue feeding the slower tiers.
//
// When the queue is full, Enqueue waits up to a timeout. If space still does
// not free up, the record is either spilled to an overflow file, replayed
// later by the worker, or rejected with ErrQueueFull so the caller sees the
// backpressure. Records are never dropped silently.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memtier/internal/model"
)

const (
	DefaultCapacity       = 1000
	DefaultEnqueueTimeout = 250 * time.Millisecond
)

var (
	// ErrQueueFull is returned when a record could not be queued or spilled.
	ErrQueueFull = errors.New("queue: full")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("queue: closed")

	// ErrNoSpill is returned by Respill when no spill file is configured.
	ErrNoSpill = errors.New("queue: no spill file")
)

// Options configures a Queue.
type Options struct {
	Capacity       int
	EnqueueTimeout time.Duration

	// SpillPath enables disk overflow when non-empty.
	SpillPath string

	Logger *zap.Logger
}

// Queue is a bounded FIFO of records. The channel is never closed; Close only
// stops new enqueues, so in-flight senders cannot panic.
type Queue struct {
	ch      chan *model.Record
	timeout time.Duration
	spill   *Spill
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool

	rejected atomic.Int64
	spilled  atomic.Int64
}

// New creates a queue.
func New(opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	q := &Queue{
		ch:      make(chan *model.Record, opts.Capacity),
		timeout: opts.EnqueueTimeout,
		logger:  opts.Logger,
	}
	if opts.SpillPath != "" {
		q.spill = NewSpill(opts.SpillPath)
	}
	return q
}

// Enqueue adds r to the queue, waiting up to the enqueue timeout when full.
func (q *Queue) Enqueue(ctx context.Context, r *model.Record) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.ch <- r:
		return nil
	default:
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case q.ch <- r:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	return q.overflow(r)
}

func (q *Queue) overflow(r *model.Record) error {
	if q.spill != nil {
		err := q.spill.Append(r)
		if err == nil {
			q.spilled.Add(1)
			q.logger.Warn("push queue full, spilled record to disk",
				zap.String("record_id", r.ID),
				zap.String("spill_path", q.spill.Path()),
			)
			return nil
		}
		q.logger.Error("push queue spill failed",
			zap.String("record_id", r.ID),
			zap.Error(err),
		)
	}

	q.rejected.Add(1)
	q.logger.Error("push queue full, record rejected",
		zap.String("record_id", r.ID),
		zap.Int("capacity", cap(q.ch)),
	)
	return ErrQueueFull
}

// Dequeue waits up to wait for a record.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*model.Record, bool) {
	select {
	case r := <-q.ch:
		return r, true
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case r := <-q.ch:
		return r, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Drain removes and returns every queued record without blocking.
func (q *Queue) Drain() []*model.Record {
	var out []*model.Record
	for {
		select {
		case r := <-q.ch:
			out = append(out, r)
		default:
			return out
		}
	}
}

// ReplaySpill returns and clears spilled records. It returns nil when no
// spill file is configured.
func (q *Queue) ReplaySpill() ([]*model.Record, error) {
	if q.spill == nil {
		return nil, nil
	}
	records, skipped, err := q.spill.Replay()
	if skipped > 0 {
		q.logger.Warn("skipped corrupt spill lines", zap.Int("skipped", skipped))
	}
	return records, err
}

// Respill appends records to the spill file so the next replay returns them.
// It is used for records taken off the queue that could not be pushed.
func (q *Queue) Respill(records []*model.Record) error {
	if q.spill == nil {
		return ErrNoSpill
	}
	for i, r := range records {
		if err := q.spill.Append(r); err != nil {
			return fmt.Errorf("queue: respill %d of %d records: %w", len(records)-i, len(records), err)
		}
	}
	return nil
}

// Close stops accepting records. Queued records remain available to Drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len returns the number of queued records.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Rejected returns how many records were refused with ErrQueueFull.
func (q *Queue) Rejected() int64 { return q.rejected.Load() }

// Spilled returns how many records overflowed to disk.
func (q *Queue) Spilled() int64 { return q.spilled.Load() }
