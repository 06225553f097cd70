package tier

import (
	"context"

	"github.com/rcliao/memtier/internal/mirror"
	"github.com/rcliao/memtier/internal/model"
)

// RecordSource is the in-process record store as seen by the local tier.
type RecordSource interface {
	Get(id string) (*model.Record, bool)
}

// LocalTier is the authoritative record store plus an optional mirror.
// Records already live in the store before tiering begins, so a write only
// propagates to the mirror, and a missing or disconnected mirror is skipped.
type LocalTier struct {
	src    RecordSource
	mirror mirror.Mirror
}

var (
	_ Backend = (*LocalTier)(nil)
	_ Reader  = (*LocalTier)(nil)
)

// NewLocal creates a local tier. m may be nil.
func NewLocal(src RecordSource, m mirror.Mirror) *LocalTier {
	return &LocalTier{src: src, mirror: m}
}

func (l *LocalTier) Tier() Tier      { return Local }
func (l *LocalTier) Available() bool { return l.src != nil }

func (l *LocalTier) Write(ctx context.Context, r *model.Record) error {
	if l.mirror == nil || !l.mirror.IsConnected(ctx) {
		return nil
	}
	return l.mirror.Save(ctx, r)
}

// Lookup checks the record store, then the mirror.
func (l *LocalTier) Lookup(ctx context.Context, id string) (*model.Record, bool, error) {
	if l.src != nil {
		if r, ok := l.src.Get(id); ok {
			return r, true, nil
		}
	}
	if l.mirror == nil || !l.mirror.IsConnected(ctx) {
		return nil, false, nil
	}
	return l.mirror.Find(ctx, id)
}

// MirrorCount returns the mirrored record count, or -1 without a mirror.
func (l *LocalTier) MirrorCount(ctx context.Context) int {
	if l.mirror == nil {
		return -1
	}
	n, err := l.mirror.Count(ctx)
	if err != nil {
		return -1
	}
	return n
}

func (l *LocalTier) Close() error {
	if l.mirror == nil {
		return nil
	}
	return l.mirror.Close()
}
