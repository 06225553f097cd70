package tier

import (
	"context"
	"fmt"

	"github.com/rcliao/memtier/internal/codec"
	"github.com/rcliao/memtier/internal/ledger"
	"github.com/rcliao/memtier/internal/model"
)

// Ledger is an append-only store. Lookup by ID is not part of the contract.
type Ledger interface {
	Append(ctx context.Context, label string, payload []byte) (ledger.Ack, error)
	Size() int64
}

// PermanentTier appends codec-encoded records to a ledger.
type PermanentTier struct {
	ledger Ledger
}

var (
	_ Backend = (*PermanentTier)(nil)
	_ Sizer   = (*PermanentTier)(nil)
)

// NewPermanent creates a permanent tier over l.
func NewPermanent(l Ledger) *PermanentTier {
	return &PermanentTier{ledger: l}
}

func (p *PermanentTier) Tier() Tier      { return Permanent }
func (p *PermanentTier) Available() bool { return p.ledger != nil }

func (p *PermanentTier) Write(ctx context.Context, r *model.Record) error {
	line, err := codec.Marshal(r)
	if err != nil {
		return fmt.Errorf("permanent tier: encode %s: %w", r.ID, err)
	}
	if _, err := p.ledger.Append(ctx, "record/"+r.ID, []byte(line)); err != nil {
		return fmt.Errorf("permanent tier: append %s: %w", r.ID, err)
	}
	return nil
}

func (p *PermanentTier) Size() int64 {
	if p.ledger == nil {
		return -1
	}
	return p.ledger.Size()
}

func (p *PermanentTier) Close() error {
	if c, ok := p.ledger.(Closer); ok {
		return c.Close()
	}
	return nil
}
