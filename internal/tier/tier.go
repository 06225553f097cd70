// Package tier defines the durability tiers and the backends that implement
// them.
package tier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rcliao/memtier/internal/model"
)

// Tier identifies one backing store. Lower numbers are consulted first on
// reads.
type Tier int

const (
	Fast      Tier = 1
	Local     Tier = 2
	Permanent Tier = 3
)

// All lists the tiers in read priority order.
var All = []Tier{Fast, Local, Permanent}

// ErrUnknownTier is returned for a tier outside Fast..Permanent.
var ErrUnknownTier = errors.New("tier: unknown tier")

func (t Tier) String() string {
	switch t {
	case Fast:
		return "fast"
	case Local:
		return "local"
	case Permanent:
		return "permanent"
	default:
		return "tier(" + strconv.Itoa(int(t)) + ")"
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t >= Fast && t <= Permanent
}

// Parse accepts a tier name or number.
func Parse(s string) (Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range All {
		if s == t.String() || s == strconv.Itoa(int(t)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// Backend is the write capability every tier provides.
type Backend interface {
	Tier() Tier
	Write(ctx context.Context, r *model.Record) error
	Available() bool
}

// Reader is implemented by tiers that support point lookups by ID.
type Reader interface {
	Lookup(ctx context.Context, id string) (*model.Record, bool, error)
}

// Sizer is implemented by tiers that can report how many entries they hold.
type Sizer interface {
	Size() int64
}

// Closer is implemented by tiers holding resources.
type Closer interface {
	Close() error
}
