package tier

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/memtier/internal/model"
)

const (
	// DefaultFastCapacity bounds the fast tier's payload table.
	DefaultFastCapacity = 4096

	compactPrefix  = "MT1"
	compactPreview = 64
)

// ErrBadPayload is returned when a compact payload cannot be decoded.
var ErrBadPayload = errors.New("tier: bad compact payload")

// Partial holds the fields recoverable from a compact payload.
type Partial struct {
	Weight      float64
	Fingerprint string
	Timestamp   time.Time
	Category    string
	Preview     string
}

// Encoder converts records to compact payloads and back.
type Encoder interface {
	Encode(r *model.Record) (string, error)
	Decode(payload string) (Partial, error)
}

// CompactEncoder produces colon-separated payloads:
//
//	MT1:<weight>:<fingerprint>:<ts_ms>:<b64 category>:<b64 content preview>
type CompactEncoder struct{}

var compactB64 = base64.RawURLEncoding

func (CompactEncoder) Encode(r *model.Record) (string, error) {
	preview := r.Content
	if runes := []rune(preview); len(runes) > compactPreview {
		preview = string(runes[:compactPreview])
	}
	return strings.Join([]string{
		compactPrefix,
		strconv.FormatFloat(r.Weight, 'g', -1, 64),
		r.Fingerprint,
		strconv.FormatInt(r.Timestamp.UnixMilli(), 10),
		compactB64.EncodeToString([]byte(r.Category)),
		compactB64.EncodeToString([]byte(preview)),
	}, ":"), nil
}

func (CompactEncoder) Decode(payload string) (Partial, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 6 || parts[0] != compactPrefix {
		return Partial{}, ErrBadPayload
	}
	weight, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Partial{}, fmt.Errorf("%w: weight: %v", ErrBadPayload, err)
	}
	ms, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Partial{}, fmt.Errorf("%w: timestamp: %v", ErrBadPayload, err)
	}
	category, err := compactB64.DecodeString(parts[4])
	if err != nil {
		return Partial{}, fmt.Errorf("%w: category: %v", ErrBadPayload, err)
	}
	preview, err := compactB64.DecodeString(parts[5])
	if err != nil {
		return Partial{}, fmt.Errorf("%w: preview: %v", ErrBadPayload, err)
	}
	return Partial{
		Weight:      weight,
		Fingerprint: parts[2],
		Timestamp:   time.UnixMilli(ms),
		Category:    string(category),
		Preview:     string(preview),
	}, nil
}

// FastTier keeps compact payloads in a bounded in-process table. Once full
// the oldest payload is discarded.
type FastTier struct {
	enc Encoder
	max int

	mu       sync.RWMutex
	payloads map[string]string
	order    []string
}

var (
	_ Backend = (*FastTier)(nil)
	_ Reader  = (*FastTier)(nil)
	_ Sizer   = (*FastTier)(nil)
)

// NewFast creates a fast tier. A nil encoder selects CompactEncoder.
func NewFast(enc Encoder, capacity int) *FastTier {
	if enc == nil {
		enc = CompactEncoder{}
	}
	if capacity <= 0 {
		capacity = DefaultFastCapacity
	}
	return &FastTier{
		enc:      enc,
		max:      capacity,
		payloads: make(map[string]string),
	}
}

func (f *FastTier) Tier() Tier      { return Fast }
func (f *FastTier) Available() bool { return true }

func (f *FastTier) Write(_ context.Context, r *model.Record) error {
	payload, err := f.enc.Encode(r)
	if err != nil {
		return fmt.Errorf("fast tier: encode %s: %w", r.ID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.payloads[r.ID]; !exists {
		f.order = append(f.order, r.ID)
		if len(f.order) > f.max {
			oldest := f.order[0]
			f.order = f.order[1:]
			delete(f.payloads, oldest)
		}
	}
	f.payloads[r.ID] = payload
	return nil
}

// Payload returns the stored payload for id.
func (f *FastTier) Payload(id string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.payloads[id]
	return p, ok
}

// Lookup reconstructs a minimal record from the payload. Decode failures are
// a miss.
func (f *FastTier) Lookup(_ context.Context, id string) (*model.Record, bool, error) {
	payload, ok := f.Payload(id)
	if !ok {
		return nil, false, nil
	}
	p, err := f.enc.Decode(payload)
	if err != nil {
		return nil, false, nil
	}
	return model.Restore(model.Params{
		ID:        id,
		Timestamp: p.Timestamp,
		Category:  p.Category,
		Content:   p.Preview,
		Weight:    p.Weight,
	}, p.Fingerprint, nil), true, nil
}

func (f *FastTier) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.payloads))
}
