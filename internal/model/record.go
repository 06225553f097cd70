// Package model defines the core record data types.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
	"strconv"
	"sync"
	"time"
)

// Record is one stored unit of content plus metadata. All fields except the
// metadata map are fixed at construction.
type Record struct {
	ID          string
	Timestamp   time.Time
	Category    string
	Content     string
	Weight      float64
	Origin      string
	Fingerprint string

	mu   sync.RWMutex
	meta map[string]string
}

// Params holds the caller-supplied fields of a new record.
type Params struct {
	ID        string
	Timestamp time.Time
	Category  string
	Content   string
	Weight    float64
	Origin    string
}

// New constructs a record and computes its fingerprint. The timestamp is
// truncated to milliseconds so it survives persistence unchanged.
func New(p Params) *Record {
	ts := p.Timestamp.Truncate(time.Millisecond)
	return &Record{
		ID:          p.ID,
		Timestamp:   ts,
		Category:    p.Category,
		Content:     p.Content,
		Weight:      p.Weight,
		Origin:      p.Origin,
		Fingerprint: Fingerprint(p.Category, p.Content, ts),
	}
}

// Restore rebuilds a record from persisted fields without recomputing the
// fingerprint. Use Verify to check integrity.
func Restore(p Params, fingerprint string, meta map[string]string) *Record {
	r := &Record{
		ID:          p.ID,
		Timestamp:   p.Timestamp,
		Category:    p.Category,
		Content:     p.Content,
		Weight:      p.Weight,
		Origin:      p.Origin,
		Fingerprint: fingerprint,
	}
	if len(meta) > 0 {
		r.meta = maps.Clone(meta)
	}
	return r
}

// Fingerprint hashes the defining fields of a record.
func Fingerprint(category, content string, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(ts.UnixMilli(), 10)))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Verify reports whether the stored fingerprint matches the record fields.
func (r *Record) Verify() bool {
	return r.Fingerprint == Fingerprint(r.Category, r.Content, r.Timestamp)
}

// SetMeta attaches a metadata fact to the record.
func (r *Record) SetMeta(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta == nil {
		r.meta = make(map[string]string)
	}
	r.meta[key] = value
}

// Meta returns a single metadata value.
func (r *Record) Meta(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.meta[key]
	return v, ok
}

// MetaSnapshot returns a copy of the metadata map. Nil when empty.
func (r *Record) MetaSnapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.meta) == 0 {
		return nil
	}
	return maps.Clone(r.meta)
}

type recordJSON struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Category    string            `json:"category"`
	Content     string            `json:"content"`
	Weight      float64           `json:"weight"`
	Origin      string            `json:"origin,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ID:          r.ID,
		Timestamp:   r.Timestamp,
		Category:    r.Category,
		Content:     r.Content,
		Weight:      r.Weight,
		Origin:      r.Origin,
		Fingerprint: r.Fingerprint,
		Metadata:    r.MetaSnapshot(),
	})
}
