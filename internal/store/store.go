// Package store provides the bounded, indexed, in-memory record store and its
// file-backed durability log.
package store

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/memtier/internal/model"
)

// DefaultMaxCapacity is used when Options.MaxCapacity is zero.
const DefaultMaxCapacity = 10000

var (
	// ErrInvalidRecord is returned by Store for input that cannot form a record.
	ErrInvalidRecord = errors.New("store: invalid record")

	// ErrUnsupportedFormat is returned by Open when the log header is unknown.
	ErrUnsupportedFormat = errors.New("store: unsupported log format")
)

// Options configures a Store.
type Options struct {
	// Path is the durability log file. Empty disables persistence.
	Path string

	// MaxCapacity bounds the number of in-memory records.
	MaxCapacity int

	// AutosaveInterval makes Store flush inline once this much time has
	// passed since the last save. Zero disables inline autosave.
	AutosaveInterval time.Duration

	Logger *zap.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is a thread-safe ordered sequence of records with a category index.
type Store struct {
	mu      sync.RWMutex
	records []*model.Record
	idx     index
	total   int64
	lastTS  time.Time
	entropy *ulid.MonotonicEntropy

	// gen counts mutations; savedGen is the generation last written to disk.
	gen      uint64
	savedGen uint64
	lastSave time.Time
	skipped  int

	fileMu sync.Mutex

	path     string
	max      int
	autosave time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// Open creates a store and loads any existing durability log.
func Open(opts Options) (*Store, error) {
	if opts.MaxCapacity <= 0 {
		opts.MaxCapacity = DefaultMaxCapacity
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		idx:      newIndex(),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		path:     opts.Path,
		max:      opts.MaxCapacity,
		autosave: opts.AutosaveInterval,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	s.lastSave = s.now()

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) newID(ts time.Time) string {
	return ulid.MustNew(ulid.Timestamp(ts), s.entropy).String()
}

// Store appends a new record. It fails only for invalid input; persistence
// problems during an inline autosave are logged.
func (s *Store) Store(category, content string, weight float64, origin string) (*model.Record, error) {
	if category == "" {
		return nil, fmt.Errorf("%w: empty category", ErrInvalidRecord)
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) {
		return nil, fmt.Errorf("%w: weight %v", ErrInvalidRecord, weight)
	}

	s.mu.Lock()
	ts := s.now()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}
	r := model.New(model.Params{
		ID:        s.newID(ts),
		Timestamp: ts,
		Category:  category,
		Content:   content,
		Weight:    weight,
		Origin:    origin,
	})
	s.lastTS = r.Timestamp
	s.appendLocked(r)
	s.total++
	s.gen++
	s.enforceCapacityLocked()
	due := s.autosaveDueLocked()
	s.mu.Unlock()

	if due {
		if err := s.Flush(); err != nil {
			s.logger.Error("autosave failed",
				zap.String("record_id", r.ID),
				zap.String("path", s.path),
				zap.Error(err),
			)
		}
	}
	return r, nil
}

// Touch marks the store dirty after a caller mutates record metadata.
func (s *Store) Touch() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

func (s *Store) appendLocked(r *model.Record) {
	s.idx.add(r, len(s.records))
	s.records = append(s.records, r)
}

// enforceCapacityLocked evicts the oldest fifth once the bound is reached and
// rebuilds the index before the lock is released.
func (s *Store) enforceCapacityLocked() {
	if len(s.records) < s.max {
		return
	}
	n := s.max / 5
	if n < 1 {
		n = 1
	}
	evicted := s.records[:n]
	s.records = append([]*model.Record(nil), s.records[n:]...)
	s.idx.rebuild(s.records)

	s.logger.Debug("evicted oldest records",
		zap.Int("evicted", len(evicted)),
		zap.String("oldest_id", evicted[0].ID),
		zap.Int("remaining", len(s.records)),
	)
}

func (s *Store) autosaveDueLocked() bool {
	if s.autosave <= 0 || s.path == "" || s.gen == s.savedGen {
		return false
	}
	return s.now().Sub(s.lastSave) >= s.autosave
}

// GetByCategory returns the live records of a category in insertion order.
func (s *Store) GetByCategory(category string) []*model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := s.idx.categories[category]
	if len(positions) == 0 {
		return nil
	}
	out := make([]*model.Record, len(positions))
	for i, pos := range positions {
		out[i] = s.records[pos]
	}
	return out
}

// GetRecent returns the last n records in insertion order.
func (s *Store) GetRecent(n int) []*model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	if n > len(s.records) {
		n = len(s.records)
	}
	return append([]*model.Record(nil), s.records[len(s.records)-n:]...)
}

// Get looks up a live record by ID.
func (s *Store) Get(id string) (*model.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.idx.ids[id]
	if !ok {
		return nil, false
	}
	return s.records[pos], true
}

// All returns every live record in insertion order.
func (s *Store) All() []*model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*model.Record(nil), s.records...)
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// TotalEverStored returns the lifetime record count, unaffected by eviction.
func (s *Store) TotalEverStored() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Categories returns the live record count per category.
func (s *Store) Categories() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.idx.categories))
	for c, positions := range s.idx.categories {
		out[c] = len(positions)
	}
	return out
}

// Dirty reports whether the store has changes not yet flushed.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != s.savedGen
}

// Close performs the final flush.
func (s *Store) Close() error {
	return s.FlushIfDirty()
}
