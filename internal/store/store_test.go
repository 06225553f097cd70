package store

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(1700000000000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T, max int) *Store {
	t.Helper()
	s, err := Open(Options{
		Path:        filepath.Join(t.TempDir(), "records.log"),
		MaxCapacity: max,
		Now:         newFakeClock().Now,
	})
	require.NoError(t, err)
	return s
}

// checkIndex asserts every indexed position resolves to a matching live record.
func checkIndex(t *testing.T, s *Store) {
	t.Helper()
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for cat, positions := range s.idx.categories {
		for _, pos := range positions {
			require.Less(t, pos, len(s.records), "stale position for %s", cat)
			require.Equal(t, cat, s.records[pos].Category)
			count++
		}
	}
	require.Equal(t, len(s.records), count)
	require.Len(t, s.idx.ids, len(s.records))
	for id, pos := range s.idx.ids {
		require.Equal(t, id, s.records[pos].ID)
	}
}

func TestStoreAndGetByCategory(t *testing.T) {
	s := newTestStore(t, 100)

	r, err := s.Store("KNOWLEDGE", "Paris is the capital of France", 0.8, "")
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)

	got := s.GetByCategory("KNOWLEDGE")
	require.Len(t, got, 1)
	assert.Equal(t, "Paris is the capital of France", got[0].Content)
	assert.Equal(t, 0.8, got[0].Weight)

	assert.Empty(t, s.GetByCategory("UNKNOWN"))
	assert.True(t, s.Dirty())
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	s := newTestStore(t, 100)

	_, err := s.Store("", "x", 0, "")
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = s.Store("EVENT", "x", math.NaN(), "")
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = s.Store("EVENT", "x", math.Inf(1), "")
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Equal(t, 0, s.Len())
}

func TestGetByCategoryPreservesOrder(t *testing.T) {
	s := newTestStore(t, 100)
	for i := 0; i < 6; i++ {
		cat := "EVENT"
		if i%2 == 1 {
			cat = "CODE"
		}
		_, err := s.Store(cat, fmt.Sprintf("item %d", i), 0, "")
		require.NoError(t, err)
	}

	events := s.GetByCategory("EVENT")
	require.Len(t, events, 3)
	assert.Equal(t, "item 0", events[0].Content)
	assert.Equal(t, "item 2", events[1].Content)
	assert.Equal(t, "item 4", events[2].Content)
}

func TestEviction(t *testing.T) {
	s := newTestStore(t, 100)

	var ids []string
	for i := 0; i < 101; i++ {
		r, err := s.Store("EVENT", fmt.Sprintf("record %d", i), float64(i), "")
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	assert.Equal(t, 81, s.Len())
	assert.Equal(t, int64(101), s.TotalEverStored())

	for _, id := range ids[:20] {
		_, ok := s.Get(id)
		assert.False(t, ok, "oldest records should be evicted")
	}

	recent := s.GetRecent(5)
	require.Len(t, recent, 5)
	for i, r := range recent {
		assert.Equal(t, ids[96+i], r.ID)
	}
	checkIndex(t, s)
}

func TestCapacityInvariant(t *testing.T) {
	for _, max := range []int{1, 3, 7, 50} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			s := newTestStore(t, max)
			cats := []string{"A", "B", "C"}
			for i := 0; i < max*4+3; i++ {
				_, err := s.Store(cats[i%len(cats)], "x", 0, "")
				require.NoError(t, err)
				require.LessOrEqual(t, s.Len(), max)
				require.GreaterOrEqual(t, s.TotalEverStored(), int64(s.Len()))
				checkIndex(t, s)
			}
		})
	}
}

func TestTimestampsNeverDecrease(t *testing.T) {
	clock := newFakeClock()
	s, err := Open(Options{MaxCapacity: 100, Now: clock.Now})
	require.NoError(t, err)

	first, err := s.Store("EVENT", "a", 0, "")
	require.NoError(t, err)
	clock.Advance(-time.Hour)
	second, err := s.Store("EVENT", "b", 0, "")
	require.NoError(t, err)

	assert.False(t, second.Timestamp.Before(first.Timestamp))
	assert.True(t, second.Verify())
}

func TestUniqueIDs(t *testing.T) {
	s := newTestStore(t, 10000)
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		r, err := s.Store("EVENT", "x", 0, "")
		require.NoError(t, err)
		require.False(t, seen[r.ID])
		seen[r.ID] = true
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t, 100)
	s.Store("KNOWLEDGE", "Paris is the capital of France", 0.8, "atlas")
	s.Store("EVENT", "deployed service", 0.2, "CI-Runner")
	s.Store("CODE", "func main() {}", 0.1, "")

	assert.Len(t, s.Search("paris"), 1)
	assert.Len(t, s.Search("EVENT"), 1, "matches category")
	assert.Len(t, s.Search("runner"), 1, "matches origin")
	assert.Len(t, s.Search(""), 3)
	assert.Empty(t, s.Search("tokyo"))
}

func TestGetRecent(t *testing.T) {
	s := newTestStore(t, 100)
	assert.Empty(t, s.GetRecent(3))

	s.Store("EVENT", "one", 0, "")
	s.Store("EVENT", "two", 0, "")

	got := s.GetRecent(5)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "two", got[1].Content)
	assert.Empty(t, s.GetRecent(0))
}

func TestCategories(t *testing.T) {
	s := newTestStore(t, 100)
	s.Store("EVENT", "a", 0, "")
	s.Store("EVENT", "b", 0, "")
	s.Store("CODE", "c", 0, "")

	assert.Equal(t, map[string]int{"EVENT": 2, "CODE": 1}, s.Categories())

	st := s.Stats()
	require.Len(t, st.Categories, 2)
	assert.Equal(t, "EVENT", st.Categories[0].Category)
	assert.Equal(t, 3, st.Records)
	assert.Equal(t, int64(3), st.TotalEverStored)
}

func TestConcurrentStore(t *testing.T) {
	s := newTestStore(t, 500)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, err := s.Store(fmt.Sprintf("C%d", w%3), "payload", 0, "")
				assert.NoError(t, err)
				s.GetByCategory("C1")
				s.Search("pay")
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int64(1600), s.TotalEverStored())
	assert.LessOrEqual(t, s.Len(), 500)
	checkIndex(t, s)
}
