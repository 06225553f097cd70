package store

import (
	"os"
	"sort"
	"time"
)

// Stats holds record store statistics.
type Stats struct {
	Path            string          `json:"path"`
	LogSizeBytes    int64           `json:"log_size_bytes"`
	Records         int             `json:"records"`
	MaxCapacity     int             `json:"max_capacity"`
	TotalEverStored int64           `json:"total_ever_stored"`
	Skipped         int             `json:"skipped_on_load"`
	Dirty           bool            `json:"dirty"`
	LastSave        time.Time       `json:"last_save"`
	Categories      []CategoryStats `json:"categories"`
}

// CategoryStats holds per-category counts.
type CategoryStats struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	st := Stats{
		Path:            s.path,
		Records:         len(s.records),
		MaxCapacity:     s.max,
		TotalEverStored: s.total,
		Skipped:         s.skipped,
		Dirty:           s.gen != s.savedGen,
		LastSave:        s.lastSave,
	}
	for c, positions := range s.idx.categories {
		st.Categories = append(st.Categories, CategoryStats{Category: c, Count: len(positions)})
	}
	s.mu.RUnlock()

	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			st.LogSizeBytes = info.Size()
		}
	}

	sort.Slice(st.Categories, func(i, j int) bool {
		if st.Categories[i].Count != st.Categories[j].Count {
			return st.Categories[i].Count > st.Categories[j].Count
		}
		return st.Categories[i].Category < st.Categories[j].Category
	})
	return st
}
