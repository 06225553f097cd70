package store

import (
	"strings"

	"github.com/rcliao/memtier/internal/model"
)

// Search returns records whose content, category, or origin contains text,
// case-insensitively, in insertion order.
func (s *Store) Search(text string) []*model.Record {
	q := strings.ToLower(text)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*model.Record
	for _, r := range s.records {
		if strings.Contains(strings.ToLower(r.Content), q) ||
			strings.Contains(strings.ToLower(r.Category), q) ||
			strings.Contains(strings.ToLower(r.Origin), q) {
			results = append(results, r)
		}
	}
	return results
}
