package store

import (
	"encoding/json"
	"io"
)

// Export writes every live record as an indented JSON array.
func (s *Store) Export(w io.Writer) error {
	records := s.All()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if records == nil {
		return enc.Encode([]any{})
	}
	return enc.Encode(records)
}
