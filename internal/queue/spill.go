package queue

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rcliao/memtier/internal/codec"
	"github.com/rcliao/memtier/internal/model"
)

// Spill is an append-only overflow file of codec record lines.
type Spill struct {
	mu   sync.Mutex
	path string
}

// NewSpill returns a spill file handle. The file is created on first append.
func NewSpill(path string) *Spill {
	return &Spill{path: path}
}

// Path returns the spill file path.
func (s *Spill) Path() string { return s.path }

// Append writes r to the spill file and syncs it.
func (s *Spill) Append(r *model.Record) error {
	line, err := codec.Marshal(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("queue: create spill dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("queue: open spill: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("queue: write spill: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("queue: sync spill: %w", err)
	}
	return f.Close()
}

// Replay reads every spilled record and truncates the file. Corrupt lines
// are skipped and counted.
func (s *Spill) Replay() ([]*model.Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("queue: open spill: %w", err)
	}

	var (
		records []*model.Record
		skipped int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		r, err := codec.Unmarshal(sc.Text())
		if err != nil {
			skipped++
			continue
		}
		records = append(records, r)
	}
	scanErr := sc.Err()
	f.Close()
	if scanErr != nil {
		return records, skipped, fmt.Errorf("queue: read spill: %w", scanErr)
	}

	if err := os.Truncate(s.path, 0); err != nil {
		return records, skipped, fmt.Errorf("queue: truncate spill: %w", err)
	}
	return records, skipped, nil
}
