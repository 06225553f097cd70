package store

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/memtier/internal/codec"
	"github.com/rcliao/memtier/internal/model"
)

// LogHeader is the first line of every durability log.
const LogHeader = "#memtier-log v1"

// maxLineSize bounds a single record line when loading.
const maxLineSize = 64 << 20

// Flush rewrites the durability log with the current sequence.
func (s *Store) Flush() error {
	if s.path == "" {
		return nil
	}

	// Snapshot under fileMu so concurrent flushes reach disk in generation
	// order and an older snapshot never overwrites a newer one.
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.RLock()
	gen := s.gen
	total := s.total
	records := append([]*model.Record(nil), s.records...)
	s.mu.RUnlock()

	if err := writeLog(s.path, total, records); err != nil {
		return fmt.Errorf("store: flush %s: %w", s.path, err)
	}

	s.mu.Lock()
	if gen > s.savedGen {
		s.savedGen = gen
	}
	s.lastSave = s.now()
	s.mu.Unlock()

	s.logger.Debug("flushed durability log",
		zap.String("path", s.path),
		zap.Int("records", len(records)),
	)
	return nil
}

// FlushIfDirty flushes only when there are unsaved changes.
func (s *Store) FlushIfDirty() error {
	if !s.Dirty() {
		return nil
	}
	return s.Flush()
}

// writeLog writes to a temp file in the same directory and renames it over
// the previous snapshot.
func writeLog(path string, total int64, records []*model.Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	fmt.Fprintln(w, LogHeader)
	fmt.Fprintln(w, total)
	for _, r := range records {
		line, err := codec.Marshal(r)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("encode %s: %w", r.ID, err)
		}
		w.WriteString(line)
		w.WriteByte('\n')
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: open log %s: %w", s.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return fmt.Errorf("store: read log %s: %w", s.path, err)
		}
		return nil
	}
	if header := strings.TrimSpace(sc.Text()); header != LogHeader {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, header)
	}

	var total int64
	if sc.Scan() {
		n, err := strconv.ParseInt(strings.TrimSpace(sc.Text()), 10, 64)
		if err != nil {
			s.logger.Warn("unreadable lifetime counter in log", zap.String("path", s.path), zap.Error(err))
		} else {
			total = n
		}
	}

	var records []*model.Record
	skipped := 0
	lineNo := 2
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := codec.Unmarshal(line)
		if err != nil {
			skipped++
			s.logger.Warn("skipping corrupt log line",
				zap.String("path", s.path),
				zap.Int("line", lineNo),
				zap.Error(err),
			)
			continue
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("store: read log %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = records
	if len(s.records) > s.max {
		s.records = s.records[len(s.records)-s.max:]
	}
	s.idx.rebuild(s.records)
	if total < int64(len(records)) {
		total = int64(len(records))
	}
	s.total = total
	s.skipped = skipped
	if n := len(s.records); n > 0 {
		s.lastTS = s.records[n-1].Timestamp
	}

	s.logger.Info("loaded durability log",
		zap.String("path", s.path),
		zap.Int("records", len(s.records)),
		zap.Int("skipped", skipped),
		zap.Int64("total_ever_stored", s.total),
	)
	return nil
}
