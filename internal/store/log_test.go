package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rcliao/memtier/internal/codec"
	"github.com/rcliao/memtier/internal/model"
)

func TestFlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "records.log")
	s, err := Open(Options{Path: path, MaxCapacity: 100})
	require.NoError(t, err)

	r, err := s.Store("KNOWLEDGE", "multi\nline | content", 0.25, "tester")
	require.NoError(t, err)
	r.SetMeta("source", "unit|test")
	s.Store("EVENT", "second", 1, "")

	require.NoError(t, s.Flush())
	assert.False(t, s.Dirty())

	s2, err := Open(Options{Path: path, MaxCapacity: 100})
	require.NoError(t, err)
	require.Equal(t, 2, s2.Len())
	assert.Equal(t, int64(2), s2.TotalEverStored())

	got, ok := s2.Get(r.ID)
	require.True(t, ok)
	assert.Equal(t, r.Content, got.Content)
	assert.Equal(t, r.Fingerprint, got.Fingerprint)
	assert.Equal(t, map[string]string{"source": "unit|test"}, got.MetaSnapshot())
	assert.Len(t, s2.GetByCategory("EVENT"), 1)
	assert.False(t, s2.Dirty())
}

func TestConcurrentFlushesKeepNewestSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")
	s, err := Open(Options{Path: path, MaxCapacity: 1000})
	require.NoError(t, err)

	const writers, perWriter = 8, 20
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Store("EVENT", fmt.Sprintf("writer %d item %d", w, i), 0, "")
				assert.NoError(t, err)
				assert.NoError(t, s.Flush())
			}
		}()
	}
	wg.Wait()

	// A clean store must mean the log on disk already holds every record.
	require.False(t, s.Dirty())
	require.NoError(t, s.Close())

	s2, err := Open(Options{Path: path, MaxCapacity: 1000})
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, s2.Len())
	assert.Equal(t, int64(writers*perWriter), s2.TotalEverStored())
}

func TestLifetimeCounterSurvivesEvictionAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")
	s, err := Open(Options{Path: path, MaxCapacity: 10})
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		s.Store("EVENT", "x", 0, "")
	}
	require.NoError(t, s.Close())

	s2, err := Open(Options{Path: path, MaxCapacity: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(25), s2.TotalEverStored())
	assert.Equal(t, s.Len(), s2.Len())
}

func TestTimestampsStayMonotonicAfterReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")
	future := time.Now().Add(time.Hour)
	s, err := Open(Options{Path: path, Now: func() time.Time { return future }})
	require.NoError(t, err)
	last, _ := s.Store("EVENT", "from the future", 0, "")
	require.NoError(t, s.Flush())

	s2, err := Open(Options{Path: path})
	require.NoError(t, err)
	next, err := s2.Store("EVENT", "now", 0, "")
	require.NoError(t, err)
	assert.False(t, next.Timestamp.Before(last.Timestamp))
}

func TestLoadSkipsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")

	var lines []string
	for i := 0; i < 10; i++ {
		r := model.New(model.Params{
			ID:        fmt.Sprintf("id-%02d", i),
			Timestamp: time.UnixMilli(int64(1000 + i)),
			Category:  "EVENT",
			Content:   fmt.Sprintf("record %d", i),
		})
		line, err := codec.Marshal(r)
		require.NoError(t, err)
		lines = append(lines, line)
	}
	lines[4] = "corrupted|line"

	content := LogHeader + "\n10\n" + strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	core, logs := observer.New(zap.WarnLevel)
	s, err := Open(Options{Path: path, Logger: zap.New(core)})
	require.NoError(t, err)

	assert.Equal(t, 9, s.Len())
	assert.Equal(t, 1, s.Stats().Skipped)
	assert.Equal(t, 1, logs.FilterMessage("skipping corrupt log line").Len())
	_, ok := s.Get("id-04")
	assert.False(t, ok)
	checkIndex(t, s)
}

func TestLoadRejectsUnknownHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")
	require.NoError(t, os.WriteFile(path, []byte("#memtier-log v9\n0\n"), 0o644))

	_, err := Open(Options{Path: path})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadMissingAndEmptyFile(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Options{Path: filepath.Join(dir, "missing.log")})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())

	empty := filepath.Join(dir, "empty.log")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	s, err = Open(Options{Path: empty})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestFlushFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")
	s, err := Open(Options{Path: path})
	require.NoError(t, err)
	s.Store("EVENT", "a", 0, "")
	s.Store("EVENT", "b", 0, "")
	require.NoError(t, s.Flush())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 4)
	assert.Equal(t, LogHeader, lines[0])
	assert.Equal(t, "2", lines[1])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}

func TestInlineAutosave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")
	clock := newFakeClock()
	s, err := Open(Options{Path: path, AutosaveInterval: time.Minute, Now: clock.Now})
	require.NoError(t, err)

	s.Store("EVENT", "a", 0, "")
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "interval has not elapsed")

	clock.Advance(2 * time.Minute)
	s.Store("EVENT", "b", 0, "")
	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.False(t, s.Dirty())
}

func TestTouchMarksDirty(t *testing.T) {
	s := newTestStore(t, 10)
	s.Store("EVENT", "a", 0, "")
	require.NoError(t, s.Flush())
	assert.False(t, s.Dirty())

	s.Touch()
	assert.True(t, s.Dirty())
	require.NoError(t, s.FlushIfDirty())
	assert.False(t, s.Dirty())
}

func TestExport(t *testing.T) {
	s := newTestStore(t, 10)
	var empty strings.Builder
	require.NoError(t, s.Export(&empty))
	assert.Equal(t, "[]\n", empty.String())

	s.Store("EVENT", "exported", 0, "")
	var b strings.Builder
	require.NoError(t, s.Export(&b))
	assert.Contains(t, b.String(), `"content": "exported"`)
}
