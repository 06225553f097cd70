// Package ledger implements an append-only, hash-chained file ledger used as
// the permanent tier.
package ledger

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// ErrChainBroken indicates an entry whose hash or link does not verify.
var ErrChainBroken = errors.New("ledger: chain broken")

// Entry is one ledger line.
type Entry struct {
	Seq     int64     `json:"seq"`
	Time    time.Time `json:"time"`
	Label   string    `json:"label"`
	Payload []byte    `json:"payload"`
	Prev    string    `json:"prev"`
	Hash    string    `json:"hash"`
}

// Ack acknowledges an append.
type Ack struct {
	Seq  int64  `json:"seq"`
	Hash string `json:"hash"`
}

// FileLedger appends entries to a JSON-lines file. Each entry's hash covers
// the previous hash, so rewriting history invalidates every later entry.
type FileLedger struct {
	mu   sync.Mutex
	path string
	f    *os.File
	seq  int64
	last string
	torn int64
}

// Open opens or creates the ledger at path and recovers its head.
func Open(path string) (*FileLedger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: create directory %s: %w", dir, err)
		}
	}

	torn, err := repairTail(path)
	if err != nil {
		return nil, err
	}

	l := &FileLedger{path: path, torn: torn}
	if err := l.walk(func(e Entry) error {
		l.seq = e.Seq
		l.last = e.Hash
		return nil
	}); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	l.f = f
	return l, nil
}

// repairTail fixes a last line left unterminated by a crash mid-append. A
// complete entry gets its newline back; a fragment is truncated. It returns
// the number of bytes dropped. Damage before the last line is left for walk
// to report.
func repairTail(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: read %s: %w", path, err)
	}
	if len(raw) == 0 || raw[len(raw)-1] == '\n' {
		return 0, nil
	}

	cut := bytes.LastIndexByte(raw, '\n') + 1
	var e Entry
	if json.Unmarshal(raw[cut:], &e) == nil {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, fmt.Errorf("ledger: open %s: %w", path, err)
		}
		defer f.Close()
		if _, err := f.Write([]byte{'\n'}); err != nil {
			return 0, fmt.Errorf("ledger: terminate last entry: %w", err)
		}
		return 0, f.Sync()
	}

	if err := os.Truncate(path, int64(cut)); err != nil {
		return 0, fmt.Errorf("ledger: truncate torn entry: %w", err)
	}
	return int64(len(raw) - cut), nil
}

// TornBytes reports how many bytes of an incomplete last entry Open discarded.
func (l *FileLedger) TornBytes() int64 {
	return l.torn
}

func hashEntry(prev string, seq int64, label string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(seq, 10)))
	h.Write([]byte{0})
	h.Write([]byte(label))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Append writes an entry and syncs it to disk.
func (l *FileLedger) Append(ctx context.Context, label string, payload []byte) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return Ack{}, errors.New("ledger: closed")
	}

	seq := l.seq + 1
	e := Entry{
		Seq:     seq,
		Time:    time.Now().UTC(),
		Label:   label,
		Payload: payload,
		Prev:    l.last,
		Hash:    hashEntry(l.last, seq, label, payload),
	}
	b, err := json.Marshal(e)
	if err != nil {
		return Ack{}, fmt.Errorf("ledger: encode entry: %w", err)
	}
	b = append(b, '\n')

	if _, err := l.f.Write(b); err != nil {
		return Ack{}, fmt.Errorf("ledger: append %s: %w", label, err)
	}
	if err := l.f.Sync(); err != nil {
		return Ack{}, fmt.Errorf("ledger: sync: %w", err)
	}

	l.seq = seq
	l.last = e.Hash
	return Ack{Seq: seq, Hash: e.Hash}, nil
}

// Size returns the number of entries.
func (l *FileLedger) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Entries returns every entry in order.
func (l *FileLedger) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	err := l.walk(func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// Verify walks the chain and reports the first entry that does not verify.
func (l *FileLedger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	var want int64 = 1
	return l.walk(func(e Entry) error {
		if e.Seq != want {
			return fmt.Errorf("%w: expected seq %d, got %d", ErrChainBroken, want, e.Seq)
		}
		if e.Prev != prev {
			return fmt.Errorf("%w: seq %d does not link to its predecessor", ErrChainBroken, e.Seq)
		}
		if hashEntry(e.Prev, e.Seq, e.Label, e.Payload) != e.Hash {
			return fmt.Errorf("%w: seq %d hash mismatch", ErrChainBroken, e.Seq)
		}
		prev = e.Hash
		want++
		return nil
	})
}

func (l *FileLedger) walk(fn func(Entry) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrChainBroken, line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Close closes the underlying file.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
