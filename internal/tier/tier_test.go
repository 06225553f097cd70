package tier

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memtier/internal/codec"
	"github.com/rcliao/memtier/internal/ledger"
	"github.com/rcliao/memtier/internal/mirror"
	"github.com/rcliao/memtier/internal/model"
)

func newRecord(id, content string) *model.Record {
	return model.New(model.Params{
		ID:        id,
		Timestamp: time.UnixMilli(1700000000000),
		Category:  "KNOWLEDGE",
		Content:   content,
		Weight:    0.8,
	})
}

func TestParse(t *testing.T) {
	for in, want := range map[string]Tier{"fast": Fast, "1": Fast, " Local ": Local, "3": Permanent, "permanent": Permanent} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := Parse("cold")
	assert.ErrorIs(t, err, ErrUnknownTier)

	assert.Equal(t, "tier(7)", Tier(7).String())
	assert.False(t, Tier(0).Valid())
	assert.True(t, Local.Valid())
}

func TestCompactEncoderRoundTrip(t *testing.T) {
	r := newRecord("a", strings.Repeat("é", 100))
	enc := CompactEncoder{}

	payload, err := enc.Encode(r)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, "MT1:"))

	p, err := enc.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, r.Weight, p.Weight)
	assert.Equal(t, r.Fingerprint, p.Fingerprint)
	assert.Equal(t, r.Timestamp.UnixMilli(), p.Timestamp.UnixMilli())
	assert.Equal(t, "KNOWLEDGE", p.Category)
	assert.Equal(t, compactPreview, len([]rune(p.Preview)))
}

func TestCompactEncoderRejectsGarbage(t *testing.T) {
	enc := CompactEncoder{}
	for _, payload := range []string{"", "MT2:1:f:1:a:b", "MT1:x:f:1:a:b", "MT1:1:f:y:a:b", "MT1:1:f:1:!:b"} {
		_, err := enc.Decode(payload)
		assert.ErrorIs(t, err, ErrBadPayload, payload)
	}
}

func TestFastTierLookup(t *testing.T) {
	ctx := context.Background()
	f := NewFast(nil, 10)
	r := newRecord("a", "Paris")

	_, ok, err := f.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Write(ctx, r))
	got, ok, err := f.Lookup(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r.Weight, got.Weight)
	assert.Equal(t, r.Fingerprint, got.Fingerprint)
	assert.Equal(t, "Paris", got.Content)
	assert.True(t, got.Verify(), "short content is fully recoverable")
}

func TestFastTierBounded(t *testing.T) {
	ctx := context.Background()
	f := NewFast(nil, 2)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.Write(ctx, newRecord(id, id)))
	}
	assert.Equal(t, int64(2), f.Size())
	_, ok := f.Payload("a")
	assert.False(t, ok)

	// Rewriting an existing id does not grow the table.
	require.NoError(t, f.Write(ctx, newRecord("c", "c2")))
	assert.Equal(t, int64(2), f.Size())
}

type brokenEncoder struct{ CompactEncoder }

func (brokenEncoder) Decode(string) (Partial, error) { return Partial{}, ErrBadPayload }

func TestFastTierDecodeFailureIsMiss(t *testing.T) {
	ctx := context.Background()
	f := NewFast(brokenEncoder{}, 10)
	require.NoError(t, f.Write(ctx, newRecord("a", "x")))

	_, ok, err := f.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

type mapSource map[string]*model.Record

func (m mapSource) Get(id string) (*model.Record, bool) {
	r, ok := m[id]
	return r, ok
}

func TestLocalTierWithoutMirror(t *testing.T) {
	ctx := context.Background()
	r := newRecord("a", "x")
	l := NewLocal(mapSource{"a": r}, nil)

	assert.True(t, l.Available())
	require.NoError(t, l.Write(ctx, r))

	got, ok, err := l.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, r, got)

	_, ok, err = l.Lookup(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, -1, l.MirrorCount(ctx))
	assert.NoError(t, l.Close())
}

func TestLocalTierMirrorFallback(t *testing.T) {
	ctx := context.Background()
	m, err := mirror.NewSQLite(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)

	l := NewLocal(mapSource{}, m)
	defer l.Close()

	r := newRecord("evicted", "only in the mirror")
	require.NoError(t, l.Write(ctx, r))
	assert.Equal(t, 1, l.MirrorCount(ctx))

	got, ok, err := l.Lookup(ctx, "evicted")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "only in the mirror", got.Content)
}

func TestLocalTierSkipsDisconnectedMirror(t *testing.T) {
	ctx := context.Background()
	m, err := mirror.NewSQLite(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	l := NewLocal(mapSource{}, m)
	assert.NoError(t, l.Write(ctx, newRecord("a", "x")))
	_, ok, err := l.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermanentTier(t *testing.T) {
	ctx := context.Background()
	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)

	p := NewPermanent(led)
	defer p.Close()

	r := newRecord("a", "archived")
	require.NoError(t, p.Write(ctx, r))
	assert.Equal(t, int64(1), p.Size())

	entries, err := led.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "record/a", entries[0].Label)

	decoded, err := codec.Unmarshal(string(entries[0].Payload))
	require.NoError(t, err)
	assert.Equal(t, r.Content, decoded.Content)

	assert.False(t, NewPermanent(nil).Available())
	assert.Equal(t, int64(-1), NewPermanent(nil).Size())
}
