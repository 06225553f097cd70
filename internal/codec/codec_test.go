package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memtier/internal/model"
)

func newRecord(content string) *model.Record {
	return model.New(model.Params{
		ID:        "01HZX3Q7K9",
		Timestamp: time.UnixMilli(1700000000123),
		Category:  "KNOWLEDGE",
		Content:   content,
		Weight:    0.8,
		Origin:    "planner",
	})
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		content string
		meta    map[string]string
	}{
		{"plain", "Paris is the capital of France", nil},
		{"delimiters", "a|b|c||", map[string]string{"pipe|key": "x|y"}},
		{"newlines", "line one\nline two\r\n\n", map[string]string{"note": "multi\nline"}},
		{"unicode", "日本語 🚀", map[string]string{"lang": "ja"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRecord(tt.content)
			for k, v := range tt.meta {
				r.SetMeta(k, v)
			}

			line, err := Marshal(r)
			require.NoError(t, err)
			assert.NotContains(t, line, "\n")

			got, err := Unmarshal(line)
			require.NoError(t, err)
			assert.Equal(t, r.ID, got.ID)
			assert.Equal(t, r.Timestamp.UnixMilli(), got.Timestamp.UnixMilli())
			assert.Equal(t, r.Category, got.Category)
			assert.Equal(t, r.Content, got.Content)
			assert.InDelta(t, r.Weight, got.Weight, 1e-12)
			assert.Equal(t, r.Origin, got.Origin)
			assert.Equal(t, r.Fingerprint, got.Fingerprint)
			assert.Equal(t, r.MetaSnapshot(), got.MetaSnapshot())
		})
	}
}

func TestWeightExact(t *testing.T) {
	r := newRecord("w")
	r.Weight = 0.1 + 0.2

	line, err := Marshal(r)
	require.NoError(t, err)
	got, err := Unmarshal(line)
	require.NoError(t, err)
	assert.Equal(t, r.Weight, got.Weight)
}

func TestUnmarshalTrailingNewline(t *testing.T) {
	line, err := Marshal(newRecord("x"))
	require.NoError(t, err)

	_, err = Unmarshal(line + "\n")
	assert.NoError(t, err)
}

func TestUnmarshalMalformed(t *testing.T) {
	valid, err := Marshal(newRecord("x"))
	require.NoError(t, err)
	parts := strings.Split(valid, Separator)

	replace := func(i int, v string) string {
		cp := append([]string(nil), parts...)
		cp[i] = v
		return strings.Join(cp, Separator)
	}

	tests := map[string]string{
		"garbage":        "not a record",
		"too many":       valid + "|extra",
		"empty id":       replace(0, ""),
		"bad timestamp":  replace(1, "yesterday"),
		"bad base64":     replace(3, "!!!"),
		"bad weight":     replace(4, "heavy"),
		"nan weight":     replace(4, "NaN"),
		"bad metadata":   replace(7, "e30"),
		"metadata pair":  replace(7, "aw==:dg==,aw=="),
		"metadata b64":   replace(7, "aw==:!!"),
		"changed fields": replace(3, "dGFtcGVyZWQ="),
	}

	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(line)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestMetadataBytesSurvive(t *testing.T) {
	r := newRecord("x")
	r.SetMeta("k|,:", "\xff\xfe")
	r.SetMeta("", "empty key")
	r.SetMeta("blank", "")

	line, err := Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, 8, len(strings.Split(line, Separator)))

	got, err := Unmarshal(line)
	require.NoError(t, err)
	assert.Equal(t, r.MetaSnapshot(), got.MetaSnapshot())
	v, ok := got.Meta("k|,:")
	require.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xfe}, []byte(v))
}

func TestMetadataOrderIsStable(t *testing.T) {
	a := newRecord("x")
	a.SetMeta("b", "2")
	a.SetMeta("a", "1")
	b := newRecord("x")
	b.SetMeta("a", "1")
	b.SetMeta("b", "2")

	la, err := Marshal(a)
	require.NoError(t, err)
	lb, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, la, lb)
}
