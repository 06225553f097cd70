// Package codec converts records to and from single delimiter-safe text lines.
//
// A line holds eight fields separated by '|':
//
//	id|timestamp_ms|b64(category)|b64(content)|weight|b64(origin)|fingerprint|metadata
//
// Free-text fields are base64 encoded, so neither the separator nor a newline
// can appear inside a field. Metadata is a ','-joined list of b64(key):b64(value)
// pairs sorted by key; keys and values round-trip byte for byte.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/memtier/internal/model"
)

// Separator delimits fields within a line.
const Separator = "|"

const fieldCount = 8

// ErrMalformed indicates a line that cannot be decoded into a record.
var ErrMalformed = errors.New("codec: malformed line")

var b64 = base64.StdEncoding

// Marshal encodes r as a single line without a trailing newline.
func Marshal(r *model.Record) (string, error) {
	fields := []string{
		r.ID,
		strconv.FormatInt(r.Timestamp.UnixMilli(), 10),
		b64.EncodeToString([]byte(r.Category)),
		b64.EncodeToString([]byte(r.Content)),
		strconv.FormatFloat(r.Weight, 'g', -1, 64),
		b64.EncodeToString([]byte(r.Origin)),
		r.Fingerprint,
		encodeMeta(r.MetaSnapshot()),
	}
	return strings.Join(fields, Separator), nil
}

// Unmarshal decodes a line produced by Marshal. The fingerprint is verified
// against the decoded fields; a mismatch is reported as ErrMalformed.
func Unmarshal(line string) (*model.Record, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, Separator)
	if len(parts) != fieldCount {
		return nil, fmt.Errorf("%w: want %d fields, got %d", ErrMalformed, fieldCount, len(parts))
	}

	id := parts[0]
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrMalformed)
	}

	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}

	category, err := decodeText(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: category: %v", ErrMalformed, err)
	}
	content, err := decodeText(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: content: %v", ErrMalformed, err)
	}

	weight, err := strconv.ParseFloat(parts[4], 64)
	if err != nil || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return nil, fmt.Errorf("%w: weight %q", ErrMalformed, parts[4])
	}

	origin, err := decodeText(parts[5])
	if err != nil {
		return nil, fmt.Errorf("%w: origin: %v", ErrMalformed, err)
	}

	meta, err := decodeMeta(parts[7])
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
	}

	r := model.Restore(model.Params{
		ID:        id,
		Timestamp: time.UnixMilli(ms),
		Category:  category,
		Content:   content,
		Weight:    weight,
		Origin:    origin,
	}, parts[6], meta)

	if !r.Verify() {
		return nil, fmt.Errorf("%w: fingerprint mismatch for %s", ErrMalformed, id)
	}
	return r, nil
}

func decodeText(s string) (string, error) {
	b, err := b64.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeMeta(m map[string]string) string {
	pairs := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		pairs = append(pairs, b64.EncodeToString([]byte(k))+":"+b64.EncodeToString([]byte(m[k])))
	}
	return strings.Join(pairs, ",")
}

func decodeMeta(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	meta := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("pair %q has no ':'", pair)
		}
		key, err := decodeText(k)
		if err != nil {
			return nil, err
		}
		val, err := decodeText(v)
		if err != nil {
			return nil, err
		}
		meta[key] = val
	}
	return meta, nil
}
