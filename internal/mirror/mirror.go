// Package mirror provides network and file mirrors for the local tier.
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rcliao/memtier/internal/model"
)

// Mirror is a secondary copy of the local tier. Implementations must be safe
// for concurrent use.
type Mirror interface {
	// Save upserts a record by ID.
	Save(ctx context.Context, r *model.Record) error

	// Find retrieves a record by ID.
	Find(ctx context.Context, id string) (*model.Record, bool, error)

	// Count returns the number of mirrored records.
	Count(ctx context.Context) (int, error)

	// IsConnected reports whether the mirror can currently accept writes.
	IsConnected(ctx context.Context) bool

	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open selects a mirror implementation. An empty driver returns nil, nil.
func Open(ctx context.Context, driver, dsn string) (Mirror, error) {
	switch driver {
	case "":
		return nil, nil
	case DriverSQLite:
		return NewSQLite(dsn)
	case DriverPostgres:
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("mirror: unknown driver %q", driver)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func encodeMeta(r *model.Record) (*string, error) {
	m := r.MetaSnapshot()
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func scanRecord(row scanner) (*model.Record, error) {
	var (
		id, category, content, origin, fingerprint string
		tsMillis                                   int64
		weight                                     float64
		meta                                       sql.NullString
	)
	if err := row.Scan(&id, &tsMillis, &category, &content, &weight, &origin, &fingerprint, &meta); err != nil {
		return nil, err
	}

	var m map[string]string
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}

	return model.Restore(model.Params{
		ID:        id,
		Timestamp: time.UnixMilli(tsMillis),
		Category:  category,
		Content:   content,
		Weight:    weight,
		Origin:    origin,
	}, fingerprint, m), nil
}
