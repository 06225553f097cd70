// Package engine assembles the record store, the tier backends, and the
// orchestrator from configuration, and owns their lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/ledger"
	"github.com/rcliao/memtier/internal/mirror"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/orchestrator"
	"github.com/rcliao/memtier/internal/queue"
	"github.com/rcliao/memtier/internal/store"
	"github.com/rcliao/memtier/internal/tier"
)

// ErrNoLedger is returned by ledger operations when the permanent tier is
// not configured.
var ErrNoLedger = errors.New("engine: permanent tier not configured")

// StoreParams is the input to Engine.Store.
type StoreParams struct {
	Category string
	Content  string
	Weight   float64
	Origin   string
	Meta     map[string]string
}

// Engine is one open memtier instance.
type Engine struct {
	store     *store.Store
	orch      *orchestrator.Orchestrator
	autosaver *store.Autosaver
	ledger    *ledger.FileLedger
	autoPush  bool
	logger    *zap.Logger
}

// Open builds every component from cfg and starts the push worker. A tier
// whose backend cannot be built is logged and left unconfigured; the other
// tiers still run.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	st, err := store.Open(store.Options{
		Path:             cfg.Store.Path,
		MaxCapacity:      cfg.Store.MaxCapacity,
		AutosaveInterval: cfg.Store.AutosaveInterval,
		Logger:           logger.Named("store"),
	})
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	e := &Engine{
		store:    st,
		autoPush: cfg.Tiers.AutoPush,
		logger:   logger,
	}

	var backends []tier.Backend
	if cfg.Tiers.Fast.Enabled {
		backends = append(backends, tier.NewFast(nil, cfg.Tiers.Fast.Capacity))
	}
	if cfg.Tiers.Local.Enabled {
		backends = append(backends, tier.NewLocal(st, openMirror(ctx, cfg.Tiers.Local.Mirror, logger)))
	}
	if cfg.Tiers.Permanent.Enabled {
		l, err := ledger.Open(cfg.Tiers.Permanent.Path)
		if err != nil {
			logger.Error("permanent tier disabled: ledger open failed",
				zap.String("path", cfg.Tiers.Permanent.Path),
				zap.Error(err),
			)
		} else {
			if n := l.TornBytes(); n > 0 {
				logger.Warn("ledger: discarded incomplete last entry",
					zap.String("path", cfg.Tiers.Permanent.Path),
					zap.Int64("bytes", n),
				)
			}
			e.ledger = l
			backends = append(backends, tier.NewPermanent(l))
		}
	}

	q := queue.New(queue.Options{
		Capacity:       cfg.Queue.Capacity,
		EnqueueTimeout: cfg.Queue.EnqueueTimeout,
		SpillPath:      cfg.Queue.SpillPath,
		Logger:         logger.Named("queue"),
	})

	e.orch, err = orchestrator.New(orchestrator.Options{
		Backends:     backends,
		Queue:        q,
		Records:      st,
		BatchSize:    cfg.Tiers.Permanent.BatchSize,
		PollInterval: cfg.Queue.PollInterval,
		Logger:       logger.Named("orchestrator"),
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("engine: %w", err), closeBackends(backends), st.Close())
	}
	if err := e.orch.Start(); err != nil {
		return nil, errors.Join(fmt.Errorf("engine: %w", err), e.orch.Shutdown(ctx), st.Close())
	}

	if cfg.Store.AutosaveInterval > 0 && cfg.Store.Path != "" {
		e.autosaver = store.NewAutosaver(st, cfg.Store.AutosaveInterval, logger.Named("autosave"))
		if err := e.autosaver.Start(); err != nil {
			logger.Error("autosave disabled", zap.Error(err))
			e.autosaver = nil
		}
	}

	logger.Info("engine opened",
		zap.String("store", cfg.Store.Path),
		zap.Int("records", st.Len()),
		zap.Int("tiers", len(backends)),
	)
	return e, nil
}

// openMirror returns nil when no mirror is configured or it cannot be
// reached; the local tier then serves from the store alone.
func openMirror(ctx context.Context, mc config.MirrorConfig, logger *zap.Logger) mirror.Mirror {
	if mc.Driver == "" {
		return nil
	}
	m, err := mirror.Open(ctx, mc.Driver, mc.DSN)
	if err != nil {
		logger.Error("local tier mirror disabled",
			zap.String("driver", mc.Driver),
			zap.Error(err),
		)
		return nil
	}
	return m
}

func closeBackends(backends []tier.Backend) error {
	var errs []error
	for _, b := range backends {
		if c, ok := b.(tier.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Store records a new entry, attaches metadata, and pushes it through the
// tiers when auto-push is on. The record is returned even when the push
// fails, since it is already held locally.
func (e *Engine) Store(ctx context.Context, p StoreParams) (*model.Record, error) {
	r, err := e.store.Store(p.Category, p.Content, p.Weight, p.Origin)
	if err != nil {
		return nil, err
	}
	if len(p.Meta) > 0 {
		for k, v := range p.Meta {
			r.SetMeta(k, v)
		}
		e.store.Touch()
	}

	if !e.autoPush {
		return r, nil
	}
	if err := e.orch.StoreWithSequencedPush(ctx, r); err != nil {
		return r, fmt.Errorf("engine: push %s: %w", r.ID, err)
	}
	return r, nil
}

// Retrieve resolves a record by ID through the tiers.
func (e *Engine) Retrieve(ctx context.Context, id string) (orchestrator.Result, error) {
	return e.orch.Retrieve(ctx, id)
}

// Backfill writes every live record directly to t. It returns how many
// writes succeeded.
func (e *Engine) Backfill(ctx context.Context, t tier.Tier) (int, error) {
	records := e.store.All()
	var (
		ok   int
		errs []error
	)
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return ok, err
		}
		if err := e.orch.StoreToTier(ctx, t, r); err != nil {
			if errors.Is(err, orchestrator.ErrTierDisabled) {
				return ok, err
			}
			errs = append(errs, err)
			continue
		}
		ok++
	}
	if len(errs) > 0 {
		return ok, fmt.Errorf("engine: backfill %s: %d of %d records failed: %w",
			t, len(errs), len(records), errors.Join(errs...))
	}
	return ok, nil
}

// Status reports orchestrator and store state.
func (e *Engine) Status(ctx context.Context) orchestrator.Status {
	return e.orch.Status(ctx)
}

// SetTierEnabled toggles a tier at runtime.
func (e *Engine) SetTierEnabled(t tier.Tier, enabled bool) error {
	return e.orch.SetTierEnabled(t, enabled)
}

// Flush drains the push queue and writes the durability log.
func (e *Engine) Flush(ctx context.Context) error {
	return errors.Join(e.orch.FlushQueue(ctx), e.store.Flush())
}

// VerifyLedger checks the permanent tier's hash chain.
func (e *Engine) VerifyLedger() error {
	if e.ledger == nil {
		return ErrNoLedger
	}
	return e.ledger.Verify()
}

// LedgerSize returns the number of permanent-tier entries, or -1.
func (e *Engine) LedgerSize() int64 {
	if e.ledger == nil {
		return -1
	}
	return e.ledger.Size()
}

// Records exposes the in-process store for read-only queries.
func (e *Engine) Records() *store.Store {
	return e.store
}

// Close stops background work, drains the tiers, and writes the final
// durability log.
func (e *Engine) Close(ctx context.Context) error {
	if e.autosaver != nil {
		e.autosaver.Stop()
	}
	err := errors.Join(e.orch.Shutdown(ctx), e.store.Close())
	e.logger.Info("engine closed", zap.Int64("total_ever_stored", e.store.TotalEverStored()))
	return err
}
