package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Autosaver periodically flushes a dirty store. A tick that fires while the
// previous flush is still running is skipped.
type Autosaver struct {
	mu       sync.Mutex
	running  sync.Mutex
	store    *Store
	interval time.Duration
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewAutosaver creates an autosave job. It does nothing until Start.
func NewAutosaver(s *Store, interval time.Duration, logger *zap.Logger) *Autosaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Autosaver{store: s, interval: interval, logger: logger}
}

// Start schedules the job. Intervals are rounded by cron to whole seconds.
func (a *Autosaver) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cron != nil {
		return nil
	}
	if a.interval < time.Second {
		return fmt.Errorf("store: autosave interval %s is below one second", a.interval)
	}

	c := cron.New()
	_, err := c.AddFunc("@every "+a.interval.String(), a.tick)
	if err != nil {
		return fmt.Errorf("store: schedule autosave: %w", err)
	}
	c.Start()
	a.cron = c

	a.logger.Info("autosave started", zap.Duration("interval", a.interval))
	return nil
}

func (a *Autosaver) tick() {
	if !a.running.TryLock() {
		a.logger.Warn("autosave still running, skipping tick")
		return
	}
	defer a.running.Unlock()

	if err := a.store.FlushIfDirty(); err != nil {
		a.logger.Error("autosave failed", zap.String("path", a.store.path), zap.Error(err))
	}
}

// Stop unschedules the job and waits for an in-flight flush.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cron == nil {
		return
	}
	<-a.cron.Stop().Done()
	a.cron = nil
	a.logger.Info("autosave stopped")
}
