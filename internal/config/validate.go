package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks ranges and enumerations, reporting every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Store.Path == "" {
		errs = append(errs, errors.New("config: store.path is required"))
	}
	if c.Store.MaxCapacity < 1 {
		errs = append(errs, fmt.Errorf("config: store.max_capacity must be positive, got %d", c.Store.MaxCapacity))
	}
	if c.Store.AutosaveInterval != 0 && c.Store.AutosaveInterval < time.Second {
		errs = append(errs, fmt.Errorf("config: store.autosave_interval must be at least 1s or 0, got %s", c.Store.AutosaveInterval))
	}

	if c.Queue.Capacity < 1 {
		errs = append(errs, fmt.Errorf("config: queue.capacity must be positive, got %d", c.Queue.Capacity))
	}
	if c.Queue.EnqueueTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: queue.enqueue_timeout must not be negative"))
	}
	if c.Queue.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("config: queue.poll_interval must not be negative"))
	}

	if c.Tiers.Fast.Capacity < 1 {
		errs = append(errs, fmt.Errorf("config: tiers.fast.capacity must be positive, got %d", c.Tiers.Fast.Capacity))
	}
	switch c.Tiers.Local.Mirror.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("config: tiers.local.mirror.driver %q is not one of sqlite, postgres", c.Tiers.Local.Mirror.Driver))
	}
	if c.Tiers.Local.Mirror.Driver != "" && c.Tiers.Local.Mirror.DSN == "" {
		errs = append(errs, errors.New("config: tiers.local.mirror.dsn is required when a driver is set"))
	}
	if c.Tiers.Permanent.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("config: tiers.permanent.batch_size must be positive, got %d", c.Tiers.Permanent.BatchSize))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format %q is not one of console, json", c.Log.Format))
	}

	return errors.Join(errs...)
}
