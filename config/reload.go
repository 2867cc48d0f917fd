package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reload support. Only operationally safe sections are applied live:
// Log, Server rate limits and Audit signing key. Backend selections
// (lock, idempotency, checkpoint, audit storage) require a restart, so
// a change there is reported to subscribers but never applied.

// Section names a top-level config section in change notifications.
type Section string

const (
	SectionServer      Section = "server"
	SectionLock        Section = "lock"
	SectionIdempotency Section = "idempotency"
	SectionCheckpoint  Section = "checkpoint"
	SectionAudit       Section = "audit"
	SectionRedis       Section = "redis"
	SectionMongo       Section = "mongo"
	SectionDatabase    Section = "database"
	SectionAuth        Section = "auth"
	SectionLog         Section = "log"
	SectionTelemetry   Section = "telemetry"
)

// reloadable sections may change without a restart.
var reloadable = map[Section]bool{
	SectionServer: true,
	SectionAudit:  true,
	SectionLog:    true,
}

// Change describes one section difference between two configs.
type Change struct {
	Section  Section   `json:"section"`
	Applied  bool      `json:"applied"`
	Observed time.Time `json:"observed"`
}

// Reloader re-reads the config file on change and notifies subscribers
// of applied section changes.
type Reloader struct {
	mu sync.RWMutex

	loader  *Loader
	current *Config
	watcher *FileWatcher
	logger  *zap.Logger

	subscribers []func(cfg *Config, changes []Change)

	// history is a bounded ring of observed changes, newest last.
	history    []Change
	historyCap int
}

// NewReloader wraps the loader's config file with a watcher. cfg is the
// initially loaded config.
func NewReloader(loader *Loader, cfg *Config, logger *zap.Logger) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader.configPath == "" {
		return nil, fmt.Errorf("config reload requires a config file path")
	}

	watcher, err := NewFileWatcher([]string{loader.configPath}, WithWatcherLogger(logger))
	if err != nil {
		return nil, err
	}

	r := &Reloader{
		loader:     loader,
		current:    cfg,
		watcher:    watcher,
		logger:     logger.With(zap.String("component", "config_reloader")),
		historyCap: 64,
	}
	watcher.OnChange(func(FileEvent) {
		if err := r.Reload(); err != nil {
			r.logger.Warn("config reload failed, keeping previous config", zap.Error(err))
		}
	})
	return r, nil
}

// Start begins watching the config file.
func (r *Reloader) Start(ctx context.Context) error {
	return r.watcher.Start(ctx)
}

// Stop stops watching.
func (r *Reloader) Stop() error {
	return r.watcher.Stop()
}

// Current returns the active config.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Subscribe registers a callback invoked after each applied reload with
// the new config and the list of changed sections.
func (r *Reloader) Subscribe(fn func(cfg *Config, changes []Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// History returns observed changes, oldest first.
func (r *Reloader) History() []Change {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Change, len(r.history))
	copy(out, r.history)
	return out
}

// Reload re-runs the loader and applies reload-safe section changes. An
// invalid new config is rejected wholesale and the previous config stays
// active.
func (r *Reloader) Reload() error {
	next, err := r.loader.Load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	changes := diffSections(r.current, next)
	if len(changes) == 0 {
		r.mu.Unlock()
		return nil
	}

	applied := *r.current
	for i, ch := range changes {
		if !reloadable[ch.Section] {
			r.logger.Warn("config section changed but requires a restart to apply",
				zap.String("section", string(ch.Section)))
			continue
		}
		changes[i].Applied = true
		copySection(&applied, next, ch.Section)
	}
	r.current = &applied
	r.history = append(r.history, changes...)
	if len(r.history) > r.historyCap {
		r.history = r.history[len(r.history)-r.historyCap:]
	}
	subscribers := make([]func(*Config, []Change), len(r.subscribers))
	copy(subscribers, r.subscribers)
	current := r.current
	r.mu.Unlock()

	for _, fn := range subscribers {
		fn(current, changes)
	}

	r.logger.Info("config reloaded", zap.Int("changed_sections", len(changes)))
	return nil
}

func diffSections(old, next *Config) []Change {
	now := time.Now()
	var changes []Change
	add := func(s Section, a, b any) {
		if !reflect.DeepEqual(a, b) {
			changes = append(changes, Change{Section: s, Observed: now})
		}
	}
	add(SectionServer, old.Server, next.Server)
	add(SectionLock, old.Lock, next.Lock)
	add(SectionIdempotency, old.Idempotency, next.Idempotency)
	add(SectionCheckpoint, old.Checkpoint, next.Checkpoint)
	add(SectionAudit, old.Audit, next.Audit)
	add(SectionRedis, old.Redis, next.Redis)
	add(SectionMongo, old.Mongo, next.Mongo)
	add(SectionDatabase, old.Database, next.Database)
	add(SectionAuth, old.Auth, next.Auth)
	add(SectionLog, old.Log, next.Log)
	add(SectionTelemetry, old.Telemetry, next.Telemetry)
	return changes
}

func copySection(dst *Config, src *Config, s Section) {
	switch s {
	case SectionServer:
		dst.Server = src.Server
	case SectionAudit:
		dst.Audit = src.Audit
	case SectionLog:
		dst.Log = src.Log
	}
}
