package warehouse

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps driver names to dialects.
type Registry struct {
	mu       sync.RWMutex
	dialects map[string]Dialect
}

// NewRegistry creates an empty registry. Tests use private registries;
// production code uses the global one filled by dialect init() functions.
func NewRegistry() *Registry {
	return &Registry{dialects: make(map[string]Dialect)}
}

// Register adds or replaces a dialect under its name and any aliases.
func (r *Registry) Register(d Dialect, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialects[d.Name()] = d
	for _, a := range aliases {
		r.dialects[a] = d
	}
}

// Lookup returns the dialect registered for driver.
func (r *Registry) Lookup(driver string) (Dialect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dialects[driver]
	return d, ok
}

// Drivers lists registered names, sorted.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dialects))
	for n := range r.dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open creates a pool for cfg and verifies it with a ping.
func (r *Registry) Open(ctx context.Context, cfg Config) (Client, error) {
	d, ok := r.Lookup(cfg.Driver)
	if !ok {
		return nil, fmt.Errorf("unknown warehouse driver %q (available: %v)", cfg.Driver, r.Drivers())
	}

	db, err := d.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	return NewSQLClient(db, d), nil
}

var global = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return global }

// Register adds a dialect to the process-wide registry. Called from init().
func Register(d Dialect, aliases ...string) { global.Register(d, aliases...) }

// Open opens a client through the process-wide registry.
func Open(ctx context.Context, cfg Config) (Client, error) { return global.Open(ctx, cfg) }
