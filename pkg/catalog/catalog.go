// Package catalog lists and describes warehouse tables, caching results for
// the lifetime of a session.
package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ruslano69/whbridge/pkg/connection"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/metrics"
	"github.com/ruslano69/whbridge/pkg/schema"
	"github.com/ruslano69/whbridge/pkg/warehouse"
)

// describeParallelism bounds concurrent DESCRIBE calls during ListTables.
const describeParallelism = 4

type snapshot struct {
	listed  bool
	order   []string
	schemas map[string]schema.TableSchema
}

// Catalog is safe for concurrent use.
type Catalog struct {
	conn  *connection.Manager
	log   zerolog.Logger
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*snapshot
}

// New creates a catalog bound to conn and drops cached entries whenever a
// session is retired.
func New(conn *connection.Manager, log zerolog.Logger) *Catalog {
	c := &Catalog{conn: conn, log: log, cache: make(map[string]*snapshot)}
	conn.OnInvalidate(c.Invalidate)
	return c
}

// Invalidate drops everything cached for sessionID.
func (c *Catalog) Invalidate(sessionID string) {
	c.mu.Lock()
	delete(c.cache, sessionID)
	c.mu.Unlock()
}

// ListTables returns every table with its columns, ordered by name.
func (c *Catalog) ListTables(ctx context.Context, sessionID string, refresh bool) ([]schema.TableSchema, error) {
	lease, err := c.conn.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	sid := lease.Session.ID

	if !refresh {
		if tables, ok := c.cachedList(sid); ok {
			metrics.ObserveCatalog(true)
			return tables, nil
		}
	}
	metrics.ObserveCatalog(false)

	v, err := c.shared(lease, "listTables", "", "list\x00"+sid, func(l *connection.Lease) (any, error) {
		return c.loadAll(l)
	})
	if err != nil {
		return nil, err
	}
	return cloneAll(v.([]schema.TableSchema)), nil
}

// Describe returns one table's schema, or NotFound.
func (c *Catalog) Describe(ctx context.Context, sessionID, table string, refresh bool) (schema.TableSchema, error) {
	lease, err := c.conn.Acquire(ctx, sessionID)
	if err != nil {
		return schema.TableSchema{}, err
	}
	defer lease.Release()
	sid := lease.Session.ID

	if !refresh {
		if ts, ok := c.cachedTable(sid, table); ok {
			metrics.ObserveCatalog(true)
			return ts, nil
		}
	}
	metrics.ObserveCatalog(false)

	v, err := c.shared(lease, "describeTable", table, "describe\x00"+sid+"\x00"+table, func(l *connection.Lease) (any, error) {
		return c.describe(l, table)
	})
	if err != nil {
		return schema.TableSchema{}, err
	}
	return clone(v.(schema.TableSchema)), nil
}

// shared runs load once for all concurrent callers of key. The load holds
// its own lease on the session context, so a caller giving up only stops
// its own wait.
func (c *Catalog) shared(lease *connection.Lease, op, subject, key string, load func(*connection.Lease) (any, error)) (any, error) {
	sid := lease.Session.ID
	ch := c.group.DoChan(key, func() (any, error) {
		own, err := c.conn.Acquire(lease.Session.Context(), sid)
		if err != nil {
			return nil, err
		}
		defer own.Release()
		v, err := load(own)
		return v, own.Wrap(op, err)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, errs.Translate(errs.KindEngine, op, subject, r.Err)
		}
		return r.Val, nil
	case <-lease.Ctx.Done():
		err := lease.Wrap(op, lease.Ctx.Err())
		if errors.Is(err, context.Canceled) {
			return nil, errs.Translate(errs.KindCancelled, op, subject, err)
		}
		return nil, errs.Translate(errs.KindEngine, op, subject, err)
	}
}

func (c *Catalog) describe(lease *connection.Lease, table string) (schema.TableSchema, error) {
	cols, err := lease.Client.DescribeTable(lease.Ctx, table)
	if errors.Is(err, warehouse.ErrTableNotFound) {
		return schema.TableSchema{}, errs.E(errs.KindNotFound, "describeTable", table, nil)
	}
	if err != nil {
		return schema.TableSchema{}, err
	}
	ts := schema.TableSchema{Name: table, Columns: cols}
	c.store(lease.Session, ts)
	return ts, nil
}

func (c *Catalog) loadAll(lease *connection.Lease) ([]schema.TableSchema, error) {
	names, err := lease.Client.ListTables(lease.Ctx)
	if err != nil {
		return nil, err
	}

	result := make([]schema.TableSchema, len(names))
	missing := make([]bool, len(names))
	g, gctx := errgroup.WithContext(lease.Ctx)
	g.SetLimit(describeParallelism)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			cols, err := lease.Client.DescribeTable(gctx, name)
			if errors.Is(err, warehouse.ErrTableNotFound) {
				// dropped between list and describe
				missing[i] = true
				return nil
			}
			if err != nil {
				return err
			}
			result[i] = schema.TableSchema{Name: name, Columns: cols}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tables := result[:0]
	for i, ts := range result {
		if missing[i] {
			c.log.Debug().Str("table", names[i]).Msg("table vanished while listing")
			continue
		}
		tables = append(tables, ts)
	}

	snap := &snapshot{listed: true, schemas: make(map[string]schema.TableSchema, len(tables))}
	for _, ts := range tables {
		snap.order = append(snap.order, ts.Name)
		snap.schemas[ts.Name] = ts
	}
	c.mu.Lock()
	// retirement marks the session closed before Invalidate takes mu
	if lease.Session.State() == connection.StateConnected {
		c.cache[lease.Session.ID] = snap
	}
	c.mu.Unlock()

	c.log.Debug().Str("session", lease.Session.ID).Int("tables", len(tables)).Msg("catalog loaded")
	return tables, nil
}

func (c *Catalog) store(s *connection.Session, ts schema.TableSchema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.State() != connection.StateConnected {
		return
	}
	sid := s.ID
	snap, ok := c.cache[sid]
	if !ok {
		snap = &snapshot{schemas: make(map[string]schema.TableSchema)}
		c.cache[sid] = snap
	}
	snap.schemas[ts.Name] = ts
}

func (c *Catalog) cachedList(sid string) ([]schema.TableSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.cache[sid]
	if !ok || !snap.listed {
		return nil, false
	}
	out := make([]schema.TableSchema, 0, len(snap.order))
	for _, name := range snap.order {
		out = append(out, clone(snap.schemas[name]))
	}
	return out, true
}

func (c *Catalog) cachedTable(sid, table string) (schema.TableSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.cache[sid]
	if !ok {
		return schema.TableSchema{}, false
	}
	ts, ok := snap.schemas[table]
	if !ok {
		return schema.TableSchema{}, false
	}
	return clone(ts), true
}

func clone(ts schema.TableSchema) schema.TableSchema {
	ts.Columns = append([]schema.ColumnSchema(nil), ts.Columns...)
	return ts
}

func cloneAll(in []schema.TableSchema) []schema.TableSchema {
	out := make([]schema.TableSchema, len(in))
	for i, ts := range in {
		out[i] = clone(ts)
	}
	return out
}
