package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ruslano69/whbridge/pkg/artifact"
	"github.com/ruslano69/whbridge/pkg/connection"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/metrics"
	"github.com/ruslano69/whbridge/pkg/plan"
	"github.com/ruslano69/whbridge/pkg/retry"
)

// Options configure an Engine. Zero values take the defaults below.
type Options struct {
	Conn   *connection.Manager
	Logger zerolog.Logger

	MaxConcurrent int
	BatchSize     int
	// MaxErrors is the number of rejected import rows tolerated; one more
	// fails the transfer. Negative means unlimited.
	MaxErrors     int
	ChannelBuffer int
	// ProgressInterval throttles running ticks.
	ProgressInterval time.Duration

	ArtifactDir string
	Artifact    artifact.Options
	Store       artifact.Store
	// RejectsDir receives one JSON-lines file of rejected rows per import.
	// Empty disables it.
	RejectsDir string
	// Retry applies to warehouse inserts; only transient errors are retried.
	Retry retry.Config
	// Retain is how many finished handles stay queryable.
	Retain int
}

const (
	DefaultMaxConcurrent = 4
	DefaultBatchSize     = 1000
	DefaultMaxErrors     = 100
	DefaultChannelBuffer = 256
	DefaultRetain        = 256
)

func (o *Options) defaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.ChannelBuffer <= 0 {
		o.ChannelBuffer = DefaultChannelBuffer
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 250 * time.Millisecond
	}
	if o.ArtifactDir == "" {
		o.ArtifactDir = "artifacts"
	}
	if o.Store == nil {
		o.Store = artifact.LocalStore{}
	}
	if o.Retain <= 0 {
		o.Retain = DefaultRetain
	}
	if o.Retry.Enabled && o.Retry.Retryable == nil {
		o.Retry.Retryable = retry.IsTransient
	}
}

// Engine executes transfer plans. It is safe for concurrent use.
type Engine struct {
	opts    Options
	log     zerolog.Logger
	slots   *semaphore.Weighted
	retryer *retry.Retryer

	mu        sync.RWMutex
	handles   map[string]*Handle
	finished  []string
	observers []Observer
	wg        sync.WaitGroup
}

// New validates opts and returns an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Conn == nil {
		return nil, errors.New("transfer: connection manager is required")
	}
	opts.defaults()
	r, err := retry.NewRetryer(opts.Retry)
	if err != nil {
		return nil, err
	}
	return &Engine{
		opts:    opts,
		log:     opts.Logger,
		slots:   semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		retryer: r,
		handles: make(map[string]*Handle),
	}, nil
}

// AddObserver registers o for every later state change.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// Get returns a known transfer.
func (e *Engine) Get(id string) (*Handle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handles[id]
	return h, ok
}

// List returns snapshots of known transfers, newest first.
func (e *Engine) List() []Snapshot {
	e.mu.RLock()
	out := make([]Snapshot, 0, len(e.handles))
	for _, h := range e.handles {
		out = append(out, h.Snapshot())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Execute validates that p can start and returns its handle. The session
// the plan was built against is pinned until the transfer ends; a stale
// plan fails here with NoSession.
func (e *Engine) Execute(ctx context.Context, p plan.TransferPlan) (*Handle, error) {
	var run func(context.Context, *job) (Result, error)
	switch p.Direction {
	case plan.Export:
		if len(p.Output) == 0 {
			return nil, errs.E(errs.KindValidation, "execute", p.Table, errors.New("export plan has no columns"))
		}
		run = e.runExport
	case plan.Import:
		if p.Source == nil || len(p.Schema) == 0 {
			return nil, errs.E(errs.KindValidation, "execute", p.Table, errors.New("import plan has no source or schema"))
		}
		run = e.runImport
	default:
		return nil, errs.E(errs.KindValidation, "execute", p.Table, fmt.Errorf("unknown direction %q", p.Direction))
	}

	lease, err := e.opts.Conn.Acquire(context.WithoutCancel(ctx), p.SessionID)
	if err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		p.SessionID = lease.Session.ID
	}

	runCtx, cancel := context.WithCancel(lease.Ctx)
	h := newHandle(uuid.NewString(), p, cancel, e.opts.ChannelBuffer)
	e.mu.Lock()
	e.handles[h.id] = h
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer lease.Release()
		defer cancel()
		e.run(runCtx, &job{handle: h, plan: p, lease: lease}, run)
	}()
	return h, nil
}

// job is the state shared by one transfer's pipeline stages.
type job struct {
	handle *Handle
	plan   plan.TransferPlan
	lease  *connection.Lease
	log    zerolog.Logger
}

func (e *Engine) run(ctx context.Context, j *job, fn func(context.Context, *job) (Result, error)) {
	h := j.handle
	j.log = e.log.With().Str("transfer", h.id).Str("direction", string(h.direction)).Str("table", h.table).Logger()

	started := time.Now()
	if err := e.slots.Acquire(ctx, 1); err != nil {
		e.complete(j, Result{}, err, started)
		return
	}
	defer e.slots.Release(1)

	h.setRunning()
	metrics.TransferStarted(string(h.direction))
	e.notify(h.Snapshot())
	j.log.Info().Msg("transfer started")

	started = time.Now()
	res, err := fn(ctx, j)
	e.complete(j, res, err, started)
}

// complete turns the pipeline outcome into the terminal Result.
func (e *Engine) complete(j *job, res Result, err error, started time.Time) {
	h := j.handle
	res.ID = h.id
	res.Direction = h.direction
	res.Table = h.table
	res.StartedAt = started
	res.FinishedAt = time.Now()

	wasRunning := h.State() == StateRunning
	if err == nil {
		res.State = StateSucceeded
		res.Success = true
		if res.Message == "" {
			res.Message = fmt.Sprintf("%s of %s finished: %d rows", h.direction, h.table, res.RecordsProcessed)
		}
	} else {
		err = e.classify(j, err)
		res.State = StateFailed
		res.Success = false
		detail := &ErrorDetail{Kind: errs.KindOf(err), Message: err.Error()}
		if res.Error != nil {
			detail.Rows = res.Error.Rows
		}
		res.Error = detail
		res.Message = fmt.Sprintf("%s of %s failed after %d rows: %s", h.direction, h.table, res.RecordsProcessed, detail.Kind)
	}
	h.finish(res)

	status := string(res.State)
	if res.Error != nil && res.Error.Kind == errs.KindCancelled {
		status = "cancelled"
	}
	if wasRunning {
		metrics.TransferFinished(string(h.direction), status, res.RecordsProcessed, res.Rejected)
	}

	lvl := zerolog.InfoLevel
	if !res.Success {
		lvl = zerolog.WarnLevel
	}
	ev := j.log.WithLevel(lvl)
	if res.Error != nil {
		ev = ev.Str("kind", res.Error.Kind.String()).Str("error", res.Error.Message)
	}
	ev.Int64("rows", res.RecordsProcessed).
		Int64("rejected", res.Rejected).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("transfer finished")

	e.retire(h.id)
	e.notify(h.Snapshot())
}

// classify maps a pipeline error to the taxonomy. A user cancel wins over
// whatever the interrupted call returned.
func (e *Engine) classify(j *job, err error) error {
	if j.handle.wasCancelled() {
		return errs.E(errs.KindCancelled, string(j.handle.direction), j.handle.table, errors.New("cancelled by caller"))
	}
	err = j.lease.Wrap(string(j.handle.direction), err)
	if errors.Is(err, context.Canceled) && errs.KindOf(err) == errs.KindUnknown {
		return errs.E(errs.KindCancelled, string(j.handle.direction), j.handle.table, err)
	}
	return errs.Translate(errs.KindEngine, string(j.handle.direction), j.handle.table, err)
}

func (e *Engine) notify(s Snapshot) {
	e.mu.RLock()
	obs := append([]Observer(nil), e.observers...)
	e.mu.RUnlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, o := range obs {
		o.TransferChanged(ctx, s)
	}
}

// retire keeps the last Retain finished handles.
func (e *Engine) retire(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, id)
	for len(e.finished) > e.opts.Retain {
		delete(e.handles, e.finished[0])
		e.finished = e.finished[1:]
	}
}

// Shutdown cancels every transfer and waits for them to end or ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.RLock()
	for _, h := range e.handles {
		h.Cancel()
	}
	e.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
