// Package transfer runs bulk exports and imports asynchronously. Each
// transfer is observed through a Handle that streams progress and resolves
// to a Result.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/ruslano69/whbridge/pkg/artifact"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/plan"
)

// State of a transfer. Succeeded and Failed are terminal.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool { return s == StateSucceeded || s == StateFailed }

// Progress is one tick. Percent never decreases and is 100 only on success.
type Progress struct {
	Percent int   `json:"percent"`
	Rows    int64 `json:"rows"`
	State   State `json:"state"`
}

// RowError is one rejected import row.
type RowError struct {
	Line   int    `json:"line"`
	Column string `json:"column"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// maxReportedRows bounds ErrorDetail.Rows; the rest is only counted.
const maxReportedRows = 20

// ErrorDetail explains a failure, or the rows rejected by a successful import.
type ErrorDetail struct {
	Kind    errs.Kind  `json:"kind"`
	Message string     `json:"message"`
	Rows    []RowError `json:"rows,omitempty"`
}

// Result is the terminal outcome of a transfer.
type Result struct {
	ID        string         `json:"id"`
	Direction plan.Direction `json:"direction"`
	Table     string         `json:"table"`
	State     State          `json:"state"`
	Success   bool           `json:"success"`
	// RecordsProcessed counts rows written to the artifact (export) or
	// committed to the warehouse (import).
	RecordsProcessed int64          `json:"records_processed"`
	Rejected         int64          `json:"rejected"`
	Message          string         `json:"message"`
	Artifact         *artifact.Info `json:"artifact,omitempty"`
	Error            *ErrorDetail   `json:"error,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
}

// Snapshot is the observable state of a transfer at one moment.
type Snapshot struct {
	ID        string         `json:"id"`
	Direction plan.Direction `json:"direction"`
	Table     string         `json:"table"`
	State     State          `json:"state"`
	Progress  Progress       `json:"progress"`
	CreatedAt time.Time      `json:"created_at"`
	Result    *Result        `json:"result,omitempty"`
}

// Observer is told about state changes: once when a transfer starts
// running and once when it ends. Implementations must not block for long.
type Observer interface {
	TransferChanged(ctx context.Context, s Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, s Snapshot)

func (f ObserverFunc) TransferChanged(ctx context.Context, s Snapshot) { f(ctx, s) }

// Handle tracks one transfer.
type Handle struct {
	id        string
	direction plan.Direction
	table     string
	created   time.Time
	cancel    context.CancelFunc
	bufSize   int

	mu        sync.Mutex
	state     State
	last      Progress
	subs      []chan Progress
	cancelled bool
	result    Result
	done      chan struct{}
}

func newHandle(id string, p plan.TransferPlan, cancel context.CancelFunc, bufSize int) *Handle {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Handle{
		id:        id,
		direction: p.Direction,
		table:     p.Table,
		created:   time.Now(),
		cancel:    cancel,
		bufSize:   bufSize,
		state:     StateQueued,
		last:      Progress{State: StateQueued},
		done:      make(chan struct{}),
	}
}

func (h *Handle) ID() string                { return h.id }
func (h *Handle) Direction() plan.Direction { return h.direction }
func (h *Handle) Done() <-chan struct{}     { return h.done }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Snapshot returns the current state, with the result once terminal.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Snapshot{ID: h.id, Direction: h.direction, Table: h.table, State: h.state, Progress: h.last, CreatedAt: h.created}
	if h.state.Terminal() {
		r := h.result
		s.Result = &r
	}
	return s
}

// Progress subscribes to progress ticks. The channel first yields the latest
// tick and is closed after the terminal one. A slow reader misses
// intermediate ticks but never the terminal one.
func (h *Handle) Progress() <-chan Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Progress, h.bufSize)
	ch <- h.last
	if h.state.Terminal() {
		close(ch)
		return ch
	}
	h.subs = append(h.subs, ch)
	return ch
}

// Result waits for the terminal result or ctx.
func (h *Handle) Result(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel asks the transfer to stop at the next row or batch boundary.
// It has no effect on a finished transfer.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if !h.state.Terminal() {
		h.cancelled = true
	}
	h.mu.Unlock()
	h.cancel()
}

func (h *Handle) wasCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *Handle) setRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateRunning
	h.publish(Progress{Percent: h.last.Percent, Rows: h.last.Rows, State: StateRunning})
}

// report publishes a running tick. Ticks that would move backwards are dropped.
func (h *Handle) report(percent int, rows int64) {
	if percent > 99 {
		percent = 99
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateRunning {
		return
	}
	if percent < h.last.Percent {
		percent = h.last.Percent
	}
	if percent == h.last.Percent && rows == h.last.Rows {
		return
	}
	h.publish(Progress{Percent: percent, Rows: rows, State: StateRunning})
}

// finish records the result, emits the terminal tick and closes every
// subscription.
func (h *Handle) finish(r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = r.State
	h.result = r
	final := Progress{Percent: h.last.Percent, Rows: r.RecordsProcessed, State: r.State}
	if r.State == StateSucceeded {
		final.Percent = 100
	}
	h.publish(final)
	for _, ch := range h.subs {
		close(ch)
	}
	h.subs = nil
	close(h.done)
}

// publish must be called with mu held.
func (h *Handle) publish(p Progress) {
	h.last = p
	for _, ch := range h.subs {
		select {
		case ch <- p:
			continue
		default:
		}
		// drop the oldest tick to make room
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p:
		default:
		}
	}
}
