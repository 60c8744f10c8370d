package transfer

import (
	"time"

	"golang.org/x/time/rate"
)

// ticker throttles Handle.report. Percent changes are always allowed
// through at most once per interval; the terminal tick bypasses it.
type ticker struct {
	h       *Handle
	limiter *rate.Limiter
	total   int64
}

func newTicker(h *Handle, interval time.Duration, total int64) *ticker {
	return &ticker{h: h, limiter: rate.NewLimiter(rate.Every(interval), 1), total: total}
}

// rows reports progress as done/total. An unknown total (<= 0) gives an
// estimate that approaches but never reaches 99.
func (t *ticker) rows(done int64) {
	if !t.limiter.Allow() {
		return
	}
	t.h.report(percentOf(done, t.total), done)
}

// bytes reports import progress by input offset while rows counts commits.
func (t *ticker) bytes(offset, committed int64) {
	if !t.limiter.Allow() {
		return
	}
	t.h.report(percentOf(offset, t.total), committed)
}

func percentOf(done, total int64) int {
	if done <= 0 {
		return 0
	}
	if total <= 0 {
		return int(99 * done / (done + 10000))
	}
	p := int(done * 100 / total)
	if p > 99 {
		p = 99
	}
	return p
}
