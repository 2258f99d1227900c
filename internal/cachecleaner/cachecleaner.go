// Package cachecleaner runs the background worker that expires
// externally-stored payload parts according to each collection's cache
// policy, on a self-tuning interval (spec §4.6).
package cachecleaner

import (
	"context"
	"log/slog"
	"time"

	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/payload"
)

const (
	minIntervalSeconds = 60
	maxIntervalSeconds = 600
	minExpiryMinutes   = 5
)

// Cleaner owns the self-tuning loop state and runs on its own
// goroutine. It is agnostic to which Store it is given: internal/server
// gives it the same Store, and so the same connection pool, that the
// sessions use rather than a private connection.
type Cleaner struct {
	entities *entities.Store
	payload  *payload.Store
	log      *slog.Logger

	mTime  int // next-sleep seconds, bounded [60, 600]
	mLoops float64 // EMA of collections-with-expired-items
}

// New returns a Cleaner against es/pl, logging through log.
func New(es *entities.Store, pl *payload.Store, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{entities: es, payload: pl, log: log, mTime: minIntervalSeconds}
}

// Run executes passes in a loop until ctx is cancelled, sleeping
// between passes for the self-tuned interval.
func (c *Cleaner) Run(ctx context.Context) {
	for {
		loopsWithExpired, err := c.pass(ctx)
		if err != nil {
			c.log.Warn("cachecleaner: pass failed", "error", err)
		}
		c.tune(loopsWithExpired)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(c.mTime) * time.Second):
		}
	}
}

// tune updates mTime/mLoops from one pass's result, per spec §4.6's
// self-tuning formula. Preserved verbatim per the spec's own note that
// the early-term conflating "many collections with work" with "fast
// follow-up needed" is an observed, tested heuristic, not a design to
// improve on.
func (c *Cleaner) tune(loopsWithExpired int) {
	l := float64(loopsWithExpired)
	if l > c.mLoops {
		if l-c.mLoops < 50 && c.mTime > minIntervalSeconds {
			c.mTime -= 60
		} else {
			c.mTime = minIntervalSeconds
		}
	} else {
		if c.mTime < maxIntervalSeconds {
			c.mTime += 60
		}
	}
	if c.mTime < minIntervalSeconds {
		c.mTime = minIntervalSeconds
	}
	if c.mTime > maxIntervalSeconds {
		c.mTime = maxIntervalSeconds
	}
	c.mLoops = (c.mLoops + l) / 4
}
