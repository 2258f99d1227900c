// Package notify collects per-transaction change notifications and
// publishes them atomically when (and only when) the outermost
// transaction that produced them commits, per spec §4.5. A rolled-back
// transaction's notifications are discarded, never published.
package notify

import (
	"context"
	"sync"
	"time"
)

// Operation classifies a change for a single entity.
type Operation int

const (
	OpAdd Operation = iota
	OpModify
	OpRemove
	OpMove
	OpLink
	OpUnlink
)

// EntityKind distinguishes which table a Change describes.
type EntityKind int

const (
	EntityItem EntityKind = iota
	EntityCollection
	EntityTag
	EntityRelation
)

// Change is one notified event. ChangedParts is only meaningful for
// EntityItem/OpModify, naming which payload or attribute parts changed
// so subscribers can decide whether a cached copy is now stale.
type Change struct {
	Kind         EntityKind
	Operation    Operation
	EntityID     int64
	CollectionID int64
	ResourceID   int64
	ChangedParts []string
	Timestamp    time.Time
}

// Collector accumulates the changes produced within one transaction
// scope. Nested transactions share their parent's Collector so a
// rollback of an inner scope can still be told apart from the
// outermost commit/rollback decision (internal/txn owns that logic;
// Collector only merges and hands off the final batch).
type Collector struct {
	mu      sync.Mutex
	changes []Change
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add records one change. Concurrent-safe so item retrieval and
// collection operations within the same transaction can both append
// from separate goroutines (e.g. errgroup fan-out in internal/retriever).
func (c *Collector) Add(ch Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = mergeOrAppend(c.changes, ch)
}

// mergeOrAppend coalesces a new OpModify change for the same entity
// into an existing pending one by unioning ChangedParts, instead of
// emitting two separate notifications for the same item (spec §4.5
// "coalescing").
func mergeOrAppend(existing []Change, ch Change) []Change {
	if ch.Operation == OpModify {
		for i := range existing {
			e := &existing[i]
			if e.Kind == ch.Kind && e.EntityID == ch.EntityID && e.Operation == OpModify {
				e.ChangedParts = unionParts(e.ChangedParts, ch.ChangedParts)
				return existing
			}
		}
	}
	return append(existing, ch)
}

func unionParts(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, p := range append(append([]string{}, a...), b...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Drain returns the accumulated changes and resets the Collector.
// internal/txn calls it once when the outermost transaction ends: on
// commit to publish the changes, on rollback to discard them.
func (c *Collector) Drain() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.changes
	c.changes = nil
	return out
}

type collectorKey struct{}

// WithCollector returns a context carrying collector, for transaction
// scopes to hand down to entity-layer callers that need to emit
// changes without threading a Collector through every function
// signature.
func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorKey{}, c)
}

// FromContext retrieves the active Collector, or nil outside any
// transaction scope.
func FromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorKey{}).(*Collector)
	return c
}
