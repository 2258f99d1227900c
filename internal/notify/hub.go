package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/akonadi-go/akonadi/internal/driver"
)

// broadcastTag is the Spool session tag every commit is recorded
// under: subscribers don't yet have distinct replay identities, so the
// whole server shares one durable backlog keyed by sequence number.
const broadcastTag = "broadcast"

// Subscription is a live subscriber's notification channel. The Hub
// publishes batches to it and closes it on Unsubscribe, so callers can
// range over Batch until then.
type Subscription struct {
	id    int64
	batch chan []Change
	hub   *Hub
}

// Batch returns the channel notification batches arrive on.
func (s *Subscription) Batch() <-chan []Change { return s.batch }

// Unsubscribe detaches s from its Hub and stops further delivery.
func (s *Subscription) Unsubscribe() {
	s.hub.unsubscribe(s.id)
}

// Hub fans a committed transaction's Change batch out to every
// subscribed session (spec §4.5: "commit-atomic pub/sub" — a rolled-back
// transaction publishes nothing). Live delivery is best-effort: a
// subscriber whose mailbox is full when a batch is published does not
// receive that batch; it is still recorded in the replay spool.
type Hub struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*Subscription

	spool  *Spool
	driver *driver.Driver
	log    *slog.Logger
}

// NewHub returns an empty Hub with no durable replay backlog.
func NewHub() *Hub {
	return &Hub{subs: map[int64]*Subscription{}}
}

// EnableSpool durably records every published batch through sp, so a
// session that reconnects can call ReplaySince to recover batches
// published while it was disconnected, instead of only ever seeing
// whatever arrives live after it resubscribes.
func (h *Hub) EnableSpool(sp *Spool, d *driver.Driver, log *slog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spool = sp
	h.driver = d
	h.log = log
}

// ReplaySince returns every batch committed since afterSeq (0 for the
// full backlog), for a session that just (re)subscribed to catch up
// before receiving live deliveries. Returns (nil, afterSeq, nil) if no
// spool is enabled.
func (h *Hub) ReplaySince(ctx context.Context, afterSeq int64) ([]Change, int64, error) {
	h.mu.RLock()
	spool, d := h.spool, h.driver
	h.mu.RUnlock()
	if spool == nil {
		return nil, afterSeq, nil
	}
	return spool.ReplaySince(ctx, d, d.DB(), broadcastTag, afterSeq)
}

// Subscribe registers a new subscriber with a bounded mailbox; a slow
// subscriber that doesn't drain fast enough misses batches rather than
// blocking every other session's commit (mirrors item-retriever's
// soft-failure stance on slow backends rather than head-of-line
// blocking the whole server).
func (h *Hub) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	id := atomic.AddInt64(&h.nextID, 1)
	sub := &Subscription{id: id, batch: make(chan []Change, bufferSize), hub: h}
	h.subs[id] = sub
	return sub
}

func (h *Hub) unsubscribe(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		close(sub.batch)
		delete(h.subs, id)
	}
}

// Publish delivers changes to every live subscriber. Called by
// internal/txn only on an outermost commit, never on rollback.
func (h *Hub) Publish(ctx context.Context, changes []Change) {
	if len(changes) == 0 {
		return
	}
	h.mu.RLock()
	spool, d := h.spool, h.driver
	log := h.log
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	if spool != nil {
		if err := spool.Record(ctx, d, d.DB(), broadcastTag, changes); err != nil && log != nil {
			log.Warn("notify: failed to record batch to replay spool", "error", err)
		}
	}

	for _, sub := range subs {
		select {
		case sub.batch <- changes:
		default:
			// mailbox full: drop rather than block the committing
			// transaction; the client falls back to the replay spool.
		}
	}
}
