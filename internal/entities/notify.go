package entities

import (
	"context"
	"time"

	"github.com/akonadi-go/akonadi/internal/notify"
)

// emit records a change against the active transaction's notification
// collector, if any. Outside a transaction scope (e.g. startup schema
// checks) this is a silent no-op — there is nothing to notify.
func emit(ctx context.Context, ch notify.Change) {
	if c := notify.FromContext(ctx); c != nil {
		ch.Timestamp = time.Now()
		c.Add(ch)
	}
}
