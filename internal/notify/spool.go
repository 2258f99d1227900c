package notify

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/akonadi-go/akonadi/internal/driver"
	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const spoolTable = "notification_spool"

// Spool durably records a committed batch for a named session so an
// agent that was offline when the batch was published can replay it on
// reconnect instead of silently missing it (spec §4.10, supplementing
// the in-memory Hub which only serves currently-connected sessions).
type Spool struct{}

// NewSpool returns a Spool. It carries no state of its own; every call
// takes the driver and querybuilder.Execer to run against, same as
// internal/entities.
func NewSpool() *Spool { return &Spool{} }

// Record persists one batch for sessionTag.
func (sp *Spool) Record(ctx context.Context, d *driver.Driver, conn querybuilder.Execer, sessionTag string, changes []Change) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(changes); err != nil {
		return err
	}
	b := querybuilder.New(querybuilder.Insert, spoolTable).
		Set("session_tag", sessionTag).
		Set("payload", buf.Bytes()).
		Set("created_at", time.Now())
	_, err := b.Exec(ctx, d, conn)
	return err
}

// ReplaySince returns every batch recorded for sessionTag with a
// sequence number greater than afterSeq, in order, for the session to re-apply before resuming live
// delivery.
func (sp *Spool) ReplaySince(ctx context.Context, d *driver.Driver, conn querybuilder.Execer, sessionTag string, afterSeq int64) ([]Change, int64, error) {
	b := querybuilder.New(querybuilder.Select, spoolTable).
		Select("sequence", "payload").
		Where(querybuilder.And(
			querybuilder.Leaf("session_tag", querybuilder.OpEq, sessionTag),
			querybuilder.Leaf("sequence", querybuilder.OpGt, afterSeq),
		)).
		OrderBy("sequence", false)
	rows, err := b.Query(ctx, d, conn)
	if err != nil {
		return nil, afterSeq, err
	}
	defer rows.Close()

	var all []Change
	last := afterSeq
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, afterSeq, err
		}
		var batch []Change
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&batch); err != nil {
			return nil, afterSeq, err
		}
		all = append(all, batch...)
		last = seq
	}
	if err := rows.Err(); err != nil {
		return nil, afterSeq, err
	}
	return all, last, nil
}

// Trim deletes spooled batches for sessionTag up to and including
// upToSeq, once the session has acknowledged replay.
func (sp *Spool) Trim(ctx context.Context, d *driver.Driver, conn querybuilder.Execer, sessionTag string, upToSeq int64) error {
	b := querybuilder.New(querybuilder.Delete, spoolTable).
		Where(querybuilder.And(
			querybuilder.Leaf("session_tag", querybuilder.OpEq, sessionTag),
			querybuilder.Leaf("sequence", querybuilder.OpLe, upToSeq),
		))
	_, err := b.Exec(ctx, d, conn)
	return err
}
