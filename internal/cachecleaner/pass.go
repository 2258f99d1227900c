package cachecleaner

import (
	"context"
	"time"

	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

// expiredPart names one external payload part due for eviction.
type expiredPart struct {
	itemID int64
	name   string
}

// pass runs one full sweep over every resource's collections and
// returns the count of collections that had at least one expired part
// (spec §4.6's `L`, fed into the self-tuning formula).
func (c *Cleaner) pass(ctx context.Context) (int, error) {
	resources, err := c.entities.RetrieveAllResources(ctx, c.entities.Driver().DB())
	if err != nil {
		return 0, err
	}

	loopsWithExpired := 0
	for _, res := range resources {
		collections, err := c.entities.RetrieveAllCollections(ctx, c.entities.Driver().DB(), res.ID)
		if err != nil {
			return loopsWithExpired, err
		}
		for _, col := range collections {
			hadExpired, err := c.sweepCollection(ctx, col)
			if err != nil {
				c.log.Warn("cachecleaner: sweep collection failed", "collection_id", col.ID, "error", err)
				continue
			}
			if hadExpired {
				loopsWithExpired++
			}
		}
	}
	return loopsWithExpired, nil
}

// sweepCollection evicts col's expired payload parts and reports
// whether it had any.
func (c *Cleaner) sweepCollection(ctx context.Context, col *entities.Collection) (bool, error) {
	if !col.Referenced || !col.Enabled {
		return false, nil
	}
	policy, err := c.entities.EffectiveCachePolicy(ctx, c.entities.Driver().DB(), col)
	if err != nil {
		return false, err
	}
	for _, lp := range policy.LocalParts {
		if lp == entities.LocalPartsAll {
			return false, nil
		}
	}
	if policy.CacheTimeout < 0 {
		return false, nil
	}

	expiryMinutes := policy.CacheTimeout
	if expiryMinutes < minExpiryMinutes {
		expiryMinutes = minExpiryMinutes
	}
	cutoff := time.Now().Add(-time.Duration(expiryMinutes) * time.Minute)

	parts, err := c.expiredParts(ctx, col.ID, policy.LocalParts, cutoff)
	if err != nil {
		return false, err
	}
	if len(parts) == 0 {
		return false, nil
	}

	for _, p := range parts {
		if err := c.payload.Truncate(ctx, c.entities.Driver().DB(), p.itemID, p.name); err != nil {
			c.log.Warn("cachecleaner: truncate failed", "item_id", p.itemID, "part", p.name, "error", err)
		}
	}
	return true, nil
}

// expiredParts selects external payload parts of non-dirty items in
// collectionID, older than cutoff, excluding declared local parts.
func (c *Cleaner) expiredParts(ctx context.Context, collectionID int64, localParts []string, cutoff time.Time) ([]expiredPart, error) {
	notIn := make([]any, len(localParts))
	for i, lp := range localParts {
		notIn[i] = lp
	}

	b := querybuilder.New(querybuilder.Select, "part_table").
		Select("part_table.pim_item_id", "part_table.name").
		Join("pim_item_table", querybuilder.InnerJoin,
			querybuilder.LeafColumn("pim_item_table.id", querybuilder.OpEq, "part_table.pim_item_id")).
		Where(querybuilder.And(
			querybuilder.Leaf("pim_item_table.collection_id", querybuilder.OpEq, collectionID),
			querybuilder.Leaf("pim_item_table.dirty", querybuilder.OpEq, false),
			querybuilder.Leaf("part_table.external", querybuilder.OpEq, true),
			querybuilder.Leaf("pim_item_table.atime", querybuilder.OpLt, cutoff),
			querybuilder.NotIn("part_table.name", notIn...),
		))

	rows, err := b.Query(ctx, c.entities.Driver(), c.entities.Driver().DB())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []expiredPart
	for rows.Next() {
		var p expiredPart
		if err := rows.Scan(&p.itemID, &p.name); err != nil {
			return nil, err
		}
		// Only payload parts are cache-evictable (spec §4.6); an
		// externally-stored attribute part that happens to be old and
		// non-dirty must not be truncated.
		if !entities.IsPayloadPart(p.name) {
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
