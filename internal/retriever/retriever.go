// Package retriever implements the item retriever (spec §4.7): given a
// scope of items and a requested set of payload parts, it determines
// what's missing or stale, fans a FetchItems request out to each
// affected resource concurrently, and reports soft per-item failures
// without aborting the whole fetch.
package retriever

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/payload"
	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

// ResourceClient is the request/response contract a resource (agent)
// process implements; out of scope for this module per spec §1, so
// Retriever depends only on this narrow interface.
type ResourceClient interface {
	FetchItems(ctx context.Context, req FetchItemsRequest) (FetchItemsResult, error)
}

// FetchItemsRequest asks one resource to retrieve the given parts for
// the given items.
type FetchItemsRequest struct {
	ResourceID     int64
	ItemIDs        []int64
	RequestedParts []string
}

// FetchItemsResult carries the fetched payload, keyed by item id and
// part name, plus any items that came back incomplete.
type FetchItemsResult struct {
	Parts   map[int64]map[string][]byte
	Partial map[int64][]string // item id -> requested parts that did not arrive
}

// Directory resolves a resource id to the client used to reach it.
type Directory interface {
	ClientFor(resourceID int64) (ResourceClient, error)
}

// Retriever coordinates payload fetches across resources.
type Retriever struct {
	entities  *entities.Store
	payload   *payload.Store
	directory Directory
	timeout   time.Duration
}

// New returns a Retriever. timeout bounds each resource's FetchItems
// call; a resource that exceeds it produces a soft failure for its
// items rather than blocking the whole fetch indefinitely (spec §5).
func New(es *entities.Store, pl *payload.Store, dir Directory, timeout time.Duration) *Retriever {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Retriever{entities: es, payload: pl, directory: dir, timeout: timeout}
}

// ItemFailure reports a soft, per-item fetch failure: the item was
// found, but one or more requested parts never arrived.
type ItemFailure struct {
	ItemID        int64
	MissingParts  []string
	ResourceError error
}

// Fetch resolves which of requestedParts are missing or truncated for
// each item in itemIDs, dispatches one FetchItems request per affected
// resource concurrently, writes returned parts through the payload
// store, and returns any soft per-item failures. It returns an error
// only for an unrecoverable condition (e.g. scope resolution itself
// failing), never for an individual resource's soft failure.
func (r *Retriever) Fetch(ctx context.Context, conn querybuilder.Execer, itemIDs []int64, requestedParts []string) ([]ItemFailure, error) {
	byResource, err := r.groupMissingByResource(ctx, conn, itemIDs, requestedParts)
	if err != nil {
		return nil, fmt.Errorf("retriever: resolve scope: %w", err)
	}
	if len(byResource) == 0 {
		return nil, nil
	}

	var mu failureCollector
	g, gCtx := errgroup.WithContext(ctx)
	for resourceID, items := range byResource {
		resourceID, items := resourceID, items
		g.Go(func() error {
			return r.fetchFromResource(gCtx, conn, resourceID, items, requestedParts, &mu)
		})
	}
	if err := g.Wait(); err != nil {
		return mu.drain(), err
	}
	return mu.drain(), nil
}

func (r *Retriever) fetchFromResource(ctx context.Context, conn querybuilder.Execer, resourceID int64, itemIDs []int64, requestedParts []string, failures *failureCollector) error {
	client, err := r.directory.ClientFor(resourceID)
	if err != nil {
		for _, id := range itemIDs {
			failures.add(ItemFailure{ItemID: id, MissingParts: requestedParts, ResourceError: err})
		}
		return nil // unreachable resource is a soft failure for its items, not a fatal error.
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := fetchWithRetry(reqCtx, client, FetchItemsRequest{ResourceID: resourceID, ItemIDs: itemIDs, RequestedParts: requestedParts})
	if err != nil {
		for _, id := range itemIDs {
			failures.add(ItemFailure{ItemID: id, MissingParts: requestedParts, ResourceError: err})
		}
		return nil
	}

	for itemID, parts := range result.Parts {
		item, err := r.entities.RetrievePimItemByID(ctx, conn, itemID)
		if err != nil {
			failures.add(ItemFailure{ItemID: itemID, MissingParts: requestedParts, ResourceError: err})
			continue
		}
		for name, data := range parts {
			if _, err := r.payload.Write(ctx, conn, item, name, data); err != nil {
				failures.add(ItemFailure{ItemID: itemID, MissingParts: []string{name}, ResourceError: err})
			}
		}
	}
	for itemID, missing := range result.Partial {
		if len(missing) > 0 {
			failures.add(ItemFailure{ItemID: itemID, MissingParts: missing})
		}
	}
	return nil
}

// fetchWithRetry retries a transient FetchItems failure with bounded
// exponential backoff, capped by ctx's own deadline: a resource agent
// that is momentarily restarting shouldn't turn into a soft failure
// for every item it owns.
func fetchWithRetry(ctx context.Context, client ResourceClient, req FetchItemsRequest) (FetchItemsResult, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	var result FetchItemsResult
	err := backoff.Retry(func() error {
		var err error
		result, err = client.FetchItems(ctx, req)
		return err
	}, bo)
	return result, err
}

// groupMissingByResource determines, per item, which requested parts
// are absent or truncated (zero-length, as payload.Truncate leaves an
// evicted part), and
// groups the affected item ids by their owning resource.
func (r *Retriever) groupMissingByResource(ctx context.Context, conn querybuilder.Execer, itemIDs []int64, requestedParts []string) (map[int64][]int64, error) {
	byResource := map[int64][]int64{}
	for _, itemID := range itemIDs {
		item, err := r.entities.RetrievePimItemByID(ctx, conn, itemID)
		if err != nil {
			continue
		}
		missing, err := r.missingParts(ctx, conn, itemID, requestedParts)
		if err != nil {
			return nil, err
		}
		if len(missing) == 0 {
			continue
		}
		col, err := r.entities.RetrieveCollectionByID(ctx, conn, item.CollectionID)
		if err != nil {
			continue
		}
		byResource[col.ResourceID] = append(byResource[col.ResourceID], itemID)
	}
	return byResource, nil
}

func (r *Retriever) missingParts(ctx context.Context, conn querybuilder.Execer, itemID int64, requestedParts []string) ([]string, error) {
	var missing []string
	for _, name := range requestedParts {
		p, err := r.entities.RetrievePartByName(ctx, conn, itemID, name)
		if err == entities.ErrNotFound {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.DataSize == 0 {
			missing = append(missing, name) // truncated by the cache cleaner
		}
	}
	return missing, nil
}
