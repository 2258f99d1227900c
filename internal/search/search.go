// Package search implements the search manager (spec §4.8): persistent
// search definitions backing virtual collections, dispatched to a set
// of pluggable search engines whose results are unioned and re-linked
// into the owning virtual collection.
package search

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

// Request describes one search execution.
type Request struct {
	CollectionID int64
	Query        string
	MimeTypes    []string
	ResourceIDs  []int64
}

// Engine is a pluggable backend (agent-based engine, filesystem
// indexer, ...) capable of executing a search request.
type Engine interface {
	Name() string
	Search(ctx context.Context, req Request) ([]int64, error)
}

// Manager holds the configured engines and the set of persistent
// search virtual collections.
type Manager struct {
	entities *entities.Store
	engines  []Engine
}

// New returns a Manager dispatching to engines.
func New(es *entities.Store, engines ...Engine) *Manager {
	return &Manager{entities: es, engines: engines}
}

// Execute runs req against every configured engine concurrently and
// returns the union of matched item ids.
func (m *Manager) Execute(ctx context.Context, req Request) ([]int64, error) {
	results := make([][]int64, len(m.engines))
	g, gCtx := errgroup.WithContext(ctx)
	for i, engine := range m.engines {
		i, engine := i, engine
		g.Go(func() error {
			ids, err := engine.Search(gCtx, req)
			if err != nil {
				return fmt.Errorf("search: engine %s: %w", engine.Name(), err)
			}
			results[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := map[int64]bool{}
	var union []int64
	for _, ids := range results {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				union = append(union, id)
			}
		}
	}
	return union, nil
}

// CreatePersistentSearch registers col as a virtual collection backed
// by query/language and immediately links its initial result set.
func (m *Manager) CreatePersistentSearch(ctx context.Context, conn querybuilder.Execer, col *entities.Collection, query, language string, resourceIDs []int64) error {
	col.IsVirtual = true
	col.QueryString = query
	col.QueryLanguage = language
	if _, err := m.entities.InsertCollection(ctx, conn, col); err != nil {
		return err
	}
	return m.Refresh(ctx, conn, col, resourceIDs)
}

// UpdatePersistentSearch changes an existing virtual collection's query
// and re-links its result set.
func (m *Manager) UpdatePersistentSearch(ctx context.Context, conn querybuilder.Execer, col *entities.Collection, query, language string, resourceIDs []int64) error {
	col.QueryString = query
	col.QueryLanguage = language
	if err := m.entities.UpdateCollection(ctx, conn, col); err != nil {
		return err
	}
	return m.Refresh(ctx, conn, col, resourceIDs)
}

// RemovePersistentSearch deletes the virtual collection; its item
// links disappear with it (no underlying items are ever deleted by a
// search collection's removal).
func (m *Manager) RemovePersistentSearch(ctx context.Context, conn querybuilder.Execer, col *entities.Collection) error {
	links, err := m.entities.RetrieveRelationsForItem(ctx, conn, col.ID)
	if err != nil {
		return err
	}
	for _, rel := range links {
		if rel.Type == searchLinkRelationType && rel.LeftID == col.ID {
			if err := m.entities.RemoveRelation(ctx, conn, rel.ID); err != nil {
				return err
			}
		}
	}
	return m.entities.RemoveCollection(ctx, conn, col.ID)
}

// Refresh re-executes col's query and re-links its virtual membership
// to the fresh result set via the item-relation table, using a
// search-link relation type so regular item relations stay distinct.
const searchLinkRelationType = "search-link"

func (m *Manager) Refresh(ctx context.Context, conn querybuilder.Execer, col *entities.Collection, resourceIDs []int64) error {
	ids, err := m.Execute(ctx, Request{
		CollectionID: col.ID,
		Query:        col.QueryString,
		ResourceIDs:  resourceIDs,
	})
	if err != nil {
		return err
	}

	current, err := m.entities.RetrieveRelationsForItem(ctx, conn, col.ID)
	if err != nil {
		return err
	}
	currentSet := map[int64]*entities.Relation{}
	for _, rel := range current {
		if rel.Type == searchLinkRelationType {
			currentSet[rel.RightID] = rel
		}
	}

	wanted := map[int64]bool{}
	for _, id := range ids {
		wanted[id] = true
		if _, ok := currentSet[id]; ok {
			continue
		}
		if _, err := m.entities.InsertRelation(ctx, conn, &entities.Relation{
			LeftID: col.ID, RightID: id, Type: searchLinkRelationType,
		}); err != nil {
			return err
		}
	}
	for itemID, rel := range currentSet {
		if !wanted[itemID] {
			if err := m.entities.RemoveRelation(ctx, conn, rel.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
