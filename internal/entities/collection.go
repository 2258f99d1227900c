package entities

import (
	"context"
	"strings"

	"github.com/akonadi-go/akonadi/internal/notify"
	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const collectionTable = "collection_table"

var collectionColumns = []string{
	"id", "parent_id", "name", "remote_id", "remote_revision", "resource_id",
	"is_virtual", "referenced", "enabled",
	"display_pref", "sync_pref", "index_pref",
	"cache_inherit", "cache_local_parts", "cache_timeout", "cache_sync_on_demand",
	"query_string", "query_language",
}

func collectionSetters(b *querybuilder.Builder, c *Collection) *querybuilder.Builder {
	return b.
		Set("parent_id", c.ParentID).
		Set("name", c.Name).
		Set("remote_id", c.RemoteID).
		Set("remote_revision", c.RemoteRevision).
		Set("resource_id", c.ResourceID).
		Set("is_virtual", c.IsVirtual).
		Set("referenced", c.Referenced).
		Set("enabled", c.Enabled).
		Set("display_pref", int(c.DisplayPref)).
		Set("sync_pref", int(c.SyncPref)).
		Set("index_pref", int(c.IndexPref)).
		Set("cache_inherit", c.CachePolicy.Inherit).
		Set("cache_local_parts", strings.Join(c.CachePolicy.LocalParts, ",")).
		Set("cache_timeout", c.CachePolicy.CacheTimeout).
		Set("cache_sync_on_demand", c.CachePolicy.SyncOnDemand).
		Set("query_string", c.QueryString).
		Set("query_language", c.QueryLanguage)
}

// InsertCollection creates a collection row and returns its assigned id.
func (s *Store) InsertCollection(ctx context.Context, conn querybuilder.Execer, c *Collection) (int64, error) {
	b := collectionSetters(querybuilder.New(querybuilder.Insert, collectionTable), c)
	id, err := s.insert(ctx, conn, b)
	if err != nil {
		return 0, err
	}
	c.ID = id
	emit(ctx, notify.Change{Kind: notify.EntityCollection, Operation: notify.OpAdd, EntityID: id, ResourceID: c.ResourceID})
	return id, nil
}

// UpdateCollection persists changes to an existing collection row.
func (s *Store) UpdateCollection(ctx context.Context, conn querybuilder.Execer, c *Collection) error {
	b := collectionSetters(querybuilder.New(querybuilder.Update, collectionTable), c).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, c.ID))
	if _, err := s.exec(ctx, conn, b); err != nil {
		return err
	}
	emit(ctx, notify.Change{Kind: notify.EntityCollection, Operation: notify.OpModify, EntityID: c.ID, ResourceID: c.ResourceID})
	return nil
}

// RemoveCollection deletes a collection row. The schema cascades to
// child collections, items, and attributes (ON DELETE CASCADE), but
// that cascade never touches the filesystem — a caller deleting a
// collection that may hold external payload parts must walk its tree
// and remove those parts through internal/payload first (this package
// can't import internal/payload without a cycle, since payload already
// imports entities); see internal/session's deleteCollectionRecursive.
func (s *Store) RemoveCollection(ctx context.Context, conn querybuilder.Execer, id int64) error {
	b := querybuilder.New(querybuilder.Delete, collectionTable).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	if _, err := s.exec(ctx, conn, b); err != nil {
		return err
	}
	emit(ctx, notify.Change{Kind: notify.EntityCollection, Operation: notify.OpRemove, EntityID: id})
	return nil
}

// RetrieveCollectionByID fetches a single collection, or ErrNotFound.
func (s *Store) RetrieveCollectionByID(ctx context.Context, conn querybuilder.Execer, id int64) (*Collection, error) {
	b := querybuilder.New(querybuilder.Select, collectionTable).
		Select(collectionColumns...).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	return s.scanOneCollection(ctx, conn, b)
}

// RetrieveCollectionsByName lists collections with the given name
// within a resource (names are not unique, so several may match).
func (s *Store) RetrieveCollectionsByName(ctx context.Context, conn querybuilder.Execer, resourceID int64, name string) ([]*Collection, error) {
	b := querybuilder.New(querybuilder.Select, collectionTable).
		Select(collectionColumns...).
		Where(querybuilder.And(
			querybuilder.Leaf("resource_id", querybuilder.OpEq, resourceID),
			querybuilder.Leaf("name", querybuilder.OpEq, name),
		))
	return s.scanCollections(ctx, conn, b)
}

// RetrieveAllCollections lists every collection belonging to a resource.
func (s *Store) RetrieveAllCollections(ctx context.Context, conn querybuilder.Execer, resourceID int64) ([]*Collection, error) {
	b := querybuilder.New(querybuilder.Select, collectionTable).
		Select(collectionColumns...).
		Where(querybuilder.Leaf("resource_id", querybuilder.OpEq, resourceID)).
		OrderBy("id", false)
	return s.scanCollections(ctx, conn, b)
}

// RetrieveChildren lazily populates and returns c's direct children,
// caching the result on c for the remainder of its lifetime (spec
// §4.2 "lazy relational accessors").
func (s *Store) RetrieveChildren(ctx context.Context, conn querybuilder.Execer, c *Collection) ([]*Collection, error) {
	if c.children != nil {
		return c.children, nil
	}
	b := querybuilder.New(querybuilder.Select, collectionTable).
		Select(collectionColumns...).
		Where(querybuilder.Leaf("parent_id", querybuilder.OpEq, c.ID)).
		OrderBy("id", false)
	children, err := s.scanCollections(ctx, conn, b)
	if err != nil {
		return nil, err
	}
	c.children = children
	return children, nil
}

// RetrieveParent lazily populates and returns c's parent, or nil if c
// is a resource root.
func (s *Store) RetrieveParent(ctx context.Context, conn querybuilder.Execer, c *Collection) (*Collection, error) {
	if c.parent != nil {
		return c.parent, nil
	}
	if c.ParentID == nil {
		return nil, nil
	}
	parent, err := s.RetrieveCollectionByID(ctx, conn, *c.ParentID)
	if err != nil {
		return nil, err
	}
	c.parent = parent
	return parent, nil
}

// EffectiveCachePolicy resolves c's cache policy up the tree: when
// Inherit is set, the nearest ancestor with Inherit=false supplies the
// effective policy (spec §3, CachePolicy.Inherit).
func (s *Store) EffectiveCachePolicy(ctx context.Context, conn querybuilder.Execer, c *Collection) (CachePolicy, error) {
	cur := c
	for cur.CachePolicy.Inherit {
		parent, err := s.RetrieveParent(ctx, conn, cur)
		if err != nil {
			return CachePolicy{}, err
		}
		if parent == nil {
			break
		}
		cur = parent
	}
	return cur.CachePolicy, nil
}

func (s *Store) scanCollections(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) ([]*Collection, error) {
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		c, err := scanCollectionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) scanOneCollection(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) (*Collection, error) {
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanCollectionRow(rows)
}

// rowScanner is satisfied by *sql.Rows, kept narrow so scanCollectionRow
// doesn't need to import database/sql just for the type name.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollectionRow(rows rowScanner) (*Collection, error) {
	c := &Collection{}
	var displayPref, syncPref, indexPref int
	var localParts string
	if err := rows.Scan(
		&c.ID, &c.ParentID, &c.Name, &c.RemoteID, &c.RemoteRevision, &c.ResourceID,
		&c.IsVirtual, &c.Referenced, &c.Enabled,
		&displayPref, &syncPref, &indexPref,
		&c.CachePolicy.Inherit, &localParts, &c.CachePolicy.CacheTimeout, &c.CachePolicy.SyncOnDemand,
		&c.QueryString, &c.QueryLanguage,
	); err != nil {
		return nil, err
	}
	c.DisplayPref = TriState(displayPref)
	c.SyncPref = TriState(syncPref)
	c.IndexPref = TriState(indexPref)
	if localParts != "" {
		c.CachePolicy.LocalParts = strings.Split(localParts, ",")
	}
	return c, nil
}
