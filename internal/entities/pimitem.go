package entities

import (
	"context"

	"github.com/google/uuid"

	"github.com/akonadi-go/akonadi/internal/notify"
	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const pimItemTable = "pim_item_table"

var pimItemColumns = []string{
	"id", "collection_id", "mime_type_id", "remote_id", "remote_revision",
	"gid", "size", "datetime", "atime", "dirty", "revision",
}

func pimItemSetters(b *querybuilder.Builder, it *PimItem) *querybuilder.Builder {
	return b.
		Set("collection_id", it.CollectionID).
		Set("mime_type_id", it.MimeTypeID).
		Set("remote_id", it.RemoteID).
		Set("remote_revision", it.RemoteRevision).
		Set("gid", it.GID).
		Set("size", it.Size).
		Set("datetime", it.Datetime).
		Set("atime", it.Atime).
		Set("dirty", it.Dirty).
		Set("revision", it.Revision)
}

// InsertPimItem creates an item row and returns its assigned id. A
// caller that leaves GID empty gets one generated, since gid must be
// unique across every item regardless of which resource created it.
func (s *Store) InsertPimItem(ctx context.Context, conn querybuilder.Execer, it *PimItem) (int64, error) {
	if it.GID == "" {
		it.GID = uuid.NewString()
	}
	b := pimItemSetters(querybuilder.New(querybuilder.Insert, pimItemTable), it)
	id, err := s.insert(ctx, conn, b)
	if err != nil {
		return 0, err
	}
	it.ID = id
	emit(ctx, notify.Change{Kind: notify.EntityItem, Operation: notify.OpAdd, EntityID: id, CollectionID: it.CollectionID})
	return id, nil
}

// UpdatePimItem persists changes to an existing item row, writing
// it.Revision exactly as given; it does not bump the revision itself,
// so a caller that wants a new revision increments it first.
func (s *Store) UpdatePimItem(ctx context.Context, conn querybuilder.Execer, it *PimItem) error {
	b := pimItemSetters(querybuilder.New(querybuilder.Update, pimItemTable), it).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, it.ID))
	if _, err := s.exec(ctx, conn, b); err != nil {
		return err
	}
	emit(ctx, notify.Change{Kind: notify.EntityItem, Operation: notify.OpModify, EntityID: it.ID, CollectionID: it.CollectionID})
	return nil
}

// RemovePimItem deletes an item row; parts, flag/tag links cascade.
func (s *Store) RemovePimItem(ctx context.Context, conn querybuilder.Execer, id int64) error {
	b := querybuilder.New(querybuilder.Delete, pimItemTable).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	if _, err := s.exec(ctx, conn, b); err != nil {
		return err
	}
	emit(ctx, notify.Change{Kind: notify.EntityItem, Operation: notify.OpRemove, EntityID: id})
	return nil
}

// RetrievePimItemByID fetches a single item, or ErrNotFound.
func (s *Store) RetrievePimItemByID(ctx context.Context, conn querybuilder.Execer, id int64) (*PimItem, error) {
	b := querybuilder.New(querybuilder.Select, pimItemTable).
		Select(pimItemColumns...).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	return s.scanOnePimItem(ctx, conn, b)
}

// RetrievePimItemByRemoteID fetches an item by its (collection, remote
// id) pair, unique within a collection.
func (s *Store) RetrievePimItemByRemoteID(ctx context.Context, conn querybuilder.Execer, collectionID int64, remoteID string) (*PimItem, error) {
	b := querybuilder.New(querybuilder.Select, pimItemTable).
		Select(pimItemColumns...).
		Where(querybuilder.And(
			querybuilder.Leaf("collection_id", querybuilder.OpEq, collectionID),
			querybuilder.Leaf("remote_id", querybuilder.OpEq, remoteID),
		))
	return s.scanOnePimItem(ctx, conn, b)
}

// RetrievePimItemByGID fetches an item by its globally-unique id,
// independent of which collection it currently lives in.
func (s *Store) RetrievePimItemByGID(ctx context.Context, conn querybuilder.Execer, gid string) (*PimItem, error) {
	b := querybuilder.New(querybuilder.Select, pimItemTable).
		Select(pimItemColumns...).
		Where(querybuilder.Leaf("gid", querybuilder.OpEq, gid))
	return s.scanOnePimItem(ctx, conn, b)
}

// RetrieveAllPimItems lists every item in a collection.
func (s *Store) RetrieveAllPimItems(ctx context.Context, conn querybuilder.Execer, collectionID int64) ([]*PimItem, error) {
	b := querybuilder.New(querybuilder.Select, pimItemTable).
		Select(pimItemColumns...).
		Where(querybuilder.Leaf("collection_id", querybuilder.OpEq, collectionID)).
		OrderBy("id", false)
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PimItem
	for rows.Next() {
		it, err := scanPimItemRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// RetrieveFlags lazily populates and returns it's flags.
func (s *Store) RetrieveFlags(ctx context.Context, conn querybuilder.Execer, it *PimItem) ([]Flag, error) {
	if it.flags != nil {
		return it.flags, nil
	}
	b := querybuilder.New(querybuilder.Select, "flag_table").
		Select("flag_table.id", "flag_table.name").
		Join("pim_item_flag_relation", querybuilder.InnerJoin,
			querybuilder.LeafColumn("pim_item_flag_relation.flag_id", querybuilder.OpEq, "flag_table.id")).
		Where(querybuilder.Leaf("pim_item_flag_relation.pim_item_id", querybuilder.OpEq, it.ID))
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []Flag
	for rows.Next() {
		var f Flag
		if err := rows.Scan(&f.ID, &f.Name); err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	it.flags = flags
	return flags, nil
}

// RetrieveTags lazily populates and returns it's tags.
func (s *Store) RetrieveTags(ctx context.Context, conn querybuilder.Execer, it *PimItem) ([]Tag, error) {
	if it.tags != nil {
		return it.tags, nil
	}
	b := querybuilder.New(querybuilder.Select, "tag_table").
		Select("tag_table.id", "tag_table.gid", "tag_table.parent_id", "tag_table.tag_type_id", "tag_table.remote_id").
		Join("pim_item_tag_relation", querybuilder.InnerJoin,
			querybuilder.LeafColumn("pim_item_tag_relation.tag_id", querybuilder.OpEq, "tag_table.id")).
		Where(querybuilder.Leaf("pim_item_tag_relation.pim_item_id", querybuilder.OpEq, it.ID))
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.GID, &t.ParentID, &t.TagTypeID, &t.RemoteID); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	it.tags = tags
	return tags, nil
}

// SetFlags replaces it's flag set by name, creating any flag that does
// not yet exist (spec §4.2 "flags are interned by name").
func (s *Store) SetFlags(ctx context.Context, conn querybuilder.Execer, it *PimItem, names []string) error {
	del := querybuilder.New(querybuilder.Delete, "pim_item_flag_relation").
		Where(querybuilder.Leaf("pim_item_id", querybuilder.OpEq, it.ID))
	if _, err := s.exec(ctx, conn, del); err != nil {
		return err
	}
	it.flags = nil

	for _, name := range names {
		flag, err := s.internFlag(ctx, conn, name)
		if err != nil {
			return err
		}
		link := querybuilder.New(querybuilder.Insert, "pim_item_flag_relation").
			Set("pim_item_id", it.ID).
			Set("flag_id", flag.ID)
		if _, err := s.exec(ctx, conn, link); err != nil {
			return err
		}
	}
	emit(ctx, notify.Change{Kind: notify.EntityItem, Operation: notify.OpModify, EntityID: it.ID, CollectionID: it.CollectionID, ChangedParts: []string{"FLAGS"}})
	return nil
}

// SetTags replaces it's tag set by id (tags are created separately via
// InsertTag/InternTagType, unlike flags which intern by bare name).
func (s *Store) SetTags(ctx context.Context, conn querybuilder.Execer, it *PimItem, tagIDs []int64) error {
	del := querybuilder.New(querybuilder.Delete, "pim_item_tag_relation").
		Where(querybuilder.Leaf("pim_item_id", querybuilder.OpEq, it.ID))
	if _, err := s.exec(ctx, conn, del); err != nil {
		return err
	}
	it.tags = nil

	for _, tagID := range tagIDs {
		link := querybuilder.New(querybuilder.Insert, "pim_item_tag_relation").
			Set("pim_item_id", it.ID).
			Set("tag_id", tagID)
		if _, err := s.exec(ctx, conn, link); err != nil {
			return err
		}
	}
	return nil
}

// LinkTag adds a single tag link to it without disturbing any others it
// already carries, unlike SetTags's full-set replace (used by
// LinkItems/UnlinkItems, spec §4.9's Items category).
func (s *Store) LinkTag(ctx context.Context, conn querybuilder.Execer, it *PimItem, tagID int64) error {
	link := querybuilder.New(querybuilder.Insert, "pim_item_tag_relation").
		Set("pim_item_id", it.ID).
		Set("tag_id", tagID)
	if _, err := s.exec(ctx, conn, link); err != nil {
		return err
	}
	it.tags = nil
	emit(ctx, notify.Change{Kind: notify.EntityItem, Operation: notify.OpLink, EntityID: it.ID, CollectionID: it.CollectionID})
	return nil
}

// UnlinkTag removes a single tag link from it.
func (s *Store) UnlinkTag(ctx context.Context, conn querybuilder.Execer, it *PimItem, tagID int64) error {
	del := querybuilder.New(querybuilder.Delete, "pim_item_tag_relation").
		Where(querybuilder.And(
			querybuilder.Leaf("pim_item_id", querybuilder.OpEq, it.ID),
			querybuilder.Leaf("tag_id", querybuilder.OpEq, tagID),
		))
	if _, err := s.exec(ctx, conn, del); err != nil {
		return err
	}
	it.tags = nil
	emit(ctx, notify.Change{Kind: notify.EntityItem, Operation: notify.OpUnlink, EntityID: it.ID, CollectionID: it.CollectionID})
	return nil
}

func (s *Store) internFlag(ctx context.Context, conn querybuilder.Execer, name string) (*Flag, error) {
	f, err := s.RetrieveFlagByName(ctx, conn, name)
	if err == nil {
		return f, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	f = &Flag{Name: name}
	if _, err := s.InsertFlag(ctx, conn, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) scanOnePimItem(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) (*PimItem, error) {
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanPimItemRow(rows)
}

func scanPimItemRow(rows rowScanner) (*PimItem, error) {
	it := &PimItem{}
	if err := rows.Scan(
		&it.ID, &it.CollectionID, &it.MimeTypeID, &it.RemoteID, &it.RemoteRevision,
		&it.GID, &it.Size, &it.Datetime, &it.Atime, &it.Dirty, &it.Revision,
	); err != nil {
		return nil, err
	}
	return it, nil
}
