package entities

import (
	"context"

	"github.com/google/uuid"

	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const tagTable = "tag_table"

var tagColumns = []string{"id", "gid", "parent_id", "tag_type_id", "remote_id"}

func tagSetters(b *querybuilder.Builder, t *Tag) *querybuilder.Builder {
	return b.
		Set("gid", t.GID).
		Set("parent_id", t.ParentID).
		Set("tag_type_id", t.TagTypeID).
		Set("remote_id", t.RemoteID)
}

// InsertTag creates a tag row and returns its assigned id. A caller
// that leaves GID empty gets one generated, since tag_table.gid must
// be globally unique and resources rarely mint their own.
func (s *Store) InsertTag(ctx context.Context, conn querybuilder.Execer, t *Tag) (int64, error) {
	if t.GID == "" {
		t.GID = uuid.NewString()
	}
	b := tagSetters(querybuilder.New(querybuilder.Insert, tagTable), t)
	id, err := s.insert(ctx, conn, b)
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

// UpdateTag persists changes to an existing tag row.
func (s *Store) UpdateTag(ctx context.Context, conn querybuilder.Execer, t *Tag) error {
	b := tagSetters(querybuilder.New(querybuilder.Update, tagTable), t).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, t.ID))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RemoveTag deletes a tag row; item-tag links cascade.
func (s *Store) RemoveTag(ctx context.Context, conn querybuilder.Execer, id int64) error {
	b := querybuilder.New(querybuilder.Delete, tagTable).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RetrieveTagByID fetches a single tag, or ErrNotFound.
func (s *Store) RetrieveTagByID(ctx context.Context, conn querybuilder.Execer, id int64) (*Tag, error) {
	b := querybuilder.New(querybuilder.Select, tagTable).
		Select(tagColumns...).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	return s.scanOneTag(ctx, conn, b)
}

// RetrieveTagByGID fetches a tag by its unique global id.
func (s *Store) RetrieveTagByGID(ctx context.Context, conn querybuilder.Execer, gid string) (*Tag, error) {
	b := querybuilder.New(querybuilder.Select, tagTable).
		Select(tagColumns...).
		Where(querybuilder.Leaf("gid", querybuilder.OpEq, gid))
	return s.scanOneTag(ctx, conn, b)
}

// RetrieveAllTags lists every tag.
func (s *Store) RetrieveAllTags(ctx context.Context, conn querybuilder.Execer) ([]*Tag, error) {
	b := querybuilder.New(querybuilder.Select, tagTable).Select(tagColumns...).OrderBy("id", false)
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tag
	for rows.Next() {
		t, err := scanTagRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) scanOneTag(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) (*Tag, error) {
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanTagRow(rows)
}

func scanTagRow(rows rowScanner) (*Tag, error) {
	t := &Tag{}
	if err := rows.Scan(&t.ID, &t.GID, &t.ParentID, &t.TagTypeID, &t.RemoteID); err != nil {
		return nil, err
	}
	return t, nil
}
