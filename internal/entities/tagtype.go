package entities

import (
	"context"

	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const tagTypeTable = "tag_type_table"

// InsertTagType interns a tag-type row and returns its assigned id.
func (s *Store) InsertTagType(ctx context.Context, conn querybuilder.Execer, tt *TagType) (int64, error) {
	b := querybuilder.New(querybuilder.Insert, tagTypeTable).Set("name", tt.Name)
	id, err := s.insert(ctx, conn, b)
	if err != nil {
		return 0, err
	}
	tt.ID = id
	return id, nil
}

// RemoveTagType deletes a tag-type row.
func (s *Store) RemoveTagType(ctx context.Context, conn querybuilder.Execer, id int64) error {
	b := querybuilder.New(querybuilder.Delete, tagTypeTable).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RetrieveTagTypeByID fetches a single tag type, or ErrNotFound.
func (s *Store) RetrieveTagTypeByID(ctx context.Context, conn querybuilder.Execer, id int64) (*TagType, error) {
	b := querybuilder.New(querybuilder.Select, tagTypeTable).
		Select("id", "name").
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	return s.scanOneTagType(ctx, conn, b)
}

// RetrieveTagTypeByName fetches a tag type by its unique name.
func (s *Store) RetrieveTagTypeByName(ctx context.Context, conn querybuilder.Execer, name string) (*TagType, error) {
	b := querybuilder.New(querybuilder.Select, tagTypeTable).
		Select("id", "name").
		Where(querybuilder.Leaf("name", querybuilder.OpEq, name))
	return s.scanOneTagType(ctx, conn, b)
}

// RetrieveAllTagTypes lists every interned tag type.
func (s *Store) RetrieveAllTagTypes(ctx context.Context, conn querybuilder.Execer) ([]*TagType, error) {
	b := querybuilder.New(querybuilder.Select, tagTypeTable).Select("id", "name").OrderBy("id", false)
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TagType
	for rows.Next() {
		tt := &TagType{}
		if err := rows.Scan(&tt.ID, &tt.Name); err != nil {
			return nil, err
		}
		out = append(out, tt)
	}
	return out, rows.Err()
}

// InternTagType returns the tag-type row for name, creating it if it
// does not yet exist.
func (s *Store) InternTagType(ctx context.Context, conn querybuilder.Execer, name string) (*TagType, error) {
	tt, err := s.RetrieveTagTypeByName(ctx, conn, name)
	if err == nil {
		return tt, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	tt = &TagType{Name: name}
	if _, err := s.InsertTagType(ctx, conn, tt); err != nil {
		return nil, err
	}
	return tt, nil
}

func (s *Store) scanOneTagType(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) (*TagType, error) {
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	tt := &TagType{}
	if err := rows.Scan(&tt.ID, &tt.Name); err != nil {
		return nil, err
	}
	return tt, rows.Err()
}
