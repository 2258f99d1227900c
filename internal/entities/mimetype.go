package entities

import (
	"context"

	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const mimeTypeTable = "mime_type_table"

// InsertMimeType interns a mime type row and returns its assigned id.
func (s *Store) InsertMimeType(ctx context.Context, conn querybuilder.Execer, m *MimeType) (int64, error) {
	b := querybuilder.New(querybuilder.Insert, mimeTypeTable).Set("name", m.Name)
	id, err := s.insert(ctx, conn, b)
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

// RemoveMimeType deletes a mime type row.
func (s *Store) RemoveMimeType(ctx context.Context, conn querybuilder.Execer, id int64) error {
	b := querybuilder.New(querybuilder.Delete, mimeTypeTable).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RetrieveMimeTypeByID fetches a single mime type, or ErrNotFound.
func (s *Store) RetrieveMimeTypeByID(ctx context.Context, conn querybuilder.Execer, id int64) (*MimeType, error) {
	b := querybuilder.New(querybuilder.Select, mimeTypeTable).
		Select("id", "name").
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	return s.scanOneMimeType(ctx, conn, b)
}

// RetrieveMimeTypeByName fetches a mime type by its unique name.
func (s *Store) RetrieveMimeTypeByName(ctx context.Context, conn querybuilder.Execer, name string) (*MimeType, error) {
	b := querybuilder.New(querybuilder.Select, mimeTypeTable).
		Select("id", "name").
		Where(querybuilder.Leaf("name", querybuilder.OpEq, name))
	return s.scanOneMimeType(ctx, conn, b)
}

// RetrieveAllMimeTypes lists every interned mime type.
func (s *Store) RetrieveAllMimeTypes(ctx context.Context, conn querybuilder.Execer) ([]*MimeType, error) {
	b := querybuilder.New(querybuilder.Select, mimeTypeTable).Select("id", "name").OrderBy("id", false)
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MimeType
	for rows.Next() {
		m := &MimeType{}
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InternMimeType returns the mime type row for name, creating it if it
// does not yet exist (spec §3: mime types are interned by name).
func (s *Store) InternMimeType(ctx context.Context, conn querybuilder.Execer, name string) (*MimeType, error) {
	m, err := s.RetrieveMimeTypeByName(ctx, conn, name)
	if err == nil {
		return m, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	m = &MimeType{Name: name}
	if _, err := s.InsertMimeType(ctx, conn, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) scanOneMimeType(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) (*MimeType, error) {
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	m := &MimeType{}
	if err := rows.Scan(&m.ID, &m.Name); err != nil {
		return nil, err
	}
	return m, rows.Err()
}
