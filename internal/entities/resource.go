package entities

import (
	"context"

	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const resourceTable = "resource_table"

// InsertResource creates a resource row and returns its assigned id.
func (s *Store) InsertResource(ctx context.Context, conn querybuilder.Execer, r *Resource) (int64, error) {
	b := querybuilder.New(querybuilder.Insert, resourceTable).
		Set("name", r.Name).
		Set("display_name", r.DisplayName)
	id, err := s.insert(ctx, conn, b)
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// UpdateResource persists changes to an existing resource row.
func (s *Store) UpdateResource(ctx context.Context, conn querybuilder.Execer, r *Resource) error {
	b := querybuilder.New(querybuilder.Update, resourceTable).
		Set("name", r.Name).
		Set("display_name", r.DisplayName).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, r.ID))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RemoveResource deletes a resource row. Removing a resource cascades
// to its collections at the schema level (ON DELETE CASCADE).
func (s *Store) RemoveResource(ctx context.Context, conn querybuilder.Execer, id int64) error {
	b := querybuilder.New(querybuilder.Delete, resourceTable).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RetrieveResourceByID fetches a single resource, or ErrNotFound.
func (s *Store) RetrieveResourceByID(ctx context.Context, conn querybuilder.Execer, id int64) (*Resource, error) {
	b := querybuilder.New(querybuilder.Select, resourceTable).
		Select("id", "name", "display_name").
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	return s.scanOneResource(ctx, conn, b)
}

// RetrieveResourceByName fetches a resource by its unique name.
func (s *Store) RetrieveResourceByName(ctx context.Context, conn querybuilder.Execer, name string) (*Resource, error) {
	b := querybuilder.New(querybuilder.Select, resourceTable).
		Select("id", "name", "display_name").
		Where(querybuilder.Leaf("name", querybuilder.OpEq, name))
	return s.scanOneResource(ctx, conn, b)
}

// RetrieveAllResources lists every resource.
func (s *Store) RetrieveAllResources(ctx context.Context, conn querybuilder.Execer) ([]*Resource, error) {
	b := querybuilder.New(querybuilder.Select, resourceTable).
		Select("id", "name", "display_name").
		OrderBy("id", false)
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Resource
	for rows.Next() {
		r := &Resource{}
		if err := rows.Scan(&r.ID, &r.Name, &r.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) scanOneResource(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) (*Resource, error) {
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	r := &Resource{}
	if err := rows.Scan(&r.ID, &r.Name, &r.DisplayName); err != nil {
		return nil, err
	}
	return r, rows.Err()
}
