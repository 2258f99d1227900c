package entities

import (
	"context"

	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const flagTable = "flag_table"

// InsertFlag interns a flag row and returns its assigned id.
func (s *Store) InsertFlag(ctx context.Context, conn querybuilder.Execer, f *Flag) (int64, error) {
	b := querybuilder.New(querybuilder.Insert, flagTable).Set("name", f.Name)
	id, err := s.insert(ctx, conn, b)
	if err != nil {
		return 0, err
	}
	f.ID = id
	return id, nil
}

// RemoveFlag deletes a flag row.
func (s *Store) RemoveFlag(ctx context.Context, conn querybuilder.Execer, id int64) error {
	b := querybuilder.New(querybuilder.Delete, flagTable).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RetrieveFlagByID fetches a single flag, or ErrNotFound.
func (s *Store) RetrieveFlagByID(ctx context.Context, conn querybuilder.Execer, id int64) (*Flag, error) {
	b := querybuilder.New(querybuilder.Select, flagTable).
		Select("id", "name").
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	return s.scanOneFlag(ctx, conn, b)
}

// RetrieveFlagByName fetches a flag by its unique name.
func (s *Store) RetrieveFlagByName(ctx context.Context, conn querybuilder.Execer, name string) (*Flag, error) {
	b := querybuilder.New(querybuilder.Select, flagTable).
		Select("id", "name").
		Where(querybuilder.Leaf("name", querybuilder.OpEq, name))
	return s.scanOneFlag(ctx, conn, b)
}

// RetrieveAllFlags lists every interned flag.
func (s *Store) RetrieveAllFlags(ctx context.Context, conn querybuilder.Execer) ([]*Flag, error) {
	b := querybuilder.New(querybuilder.Select, flagTable).Select("id", "name").OrderBy("id", false)
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Flag
	for rows.Next() {
		f := &Flag{}
		if err := rows.Scan(&f.ID, &f.Name); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) scanOneFlag(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) (*Flag, error) {
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	f := &Flag{}
	if err := rows.Scan(&f.ID, &f.Name); err != nil {
		return nil, err
	}
	return f, rows.Err()
}
