package entities

import (
	"context"

	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const relationTable = "relation_table"

var relationColumns = []string{"id", "left_id", "right_id", "type", "remote_id"}

// InsertRelation creates a relation row and returns its assigned id.
func (s *Store) InsertRelation(ctx context.Context, conn querybuilder.Execer, r *Relation) (int64, error) {
	b := querybuilder.New(querybuilder.Insert, relationTable).
		Set("left_id", r.LeftID).
		Set("right_id", r.RightID).
		Set("type", r.Type).
		Set("remote_id", r.RemoteID)
	id, err := s.insert(ctx, conn, b)
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// RemoveRelation deletes a relation row.
func (s *Store) RemoveRelation(ctx context.Context, conn querybuilder.Execer, id int64) error {
	b := querybuilder.New(querybuilder.Delete, relationTable).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RetrieveRelationByID fetches a single relation, or ErrNotFound.
func (s *Store) RetrieveRelationByID(ctx context.Context, conn querybuilder.Execer, id int64) (*Relation, error) {
	b := querybuilder.New(querybuilder.Select, relationTable).
		Select(relationColumns...).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	return s.scanOneRelation(ctx, conn, b)
}

// RetrieveRelationsForItem lists every relation where itemID is either
// endpoint.
func (s *Store) RetrieveRelationsForItem(ctx context.Context, conn querybuilder.Execer, itemID int64) ([]*Relation, error) {
	b := querybuilder.New(querybuilder.Select, relationTable).
		Select(relationColumns...).
		Where(querybuilder.Or(
			querybuilder.Leaf("left_id", querybuilder.OpEq, itemID),
			querybuilder.Leaf("right_id", querybuilder.OpEq, itemID),
		)).
		OrderBy("id", false)
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Relation
	for rows.Next() {
		r, err := scanRelationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RetrieveAllRelations lists every relation.
func (s *Store) RetrieveAllRelations(ctx context.Context, conn querybuilder.Execer) ([]*Relation, error) {
	b := querybuilder.New(querybuilder.Select, relationTable).Select(relationColumns...).OrderBy("id", false)
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Relation
	for rows.Next() {
		r, err := scanRelationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) scanOneRelation(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) (*Relation, error) {
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanRelationRow(rows)
}

func scanRelationRow(rows rowScanner) (*Relation, error) {
	r := &Relation{}
	if err := rows.Scan(&r.ID, &r.LeftID, &r.RightID, &r.Type, &r.RemoteID); err != nil {
		return nil, err
	}
	return r, nil
}
