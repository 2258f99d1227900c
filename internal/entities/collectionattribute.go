package entities

import (
	"context"

	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const collectionAttributeTable = "collection_attribute_table"

var collectionAttributeColumns = []string{"id", "collection_id", "type", "value"}

// InsertCollectionAttribute creates an attribute row.
func (s *Store) InsertCollectionAttribute(ctx context.Context, conn querybuilder.Execer, a *CollectionAttribute) (int64, error) {
	b := querybuilder.New(querybuilder.Insert, collectionAttributeTable).
		Set("collection_id", a.CollectionID).
		Set("type", a.Type).
		Set("value", a.Value)
	id, err := s.insert(ctx, conn, b)
	if err != nil {
		return 0, err
	}
	a.ID = id
	return id, nil
}

// UpdateCollectionAttribute persists a new value for an existing
// (collection, type) attribute.
func (s *Store) UpdateCollectionAttribute(ctx context.Context, conn querybuilder.Execer, a *CollectionAttribute) error {
	b := querybuilder.New(querybuilder.Update, collectionAttributeTable).
		Set("value", a.Value).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, a.ID))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RemoveCollectionAttribute deletes an attribute row.
func (s *Store) RemoveCollectionAttribute(ctx context.Context, conn querybuilder.Execer, id int64) error {
	b := querybuilder.New(querybuilder.Delete, collectionAttributeTable).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RetrieveCollectionAttribute fetches the (collection, type) attribute,
// or ErrNotFound.
func (s *Store) RetrieveCollectionAttribute(ctx context.Context, conn querybuilder.Execer, collectionID int64, attrType string) (*CollectionAttribute, error) {
	b := querybuilder.New(querybuilder.Select, collectionAttributeTable).
		Select(collectionAttributeColumns...).
		Where(querybuilder.And(
			querybuilder.Leaf("collection_id", querybuilder.OpEq, collectionID),
			querybuilder.Leaf("type", querybuilder.OpEq, attrType),
		))
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanCollectionAttributeRow(rows)
}

// RetrieveAttributes lazily populates and returns c's attributes.
func (s *Store) RetrieveAttributes(ctx context.Context, conn querybuilder.Execer, c *Collection) ([]CollectionAttribute, error) {
	if c.attrs != nil {
		return c.attrs, nil
	}
	b := querybuilder.New(querybuilder.Select, collectionAttributeTable).
		Select(collectionAttributeColumns...).
		Where(querybuilder.Leaf("collection_id", querybuilder.OpEq, c.ID))
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []CollectionAttribute
	for rows.Next() {
		a, err := scanCollectionAttributeRow(rows)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	c.attrs = attrs
	return attrs, nil
}

func scanCollectionAttributeRow(rows rowScanner) (*CollectionAttribute, error) {
	a := &CollectionAttribute{}
	if err := rows.Scan(&a.ID, &a.CollectionID, &a.Type, &a.Value); err != nil {
		return nil, err
	}
	return a, nil
}
