package entities

import (
	"context"

	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const collectionMimeTypeTable = "collection_mime_type_relation"

// AddCollectionMimeType links mimeTypeID as an allowed content type of
// collectionID.
func (s *Store) AddCollectionMimeType(ctx context.Context, conn querybuilder.Execer, collectionID, mimeTypeID int64) error {
	b := querybuilder.New(querybuilder.Insert, collectionMimeTypeTable).
		Set("collection_id", collectionID).
		Set("mime_type_id", mimeTypeID)
	_, err := s.exec(ctx, conn, b)
	return err
}

// RemoveCollectionMimeType unlinks mimeTypeID from collectionID.
func (s *Store) RemoveCollectionMimeType(ctx context.Context, conn querybuilder.Execer, collectionID, mimeTypeID int64) error {
	b := querybuilder.New(querybuilder.Delete, collectionMimeTypeTable).
		Where(querybuilder.And(
			querybuilder.Leaf("collection_id", querybuilder.OpEq, collectionID),
			querybuilder.Leaf("mime_type_id", querybuilder.OpEq, mimeTypeID),
		))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RetrieveCollectionMimeTypes lists the mime types allowed in a
// collection.
func (s *Store) RetrieveCollectionMimeTypes(ctx context.Context, conn querybuilder.Execer, collectionID int64) ([]*MimeType, error) {
	b := querybuilder.New(querybuilder.Select, mimeTypeTable).
		Select("mime_type_table.id", "mime_type_table.name").
		Join(collectionMimeTypeTable, querybuilder.InnerJoin,
			querybuilder.LeafColumn(collectionMimeTypeTable+".mime_type_id", querybuilder.OpEq, "mime_type_table.id")).
		Where(querybuilder.Leaf(collectionMimeTypeTable+".collection_id", querybuilder.OpEq, collectionID))
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
