package entities

import (
	"context"

	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

const partTable = "part_table"

var partColumns = []string{
	"id", "pim_item_id", "name", "data", "file_path", "data_size", "external", "version",
}

func partSetters(b *querybuilder.Builder, p *Part) *querybuilder.Builder {
	b = b.
		Set("pim_item_id", p.PimItemID).
		Set("name", p.Name).
		Set("file_path", p.FilePath).
		Set("data_size", p.DataSize).
		Set("external", p.External).
		Set("version", p.Version)
	if p.External {
		return b.Set("data", nil)
	}
	return b.Set("data", p.Data)
}

// InsertPart creates a part row and returns its assigned id. The row
// stores either Data (inline) or FilePath (external), never both, per
// External (spec §4.3).
func (s *Store) InsertPart(ctx context.Context, conn querybuilder.Execer, p *Part) (int64, error) {
	b := partSetters(querybuilder.New(querybuilder.Insert, partTable), p)
	id, err := s.insert(ctx, conn, b)
	if err != nil {
		return 0, err
	}
	p.ID = id
	return id, nil
}

// UpdatePart persists changes to an existing part row, normally bumping
// Version and swapping Data/FilePath atomically with the row update.
func (s *Store) UpdatePart(ctx context.Context, conn querybuilder.Execer, p *Part) error {
	b := partSetters(querybuilder.New(querybuilder.Update, partTable), p).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, p.ID))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RemovePart deletes a part row. The caller (internal/payload) is
// responsible for removing any backing external file after the owning
// transaction commits.
func (s *Store) RemovePart(ctx context.Context, conn querybuilder.Execer, id int64) error {
	b := querybuilder.New(querybuilder.Delete, partTable).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	_, err := s.exec(ctx, conn, b)
	return err
}

// RetrievePartByID fetches a single part, or ErrNotFound.
func (s *Store) RetrievePartByID(ctx context.Context, conn querybuilder.Execer, id int64) (*Part, error) {
	b := querybuilder.New(querybuilder.Select, partTable).
		Select(partColumns...).
		Where(querybuilder.Leaf("id", querybuilder.OpEq, id))
	return s.scanOnePart(ctx, conn, b)
}

// RetrievePartByName fetches the named part of an item, or ErrNotFound.
func (s *Store) RetrievePartByName(ctx context.Context, conn querybuilder.Execer, pimItemID int64, name string) (*Part, error) {
	b := querybuilder.New(querybuilder.Select, partTable).
		Select(partColumns...).
		Where(querybuilder.And(
			querybuilder.Leaf("pim_item_id", querybuilder.OpEq, pimItemID),
			querybuilder.Leaf("name", querybuilder.OpEq, name),
		))
	return s.scanOnePart(ctx, conn, b)
}

// RetrieveAllParts lists every part of an item.
func (s *Store) RetrieveAllParts(ctx context.Context, conn querybuilder.Execer, pimItemID int64) ([]*Part, error) {
	b := querybuilder.New(querybuilder.Select, partTable).
		Select(partColumns...).
		Where(querybuilder.Leaf("pim_item_id", querybuilder.OpEq, pimItemID)).
		OrderBy("id", false)
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Part
	for rows.Next() {
		p, err := scanPartRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) scanOnePart(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) (*Part, error) {
	rows, err := b.Query(ctx, s.driver, conn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanPartRow(rows)
}

func scanPartRow(rows rowScanner) (*Part, error) {
	p := &Part{}
	var data []byte
	var filePath *string
	if err := rows.Scan(&p.ID, &p.PimItemID, &p.Name, &data, &filePath, &p.DataSize, &p.External, &p.Version); err != nil {
		return nil, err
	}
	p.Data = data
	if filePath != nil {
		p.FilePath = *filePath
	}
	return p, nil
}
