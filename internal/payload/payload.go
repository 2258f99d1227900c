// Package payload implements the part-helper service of spec §4.3: it
// decides, per write, whether a part's data is small enough to live
// inline in the database or must be spilled to an external file, and
// guarantees that replacing an external file never loses data even if
// the process crashes mid-write — the new file is always written and
// the database row committed before the old file is ever removed.
package payload

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/querybuilder"
	"github.com/akonadi-go/akonadi/internal/txn"
)

// Store writes and reads PimItem payload parts, choosing inline vs.
// external storage by size.
type Store struct {
	entities  *entities.Store
	dataDir   string
	threshold int64 // parts larger than this many bytes are stored externally; a part exactly at threshold stays inline
}

// New returns a Store that spills parts larger than threshold bytes to
// files under dataDir (created if missing).
func New(es *entities.Store, dataDir string, threshold int64) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("payload: create data dir: %w", err)
	}
	return &Store{entities: es, dataDir: dataDir, threshold: threshold}, nil
}

// Write creates or replaces the named part of item with data, choosing
// inline or external storage by threshold. It returns the resulting
// Part row.
func (st *Store) Write(ctx context.Context, conn querybuilder.Execer, item *entities.PimItem, name string, data []byte) (*entities.Part, error) {
	existing, err := st.entities.RetrievePartByName(ctx, conn, item.ID, name)
	if err != nil && err != entities.ErrNotFound {
		return nil, err
	}

	external := int64(len(data)) > st.threshold
	var newPath string
	var oldPath string
	version := 0
	if existing != nil {
		version = existing.Version + 1
		if existing.External {
			oldPath = existing.FilePath
		}
	}

	if external {
		newPath, err = st.writeExternalFile(item.ID, name, version, data)
		if err != nil {
			return nil, err
		}
	}

	p := &entities.Part{
		PimItemID: item.ID,
		Name:      name,
		External:  external,
		DataSize:  int64(len(data)),
		Version:   version,
	}
	if external {
		p.FilePath = newPath
	} else {
		p.Data = data
	}

	if existing != nil {
		p.ID = existing.ID
		if err := st.entities.UpdatePart(ctx, conn, p); err != nil {
			st.cleanupOnError(newPath)
			return nil, err
		}
	} else {
		if _, err := st.entities.InsertPart(ctx, conn, p); err != nil {
			st.cleanupOnError(newPath)
			return nil, err
		}
	}

	// The old external file (if any) is only safe to remove once this
	// write's transaction actually commits; until then the previous
	// row (and therefore the old file) must remain reachable in case of
	// rollback. A fresh external file that never gets committed is
	// removed on rollback instead.
	if oldPath != "" && oldPath != newPath {
		removeOnCommit(ctx, oldPath)
	}
	if newPath != "" {
		txn.RegisterOnRollback(ctx, func() { os.Remove(newPath) })
	}

	return p, nil
}

// Read returns the full contents of item's named part, reading from
// disk transparently when the part is stored externally.
func (st *Store) Read(ctx context.Context, conn querybuilder.Execer, itemID int64, name string) ([]byte, error) {
	p, err := st.entities.RetrievePartByName(ctx, conn, itemID, name)
	if err != nil {
		return nil, err
	}
	if !p.External {
		return p.Data, nil
	}
	return os.ReadFile(p.FilePath)
}

// Remove deletes a part entirely, including its external file (once
// the removing transaction commits).
func (st *Store) Remove(ctx context.Context, conn querybuilder.Execer, itemID int64, name string) error {
	p, err := st.entities.RetrievePartByName(ctx, conn, itemID, name)
	if err != nil {
		return err
	}
	if err := st.entities.RemovePart(ctx, conn, p.ID); err != nil {
		return err
	}
	if p.External {
		removeOnCommit(ctx, p.FilePath)
	}
	return nil
}

// Truncate zeroes a part's content in place without changing its name
// or creating a new revision, used when a client wants to discard a
// cached payload it no longer trusts but keep the part's metadata row.
func (st *Store) Truncate(ctx context.Context, conn querybuilder.Execer, itemID int64, name string) error {
	p, err := st.entities.RetrievePartByName(ctx, conn, itemID, name)
	if err != nil {
		return err
	}
	oldPath := ""
	if p.External {
		oldPath = p.FilePath
	}
	p.External = false
	p.FilePath = ""
	p.Data = nil
	p.DataSize = 0
	if err := st.entities.UpdatePart(ctx, conn, p); err != nil {
		return err
	}
	removeOnCommit(ctx, oldPath)
	return nil
}

// removeOnCommit removes path once the active transaction commits, or
// immediately if ctx carries no transaction scope at all (e.g. a
// background worker like the cache cleaner that truncates parts
// outside any handler-owned transaction).
func removeOnCommit(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if !txn.RegisterOnCommit(ctx, func() { os.Remove(path) }) {
		os.Remove(path)
	}
}

func (st *Store) cleanupOnError(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// writeExternalFile writes data to a new revisioned file and returns
// its path. The filename embeds the item id, a sanitized part name,
// and the revision number so concurrent writers (and the stale-file
// sweeper) can always tell which file belongs to which row without a
// database lookup.
func (st *Store) writeExternalFile(itemID int64, name string, version int, data []byte) (string, error) {
	fname := fmt.Sprintf("%d_%s_r%d_%s", itemID, sanitizeName(name), version, randomSuffix())
	path := filepath.Join(st.dataDir, fname)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("payload: write external file: %w", err)
	}
	return path, nil
}

func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '/' || r == os.PathSeparator || r == ':' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func randomSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "0"
	}
	return hex.EncodeToString(b[:])
}
