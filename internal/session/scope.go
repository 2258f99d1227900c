package session

import (
	"context"

	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

// ScopeKind selects which of a Scope's fields is meaningful (GLOSSARY
// "Scope": id list, uid list, remote-id list, or contiguous interval).
type ScopeKind int

const (
	ScopeIDList ScopeKind = iota
	ScopeGIDList
	ScopeRemoteIDList
	ScopeInterval
)

// Scope is a compact identifier-set specification over items.
type Scope struct {
	Kind         ScopeKind
	IDs          []int64
	GIDs         []string
	RemoteIDs    []string
	CollectionID int64 // required to disambiguate RemoteIDs, which are only unique per collection
	IntervalFrom int64
	IntervalTo   int64
}

// Resolve expands a Scope into the concrete item ids it names.
func Resolve(ctx context.Context, es *entities.Store, conn querybuilder.Execer, s Scope) ([]int64, error) {
	switch s.Kind {
	case ScopeIDList:
		return s.IDs, nil

	case ScopeGIDList:
		var ids []int64
		for _, gid := range s.GIDs {
			item, err := es.RetrievePimItemByGID(ctx, conn, gid)
			if err == entities.ErrNotFound {
				continue
			}
			if err != nil {
				return nil, err
			}
			ids = append(ids, item.ID)
		}
		return ids, nil

	case ScopeRemoteIDList:
		var ids []int64
		for _, rid := range s.RemoteIDs {
			item, err := es.RetrievePimItemByRemoteID(ctx, conn, s.CollectionID, rid)
			if err == entities.ErrNotFound {
				continue
			}
			if err != nil {
				return nil, err
			}
			ids = append(ids, item.ID)
		}
		return ids, nil

	case ScopeInterval:
		ids := make([]int64, 0, s.IntervalTo-s.IntervalFrom+1)
		for id := s.IntervalFrom; id <= s.IntervalTo; id++ {
			ids = append(ids, id)
		}
		return ids, nil

	default:
		return nil, nil
	}
}
