package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/notify"
)

// encodeChanges appends a notification batch's wire encoding: a count
// followed by each change's fields in Change's declaration order.
func encodeChanges(fw *FieldWriter, changes []notify.Change) *FieldWriter {
	fw.WriteUint32(uint32(len(changes)))
	for _, ch := range changes {
		fw.WriteByte(byte(ch.Kind)).
			WriteByte(byte(ch.Operation)).
			WriteInt64(ch.EntityID).
			WriteInt64(ch.CollectionID).
			WriteInt64(ch.ResourceID).
			WriteTimestamp(ch.Timestamp)
		fw.WriteUint32(uint32(len(ch.ChangedParts)))
		for _, part := range ch.ChangedParts {
			p := part
			fw.WriteString(&p)
		}
	}
	return fw
}

func (s *Session) handleHello(f Frame) error {
	r := NewFieldReader(f.Body)
	clientVersion, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if clientVersion != ProtocolVersion {
		return fmt.Errorf("session: protocol version mismatch: client %d, server %d", clientVersion, ProtocolVersion)
	}
	fw := NewFieldWriter().WriteUint32(ProtocolVersion)
	return s.writeResponse(f.Tag, fw)
}

func (s *Session) handleLogin(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	id, err := r.ReadString()
	if err != nil {
		return err
	}
	if id == nil || *id == "" {
		return fmt.Errorf("session: LOGIN requires a client session identifier")
	}
	s.clientID = *id
	s.state = Authenticated
	return s.writeResponse(f.Tag, NewFieldWriter())
}

func (s *Session) handleLogout(f Frame) error {
	s.state = LoggedOut
	return s.writeResponse(f.Tag, NewFieldWriter())
}

func (s *Session) handleSelect(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	collectionID, err := r.ReadInt64()
	if err != nil {
		return err
	}
	if _, err := s.deps.Entities.RetrieveCollectionByID(ctx, s.deps.Entities.Driver().DB(), collectionID); err != nil {
		return fmt.Errorf("session: SELECT: %w", err)
	}
	s.selectedCollection = collectionID
	s.state = Selected
	return s.writeResponse(f.Tag, NewFieldWriter())
}

func (s *Session) handleCreateItem(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	mimeTypeName, err := r.ReadString()
	if err != nil {
		return err
	}
	remoteID, err := r.ReadString()
	if err != nil {
		return err
	}
	gid, err := r.ReadString()
	if err != nil {
		return err
	}
	payloadBytes, err := r.ReadBytes()
	if err != nil {
		return err
	}

	var itemID int64
	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		mt, err := s.deps.Entities.InternMimeType(ctx, tx, deref(mimeTypeName))
		if err != nil {
			return err
		}
		now := time.Now()
		item := &entities.PimItem{
			CollectionID: s.selectedCollection,
			MimeTypeID:   mt.ID,
			RemoteID:     deref(remoteID),
			GID:          deref(gid),
			Datetime:     now,
			Atime:        now,
			Revision:     0,
		}
		if _, err := s.deps.Entities.InsertPimItem(ctx, tx, item); err != nil {
			return err
		}
		if payloadBytes != nil {
			if _, err := s.deps.Payload.Write(ctx, tx, item, "PLD:DATA", payloadBytes); err != nil {
				return err
			}
		}
		itemID = item.ID
		return nil
	})
	if txErr != nil {
		return txErr
	}

	fw := NewFieldWriter().WriteInt64(itemID)
	return s.writeResponse(f.Tag, fw)
}

func (s *Session) handleFetchItems(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	itemID, err := r.ReadInt64()
	if err != nil {
		return err
	}

	conn := s.deps.Entities.Driver().DB()
	item, err := s.deps.Entities.RetrievePimItemByID(ctx, conn, itemID)
	if err != nil {
		return fmt.Errorf("session: FETCH_ITEMS: %w", err)
	}

	if _, err := s.deps.Retriever.Fetch(ctx, conn, []int64{itemID}, []string{"PLD:DATA"}); err != nil {
		return fmt.Errorf("session: FETCH_ITEMS: retrieve: %w", err)
	}

	data, err := s.deps.Payload.Read(ctx, conn, item.ID, "PLD:DATA")
	if err != nil && err != entities.ErrNotFound {
		return err
	}

	fw := NewFieldWriter().WriteInt64(item.ID).WriteBytes(data, data == nil)
	return s.writeResponse(f.Tag, fw)
}

// handleStoreItem modifies an item's payload, enforcing the
// revision-check precondition (spec §4.9 "Modify item with revision
// check"): the client sends the revision it last saw, and a stale
// value is rejected as a Conflict with no write.
func (s *Session) handleStoreItem(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	itemID, err := r.ReadInt64()
	if err != nil {
		return err
	}
	expectedRevision, err := r.ReadInt64()
	if err != nil {
		return err
	}
	payloadBytes, err := r.ReadBytes()
	if err != nil {
		return err
	}

	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		item, err := s.deps.Entities.RetrievePimItemByID(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if item.Revision != expectedRevision {
			return fmt.Errorf("session: STORE_ITEM: item %d at revision %d, expected %d: %w", itemID, item.Revision, expectedRevision, entities.ErrConflict)
		}
		if _, err := s.deps.Payload.Write(ctx, tx, item, "PLD:DATA", payloadBytes); err != nil {
			return err
		}
		item.Dirty = true
		item.Revision++
		return s.deps.Entities.UpdatePimItem(ctx, tx, item)
	})
	if txErr != nil {
		return txErr
	}
	return s.writeResponse(f.Tag, NewFieldWriter())
}

func (s *Session) handleDeleteItem(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	itemID, err := r.ReadInt64()
	if err != nil {
		return err
	}
	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.deps.Entities.RemovePimItem(ctx, tx, itemID)
	})
	if txErr != nil {
		return txErr
	}
	return s.writeResponse(f.Tag, NewFieldWriter())
}

func (s *Session) handleModifyFlags(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	itemID, err := r.ReadInt64()
	if err != nil {
		return err
	}
	count, err := r.ReadUint32()
	if err != nil {
		return err
	}
	names := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadString()
		if err != nil {
			return err
		}
		names = append(names, deref(name))
	}

	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		item, err := s.deps.Entities.RetrievePimItemByID(ctx, tx, itemID)
		if err != nil {
			return err
		}
		return s.deps.Entities.SetFlags(ctx, tx, item, names)
	})
	if txErr != nil {
		return txErr
	}
	return s.writeResponse(f.Tag, NewFieldWriter())
}

func (s *Session) handleCreateCollection(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	name, err := r.ReadString()
	if err != nil {
		return err
	}
	resourceID, err := r.ReadInt64()
	if err != nil {
		return err
	}
	var parentID *int64
	rawParent, err := r.ReadInt64()
	if err != nil {
		return err
	}
	if rawParent != 0 {
		parentID = &rawParent
	}

	var collectionID int64
	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		col := &entities.Collection{
			Name:       deref(name),
			ParentID:   parentID,
			ResourceID: resourceID,
			Enabled:    true,
			Referenced: true,
		}
		_, err := s.deps.Entities.InsertCollection(ctx, tx, col)
		collectionID = col.ID
		return err
	})
	if txErr != nil {
		return txErr
	}
	fw := NewFieldWriter().WriteInt64(collectionID)
	return s.writeResponse(f.Tag, fw)
}

func (s *Session) handleSearch(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	query, err := r.ReadString()
	if err != nil {
		return err
	}

	conn := s.deps.Entities.Driver().DB()
	col, err := s.deps.Entities.RetrieveCollectionByID(ctx, conn, s.selectedCollection)
	if err != nil {
		return fmt.Errorf("session: SEARCH: %w", err)
	}
	col.QueryString = deref(query)

	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.deps.Search.Refresh(ctx, tx, col, nil)
	})
	if txErr != nil {
		return txErr
	}
	return s.writeResponse(f.Tag, NewFieldWriter())
}

func (s *Session) handleSubscribe(ctx context.Context, f Frame) error {
	if s.sub != nil {
		return fmt.Errorf("session: already subscribed")
	}

	backlog, _, err := s.deps.Hub.ReplaySince(ctx, 0)
	if err != nil {
		return fmt.Errorf("session: SUBSCRIBE: replay backlog: %w", err)
	}
	if len(backlog) > 0 {
		if err := s.writeNotification(backlog); err != nil {
			return err
		}
	}

	s.sub = s.deps.Hub.Subscribe(64)
	forwardCtx, cancel := context.WithCancel(ctx)
	s.subCancel = cancel
	go s.forwardNotifications(forwardCtx, s.sub)

	return s.writeResponse(f.Tag, NewFieldWriter())
}

// forwardNotifications drains sub.Batch() and pushes each batch to the
// client as an unsolicited NOTIFICATION frame, until ctx is cancelled
// (by Unsubscribe or connection cleanup) or the channel closes.
func (s *Session) forwardNotifications(ctx context.Context, sub *notify.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-sub.Batch():
			if !ok {
				return
			}
			if err := s.writeNotification(batch); err != nil {
				s.log.Debug("session: failed to push notification batch", "error", err)
				return
			}
		}
	}
}

func (s *Session) handleUnsubscribe(f Frame) error {
	if s.subCancel != nil {
		s.subCancel()
		s.subCancel = nil
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	return s.writeResponse(f.Tag, NewFieldWriter())
}

// handleMoveItems moves a scope of items into destCollectionID (spec
// §4.9 "Move items"). Cross-resource moves pre-fetch any payload the
// destination doesn't already hold, then each item's source
// collection is recorded, its row re-homed, and its remote-id cleared
// only after the move notification has been emitted so that
// notification still reflects the source side of the move.
func (s *Session) handleMoveItems(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	destCollectionID, err := r.ReadInt64()
	if err != nil {
		return err
	}
	itemIDs, err := readInt64List(r)
	if err != nil {
		return err
	}

	conn := s.deps.Entities.Driver().DB()
	destCol, err := s.deps.Entities.RetrieveCollectionByID(ctx, conn, destCollectionID)
	if err != nil {
		return fmt.Errorf("session: MOVE_ITEM: %w", err)
	}
	destResource, err := s.deps.Entities.RetrieveResourceByID(ctx, conn, destCol.ResourceID)
	if err != nil {
		return fmt.Errorf("session: MOVE_ITEM: %w", err)
	}
	// A move the destination resource itself initiated needs no local
	// dirty flag; any other mover (a client, or a different resource)
	// produced a change that resource doesn't yet know about.
	isDestinationResource := destResource.Name != "" && destResource.Name == s.clientID

	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, itemID := range itemIDs {
			item, err := s.deps.Entities.RetrievePimItemByID(ctx, tx, itemID)
			if err != nil {
				return err
			}
			if item.CollectionID == destCollectionID {
				return fmt.Errorf("session: MOVE_ITEM: item %d already in collection %d", itemID, destCollectionID)
			}
			srcCol, err := s.deps.Entities.RetrieveCollectionByID(ctx, tx, item.CollectionID)
			if err != nil {
				return err
			}
			crossResource := srcCol.ResourceID != destCol.ResourceID

			if crossResource {
				if _, err := s.deps.Retriever.Fetch(ctx, tx, []int64{itemID}, []string{"PLD:DATA"}); err != nil {
					return fmt.Errorf("session: MOVE_ITEM: prefetch payload for item %d: %w", itemID, err)
				}
			}

			srcCollectionID := item.CollectionID
			now := time.Now()
			item.CollectionID = destCollectionID
			item.Atime = now
			item.Datetime = now
			item.Dirty = !isDestinationResource

			if c := notify.FromContext(ctx); c != nil {
				c.Add(notify.Change{
					Kind:         notify.EntityItem,
					Operation:    notify.OpMove,
					EntityID:     item.ID,
					CollectionID: srcCollectionID,
					ResourceID:   srcCol.ResourceID,
				})
			}
			if crossResource {
				item.RemoteID = ""
			}
			if err := s.deps.Entities.UpdatePimItem(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}
	return s.writeResponse(f.Tag, NewFieldWriter())
}

// handleCopyItems duplicates a scope of items into destCollectionID
// (spec §4.9 "Copy items"): fresh ids, empty remote-id, parts
// duplicated through the payload store.
func (s *Session) handleCopyItems(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	destCollectionID, err := r.ReadInt64()
	if err != nil {
		return err
	}
	itemIDs, err := readInt64List(r)
	if err != nil {
		return err
	}

	var newIDs []int64
	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, itemID := range itemIDs {
			src, err := s.deps.Entities.RetrievePimItemByID(ctx, tx, itemID)
			if err != nil {
				return err
			}
			now := time.Now()
			dst := &entities.PimItem{
				CollectionID: destCollectionID,
				MimeTypeID:   src.MimeTypeID,
				RemoteID:     "",
				Size:         src.Size,
				Datetime:     now,
				Atime:        now,
				Revision:     0,
			}
			if _, err := s.deps.Entities.InsertPimItem(ctx, tx, dst); err != nil {
				return err
			}

			parts, err := s.deps.Entities.RetrieveAllParts(ctx, tx, src.ID)
			if err != nil {
				return err
			}
			for _, p := range parts {
				data, err := s.deps.Payload.Read(ctx, tx, src.ID, p.Name)
				if err != nil {
					return err
				}
				if _, err := s.deps.Payload.Write(ctx, tx, dst, p.Name, data); err != nil {
					return err
				}
			}
			newIDs = append(newIDs, dst.ID)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	fw := NewFieldWriter().WriteUint32(uint32(len(newIDs)))
	for _, id := range newIDs {
		fw.WriteInt64(id)
	}
	return s.writeResponse(f.Tag, fw)
}

// handleDeleteCollection removes a collection and everything under it
// (spec §4.9 "Delete collection: depth-first; for each item delete
// parts (payload files too); then the collection").
func (s *Session) handleDeleteCollection(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	collectionID, err := r.ReadInt64()
	if err != nil {
		return err
	}

	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		col, err := s.deps.Entities.RetrieveCollectionByID(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		return s.deleteCollectionRecursive(ctx, tx, col)
	})
	if txErr != nil {
		return txErr
	}
	return s.writeResponse(f.Tag, NewFieldWriter())
}

// deleteCollectionRecursive walks col depth-first: its children first,
// then its own items (removing each item's parts through the payload
// store so external files are cleaned up rather than merely
// cascade-deleted), then col's row itself. This orchestration can't
// live on entities.Store.RemoveCollection itself, since internal/payload
// already imports internal/entities and the reverse import would cycle.
func (s *Session) deleteCollectionRecursive(ctx context.Context, tx *sql.Tx, col *entities.Collection) error {
	children, err := s.deps.Entities.RetrieveChildren(ctx, tx, col)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.deleteCollectionRecursive(ctx, tx, child); err != nil {
			return err
		}
	}

	items, err := s.deps.Entities.RetrieveAllPimItems(ctx, tx, col.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		parts, err := s.deps.Entities.RetrieveAllParts(ctx, tx, item.ID)
		if err != nil {
			return err
		}
		for _, p := range parts {
			if err := s.deps.Payload.Remove(ctx, tx, item.ID, p.Name); err != nil {
				return err
			}
		}
		if err := s.deps.Entities.RemovePimItem(ctx, tx, item.ID); err != nil {
			return err
		}
	}

	return s.deps.Entities.RemoveCollection(ctx, tx, col.ID)
}

func (s *Session) handleModifyCollection(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	collectionID, err := r.ReadInt64()
	if err != nil {
		return err
	}
	name, err := r.ReadString()
	if err != nil {
		return err
	}

	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		col, err := s.deps.Entities.RetrieveCollectionByID(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		if name != nil {
			col.Name = *name
		}
		return s.deps.Entities.UpdateCollection(ctx, tx, col)
	})
	if txErr != nil {
		return txErr
	}
	return s.writeResponse(f.Tag, NewFieldWriter())
}

func (s *Session) handleFetchCollections(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	resourceID, err := r.ReadInt64()
	if err != nil {
		return err
	}

	conn := s.deps.Entities.Driver().DB()
	collections, err := s.deps.Entities.RetrieveAllCollections(ctx, conn, resourceID)
	if err != nil {
		return fmt.Errorf("session: FETCH_COLLECTIONS: %w", err)
	}

	fw := NewFieldWriter().WriteUint32(uint32(len(collections)))
	for _, col := range collections {
		var parentID int64
		if col.ParentID != nil {
			parentID = *col.ParentID
		}
		name := col.Name
		fw.WriteInt64(col.ID).WriteInt64(parentID).WriteString(&name)
	}
	return s.writeResponse(f.Tag, fw)
}

// handleModifyTags replaces an item's full tag set (contrast
// handleLinkItem/handleUnlinkItem, which add or remove one tag).
func (s *Session) handleModifyTags(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	itemID, err := r.ReadInt64()
	if err != nil {
		return err
	}
	tagIDs, err := readInt64List(r)
	if err != nil {
		return err
	}

	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		item, err := s.deps.Entities.RetrievePimItemByID(ctx, tx, itemID)
		if err != nil {
			return err
		}
		return s.deps.Entities.SetTags(ctx, tx, item, tagIDs)
	})
	if txErr != nil {
		return txErr
	}
	return s.writeResponse(f.Tag, NewFieldWriter())
}

func (s *Session) handleLinkItem(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	itemID, err := r.ReadInt64()
	if err != nil {
		return err
	}
	tagID, err := r.ReadInt64()
	if err != nil {
		return err
	}

	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		item, err := s.deps.Entities.RetrievePimItemByID(ctx, tx, itemID)
		if err != nil {
			return err
		}
		return s.deps.Entities.LinkTag(ctx, tx, item, tagID)
	})
	if txErr != nil {
		return txErr
	}
	return s.writeResponse(f.Tag, NewFieldWriter())
}

func (s *Session) handleUnlinkItem(ctx context.Context, f Frame) error {
	r := NewFieldReader(f.Body)
	itemID, err := r.ReadInt64()
	if err != nil {
		return err
	}
	tagID, err := r.ReadInt64()
	if err != nil {
		return err
	}

	txErr := s.deps.Txn.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		item, err := s.deps.Entities.RetrievePimItemByID(ctx, tx, itemID)
		if err != nil {
			return err
		}
		return s.deps.Entities.UnlinkTag(ctx, tx, item, tagID)
	})
	if txErr != nil {
		return txErr
	}
	return s.writeResponse(f.Tag, NewFieldWriter())
}

// readInt64List decodes a count-prefixed list of int64 fields, the
// wire shape shared by every handler taking an item/tag id scope.
func readInt64List(r *FieldReader) ([]int64, error) {
	count, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, count)
	for i := uint32(0); i < count; i++ {
		id, err := r.ReadInt64()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
