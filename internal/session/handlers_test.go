package session

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akonadi-go/akonadi/internal/driver"
	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/notify"
	"github.com/akonadi-go/akonadi/internal/payload"
	"github.com/akonadi-go/akonadi/internal/retriever"
	"github.com/akonadi-go/akonadi/internal/schema"
	"github.com/akonadi-go/akonadi/internal/search"
	"github.com/akonadi-go/akonadi/internal/txn"
)

// fakeDirectory has no reachable resources; fine for tests that never
// move items across resources.
type fakeDirectory struct{}

func (fakeDirectory) ClientFor(resourceID int64) (retriever.ResourceClient, error) {
	return nil, fmt.Errorf("session test: no resource client configured for %d", resourceID)
}

// testHarness drives a live Session over a net.Pipe, the way a real
// client would, so dispatch/state-machine/wire-encoding bugs show up
// the same as they would against an actual connection.
type testHarness struct {
	t   *testing.T
	r   *bufio.Reader
	w   *bufio.Writer
	es  *entities.Store
	d   *driver.Driver
	pl  *payload.Store
	tag uint64
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	d, err := driver.OpenEmbedded(":memory:", 8)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, schema.Migrate(context.Background(), d))

	es := entities.New(d)
	pl, err := payload.New(es, t.TempDir(), 4096)
	require.NoError(t, err)
	hub := notify.NewHub()
	txnMgr := txn.New(d, hub)
	retr := retriever.New(es, pl, fakeDirectory{}, time.Second)
	searchMgr := search.New(es)

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	sess := New(serverConn, Deps{
		Entities:  es,
		Payload:   pl,
		Txn:       txnMgr,
		Hub:       hub,
		Retriever: retr,
		Search:    searchMgr,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sess.Run(ctx)

	h := &testHarness{
		t:  t,
		r:  bufio.NewReader(clientConn),
		w:  bufio.NewWriter(clientConn),
		es: es,
		d:  d,
		pl: pl,
	}
	h.handshake()
	return h
}

func (h *testHarness) send(kind CommandKind, body []byte) Frame {
	h.t.Helper()
	h.tag++
	require.NoError(h.t, WriteFrame(h.w, h.tag, kind, body))
	f, err := ReadFrame(h.r)
	require.NoError(h.t, err)
	require.Equal(h.t, h.tag, f.Tag)
	return f
}

func (h *testHarness) handshake() {
	h.t.Helper()
	f := h.send(CmdHello, NewFieldWriter().WriteUint32(ProtocolVersion).Bytes())
	require.Equal(h.t, CmdResponse, f.Kind)

	clientID := "test-client"
	f = h.send(CmdLogin, NewFieldWriter().WriteString(&clientID).Bytes())
	require.Equal(h.t, CmdResponse, f.Kind)
}

func (h *testHarness) selectCollection(colID int64) {
	h.t.Helper()
	f := h.send(CmdSelect, NewFieldWriter().WriteInt64(colID).Bytes())
	require.Equal(h.t, CmdResponse, f.Kind)
}

func (h *testHarness) newResourceAndCollection(name string) (resID, colID int64) {
	h.t.Helper()
	ctx := context.Background()
	var err error
	resID, err = h.es.InsertResource(ctx, h.d.DB(), &entities.Resource{Name: name})
	require.NoError(h.t, err)
	colID, err = h.es.InsertCollection(ctx, h.d.DB(), &entities.Collection{
		Name: name, ResourceID: resID, Enabled: true, Referenced: true,
	})
	require.NoError(h.t, err)
	return resID, colID
}

func (h *testHarness) newItem(colID int64, remoteID string) *entities.PimItem {
	h.t.Helper()
	ctx := context.Background()
	mt, err := h.es.InternMimeType(ctx, h.d.DB(), "message/rfc822")
	require.NoError(h.t, err)
	item := &entities.PimItem{CollectionID: colID, MimeTypeID: mt.ID, RemoteID: remoteID}
	_, err = h.es.InsertPimItem(ctx, h.d.DB(), item)
	require.NoError(h.t, err)
	return item
}

// TestStoreItemRejectsStaleRevision is spec §8 scenario 4: a modify
// whose claimed revision no longer matches the row is rejected as
// Conflict, with no write.
func TestStoreItemRejectsStaleRevision(t *testing.T) {
	h := newTestHarness(t)
	_, colID := h.newResourceAndCollection("res1")
	h.selectCollection(colID)
	item := h.newItem(colID, "")

	body := NewFieldWriter().WriteInt64(item.ID).WriteInt64(0).WriteBytes([]byte("hello"), false).Bytes()
	f := h.send(CmdStoreItem, body)
	require.Equal(t, CmdResponse, f.Kind)

	body = NewFieldWriter().WriteInt64(item.ID).WriteInt64(0).WriteBytes([]byte("stale"), false).Bytes()
	f = h.send(CmdStoreItem, body)
	require.Equal(t, CmdConflict, f.Kind)

	got, err := h.es.RetrievePimItemByID(context.Background(), h.d.DB(), item.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Revision)
}

func TestStoreItemAcceptsMatchingRevision(t *testing.T) {
	h := newTestHarness(t)
	_, colID := h.newResourceAndCollection("res1")
	h.selectCollection(colID)
	item := h.newItem(colID, "")

	body := NewFieldWriter().WriteInt64(item.ID).WriteInt64(0).WriteBytes([]byte("hello"), false).Bytes()
	f := h.send(CmdStoreItem, body)
	require.Equal(t, CmdResponse, f.Kind)

	body = NewFieldWriter().WriteInt64(item.ID).WriteInt64(1).WriteBytes([]byte("v2"), false).Bytes()
	f = h.send(CmdStoreItem, body)
	require.Equal(t, CmdResponse, f.Kind)

	got, err := h.es.RetrievePimItemByID(context.Background(), h.d.DB(), item.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Revision)
}

// TestMoveItemsWithinSameResourceKeepsRemoteID covers the non-cross-
// resource half of spec §4.9 "Move items": the row is re-homed but the
// remote-id is only cleared on a cross-resource move.
func TestMoveItemsWithinSameResourceKeepsRemoteID(t *testing.T) {
	h := newTestHarness(t)
	resID, srcColID := h.newResourceAndCollection("res1")
	ctx := context.Background()
	destColID, err := h.es.InsertCollection(ctx, h.d.DB(), &entities.Collection{
		Name: "Archive", ResourceID: resID, Enabled: true, Referenced: true,
	})
	require.NoError(t, err)
	h.selectCollection(srcColID)
	item := h.newItem(srcColID, "remote-1")

	body := NewFieldWriter().WriteInt64(destColID).WriteUint32(1).WriteInt64(item.ID).Bytes()
	f := h.send(CmdMoveItem, body)
	require.Equal(t, CmdResponse, f.Kind)

	got, err := h.es.RetrievePimItemByID(ctx, h.d.DB(), item.ID)
	require.NoError(t, err)
	require.Equal(t, destColID, got.CollectionID)
	require.Equal(t, "remote-1", got.RemoteID)
}

// TestMoveItemsRejectsAlreadyInDestination covers the "ensure they are
// not already in destination" precondition.
func TestMoveItemsRejectsAlreadyInDestination(t *testing.T) {
	h := newTestHarness(t)
	_, colID := h.newResourceAndCollection("res1")
	h.selectCollection(colID)
	item := h.newItem(colID, "")

	body := NewFieldWriter().WriteInt64(colID).WriteUint32(1).WriteInt64(item.ID).Bytes()
	f := h.send(CmdMoveItem, body)
	require.Equal(t, CmdError, f.Kind)
}

// TestCopyItemsDuplicatesPartsWithFreshIdentity is spec §4.9 "Copy
// items": fresh id, empty remote-id, parts duplicated via the payload
// store.
func TestCopyItemsDuplicatesPartsWithFreshIdentity(t *testing.T) {
	h := newTestHarness(t)
	resID, srcColID := h.newResourceAndCollection("res1")
	ctx := context.Background()
	destColID, err := h.es.InsertCollection(ctx, h.d.DB(), &entities.Collection{
		Name: "Archive", ResourceID: resID, Enabled: true, Referenced: true,
	})
	require.NoError(t, err)
	h.selectCollection(srcColID)
	item := h.newItem(srcColID, "remote-1")
	_, err = h.pl.Write(ctx, h.d.DB(), item, "PLD:DATA", []byte("payload"))
	require.NoError(t, err)

	body := NewFieldWriter().WriteInt64(destColID).WriteUint32(1).WriteInt64(item.ID).Bytes()
	f := h.send(CmdCopyItem, body)
	require.Equal(t, CmdResponse, f.Kind)

	fr := NewFieldReader(f.Body)
	count, err := fr.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(1), count)
	newID, err := fr.ReadInt64()
	require.NoError(t, err)
	require.NotEqual(t, item.ID, newID)

	copied, err := h.es.RetrievePimItemByID(ctx, h.d.DB(), newID)
	require.NoError(t, err)
	require.Equal(t, destColID, copied.CollectionID)
	require.Empty(t, copied.RemoteID)

	data, err := h.pl.Read(ctx, h.d.DB(), newID, "PLD:DATA")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

// TestDeleteCollectionRemovesExternalPayloadFile is spec §4.9 "Delete
// collection": depth-first removal, including external payload files,
// not just cascaded rows.
func TestDeleteCollectionRemovesExternalPayloadFile(t *testing.T) {
	h := newTestHarness(t)
	_, colID := h.newResourceAndCollection("res1")
	ctx := context.Background()
	item := h.newItem(colID, "")

	p, err := h.pl.Write(ctx, h.d.DB(), item, "PLD:RFC822", bytes.Repeat([]byte{0x41}, 8192))
	require.NoError(t, err)
	require.True(t, p.External)
	_, statErr := os.Stat(p.FilePath)
	require.NoError(t, statErr)

	h.selectCollection(colID)
	body := NewFieldWriter().WriteInt64(colID).Bytes()
	f := h.send(CmdDeleteCollection, body)
	require.Equal(t, CmdResponse, f.Kind)

	_, statErr = os.Stat(p.FilePath)
	require.True(t, os.IsNotExist(statErr))

	_, err = h.es.RetrieveCollectionByID(ctx, h.d.DB(), colID)
	require.ErrorIs(t, err, entities.ErrNotFound)
}

// TestDeleteCollectionRecursesIntoChildren checks the depth-first walk
// reaches grandchildren before removing their ancestors.
func TestDeleteCollectionRecursesIntoChildren(t *testing.T) {
	h := newTestHarness(t)
	resID, rootID := h.newResourceAndCollection("res1")
	ctx := context.Background()
	childID, err := h.es.InsertCollection(ctx, h.d.DB(), &entities.Collection{
		Name: "child", ParentID: &rootID, ResourceID: resID, Enabled: true, Referenced: true,
	})
	require.NoError(t, err)
	childItem := h.newItem(childID, "")

	h.selectCollection(rootID)
	body := NewFieldWriter().WriteInt64(rootID).Bytes()
	f := h.send(CmdDeleteCollection, body)
	require.Equal(t, CmdResponse, f.Kind)

	_, err = h.es.RetrieveCollectionByID(ctx, h.d.DB(), childID)
	require.ErrorIs(t, err, entities.ErrNotFound)
	_, err = h.es.RetrievePimItemByID(ctx, h.d.DB(), childItem.ID)
	require.ErrorIs(t, err, entities.ErrNotFound)
}

// TestLinkAndUnlinkItemPreserveOtherTags checks that LinkItems/
// UnlinkItems add or remove one tag without disturbing the rest, as
// opposed to ModifyTags's full-set replace.
func TestLinkAndUnlinkItemPreserveOtherTags(t *testing.T) {
	h := newTestHarness(t)
	_, colID := h.newResourceAndCollection("res1")
	ctx := context.Background()
	h.selectCollection(colID)
	item := h.newItem(colID, "")

	tagType, err := h.es.InternTagType(ctx, h.d.DB(), "PLAIN")
	require.NoError(t, err)
	tagA := &entities.Tag{GID: "tag-a", TagTypeID: tagType.ID}
	_, err = h.es.InsertTag(ctx, h.d.DB(), tagA)
	require.NoError(t, err)
	tagB := &entities.Tag{GID: "tag-b", TagTypeID: tagType.ID}
	_, err = h.es.InsertTag(ctx, h.d.DB(), tagB)
	require.NoError(t, err)

	f := h.send(CmdLinkItem, NewFieldWriter().WriteInt64(item.ID).WriteInt64(tagA.ID).Bytes())
	require.Equal(t, CmdResponse, f.Kind)
	f = h.send(CmdLinkItem, NewFieldWriter().WriteInt64(item.ID).WriteInt64(tagB.ID).Bytes())
	require.Equal(t, CmdResponse, f.Kind)

	fresh, err := h.es.RetrievePimItemByID(ctx, h.d.DB(), item.ID)
	require.NoError(t, err)
	tags, err := h.es.RetrieveTags(ctx, h.d.DB(), fresh)
	require.NoError(t, err)
	require.Len(t, tags, 2)

	f = h.send(CmdUnlinkItem, NewFieldWriter().WriteInt64(item.ID).WriteInt64(tagA.ID).Bytes())
	require.Equal(t, CmdResponse, f.Kind)

	fresh, err = h.es.RetrievePimItemByID(ctx, h.d.DB(), item.ID)
	require.NoError(t, err)
	tags, err = h.es.RetrieveTags(ctx, h.d.DB(), fresh)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, tagB.ID, tags[0].ID)
}
