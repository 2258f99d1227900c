package entities_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akonadi-go/akonadi/internal/driver"
	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/notify"
	"github.com/akonadi-go/akonadi/internal/schema"
	"github.com/akonadi-go/akonadi/internal/txn"
)

func newStore(t *testing.T) (*entities.Store, *driver.Driver) {
	t.Helper()
	d, err := driver.OpenEmbedded(":memory:", 8)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, schema.Migrate(context.Background(), d))
	return entities.New(d), d
}

func TestInsertPimItemGeneratesGIDWhenEmpty(t *testing.T) {
	es, d := newStore(t)
	ctx := context.Background()

	resID, err := es.InsertResource(ctx, d.DB(), &entities.Resource{Name: "res1"})
	require.NoError(t, err)

	colID, err := es.InsertCollection(ctx, d.DB(), &entities.Collection{
		Name: "Inbox", ResourceID: resID, Enabled: true, Referenced: true,
	})
	require.NoError(t, err)

	mt, err := es.InternMimeType(ctx, d.DB(), "message/rfc822")
	require.NoError(t, err)

	item := &entities.PimItem{CollectionID: colID, MimeTypeID: mt.ID, RemoteID: "r1"}
	id, err := es.InsertPimItem(ctx, d.DB(), item)
	require.NoError(t, err)
	require.NotZero(t, id)
	require.NotEmpty(t, item.GID)

	fetched, err := es.RetrievePimItemByID(ctx, d.DB(), id)
	require.NoError(t, err)
	require.Equal(t, item.GID, fetched.GID)
}

func TestInsertPimItemKeepsCallerSuppliedGID(t *testing.T) {
	es, d := newStore(t)
	ctx := context.Background()

	resID, err := es.InsertResource(ctx, d.DB(), &entities.Resource{Name: "res1"})
	require.NoError(t, err)
	colID, err := es.InsertCollection(ctx, d.DB(), &entities.Collection{Name: "Inbox", ResourceID: resID})
	require.NoError(t, err)
	mt, err := es.InternMimeType(ctx, d.DB(), "message/rfc822")
	require.NoError(t, err)

	item := &entities.PimItem{CollectionID: colID, MimeTypeID: mt.ID, GID: "caller-gid"}
	_, err = es.InsertPimItem(ctx, d.DB(), item)
	require.NoError(t, err)
	require.Equal(t, "caller-gid", item.GID)
}

func TestSetFlagsInternsByNameAndReplacesSet(t *testing.T) {
	es, d := newStore(t)
	ctx := context.Background()

	resID, _ := es.InsertResource(ctx, d.DB(), &entities.Resource{Name: "res1"})
	colID, _ := es.InsertCollection(ctx, d.DB(), &entities.Collection{Name: "Inbox", ResourceID: resID})
	mt, _ := es.InternMimeType(ctx, d.DB(), "message/rfc822")
	item := &entities.PimItem{CollectionID: colID, MimeTypeID: mt.ID}
	_, err := es.InsertPimItem(ctx, d.DB(), item)
	require.NoError(t, err)

	require.NoError(t, es.SetFlags(ctx, d.DB(), item, []string{"\\Seen", "\\Flagged"}))
	flags, err := es.RetrieveFlags(ctx, d.DB(), item)
	require.NoError(t, err)
	require.Len(t, flags, 2)

	require.NoError(t, es.SetFlags(ctx, d.DB(), item, []string{"\\Seen"}))
	flags, err = es.RetrieveFlags(ctx, d.DB(), item)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	require.Equal(t, "\\Seen", flags[0].Name)
}

func TestTransactionRollbackDiscardsNotifications(t *testing.T) {
	es, d := newStore(t)
	ctx := context.Background()

	hub := notify.NewHub()
	sub := hub.Subscribe(4)
	mgr := txn.New(d, hub)

	resID, err := es.InsertResource(ctx, d.DB(), &entities.Resource{Name: "res1"})
	require.NoError(t, err)

	forceErr := fmt.Errorf("forced rollback")
	err = mgr.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := es.InsertCollection(ctx, tx, &entities.Collection{Name: "Drafts", ResourceID: resID}); err != nil {
			return err
		}
		return forceErr
	})
	require.ErrorIs(t, err, forceErr)

	select {
	case batch := <-sub.Batch():
		t.Fatalf("expected no published notification after rollback, got %v", batch)
	default:
	}
}

func TestTransactionCommitPublishesNotification(t *testing.T) {
	es, d := newStore(t)
	ctx := context.Background()

	hub := notify.NewHub()
	sub := hub.Subscribe(4)
	mgr := txn.New(d, hub)

	resID, err := es.InsertResource(ctx, d.DB(), &entities.Resource{Name: "res1"})
	require.NoError(t, err)

	err = mgr.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := es.InsertCollection(ctx, tx, &entities.Collection{Name: "Drafts", ResourceID: resID})
		return err
	})
	require.NoError(t, err)

	select {
	case batch := <-sub.Batch():
		require.NotEmpty(t, batch)
	default:
		t.Fatal("expected a published notification batch after commit")
	}
}
