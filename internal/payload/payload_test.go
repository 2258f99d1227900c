package payload_test

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akonadi-go/akonadi/internal/driver"
	"github.com/akonadi-go/akonadi/internal/entities"
	"github.com/akonadi-go/akonadi/internal/payload"
	"github.com/akonadi-go/akonadi/internal/schema"
)

func newStore(t *testing.T) (*entities.Store, *driver.Driver) {
	t.Helper()
	d, err := driver.OpenEmbedded(":memory:", 8)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, schema.Migrate(context.Background(), d))
	return entities.New(d), d
}

func newItem(t *testing.T, es *entities.Store, d *driver.Driver) *entities.PimItem {
	t.Helper()
	ctx := context.Background()
	resID, err := es.InsertResource(ctx, d.DB(), &entities.Resource{Name: "res1"})
	require.NoError(t, err)
	colID, err := es.InsertCollection(ctx, d.DB(), &entities.Collection{
		Name: "Inbox", ResourceID: resID, Enabled: true, Referenced: true,
	})
	require.NoError(t, err)
	mt, err := es.InternMimeType(ctx, d.DB(), "message/rfc822")
	require.NoError(t, err)
	item := &entities.PimItem{CollectionID: colID, MimeTypeID: mt.ID}
	_, err = es.InsertPimItem(ctx, d.DB(), item)
	require.NoError(t, err)
	return item
}

// TestWriteAtThresholdStaysInline is spec §8 scenario 1: a part whose
// size exactly equals the threshold must store inline, not external.
func TestWriteAtThresholdStaysInline(t *testing.T) {
	es, d := newStore(t)
	item := newItem(t, es, d)
	st, err := payload.New(es, t.TempDir(), 4096)
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0x41}, 4096)
	p, err := st.Write(context.Background(), d.DB(), item, "PLD:RFC822", data)
	require.NoError(t, err)

	require.False(t, p.External)
	require.Equal(t, int64(4096), p.DataSize)
	require.Empty(t, p.FilePath)
}

// TestWriteAboveThresholdGoesExternal is the follow-on half of scenario
// 1: one byte over threshold switches the part to external storage and
// clears the previous inline data.
func TestWriteAboveThresholdGoesExternal(t *testing.T) {
	es, d := newStore(t)
	item := newItem(t, es, d)
	st, err := payload.New(es, t.TempDir(), 4096)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = st.Write(ctx, d.DB(), item, "PLD:RFC822", bytes.Repeat([]byte{0x41}, 4096))
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0x41}, 4097)
	p, err := st.Write(ctx, d.DB(), item, "PLD:RFC822", data)
	require.NoError(t, err)

	require.True(t, p.External)
	require.Equal(t, int64(4097), p.DataSize)
	require.NotEmpty(t, p.FilePath)
	require.Empty(t, p.Data)

	got, err := st.Read(ctx, d.DB(), item.ID, "PLD:RFC822")
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestRemoveDeletesExternalFile(t *testing.T) {
	es, d := newStore(t)
	item := newItem(t, es, d)
	st, err := payload.New(es, t.TempDir(), 16)
	require.NoError(t, err)

	ctx := context.Background()
	p, err := st.Write(ctx, d.DB(), item, "PLD:RFC822", bytes.Repeat([]byte{0x41}, 32))
	require.NoError(t, err)
	require.True(t, p.External)

	require.NoError(t, st.Remove(ctx, d.DB(), item.ID, "PLD:RFC822"))
	_, err = es.RetrievePartByName(ctx, d.DB(), item.ID, "PLD:RFC822")
	require.ErrorIs(t, err, entities.ErrNotFound)
	_, statErr := os.Stat(p.FilePath)
	require.True(t, os.IsNotExist(statErr))
}
