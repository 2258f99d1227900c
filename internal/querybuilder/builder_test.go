package querybuilder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akonadi-go/akonadi/internal/driver"
)

func TestSelectWithJoinStrictnessAndWhere(t *testing.T) {
	d, err := driver.OpenEmbedded(":memory:", 8)
	require.NoError(t, err)
	defer d.Close()

	b := New(Select, "pim_item_table").
		Select("id", "collection_id").
		Join("collection_table", LeftJoin, Leaf("collection_table.id", OpEq, nil)).
		Join("collection_table", InnerJoin, Leaf("collection_table.resource_id", OpEq, 1)).
		Where(And(
			Leaf("collection_table.id", OpEq, 5),
			Or(Leaf("dirty", OpEq, true), IsNull("remote_id")),
		)).
		OrderBy("id", false).
		Limit(10)

	sqlText, args, err := b.SQL(d)
	require.NoError(t, err)
	require.Contains(t, sqlText, "INNER JOIN collection_table")
	require.NotContains(t, sqlText, "LEFT JOIN collection_table")
	require.Contains(t, sqlText, "ORDER BY id ASC")
	require.Contains(t, sqlText, "LIMIT 10")
	require.Contains(t, sqlText, "(dirty = ? OR remote_id IS NULL)")
	require.Equal(t, []any{nil, 1, 5, true}, args)
}

func TestInWithEmptySliceIsTautologyOrContradiction(t *testing.T) {
	d, err := driver.OpenEmbedded(":memory:", 8)
	require.NoError(t, err)
	defer d.Close()

	b := New(Select, "part_table").Where(In("id"))
	sqlText, args, err := b.SQL(d)
	require.NoError(t, err)
	require.Contains(t, sqlText, "1 = 0")
	require.Empty(t, args)

	b2 := New(Select, "part_table").Where(NotIn("id"))
	sqlText2, _, err := b2.SQL(d)
	require.NoError(t, err)
	require.Contains(t, sqlText2, "1 = 1")
}

func TestInsertAndUpdateBindOrder(t *testing.T) {
	d, err := driver.OpenEmbedded(":memory:", 8)
	require.NoError(t, err)
	defer d.Close()

	ins := New(Insert, "tag_table").Set("gid", "abc").Set("tag_type_id", 2)
	sqlText, args, err := ins.SQL(d)
	require.NoError(t, err)
	require.Equal(t, "INSERT INTO tag_table (gid, tag_type_id) VALUES (?, ?)", sqlText)
	require.Equal(t, []any{"abc", 2}, args)

	upd := New(Update, "tag_table").Set("gid", "xyz").Where(Leaf("id", OpEq, 7))
	sqlText2, args2, err := upd.SQL(d)
	require.NoError(t, err)
	require.Equal(t, "UPDATE tag_table SET gid = ? WHERE id = ?", sqlText2)
	require.Equal(t, []any{"xyz", 7}, args2)
}
