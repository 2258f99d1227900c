package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectorAddDoesNotDuplicateEntries(t *testing.T) {
	c := NewCollector()
	c.Add(Change{Kind: EntityItem, Operation: OpAdd, EntityID: 1})
	c.Add(Change{Kind: EntityCollection, Operation: OpAdd, EntityID: 2})

	require.Len(t, c.Drain(), 2)
}

func TestCollectorCoalescesModifyByChangedParts(t *testing.T) {
	c := NewCollector()
	c.Add(Change{Kind: EntityItem, Operation: OpModify, EntityID: 1, ChangedParts: []string{"PLD:DATA"}})
	c.Add(Change{Kind: EntityItem, Operation: OpModify, EntityID: 1, ChangedParts: []string{"FLAGS"}})
	c.Add(Change{Kind: EntityItem, Operation: OpAdd, EntityID: 2})

	changes := c.Drain()
	require.Len(t, changes, 2)
	require.ElementsMatch(t, []string{"PLD:DATA", "FLAGS"}, changes[0].ChangedParts)
}

func TestDrainResetsCollector(t *testing.T) {
	c := NewCollector()
	c.Add(Change{Kind: EntityItem, Operation: OpAdd, EntityID: 1})
	require.Len(t, c.Drain(), 1)
	require.Empty(t, c.Drain())
}

func TestWithCollectorRoundTripsThroughContext(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))

	c := NewCollector()
	ctx := WithCollector(context.Background(), c)
	require.Same(t, c, FromContext(ctx))
}

func TestHubPublishDeliversToLiveSubscribersOnly(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(2)

	h.Publish(context.Background(), nil)
	select {
	case <-sub.Batch():
		t.Fatal("expected no delivery for an empty change set")
	default:
	}

	changes := []Change{{Kind: EntityItem, Operation: OpAdd, EntityID: 1}}
	h.Publish(context.Background(), changes)

	select {
	case got := <-sub.Batch():
		require.Equal(t, changes, got)
	default:
		t.Fatal("expected a delivered batch")
	}

	sub.Unsubscribe()
	h.Publish(context.Background(), changes) // must not panic or block
}

func TestReplaySinceWithNoSpoolReturnsEmpty(t *testing.T) {
	h := NewHub()
	changes, seq, err := h.ReplaySince(context.Background(), 0)
	require.NoError(t, err)
	require.Nil(t, changes)
	require.Zero(t, seq)
}
