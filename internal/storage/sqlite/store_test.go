package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewatch-data/compliance.report/internal/ppe/fuse"
	"github.com/sitewatch-data/compliance.report/internal/ppe/pipeline"
)

func testEvent(id string, at time.Time) pipeline.ViolationEvent {
	return pipeline.ViolationEvent{
		ID:         id,
		OccurredAt: at,
		Members: []fuse.TrackRef{
			{Camera: 0, TrackID: 3},
			{Camera: 1, TrackID: 7},
		},
		MissingItems:    []string{"vest"},
		MatchConfidence: 0.82,
	}
}

func TestStore(t *testing.T) {
	t.Parallel()

	t.Run("record and read back", func(t *testing.T) {
		t.Parallel()
		store, err := Open(":memory:")
		require.NoError(t, err)
		defer store.Close()

		at := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
		require.NoError(t, store.RecordViolation(testEvent("ev-1", at)))

		events, err := store.RecentViolations(10)
		require.NoError(t, err)
		require.Len(t, events, 1)

		got := events[0]
		assert.Equal(t, "ev-1", got.ID)
		assert.True(t, got.OccurredAt.Equal(at))
		assert.Equal(t, []fuse.TrackRef{{Camera: 0, TrackID: 3}, {Camera: 1, TrackID: 7}}, got.Members)
		assert.Equal(t, []string{"vest"}, got.MissingItems)
		assert.InDelta(t, 0.82, got.MatchConfidence, 1e-9)
	})

	t.Run("recent violations come newest first", func(t *testing.T) {
		t.Parallel()
		store, err := Open(":memory:")
		require.NoError(t, err)
		defer store.Close()

		base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
		require.NoError(t, store.RecordViolation(testEvent("ev-old", base)))
		require.NoError(t, store.RecordViolation(testEvent("ev-mid", base.Add(time.Minute))))
		require.NoError(t, store.RecordViolation(testEvent("ev-new", base.Add(2*time.Minute))))

		events, err := store.RecentViolations(2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "ev-new", events[0].ID)
		assert.Equal(t, "ev-mid", events[1].ID)
	})

	t.Run("count since", func(t *testing.T) {
		t.Parallel()
		store, err := Open(":memory:")
		require.NoError(t, err)
		defer store.Close()

		base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
		require.NoError(t, store.RecordViolation(testEvent("ev-1", base)))
		require.NoError(t, store.RecordViolation(testEvent("ev-2", base.Add(time.Hour))))

		n, err := store.CountSince(base.Add(30 * time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = store.CountSince(base)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("duplicate event id fails", func(t *testing.T) {
		t.Parallel()
		store, err := Open(":memory:")
		require.NoError(t, err)
		defer store.Close()

		at := time.Now().UTC()
		require.NoError(t, store.RecordViolation(testEvent("ev-dup", at)))
		require.Error(t, store.RecordViolation(testEvent("ev-dup", at)))
	})

	t.Run("empty store lists nothing", func(t *testing.T) {
		t.Parallel()
		store, err := Open(":memory:")
		require.NoError(t, err)
		defer store.Close()

		events, err := store.RecentViolations(10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestMemberEncoding(t *testing.T) {
	t.Parallel()

	refs := []fuse.TrackRef{{Camera: 2, TrackID: 14}, {Camera: 0, TrackID: 1}}
	encoded := encodeMembers(refs)
	assert.Equal(t, "2:14|0:1", encoded)
	assert.Equal(t, refs, decodeMembers(encoded))

	assert.Nil(t, decodeMembers(""))
	assert.Empty(t, decodeMembers("garbage"))
}
