package fuse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewatch-data/compliance.report/internal/ppe"
)

func testMatcherConfig() MatcherConfig {
	return MatcherConfig{
		SpatialWeight:        0.6,
		AppearanceWeight:     0.4,
		MaxDistanceThreshold: 0.5,
	}
}

func view(cam ppe.CameraID, track int64, x, y float64, appearance ...float64) PersonView {
	return PersonView{
		Camera:     cam,
		TrackID:    track,
		Position:   [2]float64{x, y},
		Appearance: appearance,
	}
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestMatcherConfig(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		_, err := NewMatcher(testMatcherConfig())
		require.NoError(t, err)
	})

	t.Run("rejects negative weights", func(t *testing.T) {
		t.Parallel()
		cfg := testMatcherConfig()
		cfg.SpatialWeight = -1
		_, err := NewMatcher(cfg)
		require.ErrorIs(t, err, ppe.ErrConfig)
	})

	t.Run("rejects all-zero weights", func(t *testing.T) {
		t.Parallel()
		_, err := NewMatcher(MatcherConfig{MaxDistanceThreshold: 0.5})
		require.ErrorIs(t, err, ppe.ErrConfig)
	})

	t.Run("rejects out-of-range threshold", func(t *testing.T) {
		t.Parallel()
		cfg := testMatcherConfig()
		cfg.MaxDistanceThreshold = 1.5
		_, err := NewMatcher(cfg)
		require.ErrorIs(t, err, ppe.ErrConfig)
	})
}

// ---------------------------------------------------------------------------
// Similarity scoring
// ---------------------------------------------------------------------------

func TestSimilarityScoring(t *testing.T) {
	t.Parallel()

	t.Run("identical positions score full spatial similarity", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 1.0, spatialSimilarity([2]float64{0.5, 0.5}, [2]float64{0.5, 0.5}), 1e-12)
	})

	t.Run("opposite corners score zero", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 0.0, spatialSimilarity([2]float64{0, 0}, [2]float64{1, 1}), 1e-12)
	})

	t.Run("missing appearance is neutral", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 0.5, appearanceSimilarity(nil, []float64{1, 0}))
		assert.Equal(t, 0.5, appearanceSimilarity([]float64{1, 0}, nil))
		assert.Equal(t, 0.5, appearanceSimilarity([]float64{1}, []float64{1, 0}))
		assert.Equal(t, 0.5, appearanceSimilarity([]float64{0, 0}, []float64{1, 0}))
	})

	t.Run("aligned descriptors score one", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 1.0, appearanceSimilarity([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-12)
	})

	t.Run("opposed descriptors score zero", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 0.0, appearanceSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	})
}

// ---------------------------------------------------------------------------
// Match
// ---------------------------------------------------------------------------

func TestMatch(t *testing.T) {
	t.Parallel()

	t.Run("no views yields no groups", func(t *testing.T) {
		t.Parallel()
		m, err := NewMatcher(testMatcherConfig())
		require.NoError(t, err)
		assert.Empty(t, m.Match(nil))
	})

	t.Run("same position across cameras matches", func(t *testing.T) {
		t.Parallel()
		m, err := NewMatcher(testMatcherConfig())
		require.NoError(t, err)

		groups := m.Match([]PersonView{
			view(0, 1, 0.5, 0.5),
			view(1, 7, 0.5, 0.5),
		})
		require.Len(t, groups, 1)
		assert.Equal(t, []TrackRef{{Camera: 0, TrackID: 1}, {Camera: 1, TrackID: 7}}, groups[0].Members)
		assert.False(t, groups[0].CameraOnly)
		// Perfect spatial + neutral appearance: 0.6·1 + 0.4·0.5.
		assert.InDelta(t, 0.8, groups[0].Confidence, 1e-12)
	})

	t.Run("same camera never groups", func(t *testing.T) {
		t.Parallel()
		m, err := NewMatcher(testMatcherConfig())
		require.NoError(t, err)

		groups := m.Match([]PersonView{
			view(0, 1, 0.5, 0.5),
			view(0, 2, 0.5, 0.5),
		})
		require.Len(t, groups, 2)
		assert.True(t, groups[0].CameraOnly)
		assert.True(t, groups[1].CameraOnly)
	})

	t.Run("distant pair stays unmatched", func(t *testing.T) {
		t.Parallel()
		m, err := NewMatcher(testMatcherConfig())
		require.NoError(t, err)

		groups := m.Match([]PersonView{
			view(0, 1, 0.05, 0.05),
			view(1, 1, 0.95, 0.95),
		})
		require.Len(t, groups, 2)
		for _, g := range groups {
			assert.True(t, g.CameraOnly)
			assert.Zero(t, g.Confidence)
			assert.Len(t, g.Members, 1)
		}
	})

	t.Run("transitive chain spans three cameras", func(t *testing.T) {
		t.Parallel()
		m, err := NewMatcher(testMatcherConfig())
		require.NoError(t, err)

		groups := m.Match([]PersonView{
			view(0, 1, 0.50, 0.50),
			view(1, 2, 0.52, 0.50),
			view(2, 3, 0.54, 0.50),
		})
		require.Len(t, groups, 1)
		assert.Len(t, groups[0].Members, 3)
		assert.False(t, groups[0].CameraOnly)
	})

	t.Run("group confidence is the weakest link", func(t *testing.T) {
		t.Parallel()
		m, err := NewMatcher(MatcherConfig{
			SpatialWeight:        1,
			AppearanceWeight:     0,
			MaxDistanceThreshold: 1,
		})
		require.NoError(t, err)

		groups := m.Match([]PersonView{
			view(0, 1, 0.50, 0.50),
			view(1, 2, 0.50, 0.50), // perfect link to cam 0
			view(2, 3, 0.60, 0.50), // weaker link
		})
		require.Len(t, groups, 1)
		weak := spatialSimilarity([2]float64{0.50, 0.50}, [2]float64{0.60, 0.50})
		assert.InDelta(t, weak, groups[0].Confidence, 1e-12)
	})

	t.Run("camera conflict keeps the stronger link", func(t *testing.T) {
		t.Parallel()
		m, err := NewMatcher(MatcherConfig{
			SpatialWeight:        1,
			AppearanceWeight:     0,
			MaxDistanceThreshold: 1,
		})
		require.NoError(t, err)

		// Two cam-0 tracks both want the single cam-1 track; only the
		// nearer one may have it.
		groups := m.Match([]PersonView{
			view(0, 1, 0.50, 0.50),
			view(0, 2, 0.70, 0.50),
			view(1, 9, 0.52, 0.50),
		})
		require.Len(t, groups, 2)

		var matched, single int
		for _, g := range groups {
			if g.CameraOnly {
				single++
				assert.Equal(t, TrackRef{Camera: 0, TrackID: 2}, g.Members[0])
			} else {
				matched++
				assert.Equal(t, []TrackRef{{Camera: 0, TrackID: 1}, {Camera: 1, TrackID: 9}}, g.Members)
			}
		}
		assert.Equal(t, 1, matched)
		assert.Equal(t, 1, single)

		// No group may ever hold two tracks from one camera.
		for _, g := range groups {
			seen := map[ppe.CameraID]bool{}
			for _, ref := range g.Members {
				assert.False(t, seen[ref.Camera])
				seen[ref.Camera] = true
			}
		}
	})

	t.Run("output order is deterministic", func(t *testing.T) {
		t.Parallel()
		m, err := NewMatcher(testMatcherConfig())
		require.NoError(t, err)

		views := []PersonView{
			view(1, 4, 0.9, 0.9),
			view(0, 2, 0.1, 0.1),
			view(0, 1, 0.5, 0.5),
			view(1, 3, 0.5, 0.5),
		}
		first := m.Match(views)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, m.Match(views))
		}
		// Groups come out ordered by their first member.
		require.NotEmpty(t, first)
		for i := 1; i < len(first); i++ {
			prev, cur := first[i-1].Members[0], first[i].Members[0]
			if prev.Camera == cur.Camera {
				assert.Less(t, prev.TrackID, cur.TrackID)
			} else {
				assert.Less(t, prev.Camera, cur.Camera)
			}
		}
	})
}
