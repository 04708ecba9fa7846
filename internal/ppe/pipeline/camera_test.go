package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewatch-data/compliance.report/internal/ppe"
	"github.com/sitewatch-data/compliance.report/internal/ppe/temporal"
	"github.com/sitewatch-data/compliance.report/internal/ppe/tracks"
	"github.com/sitewatch-data/compliance.report/internal/ppe/zones"
)

func testCameraConfig(camera ppe.CameraID) CameraConfig {
	return CameraConfig{
		Camera: camera,
		Tracker: tracks.Config{
			MaxAge:          3,
			MinHits:         1,
			IoUThreshold:    0.3,
			MaxHistory:      10,
			AppearanceAlpha: 0.2,
		},
		BufferSize:         5,
		ViolationThreshold: 0.6,
		FrameWidth:         1920,
		FrameHeight:        1080,
	}
}

// personDet builds a valid detection with the given item readings.
func personDet(x1, y1, x2, y2 float64, items map[string]ppe.ItemReading) ppe.Detection {
	return ppe.Detection{
		Box:        ppe.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Keypoints:  []ppe.Keypoint{{X: (x1 + x2) / 2, Y: (y1 + y2) / 2, Confidence: 0.9}},
		Items:      items,
		Confidence: 0.9,
	}
}

func compliantItems() map[string]ppe.ItemReading {
	return map[string]ppe.ItemReading{
		"helmet": {Detected: true, Confidence: 0.9},
		"vest":   {Detected: true, Confidence: 0.8},
	}
}

func noVestItems() map[string]ppe.ItemReading {
	return map[string]ppe.ItemReading{
		"helmet": {Detected: true, Confidence: 0.9},
		"vest":   {Detected: false, Confidence: 0.1},
	}
}

// ---------------------------------------------------------------------------
// CameraPipeline
// ---------------------------------------------------------------------------

func TestCameraPipeline(t *testing.T) {
	t.Parallel()
	required := []string{"helmet", "vest"}

	t.Run("rejects bad config", func(t *testing.T) {
		t.Parallel()
		cfg := testCameraConfig(0)
		cfg.BufferSize = 0
		_, err := NewCameraPipeline(cfg, required)
		require.ErrorIs(t, err, ppe.ErrConfig)

		cfg = testCameraConfig(0)
		cfg.FrameWidth = 0
		_, err = NewCameraPipeline(cfg, required)
		require.ErrorIs(t, err, ppe.ErrConfig)
	})

	t.Run("snapshot exposes normalized position and verdict", func(t *testing.T) {
		t.Parallel()
		p, err := NewCameraPipeline(testCameraConfig(0), required)
		require.NoError(t, err)
		now := time.Now()

		// Box centered at (960, 540): the middle of the frame.
		for i := 0; i < 5; i++ {
			p.ProcessFrame([]ppe.Detection{personDet(910, 440, 1010, 640, noVestItems())}, now)
			now = now.Add(33 * time.Millisecond)
		}

		views := p.Snapshot()
		require.Len(t, views, 1)
		assert.Equal(t, ppe.CameraID(0), views[0].Camera)
		assert.InDelta(t, 0.5, views[0].Position[0], 1e-9)
		assert.InDelta(t, 0.5, views[0].Position[1], 1e-9)
		assert.Equal(t, temporal.VerdictViolation, views[0].Verdict)
		assert.InDelta(t, 1.0, views[0].VerdictConfidence, 1e-9)
	})

	t.Run("unconfirmed tracks are not snapshotted", func(t *testing.T) {
		t.Parallel()
		cfg := testCameraConfig(0)
		cfg.Tracker.MinHits = 3
		p, err := NewCameraPipeline(cfg, required)
		require.NoError(t, err)

		p.ProcessFrame([]ppe.Detection{personDet(910, 440, 1010, 640, compliantItems())}, time.Now())
		assert.Empty(t, p.Snapshot())
		assert.Len(t, p.Tracks(), 1) // raw state still shows the tentative track
	})

	t.Run("filter state dies with its track", func(t *testing.T) {
		t.Parallel()
		cfg := testCameraConfig(0)
		cfg.Tracker.MaxAge = 1
		p, err := NewCameraPipeline(cfg, required)
		require.NoError(t, err)
		now := time.Now()

		p.ProcessFrame([]ppe.Detection{personDet(910, 440, 1010, 640, noVestItems())}, now)
		views := p.Snapshot()
		require.Len(t, views, 1)
		trackID := views[0].TrackID

		// Age the track out.
		for i := 0; i < 3; i++ {
			now = now.Add(33 * time.Millisecond)
			p.ProcessFrame(nil, now)
		}
		assert.Empty(t, p.Snapshot())

		_, err = p.ObserveViolation(trackID, true)
		require.ErrorIs(t, err, ppe.ErrRemovedTrack)
	})

	t.Run("coasting frames leave the window untouched", func(t *testing.T) {
		t.Parallel()
		p, err := NewCameraPipeline(testCameraConfig(0), required)
		require.NoError(t, err)
		now := time.Now()

		p.ProcessFrame([]ppe.Detection{personDet(910, 440, 1010, 640, noVestItems())}, now)
		now = now.Add(33 * time.Millisecond)
		p.ProcessFrame(nil, now) // missed frame: no observation pushed
		now = now.Add(33 * time.Millisecond)
		p.ProcessFrame([]ppe.Detection{personDet(910, 440, 1010, 640, noVestItems())}, now)

		views := p.Snapshot()
		require.Len(t, views, 1)
		// Two observations, not three.
		assert.Equal(t, temporal.VerdictViolation, views[0].Verdict)
		assert.InDelta(t, 2.0/5.0, views[0].VerdictConfidence, 1e-9)
	})

	t.Run("detection zones scope compliance to the polygon", func(t *testing.T) {
		t.Parallel()
		cfg := testCameraConfig(0)
		// Only the left half of the frame is monitored.
		cfg.Zones = zones.Set{{
			Name:   "left-half",
			Points: [][2]float64{{0, 0}, {960, 0}, {960, 1080}, {0, 1080}},
		}}
		p, err := NewCameraPipeline(cfg, required)
		require.NoError(t, err)
		now := time.Now()

		// One person inside the zone, one outside; both lose their vest.
		inside := personDet(400, 440, 500, 640, noVestItems())
		outside := personDet(1400, 440, 1500, 640, noVestItems())
		for i := 0; i < 5; i++ {
			p.ProcessFrame([]ppe.Detection{inside, outside}, now)
			now = now.Add(33 * time.Millisecond)
		}

		views := p.Snapshot()
		require.Len(t, views, 1, "out-of-zone track excluded from fusion input")
		assert.InDelta(t, 450.0/1920.0, views[0].Position[0], 1e-9)
		assert.Equal(t, temporal.VerdictViolation, views[0].Verdict)

		// Both identities survive; only compliance evaluation is scoped.
		assert.Len(t, p.Tracks(), 2)
	})

	t.Run("zone config is validated at construction", func(t *testing.T) {
		t.Parallel()
		cfg := testCameraConfig(0)
		cfg.Zones = zones.Set{{Name: "degenerate", Points: [][2]float64{{0, 0}, {1, 1}}}}
		_, err := NewCameraPipeline(cfg, required)
		require.ErrorIs(t, err, ppe.ErrConfig)
	})

	t.Run("observe violation feeds the filter directly", func(t *testing.T) {
		t.Parallel()
		p, err := NewCameraPipeline(testCameraConfig(0), required)
		require.NoError(t, err)

		p.ProcessFrame([]ppe.Detection{personDet(910, 440, 1010, 640, compliantItems())}, time.Now())
		views := p.Snapshot()
		require.Len(t, views, 1)

		verdict, err := p.ObserveViolation(views[0].TrackID, false)
		require.NoError(t, err)
		assert.Equal(t, temporal.VerdictCompliant, verdict)
	})
}
