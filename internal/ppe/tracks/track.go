package tracks

import (
	"time"

	"github.com/sitewatch-data/compliance.report/internal/ppe"
)

// State is the lifecycle state of a track. Transitions only advance:
// Tentative → Confirmed → Lost → Removed. The one documented re-acquisition
// rule is Lost → Confirmed when a coasting confirmed track matches again
// before its miss budget runs out.
type State string

const (
	StateTentative State = "tentative" // new identity, awaiting min_hits confirmation
	StateConfirmed State = "confirmed" // stable identity with sufficient history
	StateLost      State = "lost"      // confirmed identity coasting through misses
	StateRemoved   State = "removed"   // miss budget exhausted, identity retired
)

// TrackPoint is one entry in a track's recent position history.
type TrackPoint struct {
	X, Y      float64
	Timestamp time.Time
}

// Track is a persistent per-camera person identity. IDs increase
// monotonically within a camera and are never reused while the tracker
// lives; each tracker owns its own generator, so there is no shared
// global counter across camera pipelines.
type Track struct {
	ID     int64
	Camera ppe.CameraID
	State  State

	// Consecutive-hit and consecutive-miss streaks. A matched frame
	// increments Hits and zeroes Misses; an unmatched frame does the
	// reverse.
	Hits   int
	Misses int

	FirstSeen time.Time
	LastSeen  time.Time

	// Box is the current (matched) or predicted (coasting) bounding box.
	Box ppe.BoundingBox

	// Last is the most recent detection matched to this track.
	Last ppe.Detection

	// Appearance is the exponentially smoothed appearance descriptor,
	// carried for cross-camera re-identification.
	Appearance []float64

	// History holds recent box centers, newest last, capped by config.
	History []TrackPoint

	// Per-frame box-center velocity in pixels, from the last two
	// matched observations. Used only for one-step prediction.
	velX, velY float64
}

// PredictedBox extrapolates the track's box one frame ahead using the
// last observed center velocity. A track with fewer than two observations
// predicts its current box unchanged.
func (t *Track) PredictedBox() ppe.BoundingBox {
	return ppe.BoundingBox{
		X1: t.Box.X1 + t.velX,
		Y1: t.Box.Y1 + t.velY,
		X2: t.Box.X2 + t.velX,
		Y2: t.Box.Y2 + t.velY,
	}
}

// Active reports whether the track still participates in association.
func (t *Track) Active() bool {
	return t.State != StateRemoved
}

// snapshot returns a copy safe to hand outside the tracker lock.
// History and Appearance are deep-copied; Last shares its maps with the
// tracker, which never mutates a stored detection after assignment.
func (t *Track) snapshot() Track {
	copied := *t
	if len(t.History) > 0 {
		copied.History = make([]TrackPoint, len(t.History))
		copy(copied.History, t.History)
	}
	if len(t.Appearance) > 0 {
		copied.Appearance = make([]float64, len(t.Appearance))
		copy(copied.Appearance, t.Appearance)
	}
	return copied
}
