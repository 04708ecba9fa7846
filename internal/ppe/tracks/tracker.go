package tracks

import (
	"fmt"
	"sync"
	"time"

	"github.com/sitewatch-data/compliance.report/internal/monitoring"
	"github.com/sitewatch-data/compliance.report/internal/ppe"
)

// Config holds the per-camera tracker tuning parameters.
type Config struct {
	MaxAge          int     // consecutive misses after which a track is removed
	MinHits         int     // consecutive hits needed to confirm a tentative track
	IoUThreshold    float64 // minimum overlap for a detection/track pairing
	MaxHistory      int     // recent position trail length
	AppearanceAlpha float64 // EMA weight of the newest appearance descriptor [0,1]
}

// Validate checks config ranges. Failures wrap ppe.ErrConfig and are fatal
// at construction.
func (c Config) Validate() error {
	if c.MaxAge <= 0 {
		return fmt.Errorf("%w: max_age must be positive, got %d", ppe.ErrConfig, c.MaxAge)
	}
	if c.MinHits <= 0 {
		return fmt.Errorf("%w: min_hits must be positive, got %d", ppe.ErrConfig, c.MinHits)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("%w: iou_threshold %.3f outside [0,1]", ppe.ErrConfig, c.IoUThreshold)
	}
	if c.MaxHistory <= 0 {
		return fmt.Errorf("%w: max_history must be positive, got %d", ppe.ErrConfig, c.MaxHistory)
	}
	if c.AppearanceAlpha < 0 || c.AppearanceAlpha > 1 {
		return fmt.Errorf("%w: appearance_alpha %.3f outside [0,1]", ppe.ErrConfig, c.AppearanceAlpha)
	}
	return nil
}

// Tracker maintains persistent person identities for one camera. Callers
// feed it exactly one frame's detections at a time via Update, in arrival
// order; the tracker is never called concurrently for frame processing,
// but snapshot reads (ConfirmedTracks, ActiveTracks) may come from other
// goroutines and are guarded by the lock.
type Tracker struct {
	camera ppe.CameraID
	cfg    Config

	// tracks is kept sorted by ascending ID so the assignment solver's
	// column order — and therefore its tie-break — is the "lower track id
	// wins" rule.
	tracks []*Track
	nextID int64

	// removedLast holds the IDs retired by the most recent Update call,
	// so downstream per-track state (temporal filters) can be discarded.
	removedLast []int64

	mu sync.RWMutex
}

// NewTracker builds a tracker for one camera. The ID generator is owned by
// the tracker itself; no state is shared across cameras.
func NewTracker(camera ppe.CameraID, cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		camera: camera,
		cfg:    cfg,
		nextID: 1,
	}, nil
}

// Camera returns the camera this tracker serves.
func (t *Tracker) Camera() ppe.CameraID { return t.camera }

// Update consumes one frame's detections and advances every track by one
// frame. Malformed detections are dropped and logged, never reassigned.
// An empty detection list is not an error: every track simply ages by one
// miss. Returns snapshots of the tracks still active after the frame.
func (t *Tracker) Update(detections []ppe.Detection, now time.Time) []Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Drop malformed detections up front. Dropping is always preferred to
	// letting a bad box pull an identity onto the wrong person.
	valid := detections[:0:0]
	for i := range detections {
		if err := detections[i].Validate(); err != nil {
			monitoring.Logf("[tracker cam=%d] dropping detection: %v", t.camera, err)
			continue
		}
		valid = append(valid, detections[i])
	}

	assign := t.associate(valid)

	matched := make(map[int64]bool, len(valid))
	for di, ti := range assign {
		if ti < 0 {
			continue
		}
		track := t.tracks[ti]
		t.applyMatch(track, valid[di], now)
		matched[track.ID] = true
	}

	// Age unmatched tracks: first miss past Confirmed demotes to Lost;
	// a miss streak beyond MaxAge retires the identity.
	t.removedLast = t.removedLast[:0]
	kept := t.tracks[:0]
	for _, track := range t.tracks {
		if !matched[track.ID] {
			track.Misses++
			track.Hits = 0
			if track.State == StateConfirmed {
				track.State = StateLost
			}
			if track.Misses > t.cfg.MaxAge {
				track.State = StateRemoved
				t.removedLast = append(t.removedLast, track.ID)
				continue
			}
			// Coast the box forward so re-association targets the
			// predicted position, not the stale one.
			track.Box = track.PredictedBox()
		}
		kept = append(kept, track)
	}
	t.tracks = kept

	// Spawn tentative tracks from unmatched detections.
	for di, ti := range assign {
		if ti < 0 {
			t.spawn(valid[di], now)
		}
	}

	out := make([]Track, 0, len(t.tracks))
	for _, track := range t.tracks {
		out = append(out, track.snapshot())
	}
	return out
}

// associate builds the 1−IoU cost matrix between this frame's detections
// and the predicted boxes of the current tracks, gates pairings below the
// overlap threshold, and solves the assignment. Returns assign[i] = track
// index for detection i, or -1.
func (t *Tracker) associate(detections []ppe.Detection) []int {
	if len(detections) == 0 || len(t.tracks) == 0 {
		assign := make([]int, len(detections))
		for i := range assign {
			assign[i] = -1
		}
		return assign
	}

	cost := make([][]float64, len(detections))
	for di := range detections {
		cost[di] = make([]float64, len(t.tracks))
		for ti, track := range t.tracks {
			overlap := ppe.IoU(detections[di].Box, track.PredictedBox())
			if overlap < t.cfg.IoUThreshold {
				cost[di][ti] = forbiddenCost
			} else {
				cost[di][ti] = 1 - overlap
			}
		}
	}
	return hungarianAssign(cost)
}

// applyMatch folds a matched detection into a track: box, velocity,
// appearance EMA, history, hit streak, and lifecycle promotion.
func (t *Tracker) applyMatch(track *Track, det ppe.Detection, now time.Time) {
	prevCX, prevCY := track.Box.CenterX(), track.Box.CenterY()
	track.velX = det.Box.CenterX() - prevCX
	track.velY = det.Box.CenterY() - prevCY

	track.Box = det.Box
	track.Last = det
	track.LastSeen = now
	track.Hits++
	track.Misses = 0

	if len(det.Appearance) > 0 {
		if len(track.Appearance) != len(det.Appearance) {
			track.Appearance = append([]float64(nil), det.Appearance...)
		} else {
			a := t.cfg.AppearanceAlpha
			for i := range track.Appearance {
				track.Appearance[i] = (1-a)*track.Appearance[i] + a*det.Appearance[i]
			}
		}
	}

	track.History = append(track.History, TrackPoint{
		X:         det.Box.CenterX(),
		Y:         det.Box.CenterY(),
		Timestamp: now,
	})
	if len(track.History) > t.cfg.MaxHistory {
		track.History = track.History[len(track.History)-t.cfg.MaxHistory:]
	}

	switch track.State {
	case StateTentative:
		if track.Hits >= t.cfg.MinHits {
			track.State = StateConfirmed
		}
	case StateLost:
		// Re-acquisition: a coasting confirmed identity that matches
		// again resumes Confirmed without a new ID.
		track.State = StateConfirmed
	case StateRemoved:
		// Assignment never offers removed tracks; reaching here means a
		// bookkeeping bug. Warn and leave the track untouched.
		monitoring.Logf("[tracker cam=%d] %v: track %d matched after removal",
			t.camera, ppe.ErrRemovedTrack, track.ID)
	}
}

// spawn creates a new tentative track from an unmatched detection.
func (t *Tracker) spawn(det ppe.Detection, now time.Time) {
	track := &Track{
		ID:        t.nextID,
		Camera:    t.camera,
		State:     StateTentative,
		Hits:      1,
		FirstSeen: now,
		LastSeen:  now,
		Box:       det.Box,
		Last:      det,
		History: []TrackPoint{{
			X:         det.Box.CenterX(),
			Y:         det.Box.CenterY(),
			Timestamp: now,
		}},
	}
	if len(det.Appearance) > 0 {
		track.Appearance = append([]float64(nil), det.Appearance...)
	}
	if t.cfg.MinHits <= 1 {
		track.State = StateConfirmed
	}
	t.nextID++
	t.tracks = append(t.tracks, track)
}

// RemovedIDs returns the track IDs retired by the most recent Update.
func (t *Tracker) RemovedIDs() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int64, len(t.removedLast))
	copy(out, t.removedLast)
	return out
}

// ConfirmedTracks returns snapshots of the tracks currently in the
// Confirmed state. Safe to call from any goroutine.
func (t *Tracker) ConfirmedTracks() []Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Track
	for _, track := range t.tracks {
		if track.State == StateConfirmed {
			out = append(out, track.snapshot())
		}
	}
	return out
}

// ActiveTracks returns snapshots of every non-removed track, for
// side-by-side display of raw per-camera state.
func (t *Tracker) ActiveTracks() []Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Track, 0, len(t.tracks))
	for _, track := range t.tracks {
		out = append(out, track.snapshot())
	}
	return out
}

// Counts returns the number of tracks per lifecycle state.
func (t *Tracker) Counts() (tentative, confirmed, lost int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, track := range t.tracks {
		switch track.State {
		case StateTentative:
			tentative++
		case StateConfirmed:
			confirmed++
		case StateLost:
			lost++
		}
	}
	return
}
