// Package pipeline wires the per-camera tracking and smoothing stages to
// the cross-camera fusion tick loop. Each camera pipeline owns independent
// state and runs on its own worker; the orchestrator joins them at a
// per-tick barrier.
package pipeline

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sitewatch-data/compliance.report/internal/monitoring"
	"github.com/sitewatch-data/compliance.report/internal/ppe"
	"github.com/sitewatch-data/compliance.report/internal/ppe/fuse"
	"github.com/sitewatch-data/compliance.report/internal/ppe/temporal"
	"github.com/sitewatch-data/compliance.report/internal/ppe/tracks"
	"github.com/sitewatch-data/compliance.report/internal/ppe/zones"
)

// CameraConfig configures one camera's tracker+filter pipeline.
type CameraConfig struct {
	Camera             ppe.CameraID
	Tracker            tracks.Config
	BufferSize         int     // temporal filter window capacity
	ViolationThreshold float64 // temporal filter threshold [0,1]
	FrameWidth         float64 // pixels, for frame-relative position normalization
	FrameHeight        float64
	Zones              zones.Set // empty means monitor the whole frame
}

// Validate checks config ranges. Failures wrap ppe.ErrConfig.
func (c CameraConfig) Validate() error {
	if err := c.Tracker.Validate(); err != nil {
		return err
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer_size must be positive, got %d", ppe.ErrConfig, c.BufferSize)
	}
	if c.ViolationThreshold < 0 || c.ViolationThreshold > 1 {
		return fmt.Errorf("%w: violation_threshold %.3f outside [0,1]",
			ppe.ErrConfig, c.ViolationThreshold)
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("%w: frame dimensions must be positive, got %.0f×%.0f",
			ppe.ErrConfig, c.FrameWidth, c.FrameHeight)
	}
	if err := c.Zones.Validate(); err != nil {
		return err
	}
	return nil
}

// CameraPipeline is one camera's tracker plus its per-track temporal
// filters. Frame processing is single-threaded per camera; snapshot reads
// may come from the orchestrator goroutine and are lock-guarded.
type CameraPipeline struct {
	cfg      CameraConfig
	required []string

	mu      sync.Mutex
	tracker *tracks.Tracker
	filters map[int64]*temporal.Filter
}

// NewCameraPipeline builds a camera pipeline, failing fast on bad config.
func NewCameraPipeline(cfg CameraConfig, required []string) (*CameraPipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tracker, err := tracks.NewTracker(cfg.Camera, cfg.Tracker)
	if err != nil {
		return nil, err
	}
	return &CameraPipeline{
		cfg:      cfg,
		required: required,
		tracker:  tracker,
		filters:  make(map[int64]*temporal.Filter),
	}, nil
}

// Camera returns the camera this pipeline serves.
func (p *CameraPipeline) Camera() ppe.CameraID { return p.cfg.Camera }

// ProcessFrame consumes one frame's detections in arrival order: updates
// the tracker, discards filters whose tracks were removed, and pushes the
// frame's compliance flag into each confirmed track's filter.
func (p *CameraPipeline) ProcessFrame(detections []ppe.Detection, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := p.tracker.Update(detections, now)

	// Smoothing state dies with its track; nothing survives
	// re-identification under a new ID.
	for _, id := range p.tracker.RemovedIDs() {
		delete(p.filters, id)
	}

	for i := range active {
		track := &active[i]
		if track.State != tracks.StateConfirmed {
			continue
		}
		// Only matched frames carry an observation; coasting frames
		// leave the window untouched.
		if track.Misses != 0 {
			continue
		}
		// Tracks outside every detection zone keep their identity but
		// accrue no compliance observations.
		if !p.cfg.Zones.InScope(track.Box.CenterX(), track.Box.CenterY()) {
			continue
		}
		filter, ok := p.filters[track.ID]
		if !ok {
			// Capacity was validated at construction; a failure here
			// cannot happen.
			filter, _ = temporal.NewFilter(p.cfg.BufferSize, p.cfg.ViolationThreshold)
			p.filters[track.ID] = filter
		}
		filter.Push(!track.Last.Compliant(p.required))
	}
}

// ObserveViolation pushes a violation flag for one track and returns the
// updated verdict. Pushing against an unknown or removed track is the
// invariant-violation path: logged no-op returning ppe.ErrRemovedTrack,
// never a crash and never a write against another identity.
func (p *CameraPipeline) ObserveViolation(trackID int64, violation bool) (temporal.Verdict, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	filter, ok := p.filters[trackID]
	if !ok {
		monitoring.Logf("[pipeline cam=%d] %v: track %d", p.cfg.Camera, ppe.ErrRemovedTrack, trackID)
		return temporal.VerdictInsufficient, fmt.Errorf("%w: track %d", ppe.ErrRemovedTrack, trackID)
	}
	return filter.Push(violation), nil
}

// Snapshot returns this camera's confirmed tracks as matcher input views;
// tracks outside the camera's detection zones are left out. It waits for
// any in-flight frame to finish, so the views reflect a frame boundary,
// never a half-applied update.
func (p *CameraPipeline) Snapshot() []fuse.PersonView {
	p.mu.Lock()
	defer p.mu.Unlock()

	confirmed := p.tracker.ConfirmedTracks()
	views := make([]fuse.PersonView, 0, len(confirmed))
	for i := range confirmed {
		track := &confirmed[i]
		if !p.cfg.Zones.InScope(track.Box.CenterX(), track.Box.CenterY()) {
			continue
		}
		view := fuse.PersonView{
			Camera:  p.cfg.Camera,
			TrackID: track.ID,
			Position: [2]float64{
				clamp01(track.Box.CenterX() / p.cfg.FrameWidth),
				clamp01(track.Box.CenterY() / p.cfg.FrameHeight),
			},
			Appearance: track.Appearance,
			Items:      track.Last.Items,
		}
		if filter, ok := p.filters[track.ID]; ok {
			view.Verdict = filter.Verdict()
			view.VerdictConfidence = filter.Confidence()
		}
		views = append(views, view)
	}
	return views
}

// Tracks returns raw per-camera track state for side-by-side display.
func (p *CameraPipeline) Tracks() []tracks.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker.ActiveTracks()
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
