// Package fuse correlates confirmed tracks across camera streams into
// matched groups and merges each group's per-item readings into one fused
// compliance record. Matching is recomputed from scratch every fusion tick
// from that tick's snapshot; no cross-tick graph state is kept.
package fuse

import (
	"github.com/sitewatch-data/compliance.report/internal/ppe"
	"github.com/sitewatch-data/compliance.report/internal/ppe/temporal"
)

// TrackRef names one per-camera track.
type TrackRef struct {
	Camera  ppe.CameraID `json:"camera"`
	TrackID int64        `json:"track_id"`
}

// PersonView is one confirmed track's state at a fusion tick, as handed to
// the matcher by its camera pipeline. Position is the frame-relative
// normalized box center in [0,1]² — the documented spatial approximation
// for cameras without joint calibration.
type PersonView struct {
	Camera     ppe.CameraID
	TrackID    int64
	Position   [2]float64
	Appearance []float64
	Items      map[string]ppe.ItemReading
	Verdict    temporal.Verdict
	// VerdictConfidence is the temporal filter's confidence in Verdict.
	VerdictConfidence float64
}

// Ref returns the view's track reference.
func (v PersonView) Ref() TrackRef {
	return TrackRef{Camera: v.Camera, TrackID: v.TrackID}
}

// MatchedGroup is the set of cross-camera tracks judged to be one physical
// person at one fusion tick. A group never holds two tracks from the same
// camera. Confidence is the minimum pairwise link score (weakest link);
// camera-only singletons carry zero confidence and the CameraOnly tag.
type MatchedGroup struct {
	Members    []TrackRef `json:"members"`
	Confidence float64    `json:"confidence"`
	CameraOnly bool       `json:"camera_only"`
}
