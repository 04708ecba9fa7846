package ppe

import (
	"fmt"
	"time"
)

// CameraID identifies one camera stream. IDs are small integers assigned at
// pipeline construction and stable for the process lifetime.
type CameraID int

// BoundingBox is an axis-aligned box in pixel coordinates, corner form.
type BoundingBox struct {
	X1, Y1, X2, Y2 float64
}

// Width returns the box width in pixels.
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels.
func (b BoundingBox) Area() float64 { return b.Width() * b.Height() }

// CenterX returns the horizontal center of the box.
func (b BoundingBox) CenterX() float64 { return (b.X1 + b.X2) / 2 }

// CenterY returns the vertical center of the box.
func (b BoundingBox) CenterY() float64 { return (b.Y1 + b.Y2) / 2 }

// Valid reports whether the box has positive extent on both axes.
func (b BoundingBox) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// IoU computes the intersection-over-union overlap of two boxes in [0, 1].
func IoU(a, b BoundingBox) float64 {
	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Keypoint is a single pose keypoint in pixel coordinates with its
// detector confidence.
type Keypoint struct {
	X, Y       float64
	Confidence float64
}

// ItemReading is one frame's observation of one protective item on one
// person: whether the detector saw it and with what confidence.
type ItemReading struct {
	Detected   bool
	Confidence float64
}

// Detection is one frame's observation of one person from one camera.
// Items maps protective-item name (e.g. "helmet", "vest") to its reading.
// Appearance is an optional descriptor vector used for cross-camera
// re-identification; nil when the upstream detector does not provide one.
type Detection struct {
	Camera     CameraID
	FrameTime  time.Time
	Box        BoundingBox
	Keypoints  []Keypoint
	Items      map[string]ItemReading
	Appearance []float64
	Confidence float64
}

// Validate checks a detection for structural problems. A non-nil return
// wraps ErrInput; callers drop the detection and continue the frame.
func (d *Detection) Validate() error {
	if !d.Box.Valid() {
		return fmt.Errorf("%w: degenerate bounding box [%.1f %.1f %.1f %.1f]",
			ErrInput, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
	}
	if len(d.Keypoints) == 0 {
		return fmt.Errorf("%w: detection has no keypoints", ErrInput)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: person confidence %.3f outside [0,1]", ErrInput, d.Confidence)
	}
	for name, reading := range d.Items {
		if reading.Confidence < 0 || reading.Confidence > 1 {
			return fmt.Errorf("%w: item %q confidence %.3f outside [0,1]",
				ErrInput, name, reading.Confidence)
		}
	}
	return nil
}

// Compliant reports whether every required item was detected in this frame.
func (d *Detection) Compliant(required []string) bool {
	for _, name := range required {
		if !d.Items[name].Detected {
			return false
		}
	}
	return true
}

// MissingItems returns the required items not detected in this frame,
// preserving the order of required.
func (d *Detection) MissingItems(required []string) []string {
	var missing []string
	for _, name := range required {
		if !d.Items[name].Detected {
			missing = append(missing, name)
		}
	}
	return missing
}
