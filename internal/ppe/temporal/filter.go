// Package temporal smooths noisy per-frame compliance signals into stable
// verdicts. One filter exists per confirmed track and is discarded when the
// track is removed; no smoothing state survives re-identification.
package temporal

import (
	"fmt"
	"math"

	"github.com/sitewatch-data/compliance.report/internal/ppe"
)

// Verdict is the smoothed compliance result for one track.
type Verdict int

const (
	// VerdictInsufficient means the window holds no entries yet. Distinct
	// from both other verdicts so downstream consumers never flip state on
	// an empty buffer.
	VerdictInsufficient Verdict = iota
	VerdictCompliant
	VerdictViolation
)

// String implements fmt.Stringer.
func (v Verdict) String() string {
	switch v {
	case VerdictInsufficient:
		return "insufficient"
	case VerdictCompliant:
		return "compliant"
	case VerdictViolation:
		return "violation"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Filter is a fixed-capacity circular window of per-frame violation flags
// with a running true-count, so each push is O(1) with no rescans.
// Capacity is set at construction and immutable thereafter.
type Filter struct {
	buf       []bool
	head      int // next write position
	filled    int // entries currently held, ≤ len(buf)
	trueCount int
	threshold float64
}

// NewFilter builds a filter with the given window capacity and violation
// threshold. Failures wrap ppe.ErrConfig.
func NewFilter(bufferSize int, violationThreshold float64) (*Filter, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("%w: buffer_size must be positive, got %d",
			ppe.ErrConfig, bufferSize)
	}
	if violationThreshold < 0 || violationThreshold > 1 {
		return nil, fmt.Errorf("%w: violation_threshold %.3f outside [0,1]",
			ppe.ErrConfig, violationThreshold)
	}
	return &Filter{
		buf:       make([]bool, bufferSize),
		threshold: violationThreshold,
	}, nil
}

// Push records one frame's violation flag and returns the updated verdict.
func (f *Filter) Push(violation bool) Verdict {
	if f.filled == len(f.buf) {
		// Evict the oldest entry at the write position.
		if f.buf[f.head] {
			f.trueCount--
		}
	} else {
		f.filled++
	}
	f.buf[f.head] = violation
	if violation {
		f.trueCount++
	}
	f.head = (f.head + 1) % len(f.buf)
	return f.Verdict()
}

// Verdict returns the current smoothed verdict: violation iff the ratio of
// violating frames over the filled window meets the threshold. The boundary
// comparison is inclusive (≥).
func (f *Filter) Verdict() Verdict {
	if f.filled == 0 {
		return VerdictInsufficient
	}
	if f.Ratio() >= f.threshold {
		return VerdictViolation
	}
	return VerdictCompliant
}

// Ratio returns the fraction of violating frames in the filled window,
// or 0 when empty.
func (f *Filter) Ratio() float64 {
	if f.filled == 0 {
		return 0
	}
	return float64(f.trueCount) / float64(f.filled)
}

// Confidence scores the verdict in [0,1]: full-window unanimous history
// scores 1, an empty or evenly split window scores 0.
func (f *Filter) Confidence() float64 {
	if f.filled == 0 {
		return 0
	}
	fullness := float64(f.filled) / float64(len(f.buf))
	return fullness * math.Abs(f.Ratio()-0.5) * 2
}

// Filled returns the number of entries currently in the window.
func (f *Filter) Filled() int { return f.filled }

// Capacity returns the immutable window capacity.
func (f *Filter) Capacity() int { return len(f.buf) }
