package fuse

import (
	"fmt"
	"sort"
	"time"

	"github.com/sitewatch-data/compliance.report/internal/ppe"
	"github.com/sitewatch-data/compliance.report/internal/ppe/temporal"
)

// StrategyKind enumerates the closed set of fusion strategies. Every
// dispatch site switches exhaustively on the kind; adding a strategy means
// the compiler walks you to each call site.
type StrategyKind int

const (
	// StrategyOr marks an item detected when any contributing camera saw
	// it; confidence is the maximum contribution.
	StrategyOr StrategyKind = iota
	// StrategyAnd marks an item detected only when every contributing
	// camera saw it; confidence is the minimum contribution.
	StrategyAnd
	// StrategyWeighted marks an item detected when the weighted sum of
	// contributing confidences exceeds the decision threshold.
	StrategyWeighted
)

// String implements fmt.Stringer.
func (k StrategyKind) String() string {
	switch k {
	case StrategyOr:
		return "or"
	case StrategyAnd:
		return "and"
	case StrategyWeighted:
		return "weighted"
	default:
		return fmt.Sprintf("strategy(%d)", int(k))
	}
}

// Strategy is the fusion policy with its parameters attached. Weights and
// DecisionThreshold apply to StrategyWeighted only; a nil Weights map means
// uniform camera weights.
type Strategy struct {
	Kind              StrategyKind
	Weights           map[ppe.CameraID]float64
	DecisionThreshold float64
}

// ParseStrategy converts the configuration string form into the tagged
// variant, failing fast on unknown names or bad parameters.
func ParseStrategy(name string, weights map[ppe.CameraID]float64, decisionThreshold float64) (Strategy, error) {
	if decisionThreshold < 0 || decisionThreshold > 1 {
		return Strategy{}, fmt.Errorf("%w: decision_threshold %.3f outside [0,1]",
			ppe.ErrConfig, decisionThreshold)
	}
	for cam, w := range weights {
		if w < 0 {
			return Strategy{}, fmt.Errorf("%w: camera %d fusion weight %.3f is negative",
				ppe.ErrConfig, cam, w)
		}
	}
	switch name {
	case "or":
		return Strategy{Kind: StrategyOr}, nil
	case "and":
		return Strategy{Kind: StrategyAnd}, nil
	case "weighted":
		return Strategy{Kind: StrategyWeighted, Weights: weights, DecisionThreshold: decisionThreshold}, nil
	default:
		return Strategy{}, fmt.Errorf("%w: unknown fusion strategy %q", ppe.ErrConfig, name)
	}
}

// CameraItemReading is one camera's contribution to a fused item.
type CameraItemReading struct {
	Camera     ppe.CameraID `json:"camera"`
	Detected   bool         `json:"detected"`
	Confidence float64      `json:"confidence"`
}

// FusedItem is the merged verdict for one protective item, with the
// per-camera breakdown retained for display and audit.
type FusedItem struct {
	Detected   bool                `json:"detected"`
	Confidence float64             `json:"confidence"`
	PerCamera  []CameraItemReading `json:"per_camera"`
}

// FusedRecord is one matched group's fused compliance verdict at one
// fusion tick. Values are immutable once published.
type FusedRecord struct {
	Group        MatchedGroup         `json:"group"`
	Items        map[string]FusedItem `json:"items"`
	MissingItems []string             `json:"missing_items,omitempty"`
	Violation    bool                 `json:"violation"`
	Timestamp    time.Time            `json:"timestamp"`
}

// Fuse merges a matched group's per-item readings under the given strategy.
// It is a pure function of its inputs: no hidden state, no side effects.
// views must contain an entry for every group member; cameras absent from
// the group contribute nothing.
//
// Items and MissingItems carry the instantaneous per-item detail of the
// tick. The published Violation flag fuses the members' smoothed verdicts
// under the same strategy, so one flicker frame at the tick boundary never
// flips the record while the temporal windows disagree.
func Fuse(group MatchedGroup, views map[TrackRef]PersonView, required []string, strategy Strategy, now time.Time) FusedRecord {
	record := FusedRecord{
		Group:     group,
		Items:     make(map[string]FusedItem),
		Timestamp: now,
	}

	for _, name := range itemNames(group, views, required) {
		record.Items[name] = fuseItem(name, group, views, strategy)
	}

	for _, name := range required {
		if !record.Items[name].Detected {
			record.MissingItems = append(record.MissingItems, name)
		}
	}
	record.Violation = fuseVerdicts(group, views, strategy)
	return record
}

// fuseVerdicts combines the group's per-camera smoothed verdicts under the
// strategy. A camera whose window holds no observations yet does not
// contribute; a group with no contributing cameras is never flagged.
func fuseVerdicts(group MatchedGroup, views map[TrackRef]PersonView, strategy Strategy) bool {
	type vote struct {
		camera    ppe.CameraID
		violating bool
	}
	var votes []vote
	for _, ref := range group.Members {
		view, ok := views[ref]
		if !ok || view.Verdict == temporal.VerdictInsufficient {
			continue
		}
		votes = append(votes, vote{
			camera:    ref.Camera,
			violating: view.Verdict == temporal.VerdictViolation,
		})
	}
	if len(votes) == 0 {
		return false
	}

	switch strategy.Kind {
	case StrategyOr:
		// Any camera confident of compliance clears the group.
		for _, v := range votes {
			if !v.violating {
				return false
			}
		}
		return true

	case StrategyAnd:
		for _, v := range votes {
			if v.violating {
				return true
			}
		}
		return false

	case StrategyWeighted:
		var sum, totalWeight float64
		for _, v := range votes {
			w := 1.0
			if strategy.Weights != nil {
				if cw, ok := strategy.Weights[v.camera]; ok {
					w = cw
				}
			}
			totalWeight += w
			if v.violating {
				sum += w
			}
		}
		if totalWeight > 0 {
			sum /= totalWeight
		}
		return sum > strategy.DecisionThreshold
	}
	return false
}

// itemNames returns the union of required items and every item any member
// observed, required items first, the rest sorted for determinism.
func itemNames(group MatchedGroup, views map[TrackRef]PersonView, required []string) []string {
	seen := make(map[string]bool, len(required))
	names := make([]string, 0, len(required))
	for _, name := range required {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var extra []string
	for _, ref := range group.Members {
		for name := range views[ref].Items {
			if !seen[name] {
				seen[name] = true
				extra = append(extra, name)
			}
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// fuseItem merges one item's readings across the group's cameras.
func fuseItem(name string, group MatchedGroup, views map[TrackRef]PersonView, strategy Strategy) FusedItem {
	item := FusedItem{}
	for _, ref := range group.Members {
		view, ok := views[ref]
		if !ok {
			continue // camera did not report this tick
		}
		reading := view.Items[name]
		item.PerCamera = append(item.PerCamera, CameraItemReading{
			Camera:     ref.Camera,
			Detected:   reading.Detected,
			Confidence: reading.Confidence,
		})
	}
	if len(item.PerCamera) == 0 {
		return item
	}

	switch strategy.Kind {
	case StrategyOr:
		for _, r := range item.PerCamera {
			if r.Detected {
				item.Detected = true
				if r.Confidence > item.Confidence {
					item.Confidence = r.Confidence
				}
			}
		}

	case StrategyAnd:
		item.Detected = true
		item.Confidence = 1
		for _, r := range item.PerCamera {
			if !r.Detected {
				item.Detected = false
			}
			if r.Confidence < item.Confidence {
				item.Confidence = r.Confidence
			}
		}

	case StrategyWeighted:
		var sum, totalWeight float64
		for _, r := range item.PerCamera {
			w := 1.0
			if strategy.Weights != nil {
				if cw, ok := strategy.Weights[r.Camera]; ok {
					w = cw
				}
			}
			totalWeight += w
			if r.Detected {
				sum += w * r.Confidence
			}
		}
		if totalWeight > 0 {
			sum /= totalWeight
		}
		item.Confidence = sum
		item.Detected = sum > strategy.DecisionThreshold
	}
	return item
}
