package fuse

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/sitewatch-data/compliance.report/internal/ppe"
)

// MatcherConfig holds the cross-camera matching parameters.
type MatcherConfig struct {
	SpatialWeight        float64 // weight of positional similarity
	AppearanceWeight     float64 // weight of appearance similarity
	MaxDistanceThreshold float64 // maximum effective distance (1−combined) for an eligible pair
}

// Validate checks config ranges. Failures wrap ppe.ErrConfig.
func (c MatcherConfig) Validate() error {
	if c.SpatialWeight < 0 || c.AppearanceWeight < 0 {
		return fmt.Errorf("%w: match weights must be non-negative (spatial %.3f, appearance %.3f)",
			ppe.ErrConfig, c.SpatialWeight, c.AppearanceWeight)
	}
	if c.SpatialWeight+c.AppearanceWeight <= 0 {
		return fmt.Errorf("%w: match weights must not both be zero", ppe.ErrConfig)
	}
	if c.MaxDistanceThreshold < 0 || c.MaxDistanceThreshold > 1 {
		return fmt.Errorf("%w: max_distance_threshold %.3f outside [0,1]",
			ppe.ErrConfig, c.MaxDistanceThreshold)
	}
	return nil
}

// Matcher groups per-camera tracks that denote the same physical person.
// It is stateless between ticks: every call works only from the views it
// is given and discards all intermediate structure afterwards.
type Matcher struct {
	cfg MatcherConfig
}

// NewMatcher builds a matcher, failing fast on bad configuration.
func NewMatcher(cfg MatcherConfig) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{cfg: cfg}, nil
}

// pairLink is one eligible cross-camera candidate pairing. a is always the
// view with the lower (camera, track) ordering so tie-breaks are stable.
type pairLink struct {
	a, b  int // indexes into the view slice
	score float64
}

// Match produces the tick's matched groups plus camera-only singletons.
// Eligible pairs are processed in descending combined score; a link is
// accepted greedily when the two groups it would join share no camera.
// Transitive chains across three or more cameras form through successive
// accepted links; a chain that would put two same-camera tracks together
// rejects the lower-scoring link and keeps the higher one.
func (m *Matcher) Match(views []PersonView) []MatchedGroup {
	links := m.eligibleLinks(views)

	// Descending score; exact ties fall back to lower camera id, then
	// lower track id, for deterministic output.
	sort.Slice(links, func(i, j int) bool {
		li, lj := links[i], links[j]
		if li.score != lj.score {
			return li.score > lj.score
		}
		ai, aj := views[li.a], views[lj.a]
		if ai.Camera != aj.Camera {
			return ai.Camera < aj.Camera
		}
		if ai.TrackID != aj.TrackID {
			return ai.TrackID < aj.TrackID
		}
		bi, bj := views[li.b], views[lj.b]
		if bi.Camera != bj.Camera {
			return bi.Camera < bj.Camera
		}
		return bi.TrackID < bj.TrackID
	})

	// Union-find over view indexes. Each root tracks the cameras already
	// present in its group and the weakest accepted link score.
	parent := make([]int, len(views))
	minScore := make([]float64, len(views))
	cameras := make([]map[ppe.CameraID]bool, len(views))
	for i := range views {
		parent[i] = i
		minScore[i] = math.Inf(1)
		cameras[i] = map[ppe.CameraID]bool{views[i].Camera: true}
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for _, link := range links {
		ra, rb := find(link.a), find(link.b)
		if ra == rb {
			continue // already joined through a stronger chain
		}
		conflict := false
		for cam := range cameras[rb] {
			if cameras[ra][cam] {
				conflict = true
				break
			}
		}
		if conflict {
			continue // same-camera collision: drop this weaker link
		}
		parent[rb] = ra
		for cam := range cameras[rb] {
			cameras[ra][cam] = true
		}
		minScore[ra] = math.Min(minScore[ra], math.Min(minScore[rb], link.score))
	}

	// Collect members per root.
	byRoot := make(map[int][]TrackRef)
	for i := range views {
		root := find(i)
		byRoot[root] = append(byRoot[root], views[i].Ref())
	}

	groups := make([]MatchedGroup, 0, len(byRoot))
	for root, members := range byRoot {
		sort.Slice(members, func(i, j int) bool {
			if members[i].Camera != members[j].Camera {
				return members[i].Camera < members[j].Camera
			}
			return members[i].TrackID < members[j].TrackID
		})
		group := MatchedGroup{Members: members}
		if len(members) == 1 {
			group.CameraOnly = true
		} else {
			group.Confidence = minScore[root]
		}
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool {
		gi, gj := groups[i].Members[0], groups[j].Members[0]
		if gi.Camera != gj.Camera {
			return gi.Camera < gj.Camera
		}
		return gi.TrackID < gj.TrackID
	})
	return groups
}

// eligibleLinks scores every cross-camera pair and keeps those whose
// effective distance is within the matching threshold.
func (m *Matcher) eligibleLinks(views []PersonView) []pairLink {
	var links []pairLink
	for i := 0; i < len(views); i++ {
		for j := i + 1; j < len(views); j++ {
			if views[i].Camera == views[j].Camera {
				continue
			}
			score := m.combinedScore(views[i], views[j])
			if 1-score > m.cfg.MaxDistanceThreshold {
				continue
			}
			a, b := i, j
			if lessRef(views[j].Ref(), views[i].Ref()) {
				a, b = j, i
			}
			links = append(links, pairLink{a: a, b: b, score: score})
		}
	}
	return links
}

func lessRef(a, b TrackRef) bool {
	if a.Camera != b.Camera {
		return a.Camera < b.Camera
	}
	return a.TrackID < b.TrackID
}

// combinedScore blends spatial and appearance similarity, clipped to [0,1].
func (m *Matcher) combinedScore(a, b PersonView) float64 {
	combined := m.cfg.SpatialWeight*spatialSimilarity(a.Position, b.Position) +
		m.cfg.AppearanceWeight*appearanceSimilarity(a.Appearance, b.Appearance)
	return math.Max(0, math.Min(1, combined))
}

// spatialSimilarity maps the distance between two frame-relative normalized
// centers through an inverse-distance falloff. The maximum possible
// in-frame distance is the unit-square diagonal √2.
func spatialSimilarity(a, b [2]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dist := math.Hypot(dx, dy)
	return 1 - math.Min(dist/math.Sqrt2, 1)
}

// appearanceSimilarity is the cosine similarity of two descriptors mapped
// to [0,1]. When either descriptor is absent or the shapes disagree, the
// similarity is a neutral 0.5 so matching degrades to spatial-only rather
// than vetoing the pair.
func appearanceSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.5
	}
	na := math.Sqrt(floats.Dot(a, a))
	nb := math.Sqrt(floats.Dot(b, b))
	if na == 0 || nb == 0 {
		return 0.5
	}
	cos := floats.Dot(a, b) / (na * nb)
	return math.Max(0, math.Min(1, (1+cos)/2))
}
