// Package zones scopes compliance evaluation to polygon detection zones.
// Zones are defined per camera in pixel coordinates; a camera with no zones
// monitors its whole frame. People tracked outside every enabled zone keep
// their identities but are excluded from compliance smoothing and fusion.
package zones

import (
	"fmt"

	"github.com/sitewatch-data/compliance.report/internal/ppe"
)

// Zone is one polygon detection zone. The zero value of Disabled keeps a
// zone active, so configs only mention the flag to switch a zone off.
type Zone struct {
	Name     string       `json:"name"`
	Points   [][2]float64 `json:"points"` // polygon vertices in pixel coordinates
	Disabled bool         `json:"disabled,omitempty"`
}

// Validate checks the polygon is usable. Failures wrap ppe.ErrConfig.
func (z Zone) Validate() error {
	if z.Name == "" {
		return fmt.Errorf("%w: zone has no name", ppe.ErrConfig)
	}
	if len(z.Points) < 3 {
		return fmt.Errorf("%w: zone %q needs at least 3 vertices, got %d",
			ppe.ErrConfig, z.Name, len(z.Points))
	}
	return nil
}

// Contains reports whether the point lies inside the polygon, by ray
// casting. A disabled zone contains nothing.
func (z Zone) Contains(x, y float64) bool {
	if z.Disabled {
		return false
	}
	inside := false
	n := len(z.Points)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := z.Points[i][0], z.Points[i][1]
		xj, yj := z.Points[j][0], z.Points[j][1]
		if (yi > y) != (yj > y) &&
			x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// Set is the detection zones of one camera.
type Set []Zone

// Validate checks every zone and rejects duplicate names.
func (s Set) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, z := range s {
		if err := z.Validate(); err != nil {
			return err
		}
		if seen[z.Name] {
			return fmt.Errorf("%w: duplicate zone name %q", ppe.ErrConfig, z.Name)
		}
		seen[z.Name] = true
	}
	return nil
}

// InScope reports whether compliance should be evaluated at the point: true
// when the set is empty (no zones configured means monitor everywhere) or
// when any enabled zone contains it.
func (s Set) InScope(x, y float64) bool {
	if len(s) == 0 {
		return true
	}
	for _, z := range s {
		if z.Contains(x, y) {
			return true
		}
	}
	return false
}
