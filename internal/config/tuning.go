// Package config loads the pipeline tuning configuration. The JSON schema
// uses pointer-typed optional fields so partial files inherit defaults;
// Get* accessors supply the fallback values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sitewatch-data/compliance.report/internal/ppe"
	"github.com/sitewatch-data/compliance.report/internal/ppe/zones"
)

// Default tuning values, used when the corresponding JSON field is absent.
const (
	DefaultNumCameras         = 2
	DefaultFrameWidth         = 1920
	DefaultFrameHeight        = 1080
	DefaultMaxAge             = 30
	DefaultMinHits            = 3
	DefaultIoUThreshold       = 0.3
	DefaultMaxHistory         = 50
	DefaultAppearanceAlpha    = 0.2
	DefaultBufferSize         = 30
	DefaultViolationThreshold = 0.7
	DefaultSpatialWeight      = 0.6
	DefaultAppearanceWeight   = 0.4
	DefaultMaxDistance        = 0.5
	DefaultFusionStrategy     = "or"
	DefaultDecisionThreshold  = 0.5
	DefaultTickInterval       = 500 * time.Millisecond
	DefaultTickTimeout        = 200 * time.Millisecond
)

// DefaultRequiredItems is the protective-item set enforced when the
// configuration names none.
var DefaultRequiredItems = []string{"helmet", "vest"}

// TuningConfig is the root pipeline configuration. All scalar fields are
// pointers so a partial JSON file only overrides what it names.
type TuningConfig struct {
	// Camera streams
	NumCameras  *int `json:"num_cameras,omitempty"`
	FrameWidth  *int `json:"frame_width,omitempty"`
	FrameHeight *int `json:"frame_height,omitempty"`

	// Tracker params
	MaxAge          *int     `json:"max_age,omitempty"`
	MinHits         *int     `json:"min_hits,omitempty"`
	IoUThreshold    *float64 `json:"iou_threshold,omitempty"`
	MaxHistory      *int     `json:"max_history,omitempty"`
	AppearanceAlpha *float64 `json:"appearance_alpha,omitempty"`

	// Temporal filter params
	BufferSize         *int     `json:"buffer_size,omitempty"`
	ViolationThreshold *float64 `json:"violation_threshold,omitempty"`

	// Cross-camera matching params
	SpatialWeight        *float64 `json:"spatial_weight,omitempty"`
	AppearanceWeight     *float64 `json:"appearance_weight,omitempty"`
	MaxDistanceThreshold *float64 `json:"max_distance_threshold,omitempty"`

	// Fusion params
	FusionStrategy    *string            `json:"fusion_strategy,omitempty"` // "or", "and", "weighted"
	DecisionThreshold *float64           `json:"decision_threshold,omitempty"`
	CameraWeights     map[string]float64 `json:"camera_weights,omitempty"` // camera id → weight

	// Required protective items
	RequiredItems []string `json:"required_items,omitempty"`

	// Detection zones, camera id → polygons in pixel coordinates. A camera
	// absent from the map monitors its whole frame.
	Zones map[string]zones.Set `json:"zones,omitempty"`

	// Orchestration
	TickInterval *string `json:"tick_interval,omitempty"` // duration string like "500ms"
	TickTimeout  *string `json:"tick_timeout,omitempty"`
}

// LoadTuningConfig loads and validates a TuningConfig from a JSON file.
// Fields omitted from the file retain their defaults, so partial configs
// are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w: config file must have .json extension, got %q", ppe.ErrConfig, ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config JSON: %v", ppe.ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every named field against its range. Failures wrap
// ppe.ErrConfig and are fatal at startup.
func (c *TuningConfig) Validate() error {
	if c.NumCameras != nil && *c.NumCameras <= 0 {
		return fmt.Errorf("%w: num_cameras must be positive, got %d", ppe.ErrConfig, *c.NumCameras)
	}
	if c.FrameWidth != nil && *c.FrameWidth <= 0 {
		return fmt.Errorf("%w: frame_width must be positive, got %d", ppe.ErrConfig, *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight <= 0 {
		return fmt.Errorf("%w: frame_height must be positive, got %d", ppe.ErrConfig, *c.FrameHeight)
	}
	if c.MaxAge != nil && *c.MaxAge <= 0 {
		return fmt.Errorf("%w: max_age must be positive, got %d", ppe.ErrConfig, *c.MaxAge)
	}
	if c.MinHits != nil && *c.MinHits <= 0 {
		return fmt.Errorf("%w: min_hits must be positive, got %d", ppe.ErrConfig, *c.MinHits)
	}
	if c.IoUThreshold != nil && (*c.IoUThreshold < 0 || *c.IoUThreshold > 1) {
		return fmt.Errorf("%w: iou_threshold %.3f outside [0,1]", ppe.ErrConfig, *c.IoUThreshold)
	}
	if c.MaxHistory != nil && *c.MaxHistory <= 0 {
		return fmt.Errorf("%w: max_history must be positive, got %d", ppe.ErrConfig, *c.MaxHistory)
	}
	if c.AppearanceAlpha != nil && (*c.AppearanceAlpha < 0 || *c.AppearanceAlpha > 1) {
		return fmt.Errorf("%w: appearance_alpha %.3f outside [0,1]", ppe.ErrConfig, *c.AppearanceAlpha)
	}
	if c.BufferSize != nil && *c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer_size must be positive, got %d", ppe.ErrConfig, *c.BufferSize)
	}
	if c.ViolationThreshold != nil && (*c.ViolationThreshold < 0 || *c.ViolationThreshold > 1) {
		return fmt.Errorf("%w: violation_threshold %.3f outside [0,1]", ppe.ErrConfig, *c.ViolationThreshold)
	}
	if c.SpatialWeight != nil && *c.SpatialWeight < 0 {
		return fmt.Errorf("%w: spatial_weight %.3f is negative", ppe.ErrConfig, *c.SpatialWeight)
	}
	if c.AppearanceWeight != nil && *c.AppearanceWeight < 0 {
		return fmt.Errorf("%w: appearance_weight %.3f is negative", ppe.ErrConfig, *c.AppearanceWeight)
	}
	if c.GetSpatialWeight()+c.GetAppearanceWeight() <= 0 {
		return fmt.Errorf("%w: match weights must not both be zero", ppe.ErrConfig)
	}
	if c.MaxDistanceThreshold != nil && (*c.MaxDistanceThreshold < 0 || *c.MaxDistanceThreshold > 1) {
		return fmt.Errorf("%w: max_distance_threshold %.3f outside [0,1]", ppe.ErrConfig, *c.MaxDistanceThreshold)
	}
	if c.DecisionThreshold != nil && (*c.DecisionThreshold < 0 || *c.DecisionThreshold > 1) {
		return fmt.Errorf("%w: decision_threshold %.3f outside [0,1]", ppe.ErrConfig, *c.DecisionThreshold)
	}
	if c.FusionStrategy != nil {
		switch *c.FusionStrategy {
		case "or", "and", "weighted":
		default:
			return fmt.Errorf("%w: unknown fusion strategy %q", ppe.ErrConfig, *c.FusionStrategy)
		}
	}
	for cam, w := range c.CameraWeights {
		if w < 0 {
			return fmt.Errorf("%w: camera %s weight %.3f is negative", ppe.ErrConfig, cam, w)
		}
	}
	for cam, set := range c.Zones {
		if err := set.Validate(); err != nil {
			return fmt.Errorf("camera %s zones: %w", cam, err)
		}
	}
	if c.TickInterval != nil {
		if _, err := time.ParseDuration(*c.TickInterval); err != nil {
			return fmt.Errorf("%w: tick_interval: %v", ppe.ErrConfig, err)
		}
	}
	if c.TickTimeout != nil {
		if _, err := time.ParseDuration(*c.TickTimeout); err != nil {
			return fmt.Errorf("%w: tick_timeout: %v", ppe.ErrConfig, err)
		}
	}
	if c.GetTickTimeout() >= c.GetTickInterval() {
		return fmt.Errorf("%w: tick_timeout %v must be below tick_interval %v",
			ppe.ErrConfig, c.GetTickTimeout(), c.GetTickInterval())
	}
	return nil
}

func (c *TuningConfig) GetNumCameras() int {
	if c.NumCameras != nil {
		return *c.NumCameras
	}
	return DefaultNumCameras
}

func (c *TuningConfig) GetFrameWidth() int {
	if c.FrameWidth != nil {
		return *c.FrameWidth
	}
	return DefaultFrameWidth
}

func (c *TuningConfig) GetFrameHeight() int {
	if c.FrameHeight != nil {
		return *c.FrameHeight
	}
	return DefaultFrameHeight
}

func (c *TuningConfig) GetMaxAge() int {
	if c.MaxAge != nil {
		return *c.MaxAge
	}
	return DefaultMaxAge
}

func (c *TuningConfig) GetMinHits() int {
	if c.MinHits != nil {
		return *c.MinHits
	}
	return DefaultMinHits
}

func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold != nil {
		return *c.IoUThreshold
	}
	return DefaultIoUThreshold
}

func (c *TuningConfig) GetMaxHistory() int {
	if c.MaxHistory != nil {
		return *c.MaxHistory
	}
	return DefaultMaxHistory
}

func (c *TuningConfig) GetAppearanceAlpha() float64 {
	if c.AppearanceAlpha != nil {
		return *c.AppearanceAlpha
	}
	return DefaultAppearanceAlpha
}

func (c *TuningConfig) GetBufferSize() int {
	if c.BufferSize != nil {
		return *c.BufferSize
	}
	return DefaultBufferSize
}

func (c *TuningConfig) GetViolationThreshold() float64 {
	if c.ViolationThreshold != nil {
		return *c.ViolationThreshold
	}
	return DefaultViolationThreshold
}

func (c *TuningConfig) GetSpatialWeight() float64 {
	if c.SpatialWeight != nil {
		return *c.SpatialWeight
	}
	return DefaultSpatialWeight
}

func (c *TuningConfig) GetAppearanceWeight() float64 {
	if c.AppearanceWeight != nil {
		return *c.AppearanceWeight
	}
	return DefaultAppearanceWeight
}

func (c *TuningConfig) GetMaxDistanceThreshold() float64 {
	if c.MaxDistanceThreshold != nil {
		return *c.MaxDistanceThreshold
	}
	return DefaultMaxDistance
}

func (c *TuningConfig) GetFusionStrategy() string {
	if c.FusionStrategy != nil {
		return *c.FusionStrategy
	}
	return DefaultFusionStrategy
}

func (c *TuningConfig) GetDecisionThreshold() float64 {
	if c.DecisionThreshold != nil {
		return *c.DecisionThreshold
	}
	return DefaultDecisionThreshold
}

// GetRequiredItems returns the configured required items, or the default
// helmet+vest set when none are named.
func (c *TuningConfig) GetRequiredItems() []string {
	if len(c.RequiredItems) > 0 {
		return c.RequiredItems
	}
	return DefaultRequiredItems
}

func (c *TuningConfig) GetTickInterval() time.Duration {
	if c.TickInterval != nil {
		if d, err := time.ParseDuration(*c.TickInterval); err == nil {
			return d
		}
	}
	return DefaultTickInterval
}

func (c *TuningConfig) GetTickTimeout() time.Duration {
	if c.TickTimeout != nil {
		if d, err := time.ParseDuration(*c.TickTimeout); err == nil {
			return d
		}
	}
	return DefaultTickTimeout
}

// GetZones returns the detection zones configured for one camera. A camera
// without zones gets nil, which monitors the whole frame.
func (c *TuningConfig) GetZones(cam ppe.CameraID) zones.Set {
	if len(c.Zones) == 0 {
		return nil
	}
	return c.Zones[fmt.Sprintf("%d", cam)]
}

// GetCameraWeights converts the string-keyed JSON weight map to camera ids.
// Unparseable keys are dropped.
func (c *TuningConfig) GetCameraWeights() map[ppe.CameraID]float64 {
	if len(c.CameraWeights) == 0 {
		return nil
	}
	weights := make(map[ppe.CameraID]float64, len(c.CameraWeights))
	for key, w := range c.CameraWeights {
		var cam int
		if _, err := fmt.Sscanf(key, "%d", &cam); err != nil {
			continue
		}
		weights[ppe.CameraID(cam)] = w
	}
	return weights
}
