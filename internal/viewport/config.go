// Package viewport implements the interactive time-series viewport: which
// contiguous slice of an ordered dataset a chart shows, how that slice moves
// under zoom and pan input, the month drill-down shown at maximum zoom, and
// the registry that keeps one controller per chart.
package viewport

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by viewport operations. None of them are fatal: the
// controller keeps its last good state.
var (
	ErrInvalidConfig    = errors.New("invalid viewport config")
	ErrInvalidZoomLevel = errors.New("invalid zoom level")
	ErrEmptyDataset     = errors.New("empty dataset")
	ErrUnknownChart     = errors.New("unknown chart")
	ErrNoActiveChart    = errors.New("no active chart")
)

// Config bounds zoom and pan behaviour.
type Config struct {
	MinZoom  float64 `yaml:"min_zoom"`
	MaxZoom  float64 `yaml:"max_zoom"`
	ZoomStep float64 `yaml:"zoom_step"` // zoom factor per unit of gesture delta
	PanStep  float64 `yaml:"pan_step"`  // dataset fraction moved per pan request
}

// DefaultConfig returns the stock zoom bounds.
func DefaultConfig() Config {
	return Config{
		MinZoom:  0.1,
		MaxZoom:  30,
		ZoomStep: 0.2,
		PanStep:  0.1,
	}
}

// NewConfig builds a validated Config; pan step takes the default.
func NewConfig(minZoom, maxZoom, zoomStep float64) (Config, error) {
	cfg := DefaultConfig()
	cfg.MinZoom = minZoom
	cfg.MaxZoom = maxZoom
	cfg.ZoomStep = zoomStep
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks 0 < MinZoom < 1 <= MaxZoom, a positive zoom step and a pan
// step in (0, 1].
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"min_zoom":  c.MinZoom,
		"max_zoom":  c.MaxZoom,
		"zoom_step": c.ZoomStep,
		"pan_step":  c.PanStep,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidConfig, name)
		}
	}
	switch {
	case c.MinZoom <= 0 || c.MinZoom >= 1:
		return fmt.Errorf("%w: min_zoom %v must be in (0, 1)", ErrInvalidConfig, c.MinZoom)
	case c.MaxZoom < 1:
		return fmt.Errorf("%w: max_zoom %v must be >= 1", ErrInvalidConfig, c.MaxZoom)
	case c.ZoomStep <= 0:
		return fmt.Errorf("%w: zoom_step %v must be positive", ErrInvalidConfig, c.ZoomStep)
	case c.PanStep <= 0 || c.PanStep > 1:
		return fmt.Errorf("%w: pan_step %v must be in (0, 1]", ErrInvalidConfig, c.PanStep)
	}
	return nil
}

func (c Config) clamp(level float64) float64 {
	return math.Min(c.MaxZoom, math.Max(c.MinZoom, level))
}
