package align

import (
	"context"
	"fmt"
	"math"

	"flaketransfer/lib/geometry"
	"flaketransfer/lib/motion"

	"github.com/golang/geo/r2"
)

// Calibrate moves the sample so the target polygon's center lands on aim,
// normally the frame center. It is a single open-loop move.
func (a *Aligner) Calibrate(ctx context.Context, aim r2.Point) (r2.Point, error) {
	center, ok := a.geo.TargetCenter()
	if !ok {
		return r2.Point{}, ErrNoTarget
	}
	offset := center.Sub(aim)
	units := a.config.Calibration.toUnits(offset)
	if err := a.translate(ctx, units, a.config.TranslateRate, func(v float64) int { return int(v) }); err != nil {
		return r2.Point{}, err
	}
	a.logger.Info("calibration move", "offset", offset, "units", units)
	a.notify(fmt.Sprintf("Calibration move: %.0f, %.0f px", offset.X, offset.Y))
	return offset, a.settle(ctx, a.config.CorrectSettle)
}

// Pivot is the rotation center of the rotator in frame coordinates.
type Pivot struct {
	Center r2.Point `json:"center"`
	Radius float64  `json:"radius"`
}

// EstimatePivot rotates one unit forward, observes where the tracked center
// went, rotates back and solves for the point both positions turn about.
func (a *Aligner) EstimatePivot(ctx context.Context) (Pivot, error) {
	cfg := a.config
	before, ok := a.geo.TrackedCenter()
	if !ok {
		return Pivot{}, ErrNoTracking
	}
	unit := int(math.Round(cfg.Calibration.Rotate))
	if unit <= 0 {
		return Pivot{}, ErrNoRotatorStep
	}

	if err := a.move(ctx, motion.AxisRotator, motion.Forward, unit, cfg.RotateRate); err != nil {
		return Pivot{}, err
	}
	if err := a.settle(ctx, cfg.RotateSettle); err != nil {
		return Pivot{}, err
	}
	after, ok := a.geo.TrackedCenter()
	if !ok {
		return Pivot{}, ErrNoTracking
	}
	if err := a.move(ctx, motion.AxisRotator, motion.Reverse, unit, cfg.RotateRate); err != nil {
		return Pivot{}, err
	}

	center, radius, err := geometry.RotationPivot(before, after, cfg.PivotDegrees)
	if err != nil {
		return Pivot{}, fmt.Errorf("estimate pivot: %w", err)
	}
	a.logger.Info("rotation pivot", "center", center, "radius", radius)
	a.notify(fmt.Sprintf("Set point: pivot (%.1f, %.1f), radius %.1f px", center.X, center.Y, radius))
	return Pivot{Center: center, Radius: radius}, a.settle(ctx, cfg.RotateSettle)
}
