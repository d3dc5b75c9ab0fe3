package align

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"flaketransfer/lib/control"
	"flaketransfer/lib/motion"

	"github.com/golang/geo/r2"
)

var (
	ErrNoTarget      = errors.New("no target polygon")
	ErrNoTracking    = errors.New("tracking is not active")
	ErrNoRotatorStep = errors.New("rotator conversion is not positive")
)

// Geometry supplies the polygon centers the loop works on.
type Geometry interface {
	TrackedCenter() (r2.Point, bool)
	TargetCenter() (r2.Point, bool)
	TargetAngle() float64
}

// Conversion turns pixels (and degrees) into actuator units.
type Conversion struct {
	X      float64 // units per pixel on the X stage
	Y      float64 // units per pixel on the Y stage
	Rotate float64 // units per degree on the rotator
}

// Optics describes the camera field of view for a magnification.
type Optics struct {
	Rescale r2.Point // field of view in stage units at the reference step
	Frame   image.Point
}

// NewConversion derives conversion factors from the optics and the
// configured jog steps. base is the step size the rescale was measured at.
func NewConversion(o Optics, stepX, stepY, rotatorStep, base float64) Conversion {
	var c Conversion
	if rotatorStep > 0 {
		c.Rotate = 150000 / (rotatorStep / 1000)
	}
	if o.Frame.X > 0 && stepX > 0 {
		c.X = o.Rescale.X / (stepX / base) / float64(o.Frame.X)
	}
	if o.Frame.Y > 0 && stepY > 0 {
		c.Y = o.Rescale.Y / (stepY / base) / float64(o.Frame.Y)
	}
	return c
}

// Config holds the alignment settings.
type Config struct {
	Conversion    Conversion
	Calibration   Conversion // used by Calibrate
	PivotDegrees  float64    // image rotation produced by one forward rotator unit
	InvertX       bool
	InvertY       bool
	RotateRate    int
	TranslateRate int
	PIDRate       int
	Tolerance     float64
	MaxIterations int
	Schedule      control.Schedule
	RotateSettle  time.Duration
	CorrectSettle time.Duration
	PIDSettle     time.Duration
}

// DefaultConfig returns the tuned alignment settings.
func DefaultConfig() Config {
	return Config{
		Conversion:    Conversion{X: 1, Y: 1, Rotate: 150},
		Calibration:   Conversion{X: 0.1, Y: 0.1, Rotate: 150},
		PivotDegrees:  -1,
		InvertY:       true,
		RotateRate:    10,
		TranslateRate: 500,
		PIDRate:       500,
		Tolerance:     1,
		MaxIterations: 20,
		Schedule:      control.DefaultSchedule(),
		RotateSettle:  500 * time.Millisecond,
		CorrectSettle: 300 * time.Millisecond,
		PIDSettle:     300 * time.Millisecond,
	}
}

// Status is how an alignment ended.
type Status string

const (
	StatusConverged  Status = "converged"
	StatusIncomplete Status = "incomplete"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Result summarizes one alignment.
type Result struct {
	Status        Status   `json:"status"`
	RotationSteps int      `json:"rotation_steps"`
	Iterations    int      `json:"iterations"`
	Error         r2.Point `json:"error"`
}

// Aligner rotates the sample to the target orientation and centers the
// tracked polygon on the target polygon.
type Aligner struct {
	config Config
	act    motion.Actuator
	geo    Geometry
	logger *slog.Logger
	notify func(string)
	settle func(ctx context.Context, d time.Duration) error
}

// NewAligner creates an aligner. notify may be nil.
func NewAligner(config Config, act motion.Actuator, geo Geometry, notify func(string), logger *slog.Logger) *Aligner {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &Aligner{
		config: config,
		act:    act,
		geo:    geo,
		logger: logger.With("component", "align"),
		notify: notify,
		settle: motion.Settle,
	}
}

// Run performs the rotation phase followed by the PID phase.
func (a *Aligner) Run(ctx context.Context) (Result, error) {
	var res Result
	err := a.run(ctx, &res)

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Status = StatusCancelled
		a.notify("Alignment stopped")
		err = nil
	default:
		res.Status = StatusFailed
	}
	a.logger.Info("alignment finished", "status", res.Status, "iterations", res.Iterations, "error", res.Error)
	return res, err
}

func (a *Aligner) run(ctx context.Context, res *Result) error {
	target, ok := a.geo.TargetCenter()
	if !ok {
		return ErrNoTarget
	}
	if _, ok := a.geo.TrackedCenter(); !ok {
		return ErrNoTracking
	}

	angle := a.geo.TargetAngle()
	a.notify(fmt.Sprintf("Rotating %.0f degrees", angle))
	if err := a.rotate(ctx, angle, res); err != nil {
		return err
	}

	a.notify("Centering")
	return a.center(ctx, target, res)
}

// rotate turns the sample one degree at a time and re-centers the tracked
// polygon on its pre-rotation position after each step.
func (a *Aligner) rotate(ctx context.Context, angle float64, res *Result) error {
	cfg := a.config
	steps := int(math.Abs(angle))
	if steps == 0 {
		return nil
	}
	dir := motion.DirectionOf(angle, false)
	unit := int(math.Round(cfg.Conversion.Rotate))
	if unit <= 0 {
		return ErrNoRotatorStep
	}

	ref, ok := a.geo.TrackedCenter()
	if !ok {
		return ErrNoTracking
	}

	for i := 0; i < steps; i++ {
		if err := a.move(ctx, motion.AxisRotator, dir, unit, cfg.RotateRate); err != nil {
			return err
		}
		if err := a.settle(ctx, cfg.RotateSettle); err != nil {
			return err
		}

		center, ok := a.geo.TrackedCenter()
		if !ok {
			return ErrNoTracking
		}
		offset := center.Sub(ref)
		if err := a.translate(ctx, cfg.Conversion.toUnits(offset), cfg.TranslateRate, func(v float64) int { return int(v) }); err != nil {
			return err
		}
		if err := a.settle(ctx, cfg.CorrectSettle); err != nil {
			return err
		}

		res.RotationSteps = i + 1
		a.logger.Info("rotation step", "step", i+1, "of", steps, "offset", offset)
	}
	return nil
}

// center drives the tracked center onto target with the gain-scheduled PID.
func (a *Aligner) center(ctx context.Context, target r2.Point, res *Result) error {
	cfg := a.config
	var pidX, pidY control.PID

	for res.Iterations < cfg.MaxIterations {
		e, err := a.errorTo(target)
		if err != nil {
			return err
		}
		res.Error = e
		if a.within(e) {
			res.Status = StatusConverged
			a.notify("Aligned.")
			return nil
		}

		gains := cfg.Schedule.For(e.Norm())
		pidX.Gains, pidY.Gains = gains, gains
		out := r2.Point{X: pidX.Update(e.X), Y: pidY.Update(e.Y)}

		if err := a.translate(ctx, out, cfg.PIDRate, func(v float64) int { return int(math.Round(v)) }); err != nil {
			return err
		}
		res.Iterations++
		if err := a.settle(ctx, cfg.PIDSettle); err != nil {
			return err
		}
		a.logger.Debug("pid iteration", "iteration", res.Iterations, "error", e, "output", out)
	}

	e, err := a.errorTo(target)
	if err != nil {
		return err
	}
	res.Error = e
	if a.within(e) {
		res.Status = StatusConverged
		a.notify("Aligned.")
		return nil
	}
	res.Status = StatusIncomplete
	a.notify("Max PID iterations reached. Alignment may be incomplete.")
	return nil
}

func (a *Aligner) errorTo(target r2.Point) (r2.Point, error) {
	center, ok := a.geo.TrackedCenter()
	if !ok {
		return r2.Point{}, ErrNoTracking
	}
	return center.Sub(target), nil
}

func (a *Aligner) within(e r2.Point) bool {
	return math.Abs(e.X) <= a.config.Tolerance && math.Abs(e.Y) <= a.config.Tolerance
}

// translate moves X and Y by v stage units; the sign picks the direction.
// toSteps rounds each component to a step count.
func (a *Aligner) translate(ctx context.Context, v r2.Point, rate int, toSteps func(float64) int) error {
	cfg := a.config
	moves := []struct {
		axis     motion.Axis
		value    float64
		inverted bool
	}{
		{motion.AxisSampleX, v.X, cfg.InvertX},
		{motion.AxisSampleY, v.Y, cfg.InvertY},
	}
	for _, m := range moves {
		steps := toSteps(m.value)
		if steps == 0 {
			continue
		}
		dir := motion.DirectionOf(float64(steps), m.inverted)
		if err := a.move(ctx, m.axis, dir, abs(steps), rate); err != nil {
			return err
		}
	}
	return nil
}

// toUnits converts a pixel offset into stage units.
func (c Conversion) toUnits(px r2.Point) r2.Point {
	return r2.Point{X: px.X * c.X, Y: px.Y * c.Y}
}

// move checks for cancellation before every command.
func (a *Aligner) move(ctx context.Context, axis motion.Axis, dir motion.Direction, magnitude, rate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.act.Move(ctx, axis, dir, magnitude, rate); err != nil {
		return fmt.Errorf("align move %s: %w", axis, err)
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
