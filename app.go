package main

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"

	"flaketransfer/config"
	"flaketransfer/lib"
	"flaketransfer/lib/align"
	"flaketransfer/lib/control"
	"flaketransfer/lib/focus"
	"flaketransfer/lib/interaction"
	"flaketransfer/lib/motion"
	"flaketransfer/lib/thermal"
	"flaketransfer/lib/worker"

	"github.com/golang/geo/r2"
)

// Stage unit bases the optics rescale values were measured against.
const (
	alignStepBase     = 500
	calibrateStepBase = 5000
)

// stopAxes are halted whenever a run is cancelled or fails.
var stopAxes = []motion.Axis{motion.AxisSampleX, motion.AxisSampleY, motion.AxisRotator, motion.AxisFocus}

// app holds the long-lived components shared by the HTTP handlers.
type app struct {
	cfg     config.Config
	params  *config.Params
	rig     *motion.Rig
	camera  *lib.Camera
	ctrl    *interaction.Controller
	notices *interaction.Notices
	worker  *worker.Worker
	heater  *thermal.Heater
	logger  *slog.Logger
}

// buildRig opens one stage per distinct port and binds every configured
// axis. Ports that fail to open are logged and left disconnected.
func buildRig(cfg config.SerialConfig, logger *slog.Logger) *motion.Rig {
	rig := motion.NewRig(logger)
	stages := make(map[string]*motion.Stage)

	names := make([]string, 0, len(cfg.Axes))
	for name := range cfg.Axes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ap := cfg.Axes[name]
		axis, err := motion.ParseAxis(name)
		if err != nil {
			logger.Warn("ignoring axis binding", "axis", name, "err", err)
			continue
		}
		stage, ok := stages[ap.Port]
		if !ok {
			stage = motion.NewStage(ap.Port, cfg.Baud, logger)
			if err := stage.Connect(); err != nil {
				logger.Warn("stage controller unavailable", "port", ap.Port, "err", err)
			}
			stages[ap.Port] = stage
		}
		ch := uint16(ap.Channel)
		if stage.Connected() {
			if err := stage.EnableChannel(ch); err != nil {
				logger.Warn("enable channel failed", "axis", axis, "channel", ch, "err", err)
			}
		}
		rig.Bind(axis, motion.Binding{Stage: stage, Channel: ch, Acceleration: int32(ap.Acceleration)})
	}
	return rig
}

// paramAcceleration reads the acceleration of an axis from the parameter
// table when a command is issued.
func paramAcceleration(params *config.Params) func(motion.Axis) (int32, bool) {
	return func(axis motion.Axis) (int32, bool) {
		a := params.Axis(axis).Acceleration
		return int32(a), a > 0
	}
}

func controllerConfig(cfg config.Config, params *config.Params) interaction.Config {
	return interaction.Config{
		FrameSize:        image.Pt(cfg.Camera.FrameWidth, cfg.Camera.FrameHeight),
		DisplaySize:      image.Pt(cfg.Camera.DisplayWidth, cfg.Camera.DisplayHeight),
		AttractionRadius: cfg.Interaction.AttractionRadius,
		MicronsPerPixel:  micronsPerPixel(params),
	}
}

func micronsPerPixel(params *config.Params) float64 {
	return params.Scalebar() / lib.ScaleBarPixels
}

func cameraConfig(cfg config.CameraConfig) lib.CameraConfig {
	c := cfg.Correction
	return lib.CameraConfig{
		CameraID:    cfg.Device,
		ShowWindow:  cfg.Window != "",
		WindowName:  cfg.Window,
		FrameSize:   image.Pt(cfg.FrameWidth, cfg.FrameHeight),
		DisplaySize: image.Pt(cfg.DisplayWidth, cfg.DisplayHeight),
		Correction: lib.Correction{
			Gamma:        c.Gamma,
			WhiteBalance: c.WhiteBalance,
			Offsets:      [3]float64{c.BOffset, c.GOffset, c.ROffset},
			Brightness:   c.Brightness,
			Contrast:     c.Contrast,
			Blur:         c.Blur,
		},
	}
}

func focusConfig(cfg config.AutofocusConfig) focus.Config {
	return focus.Config{
		Axis:              motion.AxisFocus,
		CoarseStep:        cfg.CoarseStep,
		CoarsePoints:      cfg.CoarsePoints,
		FineStep:          cfg.FineStep,
		MinScoreDelta:     cfg.MinScoreDelta,
		MaxFineIterations: cfg.MaxFineIterations,
		FlatVariance:      cfg.FlatVariance,
		FineDecay:         cfg.FineDecay,
		Rate:              cfg.Rate,
		CoarseSettle:      cfg.CoarseSettle,
		FineSettle:        cfg.FineSettle,
	}
}

// alignConfig derives the pixel to stage unit conversions from the current
// camera rescale and axis step parameters.
func alignConfig(cfg config.Config, params *config.Params) align.Config {
	rx, ry := params.Rescale()
	optics := align.Optics{
		Rescale: r2.Point{X: rx, Y: ry},
		Frame:   image.Pt(cfg.Camera.FrameWidth, cfg.Camera.FrameHeight),
	}
	sx := params.Axis(motion.AxisSampleX).Step
	sy := params.Axis(motion.AxisSampleY).Step
	sr := params.Axis(motion.AxisRotator).Step

	al := cfg.Align
	return align.Config{
		Conversion:    align.NewConversion(optics, sx, sy, sr, alignStepBase),
		Calibration:   align.NewConversion(optics, sx, sy, sr, calibrateStepBase),
		PivotDegrees:  al.PivotDegrees,
		InvertX:       al.InvertX,
		InvertY:       al.InvertY,
		RotateRate:    al.RotateRate,
		TranslateRate: al.TranslateRate,
		PIDRate:       al.PIDRate,
		Tolerance:     al.Tolerance,
		MaxIterations: al.MaxIterations,
		Schedule:      control.DefaultSchedule(),
		RotateSettle:  al.RotateSettle,
		CorrectSettle: al.CorrectSettle,
		PIDSettle:     al.PIDSettle,
	}
}

func heaterConfig(cfg config.HeaterConfig) thermal.Config {
	return thermal.Config{
		Gains:      control.Gains{Kp: cfg.Kp, Ki: cfg.Ki, Kd: cfg.Kd},
		Period:     cfg.Period,
		MaxCurrent: cfg.MaxCurrent,
	}
}

func (a *app) stopMotors(ctx context.Context) {
	if err := motion.StopAll(ctx, a.rig, stopAxes...); err != nil {
		a.logger.Error("stop motors", "err", err)
	}
}

func (a *app) newAligner() *align.Aligner {
	return align.NewAligner(alignConfig(a.cfg, a.params), a.rig, a.ctrl, a.notices.Push, a.logger)
}

// startAlign runs the alignment loop on the worker.
func (a *app) startAlign() (string, error) {
	aligner := a.newAligner()
	return a.worker.Start("align", func(ctx context.Context, runID string) error {
		res, err := aligner.Run(ctx)
		a.logger.Info("alignment finished", "run_id", runID, "status", res.Status,
			"iterations", res.Iterations, "rotation_steps", res.RotationSteps)
		return err
	})
}

// startAutofocus runs the focus search on the worker.
func (a *app) startAutofocus() (string, error) {
	scorer := lib.FocusScorer{Frames: a.camera, ROI: a.cfg.Camera.FocusROI}
	search := focus.NewSearch(focusConfig(a.cfg.Autofocus), a.rig, scorer, a.notices.Push, a.logger)
	return a.worker.Start("autofocus", func(ctx context.Context, runID string) error {
		res, err := search.Run(ctx)
		a.logger.Info("autofocus finished", "run_id", runID, "status", res.Status, "height", res.Height)
		return err
	})
}

// startCalibrate moves the target onto the frame center.
func (a *app) startCalibrate() (string, error) {
	aligner := a.newAligner()
	aim := r2.Point{X: float64(a.cfg.Camera.FrameWidth) / 2, Y: float64(a.cfg.Camera.FrameHeight) / 2}
	return a.worker.Start("calibrate", func(ctx context.Context, runID string) error {
		offset, err := aligner.Calibrate(ctx, aim)
		if err != nil {
			return err
		}
		a.notices.Push(fmt.Sprintf("Calibration move done, offset (%.1f, %.1f) px.", offset.X, offset.Y))
		return nil
	})
}

// startSetPoint estimates the rotation pivot from the tracked object.
func (a *app) startSetPoint() (string, error) {
	aligner := a.newAligner()
	return a.worker.Start("setpoint", func(ctx context.Context, runID string) error {
		pivot, err := aligner.EstimatePivot(ctx)
		if err != nil {
			return err
		}
		a.notices.Push(fmt.Sprintf("Set point at (%.1f, %.1f), radius %.1f px.", pivot.Center.X, pivot.Center.Y, pivot.Radius))
		return nil
	})
}

// pushStamp lowers the stamp by a fraction of dz using the stamp parameters.
func (a *app) pushStamp(ctx context.Context, dz float64) error {
	magnitude := int(0.9 * dz)
	if magnitude == 0 {
		return nil
	}
	p := a.params.Axis(motion.AxisStampZ)
	dir := motion.DirectionOf(float64(magnitude), false)
	if magnitude < 0 {
		magnitude = -magnitude
	}
	return a.rig.Move(ctx, motion.AxisStampZ, dir, magnitude, int(p.Velocity))
}

// jog moves one axis by its configured step.
func (a *app) jog(ctx context.Context, axis motion.Axis, dir motion.Direction, small bool) (int, error) {
	p := a.params.Axis(axis)
	step := p.Step
	if small {
		step = p.SmallStep
	}
	magnitude := int(step)
	if err := a.rig.Move(ctx, axis, dir, magnitude, int(p.Velocity)); err != nil {
		return 0, err
	}
	return magnitude, nil
}
