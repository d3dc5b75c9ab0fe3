package align

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"flaketransfer/lib/geometry"
	"flaketransfer/lib/motion"
	"flaketransfer/lib/motion/motiontest"

	"github.com/golang/geo/r2"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// plant moves the tracked center in response to stage commands.
type plant struct {
	center     r2.Point
	target     r2.Point
	hasTarget  bool
	angle      float64
	lost       bool
	unitsPerPx float64
	drift      r2.Point // per forward rotator unit
	pivot      *r2.Point
	pivotDeg   float64
}

func (p *plant) TrackedCenter() (r2.Point, bool) { return p.center, !p.lost }
func (p *plant) TargetCenter() (r2.Point, bool)  { return p.target, p.hasTarget }
func (p *plant) TargetAngle() float64            { return p.angle }

func (p *plant) apply(c motiontest.Command) {
	signed := float64(int(c.Dir) * c.Magnitude)
	switch c.Axis {
	case motion.AxisSampleX:
		p.center.X -= signed / p.unitsPerPx
	case motion.AxisSampleY:
		p.center.Y += signed / p.unitsPerPx
	case motion.AxisRotator:
		if p.pivot != nil {
			deg := p.pivotDeg
			if c.Dir == motion.Reverse {
				deg = -deg
			}
			p.center = geometry.Rotate([]r2.Point{p.center}, *p.pivot, deg)[0]
			return
		}
		p.center = p.center.Add(p.drift.Mul(float64(c.Dir)))
	}
}

func newTestAligner(cfg Config, rec *motiontest.Recorder, p *plant) *Aligner {
	rec.OnMove = p.apply
	a := NewAligner(cfg, rec, p, nil, discardLogger)
	a.settle = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return a
}

func TestCenteringConverges(t *testing.T) {
	rec := motiontest.NewRecorder()
	p := &plant{center: r2.Point{X: 400, Y: 180}, target: r2.Point{X: 250, Y: 240}, hasTarget: true, unitsPerPx: 1}

	res, err := newTestAligner(DefaultConfig(), rec, p).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusConverged {
		t.Fatalf("status = %v after %d iterations (error %v)", res.Status, res.Iterations, res.Error)
	}
	if math.Abs(res.Error.X) > 1 || math.Abs(res.Error.Y) > 1 {
		t.Fatalf("converged with error %v", res.Error)
	}
	if res.Iterations > 20 {
		t.Fatalf("iterations = %d", res.Iterations)
	}
	for _, c := range rec.Moves("") {
		if c.Rate != 500 {
			t.Fatalf("pid move at rate %d", c.Rate)
		}
	}
}

func TestCenteringIncompleteAtMaxIterations(t *testing.T) {
	rec := motiontest.NewRecorder()
	p := &plant{center: r2.Point{X: 400, Y: 180}, target: r2.Point{X: 250, Y: 240}, hasTarget: true, unitsPerPx: 1}
	cfg := DefaultConfig()
	cfg.MaxIterations = 2

	res, err := newTestAligner(cfg, rec, p).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusIncomplete {
		t.Fatalf("status = %v, want incomplete", res.Status)
	}
	if res.Iterations != 2 {
		t.Fatalf("iterations = %d, want 2", res.Iterations)
	}
}

func TestRotationRecentersEachStep(t *testing.T) {
	rec := motiontest.NewRecorder()
	start := r2.Point{X: 320, Y: 240}
	p := &plant{
		center: start, target: start, hasTarget: true,
		angle: 3.7, unitsPerPx: 10, drift: r2.Point{X: 4, Y: -2},
	}
	cfg := DefaultConfig()
	cfg.Conversion = Conversion{X: 10, Y: 10, Rotate: 150}

	res, err := newTestAligner(cfg, rec, p).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RotationSteps != 3 {
		t.Fatalf("rotation steps = %d, want 3", res.RotationSteps)
	}
	if res.Status != StatusConverged || res.Iterations != 0 {
		t.Fatalf("status = %v after %d iterations", res.Status, res.Iterations)
	}

	moves := rec.Moves("")
	if len(moves) != 9 {
		t.Fatalf("moves = %d, want 9: %+v", len(moves), moves)
	}
	for i := 0; i < 3; i++ {
		rot, x, y := moves[3*i], moves[3*i+1], moves[3*i+2]
		if rot.Axis != motion.AxisRotator || rot.Dir != motion.Forward || rot.Magnitude != 150 || rot.Rate != 10 {
			t.Fatalf("step %d rotation = %+v", i, rot)
		}
		if x.Axis != motion.AxisSampleX || x.Dir != motion.Forward || x.Magnitude != 40 {
			t.Fatalf("step %d x correction = %+v", i, x)
		}
		// Y is inverted: a negative offset drives the stage forward
		if y.Axis != motion.AxisSampleY || y.Dir != motion.Forward || y.Magnitude != 20 {
			t.Fatalf("step %d y correction = %+v", i, y)
		}
	}
	if p.center != start {
		t.Fatalf("center drifted to %v", p.center)
	}
}

func TestNegativeAngleRotatesReverse(t *testing.T) {
	rec := motiontest.NewRecorder()
	p := &plant{center: r2.Point{X: 1, Y: 1}, target: r2.Point{X: 1, Y: 1}, hasTarget: true, angle: -2, unitsPerPx: 1}

	if _, err := newTestAligner(DefaultConfig(), rec, p).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rot := rec.Moves(motion.AxisRotator)
	if len(rot) != 2 || rot[0].Dir != motion.Reverse {
		t.Fatalf("rotator moves = %+v", rot)
	}
}

func TestCancellationStopsAlignment(t *testing.T) {
	rec := motiontest.NewRecorder()
	p := &plant{center: r2.Point{X: 400, Y: 180}, target: r2.Point{X: 250, Y: 240}, hasTarget: true, unitsPerPx: 1}
	a := newTestAligner(DefaultConfig(), rec, p)

	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	rec.OnMove = func(c motiontest.Command) {
		p.apply(c)
		n++
		if n == 4 {
			cancel()
		}
	}

	res, err := a.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("status = %v, want cancelled", res.Status)
	}
	if got := len(rec.Moves("")); got != 4 {
		t.Fatalf("moves = %d, want 4", got)
	}
}

func TestRequiresTargetAndTracking(t *testing.T) {
	rec := motiontest.NewRecorder()
	res, err := newTestAligner(DefaultConfig(), rec, &plant{unitsPerPx: 1}).Run(context.Background())
	if !errors.Is(err, ErrNoTarget) || res.Status != StatusFailed {
		t.Fatalf("no target: %v %v", res.Status, err)
	}

	_, err = newTestAligner(DefaultConfig(), rec, &plant{hasTarget: true, lost: true, unitsPerPx: 1}).Run(context.Background())
	if !errors.Is(err, ErrNoTracking) {
		t.Fatalf("lost tracking: %v", err)
	}
	if len(rec.Commands()) != 0 {
		t.Fatalf("commands issued: %+v", rec.Commands())
	}
}

func TestCalibrateMovesTargetToAim(t *testing.T) {
	rec := motiontest.NewRecorder()
	p := &plant{target: r2.Point{X: 400, Y: 300}, hasTarget: true, unitsPerPx: 2}
	cfg := DefaultConfig()
	cfg.Calibration = Conversion{X: 0.5, Y: 0.5}

	offset, err := newTestAligner(cfg, rec, p).Calibrate(context.Background(), r2.Point{X: 320, Y: 240})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if offset != (r2.Point{X: 80, Y: 60}) {
		t.Fatalf("offset = %v", offset)
	}
	moves := rec.Moves("")
	if len(moves) != 2 {
		t.Fatalf("moves = %+v", moves)
	}
	if moves[0].Axis != motion.AxisSampleX || moves[0].Dir != motion.Forward || moves[0].Magnitude != 40 {
		t.Fatalf("x move = %+v", moves[0])
	}
	if moves[1].Axis != motion.AxisSampleY || moves[1].Dir != motion.Reverse || moves[1].Magnitude != 30 {
		t.Fatalf("y move = %+v", moves[1])
	}
}

func TestEstimatePivot(t *testing.T) {
	rec := motiontest.NewRecorder()
	pivot := r2.Point{X: 300, Y: 200}
	p := &plant{center: r2.Point{X: 400, Y: 200}, unitsPerPx: 1, pivot: &pivot, pivotDeg: -1}

	got, err := newTestAligner(DefaultConfig(), rec, p).EstimatePivot(context.Background())
	if err != nil {
		t.Fatalf("EstimatePivot: %v", err)
	}
	if got.Center.Sub(pivot).Norm() > 1e-6 {
		t.Fatalf("pivot = %v, want %v", got.Center, pivot)
	}
	if math.Abs(got.Radius-100) > 1e-6 {
		t.Fatalf("radius = %v, want 100", got.Radius)
	}

	rot := rec.Moves(motion.AxisRotator)
	if len(rot) != 2 || rot[0].Dir != motion.Forward || rot[1].Dir != motion.Reverse {
		t.Fatalf("rotator moves = %+v", rot)
	}
	if p.center.Sub(r2.Point{X: 400, Y: 200}).Norm() > 1e-9 {
		t.Fatalf("rotator not restored, center %v", p.center)
	}
}

func TestNewConversion(t *testing.T) {
	c := NewConversion(Optics{Rescale: r2.Point{X: 25580, Y: 19400}, Frame: image.Pt(640, 480)}, 500, 500, 1000, 500)
	if math.Abs(c.X-25580.0/640) > 1e-9 || math.Abs(c.Y-19400.0/480) > 1e-9 {
		t.Fatalf("conversion = %+v", c)
	}
	if c.Rotate != 150000 {
		t.Fatalf("rotate = %v", c.Rotate)
	}
}

func TestNewConversionWithoutRotatorStep(t *testing.T) {
	c := NewConversion(Optics{Rescale: r2.Point{X: 25580, Y: 19400}, Frame: image.Pt(640, 480)}, 500, 500, 0, 500)
	if c.Rotate != 0 {
		t.Fatalf("rotate = %v, want 0", c.Rotate)
	}
	if c.X == 0 || c.Y == 0 {
		t.Fatalf("translation lost: %+v", c)
	}
}

func TestZeroRotatorConversionFails(t *testing.T) {
	rec := motiontest.NewRecorder()
	p := &plant{center: r2.Point{X: 1, Y: 1}, target: r2.Point{X: 1, Y: 1}, hasTarget: true, angle: 5, unitsPerPx: 1}
	cfg := DefaultConfig()
	cfg.Conversion.Rotate = 0

	res, err := newTestAligner(cfg, rec, p).Run(context.Background())
	if !errors.Is(err, ErrNoRotatorStep) || res.Status != StatusFailed {
		t.Fatalf("run: %v %v", res.Status, err)
	}
	if res.RotationSteps != 0 || len(rec.Commands()) != 0 {
		t.Fatalf("commands issued: %+v", rec.Commands())
	}

	cfg.Calibration.Rotate = 0.4
	if _, err := newTestAligner(cfg, rec, p).EstimatePivot(context.Background()); !errors.Is(err, ErrNoRotatorStep) {
		t.Fatalf("pivot: %v", err)
	}
	if len(rec.Commands()) != 0 {
		t.Fatalf("commands issued: %+v", rec.Commands())
	}
}
