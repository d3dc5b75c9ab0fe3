package interaction

import (
	"errors"
	"fmt"
	"image"
	"io"

	"flaketransfer/lib/geometry"

	"github.com/golang/geo/r2"
)

var (
	ErrNotClosed     = errors.New("polygon is not closed")
	ErrEmptyFrame    = errors.New("no frame available")
	ErrTrackerActive = errors.New("a tracker is already active")
	ErrTrackingLost  = errors.New("tracking lost")
)

// Frame is a camera image. Frames returned by a FrameSource that also
// implement io.Closer are closed after use.
type Frame interface {
	Empty() bool
	Rows() int
	Cols() int
}

// FrameSource yields the latest camera frame, or false before the first one.
type FrameSource interface {
	CurrentFrame() (Frame, bool)
}

// BoxTracker follows one bounding box from frame to frame.
type BoxTracker interface {
	Init(frame Frame, box image.Rectangle) error
	Update(frame Frame) (image.Rectangle, error)
	Close() error
}

// TrackerFactory creates a fresh tracker instance.
type TrackerFactory func() (BoxTracker, error)

// PadFactor is how much the polygon bounding box grows before tracking.
const PadFactor = 1.2

// TrackedObject binds one tracker to the box and center it last reported.
type TrackedObject struct {
	tracker BoxTracker
	box     image.Rectangle
	center  r2.Point
}

func startTracking(newTracker TrackerFactory, frame Frame, ring []r2.Point) (*TrackedObject, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	box, err := geometry.BoundingBox(ring)
	if err != nil {
		return nil, fmt.Errorf("bounding box: %w", err)
	}
	box = geometry.PadBox(box, PadFactor).Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if box.Dx() <= 0 || box.Dy() <= 0 {
		return nil, fmt.Errorf("bounding box outside frame: %w", geometry.ErrDegenerate)
	}

	tracker, err := newTracker()
	if err != nil {
		return nil, fmt.Errorf("create tracker: %w", err)
	}
	if err := tracker.Init(frame, box); err != nil {
		tracker.Close()
		return nil, fmt.Errorf("init tracker: %w", err)
	}

	return &TrackedObject{
		tracker: tracker,
		box:     box,
		center:  geometry.BoxCenter(box),
	}, nil
}

// Box returns the last reported tracker box.
func (t *TrackedObject) Box() image.Rectangle {
	return t.box
}

// Update asks the tracker for the new box and returns the polygon shift in
// frame coordinates. A missing frame is a no-op.
func (t *TrackedObject) Update(frame Frame, zoom float64) (r2.Point, error) {
	if frame == nil || frame.Empty() {
		return r2.Point{}, nil
	}
	box, err := t.tracker.Update(frame)
	if err != nil {
		return r2.Point{}, fmt.Errorf("%w: %v", ErrTrackingLost, err)
	}
	if zoom <= 0 {
		zoom = 1
	}

	center := geometry.BoxCenter(box)
	shift := center.Sub(t.center).Mul(1 / zoom)
	t.center = center
	t.box = box
	return shift, nil
}

// Close releases the tracker.
func (t *TrackedObject) Close() error {
	return t.tracker.Close()
}

func closeFrame(f Frame) {
	if c, ok := f.(io.Closer); ok {
		c.Close()
	}
}
