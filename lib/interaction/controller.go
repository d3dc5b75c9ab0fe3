package interaction

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"

	"flaketransfer/lib/geometry"

	"github.com/golang/geo/r2"
)

// Config holds the controller settings.
type Config struct {
	FrameSize        image.Point
	DisplaySize      image.Point
	AttractionRadius float64 // snap radius in frame pixels at zoom 1
	MicronsPerPixel  float64
}

// DefaultConfig returns settings for a 640x480 camera shown at native size.
func DefaultConfig() Config {
	return Config{
		FrameSize:        image.Pt(640, 480),
		DisplaySize:      image.Pt(640, 480),
		AttractionRadius: 20,
		MicronsPerPixel:  1,
	}
}

// Controller owns all interaction state. Gestures, per-frame tracker
// updates and reads for rendering or alignment are serialized on one lock.
type Controller struct {
	config     Config
	frames     FrameSource
	newTracker TrackerFactory
	notices    *Notices
	logger     *slog.Logger

	mu              sync.Mutex
	mode            Mode
	view            geometry.ViewTransform
	micronsPerPixel float64
	drawing         drawingSession
	tracking        trackingSession
	measuring       measuringSession
	viewer          viewerSession
}

// NewController creates a controller in default mode.
func NewController(config Config, frames FrameSource, newTracker TrackerFactory, notices *Notices, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if notices == nil {
		notices = NewNotices(0)
	}
	c := &Controller{
		config:          config,
		frames:          frames,
		newTracker:      newTracker,
		notices:         notices,
		logger:          logger.With("component", "interaction"),
		mode:            ModeDefault,
		view:            geometry.NewViewTransform(config.FrameSize, config.DisplaySize),
		micronsPerPixel: config.MicronsPerPixel,
	}
	c.drawing.drag = dragNone
	c.drawing.highlight = -1
	c.tracking.highlight = -1
	return c
}

func (c *Controller) notify(msg string, args ...any) {
	c.logger.Info(msg, args...)
	c.notices.Push(msg)
}

// Notices returns the status log shared with the controller.
func (c *Controller) Notices() *Notices {
	return c.notices
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the session that receives gestures. Drag gestures in
// progress are dropped.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m == c.mode {
		return
	}
	c.drawing.drag = dragNone
	c.tracking.dragging = false
	c.viewer.panning = false
	c.mode = m

	switch m {
	case ModeDrawing:
		c.notify("Start designing a device...")
	case ModeTracking:
		c.notify("Continue tracking...")
	case ModeMeasuring:
		c.notify("Measuring...")
	default:
		c.notify("Viewing")
	}
}

// HandleGesture maps a display-space gesture into frame space and hands it
// to the session of the active mode.
func (c *Controller) HandleGesture(g Gesture) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.view.ToFrame(g.Pos)
	switch c.mode {
	case ModeDrawing:
		return c.handleDrawing(g, p)
	case ModeTracking:
		return c.handleTracking(g, p)
	case ModeMeasuring:
		return c.handleMeasuring(g, p)
	case ModeDefault:
		return c.handleViewer(g)
	default:
		return fmt.Errorf("no handler for %v", c.mode)
	}
}

// attraction is the snap radius for the current zoom.
func (c *Controller) attraction() float64 {
	return c.config.AttractionRadius * c.view.Zoom
}

// ZoomBy changes the zoom by steps of geometry.ZoomStep.
func (c *Controller) ZoomBy(steps int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.SetZoom(c.view.Zoom + float64(steps)*geometry.ZoomStep)
	c.logger.Debug("zoom", "zoom", c.view.Zoom)
	return c.view.Zoom
}

// View returns the current display transform.
func (c *Controller) View() geometry.ViewTransform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// SetMicronsPerPixel sets the ruler and scale bar calibration.
func (c *Controller) SetMicronsPerPixel(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.micronsPerPixel = v
}

// ProcessFrame runs the tracker once for a newly delivered frame and
// returns the state to render for it.
func (c *Controller) ProcessFrame(frame Frame) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if frame != nil && !frame.Empty() {
		size := image.Pt(frame.Cols(), frame.Rows())
		if size != c.view.Frame {
			c.view.SetFrame(size)
		}
	}

	s := &c.tracking
	if s.tracked != nil && !s.dragging {
		shift, err := s.tracked.Update(frame, c.view.Zoom)
		switch {
		case err != nil:
			c.stopTracker()
			s.failed = true
			c.logger.Warn("tracker update failed", "err", err)
			c.notices.Push("Tracking failure detected")
		case shift != (r2.Point{}):
			s.poly.Translate(shift)
		}
	}
	return c.snapshotLocked()
}

// stopTracker tears down the live tracker, if any.
func (c *Controller) stopTracker() {
	s := &c.tracking
	if s.tracked == nil {
		return
	}
	if err := s.tracked.Close(); err != nil {
		c.logger.Warn("tracker close failed", "err", err)
	}
	s.tracked = nil
}

// Snapshot is a consistent copy of everything the renderer needs.
type Snapshot struct {
	Mode            Mode
	View            geometry.ViewTransform
	Attraction      float64
	MicronsPerPixel float64

	Drawing          []r2.Point
	DrawingClosed    bool
	DrawingColor     color.RGBA
	DrawingHighlight *r2.Point
	Finalized        []ColoredPolygon

	Tracking          []r2.Point
	TrackingClosed    bool
	TrackingActive    bool
	TrackingFailed    bool
	TrackerBox        image.Rectangle
	TrackingHighlight *r2.Point

	Ruler Ruler
}

// Snapshot returns the current state for rendering.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Mode:            c.mode,
		View:            c.view,
		Attraction:      c.attraction(),
		MicronsPerPixel: c.micronsPerPixel,
		Drawing:         c.drawing.poly.Vertices(),
		DrawingClosed:   c.drawing.poly.Closed(),
		DrawingColor:    Palette[c.drawing.color],
		Tracking:        c.tracking.poly.Vertices(),
		TrackingClosed:  c.tracking.poly.Closed(),
		TrackingActive:  c.tracking.tracked != nil,
		TrackingFailed:  c.tracking.failed,
		Ruler:           c.rulerLocked(),
	}
	for _, fp := range c.drawing.finalized {
		snap.Finalized = append(snap.Finalized, ColoredPolygon{
			Points: append([]r2.Point(nil), fp.Points...),
			Color:  fp.Color,
		})
	}
	if c.tracking.tracked != nil {
		snap.TrackerBox = c.tracking.tracked.Box()
	}
	if h := c.drawing.highlight; h >= 0 && h < c.drawing.poly.Len() {
		p := snap.Drawing[h]
		snap.DrawingHighlight = &p
	}
	if h := c.tracking.highlight; h >= 0 && h < c.tracking.poly.Len() {
		p := snap.Tracking[h]
		snap.TrackingHighlight = &p
	}
	return snap
}

// TargetProfile returns the drawing-mode polygon profile.
func (c *Controller) TargetProfile() (Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.drawing.poly.Closed() {
		return Profile{}, false
	}
	return c.drawing.poly.Profile(), true
}

// TrackedProfile returns the tracked polygon profile while tracking is live.
func (c *Controller) TrackedProfile() (Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracking.poly.Closed() || c.tracking.tracked == nil {
		return Profile{}, false
	}
	return c.tracking.poly.Profile(), true
}

// TargetCenter returns the drawing-mode polygon center.
func (c *Controller) TargetCenter() (r2.Point, bool) {
	p, ok := c.TargetProfile()
	return p.Center, ok
}

// TrackedCenter returns the tracked polygon center while tracking is live.
func (c *Controller) TrackedCenter() (r2.Point, bool) {
	p, ok := c.TrackedProfile()
	return p.Center, ok
}

// TargetAngle returns the rotation applied to the drawing-mode polygon
// since it was closed.
func (c *Controller) TargetAngle() float64 {
	p, _ := c.TargetProfile()
	return p.Angle
}

// TargetBox returns the bounding box of the drawing-mode polygon.
func (c *Controller) TargetBox() (image.Rectangle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.drawing.poly.Closed() {
		return image.Rectangle{}, false
	}
	box, err := geometry.BoundingBox(c.drawing.poly.Ring())
	return box, err == nil
}
