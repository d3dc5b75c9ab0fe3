package interaction

import (
	"fmt"

	"github.com/golang/geo/r2"
)

func (c *Controller) handleTracking(g Gesture, p r2.Point) error {
	s := &c.tracking
	r := c.attraction()

	switch g.Kind {
	case PointerDown:
		if g.Button == ButtonRight {
			c.resetTracking()
			c.notify("Tracking reset")
			return nil
		}
		return c.trackingDown(p, r)

	case PointerMove:
		if s.dragging {
			s.poly.Translate(p.Sub(s.last))
			s.last = p
			return nil
		}
		s.highlight = -1
		if s.poly.ClosesAt(p, r) {
			s.highlight = 0
		}

	case PointerUp:
		s.dragging = false
		if !s.armed || !s.poly.Closed() {
			return nil
		}
		s.armed = false
		return c.startTracker()

	case DoubleClick:
		return c.copyDrawingLocked()

	case Wheel:
		if s.poly.Closed() && g.Delta != 0 {
			s.poly.Rotate(wheelSign(g.Delta))
		}
	}
	return nil
}

func (c *Controller) trackingDown(p r2.Point, r float64) error {
	s := &c.tracking

	if s.poly.Closed() {
		if !s.poly.Contains(p) {
			return nil
		}
		// the tracker is rebuilt from the new position on release
		c.stopTracker()
		s.dragging = true
		s.armed = true
		s.last = p
		return nil
	}

	switch s.poly.AddVertex(p, r) {
	case PolygonClosed:
		s.highlight = -1
		s.armed = true
		c.notify("Tracking polygon closed", "center", s.poly.Profile().Center)
	case VertexAdded:
		if s.poly.Len() == 1 {
			c.notify("Tracking polygon started")
		}
	}
	return nil
}

// startTracker binds a new tracker to the closed polygon using the current
// frame. On failure the polygon stays closed but passive.
func (c *Controller) startTracker() error {
	s := &c.tracking
	if s.tracked != nil {
		return ErrTrackerActive
	}
	if c.newTracker == nil || c.frames == nil {
		return fmt.Errorf("start tracking: %w", ErrEmptyFrame)
	}

	frame, ok := c.frames.CurrentFrame()
	if ok {
		defer closeFrame(frame)
	} else {
		frame = nil
	}

	obj, err := startTracking(c.newTracker, frame, s.poly.Ring())
	if err != nil {
		c.notify(fmt.Sprintf("Tracking not started: %v", err))
		return fmt.Errorf("start tracking: %w", err)
	}

	s.tracked = obj
	s.failed = false
	c.notify("Tracking started", "box", obj.Box().String())
	return nil
}

// resetTracking clears the tracking session and tears down its tracker.
func (c *Controller) resetTracking() {
	c.stopTracker()
	c.tracking = trackingSession{highlight: -1}
}

// StartTracking binds a tracker to the closed tracking polygon. It fails
// fast when a tracker is already live.
func (c *Controller) StartTracking() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracking.poly.Closed() {
		return fmt.Errorf("start tracking: %w", ErrNotClosed)
	}
	return c.startTracker()
}

// ResetTracking clears the tracking session.
func (c *Controller) ResetTracking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetTracking()
	c.notify("Tracking reset")
}

// CopyDrawing replaces the tracking polygon with a copy of the closed
// drawing polygon.
func (c *Controller) CopyDrawing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyDrawingLocked()
}

func (c *Controller) copyDrawingLocked() error {
	if !c.drawing.poly.Closed() {
		return fmt.Errorf("copy drawing polygon: %w", ErrNotClosed)
	}
	c.resetTracking()
	c.tracking.poly = c.drawing.poly.Clone()
	c.tracking.armed = true
	c.notify("Drawing polygon copied for tracking")
	return nil
}
