package interaction

import (
	"fmt"

	"flaketransfer/lib/geometry"

	"github.com/golang/geo/r2"
)

func (c *Controller) handleMeasuring(g Gesture, p r2.Point) error {
	s := &c.measuring

	switch g.Kind {
	case PointerDown:
		if g.Button == ButtonRight {
			c.measuring = measuringSession{}
			c.logger.Debug("ruler cleared")
			return nil
		}
		if !s.active || s.fixed {
			*s = measuringSession{start: p, end: p, active: true}
			c.logger.Debug("ruler started", "x", p.X, "y", p.Y)
			return nil
		}
		s.end = p
		s.fixed = true
		r := c.rulerLocked()
		c.notify(fmt.Sprintf("Distance: %.1f px (%.1f µm)", r.Pixels, r.Microns))

	case PointerMove:
		if s.active && !s.fixed {
			s.end = p
		}
	}
	return nil
}

func (c *Controller) rulerLocked() Ruler {
	s := c.measuring
	if !s.active {
		return Ruler{}
	}
	px := s.end.Sub(s.start).Norm()
	return Ruler{
		Start:   s.start,
		End:     s.end,
		Active:  true,
		Fixed:   s.fixed,
		Pixels:  px,
		Microns: px * c.micronsPerPixel,
	}
}

func (c *Controller) handleViewer(g Gesture) error {
	s := &c.viewer

	switch g.Kind {
	case PointerDown:
		if g.Button == ButtonLeft && c.view.Zoom > geometry.MinZoom {
			s.panning = true
			s.last = g.Pos
		}
	case PointerMove:
		if s.panning {
			c.view.PanBy(g.Pos.Sub(s.last))
			s.last = g.Pos
		}
	case PointerUp:
		s.panning = false
	case Wheel:
		if g.Delta != 0 {
			c.view.SetZoom(c.view.Zoom + wheelSign(g.Delta)*geometry.ZoomStep)
		}
	}
	return nil
}
