package interaction

import (
	"flaketransfer/lib/geometry"

	"github.com/golang/geo/r2"
)

func (c *Controller) handleDrawing(g Gesture, p r2.Point) error {
	s := &c.drawing
	r := c.attraction()

	switch g.Kind {
	case PointerDown:
		if g.Button == ButtonRight {
			c.eraseDrawing()
			return nil
		}
		c.drawingDown(p, r)

	case PointerMove:
		switch {
		case s.drag == dragCurrent:
			s.poly.Translate(p.Sub(s.last))
			s.last = p
		case s.drag >= 0:
			fp := &s.finalized[s.drag]
			fp.Points = geometry.Translate(fp.Points, p.Sub(s.last))
			s.last = p
		case !s.poly.Closed():
			s.highlight, _ = geometry.Nearest(s.poly.Vertices(), p, r)
		}

	case PointerUp:
		if s.drag == dragCurrent {
			prof := s.poly.Profile()
			c.logger.Info("drawing polygon moved", "center", prof.Center)
		}
		s.drag = dragNone

	case Wheel:
		if s.poly.Closed() && g.Delta != 0 {
			s.poly.Rotate(wheelSign(g.Delta))
			c.logger.Debug("drawing polygon rotated", "angle", s.poly.Profile().Angle)
		}
	}
	return nil
}

func (c *Controller) drawingDown(p r2.Point, r float64) {
	s := &c.drawing

	if s.poly.Contains(p) {
		s.drag = dragCurrent
		s.last = p
		return
	}
	if s.poly.Closed() || s.poly.Empty() {
		for i := len(s.finalized) - 1; i >= 0; i-- {
			if geometry.Contains(s.finalized[i].Points, p) {
				s.drag = i
				s.last = p
				return
			}
		}
	}

	if s.poly.Closed() {
		s.finalized = append(s.finalized, ColoredPolygon{Points: s.poly.Vertices(), Color: Palette[s.color]})
		s.color = (s.color + 1) % len(Palette)
		s.poly.Reset()
		c.notify("Polygon finalized", "count", len(s.finalized))
	}

	switch s.poly.AddVertex(p, r) {
	case PolygonClosed:
		s.highlight = -1
		c.notify("Polygon closed", "center", s.poly.Profile().Center)
	case VertexAdded:
		if s.poly.Len() == 1 {
			c.notify("Polygon started")
		}
	case VertexIgnored:
		c.logger.Debug("vertex ignored", "x", p.X, "y", p.Y)
	}
}

// eraseDrawing discards the polygon in progress, or the newest finalized one.
func (c *Controller) eraseDrawing() {
	s := &c.drawing
	s.drag = dragNone
	s.highlight = -1

	switch {
	case !s.poly.Empty():
		s.poly.Reset()
		c.notify("Polygon erased")
	case len(s.finalized) > 0:
		s.finalized = s.finalized[:len(s.finalized)-1]
		c.notify("Finalized polygon removed", "remaining", len(s.finalized))
	}
}

func wheelSign(delta int) float64 {
	if delta > 0 {
		return 1
	}
	return -1
}
