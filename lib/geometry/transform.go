package geometry

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
)

// Zoom limits and step used by the viewer.
const (
	MinZoom  = 1.0
	MaxZoom  = 5.0
	ZoomStep = 0.1
)

// ViewTransform maps between display pixels and frame pixels. The display
// shows the crop window of size Frame/Zoom whose top-left corner is Pan,
// scaled to Display.
type ViewTransform struct {
	Frame   image.Point
	Display image.Point
	Zoom    float64
	Pan     r2.Point
}

// NewViewTransform returns an unzoomed transform.
func NewViewTransform(frame, display image.Point) ViewTransform {
	return ViewTransform{Frame: frame, Display: display, Zoom: 1}
}

// scale is the number of frame pixels per display pixel on each axis.
func (v ViewTransform) scale() r2.Point {
	zoom := v.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	if v.Display.X == 0 || v.Display.Y == 0 {
		return r2.Point{X: 1 / zoom, Y: 1 / zoom}
	}
	return r2.Point{
		X: float64(v.Frame.X) / zoom / float64(v.Display.X),
		Y: float64(v.Frame.Y) / zoom / float64(v.Display.Y),
	}
}

// ToFrame maps a display position to frame coordinates.
func (v ViewTransform) ToFrame(p r2.Point) r2.Point {
	s := v.scale()
	return r2.Point{X: p.X*s.X + v.Pan.X, Y: p.Y*s.Y + v.Pan.Y}
}

// ToDisplay maps a frame position to display coordinates.
func (v ViewTransform) ToDisplay(p r2.Point) r2.Point {
	s := v.scale()
	return r2.Point{X: (p.X - v.Pan.X) / s.X, Y: (p.Y - v.Pan.Y) / s.Y}
}

// Crop returns the frame region visible on the display.
func (v ViewTransform) Crop() image.Rectangle {
	zoom := math.Max(v.Zoom, MinZoom)
	w := int(float64(v.Frame.X) / zoom)
	h := int(float64(v.Frame.Y) / zoom)
	x, y := int(v.Pan.X), int(v.Pan.Y)
	return image.Rect(x, y, x+w, y+h).Intersect(image.Rectangle{Max: v.Frame})
}

// SetZoom clamps z into the zoom range and keeps the crop center fixed.
func (v *ViewTransform) SetZoom(z float64) {
	z = math.Max(MinZoom, math.Min(MaxZoom, z))
	if v.Zoom <= 0 {
		v.Zoom = 1
	}
	center := r2.Point{
		X: v.Pan.X + float64(v.Frame.X)/v.Zoom/2,
		Y: v.Pan.Y + float64(v.Frame.Y)/v.Zoom/2,
	}
	v.Zoom = z
	v.Pan = r2.Point{
		X: center.X - float64(v.Frame.X)/z/2,
		Y: center.Y - float64(v.Frame.Y)/z/2,
	}
	v.clampPan()
}

// PanBy drags the crop window by a display-space delta.
func (v *ViewTransform) PanBy(delta r2.Point) {
	s := v.scale()
	v.Pan = r2.Point{X: v.Pan.X - delta.X*s.X, Y: v.Pan.Y - delta.Y*s.Y}
	v.clampPan()
}

// SetFrame updates the frame size, keeping the pan inside the new bounds.
func (v *ViewTransform) SetFrame(size image.Point) {
	v.Frame = size
	v.clampPan()
}

func (v *ViewTransform) clampPan() {
	zoom := math.Max(v.Zoom, MinZoom)
	maxX := float64(v.Frame.X) - float64(v.Frame.X)/zoom
	maxY := float64(v.Frame.Y) - float64(v.Frame.Y)/zoom
	v.Pan.X = math.Max(0, math.Min(maxX, v.Pan.X))
	v.Pan.Y = math.Max(0, math.Min(maxY, v.Pan.Y))
}
