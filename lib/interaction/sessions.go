package interaction

import (
	"image/color"

	"github.com/golang/geo/r2"
)

// Palette colors are in BGR channel order, as consumed by the renderer.
var Palette = []color.RGBA{
	{255, 0, 0, 0},
	{0, 0, 255, 0},
	{255, 255, 0, 0},
	{255, 0, 255, 0},
	{0, 255, 255, 0},
	{255, 255, 255, 0},
}

// ColoredPolygon is a finalized drawing-mode polygon.
type ColoredPolygon struct {
	Points []r2.Point
	Color  color.RGBA
}

const (
	dragNone    = -2
	dragCurrent = -1
)

type drawingSession struct {
	poly      Polygon
	color     int
	finalized []ColoredPolygon
	drag      int
	last      r2.Point
	highlight int
}

type trackingSession struct {
	poly      Polygon
	dragging  bool
	armed     bool // next pointer-up starts the tracker
	last      r2.Point
	highlight int
	tracked   *TrackedObject
	failed    bool
}

type measuringSession struct {
	start, end r2.Point
	active     bool
	fixed      bool
}

type viewerSession struct {
	panning bool
	last    r2.Point
}

// Ruler is the measuring-mode line.
type Ruler struct {
	Start   r2.Point
	End     r2.Point
	Active  bool
	Fixed   bool
	Pixels  float64
	Microns float64
}
