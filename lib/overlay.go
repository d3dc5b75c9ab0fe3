package lib

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"flaketransfer/lib/interaction"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"
)

// Drawing colors, BGR.
var (
	green  = color.RGBA{0, 255, 0, 0}
	red    = color.RGBA{0, 0, 255, 0}
	blue   = color.RGBA{255, 0, 0, 0}
	yellow = color.RGBA{0, 255, 255, 0}
	white  = color.RGBA{255, 255, 255, 0}
	black  = color.RGBA{0, 0, 0, 0}
)

// ScaleBarPixels is the on-screen length of the scale bar.
const ScaleBarPixels = 100

// Overlay renders the interaction state over camera frames.
type Overlay struct {
	// Scalebar returns the micrometres spanned by the scale bar at zoom 1.
	Scalebar func() float64
	Notices  *interaction.Notices
}

func toPoints(pts []r2.Point) []image.Point {
	out := make([]image.Point, len(pts))
	for i, p := range pts {
		out[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	return out
}

func drawPolygon(img *gocv.Mat, pts []r2.Point, closed bool, c color.RGBA, thickness int) {
	if len(pts) == 0 {
		return
	}
	ipts := toPoints(pts)
	if len(ipts) > 1 {
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{ipts})
		gocv.Polylines(img, pv, closed, c, thickness)
		pv.Close()
	}
	for _, p := range ipts {
		gocv.Circle(img, p, 3, c, -1)
	}
}

func drawHighlight(img *gocv.Mat, p *r2.Point, radius float64) {
	if p == nil {
		return
	}
	center := toPoints([]r2.Point{*p})[0]
	gocv.Circle(img, center, int(radius), yellow, 1)
}

// DrawFrame draws polygons, the tracker box and the ruler in frame
// coordinates.
func (o *Overlay) DrawFrame(img *gocv.Mat, snap interaction.Snapshot) {
	for _, fp := range snap.Finalized {
		drawPolygon(img, fp.Points, true, fp.Color, 2)
	}
	drawPolygon(img, snap.Drawing, snap.DrawingClosed, snap.DrawingColor, 2)
	drawHighlight(img, snap.DrawingHighlight, snap.Attraction)

	trackColor := yellow
	switch {
	case snap.TrackingFailed:
		trackColor = red
	case snap.TrackingActive:
		trackColor = green
	}
	drawPolygon(img, snap.Tracking, snap.TrackingClosed, trackColor, 2)
	drawHighlight(img, snap.TrackingHighlight, snap.Attraction)
	if snap.TrackingActive && !snap.TrackerBox.Empty() {
		gocv.Rectangle(img, snap.TrackerBox, blue, 1)
	}

	if r := snap.Ruler; r.Active || r.Fixed {
		drawRuler(img, r)
	}
}

func drawRuler(img *gocv.Mat, r interaction.Ruler) {
	pts := toPoints([]r2.Point{r.Start, r.End})
	start, end := pts[0], pts[1]
	const capLength = 10
	gocv.Line(img, start, end, green, 2)
	gocv.Line(img, image.Pt(start.X, start.Y-capLength), image.Pt(start.X, start.Y+capLength), green, 2)
	gocv.Line(img, image.Pt(end.X, end.Y-capLength), image.Pt(end.X, end.Y+capLength), green, 2)

	text := fmt.Sprintf("%.0f px / %.1f um", r.Pixels, r.Microns)
	pos := image.Pt((start.X+end.X)/2, (start.Y+end.Y)/2+20)
	gocv.PutText(img, text, pos, gocv.FontHersheySimplex, 0.5, green, 1)
}

// DrawHUD draws the border, mode, status line and scale bar in display
// coordinates.
func (o *Overlay) DrawHUD(img *gocv.Mat, snap interaction.Snapshot) {
	w, h := img.Cols(), img.Rows()
	gocv.Rectangle(img, image.Rect(0, 0, w, h), black, 10)

	gocv.PutText(img, "Mode: "+snap.Mode.String(), image.Pt(15, 30), gocv.FontHersheyPlain, 1.2, white, 2)
	if snap.View.Zoom > 1 {
		gocv.PutText(img, fmt.Sprintf("Zoom: %.1fx", snap.View.Zoom), image.Pt(15, 50), gocv.FontHersheyPlain, 1.2, white, 2)
	}
	if snap.TrackingFailed {
		gocv.PutText(img, "Tracking failure detected", image.Pt(15, 75), gocv.FontHersheySimplex, 0.75, red, 2)
	}
	if o.Notices != nil {
		if msg := o.Notices.Latest(); msg != "" {
			gocv.PutText(img, msg, image.Pt(15, h-50), gocv.FontHersheyPlain, 1.1, white, 1)
		}
	}
	o.drawScaleBar(img, snap.View.Zoom)
}

func (o *Overlay) drawScaleBar(img *gocv.Mat, zoom float64) {
	if o.Scalebar == nil {
		return
	}
	if zoom <= 0 {
		zoom = 1
	}
	left := image.Pt(20, img.Rows()-20)
	right := image.Pt(left.X+ScaleBarPixels, left.Y)
	gocv.Line(img, left, right, red, 2)
	gocv.Line(img, image.Pt(left.X, left.Y-5), image.Pt(left.X, left.Y+5), red, 2)
	gocv.Line(img, image.Pt(right.X, right.Y-5), image.Pt(right.X, right.Y+5), red, 2)

	text := fmt.Sprintf("%.1f um", o.Scalebar()/zoom)
	gocv.PutText(img, text, image.Pt(right.X+5, right.Y), gocv.FontHersheySimplex, 0.6, red, 2)
}
