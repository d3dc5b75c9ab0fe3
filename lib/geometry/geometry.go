package geometry

import (
	"errors"
	"image"
	"math"

	"github.com/golang/geo/r2"
)

// ErrDegenerate is returned when a polygon has no usable area or extent.
var ErrDegenerate = errors.New("degenerate polygon")

// Centroid returns the arithmetic mean of the points.
func Centroid(pts []r2.Point) r2.Point {
	if len(pts) == 0 {
		return r2.Point{}
	}
	var sum r2.Point
	for _, p := range pts {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(pts)))
}

// EdgeLengths returns the consecutive edge lengths of a ring, closing edge last.
func EdgeLengths(ring []r2.Point) []float64 {
	n := len(ring)
	if n == 0 {
		return nil
	}
	edges := make([]float64, n)
	for i := 0; i < n; i++ {
		edges[i] = ring[(i+1)%n].Sub(ring[i]).Norm()
	}
	return edges
}

// Translate returns a copy of pts shifted by d.
func Translate(pts []r2.Point, d r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = p.Add(d)
	}
	return out
}

// Rotate returns a copy of pts rotated by degrees about center. Positive
// angles turn counter-clockwise as seen on screen (y axis pointing down).
func Rotate(pts []r2.Point, center r2.Point, degrees float64) []r2.Point {
	rad := degrees * math.Pi / 180
	a, b := math.Cos(rad), math.Sin(rad)

	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		d := p.Sub(center)
		out[i] = r2.Point{
			X: center.X + a*d.X + b*d.Y,
			Y: center.Y - b*d.X + a*d.Y,
		}
	}
	return out
}

// Contains reports whether p lies inside the ring using even-odd ray casting.
// A trailing closing vertex equal to the first one is tolerated.
func Contains(ring []r2.Point, p r2.Point) bool {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

// WithinAttraction reports whether p is strictly closer than radius to target.
func WithinAttraction(p, target r2.Point, radius float64) bool {
	return p.Sub(target).Norm() < radius
}

// Nearest returns the index of the first point within radius of p.
func Nearest(pts []r2.Point, p r2.Point, radius float64) (int, bool) {
	for i, q := range pts {
		if WithinAttraction(p, q, radius) {
			return i, true
		}
	}
	return -1, false
}

// BoundingBox returns the integer pixel box enclosing pts.
func BoundingBox(pts []r2.Point) (image.Rectangle, error) {
	if len(pts) == 0 {
		return image.Rectangle{}, ErrDegenerate
	}
	rect := r2.RectFromPoints(pts...)
	lo, hi := rect.Lo(), rect.Hi()
	box := image.Rect(
		int(math.Floor(lo.X)), int(math.Floor(lo.Y)),
		int(math.Ceil(hi.X)), int(math.Ceil(hi.Y)),
	)
	if box.Dx() <= 0 || box.Dy() <= 0 {
		return image.Rectangle{}, ErrDegenerate
	}
	return box, nil
}

// PadBox grows box by factor in each dimension, keeping its center.
func PadBox(box image.Rectangle, factor float64) image.Rectangle {
	w, h := float64(box.Dx()), float64(box.Dy())
	cx := float64(box.Min.X) + w/2
	cy := float64(box.Min.Y) + h/2

	x := int(cx - w*factor/2)
	y := int(cy - h*factor/2)
	return image.Rect(x, y, x+int(w*factor), y+int(h*factor))
}

// BoxCenter returns the integer center of a box.
func BoxCenter(box image.Rectangle) r2.Point {
	return r2.Point{
		X: float64(box.Min.X + box.Dx()/2),
		Y: float64(box.Min.Y + box.Dy()/2),
	}
}

// RotationPivot solves for the pivot that carries before onto after when
// rotated by degrees (same sense as Rotate). It returns the pivot and the
// rotation radius.
func RotationPivot(before, after r2.Point, degrees float64) (r2.Point, float64, error) {
	rad := degrees * math.Pi / 180
	a, b := math.Cos(rad), math.Sin(rad)

	det := (1-a)*(1-a) + b*b
	if det < 1e-12 {
		return r2.Point{}, 0, ErrDegenerate
	}

	// (I - R) c = after - R before
	v := r2.Point{
		X: after.X - (a*before.X + b*before.Y),
		Y: after.Y - (-b*before.X + a*before.Y),
	}
	pivot := r2.Point{
		X: ((1-a)*v.X + b*v.Y) / det,
		Y: (-b*v.X + (1-a)*v.Y) / det,
	}
	return pivot, before.Sub(pivot).Norm(), nil
}
