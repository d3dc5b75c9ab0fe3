package geometry

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
)

const eps = 1e-9

func square() []r2.Point {
	return []r2.Point{{X: 100, Y: 100}, {X: 200, Y: 100}, {X: 200, Y: 200}, {X: 100, Y: 200}}
}

func TestCentroid(t *testing.T) {
	c := Centroid(square())
	if c != (r2.Point{X: 150, Y: 150}) {
		t.Fatalf("centroid = %v, want (150,150)", c)
	}
	if got := Centroid(nil); got != (r2.Point{}) {
		t.Fatalf("empty centroid = %v", got)
	}
}

func TestEdgeLengthsIncludesClosingEdge(t *testing.T) {
	ring := []r2.Point{{X: 0, Y: 0}, {X: 3, Y: 0}, {X: 3, Y: 4}}
	edges := EdgeLengths(ring)
	if len(edges) != len(ring) {
		t.Fatalf("len(edges) = %d, want %d", len(edges), len(ring))
	}
	want := []float64{3, 4, 5}
	for i := range want {
		if math.Abs(edges[i]-want[i]) > eps {
			t.Fatalf("edge %d = %v, want %v", i, edges[i], want[i])
		}
	}
}

func TestRotateSquareKeepsRadius(t *testing.T) {
	center := r2.Point{X: 150, Y: 150}
	rotated := Rotate(square(), center, 1)
	for i, p := range rotated {
		d := p.Sub(center).Norm()
		if math.Abs(d-70.71067811865476) > 1e-6 {
			t.Fatalf("corner %d at distance %v from center", i, d)
		}
	}
	if c := Centroid(rotated); c.Sub(center).Norm() > 1e-9 {
		t.Fatalf("centroid moved to %v", c)
	}
}

func TestRigidTransformsPreserveEdges(t *testing.T) {
	ring := []r2.Point{{X: 12, Y: 40}, {X: 90, Y: 33}, {X: 120, Y: 140}, {X: 30, Y: 110}}
	before := EdgeLengths(ring)

	moved := Translate(ring, r2.Point{X: -17.5, Y: 42.25})
	rotated := Rotate(ring, Centroid(ring), -37)

	for _, pts := range [][]r2.Point{moved, rotated} {
		after := EdgeLengths(pts)
		for i := range before {
			if math.Abs(before[i]-after[i]) > 1e-9 {
				t.Fatalf("edge %d changed: %v -> %v", i, before[i], after[i])
			}
		}
	}
}

func TestRotateDirection(t *testing.T) {
	// +90 degrees takes the point right of the center to the point above it.
	got := Rotate([]r2.Point{{X: 10, Y: 0}}, r2.Point{}, 90)[0]
	if math.Abs(got.X) > eps || math.Abs(got.Y+10) > eps {
		t.Fatalf("rotate = %v, want (0,-10)", got)
	}
}

func TestContains(t *testing.T) {
	ring := append(square(), square()[0])
	if !Contains(ring, r2.Point{X: 150, Y: 150}) {
		t.Fatal("center should be inside")
	}
	if Contains(ring, r2.Point{X: 250, Y: 150}) {
		t.Fatal("point right of square should be outside")
	}
	if Contains(ring[:2], r2.Point{X: 150, Y: 100}) {
		t.Fatal("segment cannot contain points")
	}
}

func TestWithinAttractionIsStrict(t *testing.T) {
	a := r2.Point{X: 0, Y: 0}
	if WithinAttraction(r2.Point{X: 20, Y: 0}, a, 20) {
		t.Fatal("distance equal to radius must not attract")
	}
	if !WithinAttraction(r2.Point{X: 19.9, Y: 0}, a, 20) {
		t.Fatal("distance below radius must attract")
	}
}

func TestBoundingBoxAndPadding(t *testing.T) {
	box, err := BoundingBox(square())
	if err != nil {
		t.Fatalf("BoundingBox: %v", err)
	}
	if box != image.Rect(100, 100, 200, 200) {
		t.Fatalf("box = %v", box)
	}

	padded := PadBox(box, 1.2)
	if padded != image.Rect(90, 90, 210, 210) {
		t.Fatalf("padded = %v, want (90,90)-(210,210)", padded)
	}
	if BoxCenter(padded) != BoxCenter(box) {
		t.Fatalf("padding moved center: %v vs %v", BoxCenter(padded), BoxCenter(box))
	}

	line := []r2.Point{{X: 5, Y: 5}, {X: 5, Y: 50}, {X: 5, Y: 80}}
	if _, err := BoundingBox(line); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("collinear polygon err = %v, want ErrDegenerate", err)
	}
}

func TestRotationPivot(t *testing.T) {
	pivot := r2.Point{X: 320, Y: -900}
	before := r2.Point{X: 300, Y: 240}
	after := Rotate([]r2.Point{before}, pivot, -1)[0]

	got, radius, err := RotationPivot(before, after, -1)
	if err != nil {
		t.Fatalf("RotationPivot: %v", err)
	}
	if got.Sub(pivot).Norm() > 1e-6 {
		t.Fatalf("pivot = %v, want %v", got, pivot)
	}
	if math.Abs(radius-before.Sub(pivot).Norm()) > 1e-6 {
		t.Fatalf("radius = %v", radius)
	}

	if _, _, err := RotationPivot(before, before, 0); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("zero angle err = %v", err)
	}
}
