package geometry

import (
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
)

func TestViewTransformRoundTrip(t *testing.T) {
	v := NewViewTransform(image.Pt(1280, 960), image.Pt(640, 480))
	v.SetZoom(2)
	v.PanBy(r2.Point{X: -100, Y: -50})

	p := r2.Point{X: 123, Y: 321}
	back := v.ToDisplay(v.ToFrame(p))
	if back.Sub(p).Norm() > 1e-9 {
		t.Fatalf("round trip = %v, want %v", back, p)
	}
}

func TestViewTransformUnzoomedScalesByDisplayRatio(t *testing.T) {
	v := NewViewTransform(image.Pt(1280, 960), image.Pt(640, 480))
	got := v.ToFrame(r2.Point{X: 320, Y: 240})
	if got != (r2.Point{X: 640, Y: 480}) {
		t.Fatalf("ToFrame = %v, want (640,480)", got)
	}
}

func TestSetZoomKeepsCenterAndClamps(t *testing.T) {
	v := NewViewTransform(image.Pt(640, 480), image.Pt(640, 480))
	v.SetZoom(2)
	if v.Pan != (r2.Point{X: 160, Y: 120}) {
		t.Fatalf("pan = %v, want (160,120)", v.Pan)
	}
	if crop := v.Crop(); crop != image.Rect(160, 120, 480, 360) {
		t.Fatalf("crop = %v", crop)
	}

	v.SetZoom(50)
	if v.Zoom != MaxZoom {
		t.Fatalf("zoom = %v, want %v", v.Zoom, MaxZoom)
	}
	v.SetZoom(0.1)
	if v.Zoom != MinZoom || v.Pan != (r2.Point{}) {
		t.Fatalf("zoom = %v pan = %v", v.Zoom, v.Pan)
	}
}

func TestPanByStaysInsideFrame(t *testing.T) {
	v := NewViewTransform(image.Pt(640, 480), image.Pt(640, 480))
	v.SetZoom(2)
	v.PanBy(r2.Point{X: -10000, Y: 10000})
	if math.Abs(v.Pan.X-320) > 1e-9 || v.Pan.Y != 0 {
		t.Fatalf("pan = %v, want (320,0)", v.Pan)
	}
}
