package lib

import (
	"image"
	"math"
	"testing"

	"gocv.io/x/gocv"
)

func TestGammaTable(t *testing.T) {
	table := GammaTable(1.5)
	if table[0] != 0 || table[255] != 255 {
		t.Fatalf("endpoints = %d, %d", table[0], table[255])
	}
	// gamma above one brightens mid tones
	if table[128] <= 128 {
		t.Fatalf("table[128] = %d, want > 128", table[128])
	}
	for i := 1; i < 256; i++ {
		if table[i] < table[i-1] {
			t.Fatalf("table not monotonic at %d", i)
		}
	}
	if id := GammaTable(1); id[77] != 77 {
		t.Fatalf("identity table[77] = %d", id[77])
	}
}

func TestGrayWorldGains(t *testing.T) {
	g := GrayWorldGains([3]float64{50, 100, 150})
	want := [3]float64{2, 1, 100.0 / 150}
	for i := range g {
		if math.Abs(g[i]-want[i]) > 1e-6 {
			t.Fatalf("gains = %v, want %v", g, want)
		}
	}
}

func TestROIRect(t *testing.T) {
	got := roiRect(640, 480, [2]float64{0.35, 0.65})
	want := image.Rect(224, 168, 416, 312)
	if got != want {
		t.Fatalf("roi = %v, want %v", got, want)
	}
}

func TestSharpnessPrefersEdges(t *testing.T) {
	flat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 200, 200, gocv.MatTypeCV8UC3)
	defer flat.Close()

	striped := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 200, 200, gocv.MatTypeCV8UC3)
	defer striped.Close()
	for x := 0; x < 200; x += 8 {
		gocv.Rectangle(&striped, image.Rect(x, 0, x+4, 200), white, -1)
	}

	roi := [2]float64{0.35, 0.65}
	if s := Sharpness(flat, roi); s != 0 {
		t.Fatalf("flat sharpness = %v, want 0", s)
	}
	if s := Sharpness(striped, roi); s <= 0 {
		t.Fatalf("striped sharpness = %v, want > 0", s)
	}
	if u := Uniformity(flat, image.Rect(10, 10, 50, 50)); u != 0 {
		t.Fatalf("flat uniformity = %v", u)
	}
	if u := Uniformity(striped, image.Rect(0, 0, 200, 200)); u <= 0 {
		t.Fatalf("striped uniformity = %v", u)
	}
}

func TestCorrectorIdentity(t *testing.T) {
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 100, 200, 0), 4, 4, gocv.MatTypeCV8UC3)
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	c := NewCorrector(Correction{Gamma: 1, Contrast: 1})
	defer c.Close()
	c.Apply(src, &dst)

	m := dst.Mean()
	if m.Val1 != 10 || m.Val2 != 100 || m.Val3 != 200 {
		t.Fatalf("identity correction changed the frame: %+v", m)
	}
}

func TestTrackerFactoryKinds(t *testing.T) {
	if _, err := NewTrackerFactory("mosse"); err == nil {
		t.Fatal("unknown kind accepted")
	}
	for _, kind := range []string{"kcf", "csrt", "mil"} {
		if _, err := NewTrackerFactory(kind); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
	}
}
