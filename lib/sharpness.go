package lib

import (
	"image"
	"math"

	"flaketransfer/lib/interaction"

	"gocv.io/x/gocv"
)

// roiRect returns the centered window spanning the fractions roi[0]..roi[1]
// of each dimension.
func roiRect(cols, rows int, roi [2]float64) image.Rectangle {
	return image.Rect(
		int(float64(cols)*roi[0]), int(float64(rows)*roi[0]),
		int(float64(cols)*roi[1]), int(float64(rows)*roi[1]),
	)
}

func toGray(src gocv.Mat, dst *gocv.Mat) {
	if src.Channels() == 1 {
		src.CopyTo(dst)
		return
	}
	gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
}

// Sharpness scores focus as the variance of the Sobel gradient magnitude
// inside the roi window.
func Sharpness(frame gocv.Mat, roi [2]float64) float64 {
	if frame.Empty() {
		return 0
	}
	gray := gocv.NewMat()
	defer gray.Close()
	toGray(frame, &gray)

	rect := roiRect(gray.Cols(), gray.Rows(), roi)
	if rect.Empty() {
		return 0
	}
	region := gray.Region(rect)
	defer region.Close()

	gx := gocv.NewMat()
	defer gx.Close()
	gy := gocv.NewMat()
	defer gy.Close()
	gocv.Sobel(region, &gx, gocv.MatTypeCV64F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(region, &gy, gocv.MatTypeCV64F, 0, 1, 3, 1, 0, gocv.BorderDefault)

	mag := gocv.NewMat()
	defer mag.Close()
	gocv.Magnitude(gx, gy, &mag)

	return stdDev(mag, func(sd float64) float64 { return sd * sd })
}

// Uniformity is the grayscale standard deviation inside box. Lower is more
// uniform.
func Uniformity(frame gocv.Mat, box image.Rectangle) float64 {
	if frame.Empty() {
		return 0
	}
	box = box.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if box.Empty() {
		return 0
	}
	gray := gocv.NewMat()
	defer gray.Close()
	toGray(frame, &gray)

	region := gray.Region(box)
	defer region.Close()
	return stdDev(region, func(sd float64) float64 { return sd })
}

func stdDev(m gocv.Mat, f func(float64) float64) float64 {
	mean := gocv.NewMat()
	defer mean.Close()
	sd := gocv.NewMat()
	defer sd.Close()
	gocv.MeanStdDev(m, &mean, &sd)
	v := sd.GetDoubleAt(0, 0)
	if math.IsNaN(v) {
		return 0
	}
	return f(v)
}

// FocusScorer scores the latest camera frame for the autofocus search.
type FocusScorer struct {
	Frames interaction.FrameSource
	ROI    [2]float64
}

func (s FocusScorer) Score() (float64, bool) {
	frame, ok := s.Frames.CurrentFrame()
	if !ok {
		return 0, false
	}
	mat, err := asMat(frame)
	if err != nil {
		return 0, false
	}
	defer mat.Close()
	return Sharpness(mat, s.ROI), true
}
