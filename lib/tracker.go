package lib

import (
	"errors"
	"fmt"
	"image"

	"flaketransfer/lib/interaction"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"
)

var errNotMat = errors.New("frame is not a gocv.Mat")

// BoxTracker adapts an OpenCV tracker to the interaction package.
type BoxTracker struct {
	tracker gocv.Tracker
	kind    string
}

// NewTrackerFactory returns a factory for the named tracker kind: kcf, csrt
// or mil.
func NewTrackerFactory(kind string) (interaction.TrackerFactory, error) {
	var create func() gocv.Tracker
	switch kind {
	case "kcf":
		create = contrib.NewTrackerKCF
	case "csrt":
		create = contrib.NewTrackerCSRT
	case "mil":
		create = func() gocv.Tracker { return gocv.NewTrackerMIL() }
	default:
		return nil, fmt.Errorf("unknown tracker kind %q", kind)
	}
	return func() (interaction.BoxTracker, error) {
		return &BoxTracker{tracker: create(), kind: kind}, nil
	}, nil
}

func asMat(frame interaction.Frame) (gocv.Mat, error) {
	if m, ok := frame.(*gocv.Mat); ok && m != nil {
		return *m, nil
	}
	return gocv.Mat{}, errNotMat
}

func (t *BoxTracker) Init(frame interaction.Frame, box image.Rectangle) error {
	mat, err := asMat(frame)
	if err != nil {
		return err
	}
	if !t.tracker.Init(mat, box) {
		return fmt.Errorf("%s tracker rejected box %v", t.kind, box)
	}
	return nil
}

func (t *BoxTracker) Update(frame interaction.Frame) (image.Rectangle, error) {
	mat, err := asMat(frame)
	if err != nil {
		return image.Rectangle{}, err
	}
	box, ok := t.tracker.Update(mat)
	if !ok {
		return box, fmt.Errorf("%s tracker lost the target", t.kind)
	}
	return box, nil
}

func (t *BoxTracker) Close() error {
	return t.tracker.Close()
}
