package lib

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"flaketransfer/lib/interaction"

	"gocv.io/x/gocv"
)

var ErrNoFrame = errors.New("no frame captured yet")

// CameraConfig holds configuration parameters for the camera
type CameraConfig struct {
	CameraID    int
	ShowWindow  bool
	WindowName  string
	FrameSize   image.Point // requested capture size, zero keeps the device default
	DisplaySize image.Point
	Correction  Correction
}

// DefaultCameraConfig returns a headless configuration for the first camera
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		CameraID:    0,
		ShowWindow:  false,
		WindowName:  "flaketransfer",
		DisplaySize: image.Pt(640, 480),
		Correction:  DefaultCorrection(),
	}
}

// Camera acquires frames, corrects them, drives the interaction controller
// once per frame and keeps the latest raw and display frames.
type Camera struct {
	Config     CameraConfig
	Corrector  *Corrector
	Overlay    *Overlay
	webcam     *gocv.VideoCapture
	window     *gocv.Window
	controller *interaction.Controller
	logger     *slog.Logger

	lastFrame    gocv.Mat
	displayFrame gocv.Mat
	frames       uint64
	running      bool
	mu           sync.RWMutex
	stopChan     chan struct{}
	done         chan struct{}
}

// NewCamera opens the capture device and, if requested, the window
func NewCamera(config CameraConfig, logger *slog.Logger) (*Camera, error) {
	if logger == nil {
		logger = slog.Default()
	}
	webcam, err := gocv.OpenVideoCapture(config.CameraID)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", config.CameraID, err)
	}
	if config.FrameSize.X > 0 && config.FrameSize.Y > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(config.FrameSize.X))
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(config.FrameSize.Y))
	}

	// Only create window if explicitly requested
	var window *gocv.Window
	if config.ShowWindow {
		window = gocv.NewWindow(config.WindowName)
	}

	return &Camera{
		Config:       config,
		Corrector:    NewCorrector(config.Correction),
		Overlay:      &Overlay{},
		webcam:       webcam,
		window:       window,
		logger:       logger.With("component", "camera"),
		lastFrame:    gocv.NewMat(),
		displayFrame: gocv.NewMat(),
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Attach sets the controller that receives every frame. Call before Start.
func (c *Camera) Attach(ctrl *interaction.Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
}

// Start begins acquisition in a separate goroutine
func (c *Camera) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.acquisitionLoop()
}

// Stop halts acquisition and waits for the loop to exit
func (c *Camera) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopChan)
	<-c.done
}

// Close releases all resources
func (c *Camera) Close() {
	c.Stop()

	if c.webcam != nil {
		c.webcam.Close()
	}
	if c.window != nil {
		c.window.Close()
	}
	c.Corrector.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFrame.Close()
	c.displayFrame.Close()
}

// CurrentFrame returns a copy of the latest corrected frame. The caller
// owns the copy and must close it.
func (c *Camera) CurrentFrame() (interaction.Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastFrame.Empty() {
		return nil, false
	}
	frame := c.lastFrame.Clone()
	return &frame, true
}

// FrameCount returns the number of frames processed so far.
func (c *Camera) FrameCount() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frames
}

// Uniformity measures the latest frame inside box.
func (c *Camera) Uniformity(box image.Rectangle) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastFrame.Empty() {
		return 0, false
	}
	return Uniformity(c.lastFrame, box), true
}

// Capture writes the latest corrected frame to path. The image format
// follows the extension.
func (c *Camera) Capture(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastFrame.Empty() {
		return ErrNoFrame
	}
	if ok := gocv.IMWrite(path, c.lastFrame); !ok {
		return fmt.Errorf("failed to write %s", path)
	}
	c.logger.Info("frame captured", "path", path)
	return nil
}

// ShowCurrentFrame displays the current frame in the window
// IMPORTANT: This must be called from the main thread
func (c *Camera) ShowCurrentFrame() bool {
	if !c.Config.ShowWindow || c.window == nil {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.displayFrame.Empty() {
		return false
	}
	c.window.IMShow(c.displayFrame)
	return true
}

// WaitKey waits for a key press with the given delay
// IMPORTANT: This must be called from the main thread
func (c *Camera) WaitKey(delay int) int {
	if !c.Config.ShowWindow || c.window == nil {
		return -1
	}
	return c.window.WaitKey(delay)
}

// acquisitionLoop reads, corrects and renders frames until stopped
func (c *Camera) acquisitionLoop() {
	defer close(c.done)

	img := gocv.NewMat()
	defer img.Close()

	corrected := gocv.NewMat()
	defer corrected.Close()

	annotated := gocv.NewMat()
	defer annotated.Close()

	shown := gocv.NewMat()
	defer shown.Close()

	for {
		select {
		case <-c.stopChan:
			return
		default:
			if ok := c.webcam.Read(&img); !ok || img.Empty() {
				time.Sleep(10 * time.Millisecond) // Small delay to avoid busy waiting
				continue
			}

			c.Corrector.Apply(img, &corrected)

			// Publish the frame before the controller runs so a tracker
			// started from a gesture sees it
			c.mu.Lock()
			c.lastFrame.Close()
			c.lastFrame = corrected.Clone()
			c.frames++
			ctrl := c.controller
			c.mu.Unlock()

			if ctrl == nil {
				c.storeDisplay(corrected)
				continue
			}

			snap := ctrl.ProcessFrame(&corrected)

			corrected.CopyTo(&annotated)
			c.Overlay.DrawFrame(&annotated, snap)
			c.render(annotated, &shown, snap)
			c.Overlay.DrawHUD(&shown, snap)
			c.storeDisplay(shown)
		}
	}
}

// render crops the visible window and scales it to the display size.
func (c *Camera) render(src gocv.Mat, dst *gocv.Mat, snap interaction.Snapshot) {
	crop := snap.View.Crop()
	if crop.Empty() {
		src.CopyTo(dst)
		return
	}
	region := src.Region(crop)
	defer region.Close()

	size := c.Config.DisplaySize
	if size.X <= 0 || size.Y <= 0 {
		size = image.Pt(src.Cols(), src.Rows())
	}
	gocv.Resize(region, dst, size, 0, 0, gocv.InterpolationLinear)
}

func (c *Camera) storeDisplay(m gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayFrame.Close()
	c.displayFrame = m.Clone()
}
