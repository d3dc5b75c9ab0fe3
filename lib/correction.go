package lib

import (
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// Correction holds the color correction settings.
type Correction struct {
	Gamma        float64    `json:"gamma"`
	WhiteBalance bool       `json:"white_balance"`
	Offsets      [3]float64 `json:"offsets"` // added per channel, BGR order
	Brightness   float64    `json:"brightness"`
	Contrast     float64    `json:"contrast"`
	Blur         int        `json:"blur"`
}

// DefaultCorrection applies gamma 1.5 and nothing else.
func DefaultCorrection() Correction {
	return Correction{Gamma: 1.5, Contrast: 1, Blur: 1}
}

// GammaTable is the lookup table for gamma correction.
func GammaTable(gamma float64) [256]uint8 {
	var t [256]uint8
	if gamma <= 0 {
		gamma = 1
	}
	inv := 1 / gamma
	for i := range t {
		t[i] = uint8(math.Round(math.Pow(float64(i)/255, inv) * 255))
	}
	return t
}

// GrayWorldGains scales each channel mean to the overall mean.
func GrayWorldGains(means [3]float64) [3]float64 {
	avg := (means[0] + means[1] + means[2]) / 3
	var g [3]float64
	for i, m := range means {
		g[i] = avg / (m + 1e-6)
	}
	return g
}

// Corrector applies a Correction to frames. Settings may change while the
// acquisition loop runs.
type Corrector struct {
	mu  sync.Mutex
	cfg Correction
	lut gocv.Mat
}

func NewCorrector(cfg Correction) *Corrector {
	c := &Corrector{lut: gocv.NewMatWithSize(1, 256, gocv.MatTypeCV8U)}
	c.Set(cfg)
	return c
}

// Set replaces the settings.
func (c *Corrector) Set(cfg Correction) {
	if cfg.Blur < 1 {
		cfg.Blur = 1
	}
	if cfg.Blur%2 == 0 {
		cfg.Blur++
	}
	table := GammaTable(cfg.Gamma)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	for i, v := range table {
		c.lut.SetUCharAt(0, i, v)
	}
}

func (c *Corrector) Settings() Correction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Apply writes the corrected src into dst: gamma, white balance and
// offsets, brightness and contrast, then blur.
func (c *Corrector) Apply(src gocv.Mat, dst *gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.cfg

	gocv.LUT(src, c.lut, dst)

	if dst.Channels() >= 3 && (cfg.WhiteBalance || cfg.Offsets != [3]float64{}) {
		c.balance(dst, cfg)
	}
	if cfg.Contrast != 1 || cfg.Brightness != 0 {
		tmp := gocv.NewMat()
		dst.ConvertToWithParams(&tmp, dst.Type(), float32(cfg.Contrast), float32(cfg.Brightness))
		tmp.CopyTo(dst)
		tmp.Close()
	}
	if cfg.Blur > 1 {
		gocv.GaussianBlur(*dst, dst, image.Pt(cfg.Blur, cfg.Blur), 0, 0, gocv.BorderDefault)
	}
}

func (c *Corrector) balance(m *gocv.Mat, cfg Correction) {
	gains := [3]float64{1, 1, 1}
	if cfg.WhiteBalance {
		mean := m.Mean()
		gains = GrayWorldGains([3]float64{mean.Val1, mean.Val2, mean.Val3})
	}

	channels := gocv.Split(*m)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()
	for i := 0; i < 3 && i < len(channels); i++ {
		scaled := gocv.NewMat()
		channels[i].ConvertToWithParams(&scaled, gocv.MatTypeCV8U, float32(gains[i]), float32(cfg.Offsets[i]))
		channels[i].Close()
		channels[i] = scaled
	}
	gocv.Merge(channels, m)
}

func (c *Corrector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lut.Close()
}
