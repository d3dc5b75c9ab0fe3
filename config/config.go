// Package config loads the application settings and the per-axis motion
// parameter table.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// CorrectionConfig is the color correction applied to every frame.
type CorrectionConfig struct {
	Gamma        float64 `mapstructure:"gamma" yaml:"gamma"`
	WhiteBalance bool    `mapstructure:"white_balance" yaml:"white_balance"`
	ROffset      float64 `mapstructure:"r_offset" yaml:"r_offset"`
	GOffset      float64 `mapstructure:"g_offset" yaml:"g_offset"`
	BOffset      float64 `mapstructure:"b_offset" yaml:"b_offset"`
	Brightness   float64 `mapstructure:"brightness" yaml:"brightness"`
	Contrast     float64 `mapstructure:"contrast" yaml:"contrast"`
	Blur         int     `mapstructure:"blur" yaml:"blur"` // odd kernel size, 1 disables
}

type CameraConfig struct {
	Device        int              `mapstructure:"device" yaml:"device"`
	Window        string           `mapstructure:"window" yaml:"window"`
	FrameWidth    int              `mapstructure:"frame_width" yaml:"frame_width"`
	FrameHeight   int              `mapstructure:"frame_height" yaml:"frame_height"`
	DisplayWidth  int              `mapstructure:"display_width" yaml:"display_width"`
	DisplayHeight int              `mapstructure:"display_height" yaml:"display_height"`
	Tracker       string           `mapstructure:"tracker" yaml:"tracker"` // kcf, csrt or mil
	CaptureDir    string           `mapstructure:"capture_dir" yaml:"capture_dir"`
	FocusROI      [2]float64       `mapstructure:"focus_roi" yaml:"focus_roi"` // fractional start and end of the scored window
	Correction    CorrectionConfig `mapstructure:"correction" yaml:"correction"`
}

// AxisPort binds an axis to a controller port and channel.
type AxisPort struct {
	Port         string `mapstructure:"port" yaml:"port"`
	Channel      int    `mapstructure:"channel" yaml:"channel"`
	Acceleration int    `mapstructure:"acceleration" yaml:"acceleration"`
}

type SerialConfig struct {
	Baud int                 `mapstructure:"baud" yaml:"baud"`
	Axes map[string]AxisPort `mapstructure:"axes" yaml:"axes"`
}

type HeaterConfig struct {
	Port       string        `mapstructure:"port" yaml:"port"`
	Baud       int           `mapstructure:"baud" yaml:"baud"`
	Kp         float64       `mapstructure:"kp" yaml:"kp"`
	Ki         float64       `mapstructure:"ki" yaml:"ki"`
	Kd         float64       `mapstructure:"kd" yaml:"kd"`
	Period     time.Duration `mapstructure:"period" yaml:"period"`
	MaxCurrent float64       `mapstructure:"max_current" yaml:"max_current"`
}

type AutofocusConfig struct {
	CoarseStep        int           `mapstructure:"coarse_step" yaml:"coarse_step"`
	CoarsePoints      int           `mapstructure:"coarse_points" yaml:"coarse_points"`
	FineStep          float64       `mapstructure:"fine_step" yaml:"fine_step"`
	MinScoreDelta     float64       `mapstructure:"min_score_delta" yaml:"min_score_delta"`
	MaxFineIterations int           `mapstructure:"max_fine_iterations" yaml:"max_fine_iterations"`
	FlatVariance      float64       `mapstructure:"flat_variance" yaml:"flat_variance"`
	FineDecay         float64       `mapstructure:"fine_decay" yaml:"fine_decay"`
	Rate              int           `mapstructure:"rate" yaml:"rate"`
	CoarseSettle      time.Duration `mapstructure:"coarse_settle" yaml:"coarse_settle"`
	FineSettle        time.Duration `mapstructure:"fine_settle" yaml:"fine_settle"`
}

type AlignConfig struct {
	InvertX       bool          `mapstructure:"invert_x" yaml:"invert_x"`
	InvertY       bool          `mapstructure:"invert_y" yaml:"invert_y"`
	RotateRate    int           `mapstructure:"rotate_rate" yaml:"rotate_rate"`
	TranslateRate int           `mapstructure:"translate_rate" yaml:"translate_rate"`
	PIDRate       int           `mapstructure:"pid_rate" yaml:"pid_rate"`
	Tolerance     float64       `mapstructure:"tolerance" yaml:"tolerance"`
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	PivotDegrees  float64       `mapstructure:"pivot_degrees" yaml:"pivot_degrees"`
	RotateSettle  time.Duration `mapstructure:"rotate_settle" yaml:"rotate_settle"`
	CorrectSettle time.Duration `mapstructure:"correct_settle" yaml:"correct_settle"`
	PIDSettle     time.Duration `mapstructure:"pid_settle" yaml:"pid_settle"`
}

type InteractionConfig struct {
	AttractionRadius float64 `mapstructure:"attraction_radius" yaml:"attraction_radius"`
	Notices          int     `mapstructure:"notices" yaml:"notices"`
}

// Preset is the optics calibration for one objective.
type Preset struct {
	RescaleX float64 `mapstructure:"rescale_x" yaml:"rescale_x"`
	RescaleY float64 `mapstructure:"rescale_y" yaml:"rescale_y"`
	Scalebar float64 `mapstructure:"scalebar" yaml:"scalebar"`
}

// Config is the full application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http"`
	Camera      CameraConfig      `mapstructure:"camera" yaml:"camera"`
	Serial      SerialConfig      `mapstructure:"serial" yaml:"serial"`
	Heater      HeaterConfig      `mapstructure:"heater" yaml:"heater"`
	Autofocus   AutofocusConfig   `mapstructure:"autofocus" yaml:"autofocus"`
	Align       AlignConfig       `mapstructure:"align" yaml:"align"`
	Interaction InteractionConfig `mapstructure:"interaction" yaml:"interaction"`
	Presets     map[string]Preset `mapstructure:"presets" yaml:"presets"`
	ParamsFile  string            `mapstructure:"params_file" yaml:"params_file"`
}

var (
	ErrUnknownTracker = errors.New("unknown tracker")
	ErrUnknownFormat  = errors.New("unknown log format")
)

// Trackers lists the supported tracker kinds.
var Trackers = []string{"kcf", "csrt", "mil"}

// DefaultConfig returns the settings for the reference rig.
func DefaultConfig() Config {
	return Config{
		Log:  LogConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{Addr: ":8080"},
		Camera: CameraConfig{
			Window:        "flaketransfer",
			FrameWidth:    640,
			FrameHeight:   480,
			DisplayWidth:  640,
			DisplayHeight: 480,
			Tracker:       "kcf",
			CaptureDir:    "captures",
			FocusROI:      [2]float64{0.35, 0.65},
			Correction: CorrectionConfig{
				Gamma:    1.5,
				Contrast: 1.0,
				Blur:     1,
			},
		},
		Serial: SerialConfig{
			Baud: 115200,
			Axes: map[string]AxisPort{
				"focus":    {Port: "/dev/ttyUSB0", Channel: 1, Acceleration: 1000},
				"sample_x": {Port: "/dev/ttyUSB1", Channel: 1, Acceleration: 1000},
				"sample_y": {Port: "/dev/ttyUSB2", Channel: 1, Acceleration: 1000},
				"rotator":  {Port: "/dev/ttyUSB3", Channel: 1, Acceleration: 1000},
				"stamp_x":  {Port: "/dev/ttyUSB4", Channel: 1, Acceleration: 10000},
				"stamp_y":  {Port: "/dev/ttyUSB4", Channel: 2, Acceleration: 10000},
				"stamp_z":  {Port: "/dev/ttyUSB4", Channel: 3, Acceleration: 10000},
			},
		},
		Heater: HeaterConfig{
			Port:       "/dev/ttyACM0",
			Baud:       9600,
			Kp:         0.3,
			Ki:         0.45,
			Kd:         0.001,
			Period:     100 * time.Millisecond,
			MaxCurrent: 1,
		},
		Autofocus: AutofocusConfig{
			CoarseStep:        2000,
			CoarsePoints:      40,
			FineStep:          500,
			MinScoreDelta:     1,
			MaxFineIterations: 50,
			FlatVariance:      1000,
			FineDecay:         0.9,
			Rate:              3000,
			CoarseSettle:      500 * time.Millisecond,
			FineSettle:        200 * time.Millisecond,
		},
		Align: AlignConfig{
			InvertY:       true,
			RotateRate:    10,
			TranslateRate: 500,
			PIDRate:       500,
			Tolerance:     1,
			MaxIterations: 20,
			PivotDegrees:  -1,
			RotateSettle:  500 * time.Millisecond,
			CorrectSettle: 300 * time.Millisecond,
			PIDSettle:     300 * time.Millisecond,
		},
		Interaction: InteractionConfig{
			AttractionRadius: 20,
			Notices:          64,
		},
		Presets: map[string]Preset{
			"5x":  {RescaleX: 25580, RescaleY: 19400, Scalebar: 500},
			"10x": {RescaleX: 25580 / 2, RescaleY: 19400 / 2, Scalebar: 250},
			"20x": {RescaleX: 25580 / 4, RescaleY: 19400 / 4, Scalebar: 125},
		},
		ParamsFile: "params.yaml",
	}
}

// Validate clamps numeric settings into range and rejects unknown names.
func (c *Config) Validate() error {
	cam := &c.Camera
	cam.FrameWidth = atLeast(cam.FrameWidth, 1, 640)
	cam.FrameHeight = atLeast(cam.FrameHeight, 1, 480)
	cam.DisplayWidth = atLeast(cam.DisplayWidth, 1, cam.FrameWidth)
	cam.DisplayHeight = atLeast(cam.DisplayHeight, 1, cam.FrameHeight)
	cam.Tracker = strings.ToLower(cam.Tracker)
	if !contains(Trackers, cam.Tracker) {
		return fmt.Errorf("camera.tracker %q: %w", cam.Tracker, ErrUnknownTracker)
	}
	cam.FocusROI[0] = clamp(cam.FocusROI[0], 0, 1)
	cam.FocusROI[1] = clamp(cam.FocusROI[1], 0, 1)
	if cam.FocusROI[1] <= cam.FocusROI[0] {
		cam.FocusROI = [2]float64{0, 1}
	}

	corr := &cam.Correction
	corr.Gamma = clamp(corr.Gamma, 0.1, 5)
	corr.Contrast = clamp(corr.Contrast, 0, 3)
	corr.Brightness = clamp(corr.Brightness, -100, 100)
	corr.ROffset = clamp(corr.ROffset, -255, 255)
	corr.GOffset = clamp(corr.GOffset, -255, 255)
	corr.BOffset = clamp(corr.BOffset, -255, 255)
	if corr.Blur < 1 {
		corr.Blur = 1
	}
	if corr.Blur%2 == 0 {
		corr.Blur++
	}

	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q: %w", c.Log.Format, ErrUnknownFormat)
	}

	c.Serial.Baud = atLeast(c.Serial.Baud, 1, 115200)
	c.Heater.Baud = atLeast(c.Heater.Baud, 1, 9600)
	if c.Heater.Period <= 0 {
		c.Heater.Period = 100 * time.Millisecond
	}
	c.Heater.MaxCurrent = clamp(c.Heater.MaxCurrent, 0, 1)

	af := &c.Autofocus
	af.CoarsePoints = atLeast(af.CoarsePoints, 1, 40)
	af.CoarseStep = atLeast(af.CoarseStep, 1, 2000)
	af.MaxFineIterations = atLeast(af.MaxFineIterations, 0, 50)
	af.FineDecay = clamp(af.FineDecay, 0.1, 0.99)

	al := &c.Align
	al.MaxIterations = atLeast(al.MaxIterations, 1, 20)
	al.Tolerance = math.Max(al.Tolerance, 0.1)

	c.Interaction.AttractionRadius = math.Max(c.Interaction.AttractionRadius, 1)
	c.Interaction.Notices = atLeast(c.Interaction.Notices, 1, 64)
	return nil
}

// Load reads the config file at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Save writes the config to path. The format follows the file extension.
func (c Config) Save(path string) error {
	v := viper.New()
	v.Set("log", c.Log)
	v.Set("http", c.HTTP)
	v.Set("camera", c.Camera)
	v.Set("serial", c.Serial)
	v.Set("heater", c.Heater)
	v.Set("autofocus", c.Autofocus)
	v.Set("align", c.Align)
	v.Set("interaction", c.Interaction)
	v.Set("presets", c.Presets)
	v.Set("params_file", c.ParamsFile)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func atLeast(v, min, fallback int) int {
	if v < min {
		return fallback
	}
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
