package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"flaketransfer/lib/motion"

	"github.com/spf13/viper"
)

// Parameter names within an axis section.
const (
	KeyStep         = "step"
	KeyVelocity     = "velocity"
	KeyAcceleration = "acceleration"
	KeyVoltage      = "voltage"
	KeyJogMode      = "jog_mode"
	KeySmallStep    = "small_step"
)

// Camera section.
const (
	SectionCamera = "camera"
	KeyRescaleX   = "rescale_x"
	KeyRescaleY   = "rescale_y"
	KeyScalebar   = "scalebar"
)

var (
	ErrUnknownSection = errors.New("unknown parameter section")
	ErrUnknownParam   = errors.New("unknown parameter")
	ErrUnknownPreset  = errors.New("unknown magnification preset")
	ErrInvalidValue   = errors.New("invalid parameter value")
)

var axisKeys = []string{KeyStep, KeyVelocity, KeyAcceleration, KeyVoltage, KeyJogMode, KeySmallStep}
var cameraKeys = []string{KeyRescaleX, KeyRescaleY, KeyScalebar}

// AxisParams is a snapshot of one axis section.
type AxisParams struct {
	Step         float64 `json:"step"`
	Velocity     float64 `json:"velocity"`
	Acceleration float64 `json:"acceleration"`
	Voltage      float64 `json:"voltage"`
	JogMode      float64 `json:"jog_mode"`
	SmallStep    float64 `json:"small_step"`
}

func defaultParams() map[string]map[string]float64 {
	stage := func(step, small float64) map[string]float64 {
		return map[string]float64{KeyStep: step, KeyVelocity: 1000, KeyAcceleration: 1000, KeySmallStep: small}
	}
	stamp := func() map[string]float64 {
		return map[string]float64{
			KeyStep: 1000, KeyVelocity: 1000, KeyAcceleration: 10000,
			KeyJogMode: 2, KeyVoltage: 1000, KeySmallStep: 100,
		}
	}
	return map[string]map[string]float64{
		string(motion.AxisFocus):   stage(5000, 500),
		string(motion.AxisSampleX): stage(5000, 500),
		string(motion.AxisSampleY): stage(5000, 500),
		string(motion.AxisRotator): stage(10000, 1000),
		string(motion.AxisStampX):  stamp(),
		string(motion.AxisStampY):  stamp(),
		string(motion.AxisStampZ):  stamp(),
		SectionCamera:              {KeyRescaleX: 25580, KeyRescaleY: 19060, KeyScalebar: 100},
	}
}

// Params is the per-axis numeric parameter table. It is read when motion
// commands are issued and written from the control surface.
type Params struct {
	mu   sync.RWMutex
	v    *viper.Viper
	path string
}

// NewParams returns a table holding the defaults, persisted to path.
func NewParams(path string) *Params {
	v := viper.New()
	for section, keys := range defaultParams() {
		for k, val := range keys {
			v.SetDefault(section+"."+k, val)
		}
	}
	return &Params{v: v, path: path}
}

// LoadParams reads path over the defaults. A missing file is not an error.
func LoadParams(path string) (*Params, error) {
	p := NewParams(path)
	if path == "" {
		return p, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	p.v.SetConfigFile(path)
	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read params %s: %w", path, err)
	}
	return p, nil
}

func checkKey(section, key string) error {
	keys := axisKeys
	if section == SectionCamera {
		keys = cameraKeys
	} else if _, err := motion.ParseAxis(section); err != nil {
		return fmt.Errorf("%q: %w", section, ErrUnknownSection)
	}
	if !contains(keys, key) {
		return fmt.Errorf("%s.%s: %w", section, key, ErrUnknownParam)
	}
	return nil
}

// Get returns one value.
func (p *Params) Get(section, key string) (float64, error) {
	if err := checkKey(section, key); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.v.GetFloat64(section + "." + key), nil
}

// Set updates one value in memory.
func (p *Params) Set(section, key string, value float64) error {
	if err := checkKey(section, key); err != nil {
		return err
	}
	if (key == KeyStep || key == KeySmallStep) && value <= 0 {
		return fmt.Errorf("%w: %s.%s must be positive, got %v", ErrInvalidValue, section, key, value)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set(section+"."+key, value)
	return nil
}

// Axis returns the current parameters of an axis.
func (p *Params) Axis(axis motion.Axis) AxisParams {
	p.mu.RLock()
	defer p.mu.RUnlock()
	get := func(k string) float64 { return p.v.GetFloat64(string(axis) + "." + k) }
	return AxisParams{
		Step:         get(KeyStep),
		Velocity:     get(KeyVelocity),
		Acceleration: get(KeyAcceleration),
		Voltage:      get(KeyVoltage),
		JogMode:      get(KeyJogMode),
		SmallStep:    get(KeySmallStep),
	}
}

// Rescale returns the camera field of view in stage units.
func (p *Params) Rescale() (x, y float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.v.GetFloat64(SectionCamera + "." + KeyRescaleX), p.v.GetFloat64(SectionCamera + "." + KeyRescaleY)
}

// Scalebar returns the scale bar length in micrometres at zoom 1.
func (p *Params) Scalebar() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.v.GetFloat64(SectionCamera + "." + KeyScalebar)
}

// ApplyPreset loads a magnification preset into the camera section.
func (p *Params) ApplyPreset(presets map[string]Preset, name string) (Preset, error) {
	pr, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%q: %w", name, ErrUnknownPreset)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set(SectionCamera+"."+KeyRescaleX, pr.RescaleX)
	p.v.Set(SectionCamera+"."+KeyRescaleY, pr.RescaleY)
	p.v.Set(SectionCamera+"."+KeyScalebar, pr.Scalebar)
	return pr, nil
}

// All returns a copy of the whole table.
func (p *Params) All() map[string]map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]map[string]float64)
	for _, section := range p.sectionsLocked() {
		keys := axisKeys
		if section == SectionCamera {
			keys = cameraKeys
		}
		m := make(map[string]float64, len(keys))
		for _, k := range keys {
			m[k] = p.v.GetFloat64(section + "." + k)
		}
		out[section] = m
	}
	return out
}

func (p *Params) sectionsLocked() []string {
	sections := make([]string, 0, len(motion.Axes)+1)
	for _, a := range motion.Axes {
		sections = append(sections, string(a))
	}
	sections = append(sections, SectionCamera)
	sort.Strings(sections)
	return sections
}

// Save persists the table to its file.
func (p *Params) Save() error {
	if p.path == "" {
		return nil
	}
	all := p.All()

	p.mu.Lock()
	defer p.mu.Unlock()
	out := viper.New()
	for section, keys := range all {
		out.Set(section, keys)
	}
	if err := out.WriteConfigAs(p.path); err != nil {
		return fmt.Errorf("write params %s: %w", p.path, err)
	}
	return nil
}
