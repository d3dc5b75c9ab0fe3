package interaction

import (
	"fmt"
	"strings"

	"github.com/golang/geo/r2"
)

// Mode selects which session interprets pointer gestures.
type Mode int

const (
	ModeDefault Mode = iota
	ModeDrawing
	ModeTracking
	ModeMeasuring
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeDrawing:
		return "drawing"
	case ModeTracking:
		return "tracking"
	case ModeMeasuring:
		return "measuring"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "default", "":
		return ModeDefault, nil
	case "drawing":
		return ModeDrawing, nil
	case "tracking":
		return ModeTracking, nil
	case "measuring":
		return ModeMeasuring, nil
	}
	return ModeDefault, fmt.Errorf("unknown mode %q", s)
}

// GestureKind is the type of pointer event.
type GestureKind int

const (
	PointerDown GestureKind = iota
	PointerMove
	PointerUp
	DoubleClick
	Wheel
)

func (k GestureKind) String() string {
	switch k {
	case PointerDown:
		return "down"
	case PointerMove:
		return "move"
	case PointerUp:
		return "up"
	case DoubleClick:
		return "double"
	case Wheel:
		return "wheel"
	default:
		return fmt.Sprintf("gesture(%d)", int(k))
	}
}

// ParseGestureKind converts a gesture name into a GestureKind.
func ParseGestureKind(s string) (GestureKind, error) {
	for k := PointerDown; k <= Wheel; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown gesture %q", s)
}

// Button is the pointer button involved in a down/up gesture.
type Button int

const (
	ButtonLeft Button = iota
	ButtonRight
)

// Gesture is a pointer event in display coordinates. Delta is the wheel
// direction: positive rotates or zooms one step up, negative one step down.
type Gesture struct {
	Kind   GestureKind
	Button Button
	Pos    r2.Point
	Delta  int
}
