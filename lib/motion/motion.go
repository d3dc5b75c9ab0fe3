package motion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Axis identifies one controllable degree of freedom.
type Axis string

const (
	AxisFocus   Axis = "focus"
	AxisSampleX Axis = "sample_x"
	AxisSampleY Axis = "sample_y"
	AxisRotator Axis = "rotator"
	AxisStampX  Axis = "stamp_x"
	AxisStampY  Axis = "stamp_y"
	AxisStampZ  Axis = "stamp_z"
)

// Axes lists every known axis in a stable order.
var Axes = []Axis{AxisFocus, AxisSampleX, AxisSampleY, AxisRotator, AxisStampX, AxisStampY, AxisStampZ}

// ParseAxis validates an axis name.
func ParseAxis(s string) (Axis, error) {
	for _, a := range Axes {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownAxis)
}

// Direction is the sense of a relative move.
type Direction int

const (
	Forward Direction = 1
	Reverse Direction = -1
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	return -d
}

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// DirectionOf returns the direction matching the sign of v. Inverted axes
// flip the mapping.
func DirectionOf(v float64, inverted bool) Direction {
	d := Forward
	if v < 0 {
		d = Reverse
	}
	if inverted {
		d = d.Opposite()
	}
	return d
}

var (
	ErrNotConnected = errors.New("device is not connected")
	ErrUnknownAxis  = errors.New("unknown axis")
)

// Actuator moves, stops and homes axes. Errors carry the axis and the
// device status message.
type Actuator interface {
	Move(ctx context.Context, axis Axis, dir Direction, magnitude, rate int) error
	Stop(ctx context.Context, axis Axis) error
	Home(ctx context.Context, axis Axis) error
	IsConnected(axis Axis) bool
}

// StopAll commands every listed axis to stop and joins the failures.
func StopAll(ctx context.Context, act Actuator, axes ...Axis) error {
	var errs []error
	for _, axis := range axes {
		if !act.IsConnected(axis) {
			continue
		}
		if err := act.Stop(ctx, axis); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Settle waits for d, returning early with the context error when cancelled.
// The context is checked before and after the wait.
func Settle(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return ctx.Err()
}
