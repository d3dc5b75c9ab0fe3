package motion

import (
	"context"
	"fmt"
	"log/slog"
)

// Binding ties an axis to a channel of a stage controller.
type Binding struct {
	Stage        *Stage
	Channel      uint16
	Acceleration int32
}

// Rig dispatches axis commands to the controller that owns each axis.
type Rig struct {
	bindings map[Axis]Binding
	logger   *slog.Logger

	// Acceleration, when set, overrides the bound acceleration at command
	// time. A false second result keeps the binding's value.
	Acceleration func(Axis) (int32, bool)
}

var _ Actuator = (*Rig)(nil)

// NewRig creates an empty rig.
func NewRig(logger *slog.Logger) *Rig {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rig{
		bindings: make(map[Axis]Binding),
		logger:   logger.With("component", "rig"),
	}
}

// Bind attaches an axis to a stage channel.
func (r *Rig) Bind(axis Axis, b Binding) {
	r.bindings[axis] = b
}

func (r *Rig) binding(axis Axis) (Binding, error) {
	b, ok := r.bindings[axis]
	if !ok {
		return Binding{}, fmt.Errorf("%s: %w", axis, ErrUnknownAxis)
	}
	if b.Stage == nil || !b.Stage.Connected() {
		return Binding{}, fmt.Errorf("device %s: %w", axis, ErrNotConnected)
	}
	return b, nil
}

// IsConnected reports whether the axis has an open controller.
func (r *Rig) IsConnected(axis Axis) bool {
	_, err := r.binding(axis)
	return err == nil
}

// Move sets the channel velocity and issues a relative move.
func (r *Rig) Move(ctx context.Context, axis Axis, dir Direction, magnitude, rate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := r.binding(axis)
	if err != nil {
		return err
	}

	accel := b.Acceleration
	if r.Acceleration != nil {
		if a, ok := r.Acceleration(axis); ok {
			accel = a
		}
	}
	if err := b.Stage.SetVelocity(b.Channel, accel, int32(rate)); err != nil {
		return fmt.Errorf("device %s set velocity: %w", axis, err)
	}
	if err := b.Stage.MoveRelative(b.Channel, int32(dir)*int32(magnitude)); err != nil {
		return fmt.Errorf("device %s move: %w", axis, err)
	}

	r.logger.Debug("moved", "axis", axis, "dir", dir.String(), "magnitude", magnitude, "rate", rate)
	return nil
}

// Stop halts the axis.
func (r *Rig) Stop(ctx context.Context, axis Axis) error {
	b, err := r.binding(axis)
	if err != nil {
		return err
	}
	if err := b.Stage.Stop(b.Channel); err != nil {
		return fmt.Errorf("device %s stop: %w", axis, err)
	}
	r.logger.Info("stopped", "axis", axis)
	return nil
}

// Home sends the axis to its home position.
func (r *Rig) Home(ctx context.Context, axis Axis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := r.binding(axis)
	if err != nil {
		return err
	}
	if err := b.Stage.Home(b.Channel); err != nil {
		return fmt.Errorf("device %s home: %w", axis, err)
	}
	r.logger.Info("homing", "axis", axis)
	return nil
}

// Close closes every distinct stage in the rig.
func (r *Rig) Close() error {
	seen := make(map[*Stage]bool)
	var first error
	for _, b := range r.bindings {
		if b.Stage == nil || seen[b.Stage] {
			continue
		}
		seen[b.Stage] = true
		if err := b.Stage.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
