// Package motiontest provides an in-memory actuator for tests.
package motiontest

import (
	"context"
	"fmt"
	"sync"

	"flaketransfer/lib/motion"
)

// Command is one recorded actuator call.
type Command struct {
	Op        string
	Axis      motion.Axis
	Dir       motion.Direction
	Magnitude int
	Rate      int
}

// Recorder records every command and tracks the signed position of each axis.
type Recorder struct {
	mu        sync.Mutex
	commands  []Command
	positions map[motion.Axis]int

	// Disconnected axes fail every command with ErrNotConnected.
	Disconnected map[motion.Axis]bool
	// OnMove runs after a move is recorded, outside the lock.
	OnMove func(Command)
}

var _ motion.Actuator = (*Recorder)(nil)

// NewRecorder returns an empty recorder with every axis connected.
func NewRecorder() *Recorder {
	return &Recorder{
		positions:    make(map[motion.Axis]int),
		Disconnected: make(map[motion.Axis]bool),
	}
}

func (r *Recorder) record(c Command) error {
	r.mu.Lock()
	if r.Disconnected[c.Axis] {
		r.mu.Unlock()
		return fmt.Errorf("device %s: %w", c.Axis, motion.ErrNotConnected)
	}
	r.commands = append(r.commands, c)
	if c.Op == "move" {
		r.positions[c.Axis] += int(c.Dir) * c.Magnitude
	}
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Move(ctx context.Context, axis motion.Axis, dir motion.Direction, magnitude, rate int) error {
	c := Command{Op: "move", Axis: axis, Dir: dir, Magnitude: magnitude, Rate: rate}
	if err := r.record(c); err != nil {
		return err
	}
	if r.OnMove != nil {
		r.OnMove(c)
	}
	return nil
}

func (r *Recorder) Stop(ctx context.Context, axis motion.Axis) error {
	return r.record(Command{Op: "stop", Axis: axis})
}

func (r *Recorder) Home(ctx context.Context, axis motion.Axis) error {
	return r.record(Command{Op: "home", Axis: axis})
}

func (r *Recorder) IsConnected(axis motion.Axis) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.Disconnected[axis]
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Moves returns the recorded moves, optionally filtered to one axis.
func (r *Recorder) Moves(axis motion.Axis) []Command {
	var out []Command
	for _, c := range r.Commands() {
		if c.Op == "move" && (axis == "" || c.Axis == axis) {
			out = append(out, c)
		}
	}
	return out
}

// Position returns the signed sum of moves issued on an axis.
func (r *Recorder) Position(axis motion.Axis) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positions[axis]
}
