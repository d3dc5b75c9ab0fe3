package motion

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakePort struct {
	bytes.Buffer
	closed bool
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestMoveRelativeFrame(t *testing.T) {
	port := &fakePort{}
	stage := NewStageWithPort(port, discardLogger)

	if err := stage.MoveRelative(1, -2000); err != nil {
		t.Fatalf("MoveRelative: %v", err)
	}

	want := []byte{
		0x48, 0x04, 0x06, 0x00, 0xD0, 0x01, // header, data follows
		0x01, 0x00, // channel
		0x30, 0xF8, 0xFF, 0xFF, // -2000 little endian
	}
	if got := port.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("frame = % X, want % X", got, want)
	}
}

func TestStopAndHomeAreShortFrames(t *testing.T) {
	port := &fakePort{}
	stage := NewStageWithPort(port, discardLogger)

	if err := stage.Stop(1); err != nil {
		t.Fatal(err)
	}
	if err := stage.Home(1); err != nil {
		t.Fatal(err)
	}

	want := []byte{
		0x65, 0x04, 0x01, 0x02, 0x50, 0x01,
		0x43, 0x04, 0x01, 0x00, 0x50, 0x01,
	}
	if got := port.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("frames = % X, want % X", got, want)
	}
}

func TestRigMoveSetsVelocityThenMoves(t *testing.T) {
	port := &fakePort{}
	rig := NewRig(discardLogger)
	rig.Bind(AxisSampleX, Binding{Stage: NewStageWithPort(port, discardLogger), Channel: 1, Acceleration: 10000})

	if err := rig.Move(context.Background(), AxisSampleX, Reverse, 500, 1000); err != nil {
		t.Fatalf("Move: %v", err)
	}

	out := port.Bytes()
	if len(out) != 20+12 {
		t.Fatalf("wrote %d bytes, want 32", len(out))
	}
	if out[0] != 0x13 || out[1] != 0x04 {
		t.Fatalf("first message id = %02X%02X, want 0413", out[1], out[0])
	}
	if out[20] != 0x48 || out[21] != 0x04 {
		t.Fatalf("second message id = %02X%02X, want 0448", out[21], out[20])
	}
}

func TestRigAccelerationOverride(t *testing.T) {
	port := &fakePort{}
	rig := NewRig(discardLogger)
	rig.Bind(AxisStampZ, Binding{Stage: NewStageWithPort(port, discardLogger), Channel: 3, Acceleration: 10000})
	rig.Acceleration = func(a Axis) (int32, bool) { return 2500, a == AxisStampZ }

	if err := rig.Move(context.Background(), AxisStampZ, Forward, 10, 100); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got := binary.LittleEndian.Uint32(port.Bytes()[12:]); got != 2500 {
		t.Fatalf("acceleration = %d, want 2500", got)
	}
}

func TestRigReportsDisconnectedAxes(t *testing.T) {
	rig := NewRig(discardLogger)
	rig.Bind(AxisRotator, Binding{Stage: NewStage("/dev/null-port", 115200, discardLogger), Channel: 1})

	err := rig.Move(context.Background(), AxisRotator, Forward, 10, 10)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if rig.IsConnected(AxisRotator) {
		t.Fatal("rotator should not be connected")
	}

	if err := rig.Stop(context.Background(), AxisFocus); !errors.Is(err, ErrUnknownAxis) {
		t.Fatalf("err = %v, want ErrUnknownAxis", err)
	}
}

func TestRigMoveHonoursCancelledContext(t *testing.T) {
	port := &fakePort{}
	rig := NewRig(discardLogger)
	rig.Bind(AxisFocus, Binding{Stage: NewStageWithPort(port, discardLogger), Channel: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rig.Move(ctx, AxisFocus, Forward, 1, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if port.Len() != 0 {
		t.Fatalf("wrote %d bytes after cancellation", port.Len())
	}
}

func TestDirectionOf(t *testing.T) {
	if DirectionOf(3, false) != Forward || DirectionOf(-3, false) != Reverse {
		t.Fatal("plain mapping wrong")
	}
	if DirectionOf(3, true) != Reverse || DirectionOf(-3, true) != Forward {
		t.Fatal("inverted mapping wrong")
	}
}

func TestSettleReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if err := Settle(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("settle did not return promptly")
	}
}

func TestParseAxis(t *testing.T) {
	if a, err := ParseAxis("rotator"); err != nil || a != AxisRotator {
		t.Fatalf("ParseAxis = %v, %v", a, err)
	}
	if _, err := ParseAxis("warp"); !errors.Is(err, ErrUnknownAxis) {
		t.Fatalf("err = %v", err)
	}
}
