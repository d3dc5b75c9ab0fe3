package motion

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

// APT message IDs understood by the servo and inertial controllers.
const (
	MsgEnableChannel uint16 = 0x0210
	MsgSetVelParams  uint16 = 0x0413
	MsgMoveHome      uint16 = 0x0443
	MsgMoveRelative  uint16 = 0x0448
	MsgMoveStop      uint16 = 0x0465
)

const (
	addrHost    byte = 0x01
	addrUSB     byte = 0x50
	dataPacket  byte = 0x80
	stopProfile byte = 0x02
)

// Port is the part of a serial port the stage needs.
type Port interface {
	io.Writer
	io.Closer
}

// Stage talks to one USB controller over its virtual serial port.
type Stage struct {
	port     Port
	portName string
	baudRate int
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewStage creates a stage for the given port. Call Connect before use.
func NewStage(portName string, baudRate int, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		portName: portName,
		baudRate: baudRate,
		logger:   logger.With("component", "stage", "port", portName),
	}
}

// NewStageWithPort wraps an already open port.
func NewStageWithPort(port Port, logger *slog.Logger) *Stage {
	s := NewStage("", 0, logger)
	s.port = port
	return s
}

// Connect opens the serial port and prepares the controller for commands.
func (s *Stage) Connect() error {
	mode := &serial.Mode{
		BaudRate: s.baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(s.portName, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.portName, err)
	}

	// The controllers expect a purge followed by RTS asserted
	time.Sleep(50 * time.Millisecond)
	if err := port.ResetInputBuffer(); err != nil {
		s.logger.Warn("input purge failed", "err", err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		s.logger.Warn("output purge failed", "err", err)
	}
	if err := port.SetRTS(true); err != nil {
		s.logger.Warn("set RTS failed", "err", err)
	}
	time.Sleep(50 * time.Millisecond)

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	s.logger.Info("stage connected", "baud", s.baudRate)
	return nil
}

// Close releases the serial port.
func (s *Stage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Connected reports whether the port is open.
func (s *Stage) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

func (s *Stage) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrNotConnected
	}
	_, err := s.port.Write(frame)
	return err
}

// sendShort writes a six byte header-only message.
func (s *Stage) sendShort(id uint16, param1, param2 byte) error {
	frame := make([]byte, 6)
	binary.LittleEndian.PutUint16(frame[0:], id)
	frame[2] = param1
	frame[3] = param2
	frame[4] = addrUSB
	frame[5] = addrHost
	return s.write(frame)
}

// sendLong writes a header followed by a data packet.
func (s *Stage) sendLong(id uint16, data []byte) error {
	frame := make([]byte, 6+len(data))
	binary.LittleEndian.PutUint16(frame[0:], id)
	binary.LittleEndian.PutUint16(frame[2:], uint16(len(data)))
	frame[4] = addrUSB | dataPacket
	frame[5] = addrHost
	copy(frame[6:], data)
	return s.write(frame)
}

// EnableChannel switches a channel on.
func (s *Stage) EnableChannel(channel uint16) error {
	return s.sendShort(MsgEnableChannel, byte(channel), 0x01)
}

// SetVelocity sets the acceleration and maximum velocity of a channel.
func (s *Stage) SetVelocity(channel uint16, acceleration, velocity int32) error {
	data := make([]byte, 14)
	binary.LittleEndian.PutUint16(data[0:], channel)
	binary.LittleEndian.PutUint32(data[2:], 0) // min velocity is always zero
	binary.LittleEndian.PutUint32(data[6:], uint32(acceleration))
	binary.LittleEndian.PutUint32(data[10:], uint32(velocity))
	return s.sendLong(MsgSetVelParams, data)
}

// MoveRelative moves a channel by a signed distance in device units.
func (s *Stage) MoveRelative(channel uint16, distance int32) error {
	data := make([]byte, 6)
	binary.LittleEndian.PutUint16(data[0:], channel)
	binary.LittleEndian.PutUint32(data[2:], uint32(distance))
	return s.sendLong(MsgMoveRelative, data)
}

// Stop halts a channel with a profiled deceleration.
func (s *Stage) Stop(channel uint16) error {
	return s.sendShort(MsgMoveStop, byte(channel), stopProfile)
}

// Home sends a channel to its home position.
func (s *Stage) Home(channel uint16) error {
	return s.sendShort(MsgMoveHome, byte(channel), 0)
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
