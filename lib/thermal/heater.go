// Package thermal drives the stage heater through a programmable supply.
package thermal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"flaketransfer/lib/control"

	"go.bug.st/serial"
)

var ErrRunning = errors.New("heater control is already running")

// Port is the part of a serial port the supply needs.
type Port interface {
	io.ReadWriter
	io.Closer
}

// Supply speaks the line protocol of the heater power supply.
type Supply struct {
	port   Port
	reader *bufio.Reader
	mu     sync.Mutex
}

// OpenSupply opens the supply on a serial port.
func OpenSupply(portName string, baudRate int) (*Supply, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open heater port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(time.Second); err != nil {
		port.Close()
		return nil, fmt.Errorf("heater port %s: %w", portName, err)
	}
	return NewSupply(port), nil
}

func NewSupply(port Port) *Supply {
	return &Supply{port: port, reader: bufio.NewReader(port)}
}

func (s *Supply) command(cmd string) error {
	_, err := io.WriteString(s.port, cmd+"\r\n")
	return err
}

// Temperature queries the sensor.
func (s *Supply) Temperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.command("TEMP?"); err != nil {
		return 0, fmt.Errorf("query temperature: %w", err)
	}
	line, err := s.reader.ReadString('\n')
	if err != nil && line == "" {
		return 0, fmt.Errorf("read temperature: %w", err)
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return 0, fmt.Errorf("parse temperature %q: %w", line, err)
	}
	return t, nil
}

// SetCurrent sets the output current of channel 1 in amperes.
func (s *Supply) SetCurrent(amps float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.command(fmt.Sprintf("ISET1:%.3f", amps)); err != nil {
		return fmt.Errorf("set current: %w", err)
	}
	return nil
}

func (s *Supply) Close() error {
	return s.port.Close()
}

// Config holds the control loop settings.
type Config struct {
	Gains      control.Gains
	Period     time.Duration
	MaxCurrent float64
}

func DefaultConfig() Config {
	return Config{
		Gains:      control.Gains{Kp: 0.3, Ki: 0.45, Kd: 0.001},
		Period:     100 * time.Millisecond,
		MaxCurrent: 1,
	}
}

// Status is a snapshot of the control loop.
type Status struct {
	Running     bool    `json:"running"`
	Setpoint    float64 `json:"setpoint"`
	Temperature float64 `json:"temperature"`
	Current     float64 `json:"current"`
	Err         string  `json:"error,omitempty"`
}

// Heater holds a setpoint with a PID loop until stopped.
type Heater struct {
	supply *Supply
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHeater(supply *Supply, config Config, logger *slog.Logger) *Heater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heater{
		supply: supply,
		config: config,
		logger: logger.With("component", "heater"),
	}
}

// Start begins regulating to setpoint.
func (h *Heater) Start(setpoint float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	h.status = Status{Running: true, Setpoint: setpoint}

	go h.loop(ctx, setpoint, h.done)
	h.logger.Info("heater started", "setpoint", setpoint)
	return nil
}

// Stop ends regulation and switches the output off. It waits for the loop
// to exit.
func (h *Heater) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (h *Heater) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Heater) loop(ctx context.Context, setpoint float64, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := h.supply.SetCurrent(0); err != nil {
			h.logger.Error("failed to switch heater off", "error", err)
		}
		h.mu.Lock()
		h.status.Running = false
		h.status.Current = 0
		h.cancel = nil
		h.mu.Unlock()
		h.logger.Info("heater stopped")
	}()

	pid := control.PID{Gains: h.config.Gains, Dt: h.config.Period.Seconds()}
	ticker := time.NewTicker(h.config.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.step(&pid, setpoint)
		}
	}
}

func (h *Heater) step(pid *control.PID, setpoint float64) {
	temp, err := h.supply.Temperature()
	if err != nil {
		h.logger.Warn("temperature read failed", "error", err)
		h.mu.Lock()
		h.status.Err = err.Error()
		h.mu.Unlock()
		return
	}
	current := control.Clamp(pid.Update(setpoint-temp), 0, h.config.MaxCurrent)
	if err := h.supply.SetCurrent(current); err != nil {
		h.logger.Warn("current write failed", "error", err)
	}

	h.mu.Lock()
	h.status.Temperature = temp
	h.status.Current = current
	h.status.Err = ""
	h.mu.Unlock()
	h.logger.Debug("heater step", "temperature", temp, "current", current)
}
