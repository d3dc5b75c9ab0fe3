// Package control holds the feedback controllers shared by the alignment and
// heater loops.
package control

// Gains are the PID coefficients.
type Gains struct {
	Kp, Ki, Kd float64
}

// PID is a discrete controller. With Dt zero the integral and derivative
// are per update; otherwise they are scaled by Dt.
type PID struct {
	Gains
	Dt float64

	integral  float64
	prevError float64
}

// Update feeds the current error and returns the controller output.
func (p *PID) Update(err float64) float64 {
	dt := p.Dt
	if dt <= 0 {
		dt = 1
	}
	p.integral += err * dt
	derivative := (err - p.prevError) / dt
	p.prevError = err
	return p.Kp*err + p.Ki*p.integral + p.Kd*derivative
}

// Reset clears the accumulated state.
func (p *PID) Reset() {
	p.integral = 0
	p.prevError = 0
}

// Tier selects gains for errors strictly above Above.
type Tier struct {
	Above float64
	Gains Gains
}

// Schedule picks gains by error magnitude. Tiers are ordered from the
// largest threshold down; the last tier is the fallback.
type Schedule []Tier

// DefaultSchedule is aggressive far from the target and gentle close to it.
func DefaultSchedule() Schedule {
	return Schedule{
		{Above: 100, Gains: Gains{Kp: 1.0, Ki: 0.02, Kd: 0.05}},
		{Above: 20, Gains: Gains{Kp: 0.6, Ki: 0.05, Kd: 0.05}},
		{Above: 0, Gains: Gains{Kp: 0.4, Ki: 0.1, Kd: 0.01}},
	}
}

// For returns the gains for an error magnitude.
func (s Schedule) For(magnitude float64) Gains {
	for _, t := range s {
		if magnitude > t.Above {
			return t.Gains
		}
	}
	if len(s) == 0 {
		return Gains{}
	}
	return s[len(s)-1].Gains
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
