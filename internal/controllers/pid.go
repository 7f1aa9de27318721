package controllers

import "math"

type PID struct {
	Kp, Ki, Kd float64
	// Limit bounds the output and the integral term; zero means unbounded.
	Limit float64

	integral float64
	prevErr  float64
	prevT    float64
	first    bool
}

func NewPID(kp, ki, kd, limit float64) *PID {
	return &PID{
		Kp:    kp,
		Ki:    ki,
		Kd:    kd,
		Limit: limit,
		first: true,
	}
}

func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.prevT = 0
	p.first = true
}

// Compute differentiates the error between calls.
func (p *PID) Compute(target, measured, t float64) float64 {
	err := target - measured

	if p.first {
		p.prevErr = err
		p.prevT = t
		p.first = false
		return p.clamp(p.Kp * err)
	}

	dt := t - p.prevT
	if dt <= 0 {
		return p.clamp(p.Kp * err)
	}
	p.accumulate(err, dt)
	derivative := (err - p.prevErr) / dt
	p.prevErr = err
	p.prevT = t

	return p.clamp(p.Kp*err + p.Ki*p.integral + p.Kd*derivative)
}

// ComputeRate takes the measured rate of change directly, so a step in the
// target does not produce a derivative kick.
func (p *PID) ComputeRate(target, measured, rate, t float64) float64 {
	err := target - measured

	if !p.first {
		if dt := t - p.prevT; dt > 0 {
			p.accumulate(err, dt)
		}
	}
	p.first = false
	p.prevErr = err
	p.prevT = t

	return p.clamp(p.Kp*err + p.Ki*p.integral - p.Kd*rate)
}

func (p *PID) accumulate(err, dt float64) {
	p.integral += err * dt
	if p.Limit > 0 && p.Ki > 0 {
		bound := p.Limit / p.Ki
		p.integral = math.Max(-bound, math.Min(bound, p.integral))
	}
}

func (p *PID) clamp(u float64) float64 {
	if p.Limit <= 0 {
		return u
	}
	return math.Max(-p.Limit, math.Min(p.Limit, u))
}

// PositionController tracks an NED position target with one PID per axis
// and returns an acceleration command.
type PositionController struct {
	axes [3]*PID
}

func NewPositionController(kp, ki, kd, maxAccel float64) *PositionController {
	c := &PositionController{}
	for i := range c.axes {
		c.axes[i] = NewPID(kp, ki, kd, maxAccel)
	}
	return c
}

func (c *PositionController) Compute(target, pos, vel [3]float64, t float64) [3]float64 {
	var accel [3]float64
	for i, pid := range c.axes {
		accel[i] = pid.ComputeRate(target[i], pos[i], vel[i], t)
	}
	return accel
}

func (c *PositionController) Reset() {
	for _, pid := range c.axes {
		pid.Reset()
	}
}
