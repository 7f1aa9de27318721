package models

import (
	"math"

	"github.com/san-kum/mavoffboard/internal/sim"
)

const (
	DefaultGravity = 9.81
	DefaultDrag    = 0.3
	// DefaultHoverThrust is the normalized collective thrust that holds altitude.
	DefaultHoverThrust = 0.5
)

// Multirotor is a point-mass vehicle in the local NED frame.
// State: n, e, d, vn, ve, vd. Control: commanded acceleration an, ae, ad
// in m/s^2, gravity excluded (the inner attitude loop is assumed ideal).
type Multirotor struct {
	Gravity     float64
	Drag        float64
	HoverThrust float64
	MaxTilt     float64 // radians
}

func NewMultirotor() *Multirotor {
	return &Multirotor{
		Gravity:     DefaultGravity,
		Drag:        DefaultDrag,
		HoverThrust: DefaultHoverThrust,
		MaxTilt:     35 * math.Pi / 180,
	}
}

func (m *Multirotor) StateDim() int   { return 6 }
func (m *Multirotor) ControlDim() int { return 3 }

func (m *Multirotor) Derivative(x sim.State, u sim.Control, t float64) sim.State {
	vn, ve, vd := x[3], x[4], x[5]

	var an, ae, ad float64
	if len(u) >= 3 {
		an, ae, ad = u[0], u[1], u[2]
	}

	return sim.State{
		vn, ve, vd,
		an - m.Drag*vn,
		ae - m.Drag*ve,
		ad - m.Drag*vd,
	}
}

// Freefall is the control input of an unpowered vehicle.
func (m *Multirotor) Freefall() sim.Control {
	return sim.Control{0, 0, m.Gravity}
}

// AccelFromAttitude converts an attitude setpoint into the NED acceleration
// it produces. Angles are radians, thrust is normalized 0..1.
func (m *Multirotor) AccelFromAttitude(roll, pitch, yaw, thrust float64) sim.Control {
	roll = m.clampTilt(roll)
	pitch = m.clampTilt(pitch)

	lift := thrust / m.HoverThrust * m.Gravity
	fwd := -lift * math.Tan(pitch)
	right := lift * math.Tan(roll)

	sin, cos := math.Sin(yaw), math.Cos(yaw)
	return sim.Control{
		fwd*cos - right*sin,
		fwd*sin + right*cos,
		m.Gravity - lift,
	}
}

// TiltFromAccel is the inverse of AccelFromAttitude for the horizontal axes,
// used to report a plausible attitude while tracking a position target.
func (m *Multirotor) TiltFromAccel(an, ae, yaw float64) (roll, pitch float64) {
	sin, cos := math.Sin(yaw), math.Cos(yaw)
	fwd := an*cos + ae*sin
	right := -an*sin + ae*cos
	pitch = m.clampTilt(-math.Atan2(fwd, m.Gravity))
	roll = m.clampTilt(math.Atan2(right, m.Gravity))
	return roll, pitch
}

func (m *Multirotor) clampTilt(a float64) float64 {
	return math.Max(-m.MaxTilt, math.Min(m.MaxTilt, a))
}

// KineticEnergy per unit mass.
func (m *Multirotor) KineticEnergy(x sim.State) float64 {
	vn, ve, vd := x[3], x[4], x[5]
	return 0.5 * (vn*vn + ve*ve + vd*vd)
}
