package sim

import "math"

// State is the integrated state vector of the simulated vehicle.
type State []float64

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Add(o State) State {
	r := make(State, len(s))
	for i := range s {
		r[i] = s[i] + o[i]
	}
	return r
}

func (s State) Scale(k float64) State {
	r := make(State, len(s))
	for i := range s {
		r[i] = s[i] * k
	}
	return r
}

// Control is the actuator input applied over one integration step.
type Control []float64

type Dynamics interface {
	Derivative(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Integrator interface {
	Step(dyn Dynamics, x State, u Control, t float64, dt float64) State
}
