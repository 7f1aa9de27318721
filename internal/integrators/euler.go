package integrators

import (
	"fmt"

	"github.com/san-kum/mavoffboard/internal/sim"
)

type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(dyn sim.Dynamics, x sim.State, u sim.Control, t float64, dt float64) sim.State {
	return x.Add(dyn.Derivative(x, u, t).Scale(dt))
}

// ByName resolves the integrator named in the sim config.
func ByName(name string) (sim.Integrator, error) {
	switch name {
	case "", "rk4":
		return NewRK4(), nil
	case "euler":
		return NewEuler(), nil
	default:
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
}
