// Package metrics summarizes recorded flights.
package metrics

import (
	"math"

	"github.com/san-kum/mavoffboard/internal/storage"
)

type Metric interface {
	Name() string
	Observe(s storage.Sample)
	Value() float64
	Reset()
}

// Default returns a fresh set of the flight metrics stored with each log.
func Default() []Metric {
	return []Metric{
		NewMaxAltitude(),
		NewPathLength(),
		NewMaxSpeed(),
		NewFinalOffset(),
	}
}

// Compute feeds every sample to ms (Default when empty) and collects the
// values by name.
func Compute(samples []storage.Sample, ms ...Metric) map[string]float64 {
	if len(ms) == 0 {
		ms = Default()
	}
	for _, m := range ms {
		m.Reset()
		for _, s := range samples {
			m.Observe(s)
		}
	}
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}

// MaxAltitude is the highest point above the start, in metres (up positive).
type MaxAltitude struct {
	max float64
}

func NewMaxAltitude() *MaxAltitude { return &MaxAltitude{} }

func (m *MaxAltitude) Name() string { return "max_altitude" }

func (m *MaxAltitude) Observe(s storage.Sample) {
	m.max = math.Max(m.max, -s.D)
}

func (m *MaxAltitude) Value() float64 { return m.max }
func (m *MaxAltitude) Reset()         { m.max = 0 }

// PathLength is the 3D distance travelled.
type PathLength struct {
	total float64
	prev  [3]float64
	has   bool
}

func NewPathLength() *PathLength { return &PathLength{} }

func (p *PathLength) Name() string { return "path_length" }

func (p *PathLength) Observe(s storage.Sample) {
	cur := [3]float64{s.N, s.E, s.D}
	if p.has {
		p.total += distance(cur, p.prev)
	}
	p.prev, p.has = cur, true
}

func (p *PathLength) Value() float64 { return p.total }

func (p *PathLength) Reset() {
	p.total = 0
	p.has = false
}

type MaxSpeed struct {
	max float64
}

func NewMaxSpeed() *MaxSpeed { return &MaxSpeed{} }

func (m *MaxSpeed) Name() string { return "max_speed" }

func (m *MaxSpeed) Observe(s storage.Sample) {
	speed := math.Sqrt(s.VN*s.VN + s.VE*s.VE + s.VD*s.VD)
	m.max = math.Max(m.max, speed)
}

func (m *MaxSpeed) Value() float64 { return m.max }
func (m *MaxSpeed) Reset()         { m.max = 0 }

// FinalOffset is the distance between the first and last recorded positions.
type FinalOffset struct {
	first, last [3]float64
	has         bool
}

func NewFinalOffset() *FinalOffset { return &FinalOffset{} }

func (f *FinalOffset) Name() string { return "final_offset" }

func (f *FinalOffset) Observe(s storage.Sample) {
	cur := [3]float64{s.N, s.E, s.D}
	if !f.has {
		f.first, f.has = cur, true
	}
	f.last = cur
}

func (f *FinalOffset) Value() float64 {
	if !f.has {
		return 0
	}
	return distance(f.first, f.last)
}

func (f *FinalOffset) Reset() { *f = FinalOffset{} }

func distance(a, b [3]float64) float64 {
	dn, de, dd := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dn*dn + de*de + dd*dd)
}
