package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/mavoffboard/internal/storage"
)

func hop() []storage.Sample {
	return []storage.Sample{
		{Time: 0, D: 0},
		{Time: 1, D: -1, VD: -1},
		{Time: 2, N: 3, D: -1, VN: 3, VD: 4},
		{Time: 3, N: 3, D: 0},
	}
}

func TestMaxAltitude(t *testing.T) {
	m := NewMaxAltitude()
	for _, s := range hop() {
		m.Observe(s)
	}
	if m.Value() != 1 {
		t.Errorf("expected 1, got %f", m.Value())
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("reset should clear the value")
	}
}

func TestMaxAltitudeIgnoresBelowStart(t *testing.T) {
	m := NewMaxAltitude()
	m.Observe(storage.Sample{D: 2})
	if m.Value() != 0 {
		t.Errorf("expected 0 for a vehicle below its start, got %f", m.Value())
	}
}

func TestPathLength(t *testing.T) {
	p := NewPathLength()
	for _, s := range hop() {
		p.Observe(s)
	}
	// 1 up, 3 north, 1 down
	if math.Abs(p.Value()-5) > 1e-9 {
		t.Errorf("expected 5, got %f", p.Value())
	}
}

func TestMaxSpeed(t *testing.T) {
	m := NewMaxSpeed()
	for _, s := range hop() {
		m.Observe(s)
	}
	if math.Abs(m.Value()-5) > 1e-9 {
		t.Errorf("expected 5, got %f", m.Value())
	}
}

func TestFinalOffset(t *testing.T) {
	f := NewFinalOffset()
	if f.Value() != 0 {
		t.Error("expected 0 with no samples")
	}
	for _, s := range hop() {
		f.Observe(s)
	}
	if math.Abs(f.Value()-3) > 1e-9 {
		t.Errorf("expected 3, got %f", f.Value())
	}
}

func TestCompute(t *testing.T) {
	got := Compute(hop())
	want := map[string]float64{
		"max_altitude": 1,
		"path_length":  5,
		"max_speed":    5,
		"final_offset": 3,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d metrics, got %v", len(want), got)
	}
	for name, v := range want {
		if math.Abs(got[name]-v) > 1e-9 {
			t.Errorf("%s: expected %f, got %f", name, v, got[name])
		}
	}
}

func TestComputeResetsBetweenRuns(t *testing.T) {
	p := NewPathLength()
	Compute(hop(), p)
	got := Compute(hop(), p)
	if math.Abs(got["path_length"]-5) > 1e-9 {
		t.Errorf("expected 5 after reuse, got %f", got["path_length"])
	}
}
