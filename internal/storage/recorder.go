package storage

import (
	"sync"

	"github.com/san-kum/mavoffboard/internal/vehicle"
)

// Recorder collects position samples from a telemetry stream, tagging each
// with the latest attitude.
type Recorder struct {
	mu       sync.Mutex
	samples  []Sample
	attitude vehicle.EulerAngle
	onSample func(Sample)

	// baseMs maps to baseTime. Both move when TIME_BOOT_MS goes backwards
	// so sample times stay monotonic across an autopilot reboot.
	started            bool
	baseMs, lastMs     uint32
	baseTime, lastTime float64

	cancels []func()
	wg      sync.WaitGroup
}

// Telemetry is the part of vehicle.Telemetry a Recorder reads.
type Telemetry interface {
	SubscribePositionVelocityNed() (<-chan vehicle.PositionVelocityNed, func())
	SubscribeAttitude() (<-chan vehicle.EulerAngle, func())
}

// NewRecorder starts recording. onSample, if set, is called for each sample
// from the recording goroutine.
func NewRecorder(t Telemetry, onSample func(Sample)) *Recorder {
	r := &Recorder{onSample: onSample}

	pos, cancelPos := t.SubscribePositionVelocityNed()
	att, cancelAtt := t.SubscribeAttitude()
	r.cancels = []func(){cancelPos, cancelAtt}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		for a := range att {
			r.mu.Lock()
			r.attitude = a
			r.mu.Unlock()
		}
	}()
	go func() {
		defer r.wg.Done()
		for pv := range pos {
			r.add(pv)
		}
	}()
	return r
}

func (r *Recorder) add(pv vehicle.PositionVelocityNed) {
	r.mu.Lock()
	if !r.started {
		r.baseMs, r.started = pv.TimeBootMs, true
	} else if pv.TimeBootMs < r.lastMs {
		r.baseMs, r.baseTime = pv.TimeBootMs, r.lastTime
	}
	t := r.baseTime + float64(pv.TimeBootMs-r.baseMs)/1000
	r.lastMs, r.lastTime = pv.TimeBootMs, t
	s := Sample{
		Time:  t,
		N:     float64(pv.Position.NorthM),
		E:     float64(pv.Position.EastM),
		D:     float64(pv.Position.DownM),
		VN:    float64(pv.Velocity.NorthMS),
		VE:    float64(pv.Velocity.EastMS),
		VD:    float64(pv.Velocity.DownMS),
		Roll:  float64(r.attitude.RollDeg),
		Pitch: float64(r.attitude.PitchDeg),
		Yaw:   float64(r.attitude.YawDeg),
	}
	r.samples = append(r.samples, s)
	onSample := r.onSample
	r.mu.Unlock()

	if onSample != nil {
		onSample(s)
	}
}

// Stop ends the subscriptions and returns everything recorded.
func (r *Recorder) Stop() []Sample {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}
