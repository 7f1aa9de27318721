package vehicle

import (
	"context"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

const (
	msgIDLocalPositionNed = 32
	msgIDAttitude         = 30
)

type Telemetry struct {
	sys *System
}

// PositionVelocityNed waits for the next LOCAL_POSITION_NED sample.
func (t *Telemetry) PositionVelocityNed(ctx context.Context) (PositionVelocityNed, error) {
	return next(ctx, t.sys, t.sys.posVel)
}

func (t *Telemetry) SubscribePositionVelocityNed() (<-chan PositionVelocityNed, func()) {
	return t.sys.posVel.subscribe()
}

// LastPositionVelocityNed returns the most recent sample without waiting.
func (t *Telemetry) LastPositionVelocityNed() (PositionVelocityNed, bool) {
	return t.sys.posVel.last()
}

// Attitude waits for the next ATTITUDE sample.
func (t *Telemetry) Attitude(ctx context.Context) (EulerAngle, error) {
	return next(ctx, t.sys, t.sys.attitude)
}

func (t *Telemetry) SubscribeAttitude() (<-chan EulerAngle, func()) {
	return t.sys.attitude.subscribe()
}

func (t *Telemetry) LastAttitude() (EulerAngle, bool) {
	return t.sys.attitude.last()
}

func (t *Telemetry) Armed() bool { return t.sys.isArmed() }

func (t *Telemetry) FlightMode() FlightMode { return t.sys.flightMode() }

// SetRatePositionVelocityNed asks the autopilot to stream LOCAL_POSITION_NED
// at hz.
func (t *Telemetry) SetRatePositionVelocityNed(ctx context.Context, hz float64) error {
	return t.setRate(ctx, "position_velocity_ned", msgIDLocalPositionNed, hz)
}

func (t *Telemetry) SetRateAttitude(ctx context.Context, hz float64) error {
	return t.setRate(ctx, "attitude", msgIDAttitude, hz)
}

func (t *Telemetry) setRate(ctx context.Context, name string, msgID uint32, hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("set rate %s: rate must be positive, got %v", name, hz)
	}
	interval := float32(1e6 / hz)
	res, err := t.sys.sendCommand(ctx, common.MAV_CMD_SET_MESSAGE_INTERVAL, [7]float32{float32(msgID), interval})
	if err != nil {
		return fmt.Errorf("set rate %s: %w", name, err)
	}
	if res != ResultSuccess {
		return &ActionError{Action: "set rate " + name, Result: res}
	}
	return nil
}

func next[T any](ctx context.Context, s *System, h *hub[T]) (T, error) {
	ch, cancel := h.subscribe()
	defer cancel()

	var zero T
	select {
	case v, ok := <-ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		return zero, ErrClosed
	}
}
