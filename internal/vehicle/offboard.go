package vehicle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/san-kum/mavoffboard/internal/logging"
)

const (
	positionTypeMask = common.POSITION_TARGET_TYPEMASK_VX_IGNORE |
		common.POSITION_TARGET_TYPEMASK_VY_IGNORE |
		common.POSITION_TARGET_TYPEMASK_VZ_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AZ_IGNORE |
		common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE

	attitudeTypeMask = common.ATTITUDE_TARGET_TYPEMASK_BODY_ROLL_RATE_IGNORE |
		common.ATTITUDE_TARGET_TYPEMASK_BODY_PITCH_RATE_IGNORE |
		common.ATTITUDE_TARGET_TYPEMASK_BODY_YAW_RATE_IGNORE
)

// Offboard sends external setpoints. PX4 only enters and stays in offboard
// mode while setpoints keep arriving, so the last setpoint is re-sent by a
// streamer goroutine until Stop.
type Offboard struct {
	sys *System

	mu       sync.Mutex
	build    func() message.Message
	stream   chan struct{}
	streamWg sync.WaitGroup
}

func newOffboard(s *System) *Offboard {
	return &Offboard{sys: s}
}

func (o *Offboard) SetPositionNed(p PositionNedYaw) error {
	return o.setSetpoint("position_ned", func() message.Message {
		sysID, compID, _ := o.sys.Target()
		return &common.MessageSetPositionTargetLocalNed{
			TimeBootMs:      o.sys.timeBootMs(),
			TargetSystem:    sysID,
			TargetComponent: compID,
			CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
			TypeMask:        positionTypeMask,
			X:               p.NorthM,
			Y:               p.EastM,
			Z:               p.DownM,
			Yaw:             deg2rad(p.YawDeg),
		}
	})
}

func (o *Offboard) SetAttitude(a Attitude) error {
	q := EulerToQuaternion(
		float64(deg2rad(a.RollDeg)),
		float64(deg2rad(a.PitchDeg)),
		float64(deg2rad(a.YawDeg)),
	)
	return o.setSetpoint("attitude", func() message.Message {
		sysID, compID, _ := o.sys.Target()
		return &common.MessageSetAttitudeTarget{
			TimeBootMs:      o.sys.timeBootMs(),
			TargetSystem:    sysID,
			TargetComponent: compID,
			TypeMask:        attitudeTypeMask,
			Q:               q,
			Thrust:          a.ThrustValue,
		}
	})
}

func (o *Offboard) setSetpoint(kind string, build func() message.Message) error {
	if !o.sys.IsConnected() {
		return &OffboardError{Op: "set " + kind, Result: ResultNoSystem}
	}

	o.mu.Lock()
	o.build = build
	if o.stream == nil {
		o.stream = make(chan struct{})
		o.streamWg.Add(1)
		go o.streamLoop(o.stream)
	}
	o.mu.Unlock()

	if err := o.sys.link.Send(build()); err != nil {
		return fmt.Errorf("send %s setpoint: %w", kind, err)
	}
	return nil
}

func (o *Offboard) streamLoop(stop <-chan struct{}) {
	defer o.streamWg.Done()
	period := time.Duration(float64(time.Second) / o.sys.cfg.SetpointRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-o.sys.done:
			return
		case <-ticker.C:
			o.mu.Lock()
			build := o.build
			o.mu.Unlock()
			if build == nil {
				continue
			}
			if err := o.sys.link.Send(build()); err != nil {
				o.sys.log.Debug(context.Background(), "setpoint resend failed", logging.Err(err))
			}
		}
	}
}

func (o *Offboard) stopStreaming() {
	o.mu.Lock()
	stream := o.stream
	o.stream = nil
	o.build = nil
	o.mu.Unlock()

	if stream != nil {
		close(stream)
		o.streamWg.Wait()
	}
}

func (o *Offboard) hasSetpoint() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.build != nil
}

// Start switches the autopilot into offboard mode. A setpoint must be set
// first.
func (o *Offboard) Start(ctx context.Context) error {
	if !o.hasSetpoint() {
		return &OffboardError{Op: "start", Result: ResultNoSetpointSet}
	}
	res, err := o.sys.setFlightMode(ctx, FlightModeOffboard)
	if err != nil {
		return fmt.Errorf("offboard start: %w", err)
	}
	if res != ResultSuccess {
		return &OffboardError{Op: "start", Result: res}
	}
	o.sys.log.Info(ctx, "offboard started")
	return nil
}

// Stop stops streaming setpoints and requests HOLD. Streaming stops even
// when HOLD is rejected, which leaves PX4 to apply its offboard-loss
// failsafe.
func (o *Offboard) Stop(ctx context.Context) error {
	o.stopStreaming()
	res, err := o.sys.setFlightMode(ctx, FlightModeHold)
	if err != nil {
		return fmt.Errorf("offboard stop: %w", err)
	}
	if res != ResultSuccess {
		return &OffboardError{Op: "stop", Result: res}
	}
	o.sys.log.Info(ctx, "offboard stopped")
	return nil
}

// IsActive reports whether the autopilot says it is in offboard mode.
func (o *Offboard) IsActive() bool {
	return o.sys.flightMode() == FlightModeOffboard
}

// Streaming reports whether a setpoint is currently being streamed.
func (o *Offboard) Streaming() bool {
	return o.hasSetpoint()
}
