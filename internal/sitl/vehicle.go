// Package sitl simulates a PX4 multirotor behind a MAVLink link, so the
// flight commands can run without hardware.
package sitl

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/san-kum/mavoffboard/internal/controllers"
	"github.com/san-kum/mavoffboard/internal/integrators"
	"github.com/san-kum/mavoffboard/internal/link"
	"github.com/san-kum/mavoffboard/internal/logging"
	"github.com/san-kum/mavoffboard/internal/models"
	"github.com/san-kum/mavoffboard/internal/sim"
	"github.com/san-kum/mavoffboard/internal/vehicle"
)

const (
	// airborneAltitude is the height above which PX4 refuses a normal disarm.
	airborneAltitude = 0.3
	forceDisarmMagic = 21196
	heartbeatPeriod  = 1.0 // s
	bufferSize       = 256
)

type Config struct {
	SystemID    uint8
	ComponentID uint8
	// GPS false reproduces a vehicle without a global position estimate:
	// HOLD is rejected, so offboard stop returns COMMAND_DENIED.
	GPS             bool
	TelemetryRate   float64 // Hz
	PhysicsRate     float64 // Hz
	Integrator      string
	Kp, Ki, Kd      float64
	MaxAccel        float64 // m/s^2
	OffboardTimeout time.Duration
	Logger          logging.Logger
}

func DefaultConfig() Config {
	return Config{
		SystemID:        1,
		ComponentID:     1,
		TelemetryRate:   10,
		PhysicsRate:     100,
		Integrator:      "rk4",
		Kp:              4.0,
		Kd:              3.6,
		MaxAccel:        5.0,
		OffboardTimeout: 500 * time.Millisecond,
	}
}

type setpointKind int

const (
	setpointNone setpointKind = iota
	setpointPosition
	setpointAttitude
)

// Snapshot is the simulated ground truth.
type Snapshot struct {
	Time     float64
	Position [3]float64
	Velocity [3]float64
	Roll     float64
	Pitch    float64
	Yaw      float64
	Armed    bool
	Mode     vehicle.FlightMode
}

// Vehicle implements link.Link: frames read from it come from the simulated
// autopilot and messages sent to it are handled as the autopilot would.
type Vehicle struct {
	cfg   Config
	log   logging.Logger
	model *models.Multirotor
	integ sim.Integrator
	ctrl  *controllers.PositionController

	out  chan link.Frame
	in   chan message.Message
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu               sync.Mutex
	x                sim.State
	t                float64
	armed            bool
	mode             vehicle.FlightMode
	kind             setpointKind
	posTarget        [3]float64
	yawTarget        float64
	attTarget        [4]float64 // roll, pitch, yaw, thrust
	lastSetpoint     float64
	holdPos          [3]float64
	roll, pitch, yaw float64
	telemetryPeriod  float64
	nextTelemetry    float64
	nextHeartbeat    float64
}

// New starts a simulated vehicle running in real time.
func New(cfg Config) (*Vehicle, error) {
	v, err := newVehicle(cfg)
	if err != nil {
		return nil, err
	}
	v.wg.Add(1)
	go v.run()
	return v, nil
}

func newVehicle(cfg Config) (*Vehicle, error) {
	def := DefaultConfig()
	if cfg.SystemID == 0 {
		cfg.SystemID = def.SystemID
	}
	if cfg.ComponentID == 0 {
		cfg.ComponentID = def.ComponentID
	}
	if cfg.TelemetryRate <= 0 {
		cfg.TelemetryRate = def.TelemetryRate
	}
	if cfg.PhysicsRate <= 0 {
		cfg.PhysicsRate = def.PhysicsRate
	}
	if cfg.Kp == 0 && cfg.Kd == 0 {
		cfg.Kp, cfg.Ki, cfg.Kd = def.Kp, def.Ki, def.Kd
	}
	if cfg.MaxAccel <= 0 {
		cfg.MaxAccel = def.MaxAccel
	}
	if cfg.OffboardTimeout <= 0 {
		cfg.OffboardTimeout = def.OffboardTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Noop()
	}

	integ, err := integrators.ByName(cfg.Integrator)
	if err != nil {
		return nil, err
	}

	initialMode := vehicle.FlightModeManual
	if cfg.GPS {
		initialMode = vehicle.FlightModeHold
	}

	return &Vehicle{
		cfg:             cfg,
		log:             cfg.Logger.With(logging.String("component", "sitl")),
		model:           models.NewMultirotor(),
		integ:           integ,
		ctrl:            controllers.NewPositionController(cfg.Kp, cfg.Ki, cfg.Kd, cfg.MaxAccel),
		out:             make(chan link.Frame, bufferSize),
		in:              make(chan message.Message, bufferSize),
		done:            make(chan struct{}),
		x:               make(sim.State, 6),
		mode:            initialMode,
		telemetryPeriod: 1 / cfg.TelemetryRate,
	}, nil
}

func (v *Vehicle) Frames() <-chan link.Frame { return v.out }

func (v *Vehicle) Send(msg message.Message) error {
	select {
	case <-v.done:
		return link.ErrClosed
	default:
	}
	select {
	case <-v.done:
		return link.ErrClosed
	case v.in <- msg:
		return nil
	}
}

// Close stops the simulation and closes Frames.
func (v *Vehicle) Close() error {
	v.once.Do(func() {
		close(v.done)
		v.wg.Wait()
		close(v.out)
	})
	return nil
}

func (v *Vehicle) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot{
		Time:     v.t,
		Position: [3]float64{v.x[0], v.x[1], v.x[2]},
		Velocity: [3]float64{v.x[3], v.x[4], v.x[5]},
		Roll:     v.roll,
		Pitch:    v.pitch,
		Yaw:      v.yaw,
		Armed:    v.armed,
		Mode:     v.mode,
	}
}

func (v *Vehicle) run() {
	defer v.wg.Done()
	dt := 1 / v.cfg.PhysicsRate
	ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-v.done:
			return
		case msg := <-v.in:
			v.process(msg)
		case <-ticker.C:
			v.step(dt)
		}
	}
}

// emit drops the frame when nobody is reading, like a radio would.
func (v *Vehicle) emit(msg message.Message) {
	select {
	case v.out <- link.Frame{SystemID: v.cfg.SystemID, ComponentID: v.cfg.ComponentID, Message: msg}:
	default:
	}
}

func (v *Vehicle) process(msg message.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch m := msg.(type) {
	case *common.MessageCommandLong:
		if !v.addressed(m.TargetSystem) {
			return
		}
		result := v.command(m)
		v.emit(&common.MessageCommandAck{
			Command:         m.Command,
			Result:          result,
			TargetSystem:    link.DefaultSystemID,
			TargetComponent: link.DefaultComponentID,
		})

	case *common.MessageSetPositionTargetLocalNed:
		if !v.addressed(m.TargetSystem) {
			return
		}
		v.kind = setpointPosition
		v.posTarget = [3]float64{float64(m.X), float64(m.Y), float64(m.Z)}
		v.yawTarget = float64(m.Yaw)
		v.lastSetpoint = v.t

	case *common.MessageSetAttitudeTarget:
		if !v.addressed(m.TargetSystem) {
			return
		}
		roll, pitch, yaw := vehicle.QuaternionToEuler(m.Q)
		v.kind = setpointAttitude
		v.attTarget = [4]float64{roll, pitch, yaw, float64(m.Thrust)}
		v.lastSetpoint = v.t
	}
}

func (v *Vehicle) addressed(target uint8) bool {
	return target == 0 || target == v.cfg.SystemID
}

func (v *Vehicle) command(m *common.MessageCommandLong) common.MAV_RESULT {
	ctx := context.Background()
	switch m.Command {
	case common.MAV_CMD_COMPONENT_ARM_DISARM:
		if m.Param1 == 1 {
			if !v.armed {
				v.armed = true
				v.holdPos = v.position()
				v.ctrl.Reset()
				v.log.Info(ctx, "armed")
			}
			return common.MAV_RESULT_ACCEPTED
		}
		if v.altitude() > airborneAltitude && m.Param2 != forceDisarmMagic {
			v.log.Warn(ctx, "disarm rejected in air", logging.Float("altitude", v.altitude()))
			return common.MAV_RESULT_DENIED
		}
		v.armed = false
		v.log.Info(ctx, "disarmed")
		return common.MAV_RESULT_ACCEPTED

	case common.MAV_CMD_DO_SET_MODE:
		mode := vehicle.DecodePX4Mode(vehicle.PX4CustomMode(uint8(m.Param2), uint8(m.Param3)))
		return v.setMode(mode)

	case common.MAV_CMD_SET_MESSAGE_INTERVAL:
		if uint32(m.Param1) == 32 && m.Param2 > 0 {
			v.telemetryPeriod = float64(m.Param2) / 1e6
		}
		return common.MAV_RESULT_ACCEPTED

	default:
		return common.MAV_RESULT_UNSUPPORTED
	}
}

func (v *Vehicle) setMode(mode vehicle.FlightMode) common.MAV_RESULT {
	ctx := context.Background()
	switch mode {
	case vehicle.FlightModeOffboard:
		if !v.setpointFresh() {
			v.log.Warn(ctx, "offboard rejected: no setpoint stream")
			return common.MAV_RESULT_DENIED
		}
	case vehicle.FlightModeHold, vehicle.FlightModePosctl:
		if !v.cfg.GPS {
			v.log.Warn(ctx, "mode rejected: no position estimate", logging.String("mode", string(mode)))
			return common.MAV_RESULT_DENIED
		}
		v.holdPos = v.position()
	case vehicle.FlightModeLand, vehicle.FlightModeManual:
	default:
		return common.MAV_RESULT_UNSUPPORTED
	}

	if v.mode != mode {
		v.log.Info(ctx, "mode changed", logging.String("from", string(v.mode)), logging.String("to", string(mode)))
	}
	v.mode = mode
	v.ctrl.Reset()
	return common.MAV_RESULT_ACCEPTED
}

func (v *Vehicle) setpointFresh() bool {
	return v.kind != setpointNone && v.t-v.lastSetpoint <= v.cfg.OffboardTimeout.Seconds()
}

func (v *Vehicle) position() [3]float64 {
	return [3]float64{v.x[0], v.x[1], v.x[2]}
}

func (v *Vehicle) altitude() float64 { return -v.x[2] }

func (v *Vehicle) onGround() bool { return v.x[2] >= 0 }

// step advances the simulation by dt seconds and emits any telemetry due.
func (v *Vehicle) step(dt float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.mode == vehicle.FlightModeOffboard && !v.setpointFresh() {
		fallback := vehicle.FlightModeLand
		if v.cfg.GPS {
			fallback = vehicle.FlightModeHold
		}
		v.log.Warn(context.Background(), "offboard lost", logging.String("failsafe", string(fallback)))
		v.mode = fallback
		v.holdPos = v.position()
		v.ctrl.Reset()
	}

	u := v.control()
	next := v.integ.Step(v.model, v.x, u, v.t, dt)
	if next.IsValid() {
		v.x = next
	}
	v.applyGround()
	v.t += dt

	if v.t >= v.nextHeartbeat {
		v.emit(v.heartbeat())
		v.nextHeartbeat = v.t + heartbeatPeriod
	}
	if v.t >= v.nextTelemetry {
		v.emitTelemetry()
		v.nextTelemetry = v.t + v.telemetryPeriod
	}
}

func (v *Vehicle) control() sim.Control {
	if !v.armed {
		v.roll, v.pitch = 0, 0
		return v.model.Freefall()
	}

	var target [3]float64
	switch {
	case v.mode == vehicle.FlightModeOffboard && v.kind == setpointAttitude:
		v.roll, v.pitch, v.yaw = v.attTarget[0], v.attTarget[1], v.attTarget[2]
		return v.model.AccelFromAttitude(v.roll, v.pitch, v.yaw, v.attTarget[3])
	case v.mode == vehicle.FlightModeOffboard:
		target = v.posTarget
		v.yaw = v.yawTarget
	case v.mode == vehicle.FlightModeHold || v.mode == vehicle.FlightModePosctl:
		target = v.holdPos
	case v.mode == vehicle.FlightModeLand:
		target = [3]float64{v.holdPos[0], v.holdPos[1], 0.5}
	default:
		// armed on the ground with no pilot input
		v.roll, v.pitch = 0, 0
		return v.model.AccelFromAttitude(0, 0, v.yaw, 0)
	}

	pos := v.position()
	vel := [3]float64{v.x[3], v.x[4], v.x[5]}
	accel := v.ctrl.Compute(target, pos, vel, v.t)
	v.roll, v.pitch = v.model.TiltFromAccel(accel[0], accel[1], v.yaw)
	return sim.Control{accel[0], accel[1], accel[2]}
}

func (v *Vehicle) applyGround() {
	if !v.onGround() {
		return
	}
	v.x[2] = 0
	if v.x[5] > 0 {
		v.x[5] = 0
	}
	if !v.armed {
		v.x[3], v.x[4] = 0, 0
	}
}

func (v *Vehicle) heartbeat() *common.MessageHeartbeat {
	base := common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED
	status := common.MAV_STATE_STANDBY
	if v.armed {
		base |= common.MAV_MODE_FLAG_SAFETY_ARMED
		status = common.MAV_STATE_ACTIVE
	}
	custom, _ := vehicle.EncodePX4Mode(v.mode)
	return &common.MessageHeartbeat{
		Type:           common.MAV_TYPE_QUADROTOR,
		Autopilot:      common.MAV_AUTOPILOT_PX4,
		BaseMode:       base,
		CustomMode:     custom,
		SystemStatus:   status,
		MavlinkVersion: 3,
	}
}

func (v *Vehicle) emitTelemetry() {
	bootMs := uint32(v.t * 1000)
	v.emit(&common.MessageLocalPositionNed{
		TimeBootMs: bootMs,
		X:          float32(v.x[0]),
		Y:          float32(v.x[1]),
		Z:          float32(v.x[2]),
		Vx:         float32(v.x[3]),
		Vy:         float32(v.x[4]),
		Vz:         float32(v.x[5]),
	})
	v.emit(&common.MessageAttitude{
		TimeBootMs: bootMs,
		Roll:       float32(v.roll),
		Pitch:      float32(v.pitch),
		Yaw:        float32(wrapPi(v.yaw)),
	})
}

func wrapPi(a float64) float64 {
	return math.Remainder(a, 2*math.Pi)
}
