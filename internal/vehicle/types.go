package vehicle

import (
	"fmt"
	"math"
)

// PositionNed is a position in the local North-East-Down frame, metres.
type PositionNed struct {
	NorthM float32
	EastM  float32
	DownM  float32
}

// VelocityNed is a velocity in the local NED frame, m/s.
type VelocityNed struct {
	NorthMS float32
	EastMS  float32
	DownMS  float32
}

type PositionVelocityNed struct {
	Position   PositionNed
	Velocity   VelocityNed
	TimeBootMs uint32
}

func (p PositionVelocityNed) String() string {
	return fmt.Sprintf("%.2fm North, %.2fm East, %.2fm Down",
		p.Position.NorthM, p.Position.EastM, p.Position.DownM)
}

type EulerAngle struct {
	RollDeg  float32
	PitchDeg float32
	YawDeg   float32
}

// PositionNedYaw is an offboard position setpoint.
type PositionNedYaw struct {
	NorthM float32
	EastM  float32
	DownM  float32
	YawDeg float32
}

// Attitude is an offboard attitude setpoint. ThrustValue is normalized 0..1.
type Attitude struct {
	RollDeg     float32
	PitchDeg    float32
	YawDeg      float32
	ThrustValue float32
}

type ConnectionState struct {
	IsConnected bool
}

func deg2rad(d float32) float32 { return d * math.Pi / 180 }
func rad2deg(r float32) float32 { return r * 180 / math.Pi }

// EulerToQuaternion converts ZYX Euler angles in radians to a w, x, y, z
// quaternion as used by SET_ATTITUDE_TARGET.
func EulerToQuaternion(roll, pitch, yaw float64) [4]float32 {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	return [4]float32{
		float32(cr*cp*cy + sr*sp*sy),
		float32(sr*cp*cy - cr*sp*sy),
		float32(cr*sp*cy + sr*cp*sy),
		float32(cr*cp*sy - sr*sp*cy),
	}
}

func QuaternionToEuler(q [4]float32) (roll, pitch, yaw float64) {
	w, x, y, z := float64(q[0]), float64(q[1]), float64(q[2]), float64(q[3])
	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sinp := 2 * (w*y - z*x)
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return roll, pitch, yaw
}
