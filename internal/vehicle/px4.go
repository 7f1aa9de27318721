package vehicle

// FlightMode is the PX4 flight mode decoded from the heartbeat custom mode.
type FlightMode string

const (
	FlightModeUnknown    FlightMode = "UNKNOWN"
	FlightModeManual     FlightMode = "MANUAL"
	FlightModeAltctl     FlightMode = "ALTCTL"
	FlightModePosctl     FlightMode = "POSCTL"
	FlightModeReady      FlightMode = "READY"
	FlightModeTakeoff    FlightMode = "TAKEOFF"
	FlightModeHold       FlightMode = "HOLD"
	FlightModeMission    FlightMode = "MISSION"
	FlightModeReturn     FlightMode = "RETURN"
	FlightModeLand       FlightMode = "LAND"
	FlightModeAcro       FlightMode = "ACRO"
	FlightModeOffboard   FlightMode = "OFFBOARD"
	FlightModeStabilized FlightMode = "STABILIZED"
)

// PX4 main modes.
const (
	px4Manual     = 1
	px4Altctl     = 2
	px4Posctl     = 3
	px4Auto       = 4
	px4Acro       = 5
	px4Offboard   = 6
	px4Stabilized = 7
)

// PX4 auto sub modes.
const (
	px4AutoReady   = 1
	px4AutoTakeoff = 2
	px4AutoLoiter  = 3
	px4AutoMission = 4
	px4AutoRTL     = 5
	px4AutoLand    = 6
)

// PX4CustomMode packs a main/sub mode pair the way PX4 reports it in
// HEARTBEAT.custom_mode.
func PX4CustomMode(main, sub uint8) uint32 {
	return uint32(main)<<16 | uint32(sub)<<24
}

func DecodePX4Mode(custom uint32) FlightMode {
	main := uint8(custom >> 16)
	sub := uint8(custom >> 24)

	switch main {
	case px4Manual:
		return FlightModeManual
	case px4Altctl:
		return FlightModeAltctl
	case px4Posctl:
		return FlightModePosctl
	case px4Acro:
		return FlightModeAcro
	case px4Offboard:
		return FlightModeOffboard
	case px4Stabilized:
		return FlightModeStabilized
	case px4Auto:
		switch sub {
		case px4AutoReady:
			return FlightModeReady
		case px4AutoTakeoff:
			return FlightModeTakeoff
		case px4AutoLoiter:
			return FlightModeHold
		case px4AutoMission:
			return FlightModeMission
		case px4AutoRTL:
			return FlightModeReturn
		case px4AutoLand:
			return FlightModeLand
		}
	}
	return FlightModeUnknown
}

// px4ModeFor returns the main/sub mode used to request a flight mode with
// MAV_CMD_DO_SET_MODE.
func px4ModeFor(m FlightMode) (main, sub uint8, ok bool) {
	switch m {
	case FlightModeOffboard:
		return px4Offboard, 0, true
	case FlightModeHold:
		return px4Auto, px4AutoLoiter, true
	case FlightModePosctl:
		return px4Posctl, 0, true
	case FlightModeLand:
		return px4Auto, px4AutoLand, true
	case FlightModeReturn:
		return px4Auto, px4AutoRTL, true
	case FlightModeManual:
		return px4Manual, 0, true
	}
	return 0, 0, false
}

// EncodePX4Mode returns the HEARTBEAT custom mode PX4 reports for m.
func EncodePX4Mode(m FlightMode) (uint32, bool) {
	main, sub, ok := px4ModeFor(m)
	if !ok {
		return 0, false
	}
	return PX4CustomMode(main, sub), true
}
